package cmd

import (
	"errors"
	"fmt"

	"tlifarm/internal/app"
	"tlifarm/internal/config"
)

// logPathError explains how to point tlifarm at the game log.
func logPathError(err error) error {
	if errors.Is(err, app.ErrLogPathNeeded) {
		return fmt.Errorf("no game log configured\n\nPass one with: tlifarm watch --log <path>\nor set log_path in %s/config.yaml or %s", config.ConfigDir(), config.EnvLogPath)
	}
	return err
}
