package cmd

import (
	"github.com/spf13/cobra"

	"tlifarm/internal/config"
)

// NewRootCmd creates the root cobra command with all subcommands.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "tlifarm",
		Short:        "Farming session tracker for Torchlight: Infinite",
		Long:         "tlifarm follows the game log, counts item pickups and completed maps, and values the loot with cached market prices.",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.tlifarm/config.yaml)")
	rootCmd.PersistentFlags().Bool("debug", false, "Log parser and session traces")

	rootCmd.AddCommand(
		newWatchCmd(),
		newParseCmd(),
		newPricesCmd(),
		newHistoryCmd(),
		newStatusCmd(),
		newVersionCmd(),
	)

	return rootCmd
}

// loadConfig reads the config named by --config, or the default one, and
// applies --debug.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	var cfg *config.Config
	var err error
	if path != "" {
		cfg, err = config.LoadWithEnv(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		cfg.Debug = true
	}
	return cfg, nil
}
