package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"tlifarm/internal/app"
	"tlifarm/internal/session"
)

func newWatchCmd() *cobra.Command {
	var logPath string
	var relayAddr string
	var preset string
	var noSession bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the game log and track a farming session",
		Long: `Follow the game log from its current end and track a farming session.

A session starts once the log is open unless --no-session is given. A
progress line is printed after every completed map. Interrupt with Ctrl-C to
end the session and print the final report.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if relayAddr != "" {
				cfg.Relay.Addr = relayAddr
			}

			p := newPrinter(cmd.OutOrStdout())
			var a *app.App
			started := func(path string) {
				fmt.Fprintf(p.w, "Following %s\n", path)
				if noSession {
					return
				}
				fs, err := a.StartSession(preset)
				if err != nil {
					fmt.Fprintf(p.w, "start session: %v\n", err)
					return
				}
				fmt.Fprintf(p.w, "Session %s started.\n", fs.ID)
			}
			a, err = app.New(cfg, app.WithMapCompleted(p.statsLine), app.WithTailStarted(started))
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			runErr := a.Run(ctx, logPath)
			endAndReport(a, p)
			return logPathError(runErr)
		},
	}

	cmd.Flags().StringVar(&logPath, "log", "", "Game log to follow (overrides log_path)")
	cmd.Flags().StringVar(&relayAddr, "relay", "", "Serve the live relay on this loopback address")
	cmd.Flags().StringVar(&preset, "preset", "", "Preset id recorded with the session")
	cmd.Flags().BoolVar(&noSession, "no-session", false, "Do not start a session")

	return cmd
}

// endAndReport ends a running session and prints its summary.
func endAndReport(a *app.App, p *printer) {
	sum, err := a.EndSession(context.Background())
	if errors.Is(err, session.ErrNoActiveSession) {
		return
	}
	if err != nil {
		fmt.Fprintf(p.w, "end session: %v\n", err)
		return
	}
	fmt.Fprintln(p.w, center(" session ended ", min(p.width, 60)))
	p.stats(sum.Stats)
	p.drops(sum.Drops)
}
