package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"tlifarm/internal/app"
)

func newParseCmd() *cobra.Command {
	var fromJournal bool

	cmd := &cobra.Command{
		Use:   "parse FILE",
		Short: "Replay a whole game log offline and report the session",
		Long: `Replay a whole game log, or with --journal an event journal, through the
parser and a session spanning the recorded timestamps. With --journal, FILE
may be the journal directory, in which case every journal in it is replayed.
Prices learned during the replay are not saved.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := app.New(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			var sum app.ReplaySummary
			if fromJournal {
				sum, err = a.ReplayJournal(args[0])
			} else {
				sum, err = a.ReplayLogFile(args[0])
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if fromJournal {
				fmt.Fprintf(out, "Replayed %d events.\n", sum.Events)
			} else {
				fmt.Fprintf(out, "Replayed %d lines, %d events.\n", sum.Lines, sum.Events)
			}
			p := newPrinter(out)
			p.stats(sum.Stats)
			p.drops(sum.Drops)
			return nil
		},
	}

	cmd.Flags().BoolVar(&fromJournal, "journal", false, "FILE is an event journal (.jsonl or .jsonl.zst) or a journal directory")
	return cmd
}
