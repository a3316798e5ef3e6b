package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"tlifarm/internal/version"
)

func newVersionCmd() *cobra.Command {
	var short bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the tlifarm version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if short {
				fmt.Fprintln(cmd.OutOrStdout(), version.DisplayVersion())
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), version.Long())
			return nil
		},
	}
	cmd.Flags().BoolVar(&short, "short", false, "Print only the version")
	return cmd
}
