package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"tlifarm/internal/session"
)

func newStatusCmd() *cobra.Command {
	var addr string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the statistics of a running watch",
		Long: `Query a running "tlifarm watch" through its relay and print the session
statistics. The relay must be enabled (relay.addr or watch --relay).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				cfg, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				addr = cfg.Relay.Addr
			}
			if addr == "" {
				return fmt.Errorf("no relay address\n\nPass one with --addr or set relay.addr")
			}

			st, err := fetchStats(addr)
			if err != nil {
				return err
			}
			if asJSON {
				data, err := json.MarshalIndent(st, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}
			newPrinter(cmd.OutOrStdout()).stats(st)
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Relay address of the running watch (default relay.addr)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print raw JSON")

	return cmd
}

func fetchStats(addr string) (session.SessionStats, error) {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + addr + "/stats")
	if err != nil {
		return session.SessionStats{}, fmt.Errorf("cannot reach a running watch at %s: %w", addr, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return session.SessionStats{}, fmt.Errorf("relay at %s: %s", addr, resp.Status)
	}
	var st session.SessionStats
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return session.SessionStats{}, fmt.Errorf("decode stats: %w", err)
	}
	return st, nil
}
