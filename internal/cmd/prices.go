package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"tlifarm/internal/app"
)

func newPricesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prices",
		Short: "Inspect and edit the price cache",
	}
	cmd.AddCommand(newPricesListCmd(), newPricesSetCmd(), newPricesImportCmd())
	return cmd
}

// openApp loads the config and builds the App for one-shot commands.
func openApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return app.New(cfg)
}

func newPricesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cached prices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			newPrinter(cmd.OutOrStdout()).prices(a.Prices(), a.Aggregator().Items(), time.Now())
			return nil
		},
	}
}

func newPricesSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set ITEM_ID PRICE",
		Short: "Set the price of an item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid item id %q", args[0])
			}
			price, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("invalid price %q", args[1])
			}
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			e, err := a.UpdatePrice(id, price)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d = %g\n", id, e.Price)
			return nil
		},
	}
}

func newPricesImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Merge prices from a JSON file of {item_id, price, updated_at} samples",
		Long: `Merge prices from a JSON array of {item_id, price, updated_at} samples.
A sample replaces a cached price only when it is newer.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			n, err := a.ImportPricesFile(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d prices.\n", n)
			return nil
		},
	}
}
