package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newSymbolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "symbols",
		Short: "Manage the tracked symbol registry",
	}
	cmd.AddCommand(
		newSymbolsListCmd(),
		newSymbolsAddCmd(),
		newSymbolsRemoveCmd(),
		newSymbolsBiasCmd(),
		newSymbolsEnableCmd(),
		newSymbolsTrimCmd(),
	)
	return cmd
}

func newSymbolsListCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tracked symbols with their current mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			svc, cleanup, err := buildService(context.Background(), cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			statuses, err := svc.ListStatus()
			if err != nil {
				return err
			}
			if asJSON {
				return json.NewEncoder(os.Stdout).Encode(statuses)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SYMBOL\tBIAS\tENABLED\tMODE")
			for _, s := range statuses {
				fmt.Fprintf(w, "%s\t%s\t%v\t%s\n", s.Symbol, s.Bias, s.Enabled, s.Mode)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit JSON instead of a table")
	return cmd
}

func newSymbolsAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add SYMBOL...",
		Short: "Register symbols (bias LONG, enabled)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			svc, cleanup, err := buildService(context.Background(), cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			added, err := svc.AddSymbols(args)
			if err != nil {
				return err
			}
			fmt.Printf("added %d symbol(s)\n", len(added))
			return nil
		},
	}
}

func newSymbolsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove SYMBOL...",
		Short: "Remove symbols from the registry",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			svc, cleanup, err := buildService(context.Background(), cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := svc.RemoveSymbols(args)
			if err != nil {
				return err
			}
			fmt.Printf("removed: %v", res.Removed)
			if len(res.Missing) > 0 {
				fmt.Printf("  (not tracked: %v)", res.Missing)
			}
			fmt.Println()
			return nil
		},
	}
}

func newSymbolsBiasCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bias SYMBOL LONG|SHORT",
		Short: "Set a symbol's directional bias",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			svc, cleanup, err := buildService(context.Background(), cfg)
			if err != nil {
				return err
			}
			defer cleanup()
			return svc.SetBias(args[0], args[1])
		},
	}
}

func newSymbolsTrimCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trim SYMBOL HOURS",
		Short: "Drop samples older than HOURS from the symbol's current-pair log",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			hours, err := strconv.Atoi(args[1])
			if err != nil || hours <= 0 {
				return fmt.Errorf("HOURS must be a positive integer")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			svc, cleanup, err := buildService(context.Background(), cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			dropped, err := svc.TrimSamples(args[0], time.Now().UTC().Add(-time.Duration(hours)*time.Hour))
			if err != nil {
				return err
			}
			fmt.Printf("dropped %d sample(s)\n", dropped)
			return nil
		},
	}
}

func newSymbolsEnableCmd() *cobra.Command {
	var disable bool
	cmd := &cobra.Command{
		Use:   "enable SYMBOL",
		Short: "Enable or disable a symbol for scheduling",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			svc, cleanup, err := buildService(context.Background(), cfg)
			if err != nil {
				return err
			}
			defer cleanup()
			return svc.SetEnabled(args[0], !disable)
		},
	}
	cmd.Flags().BoolVar(&disable, "off", false, "disable instead of enable")
	return cmd
}
