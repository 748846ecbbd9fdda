package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

func newCollectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "collect SYMBOL",
		Short: "Run one collection cycle for a symbol now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			svc, cleanup, err := buildService(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			sample, err := svc.CollectNow(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return json.NewEncoder(os.Stdout).Encode(sample)
		},
	}
}

func newVoteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vote SYMBOL",
		Short: "Run one voting pass for a symbol now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			svc, cleanup, err := buildService(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			decision, err := svc.VoteNow(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return json.NewEncoder(os.Stdout).Encode(decision)
		},
	}
}

func newSchedulerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Inspect and control the scheduler configuration",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the persisted scheduler configuration",
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
			return json.NewEncoder(os.Stdout).Encode(svc.SchedulerConfig())
		},
	}

	start := &cobra.Command{
		Use:   "start",
		Short: "Start the scheduler (effective on its next tick)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return applySchedulerAction("start", 0)
		},
	}
	stop := &cobra.Command{
		Use:   "stop",
		Short: "Stop the scheduler (effective on its next tick)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return applySchedulerAction("stop", 0)
		},
	}

	set := &cobra.Command{
		Use:   "set collection_period|publish_period|jitter VALUE",
		Short: "Update one cadence setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("value must be an integer: %w", err)
			}
			return applySchedulerAction(args[0], value)
		},
	}

	cmd.AddCommand(show, start, stop, set)
	return cmd
}

func applySchedulerAction(action string, value int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	svc, cleanup, err := buildService(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer cleanup()
	if err := svc.SchedulerControl(action, value); err != nil {
		return err
	}
	return json.NewEncoder(os.Stdout).Encode(svc.SchedulerConfig())
}
