package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/marketmode/internal/api"
	"github.com/sawpanic/marketmode/internal/metrics"
	"github.com/sawpanic/marketmode/internal/scheduler"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler loop and the HTTP control surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			svc, cleanup, err := buildService(ctx, cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			promReg := prometheus.NewRegistry()
			m := metrics.New(promReg)

			sched := scheduler.New(svc.Registry, svc.Recorder, svc.Voter, svc.Scheduler, svc.Store).
				WithMetrics(m).
				WithPollInterval(cfg.Scheduler.PollInterval)

			done := make(chan struct{})
			go func() {
				sched.Run(ctx)
				close(done)
			}()

			srv := api.NewServer(svc, cfg.HTTP.Addr, promReg)
			err = srv.ListenAndServe(ctx)

			<-done
			log.Info().Msg("shutdown complete")
			return err
		},
	}
}
