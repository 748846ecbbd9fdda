package main

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/marketmode/internal/app"
	"github.com/sawpanic/marketmode/internal/config"
	"github.com/sawpanic/marketmode/internal/market"
	"github.com/sawpanic/marketmode/internal/persistence/postgres"
	"github.com/sawpanic/marketmode/internal/recorder"
	"github.com/sawpanic/marketmode/internal/registry"
	"github.com/sawpanic/marketmode/internal/samplelog"
	"github.com/sawpanic/marketmode/internal/scheduler"
	"github.com/sawpanic/marketmode/internal/store"
	"github.com/sawpanic/marketmode/internal/voter"
)

// buildService assembles the component graph from the loaded configuration.
// The returned cleanup closes external connections and is safe to call once.
func buildService(ctx context.Context, cfg config.Config) (*app.Service, func(), error) {
	reg := registry.New(cfg.Storage.Dir)
	samples := samplelog.New(cfg.Storage.Dir)
	st := store.New(cfg.Storage.Dir)

	schedCfg, err := scheduler.NewConfigStore(cfg.Storage.Dir)
	if err != nil {
		return nil, nil, err
	}

	var src market.SnapshotSource = market.NewClient(market.ClientConfig{
		BaseURL:        cfg.Market.BaseURL,
		RequestTimeout: cfg.Market.RequestTimeout,
		KlineLimit:     cfg.Market.KlineLimit,
		RateRPS:        cfg.Market.RateRPS,
		RateBurst:      cfg.Market.RateBurst,
	})

	var cleanups []func()
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		src = market.NewCachedSource(src, rdb, cfg.Redis.TTL)
		cleanups = append(cleanups, func() { rdb.Close() })
		log.Info().Str("addr", cfg.Redis.Addr).Msg("snapshot cache enabled")
	}

	v := voter.New(reg, samples, st)
	var history app.DecisionHistory
	if cfg.Postgres.DSN != "" {
		db, err := postgres.Open(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, nil, err
		}
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			db.Close()
			return nil, nil, err
		}
		repo := postgres.NewDecisionRepo(db, 5*time.Second)
		v.WithArchive(repo)
		history = repo
		cleanups = append(cleanups, func() { db.Close() })
		log.Info().Msg("decision archive enabled")
	}

	svc := &app.Service{
		Registry:  reg,
		Recorder:  recorder.New(reg, src, samples, st, cfg.Scheduler.CollectTimeout),
		Voter:     v,
		Samples:   samples,
		Store:     st,
		Scheduler: schedCfg,
		History:   history,
	}
	cleanup := func() {
		for _, fn := range cleanups {
			fn()
		}
	}
	return svc, cleanup, nil
}
