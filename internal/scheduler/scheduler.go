package scheduler

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/marketmode/internal/domain"
	"github.com/sawpanic/marketmode/internal/metrics"
	"github.com/sawpanic/marketmode/internal/registry"
	"github.com/sawpanic/marketmode/internal/store"
)

// Collector runs one collection cycle for a symbol.
type Collector interface {
	Collect(ctx context.Context, symbol string) (domain.Sample, error)
}

// Publisher runs one voting pass for a symbol over the trailing window.
type Publisher interface {
	Vote(ctx context.Context, symbol string, window time.Duration) (domain.Decision, error)
}

// ChangeNotifier is told when a published vote flips a symbol's mode.
type ChangeNotifier interface {
	NotifyModeChange(symbol string, from, to domain.Mode)
}

// LogNotifier is the default notifier: mode flips land in the structured log.
type LogNotifier struct{}

func (LogNotifier) NotifyModeChange(symbol string, from, to domain.Mode) {
	log.Info().
		Str("symbol", symbol).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("market mode changed")
}

// Scheduler drives collection and publication on a single cooperative loop.
// One pass never runs concurrently with the next; a symbol failure is logged
// and the pass continues with the remaining symbols.
type Scheduler struct {
	registry  *registry.Registry
	collector Collector
	publisher Publisher
	config    *ConfigStore
	store     *store.Store
	notifier  ChangeNotifier
	metrics   *metrics.Registry // optional

	pollInterval time.Duration
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration)
	jitter       func(maxSec int) time.Duration
}

func New(reg *registry.Registry, c Collector, p Publisher, cfg *ConfigStore, st *store.Store) *Scheduler {
	return &Scheduler{
		registry:     reg,
		collector:    c,
		publisher:    p,
		config:       cfg,
		store:        st,
		notifier:     LogNotifier{},
		pollInterval: 30 * time.Second,
		now:          time.Now,
		sleep:        sleepCtx,
		jitter: func(maxSec int) time.Duration {
			if maxSec <= 0 {
				return 0
			}
			return time.Duration(rand.Int63n(int64(maxSec)*int64(time.Second) + 1))
		},
	}
}

// WithNotifier replaces the default log-only mode-change notifier.
func (s *Scheduler) WithNotifier(n ChangeNotifier) *Scheduler {
	if n != nil {
		s.notifier = n
	}
	return s
}

// WithMetrics enables scheduler instrumentation.
func (s *Scheduler) WithMetrics(m *metrics.Registry) *Scheduler {
	s.metrics = m
	return s
}

// WithPollInterval overrides how often the loop re-checks due work.
func (s *Scheduler) WithPollInterval(d time.Duration) *Scheduler {
	if d > 0 {
		s.pollInterval = d
	}
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Run polls until the context is cancelled. Stopping via config takes effect
// on the next tick; the loop keeps polling so a later start is picked up
// without restarting the process.
func (s *Scheduler) Run(ctx context.Context) {
	log.Info().Dur("poll", s.pollInterval).Msg("scheduler loop started")
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		s.Tick(ctx)
		select {
		case <-ctx.Done():
			log.Info().Msg("scheduler loop stopped")
			return
		case <-ticker.C:
		}
	}
}

// Tick runs one pass: collect every due symbol, then publish every due
// symbol. Exported so operators can force a pass and tests can drive the
// loop deterministically.
func (s *Scheduler) Tick(ctx context.Context) {
	if s.metrics != nil {
		s.metrics.SchedulerTicks.Inc()
	}

	cfg := s.config.Get()
	if !cfg.Running {
		return
	}

	entries, err := s.registry.List()
	if err != nil {
		log.Error().Err(err).Msg("scheduler cannot read symbol registry")
		return
	}

	for _, e := range entries {
		if ctx.Err() != nil {
			return
		}
		if !e.Enabled {
			continue
		}
		s.maybeCollect(ctx, cfg, e.Symbol)
		s.maybePublish(ctx, cfg, e.Symbol)
	}
}

func due(last time.Time, period time.Duration, now time.Time) bool {
	if last.IsZero() {
		return true
	}
	return now.Sub(last) >= period
}

func (s *Scheduler) maybeCollect(ctx context.Context, cfg Config, symbol string) {
	now := s.now().UTC()
	if !due(cfg.LastCollectUTC[symbol], cfg.CollectionPeriod(), now) {
		return
	}

	// Fresh jitter per symbol per cycle staggers upstream requests.
	s.sleep(ctx, s.jitter(cfg.JitterSec))
	if ctx.Err() != nil {
		return
	}

	started := s.now()
	_, err := s.collector.Collect(ctx, symbol)
	if s.metrics != nil {
		s.metrics.CollectionDuration.Observe(s.now().Sub(started).Seconds())
	}
	if err != nil {
		if s.metrics != nil {
			s.metrics.CollectionsTotal.WithLabelValues(symbol, "error").Inc()
		}
		log.Warn().Err(err).Str("symbol", symbol).Msg("scheduled collection failed")
		return
	}
	if s.metrics != nil {
		s.metrics.CollectionsTotal.WithLabelValues(symbol, "ok").Inc()
	}
	if err := s.config.MarkCollected(symbol, s.now()); err != nil {
		log.Error().Err(err).Str("symbol", symbol).Msg("failed to persist collection timestamp")
	}
}

func (s *Scheduler) maybePublish(ctx context.Context, cfg Config, symbol string) {
	now := s.now().UTC()
	if !due(cfg.LastPublishUTC[symbol], cfg.PublishPeriod(), now) {
		return
	}

	var previous domain.Mode = domain.ModeNoConsensus
	if doc, err := s.store.Read(symbol); err == nil {
		previous = doc.Mode()
	}

	decision, err := s.publisher.Vote(ctx, symbol, cfg.PublishPeriod())
	if err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("scheduled vote failed")
		return
	}

	if s.metrics != nil {
		s.metrics.VotesTotal.WithLabelValues(symbol, string(decision.Mode)).Inc()
		s.metrics.SetMode(symbol, decision.Mode)
	}
	if decision.Mode != previous {
		if s.metrics != nil {
			s.metrics.ModeChangesTotal.Inc()
		}
		s.notifier.NotifyModeChange(symbol, previous, decision.Mode)
	}
	if err := s.config.MarkPublished(symbol, s.now()); err != nil {
		log.Error().Err(err).Str("symbol", symbol).Msg("failed to persist publish timestamp")
	}
}
