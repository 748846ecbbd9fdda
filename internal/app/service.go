package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sawpanic/marketmode/internal/domain"
	"github.com/sawpanic/marketmode/internal/recorder"
	"github.com/sawpanic/marketmode/internal/registry"
	"github.com/sawpanic/marketmode/internal/samplelog"
	"github.com/sawpanic/marketmode/internal/scheduler"
	"github.com/sawpanic/marketmode/internal/store"
	"github.com/sawpanic/marketmode/internal/voter"
)

// DecisionHistory reads archived decisions, newest first.
type DecisionHistory interface {
	RecentBySymbol(ctx context.Context, symbol string, limit int) ([]domain.Decision, error)
}

// Service is the single entry point for user-facing operations: the HTTP
// layer and the CLI both talk to it rather than to the components directly.
type Service struct {
	Registry  *registry.Registry
	Recorder  *recorder.Recorder
	Voter     *voter.Voter
	Samples   *samplelog.Log
	Store     *store.Store
	Scheduler *scheduler.ConfigStore
	History   DecisionHistory // optional, nil without an archive
}

// SymbolStatus is the reporting view of one symbol: registry entry plus the
// latest stored signals and decision. Unavailable marks a symbol whose state
// document exists but cannot be parsed, as opposed to one never collected.
type SymbolStatus struct {
	Symbol      string                      `json:"symbol"`
	Bias        domain.Bias                 `json:"bias"`
	Enabled     bool                        `json:"enabled"`
	Mode        domain.Mode                 `json:"mode"`
	Signals     map[string]domain.Direction `json:"signals,omitempty"`
	Decision    *domain.Decision            `json:"decision,omitempty"`
	UpdatedAt   *time.Time                  `json:"updated_at,omitempty"`
	Unavailable bool                        `json:"unavailable,omitempty"`
}

// AddSymbols registers new symbols, returning the ones actually added.
func (s *Service) AddSymbols(symbols []string) ([]string, error) {
	return s.Registry.Add(symbols)
}

// RemoveSymbols drops symbols from the registry and forgets their scheduler
// bookkeeping. Sample logs and state documents stay on disk for audit.
func (s *Service) RemoveSymbols(symbols []string) (registry.RemoveResult, error) {
	res, err := s.Registry.Remove(symbols)
	if err != nil {
		return res, err
	}
	for _, sym := range res.Removed {
		if err := s.Scheduler.Forget(sym); err != nil {
			return res, err
		}
	}
	return res, nil
}

// SetBias updates a symbol's directional bias. The next collection and vote
// use the new frame pair.
func (s *Service) SetBias(symbol, bias string) error {
	parsed, err := domain.ParseBias(bias)
	if err != nil {
		return err
	}
	return s.Registry.SetBias(symbol, parsed)
}

// SetEnabled toggles a symbol's scheduler participation.
func (s *Service) SetEnabled(symbol string, enabled bool) error {
	return s.Registry.SetEnabled(symbol, enabled)
}

// ListStatus returns the reporting view for every registered symbol.
func (s *Service) ListStatus() ([]SymbolStatus, error) {
	entries, err := s.Registry.List()
	if err != nil {
		return nil, err
	}
	out := make([]SymbolStatus, 0, len(entries))
	for _, e := range entries {
		out = append(out, s.statusFor(e))
	}
	return out, nil
}

// Status returns the reporting view for one symbol. A state document that
// exists but fails to parse surfaces as ErrStorageCorrupt rather than posing
// as a never-collected symbol.
func (s *Service) Status(symbol string) (SymbolStatus, error) {
	entry, err := s.Registry.Get(symbol)
	if err != nil {
		return SymbolStatus{}, err
	}
	st := s.statusFor(entry)
	if st.Unavailable {
		return SymbolStatus{}, fmt.Errorf("state document for %s unreadable: %w", entry.Symbol, domain.ErrStorageCorrupt)
	}
	return st, nil
}

func (s *Service) statusFor(e registry.Entry) SymbolStatus {
	st := SymbolStatus{
		Symbol:  e.Symbol,
		Bias:    e.Bias,
		Enabled: e.Enabled,
		Mode:    domain.ModeNoConsensus,
	}
	doc, err := s.Store.Read(e.Symbol)
	if err != nil {
		// Corrupt is reported unavailable; a missing document just means
		// no collection has run yet.
		st.Unavailable = errors.Is(err, domain.ErrStorageCorrupt)
		return st
	}
	st.Mode = doc.Mode()
	st.Signals = doc.Signals
	st.Decision = doc.Decision
	st.UpdatedAt = &doc.UpdatedAt
	return st
}

// DecisionHistory returns archived decisions for a symbol, newest first.
// Without a configured archive the history is reported not found.
func (s *Service) DecisionHistory(ctx context.Context, symbol string, limit int) ([]domain.Decision, error) {
	entry, err := s.Registry.Get(symbol)
	if err != nil {
		return nil, err
	}
	if s.History == nil {
		return nil, fmt.Errorf("decision archive not configured: %w", domain.ErrNotFound)
	}
	return s.History.RecentBySymbol(ctx, entry.Symbol, limit)
}

// CollectNow runs one collection cycle immediately, outside the schedule.
func (s *Service) CollectNow(ctx context.Context, symbol string) (domain.Sample, error) {
	return s.Recorder.Collect(ctx, symbol)
}

// VoteNow runs one voting pass immediately over the trailing publish window.
func (s *Service) VoteNow(ctx context.Context, symbol string) (domain.Decision, error) {
	window := s.Scheduler.Get().PublishPeriod()
	return s.Voter.Vote(ctx, symbol, window)
}

// TrimSamples is the explicit retention operation for a symbol's current-pair
// sample log.
func (s *Service) TrimSamples(symbol string, keepAfter time.Time) (int, error) {
	entry, err := s.Registry.Get(symbol)
	if err != nil {
		return 0, err
	}
	return s.Samples.Trim(entry.Symbol, domain.PairForBias(entry.Bias), keepAfter)
}

// SchedulerControl applies one named scheduler action. Value is ignored for
// start/stop.
func (s *Service) SchedulerControl(action string, value int) error {
	switch action {
	case "start":
		return s.Scheduler.SetRunning(true)
	case "stop":
		return s.Scheduler.SetRunning(false)
	case "collection_period":
		return s.Scheduler.SetCollectionPeriodSec(value)
	case "publish_period":
		return s.Scheduler.SetPublishPeriodHours(value)
	case "jitter":
		return s.Scheduler.SetJitterSec(value)
	default:
		return fmt.Errorf("unknown scheduler action %q: %w", action, domain.ErrNotFound)
	}
}

// SchedulerConfig returns the current scheduler document.
func (s *Service) SchedulerConfig() scheduler.Config {
	return s.Scheduler.Get()
}
