package recorder

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/marketmode/internal/domain"
	"github.com/sawpanic/marketmode/internal/market"
	"github.com/sawpanic/marketmode/internal/registry"
	"github.com/sawpanic/marketmode/internal/samplelog"
	"github.com/sawpanic/marketmode/internal/store"
)

// Recorder runs one collection cycle per symbol: fetch indicator snapshots
// for the bias-selected frame pair, classify them, append exactly one sample
// to the pair's log, and refresh the state document.
type Recorder struct {
	registry *registry.Registry
	source   market.SnapshotSource
	samples  *samplelog.Log
	store    *store.Store
	timeout  time.Duration
	now      func() time.Time
}

func New(reg *registry.Registry, src market.SnapshotSource, samples *samplelog.Log, st *store.Store, timeout time.Duration) *Recorder {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Recorder{
		registry: reg,
		source:   src,
		samples:  samples,
		store:    st,
		timeout:  timeout,
		now:      time.Now,
	}
}

// Collect runs one cycle for a symbol. The symbol's bias is re-read so a
// bias change between cycles switches the frame pair on the very next call.
// If any timeframe fails to fetch, nothing is appended and nothing is stored.
func (r *Recorder) Collect(ctx context.Context, symbol string) (domain.Sample, error) {
	entry, err := r.registry.Get(symbol)
	if err != nil {
		return domain.Sample{}, err
	}

	pair := domain.PairForBias(entry.Bias)
	frames := pair.Timeframes()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	snapshots := make(map[string]domain.IndicatorSnapshot, len(frames))
	signals := make(map[string]domain.Direction, len(frames))
	for _, tf := range frames {
		snap, err := r.source.FetchIndicatorSnapshot(ctx, entry.Symbol, tf)
		if err != nil {
			log.Warn().Err(err).
				Str("symbol", entry.Symbol).
				Str("timeframe", tf).
				Msg("collection cycle aborted")
			return domain.Sample{}, fmt.Errorf("collect %s %s: %w", entry.Symbol, tf, err)
		}
		snapshots[tf] = snap
		signals[tf] = domain.Classify(snap)
	}

	sample := domain.Sample{
		Timestamp: r.now().UTC(),
		Symbol:    entry.Symbol,
		Pair:      pair,
		Signals:   signals,
		Combined:  domain.Combine(signals),
	}
	if err := r.samples.Append(sample); err != nil {
		return domain.Sample{}, err
	}

	if _, err := r.store.Update(entry.Symbol, func(doc *store.Document) error {
		doc.Bias = entry.Bias
		doc.Indicators = snapshots
		doc.Signals = signals
		return nil
	}); err != nil {
		return domain.Sample{}, err
	}

	log.Info().
		Str("symbol", entry.Symbol).
		Str("pair", string(pair)).
		Str("combined", string(sample.Combined)).
		Msg("sample recorded")
	return sample, nil
}
