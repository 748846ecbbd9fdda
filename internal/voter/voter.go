package voter

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/marketmode/internal/domain"
	"github.com/sawpanic/marketmode/internal/registry"
	"github.com/sawpanic/marketmode/internal/samplelog"
	"github.com/sawpanic/marketmode/internal/store"
)

// consensusThreshold is the strict share of samples a direction must exceed
// to win a vote. Exactly this share is not enough.
const consensusThreshold = 0.60

// DecisionArchiver persists published decisions to long-term storage.
// Archiving is best-effort; failures never affect the published decision.
type DecisionArchiver interface {
	Insert(ctx context.Context, symbol string, pair domain.FramePair, d domain.Decision) error
}

// Voter turns a window of classification samples into one published mode
// decision per symbol.
type Voter struct {
	registry *registry.Registry
	samples  *samplelog.Log
	store    *store.Store
	archive  DecisionArchiver // optional
	now      func() time.Time
}

func New(reg *registry.Registry, samples *samplelog.Log, st *store.Store) *Voter {
	return &Voter{registry: reg, samples: samples, store: st, now: time.Now}
}

// WithArchive enables best-effort archiving of published decisions.
func (v *Voter) WithArchive(a DecisionArchiver) *Voter {
	v.archive = a
	return v
}

// Decide tallies the samples of one window into a decision. It is a pure
// function of its inputs: the same samples and bounds always produce the
// same decision. Ties, empty windows, and sub-threshold majorities all
// resolve to NO_CONSENSUS.
func Decide(samples []domain.Sample, start, end time.Time) domain.Decision {
	tally := map[domain.Direction]int{
		domain.DirectionUp:    0,
		domain.DirectionDown:  0,
		domain.DirectionRange: 0,
	}
	for _, s := range samples {
		tally[s.Combined]++
	}

	d := domain.Decision{
		WindowStart: start.UTC(),
		WindowEnd:   end.UTC(),
		Tally:       tally,
		Mode:        domain.ModeNoConsensus,
		SampleCount: len(samples),
	}
	if d.SampleCount == 0 {
		return d
	}

	var winner domain.Direction
	best, tied := 0, false
	for _, dir := range []domain.Direction{domain.DirectionUp, domain.DirectionDown, domain.DirectionRange} {
		switch n := tally[dir]; {
		case n > best:
			winner, best, tied = dir, n, false
		case n == best && n > 0:
			tied = true
		}
	}

	if tied {
		return d
	}
	if float64(best)/float64(d.SampleCount) <= consensusThreshold {
		return d
	}
	d.Mode = domain.Mode(winner)
	return d
}

// Vote runs one voting pass for a symbol over the trailing window ending
// now. Only the log of the symbol's current bias pair is read; after a bias
// switch, history from the other pair never leaks into the vote. The
// decision is persisted to the state document and, when an archive is
// configured, recorded there best-effort.
func (v *Voter) Vote(ctx context.Context, symbol string, window time.Duration) (domain.Decision, error) {
	entry, err := v.registry.Get(symbol)
	if err != nil {
		return domain.Decision{}, err
	}

	pair := domain.PairForBias(entry.Bias)
	end := v.now().UTC()
	start := end.Add(-window)

	samples, err := v.samples.ReadWindow(entry.Symbol, pair, start)
	if err != nil {
		return domain.Decision{}, err
	}

	decision := Decide(samples, start, end)

	if _, err := v.store.Update(entry.Symbol, func(doc *store.Document) error {
		doc.Bias = entry.Bias
		doc.Decision = &decision
		return nil
	}); err != nil {
		return domain.Decision{}, err
	}

	if v.archive != nil {
		if err := v.archive.Insert(ctx, entry.Symbol, pair, decision); err != nil {
			log.Warn().Err(err).Str("symbol", entry.Symbol).Msg("decision archive write failed")
		}
	}

	log.Info().
		Str("symbol", entry.Symbol).
		Str("pair", string(pair)).
		Str("mode", string(decision.Mode)).
		Int("samples", decision.SampleCount).
		Msg("mode decision published")
	return decision, nil
}
