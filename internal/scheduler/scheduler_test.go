package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/marketmode/internal/domain"
	"github.com/sawpanic/marketmode/internal/registry"
	"github.com/sawpanic/marketmode/internal/store"
)

type fakeCollector struct {
	calls []string
	errs  map[string]error
}

func (f *fakeCollector) Collect(ctx context.Context, symbol string) (domain.Sample, error) {
	f.calls = append(f.calls, symbol)
	if err := f.errs[symbol]; err != nil {
		return domain.Sample{}, err
	}
	return domain.Sample{Symbol: symbol}, nil
}

type fakePublisher struct {
	calls []string
	mode  domain.Mode
}

func (f *fakePublisher) Vote(ctx context.Context, symbol string, window time.Duration) (domain.Decision, error) {
	f.calls = append(f.calls, symbol)
	mode := f.mode
	if mode == "" {
		mode = domain.ModeNoConsensus
	}
	return domain.Decision{Mode: mode, WindowEnd: time.Now().UTC()}, nil
}

type captureNotifier struct {
	flips []string
}

func (c *captureNotifier) NotifyModeChange(symbol string, from, to domain.Mode) {
	c.flips = append(c.flips, symbol+":"+string(from)+">"+string(to))
}

type fixture struct {
	sched     *Scheduler
	collector *fakeCollector
	publisher *fakePublisher
	config    *ConfigStore
	registry  *registry.Registry
	store     *store.Store
	clock     *time.Time
	dir       string
}

func newFixture(t *testing.T, symbols ...string) *fixture {
	t.Helper()
	dir := t.TempDir()

	reg := registry.New(dir)
	if len(symbols) > 0 {
		_, err := reg.Add(symbols)
		require.NoError(t, err)
	}

	cfg, err := NewConfigStore(dir)
	require.NoError(t, err)

	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	f := &fixture{
		collector: &fakeCollector{errs: map[string]error{}},
		publisher: &fakePublisher{},
		config:    cfg,
		registry:  reg,
		store:     store.New(dir),
		clock:     &now,
		dir:       dir,
	}
	f.sched = New(reg, f.collector, f.publisher, cfg, f.store)
	f.sched.now = func() time.Time { return *f.clock }
	f.sched.sleep = func(ctx context.Context, d time.Duration) {}
	f.sched.jitter = func(int) time.Duration { return 0 }
	return f
}

func (f *fixture) advance(d time.Duration) {
	*f.clock = f.clock.Add(d)
}

func TestTick_FirstPassCollectsAndPublishesEverything(t *testing.T) {
	f := newFixture(t, "BTCUSDT", "ETHUSDT")
	f.sched.Tick(context.Background())

	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, f.collector.calls)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, f.publisher.calls)
}

func TestTick_NotDueAgainUntilPeriodElapses(t *testing.T) {
	f := newFixture(t, "BTCUSDT")
	f.sched.Tick(context.Background())
	require.Len(t, f.collector.calls, 1)

	f.advance(10 * time.Minute) // under the 15m default
	f.sched.Tick(context.Background())
	assert.Len(t, f.collector.calls, 1, "not due yet")

	f.advance(6 * time.Minute)
	f.sched.Tick(context.Background())
	assert.Len(t, f.collector.calls, 2)
	assert.Len(t, f.publisher.calls, 1, "publish cadence is 24h")
}

func TestTick_DueCheckSurvivesRestart(t *testing.T) {
	f := newFixture(t, "BTCUSDT")
	f.sched.Tick(context.Background())
	require.Len(t, f.collector.calls, 1)

	// Simulate a process restart: rebuild the scheduler from the persisted
	// config at the same point in time.
	cfg, err := NewConfigStore(f.dir)
	require.NoError(t, err)
	restarted := New(f.registry, f.collector, f.publisher, cfg, f.store)
	restarted.now = func() time.Time { return *f.clock }
	restarted.sleep = func(ctx context.Context, d time.Duration) {}
	restarted.jitter = func(int) time.Duration { return 0 }

	f.advance(time.Minute)
	restarted.Tick(context.Background())
	assert.Len(t, f.collector.calls, 1, "restart must not re-run work that is not due")

	f.advance(15 * time.Minute)
	restarted.Tick(context.Background())
	assert.Len(t, f.collector.calls, 2)
}

func TestTick_StoppedSchedulerDoesNothing(t *testing.T) {
	f := newFixture(t, "BTCUSDT")
	require.NoError(t, f.config.SetRunning(false))

	f.sched.Tick(context.Background())
	assert.Empty(t, f.collector.calls)
	assert.Empty(t, f.publisher.calls)

	// Start applies on the next tick without rebuilding anything.
	require.NoError(t, f.config.SetRunning(true))
	f.sched.Tick(context.Background())
	assert.Len(t, f.collector.calls, 1)
}

func TestTick_DisabledSymbolIsSkipped(t *testing.T) {
	f := newFixture(t, "BTCUSDT", "ETHUSDT")
	require.NoError(t, f.registry.SetEnabled("ETHUSDT", false))

	f.sched.Tick(context.Background())
	assert.Equal(t, []string{"BTCUSDT"}, f.collector.calls)
	assert.Equal(t, []string{"BTCUSDT"}, f.publisher.calls)
}

func TestTick_FailureDoesNotBlockOtherSymbols(t *testing.T) {
	f := newFixture(t, "BTCUSDT", "ETHUSDT", "SOLUSDT")
	f.collector.errs["ETHUSDT"] = domain.ErrCollectionFailed

	f.sched.Tick(context.Background())
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}, f.collector.calls)

	// The failed symbol stays due and is retried on the next tick; the
	// others are not.
	f.advance(time.Minute)
	f.sched.Tick(context.Background())
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "ETHUSDT"}, f.collector.calls)
}

func TestTick_ModeChangeFiresNotifier(t *testing.T) {
	f := newFixture(t, "BTCUSDT")
	notifier := &captureNotifier{}
	f.sched.WithNotifier(notifier)

	f.publisher.mode = domain.ModeUp
	f.sched.Tick(context.Background())
	require.Equal(t, []string{"BTCUSDT:NO_CONSENSUS>UP"}, notifier.flips)

	// Same mode again: store still has no decision doc here, so seed one.
	_, err := f.store.Update("BTCUSDT", func(doc *store.Document) error {
		doc.Decision = &domain.Decision{Mode: domain.ModeUp}
		return nil
	})
	require.NoError(t, err)

	f.advance(25 * time.Hour)
	f.sched.Tick(context.Background())
	assert.Len(t, notifier.flips, 1, "unchanged mode must not notify")
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	f := newFixture(t)
	f.sched.WithPollInterval(5 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.sched.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler loop did not stop on cancel")
	}
}
