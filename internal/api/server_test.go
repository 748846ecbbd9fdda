package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/marketmode/internal/app"
	"github.com/sawpanic/marketmode/internal/domain"
	"github.com/sawpanic/marketmode/internal/recorder"
	"github.com/sawpanic/marketmode/internal/registry"
	"github.com/sawpanic/marketmode/internal/samplelog"
	"github.com/sawpanic/marketmode/internal/scheduler"
	"github.com/sawpanic/marketmode/internal/store"
	"github.com/sawpanic/marketmode/internal/voter"
)

type staticSource struct {
	err error
}

func (s *staticSource) FetchIndicatorSnapshot(ctx context.Context, symbol, timeframe string) (domain.IndicatorSnapshot, error) {
	if s.err != nil {
		return domain.IndicatorSnapshot{}, s.err
	}
	return domain.IndicatorSnapshot{
		Symbol:    symbol,
		Timeframe: timeframe,
		LastClose: 110,
		SMA30:     100,
		FetchedAt: time.Now().UTC(),
	}, nil
}

func newTestServer(t *testing.T, src *staticSource) (*Server, *app.Service, string) {
	t.Helper()
	dir := t.TempDir()

	reg := registry.New(dir)
	samples := samplelog.New(dir)
	st := store.New(dir)
	cfg, err := scheduler.NewConfigStore(dir)
	require.NoError(t, err)

	svc := &app.Service{
		Registry:  reg,
		Recorder:  recorder.New(reg, src, samples, st, time.Second),
		Voter:     voter.New(reg, samples, st),
		Samples:   samples,
		Store:     st,
		Scheduler: cfg,
	}
	return NewServer(svc, "127.0.0.1:0", prometheus.NewRegistry()), svc, dir
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndRequestID(t *testing.T) {
	srv, _, _ := newTestServer(t, &staticSource{})
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestSymbolLifecycle(t *testing.T) {
	srv, _, _ := newTestServer(t, &staticSource{})
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/symbols", `{"symbols":["btcusdt","ethusdt"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var added map[string][]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &added))
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, added["added"])

	rec = doJSON(t, h, http.MethodGet, "/symbols", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var statuses []app.SymbolStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &statuses))
	require.Len(t, statuses, 2)
	assert.Equal(t, domain.ModeNoConsensus, statuses[0].Mode, "no vote yet")

	rec = doJSON(t, h, http.MethodDelete, "/symbols", `{"symbols":["ETHUSDT","NOPE"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var removed registry.RemoveResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &removed))
	assert.Equal(t, []string{"ETHUSDT"}, removed.Removed)
	assert.Equal(t, []string{"NOPE"}, removed.Missing)
}

func TestSetBias(t *testing.T) {
	srv, _, _ := newTestServer(t, &staticSource{})
	h := srv.Handler()
	doJSON(t, h, http.MethodPost, "/symbols", `{"symbols":["BTCUSDT"]}`)

	rec := doJSON(t, h, http.MethodPost, "/symbols/BTCUSDT/bias", `{"bias":"short"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/symbols/BTCUSDT/bias", `{"bias":"SIDEWAYS"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/symbols/NOPE/bias", `{"bias":"LONG"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCollectAndVote(t *testing.T) {
	srv, _, _ := newTestServer(t, &staticSource{})
	h := srv.Handler()
	doJSON(t, h, http.MethodPost, "/symbols", `{"symbols":["BTCUSDT"]}`)

	rec := doJSON(t, h, http.MethodPost, "/symbols/BTCUSDT/collect", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var sample domain.Sample
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sample))
	assert.Equal(t, domain.DirectionUp, sample.Combined)

	rec = doJSON(t, h, http.MethodPost, "/symbols/BTCUSDT/vote", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var decision domain.Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decision))
	assert.Equal(t, domain.ModeUp, decision.Mode, "single UP sample is unanimous")

	rec = doJSON(t, h, http.MethodGet, "/symbols/BTCUSDT", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status app.SymbolStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, domain.ModeUp, status.Mode)
}

func TestCollectUpstreamFailureIsBadGateway(t *testing.T) {
	srv, _, _ := newTestServer(t, &staticSource{err: domain.ErrCollectionFailed})
	h := srv.Handler()
	doJSON(t, h, http.MethodPost, "/symbols", `{"symbols":["BTCUSDT"]}`)

	rec := doJSON(t, h, http.MethodPost, "/symbols/BTCUSDT/collect", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestSchedulerEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(t, &staticSource{})
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/scheduler/collection_period", `{"value":3600}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var cfg scheduler.Config
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cfg))
	assert.Equal(t, 3600, cfg.CollectionPeriodSec)

	rec = doJSON(t, h, http.MethodPost, "/scheduler/collection_period", `{"value":10}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "below the floor")

	rec = doJSON(t, h, http.MethodPost, "/scheduler/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, h, http.MethodGet, "/scheduler", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cfg))
	assert.False(t, cfg.Running)

	rec = doJSON(t, h, http.MethodPost, "/scheduler/explode", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t, &staticSource{})
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCorruptStateDocument(t *testing.T) {
	srv, _, dir := newTestServer(t, &staticSource{})
	h := srv.Handler()
	doJSON(t, h, http.MethodPost, "/symbols", `{"symbols":["BTCUSDT","ETHUSDT"]}`)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "BTCUSDT_state.json"), []byte("{{"), 0644))

	rec := doJSON(t, h, http.MethodGet, "/symbols/BTCUSDT", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code, "unreadable state must not report as healthy")

	// The listing keeps serving the healthy symbol and flags the broken one.
	rec = doJSON(t, h, http.MethodGet, "/symbols", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var statuses []app.SymbolStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &statuses))
	require.Len(t, statuses, 2)
	assert.True(t, statuses[0].Unavailable)
	assert.False(t, statuses[1].Unavailable)
}

func TestTrimEndpoint(t *testing.T) {
	srv, svc, _ := newTestServer(t, &staticSource{})
	h := srv.Handler()
	doJSON(t, h, http.MethodPost, "/symbols", `{"symbols":["BTCUSDT"]}`)

	now := time.Now().UTC()
	for _, age := range []time.Duration{72 * time.Hour, 48 * time.Hour, time.Hour} {
		require.NoError(t, svc.Samples.Append(domain.Sample{
			Timestamp: now.Add(-age),
			Symbol:    "BTCUSDT",
			Pair:      domain.PairLong,
			Combined:  domain.DirectionUp,
		}))
	}

	rec := doJSON(t, h, http.MethodPost, "/symbols/BTCUSDT/trim", `{"keep_hours":24}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body["dropped"])

	rec = doJSON(t, h, http.MethodPost, "/symbols/BTCUSDT/trim", `{"keep_hours":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/symbols/NOPE/trim", `{"keep_hours":24}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type stubHistory struct {
	decisions []domain.Decision
}

func (s *stubHistory) RecentBySymbol(ctx context.Context, symbol string, limit int) ([]domain.Decision, error) {
	return s.decisions, nil
}

func TestDecisionHistoryEndpoint(t *testing.T) {
	srv, svc, _ := newTestServer(t, &staticSource{})
	h := srv.Handler()
	doJSON(t, h, http.MethodPost, "/symbols", `{"symbols":["BTCUSDT"]}`)

	// No archive configured.
	rec := doJSON(t, h, http.MethodGet, "/symbols/BTCUSDT/decisions", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	svc.History = &stubHistory{decisions: []domain.Decision{{Mode: domain.ModeUp, SampleCount: 10}}}

	rec = doJSON(t, h, http.MethodGet, "/symbols/BTCUSDT/decisions?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var decisions []domain.Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decisions))
	require.Len(t, decisions, 1)
	assert.Equal(t, domain.ModeUp, decisions[0].Mode)

	rec = doJSON(t, h, http.MethodGet, "/symbols/BTCUSDT/decisions?limit=oops", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
