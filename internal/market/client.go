package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/sawpanic/marketmode/internal/domain"
)

// SnapshotSource is the market-data collaborator consumed by the recorder.
type SnapshotSource interface {
	FetchIndicatorSnapshot(ctx context.Context, symbol, timeframe string) (domain.IndicatorSnapshot, error)
}

// ClientConfig tunes the upstream REST client.
type ClientConfig struct {
	BaseURL        string        `yaml:"base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	KlineLimit     int           `yaml:"kline_limit"`
	RateRPS        float64       `yaml:"rate_rps"`
	RateBurst      int           `yaml:"rate_burst"`
}

// DefaultClientConfig returns production defaults for the Binance spot API.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:        "https://api.binance.com",
		RequestTimeout: 10 * time.Second,
		KlineLimit:     31, // SMA30 plus one bar of ATR lookback
		RateRPS:        5,
		RateBurst:      10,
	}
}

// Client fetches klines from the exchange REST API and derives the indicator
// snapshot the classifier consumes. Requests are rate limited and guarded by
// a circuit breaker so a degraded upstream cannot stall the scheduler loop.
type Client struct {
	cfg     ClientConfig
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	now     func() time.Time
}

func NewClient(cfg ClientConfig) *Client {
	def := DefaultClientConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.KlineLimit <= 0 {
		cfg.KlineLimit = def.KlineLimit
	}
	if cfg.RateRPS <= 0 {
		cfg.RateRPS = def.RateRPS
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = def.RateBurst
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "market-data",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateRPS), cfg.RateBurst),
		breaker: breaker,
		now:     time.Now,
	}
}

// FetchIndicatorSnapshot retrieves recent klines for symbol+timeframe and
// computes SMA30, ATR14 and RSI14. Any transport, breaker or parse failure is
// surfaced as domain.ErrCollectionFailed with the cause attached.
func (c *Client) FetchIndicatorSnapshot(ctx context.Context, symbol, timeframe string) (domain.IndicatorSnapshot, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return domain.IndicatorSnapshot{}, fmt.Errorf("%w: rate limiter: %v", domain.ErrCollectionFailed, err)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetchKlines(ctx, symbol, timeframe)
	})
	if err != nil {
		return domain.IndicatorSnapshot{}, fmt.Errorf("%w: %s %s: %v", domain.ErrCollectionFailed, symbol, timeframe, err)
	}
	klines := result.([]Kline)

	closes := make([]float64, len(klines))
	for i, k := range klines {
		closes[i] = k.Close
	}

	snap := domain.IndicatorSnapshot{
		Symbol:    symbol,
		Timeframe: timeframe,
		LastClose: closes[len(closes)-1],
		SMA30:     SMA(closes, 30),
		ATR14:     ATR(klines, 14),
		RSI14:     RSI(closes, 14),
		FetchedAt: c.now().UTC(),
	}
	if snap.SMA30 == 0 {
		return domain.IndicatorSnapshot{}, fmt.Errorf("%w: %s %s: insufficient kline history (%d bars)",
			domain.ErrCollectionFailed, symbol, timeframe, len(klines))
	}
	return snap, nil
}

func (c *Client) fetchKlines(ctx context.Context, symbol, timeframe string) ([]Kline, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", timeframe)
	q.Set("limit", strconv.Itoa(c.cfg.KlineLimit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/api/v3/klines?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	// Binance returns klines as heterogeneous arrays:
	// [openTime, "open", "high", "low", "close", "volume", closeTime, ...]
	var rows [][]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("malformed kline response: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("empty kline response")
	}

	klines := make([]Kline, 0, len(rows))
	for _, row := range rows {
		if len(row) < 7 {
			return nil, fmt.Errorf("malformed kline row: %d fields", len(row))
		}
		var k Kline
		if err := json.Unmarshal(row[0], &k.OpenTime); err != nil {
			return nil, fmt.Errorf("malformed kline open time: %w", err)
		}
		if err := json.Unmarshal(row[6], &k.CloseTime); err != nil {
			return nil, fmt.Errorf("malformed kline close time: %w", err)
		}
		for i, dst := range []*float64{&k.Open, &k.High, &k.Low, &k.Close, &k.Volume} {
			var s string
			if err := json.Unmarshal(row[i+1], &s); err != nil {
				return nil, fmt.Errorf("malformed kline field %d: %w", i+1, err)
			}
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("malformed kline value %q: %w", s, err)
			}
			*dst = v
		}
		klines = append(klines, k)
	}
	return klines, nil
}
