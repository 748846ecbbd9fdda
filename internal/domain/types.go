package domain

import (
	"strings"
	"time"
)

// Bias is the per-symbol directional preference. It selects which frame pair
// drives data collection and voting.
type Bias string

const (
	BiasLong  Bias = "LONG"
	BiasShort Bias = "SHORT"
)

// ParseBias normalizes and validates a bias value. Anything other than
// LONG/SHORT is rejected with ErrInvalidBias.
func ParseBias(s string) (Bias, error) {
	switch Bias(strings.ToUpper(strings.TrimSpace(s))) {
	case BiasLong:
		return BiasLong, nil
	case BiasShort:
		return BiasShort, nil
	default:
		return "", ErrInvalidBias
	}
}

// FramePair identifies the two timeframes whose signals are jointly
// classified and voted on for one symbol.
type FramePair string

const (
	PairLong  FramePair = "12h6h" // long-horizon pair: 12h + 6h
	PairShort FramePair = "6h4h"  // short-horizon pair: 6h + 4h
)

// PairForBias maps a bias to its frame pair. Called fresh on every recorder
// and voter invocation so bias changes take effect immediately.
func PairForBias(b Bias) FramePair {
	if b == BiasShort {
		return PairShort
	}
	return PairLong
}

// Timeframes returns the two timeframes of the pair, longest first.
func (p FramePair) Timeframes() []string {
	if p == PairShort {
		return []string{"6h", "4h"}
	}
	return []string{"12h", "6h"}
}

// Direction is the per-timeframe trend classification.
type Direction string

const (
	DirectionUp    Direction = "UP"
	DirectionDown  Direction = "DOWN"
	DirectionRange Direction = "RANGE"
)

// Mode is the voted consensus classification for a symbol over a publish
// window. It extends Direction with the no-consensus outcome.
type Mode string

const (
	ModeUp          Mode = "UP"
	ModeDown        Mode = "DOWN"
	ModeRange       Mode = "RANGE"
	ModeNoConsensus Mode = "NO_CONSENSUS"
)

// Sample is one classification observation appended to a symbol+pair log.
// Samples are immutable once written.
type Sample struct {
	Timestamp time.Time            `json:"ts"`
	Symbol    string               `json:"symbol"`
	Pair      FramePair            `json:"frame_pair"`
	Signals   map[string]Direction `json:"signals"` // per-timeframe direction
	Combined  Direction            `json:"combined"`
}

// Decision is the outcome of one voting pass over a publish window.
// It is a deterministic function of the sample set and the window bounds.
type Decision struct {
	WindowStart time.Time         `json:"window_start"`
	WindowEnd   time.Time         `json:"window_end"`
	Tally       map[Direction]int `json:"tally"`
	Mode        Mode              `json:"mode"`
	SampleCount int               `json:"sample_count"`
}

// IndicatorSnapshot holds the indicator state for one symbol+timeframe as
// returned by the market-data collaborator.
type IndicatorSnapshot struct {
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	LastClose float64   `json:"last_close"`
	SMA30     float64   `json:"sma30"`
	ATR14     float64   `json:"atr14"`
	RSI14     float64   `json:"rsi14"`
	FetchedAt time.Time `json:"fetched_at"`
}
