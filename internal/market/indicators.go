package market

import "math"

// Kline is one candlestick bar from the upstream venue.
type Kline struct {
	OpenTime  int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime int64
}

// SMA returns the simple moving average of the last period closes, or 0 when
// there is not enough history.
func SMA(closes []float64, period int) float64 {
	if period <= 0 || len(closes) < period {
		return 0
	}
	sum := 0.0
	for _, c := range closes[len(closes)-period:] {
		sum += c
	}
	return sum / float64(period)
}

// ATR returns the average true range over the last period bars, or 0 when
// there is not enough history.
func ATR(klines []Kline, period int) float64 {
	if period <= 0 || len(klines) < period+1 {
		return 0
	}
	sum := 0.0
	for i := len(klines) - period; i < len(klines); i++ {
		prevClose := klines[i-1].Close
		tr := klines[i].High - klines[i].Low
		tr = math.Max(tr, math.Abs(klines[i].High-prevClose))
		tr = math.Max(tr, math.Abs(klines[i].Low-prevClose))
		sum += tr
	}
	return sum / float64(period)
}

// RSI returns the relative strength index seeded over the first period
// deltas, or 0 when there is not enough history.
func RSI(closes []float64, period int) float64 {
	if period <= 0 || len(closes) < period+1 {
		return 0
	}
	up, down := 0.0, 0.0
	for i := 1; i <= period; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			up += delta
		} else {
			down += -delta
		}
	}
	up /= float64(period)
	down /= float64(period)
	if down == 0 {
		if up == 0 {
			return 50
		}
		return 100
	}
	rs := up / down
	return 100 - 100/(1+rs)
}
