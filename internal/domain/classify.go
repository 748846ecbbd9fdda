package domain

// Classify derives the trend direction for one timeframe from its indicator
// snapshot: close above the moving average is UP, below is DOWN, on the line
// is RANGE.
func Classify(snap IndicatorSnapshot) Direction {
	switch {
	case snap.LastClose > snap.SMA30:
		return DirectionUp
	case snap.LastClose < snap.SMA30:
		return DirectionDown
	default:
		return DirectionRange
	}
}

// Combine folds per-timeframe directions into the pair-level label. The pair
// agrees on UP or DOWN only when every timeframe does; any disagreement is
// RANGE.
func Combine(signals map[string]Direction) Direction {
	if len(signals) == 0 {
		return DirectionRange
	}
	allUp, allDown := true, true
	for _, d := range signals {
		if d != DirectionUp {
			allUp = false
		}
		if d != DirectionDown {
			allDown = false
		}
	}
	switch {
	case allUp:
		return DirectionUp
	case allDown:
		return DirectionDown
	default:
		return DirectionRange
	}
}
