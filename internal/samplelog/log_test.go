package samplelog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/marketmode/internal/domain"
)

func sample(symbol string, pair domain.FramePair, ts time.Time, combined domain.Direction) domain.Sample {
	return domain.Sample{
		Timestamp: ts,
		Symbol:    symbol,
		Pair:      pair,
		Signals:   map[string]domain.Direction{"12h": combined, "6h": combined},
		Combined:  combined,
	}
}

func TestAppendAndReadWindow(t *testing.T) {
	l := New(t.TempDir())
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Append(sample("BTCUSDT", domain.PairLong, base.Add(time.Duration(i)*time.Hour), domain.DirectionUp)))
	}

	// Full window preserves append order.
	got, err := l.ReadWindow("BTCUSDT", domain.PairLong, base)
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i := 1; i < len(got); i++ {
		assert.True(t, got[i].Timestamp.After(got[i-1].Timestamp))
	}

	// Window cutoff is inclusive of samples at or after the bound.
	got, err = l.ReadWindow("BTCUSDT", domain.PairLong, base.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestReadWindow_MissingLogIsEmpty(t *testing.T) {
	l := New(t.TempDir())
	got, err := l.ReadWindow("BTCUSDT", domain.PairLong, time.Now())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReadWindow_SkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, l.Append(sample("BTCUSDT", domain.PairLong, base, domain.DirectionUp)))

	// Simulate a torn write from another process instance.
	f, err := os.OpenFile(filepath.Join(dir, "BTCUSDT_raw_12h6h.jsonl"), os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("{\"ts\": \"garb\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, l.Append(sample("BTCUSDT", domain.PairLong, base.Add(time.Hour), domain.DirectionDown)))

	got, err := l.ReadWindow("BTCUSDT", domain.PairLong, base)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, domain.DirectionUp, got[0].Combined)
	assert.Equal(t, domain.DirectionDown, got[1].Combined)
}

func TestLogsArePerPair(t *testing.T) {
	l := New(t.TempDir())
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, l.Append(sample("BTCUSDT", domain.PairLong, base, domain.DirectionUp)))
	require.NoError(t, l.Append(sample("BTCUSDT", domain.PairShort, base, domain.DirectionDown)))

	long, err := l.ReadWindow("BTCUSDT", domain.PairLong, base)
	require.NoError(t, err)
	short, err := l.ReadWindow("BTCUSDT", domain.PairShort, base)
	require.NoError(t, err)

	require.Len(t, long, 1)
	require.Len(t, short, 1)
	assert.Equal(t, domain.DirectionUp, long[0].Combined)
	assert.Equal(t, domain.DirectionDown, short[0].Combined)
}

func TestTrim_DropsOldSamplesOnly(t *testing.T) {
	l := New(t.TempDir())
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 6; i++ {
		require.NoError(t, l.Append(sample("BTCUSDT", domain.PairLong, base.Add(time.Duration(i)*time.Hour), domain.DirectionUp)))
	}

	dropped, err := l.Trim("BTCUSDT", domain.PairLong, base.Add(4*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 4, dropped)

	got, err := l.ReadWindow("BTCUSDT", domain.PairLong, base)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	// Trimming again with the same horizon is a no-op.
	dropped, err = l.Trim("BTCUSDT", domain.PairLong, base.Add(4*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, dropped)
}
