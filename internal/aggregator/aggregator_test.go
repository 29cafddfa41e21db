package aggregator

import (
	"testing"
	"time"

	"binance-signal-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frames(names ...string) []models.Timeframe {
	out := make([]models.Timeframe, 0, len(names))
	for _, n := range names {
		tf, err := models.ParseTimeframe(n)
		if err != nil {
			panic(err)
		}
		out = append(out, tf)
	}
	return out
}

func minuteCandle(minute int64, open, high, low, close, volume float64) models.Candle {
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC).UnixMilli()
	return models.Candle{
		Timestamp: base + minute*60_000,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    volume,
	}
}

// TestFiveMinuteRollup folds five one-minute candles into one finalized 5m
// candle when the boundary is crossed.
func TestFiveMinuteRollup(t *testing.T) {
	a := New(frames("5m"))

	var finalized []Finalized
	for i := int64(0); i < 5; i++ {
		finalized = append(finalized, a.Apply("BTCUSDT", minuteCandle(i, 100+float64(i), 106, 99, 101+float64(i), 2))...)
	}
	assert.Empty(t, finalized, "no boundary crossed inside the first bucket")

	// Minute 5 opens the next 5m bucket and finalizes the first one.
	finalized = a.Apply("BTCUSDT", minuteCandle(5, 105, 107, 104, 106, 2))
	require.Len(t, finalized, 1)

	c := finalized[0].Candle
	assert.Equal(t, "5m", finalized[0].Frame.Name)
	assert.Equal(t, 100.0, c.Open, "open of the first minute")
	assert.Equal(t, 106.0, c.High)
	assert.Equal(t, 99.0, c.Low)
	assert.Equal(t, 105.0, c.Close, "close of the last minute in the bucket")
	assert.Equal(t, 10.0, c.Volume)
}

// TestGapCarriesCloseForward checks that missing base candles produce
// zero-volume fillers carrying the last close, not an error.
func TestGapCarriesCloseForward(t *testing.T) {
	a := New(frames("1m"))

	a.Apply("ETHUSDT", minuteCandle(0, 100, 101, 99, 100.5, 1))
	finalized := a.Apply("ETHUSDT", minuteCandle(3, 102, 103, 101, 102.5, 1))

	// Minute 0 finalized plus fillers for minutes 1 and 2.
	require.Len(t, finalized, 3)
	assert.Equal(t, 100.5, finalized[0].Candle.Close)
	for _, f := range finalized[1:] {
		assert.Equal(t, 100.5, f.Candle.Open)
		assert.Equal(t, 100.5, f.Candle.Close)
		assert.Zero(t, f.Candle.Volume)
	}
}

func TestOutOfOrderCandleIgnored(t *testing.T) {
	a := New(frames("1m"))

	a.Apply("BTCUSDT", minuteCandle(5, 100, 101, 99, 100, 1))
	finalized := a.Apply("BTCUSDT", minuteCandle(4, 90, 91, 89, 90, 1))
	assert.Empty(t, finalized)

	running, ok := a.Running("BTCUSDT", "1m")
	require.True(t, ok)
	assert.Equal(t, 100.0, running.Close, "stale candle must not disturb the bucket")
}

// TestMultipleFramesShareBaseFeed verifies each configured frame keeps its
// own running bucket over the same base feed.
func TestMultipleFramesShareBaseFeed(t *testing.T) {
	a := New(frames("1m", "5m"))

	var finalized []Finalized
	for i := int64(0); i <= 5; i++ {
		finalized = append(finalized, a.Apply("BTCUSDT", minuteCandle(i, 100, 101, 99, 100, 1))...)
	}

	var oneMin, fiveMin int
	for _, f := range finalized {
		switch f.Frame.Name {
		case "1m":
			oneMin++
		case "5m":
			fiveMin++
		}
	}
	assert.Equal(t, 5, oneMin)
	assert.Equal(t, 1, fiveMin)

	last, ok := a.LastClose("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 100.0, last)
}
