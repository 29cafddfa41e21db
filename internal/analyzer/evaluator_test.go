package analyzer

import (
	"testing"

	"binance-signal-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// trendCandles 生成一段稳定趋势的K线序列。
func trendCandles(n int, start, step float64) []models.Candle {
	candles := make([]models.Candle, 0, n)
	price := start
	for i := 0; i < n; i++ {
		next := price + step
		high, low := next, price
		if step < 0 {
			high, low = price, next
		}
		candles = append(candles, models.Candle{
			Timestamp: int64(i) * 300_000,
			Open:      price,
			High:      high * 1.001,
			Low:       low * 0.999,
			Close:     next,
			Volume:    10,
		})
		price = next
	}
	return candles
}

func TestMomentumEvaluatorLongSignalOnUptrend(t *testing.T) {
	ev := NewMomentumEvaluator("5m", 12, 0.2)
	history := trendCandles(20, 100, 1)

	sig, ok := ev.Evaluate("BTCUSDT", "5m", history)
	require.True(t, ok)
	assert.Equal(t, models.Buy, sig.Side)
	assert.Greater(t, sig.Confidence, 0.2)
	assert.Greater(t, sig.Features.Get(models.FeatureMomentum), 0.0)
	assert.Greater(t, sig.Features.Get(models.FeatureATRPct), 0.0)
	assert.Equal(t, "BTCUSDT", sig.Symbol)
}

func TestMomentumEvaluatorShortSignalOnDowntrend(t *testing.T) {
	ev := NewMomentumEvaluator("5m", 12, 0.2)
	history := trendCandles(20, 200, -2)

	sig, ok := ev.Evaluate("ETHUSDT", "5m", history)
	require.True(t, ok)
	assert.Equal(t, models.Sell, sig.Side)
	assert.Less(t, sig.Features.Get(models.FeatureMomentum), 0.0)
}

func TestMomentumEvaluatorIgnoresOtherFrames(t *testing.T) {
	ev := NewMomentumEvaluator("5m", 12, 0.2)
	history := trendCandles(20, 100, 1)

	_, ok := ev.Evaluate("BTCUSDT", "1m", history)
	assert.False(t, ok)
}

func TestMomentumEvaluatorNeedsFullLookback(t *testing.T) {
	ev := NewMomentumEvaluator("5m", 12, 0.2)
	history := trendCandles(5, 100, 1)

	_, ok := ev.Evaluate("BTCUSDT", "5m", history)
	assert.False(t, ok)
}

func TestMomentumEvaluatorStaysQuietInChop(t *testing.T) {
	ev := NewMomentumEvaluator("5m", 12, 0.2)

	// 宽幅震荡但没有净动量
	history := make([]models.Candle, 0, 20)
	for i := 0; i < 20; i++ {
		open, close := 100.0, 104.0
		if i%2 == 1 {
			open, close = 104.0, 100.0
		}
		history = append(history, models.Candle{
			Timestamp: int64(i) * 300_000,
			Open:      open, High: 105, Low: 99, Close: close, Volume: 10,
		})
	}

	_, ok := ev.Evaluate("BTCUSDT", "5m", history)
	assert.False(t, ok)
}
