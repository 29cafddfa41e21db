package reporter

import (
	"testing"
	"time"

	"binance-signal-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
)

func record(pnl, commission float64) *models.TradeRecord {
	return &models.TradeRecord{
		PositionID: "p",
		Symbol:     "BTCUSDT",
		Side:       models.Buy,
		EntryPrice: 100, ClosePrice: 101, Quantity: 1,
		Pnl: pnl + commission, Commission: commission, NetPnl: pnl,
		Reason:    models.ReasonTakeProfit,
		Duration:  time.Minute,
		EntryTime: time.Now(), CloseTime: time.Now().Add(time.Minute),
	}
}

func TestCalculateMetrics(t *testing.T) {
	trades := []*models.TradeRecord{
		record(50, 1),
		record(-30, 1),
		record(20, 1),
		record(-10, 1),
	}

	m := calculateMetrics(trades, 1000)

	assert.Equal(t, 4, m.TotalTrades)
	assert.Equal(t, 2, m.WinningTrades)
	assert.Equal(t, 2, m.LosingTrades)
	assert.InDelta(t, 50.0, m.WinRate, 1e-9)
	assert.InDelta(t, 1030.0, m.FinalBalance, 1e-9)
	assert.InDelta(t, 30.0, m.TotalProfit, 1e-9)
	assert.InDelta(t, 3.0, m.ProfitPercentage, 1e-9)
	assert.InDelta(t, 4.0, m.TotalCommission, 1e-9)
	// 平均盈利 35，平均亏损 20
	assert.InDelta(t, 1.75, m.AvgProfitLoss, 1e-9)
}

func TestCalculateMaxDrawdown(t *testing.T) {
	// 1000 -> 1050 -> 945 -> 1100：峰值1050回撤到945，10%
	curve := []float64{1000, 1050, 945, 1100}
	assert.InDelta(t, 0.10, calculateMaxDrawdown(curve), 1e-9)

	assert.Zero(t, calculateMaxDrawdown(nil))
	assert.Zero(t, calculateMaxDrawdown([]float64{1000}))
}

func TestMetricsOnEmptySession(t *testing.T) {
	m := calculateMetrics(nil, 1000)
	assert.Zero(t, m.TotalTrades)
	assert.InDelta(t, 1000.0, m.FinalBalance, 1e-9)
	assert.Zero(t, m.MaxDrawdown)
}
