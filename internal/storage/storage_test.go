package storage

import (
	"path/filepath"
	"testing"
	"time"

	"binance-signal-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "bot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSignalCursorSemantics(t *testing.T) {
	s := openTestStore(t)

	latest, err := s.LatestSignalID()
	require.NoError(t, err)
	assert.Equal(t, int64(0), latest)

	for i := 0; i < 3; i++ {
		_, err := s.AppendSignal(&models.Signal{
			Symbol:     "BTCUSDT",
			Side:       models.Buy,
			Confidence: 0.5,
			Features:   models.NewFeatureSnapshot(map[string]float64{models.FeatureATRPct: 0.02}),
			ProducedAt: time.Now().UnixMilli(),
		})
		require.NoError(t, err)
	}

	// 游标之后的信号按序返回
	signals, err := s.FetchSignalsAfter(1, 100)
	require.NoError(t, err)
	require.Len(t, signals, 2)
	assert.Equal(t, int64(2), signals[0].ID)
	assert.Equal(t, int64(3), signals[1].ID)
	assert.InDelta(t, 0.02, signals[0].Features.Get(models.FeatureATRPct), 1e-9)

	// 游标在末尾时没有新信号
	signals, err = s.FetchSignalsAfter(3, 100)
	require.NoError(t, err)
	assert.Empty(t, signals)

	latest, err = s.LatestSignalID()
	require.NoError(t, err)
	assert.Equal(t, int64(3), latest)
}

func TestTradeJournalAndStats(t *testing.T) {
	s := openTestStore(t)

	now := time.Now()
	pnls := []float64{10, 20, -5, -15}
	for i, pnl := range pnls {
		require.NoError(t, s.AppendTrade(&models.TradeRecord{
			PositionID: string(rune('a' + i)),
			Symbol:     "BTCUSDT",
			Side:       models.Buy,
			EntryPrice: 100, ClosePrice: 101, Quantity: 1,
			Pnl: pnl, NetPnl: pnl, Commission: 0.1,
			Reason:    models.ReasonTakeProfit,
			Duration:  time.Minute,
			EntryTime: now, CloseTime: now.Add(time.Minute),
		}))
	}

	trades, err := s.ListTrades()
	require.NoError(t, err)
	require.Len(t, trades, 4)
	assert.Equal(t, models.ReasonTakeProfit, trades[0].Reason)
	assert.Equal(t, time.Minute, trades[0].Duration)

	count, winRate, payoff, err := s.TradeStats()
	require.NoError(t, err)
	assert.Equal(t, 4, count)
	assert.InDelta(t, 0.5, winRate, 1e-9)
	// 平均盈利 15，平均亏损 10
	assert.InDelta(t, 1.5, payoff, 1e-9)
}

func TestPruneSignals(t *testing.T) {
	s := openTestStore(t)

	old := time.Now().AddDate(0, 0, -10).UnixMilli()
	recent := time.Now().UnixMilli()
	for _, ts := range []int64{old, old, recent} {
		_, err := s.AppendSignal(&models.Signal{
			Symbol: "BTCUSDT", Side: models.Sell, Confidence: 0.4,
			Features:   models.NewFeatureSnapshot(nil),
			ProducedAt: ts,
		})
		require.NoError(t, err)
	}

	pruned, err := s.PruneSignals(time.Now().AddDate(0, 0, -7).UnixMilli())
	require.NoError(t, err)
	assert.Equal(t, int64(2), pruned)

	signals, err := s.FetchSignalsAfter(0, 100)
	require.NoError(t, err)
	assert.Len(t, signals, 1)
}

func TestAccountSnapshotAppend(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.SaveAccountSnapshot(&models.AccountState{
		Balance: 9950, RealizedPnl: -50, OpenPositionCount: 2, UpdatedAt: time.Now(),
	}))
}
