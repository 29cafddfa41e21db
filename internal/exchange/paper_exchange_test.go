package exchange

import (
	"testing"

	"binance-signal-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paperConfig() *models.Config {
	return &models.Config{
		InitialBalance:   10000,
		CommissionRate:   0.001,
		SlippageRate:     0,
		QuantityStepSize: "0.001",
	}
}

func TestAdjustToStep(t *testing.T) {
	assert.InDelta(t, 0.123, AdjustToStep(0.12345, "0.001"), 1e-12)
	assert.InDelta(t, 5, AdjustToStep(5.9, "1"), 1e-12)
	assert.InDelta(t, 0, AdjustToStep(0.0004, "0.001"), 1e-12)
	// 非法步长时原样返回
	assert.InDelta(t, 1.2345, AdjustToStep(1.2345, ""), 1e-12)
}

func TestPaperRoundTripFlatPriceCostsOnlyFees(t *testing.T) {
	e := NewPaperExchange(paperConfig())
	e.SetMarkPrice("BTCUSDT", 100)

	fill, err := e.PlaceMarketOrder("BTCUSDT", models.Buy, 1)
	require.NoError(t, err)
	assert.InDelta(t, 100, fill.Price, 1e-9)

	_, err = e.ClosePosition("BTCUSDT", models.Sell, 1)
	require.NoError(t, err)

	// 价格没动，一来一回只亏双边手续费
	equity, err := e.GetAccountEquity()
	require.NoError(t, err)
	expectedFees := 0.001 * 100 * 1 * 2
	assert.InDelta(t, 10000-expectedFees, equity, 1e-9)
	assert.InDelta(t, expectedFees, e.TotalFees(), 1e-9)
}

func TestPaperShortProfitsWhenPriceFalls(t *testing.T) {
	e := NewPaperExchange(paperConfig())
	e.SetMarkPrice("ETHUSDT", 200)

	_, err := e.PlaceMarketOrder("ETHUSDT", models.Sell, 2)
	require.NoError(t, err)

	e.SetMarkPrice("ETHUSDT", 180)
	_, err = e.ClosePosition("ETHUSDT", models.Buy, 2)
	require.NoError(t, err)

	equity, err := e.GetAccountEquity()
	require.NoError(t, err)
	fees := 0.001*200*2 + 0.001*180*2
	assert.InDelta(t, 10000+40-fees, equity, 1e-9)
}

func TestPaperSlippageMovesFillAgainstTaker(t *testing.T) {
	cfg := paperConfig()
	cfg.SlippageRate = 0.001
	e := NewPaperExchange(cfg)
	e.SetMarkPrice("BTCUSDT", 100)

	buy, err := e.PlaceMarketOrder("BTCUSDT", models.Buy, 1)
	require.NoError(t, err)
	assert.InDelta(t, 100.1, buy.Price, 1e-9)

	sell, err := e.ClosePosition("BTCUSDT", models.Sell, 1)
	require.NoError(t, err)
	assert.InDelta(t, 99.9, sell.Price, 1e-9)
}

func TestPaperRejectsUnpricedSymbolAndDustQuantity(t *testing.T) {
	e := NewPaperExchange(paperConfig())

	_, err := e.PlaceMarketOrder("BTCUSDT", models.Buy, 1)
	require.Error(t, err)

	e.SetMarkPrice("BTCUSDT", 100)
	_, err = e.PlaceMarketOrder("BTCUSDT", models.Buy, 0.0001)
	require.Error(t, err)
}
