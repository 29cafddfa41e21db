package sizer

import (
	"math"
	"testing"

	"binance-signal-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *models.Config {
	return &models.Config{
		RiskCap:            0.05,
		RewardRiskRatio:    2.0,
		BaseReturnRate:     0.004,
		MaxReturnRate:      0.03,
		VolatilityPenalty:  25.0,
		MinTradesForStats:  30,
		DefaultWinRate:     0.45,
		DefaultPayoffRatio: 1.6,
	}
}

func buySignal(confidence float64, features map[string]float64) models.Signal {
	return models.Signal{
		Symbol:     "BTCUSDT",
		Side:       models.Buy,
		Confidence: confidence,
		Features:   models.NewFeatureSnapshot(features),
	}
}

// TestRiskFractionNeverExceedsCap drives the sizer with extreme inputs and
// checks the hard ceiling holds for every combination.
func TestRiskFractionNeverExceedsCap(t *testing.T) {
	s := New(testConfig())
	s.UpdateStats(Stats{Trades: 500, WinRate: 0.99, PayoffRatio: 50})

	for _, confidence := range []float64{0, 0.5, 1.0, 5.0, math.Inf(1)} {
		for _, volatility := range []float64{0, 0.001, 0.2} {
			spec, err := s.Size(buySignal(confidence, nil), 1_000_000, 50_000, volatility)
			require.NoError(t, err)
			assert.LessOrEqual(t, spec.RiskFraction, 0.05,
				"confidence=%v volatility=%v", confidence, volatility)
		}
	}
}

// TestVolatilityShrinksAllocation: the highest-volatility signal must get
// the smallest allocation.
func TestVolatilityShrinksAllocation(t *testing.T) {
	s := New(testConfig())

	calm, err := s.Size(buySignal(0.7, nil), 10_000, 100, 0.005)
	require.NoError(t, err)
	wild, err := s.Size(buySignal(0.7, nil), 10_000, 100, 0.08)
	require.NoError(t, err)

	assert.Less(t, wild.RiskFraction, calm.RiskFraction)
	assert.Less(t, wild.Quantity, calm.Quantity)
}

// TestReturnModelMonotonicity: higher confidence means a larger target
// return and a tighter stop.
func TestReturnModelMonotonicity(t *testing.T) {
	s := New(testConfig())

	weak, err := s.Size(buySignal(0.55, nil), 10_000, 100, 0.01)
	require.NoError(t, err)
	strong, err := s.Size(buySignal(0.95, nil), 10_000, 100, 0.01)
	require.NoError(t, err)

	assert.Greater(t, strong.TakeProfit, weak.TakeProfit)
	// Tighter stop: the strong signal's SL sits closer to entry.
	assert.Greater(t, strong.StopLoss, weak.StopLoss)
	assert.Less(t, strong.StopLoss, 100.0)
	assert.Greater(t, strong.TakeProfit, 100.0)
}

func TestShortSideMirrorsLevels(t *testing.T) {
	s := New(testConfig())

	sig := buySignal(0.8, nil)
	sig.Side = models.Sell
	spec, err := s.Size(sig, 10_000, 200, 0.01)
	require.NoError(t, err)

	assert.Less(t, spec.TakeProfit, 200.0, "short takes profit below entry")
	assert.Greater(t, spec.StopLoss, 200.0, "short stops out above entry")
}

func TestStructureFeatureWidensTarget(t *testing.T) {
	s := New(testConfig())

	flat, err := s.Size(buySignal(0.7, map[string]float64{models.FeatureStructure: 0.1}), 10_000, 100, 0.01)
	require.NoError(t, err)
	strong, err := s.Size(buySignal(0.7, map[string]float64{models.FeatureStructure: 0.9}), 10_000, 100, 0.01)
	require.NoError(t, err)

	assert.Greater(t, strong.TakeProfit, flat.TakeProfit)
}

func TestRejectsDegenerateInputs(t *testing.T) {
	s := New(testConfig())

	_, err := s.Size(buySignal(0.7, nil), 0, 100, 0.01)
	assert.Error(t, err, "zero equity")

	_, err = s.Size(buySignal(0.7, nil), 10_000, 0, 0.01)
	assert.Error(t, err, "zero price")

	sig := buySignal(0.7, nil)
	sig.Side = ""
	_, err = s.Size(sig, 10_000, 100, 0.01)
	assert.Error(t, err, "missing side")
}

func TestDefaultStatsUsedUntilEnoughTrades(t *testing.T) {
	s := New(testConfig())
	s.UpdateStats(Stats{Trades: 3, WinRate: 1.0, PayoffRatio: 100})

	spec, err := s.Size(buySignal(0.5, nil), 10_000, 100, 0.01)
	require.NoError(t, err)
	// With only 3 trades the optimistic stats must not kick in. The default
	// win rate / payoff ratio keeps the fraction under the cap, while the
	// fabricated 100x payoff stats would have slammed into it.
	assert.Less(t, spec.RiskFraction, 0.05)
	assert.InDelta(t, 0.0425, spec.RiskFraction, 0.0001)
}
