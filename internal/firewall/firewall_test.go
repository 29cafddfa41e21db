package firewall

import (
	"testing"
	"time"

	"binance-signal-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestFirewall() *Firewall {
	f := New(365*24*time.Hour, 5*time.Second)
	f.now = func() time.Time { return testNow }
	return f
}

func validTick() models.RawTick {
	return models.RawTick{
		Symbol:      "BTCUSDT",
		TimestampMs: testNow.Add(-time.Minute).UnixMilli(),
		Open:        "100.0",
		High:        "105.0",
		Low:         "99.0",
		Close:       "104.0",
		Volume:      "12.5",
	}
}

// TestValidTickPassesUnchanged checks that a valid tick comes back as a
// candle with exactly the parsed values.
func TestValidTickPassesUnchanged(t *testing.T) {
	f := newTestFirewall()

	c, ok := f.Validate(validTick())
	require.True(t, ok)
	assert.Equal(t, 100.0, c.Open)
	assert.Equal(t, 105.0, c.High)
	assert.Equal(t, 99.0, c.Low)
	assert.Equal(t, 104.0, c.Close)
	assert.Equal(t, 12.5, c.Volume)
	assert.Equal(t, uint64(0), f.Rejected())
}

func TestRejectsMalformedTicks(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.RawTick)
	}{
		{"missing symbol", func(r *models.RawTick) { r.Symbol = "" }},
		{"missing close", func(r *models.RawTick) { r.Close = "" }},
		{"non-numeric open", func(r *models.RawTick) { r.Open = "abc" }},
		{"NaN close", func(r *models.RawTick) { r.Close = "NaN" }},
		{"infinite high", func(r *models.RawTick) { r.High = "+Inf" }},
		{"zero price", func(r *models.RawTick) { r.Low = "0" }},
		{"negative price", func(r *models.RawTick) { r.Open = "-5" }},
		{"negative volume", func(r *models.RawTick) { r.Volume = "-1" }},
		{"high below low", func(r *models.RawTick) { r.High = "100"; r.Low = "105" }},
		{"close above high", func(r *models.RawTick) { r.Close = "200" }},
		{"open below low", func(r *models.RawTick) { r.Open = "50" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestFirewall()
			raw := validTick()
			tt.mutate(&raw)
			_, ok := f.Validate(raw)
			assert.False(t, ok)
			assert.Equal(t, uint64(1), f.Rejected())
		})
	}
}

func TestRejectsOutOfWindowTimestamps(t *testing.T) {
	f := newTestFirewall()

	stale := validTick()
	stale.TimestampMs = testNow.AddDate(-2, 0, 0).UnixMilli()
	_, ok := f.Validate(stale)
	assert.False(t, ok, "two year old tick must be rejected")

	future := validTick()
	future.TimestampMs = testNow.Add(time.Minute).UnixMilli()
	_, ok = f.Validate(future)
	assert.False(t, ok, "tick a minute in the future must be rejected")

	edge := validTick()
	edge.TimestampMs = testNow.Add(2 * time.Second).UnixMilli()
	_, ok = f.Validate(edge)
	assert.True(t, ok, "tick within the future slack must pass")
}
