package ring

import (
	"path/filepath"
	"testing"

	"binance-signal-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRing(t *testing.T, capacity int) *Ring {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ticks.ring")
	r, err := Create(path, capacity)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func candleAt(ts int64) models.Candle {
	return models.Candle{
		Timestamp: ts,
		Open:      100.0,
		High:      101.5,
		Low:       99.5,
		Close:     100.5,
		Volume:    12.25,
	}
}

// TestWriteReadRoundTrip verifies that candles survive the slot encoding and
// come back in write order.
func TestWriteReadRoundTrip(t *testing.T) {
	r := newTestRing(t, 64)

	for i := int64(0); i < 10; i++ {
		assert.True(t, r.Write(candleAt(1700000000000+i*60000)))
	}

	got := r.ReadNew()
	require.Len(t, got, 10)
	for i, c := range got {
		assert.Equal(t, int64(1700000000000+int64(i)*60000), c.Timestamp)
		assert.Equal(t, 100.0, c.Open)
		assert.Equal(t, 101.5, c.High)
		assert.Equal(t, 99.5, c.Low)
		assert.Equal(t, 100.5, c.Close)
		assert.Equal(t, 12.25, c.Volume)
	}
}

// TestReadNewAdvancesCursorOnce verifies the idempotent cursor protocol:
// repeated reads never replay already-consumed candles.
func TestReadNewAdvancesCursorOnce(t *testing.T) {
	r := newTestRing(t, 32)

	r.Write(candleAt(1))
	r.Write(candleAt(2))
	require.Len(t, r.ReadNew(), 2)
	assert.Empty(t, r.ReadNew())

	r.Write(candleAt(3))
	got := r.ReadNew()
	require.Len(t, got, 1)
	assert.Equal(t, int64(3), got[0].Timestamp)
	assert.Equal(t, uint64(0), r.Lag())
}

// TestOverflowDropsOldest writes one more candle than the capacity with no
// reads in between: at most capacity candles are retrievable, the newest
// survive, and nothing crashes.
func TestOverflowDropsOldest(t *testing.T) {
	const capacity = 100
	r := newTestRing(t, capacity)

	for i := int64(0); i < capacity; i++ {
		assert.True(t, r.Write(candleAt(i)))
	}
	// The write that laps the reader reports overflow but still lands.
	assert.False(t, r.Write(candleAt(int64(capacity))))
	assert.Equal(t, uint64(1), r.Overflows())

	got := r.ReadNew()
	require.Len(t, got, capacity)
	assert.Equal(t, int64(1), got[0].Timestamp)
	assert.Equal(t, int64(capacity), got[len(got)-1].Timestamp)
	assert.Equal(t, uint64(1), r.Dropped())
}

// TestOpenAttachesToExistingBuffer simulates the cross-process handoff: one
// Ring writes through a freshly created file, a second Ring attached with
// Open reads the same slots.
func TestOpenAttachesToExistingBuffer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ticks.ring")

	writer, err := Create(path, 16)
	require.NoError(t, err)
	defer writer.Close()

	reader, err := Open(path)
	require.NoError(t, err)
	defer reader.Close()
	assert.Equal(t, 16, reader.Capacity())

	writer.Write(candleAt(42))
	got := reader.ReadNew()
	require.Len(t, got, 1)
	assert.Equal(t, int64(42), got[0].Timestamp)

	// The cursor advance must be visible to the writer side as well.
	assert.Equal(t, uint64(0), writer.Lag())
}

func TestOpenRejectsForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bogus.ring")
	require.NoError(t, writeBogusFile(path))

	_, err := Open(path)
	assert.ErrorIs(t, err, ErrInvalidMagic)
}

func writeBogusFile(path string) error {
	r, err := Create(path, 4)
	if err != nil {
		return err
	}
	copy(r.data[0:4], []byte("XXXX"))
	return r.Close()
}

func TestHeartbeatSlots(t *testing.T) {
	r := newTestRing(t, 8)

	r.Beat(SlotExecute)
	assert.Less(t, r.BeatAge(SlotExecute).Seconds(), 1.0)
}
