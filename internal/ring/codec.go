package ring

import (
	"encoding/binary"
	"math"

	"binance-signal-bot-go/internal/models"
)

// SlotSize is the fixed width of one encoded candle:
// i64 timestamp_ms | f64 open | f64 high | f64 low | f64 close | f64 volume.
const SlotSize = 48

func encodeSlot(dst []byte, c models.Candle) {
	_ = dst[SlotSize-1]
	binary.LittleEndian.PutUint64(dst[0:8], uint64(c.Timestamp))
	binary.LittleEndian.PutUint64(dst[8:16], math.Float64bits(c.Open))
	binary.LittleEndian.PutUint64(dst[16:24], math.Float64bits(c.High))
	binary.LittleEndian.PutUint64(dst[24:32], math.Float64bits(c.Low))
	binary.LittleEndian.PutUint64(dst[32:40], math.Float64bits(c.Close))
	binary.LittleEndian.PutUint64(dst[40:48], math.Float64bits(c.Volume))
}

func decodeSlot(src []byte) models.Candle {
	_ = src[SlotSize-1]
	return models.Candle{
		Timestamp: int64(binary.LittleEndian.Uint64(src[0:8])),
		Open:      math.Float64frombits(binary.LittleEndian.Uint64(src[8:16])),
		High:      math.Float64frombits(binary.LittleEndian.Uint64(src[16:24])),
		Low:       math.Float64frombits(binary.LittleEndian.Uint64(src[24:32])),
		Close:     math.Float64frombits(binary.LittleEndian.Uint64(src[32:40])),
		Volume:    math.Float64frombits(binary.LittleEndian.Uint64(src[40:48])),
	}
}
