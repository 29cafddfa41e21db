// Package aggregator 把基础周期的K线滚动合成为多个更大的周期。
package aggregator

import (
	"time"

	"binance-signal-bot-go/internal/models"
)

// maxGapFill 限制单次补洞时合成K线的数量，超过则直接跳到新桶
const maxGapFill = 10

// Finalized 是一根已完成周期的K线，交给评估器边界消费
type Finalized struct {
	Symbol string
	Frame  models.Timeframe
	Candle models.Candle
}

// bucket 是某个周期上正在累积的K线
type bucket struct {
	start  int64 // 桶的开始时间（毫秒，按周期对齐）
	candle models.Candle
}

// Aggregator 为每个交易对、每个配置周期各维护一个累积桶。
// 输入是防火墙放行的基础K线，桶边界跨越时产出已完成的K线。
type Aggregator struct {
	frames    []models.Timeframe
	buckets   map[string]map[string]*bucket
	lastClose map[string]float64
}

// New 创建聚合器
func New(frames []models.Timeframe) *Aggregator {
	return &Aggregator{
		frames:    frames,
		buckets:   make(map[string]map[string]*bucket),
		lastClose: make(map[string]float64),
	}
}

// Apply 把一根基础K线合入所有周期桶，返回本次产生的已完成K线。
// 缺失的基础K线（行情断档）用上一根收盘价补洞而不是报错。
func (a *Aggregator) Apply(symbol string, c models.Candle) []Finalized {
	frames, ok := a.buckets[symbol]
	if !ok {
		frames = make(map[string]*bucket, len(a.frames))
		a.buckets[symbol] = frames
	}

	var out []Finalized
	for _, frame := range a.frames {
		out = append(out, a.applyFrame(symbol, frames, frame, c)...)
	}
	a.lastClose[symbol] = c.Close
	return out
}

func (a *Aggregator) applyFrame(symbol string, frames map[string]*bucket, frame models.Timeframe, c models.Candle) []Finalized {
	durMs := frame.Duration.Milliseconds()
	aligned := c.Timestamp - c.Timestamp%durMs

	b := frames[frame.Name]
	if b == nil {
		frames[frame.Name] = &bucket{start: aligned, candle: openBucket(aligned, c)}
		return nil
	}

	if aligned == b.start {
		fold(&b.candle, c)
		return nil
	}
	if aligned < b.start {
		// 乱序或重复的旧行情，读端必须容忍环形缓冲区的间断
		return nil
	}

	var out []Finalized
	out = append(out, Finalized{Symbol: symbol, Frame: frame, Candle: b.candle})

	// 补洞：中间缺失的桶用上一根收盘价合成零成交量K线
	gaps := (aligned-b.start)/durMs - 1
	if gaps > 0 && gaps <= maxGapFill {
		carry := b.candle.Close
		for i := int64(1); i <= gaps; i++ {
			out = append(out, Finalized{
				Symbol: symbol,
				Frame:  frame,
				Candle: models.Candle{
					Timestamp: b.start + i*durMs,
					Open:      carry,
					High:      carry,
					Low:       carry,
					Close:     carry,
					Volume:    0,
				},
			})
		}
	}

	b.start = aligned
	b.candle = openBucket(aligned, c)
	return out
}

// Running 返回某个周期当前累积中的K线（未完成），不存在时返回 false
func (a *Aggregator) Running(symbol, frameName string) (models.Candle, bool) {
	if frames, ok := a.buckets[symbol]; ok {
		if b := frames[frameName]; b != nil {
			return b.candle, true
		}
	}
	return models.Candle{}, false
}

// LastClose 返回该交易对最近一次合入的收盘价
func (a *Aggregator) LastClose(symbol string) (float64, bool) {
	v, ok := a.lastClose[symbol]
	return v, ok
}

func openBucket(aligned int64, c models.Candle) models.Candle {
	return models.Candle{
		Timestamp: aligned,
		Open:      c.Open,
		High:      c.High,
		Low:       c.Low,
		Close:     c.Close,
		Volume:    c.Volume,
	}
}

func fold(dst *models.Candle, c models.Candle) {
	if c.High > dst.High {
		dst.High = c.High
	}
	if c.Low < dst.Low {
		dst.Low = c.Low
	}
	dst.Close = c.Close
	dst.Volume += c.Volume
}

// AlignTimestamp 把毫秒时间戳按周期对齐到桶的开始时间
func AlignTimestamp(ts int64, d time.Duration) int64 {
	durMs := d.Milliseconds()
	return ts - ts%durMs
}
