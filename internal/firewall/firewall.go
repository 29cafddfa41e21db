// Package firewall 是不可信行情进入系统的唯一闸口。
// 所有数值健全性检查都在这里完成，下游组件不再重复校验。
package firewall

import (
	"math"
	"strconv"
	"time"

	"binance-signal-bot-go/internal/logger"
	"binance-signal-bot-go/internal/models"
)

// 拒绝原因，用于限频日志的分类统计
const (
	rejectMissingField = "missing_field"
	rejectNotNumeric   = "not_numeric"
	rejectNotFinite    = "not_finite"
	rejectNonPositive  = "non_positive_price"
	rejectNegativeVol  = "negative_volume"
	rejectBadRange     = "bad_price_range"
	rejectStale        = "stale_timestamp"
	rejectFuture       = "future_timestamp"
)

// Firewall 校验原始行情并产出不可变的 Candle。
// 校验失败只会静默丢弃并限频记录日志，绝不向上传播错误。
type Firewall struct {
	pastHorizon time.Duration
	futureSlack time.Duration
	throttle    *logger.Throttled
	rejected    uint64
	now         func() time.Time // 测试时可替换
}

// New 创建一个防火墙。pastHorizon 是允许的最旧时间戳偏差（如一年），
// futureSlack 是允许的未来时间戳偏差（如数秒）。
func New(pastHorizon, futureSlack time.Duration) *Firewall {
	return &Firewall{
		pastHorizon: pastHorizon,
		futureSlack: futureSlack,
		throttle:    logger.NewThrottled(30 * time.Second),
		now:         time.Now,
	}
}

// Rejected 返回累计拒绝的行情条数
func (f *Firewall) Rejected() uint64 {
	return f.rejected
}

// Validate 校验一条原始行情。合法时返回解析后的 Candle 和 true；
// 任何一项不变量被破坏时返回零值和 false。
func (f *Firewall) Validate(raw models.RawTick) (models.Candle, bool) {
	if raw.Symbol == "" || raw.TimestampMs == 0 {
		return f.reject(rejectMissingField, raw, "行情缺少必填字段")
	}

	fields := [5]string{raw.Open, raw.High, raw.Low, raw.Close, raw.Volume}
	var parsed [5]float64
	for i, s := range fields {
		if s == "" {
			return f.reject(rejectMissingField, raw, "行情缺少必填字段")
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return f.reject(rejectNotNumeric, raw, "行情字段无法解析为数值")
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return f.reject(rejectNotFinite, raw, "行情字段为 NaN 或 Inf")
		}
		parsed[i] = v
	}

	open, high, low, close, volume := parsed[0], parsed[1], parsed[2], parsed[3], parsed[4]

	if open <= 0 || high <= 0 || low <= 0 || close <= 0 {
		return f.reject(rejectNonPositive, raw, "价格必须为正数")
	}
	if volume < 0 {
		return f.reject(rejectNegativeVol, raw, "成交量不能为负")
	}
	if high < low || open < low || open > high || close < low || close > high {
		return f.reject(rejectBadRange, raw, "OHLC 不满足 low <= open,close <= high")
	}

	ts := time.UnixMilli(raw.TimestampMs)
	now := f.now()
	if now.Sub(ts) > f.pastHorizon {
		return f.reject(rejectStale, raw, "行情时间戳过老")
	}
	if ts.Sub(now) > f.futureSlack {
		return f.reject(rejectFuture, raw, "行情时间戳在未来")
	}

	return models.Candle{
		Timestamp: raw.TimestampMs,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    volume,
	}, true
}

func (f *Firewall) reject(class string, raw models.RawTick, msg string) (models.Candle, bool) {
	f.rejected++
	f.throttle.Warnf(class, "防火墙拒绝行情 [%s]: %s (symbol=%s ts=%d)", class, msg, raw.Symbol, raw.TimestampMs)
	return models.Candle{}, false
}
