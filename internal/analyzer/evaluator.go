package analyzer

import (
	"math"
	"time"

	"binance-signal-bot-go/internal/models"
)

// Evaluator 是信号评估器边界。真正的模型是外部协作者，
// 这里内置一个动量评估器作为参考实现。
type Evaluator interface {
	Name() string
	// Evaluate 基于某个周期最近的已完成K线序列给出交易信号。
	// 返回 false 表示本周期不产生信号。
	Evaluate(symbol, frame string, history []models.Candle) (models.Signal, bool)
}

// MomentumEvaluator 用简单的价格动量与量能偏向打分。
type MomentumEvaluator struct {
	Frame    string  // 监听的聚合周期，如 "5m"
	Lookback int     // 回看的K线数量
	MinScore float64 // 低于该置信度不产生信号
	now      func() time.Time
}

// NewMomentumEvaluator 创建动量评估器。
func NewMomentumEvaluator(frame string, lookback int, minScore float64) *MomentumEvaluator {
	if lookback < 2 {
		lookback = 2
	}
	return &MomentumEvaluator{Frame: frame, Lookback: lookback, MinScore: minScore, now: time.Now}
}

func (e *MomentumEvaluator) Name() string { return "momentum" }

// Evaluate 计算回看窗口内的动量、波动率和量能偏向，折算成一个置信度。
func (e *MomentumEvaluator) Evaluate(symbol, frame string, history []models.Candle) (models.Signal, bool) {
	if frame != e.Frame || len(history) < e.Lookback {
		return models.Signal{}, false
	}

	window := history[len(history)-e.Lookback:]
	first, last := window[0], window[len(window)-1]
	if first.Close <= 0 || last.Close <= 0 {
		return models.Signal{}, false
	}

	momentum := (last.Close - first.Close) / first.Close

	var rangeSum, upVolume, totalVolume float64
	var upCount int
	for _, c := range window {
		if c.Close > 0 {
			rangeSum += (c.High - c.Low) / c.Close
		}
		totalVolume += c.Volume
		if c.Close >= c.Open {
			upVolume += c.Volume
			upCount++
		}
	}
	atrPct := rangeSum / float64(len(window))

	volumeBias := 0.5
	if totalVolume > 0 {
		volumeBias = upVolume / totalVolume
	}
	structure := float64(upCount) / float64(len(window))
	if momentum < 0 {
		// 空头信号的结构分看下跌K线的占比
		structure = 1 - structure
		volumeBias = 1 - volumeBias
	}

	// 动量相对自身波动的显著性，再叠加量能确认
	significance := 0.0
	if atrPct > 0 {
		significance = math.Abs(momentum) / (atrPct * float64(e.Lookback))
	}
	confidence := clamp01(significance*0.7 + (volumeBias-0.5)*0.6)
	if confidence < e.MinScore {
		return models.Signal{}, false
	}

	side := models.Buy
	if momentum < 0 {
		side = models.Sell
	}

	features := models.NewFeatureSnapshot(map[string]float64{
		models.FeatureATRPct:     atrPct,
		models.FeatureMomentum:   momentum,
		models.FeatureVolumeBias: volumeBias,
		models.FeatureStructure:  structure,
		models.FeatureLiquidity:  clamp01(volumeBias*0.5 + 0.25),
	})

	return models.Signal{
		Symbol:     symbol,
		Side:       side,
		Confidence: confidence,
		Features:   features,
		ProducedAt: e.now().UnixMilli(),
	}, true
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
