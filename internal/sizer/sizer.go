// Package sizer 根据信号置信度、账户权益和波动率计算下单规模，
// 并推导预期的止盈/止损价位。输出数量不做交易所步长取整，
// 取整是交易边界的职责。
package sizer

import (
	"fmt"
	"math"

	"binance-signal-bot-go/internal/models"
)

// Stats 是从历史成交统计出的胜率和盈亏比，驱动凯利公式
type Stats struct {
	Trades      int
	WinRate     float64
	PayoffRatio float64
}

// Sizer 是纯计算组件，除统计缓存外不持有任何可变状态
type Sizer struct {
	riskCap        float64
	rewardRisk     float64
	baseReturn     float64
	maxReturn      float64
	volPenalty     float64
	minTrades      int
	defaultWinRate float64
	defaultPayoff  float64
	stats          Stats
}

// New 根据配置创建仓位规模计算器
func New(cfg *models.Config) *Sizer {
	return &Sizer{
		riskCap:        cfg.RiskCap,
		rewardRisk:     cfg.RewardRiskRatio,
		baseReturn:     cfg.BaseReturnRate,
		maxReturn:      cfg.MaxReturnRate,
		volPenalty:     cfg.VolatilityPenalty,
		minTrades:      cfg.MinTradesForStats,
		defaultWinRate: cfg.DefaultWinRate,
		defaultPayoff:  cfg.DefaultPayoffRatio,
	}
}

// UpdateStats 更新历史胜率统计。样本不足时 Size 会退回默认值。
func (s *Sizer) UpdateStats(stats Stats) {
	s.stats = stats
}

// Size 计算一笔订单的规模和止盈止损价位。
// volatility 是类似 ATR 的波动率度量（相对价格的比例）；传入非正值时
// 退回信号特征里的 atr_pct。
func (s *Sizer) Size(sig models.Signal, equity, lastPrice, volatility float64) (models.OrderSpec, error) {
	if equity <= 0 {
		return models.OrderSpec{}, fmt.Errorf("账户权益必须为正数: %.4f", equity)
	}
	if lastPrice <= 0 || math.IsNaN(lastPrice) || math.IsInf(lastPrice, 0) {
		return models.OrderSpec{}, fmt.Errorf("无效的参考价格: %v", lastPrice)
	}
	if sig.Side != models.Buy && sig.Side != models.Sell {
		return models.OrderSpec{}, fmt.Errorf("信号方向无效: %q", sig.Side)
	}

	confidence := clamp01(sig.Confidence)
	if volatility <= 0 || math.IsNaN(volatility) {
		volatility = sig.Features.Get(models.FeatureATRPct)
	}

	fraction := s.riskFraction(confidence, volatility)
	targetRet, stopRet := s.returnModel(confidence, sig.Features)

	var tp, sl float64
	if sig.Side == models.Buy {
		tp = lastPrice * (1 + targetRet)
		sl = lastPrice * (1 - stopRet)
	} else {
		tp = lastPrice * (1 - targetRet)
		sl = lastPrice * (1 + stopRet)
	}

	quantity := equity * fraction / lastPrice

	return models.OrderSpec{
		Symbol:        sig.Symbol,
		Side:          sig.Side,
		Quantity:      quantity,
		EntryEstimate: lastPrice,
		TakeProfit:    tp,
		StopLoss:      sl,
		RiskFraction:  fraction,
		Features:      sig.Features,
	}, nil
}

// riskFraction 计算受限凯利比例：由历史胜率/盈亏比得到基础比例，
// 按置信度缩放，再随波动率上升而衰减，最后压到硬上限以内。
func (s *Sizer) riskFraction(confidence, volatility float64) float64 {
	winRate := s.defaultWinRate
	payoff := s.defaultPayoff
	if s.stats.Trades >= s.minTrades && s.stats.PayoffRatio > 0 {
		winRate = clamp01(s.stats.WinRate)
		payoff = s.stats.PayoffRatio
	}

	kelly := winRate - (1-winRate)/payoff
	if kelly <= 0 {
		// 历史期望为负时仍允许极小的试探仓位，由置信度驱动
		kelly = 0.01
	}

	fraction := kelly * confidence
	fraction /= 1 + s.volPenalty*math.Max(volatility, 0)

	if fraction > s.riskCap {
		fraction = s.riskCap
	}
	if fraction < 0 {
		fraction = 0
	}
	return fraction
}

// returnModel 是百分比收益估计：目标收益率随置信度和市场结构强度
// 单调上升，止损距离随之单调收紧。不依赖任何未在特征快照里的输入。
func (s *Sizer) returnModel(confidence float64, features models.FeatureSnapshot) (targetRet, stopRet float64) {
	structure := clamp01(features.Get(models.FeatureStructure))
	liquidity := clamp01(features.Get(models.FeatureLiquidity))

	strength := clamp01(0.6*confidence + 0.3*structure + 0.1*liquidity)
	targetRet = s.baseReturn + (s.maxReturn-s.baseReturn)*strength

	// 信号越强止损越紧；下限防止止损贴在开仓价上
	stopRet = (s.maxReturn / s.rewardRisk) * (1.2 - strength)
	if min := s.baseReturn / s.rewardRisk; stopRet < min {
		stopRet = min
	}
	return targetRet, stopRet
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
