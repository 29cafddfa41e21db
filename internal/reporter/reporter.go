// Package reporter 在会话结束时输出交易汇总报告。
package reporter

import (
	"fmt"
	"math"
	"os"
	"time"

	"binance-signal-bot-go/internal/models"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Metrics 存储计算出的所有会话性能指标
type Metrics struct {
	InitialBalance   float64
	FinalBalance     float64
	TotalProfit      float64
	ProfitPercentage float64
	TotalCommission  float64
	TotalTrades      int
	WinningTrades    int
	LosingTrades     int
	WinRate          float64
	AvgProfitLoss    float64
	MaxDrawdown      float64
	StartTime        time.Time
	EndTime          time.Time
}

// GenerateReport 把一段会话的全部平仓记录渲染成明细表和汇总表。
func GenerateReport(trades []*models.TradeRecord, initialBalance float64) *Metrics {
	m := calculateMetrics(trades, initialBalance)

	detail := table.NewWriter()
	detail.SetOutputMirror(os.Stdout)
	detail.SetTitle("平仓明细")
	detail.AppendHeader(table.Row{"仓位ID", "交易对", "方向", "开仓价", "平仓价", "数量",
		"毛利润", "手续费", "净利润", "收益率%", "原因", "持仓时长"})
	for _, t := range trades {
		detail.AppendRow(table.Row{
			t.PositionID, t.Symbol, t.Side,
			fmt.Sprintf("%.4f", t.EntryPrice), fmt.Sprintf("%.4f", t.ClosePrice),
			fmt.Sprintf("%.6f", t.Quantity),
			fmt.Sprintf("%.4f", t.Pnl), fmt.Sprintf("%.4f", t.Commission),
			fmt.Sprintf("%.4f", t.NetPnl), fmt.Sprintf("%.2f", t.RoiPct),
			t.Reason, t.Duration.Round(time.Second),
		})
	}
	detail.Render()

	summary := table.NewWriter()
	summary.SetOutputMirror(os.Stdout)
	summary.SetTitle("会话汇总")
	summary.AppendRows([]table.Row{
		{"初始资金", fmt.Sprintf("%.2f USDT", m.InitialBalance)},
		{"最终资金", fmt.Sprintf("%.2f USDT", m.FinalBalance)},
		{"总净利润", fmt.Sprintf("%.2f USDT", m.TotalProfit)},
		{"收益率", fmt.Sprintf("%.2f%%", m.ProfitPercentage)},
		{"总手续费", fmt.Sprintf("%.2f USDT", m.TotalCommission)},
		{"总交易次数", m.TotalTrades},
		{"盈利次数", m.WinningTrades},
		{"亏损次数", m.LosingTrades},
		{"胜率", fmt.Sprintf("%.2f%%", m.WinRate)},
		{"平均盈亏比", fmt.Sprintf("%.2f", m.AvgProfitLoss)},
		{"最大回撤", fmt.Sprintf("%.2f%%", m.MaxDrawdown)},
	})
	summary.Render()

	return m
}

// calculateMetrics 从平仓记录序列计算会话指标。
func calculateMetrics(trades []*models.TradeRecord, initialBalance float64) *Metrics {
	m := &Metrics{
		InitialBalance: initialBalance,
		FinalBalance:   initialBalance,
		TotalTrades:    len(trades),
	}

	var totalProfit, totalLoss float64
	equityCurve := make([]float64, 0, len(trades)+1)
	equityCurve = append(equityCurve, initialBalance)

	for _, t := range trades {
		m.FinalBalance += t.NetPnl
		m.TotalCommission += t.Commission
		equityCurve = append(equityCurve, m.FinalBalance)

		if t.NetPnl > 0 {
			m.WinningTrades++
			totalProfit += t.NetPnl
		} else {
			m.LosingTrades++
			totalLoss += t.NetPnl
		}
	}

	if m.TotalTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades) * 100
		m.StartTime = trades[0].EntryTime
		m.EndTime = trades[len(trades)-1].CloseTime
	}
	if m.WinningTrades > 0 && m.LosingTrades > 0 {
		avgWin := totalProfit / float64(m.WinningTrades)
		avgLoss := math.Abs(totalLoss / float64(m.LosingTrades))
		if avgLoss > 0 {
			m.AvgProfitLoss = avgWin / avgLoss
		}
	}

	m.TotalProfit = m.FinalBalance - m.InitialBalance
	if m.InitialBalance != 0 {
		m.ProfitPercentage = m.TotalProfit / m.InitialBalance * 100
	}
	m.MaxDrawdown = calculateMaxDrawdown(equityCurve) * 100

	return m
}

// calculateMaxDrawdown 计算权益曲线的最大回撤比例。
func calculateMaxDrawdown(equityCurve []float64) float64 {
	if len(equityCurve) < 2 {
		return 0.0
	}
	peak := equityCurve[0]
	maxDrawdown := 0.0
	for _, equity := range equityCurve {
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			drawdown := (peak - equity) / peak
			if drawdown > maxDrawdown {
				maxDrawdown = drawdown
			}
		}
	}
	return maxDrawdown
}
