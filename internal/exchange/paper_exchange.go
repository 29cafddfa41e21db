package exchange

import (
	"fmt"
	"sync"
	"time"

	"binance-signal-bot-go/internal/models"
)

// PaperExchange 实现了 Exchange 接口，在内存里模拟成交，
// 用于 paper 模式和测试。成交价按滑点率偏移，手续费从现金中扣除。
type PaperExchange struct {
	mu             sync.Mutex
	cash           float64
	positions      map[string]float64 // symbol -> 带方向的数量
	avgEntry       map[string]float64
	markPrices     map[string]float64
	nextOrderID    int64
	commissionRate float64
	slippageRate   float64
	stepSize       string
	totalFees      float64
	now            func() time.Time
}

// NewPaperExchange 创建一个模拟交易所。初始资金来自配置。
func NewPaperExchange(cfg *models.Config) *PaperExchange {
	return &PaperExchange{
		cash:           cfg.InitialBalance,
		positions:      make(map[string]float64),
		avgEntry:       make(map[string]float64),
		markPrices:     make(map[string]float64),
		nextOrderID:    1,
		commissionRate: cfg.CommissionRate,
		slippageRate:   cfg.SlippageRate,
		stepSize:       cfg.QuantityStepSize,
		now:            time.Now,
	}
}

// SetMarkPrice 推进某个交易对的标记价格（由执行进程的价格回路调用）
func (e *PaperExchange) SetMarkPrice(symbol string, price float64) {
	e.mu.Lock()
	e.markPrices[symbol] = price
	e.mu.Unlock()
}

// GetServerTime 模拟盘直接返回本地时间
func (e *PaperExchange) GetServerTime() (int64, error) {
	return e.now().UnixMilli(), nil
}

// GetPrice 返回最近的标记价格
func (e *PaperExchange) GetPrice(symbol string) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	price, ok := e.markPrices[symbol]
	if !ok {
		return 0, fmt.Errorf("尚无 %s 的标记价格", symbol)
	}
	return price, nil
}

// GetAccountEquity 返回现金加上持仓按标记价的浮动价值
func (e *PaperExchange) GetAccountEquity() (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	equity := e.cash
	for symbol, qty := range e.positions {
		if price, ok := e.markPrices[symbol]; ok {
			equity += (price - e.avgEntry[symbol]) * qty
		}
	}
	return equity, nil
}

// PlaceMarketOrder 立即以带滑点的标记价成交
func (e *PaperExchange) PlaceMarketOrder(symbol string, side models.Side, quantity float64) (*Fill, error) {
	return e.execute(symbol, side, quantity, false)
}

// ClosePosition 以市价平仓。side 是平仓单自身的方向（持多仓时为 SELL）。
func (e *PaperExchange) ClosePosition(symbol string, side models.Side, quantity float64) (*Fill, error) {
	return e.execute(symbol, side, quantity, true)
}

func (e *PaperExchange) execute(symbol string, side models.Side, quantity float64, reduce bool) (*Fill, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	mark, ok := e.markPrices[symbol]
	if !ok || mark <= 0 {
		return nil, fmt.Errorf("尚无 %s 的标记价格，无法成交", symbol)
	}

	adjusted := AdjustToStep(quantity, e.stepSize)
	if adjusted <= 0 {
		return nil, fmt.Errorf("数量 %.10f 按步长取整后为零", quantity)
	}

	// 市价单按滑点率向不利方向偏移
	fillPrice := mark
	if side == models.Buy {
		fillPrice = mark * (1 + e.slippageRate)
	} else {
		fillPrice = mark * (1 - e.slippageRate)
	}

	fee := fillPrice * adjusted * e.commissionRate
	e.cash -= fee
	e.totalFees += fee

	signed := adjusted
	if side == models.Sell {
		signed = -adjusted
	}
	prev := e.positions[symbol]
	next := prev + signed

	if reduce {
		// 平仓把已实现盈亏落进现金
		closed := signed
		if prev != 0 {
			e.cash += (fillPrice - e.avgEntry[symbol]) * -closed
		}
		if next == 0 {
			delete(e.positions, symbol)
			delete(e.avgEntry, symbol)
		} else {
			e.positions[symbol] = next
		}
	} else {
		if next != 0 {
			// 加权平均开仓价
			e.avgEntry[symbol] = (e.avgEntry[symbol]*abs(prev) + fillPrice*abs(signed)) / abs(next)
		}
		e.positions[symbol] = next
	}

	fill := &Fill{
		OrderID:  e.nextOrderID,
		Symbol:   symbol,
		Side:     side,
		Price:    fillPrice,
		Quantity: adjusted,
		Time:     e.now(),
	}
	e.nextOrderID++
	return fill, nil
}

// TotalFees 返回累计扣除的手续费
func (e *PaperExchange) TotalFees() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalFees
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
