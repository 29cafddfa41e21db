// Package executor 实现执行进程的主循环：
// 以单调游标从共享数据库拉取新信号，经仓位规模计算器转换成订单，
// 交给生命周期管理器开仓并监控。
package executor

import (
	"sync"
	"time"

	"binance-signal-bot-go/internal/eventbus"
	"binance-signal-bot-go/internal/exchange"
	"binance-signal-bot-go/internal/lifecycle"
	"binance-signal-bot-go/internal/models"
	"binance-signal-bot-go/internal/ring"
	"binance-signal-bot-go/internal/sizer"
	"binance-signal-bot-go/internal/storage"

	"go.uber.org/zap"
)

// signalBatchLimit 是单次轮询最多消费的信号数量。
const signalBatchLimit = 32

// Executor 是执行进程的主体。
type Executor struct {
	cfg         *models.Config
	store       *storage.Store
	bus         *eventbus.Bus
	sizer       *sizer.Sizer
	manager     *lifecycle.Manager
	ex          exchange.Exchange
	prices      lifecycle.PriceFunc
	controlRing *ring.Ring
	logger      *zap.SugaredLogger

	cursor      int64
	stopChannel chan struct{}
	wg          sync.WaitGroup
}

// New 创建执行器。游标从数据库当前最大信号序号开始，
// 上次运行遗留的旧信号一律不执行。
func New(cfg *models.Config, store *storage.Store, bus *eventbus.Bus, sz *sizer.Sizer,
	manager *lifecycle.Manager, ex exchange.Exchange, prices lifecycle.PriceFunc,
	controlRing *ring.Ring, logger *zap.SugaredLogger) (*Executor, error) {

	cursor, err := store.LatestSignalID()
	if err != nil {
		return nil, err
	}

	e := &Executor{
		cfg:         cfg,
		store:       store,
		bus:         bus,
		sizer:       sz,
		manager:     manager,
		ex:          ex,
		prices:      prices,
		controlRing: controlRing,
		logger:      logger,
		cursor:      cursor,
		stopChannel: make(chan struct{}),
	}

	// 每笔平仓后用最新的历史统计刷新 Kelly 参数
	bus.Subscribe(eventbus.TopicTradeResult, func(interface{}) {
		e.refreshStats()
	})

	logger.Infow("执行器已就绪", "signalCursor", cursor, "mode", cfg.Mode)
	return e, nil
}

// Start 启动信号消费循环。
func (e *Executor) Start() {
	e.refreshStats()
	e.manager.Start()
	e.wg.Add(1)
	go e.loop()
}

// Stop 先停止接受新信号，再停掉仓位监控，让在途的平仓结算完成。
func (e *Executor) Stop() {
	close(e.stopChannel)
	e.wg.Wait()
	e.manager.Stop()
}

func (e *Executor) loop() {
	defer e.wg.Done()

	pollInterval := time.Duration(e.cfg.SignalPollMs) * time.Millisecond
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	poll := time.NewTicker(pollInterval)
	defer poll.Stop()
	heartbeat := time.NewTicker(time.Duration(e.cfg.HeartbeatIntervalSec) * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-e.stopChannel:
			return
		case <-heartbeat.C:
			e.controlRing.Beat(ring.SlotExecute)
		case <-poll.C:
			e.refreshPaperMarks()
			e.consumeSignals()
		}
	}
}

// consumeSignals 拉取游标之后的所有新信号并顺序执行。
// 游标对每条信号都前移，失败的信号不会重试。
func (e *Executor) consumeSignals() {
	signals, err := e.store.FetchSignalsAfter(e.cursor, signalBatchLimit)
	if err != nil {
		e.logger.Errorw("拉取新信号失败", "cursor", e.cursor, "error", err)
		return
	}

	for _, sig := range signals {
		e.cursor = sig.ID
		e.bus.Publish(eventbus.TopicSignalGenerated, sig)
		e.execute(sig)
	}
}

// execute 把一条信号转换成订单并开仓。
func (e *Executor) execute(sig *models.Signal) {
	if sig.Confidence < e.cfg.ConfidenceFloor {
		e.logger.Debugw("信号置信度不足，忽略", "id", sig.ID, "confidence", sig.Confidence)
		return
	}

	price, ok := e.prices(sig.Symbol)
	if !ok {
		var err error
		price, err = e.ex.GetPrice(sig.Symbol)
		if err != nil {
			e.logger.Warnw("无法获得标记价格，信号被丢弃", "id", sig.ID,
				"symbol", sig.Symbol, "error", err)
			return
		}
	}

	equity := e.equity()
	if equity <= 0 {
		e.logger.Warnw("账户权益不可用，信号被丢弃", "id", sig.ID, "equity", equity)
		return
	}

	spec, err := e.sizer.Size(*sig, equity, price, 0)
	if err != nil {
		e.logger.Warnw("仓位规模计算失败", "id", sig.ID, "error", err)
		return
	}

	pos, err := e.manager.Open(spec)
	if err != nil {
		e.logger.Warnw("开仓失败", "id", sig.ID, "symbol", sig.Symbol, "error", err)
		return
	}
	e.logger.Infow("信号已执行", "id", sig.ID, "positionID", pos.PositionID)
}

// equity 返回用于仓位规模计算的账户权益。
// 模拟盘由生命周期管理器记账，实盘直接问交易所。
func (e *Executor) equity() float64 {
	if e.cfg.Mode == "paper" {
		return e.manager.Equity()
	}
	equity, err := e.ex.GetAccountEquity()
	if err != nil {
		e.logger.Warnw("查询账户权益失败", "error", err)
		return 0
	}
	return equity
}

// refreshStats 用最新的历史交易统计更新 Kelly 参数。
func (e *Executor) refreshStats() {
	trades, winRate, payoff, err := e.store.TradeStats()
	if err != nil {
		e.logger.Warnw("读取交易统计失败", "error", err)
		return
	}
	e.sizer.UpdateStats(sizer.Stats{Trades: trades, WinRate: winRate, PayoffRatio: payoff})
}

// refreshPaperMarks 把最新标记价格同步给模拟交易所，驱动其成交定价。
func (e *Executor) refreshPaperMarks() {
	pe, ok := e.ex.(*exchange.PaperExchange)
	if !ok {
		return
	}
	for _, symbol := range e.cfg.Symbols {
		if price, ok := e.prices(symbol); ok {
			pe.SetMarkPrice(symbol, price)
		}
	}
}
