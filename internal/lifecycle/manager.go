// Package lifecycle 实现仓位生命周期管理器。
// 管理器独占持有所有仓位与账户状态，仓位只允许 OPEN -> CLOSED 单向迁移，
// 通过原子状态位保证每笔仓位的平仓结算恰好执行一次。
package lifecycle

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"binance-signal-bot-go/internal/eventbus"
	"binance-signal-bot-go/internal/exchange"
	"binance-signal-bot-go/internal/models"
	"binance-signal-bot-go/internal/persistence"
	"binance-signal-bot-go/internal/storage"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"github.com/jxskiss/base62"
	"go.uber.org/zap"
)

// 仓位状态位。open -> closing 通过 CAS 抢占，closing -> closed 只在结算成功后写入。
const (
	stateOpen uint32 = iota
	stateClosing
	stateClosed
)

// trackedPosition 给仓位套上一个原子状态位。
// 监控循环和手动平仓都必须先 CAS 抢到 closing，才允许触碰结算逻辑。
type trackedPosition struct {
	pos   *models.Position
	state uint32
}

// closeResult 是异步平仓任务的回执，由监控循环在下一个周期统一收割。
type closeResult struct {
	id     string
	record *models.TradeRecord
	err    error
}

// PriceFunc 提供某个交易对的最新标记价格。第二个返回值为 false 表示价格尚不可用。
type PriceFunc func(symbol string) (float64, bool)

// Manager 是仓位生命周期管理器。
type Manager struct {
	cfg    *models.Config
	ex     exchange.Exchange
	bus    *eventbus.Bus
	repo   persistence.OpenSetRepository
	store  *storage.Store
	prices PriceFunc
	logger *zap.SugaredLogger

	mu        sync.Mutex
	positions map[string]*trackedPosition
	account   models.AccountState
	version   int
	runID     string
	idSeq     uint64

	results      chan closeResult
	stopChannel  chan struct{}
	wg           sync.WaitGroup
	lastSnapshot time.Time
	now          func() time.Time
}

// NewManager 创建管理器并从持久化快照中恢复上次运行遗留的持仓。
func NewManager(cfg *models.Config, ex exchange.Exchange, bus *eventbus.Bus,
	repo persistence.OpenSetRepository, store *storage.Store, prices PriceFunc,
	logger *zap.SugaredLogger) (*Manager, error) {

	m := &Manager{
		cfg:         cfg,
		ex:          ex,
		bus:         bus,
		repo:        repo,
		store:       store,
		prices:      prices,
		logger:      logger,
		positions:   make(map[string]*trackedPosition),
		runID:       uuid.New().String(),
		results:     make(chan closeResult, resultCapacity(cfg)),
		stopChannel: make(chan struct{}),
		now:         time.Now,
	}
	m.account = models.AccountState{
		Balance:   cfg.InitialBalance,
		UpdatedAt: m.now(),
	}

	set, err := repo.LoadOpenSet()
	if err != nil {
		return nil, fmt.Errorf("加载持仓快照失败: %v", err)
	}
	if set != nil {
		for _, p := range set.Positions {
			if p.Status != models.StatusOpen {
				continue
			}
			m.positions[p.PositionID] = &trackedPosition{pos: p}
		}
		m.account = set.Account
		m.account.OpenPositionCount = len(m.positions)
		m.version = set.Version
		logger.Infow("从快照恢复持仓", "previousRunID", set.RunID,
			"restoredPositions", len(m.positions), "balance", m.account.Balance)
	}

	return m, nil
}

// Start 启动仓位监控循环。
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.monitorLoop()
	m.logger.Infow("仓位生命周期管理器已启动", "runID", m.runID,
		"monitorIntervalSec", m.cfg.MonitorIntervalSec)
}

// Stop 停止监控循环并等待所有在途的平仓任务结束。
func (m *Manager) Stop() {
	close(m.stopChannel)
	m.wg.Wait()
	m.drainResults()
	m.mu.Lock()
	m.persistLocked()
	m.mu.Unlock()
	m.logger.Info("仓位生命周期管理器已停止")
}

// Open 根据仓位规模计算器的输出开仓。
// 成功后仓位立即进入管理器的独占监控，并同步落盘持仓快照。
func (m *Manager) Open(spec models.OrderSpec) (*models.Position, error) {
	m.mu.Lock()
	if m.cfg.MaxOpenPositions > 0 && len(m.positions) >= m.cfg.MaxOpenPositions {
		m.mu.Unlock()
		return nil, fmt.Errorf("已达到最大持仓数 %d，忽略新开仓", m.cfg.MaxOpenPositions)
	}
	m.mu.Unlock()

	notional := spec.Quantity * spec.EntryEstimate
	if notional < m.cfg.MinNotionalValue {
		return nil, fmt.Errorf("订单名义价值 %.4f 低于交易所最小值 %.4f", notional, m.cfg.MinNotionalValue)
	}

	fill, err := m.ex.PlaceMarketOrder(spec.Symbol, spec.Side, spec.Quantity)
	if err != nil {
		return nil, fmt.Errorf("开仓下单失败: %v", err)
	}

	pos := &models.Position{
		PositionID: positionID(m.now(), atomic.AddUint64(&m.idSeq, 1)),
		Symbol:     spec.Symbol,
		Side:       spec.Side,
		Quantity:   fill.Quantity,
		EntryPrice: fill.Price,
		TakeProfit: spec.TakeProfit,
		StopLoss:   spec.StopLoss,
		Status:     models.StatusOpen,
		Features:   spec.Features,
		EntryTime:  fill.Time,
	}

	m.mu.Lock()
	m.positions[pos.PositionID] = &trackedPosition{pos: pos}
	m.account.OpenPositionCount = len(m.positions)
	m.account.UpdatedAt = m.now()
	m.persistLocked()
	m.mu.Unlock()

	m.logger.Infow("开仓成功", "positionID", pos.PositionID, "symbol", pos.Symbol,
		"side", pos.Side, "quantity", pos.Quantity, "entryPrice", pos.EntryPrice,
		"tp", pos.TakeProfit, "sl", pos.StopLoss, "riskFraction", spec.RiskFraction)
	return pos, nil
}

// CloseManual 手动平仓。走与自动触发完全相同的抢占与结算路径。
func (m *Manager) CloseManual(positionID string) error {
	m.mu.Lock()
	tp, ok := m.positions[positionID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("仓位 %s 不存在或已平仓", positionID)
	}
	if !atomic.CompareAndSwapUint32(&tp.state, stateOpen, stateClosing) {
		return fmt.Errorf("仓位 %s 已在平仓流程中", positionID)
	}
	m.spawnClose(tp, models.ReasonManual)
	return nil
}

// Account 返回账户状态的一份拷贝。
func (m *Manager) Account() models.AccountState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.account
}

// Equity 返回余额加所有持仓的未实现盈亏。缺少标记价格的仓位按零盈亏计。
func (m *Manager) Equity() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	equity := m.account.Balance
	for _, tp := range m.positions {
		price, ok := m.prices(tp.pos.Symbol)
		if !ok {
			continue
		}
		equity += unrealizedPnl(tp.pos, price)
	}
	return equity
}

// OpenCount 返回当前持仓数量（含正在平仓的仓位）。
func (m *Manager) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.positions)
}

// monitorLoop 是唯一允许触发自动平仓的循环。
// 每个周期先收割上一轮的平仓回执，再检查存活仓位的触发条件。
func (m *Manager) monitorLoop() {
	defer m.wg.Done()

	interval := time.Duration(m.cfg.MonitorIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChannel:
			return
		case <-ticker.C:
			m.drainResults()
			m.scanPositions()
			m.maybeSnapshot()
		}
	}
}

// scanPositions 检查每个存活仓位的强制平仓与止盈止损触发。
// 超时强制平仓优先于止盈止损判断，且不参考任何价格。
func (m *Manager) scanPositions() {
	m.mu.Lock()
	tracked := make([]*trackedPosition, 0, len(m.positions))
	for _, tp := range m.positions {
		tracked = append(tracked, tp)
	}
	m.mu.Unlock()

	maxAge := time.Duration(m.cfg.MaxHoldingAgeSec) * time.Second
	now := m.now()

	for _, tp := range tracked {
		if atomic.LoadUint32(&tp.state) != stateOpen {
			continue
		}

		if maxAge > 0 && now.Sub(tp.pos.EntryTime) >= maxAge {
			if atomic.CompareAndSwapUint32(&tp.state, stateOpen, stateClosing) {
				m.logger.Warnw("持仓超时，强制平仓", "positionID", tp.pos.PositionID,
					"ageSec", now.Sub(tp.pos.EntryTime).Seconds())
				m.spawnClose(tp, models.ReasonExpired)
			}
			continue
		}

		price, ok := m.prices(tp.pos.Symbol)
		if !ok {
			continue
		}
		reason, hit := triggerReason(tp.pos, price)
		if !hit {
			continue
		}
		if atomic.CompareAndSwapUint32(&tp.state, stateOpen, stateClosing) {
			m.spawnClose(tp, reason)
		}
	}
}

// triggerReason 判断给定价格是否穿越了仓位的止盈或止损水平。
func triggerReason(pos *models.Position, price float64) (models.CloseReason, bool) {
	if pos.Side == models.Buy {
		if pos.TakeProfit > 0 && price >= pos.TakeProfit {
			return models.ReasonTakeProfit, true
		}
		if pos.StopLoss > 0 && price <= pos.StopLoss {
			return models.ReasonStopLoss, true
		}
		return "", false
	}
	if pos.TakeProfit > 0 && price <= pos.TakeProfit {
		return models.ReasonTakeProfit, true
	}
	if pos.StopLoss > 0 && price >= pos.StopLoss {
		return models.ReasonStopLoss, true
	}
	return "", false
}

// spawnClose 为已经抢到 closing 状态的仓位启动异步平仓任务。
// 调用方必须已经完成 open -> closing 的 CAS。
func (m *Manager) spawnClose(tp *trackedPosition, reason models.CloseReason) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.closeWithRetry(tp, reason)
	}()
}

// closeWithRetry 带指数退避地向交易所提交平仓单。
// 重试耗尽后把仓位退回 open 状态，等待下一个监控周期重新触发。
func (m *Manager) closeWithRetry(tp *trackedPosition, reason models.CloseReason) {
	pos := tp.pos
	b := &backoff.Backoff{
		Min:    time.Duration(m.cfg.RetryInitialDelayMs) * time.Millisecond,
		Max:    time.Duration(m.cfg.RetryMaxDelayMs) * time.Millisecond,
		Factor: 2,
		Jitter: true,
	}

	attempts := m.cfg.CloseRetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-m.stopChannel:
				atomic.StoreUint32(&tp.state, stateOpen)
				return
			case <-time.After(b.Duration()):
			}
		}

		fill, err := m.ex.ClosePosition(pos.Symbol, pos.Side.Opposite(), pos.Quantity)
		if err != nil {
			lastErr = err
			m.logger.Warnw("平仓请求失败，准备重试", "positionID", pos.PositionID,
				"attempt", i+1, "error", err)
			continue
		}

		// 结算只会走到这里一次：closing -> closed 没有竞争者。
		atomic.StoreUint32(&tp.state, stateClosed)
		record := m.settle(pos, fill.Price, reason, fill.Time)
		select {
		case m.results <- closeResult{id: pos.PositionID, record: record}:
		case <-m.stopChannel:
			// 停机后监控循环不再收割回执，已成交的结算直接入账。
			m.finalize(record)
		}
		return
	}

	// 重试耗尽，把仓位交还给监控循环。
	atomic.StoreUint32(&tp.state, stateOpen)
	select {
	case m.results <- closeResult{id: pos.PositionID, err: lastErr}:
	case <-m.stopChannel:
		m.logger.Errorw("平仓重试耗尽且进程正在停机", "positionID", pos.PositionID, "error", lastErr)
	}
}

// settle 完成 OPEN -> CLOSED 迁移并生成平仓结算记录。
// 手续费按开平两边的名义价值计。
func (m *Manager) settle(pos *models.Position, closePrice float64, reason models.CloseReason, closeTime time.Time) *models.TradeRecord {
	pos.Status = models.StatusClosed
	pnl := grossPnl(pos, closePrice)
	commission := m.cfg.CommissionRate * (pos.EntryPrice + closePrice) * pos.Quantity
	notional := pos.EntryPrice * pos.Quantity

	record := &models.TradeRecord{
		PositionID: pos.PositionID,
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		EntryPrice: pos.EntryPrice,
		ClosePrice: closePrice,
		Quantity:   pos.Quantity,
		Pnl:        pnl,
		Commission: commission,
		NetPnl:     pnl - commission,
		Reason:     reason,
		Duration:   closeTime.Sub(pos.EntryTime),
		EntryTime:  pos.EntryTime,
		CloseTime:  closeTime,
	}
	if notional > 0 {
		record.RoiPct = pnl / notional * 100
	}
	return record
}

// drainResults 非阻塞地收割所有已完成的平仓回执并逐笔入账。
func (m *Manager) drainResults() {
	for {
		select {
		case res := <-m.results:
			if res.err != nil {
				m.logger.Errorw("平仓重试耗尽，仓位退回监控", "positionID", res.id, "error", res.err)
				m.bus.Publish(eventbus.TopicPositionAlert, &models.PositionAlert{
					PositionID: res.id,
					Error:      res.err.Error(),
					Time:       m.now(),
				})
				continue
			}
			m.finalize(res.record)
		default:
			return
		}
	}
}

// finalize 把一笔已结算的平仓事务性地写入账户、持久层和事件总线。
func (m *Manager) finalize(record *models.TradeRecord) {
	m.mu.Lock()
	delete(m.positions, record.PositionID)
	m.account.Balance += record.NetPnl
	m.account.RealizedPnl += record.NetPnl
	m.account.OpenPositionCount = len(m.positions)
	m.account.UpdatedAt = m.now()
	m.persistLocked()
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.AppendTrade(record); err != nil {
			m.logger.Errorw("交易记录写入失败", "positionID", record.PositionID, "error", err)
		}
	}

	m.logger.Infow("平仓完成", "positionID", record.PositionID, "symbol", record.Symbol,
		"reason", record.Reason, "pnl", record.Pnl, "commission", record.Commission,
		"netPnl", record.NetPnl, "roiPct", record.RoiPct, "balance", m.Account().Balance)

	m.bus.Publish(eventbus.TopicTradeResult, record)
}

// persistLocked 把当前持仓集合落盘。调用方必须持有 m.mu。
func (m *Manager) persistLocked() {
	if m.repo == nil {
		return
	}
	m.version++
	set := &models.OpenSet{
		RunID:          m.runID,
		Version:        m.version,
		Account:        m.account,
		LastUpdateTime: m.now(),
	}
	for _, tp := range m.positions {
		set.Positions = append(set.Positions, tp.pos)
	}
	if err := m.repo.SaveOpenSet(set); err != nil {
		m.logger.Errorw("持仓快照落盘失败", "error", err)
	}
}

// maybeSnapshot 按配置的间隔把账户状态追加到共享数据库。
func (m *Manager) maybeSnapshot() {
	interval := time.Duration(m.cfg.SnapshotIntervalSec) * time.Second
	if interval <= 0 || m.store == nil {
		return
	}
	now := m.now()
	if now.Sub(m.lastSnapshot) < interval {
		return
	}
	m.lastSnapshot = now

	account := m.Account()
	if err := m.store.SaveAccountSnapshot(&account); err != nil {
		m.logger.Errorw("账户快照写入失败", "error", err)
	}
}

// positionID 生成仓位ID：纳秒时间戳加进程内单调序号，
// 同一毫秒内的连续开仓或时钟回拨都不会撞号。
func positionID(t time.Time, seq uint64) string {
	return string(base62.FormatInt(t.UnixNano())) + "-" + string(base62.FormatInt(int64(seq)))
}

// resultCapacity 让回执通道至少装得下所有仓位同时结算的回执。
func resultCapacity(cfg *models.Config) int {
	if cfg.MaxOpenPositions > 64 {
		return cfg.MaxOpenPositions
	}
	return 64
}

// grossPnl 计算毛利润。
func grossPnl(pos *models.Position, closePrice float64) float64 {
	if pos.Side == models.Buy {
		return (closePrice - pos.EntryPrice) * pos.Quantity
	}
	return (pos.EntryPrice - closePrice) * pos.Quantity
}

// unrealizedPnl 计算未实现盈亏。
func unrealizedPnl(pos *models.Position, price float64) float64 {
	return grossPnl(pos, price)
}
