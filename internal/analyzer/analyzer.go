// Package analyzer 实现分析进程的主循环：
// 从共享内存环形缓冲区取出已校验的行情，折叠进多周期聚合器，
// 把完成的K线交给评估器边界，产生的信号经事件总线落入共享数据库。
package analyzer

import (
	"fmt"
	"sync"
	"time"

	"binance-signal-bot-go/internal/aggregator"
	"binance-signal-bot-go/internal/eventbus"
	"binance-signal-bot-go/internal/models"
	"binance-signal-bot-go/internal/ring"
	"binance-signal-bot-go/internal/storage"

	"go.uber.org/zap"
)

// historyWindow 是每个 symbol/frame 保留的已完成K线数量。
const historyWindow = 200

// Analyzer 是分析进程的主体。
type Analyzer struct {
	cfg         *models.Config
	rings       map[string]*ring.Ring // symbol -> 该交易对的环形缓冲区
	controlRing *ring.Ring
	agg         *aggregator.Aggregator
	evaluators  []Evaluator
	bus         *eventbus.Bus
	store       *storage.Store
	logger      *zap.SugaredLogger

	history     map[string][]models.Candle // "symbol/frame" -> 已完成K线窗口
	dropped     map[string]uint64          // symbol -> 已告警过的累计丢弃数
	stopChannel chan struct{}
	wg          sync.WaitGroup
}

// New 创建分析器并把信号落库的订阅者挂到本地事件总线上。
func New(cfg *models.Config, rings map[string]*ring.Ring, controlRing *ring.Ring,
	frames []models.Timeframe, evaluators []Evaluator, bus *eventbus.Bus,
	store *storage.Store, logger *zap.SugaredLogger) *Analyzer {

	a := &Analyzer{
		cfg:         cfg,
		rings:       rings,
		controlRing: controlRing,
		agg:         aggregator.New(frames),
		evaluators:  evaluators,
		bus:         bus,
		store:       store,
		logger:      logger,
		history:     make(map[string][]models.Candle),
		dropped:     make(map[string]uint64),
		stopChannel: make(chan struct{}),
	}

	// 信号先发布到本地总线，再由这个订阅者写入共享数据库。
	// 执行进程只认数据库里的单调序号。
	bus.Subscribe(eventbus.TopicSignalGenerated, func(payload interface{}) {
		sig, ok := payload.(*models.Signal)
		if !ok {
			return
		}
		id, err := store.AppendSignal(sig)
		if err != nil {
			logger.Errorw("信号写入共享数据库失败", "symbol", sig.Symbol, "error", err)
			return
		}
		sig.ID = id
		logger.Infow("信号已产生", "id", id, "symbol", sig.Symbol, "side", sig.Side,
			"confidence", sig.Confidence)
	})

	return a
}

// Warmup 把历史K线按正常路径灌进聚合器，让评估器一启动就有完整的回看窗口。
func (a *Analyzer) Warmup(symbol string, candles []models.Candle) {
	for _, c := range candles {
		a.fold(symbol, c)
	}
	a.logger.Infow("聚合器预热完成", "symbol", symbol, "candles", len(candles))
}

// Start 启动分析循环。
func (a *Analyzer) Start() {
	a.wg.Add(1)
	go a.loop()
	a.logger.Info("分析进程主循环已启动")
}

// Stop 停止分析循环。
func (a *Analyzer) Stop() {
	close(a.stopChannel)
	a.wg.Wait()
}

func (a *Analyzer) loop() {
	defer a.wg.Done()

	poll := time.NewTicker(200 * time.Millisecond)
	defer poll.Stop()
	heartbeat := time.NewTicker(time.Duration(a.cfg.HeartbeatIntervalSec) * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-a.stopChannel:
			return
		case <-heartbeat.C:
			a.controlRing.Beat(ring.SlotAnalyze)
		case <-poll.C:
			for symbol, r := range a.rings {
				for _, c := range r.ReadNew() {
					a.fold(symbol, c)
				}
				a.noteDrops(symbol, r.Dropped())
			}
		}
	}
}

// noteDrops 对照上次见过的累计丢弃数，只在计数前进时告警一次，
// 返回本轮新增的丢弃数。丢弃计数只增不减，直接比较总数即可。
func (a *Analyzer) noteDrops(symbol string, total uint64) uint64 {
	last := a.dropped[symbol]
	if total <= last {
		return 0
	}
	a.dropped[symbol] = total
	a.logger.Warnw("读取落后于写入，已跳过最旧的行情", "symbol", symbol,
		"droppedNew", total-last, "droppedTotal", total)
	return total - last
}

// fold 把一根基础K线折叠进聚合器，并对所有完成的桶运行评估器。
func (a *Analyzer) fold(symbol string, c models.Candle) {
	for _, fin := range a.agg.Apply(symbol, c) {
		key := fmt.Sprintf("%s/%s", fin.Symbol, fin.Frame.Name)
		window := append(a.history[key], fin.Candle)
		if len(window) > historyWindow {
			window = window[len(window)-historyWindow:]
		}
		a.history[key] = window

		for _, ev := range a.evaluators {
			sig, ok := ev.Evaluate(fin.Symbol, fin.Frame.Name, window)
			if !ok {
				continue
			}
			if sig.Confidence < a.cfg.ConfidenceFloor {
				continue
			}
			sigCopy := sig
			a.bus.Publish(eventbus.TopicSignalGenerated, &sigCopy)
		}
	}
}
