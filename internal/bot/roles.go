// Package bot 把各逻辑单元组装成可独立运行的角色进程。
// 同一个二进制按 -role 参数进入不同的角色入口，
// 角色之间只通过共享内存环形缓冲区和共享数据库通信。
package bot

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"binance-signal-bot-go/internal/analyzer"
	"binance-signal-bot-go/internal/downloader"
	"binance-signal-bot-go/internal/eventbus"
	"binance-signal-bot-go/internal/exchange"
	"binance-signal-bot-go/internal/executor"
	"binance-signal-bot-go/internal/feed"
	"binance-signal-bot-go/internal/firewall"
	"binance-signal-bot-go/internal/lifecycle"
	"binance-signal-bot-go/internal/models"
	"binance-signal-bot-go/internal/persistence"
	"binance-signal-bot-go/internal/reporter"
	"binance-signal-bot-go/internal/ring"
	"binance-signal-bot-go/internal/sizer"
	"binance-signal-bot-go/internal/storage"
	"binance-signal-bot-go/internal/supervisor"

	"go.uber.org/zap"
)

// backfillDays 是聚合器预热回补的历史天数。
const backfillDays = 3

// waitForShutdown 阻塞到收到 SIGTERM 或 SIGINT。
func waitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	<-sigCh
}

// openRings 附着到监督器创建好的所有环形缓冲区。
// 返回值里第一个交易对的环充当控制环。
func openRings(cfg *models.Config) (map[string]*ring.Ring, *ring.Ring, error) {
	rings := make(map[string]*ring.Ring, len(cfg.Symbols))
	for _, symbol := range cfg.Symbols {
		r, err := ring.Open(supervisor.RingPath(cfg.RunDir, symbol))
		if err != nil {
			for _, opened := range rings {
				opened.Close()
			}
			return nil, nil, fmt.Errorf("附着环形缓冲区失败 %s: %v", symbol, err)
		}
		rings[symbol] = r
	}
	return rings, rings[cfg.Symbols[0]], nil
}

func closeRings(rings map[string]*ring.Ring) {
	for _, r := range rings {
		r.Close()
	}
}

// backfillPath 返回某个交易对的历史回补CSV缓存路径。
func backfillPath(cfg *models.Config, symbol string) string {
	return filepath.Join(cfg.RunDir, "backfill", fmt.Sprintf("%s.csv", symbol))
}

// parseFrames 解析配置里的聚合周期。
func parseFrames(cfg *models.Config) ([]models.Timeframe, error) {
	frames := make([]models.Timeframe, 0, len(cfg.Timeframes))
	for _, name := range cfg.Timeframes {
		tf, err := models.ParseTimeframe(name)
		if err != nil {
			return nil, err
		}
		frames = append(frames, tf)
	}
	return frames, nil
}

// signalFrame 选出评估器监听的周期：配置的第二个周期，
// 第一个周期是基础周期，噪声太大。
func signalFrame(cfg *models.Config) string {
	if len(cfg.Timeframes) > 1 {
		return cfg.Timeframes[1]
	}
	return cfg.Timeframes[0]
}

// RunIngest 是行情接入角色：WebSocket行情经防火墙校验后写入共享内存。
func RunIngest(cfg *models.Config, logger *zap.SugaredLogger) error {
	rings, control, err := openRings(cfg)
	if err != nil {
		return err
	}
	defer closeRings(rings)

	fw := firewall.New(
		time.Duration(cfg.TickPastHorizonDays)*24*time.Hour,
		time.Duration(cfg.TickFutureSlackSec)*time.Second,
	)

	overflowWarn := time.Time{}
	handler := func(tick models.RawTick) {
		candle, ok := fw.Validate(tick)
		if !ok {
			return
		}
		r, exists := rings[tick.Symbol]
		if !exists {
			return
		}
		if !r.Write(candle) && time.Since(overflowWarn) > time.Minute {
			overflowWarn = time.Now()
			logger.Warnw("环形缓冲区写入覆盖了未读行情", "symbol", tick.Symbol,
				"overflowsTotal", r.Overflows())
		}
	}

	klineFeed := feed.NewKlineFeed(cfg.WSBaseURL, cfg.Symbols, handler, logger)
	klineFeed.Start()
	defer klineFeed.Stop()

	heartbeat := time.NewTicker(time.Duration(cfg.HeartbeatIntervalSec) * time.Second)
	defer heartbeat.Stop()
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-heartbeat.C:
				control.Beat(ring.SlotIngest)
			}
		}
	}()

	logger.Infow("行情接入角色已启动", "symbols", cfg.Symbols)
	waitForShutdown()
	close(done)
	logger.Infow("行情接入角色退出", "rejectedTicks", fw.Rejected())
	return nil
}

// RunAnalyze 是分析角色：共享内存行情 -> 聚合 -> 评估 -> 信号落库。
func RunAnalyze(cfg *models.Config, logger *zap.SugaredLogger) error {
	rings, control, err := openRings(cfg)
	if err != nil {
		return err
	}
	defer closeRings(rings)

	frames, err := parseFrames(cfg)
	if err != nil {
		return err
	}

	store, err := storage.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("打开共享数据库失败: %v", err)
	}
	defer store.Close()

	evaluators := []analyzer.Evaluator{
		analyzer.NewMomentumEvaluator(signalFrame(cfg), 12, 0.3),
	}

	a := analyzer.New(cfg, rings, control, frames, evaluators, eventbus.New(), store, logger)
	warmupAnalyzer(cfg, a, logger)

	a.Start()
	defer a.Stop()

	logger.Info("分析角色已启动")
	waitForShutdown()
	return nil
}

// warmupAnalyzer 用维护角色回补的历史数据预热聚合器。
// 历史数据与实时行情走同一个防火墙。
func warmupAnalyzer(cfg *models.Config, a *analyzer.Analyzer, logger *zap.SugaredLogger) {
	dl := downloader.NewKlineDownloader(logger)
	fw := firewall.New(
		time.Duration(cfg.TickPastHorizonDays)*24*time.Hour,
		time.Duration(cfg.TickFutureSlackSec)*time.Second,
	)

	for _, symbol := range cfg.Symbols {
		path := backfillPath(cfg, symbol)
		if _, err := os.Stat(path); err != nil {
			continue // 维护角色还没回补完，跳过预热
		}
		ticks, err := dl.LoadTicks(symbol, path)
		if err != nil {
			logger.Warnw("读取历史回补数据失败", "symbol", symbol, "error", err)
			continue
		}
		candles := make([]models.Candle, 0, len(ticks))
		for _, tick := range ticks {
			if candle, ok := fw.Validate(tick); ok {
				candles = append(candles, candle)
			}
		}
		a.Warmup(symbol, candles)
	}
}

// RunExecute 是执行角色：消费信号、开仓、监控止盈止损、结算落库。
func RunExecute(cfg *models.Config, logger *zap.SugaredLogger) error {
	store, err := storage.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("打开共享数据库失败: %v", err)
	}
	defer store.Close()

	badgerRepo, err := persistence.NewBadgerRepository(cfg.StateDBPath)
	if err != nil {
		return fmt.Errorf("打开持仓状态库失败: %v", err)
	}
	// 快照写盘走异步合并，监控循环不等磁盘
	repo := persistence.NewAsyncWriter(badgerRepo, logger)
	defer repo.Close()

	control, err := ring.Open(supervisor.ControlRingPath(cfg))
	if err != nil {
		return fmt.Errorf("附着控制环失败: %v", err)
	}
	defer control.Close()

	prices := feed.NewPriceFeed(cfg.WSBaseURL, cfg.Symbols, logger)
	prices.Start()
	defer prices.Stop()

	ex, err := buildExchange(cfg, logger)
	if err != nil {
		return err
	}

	bus := eventbus.New()
	manager, err := lifecycle.NewManager(cfg, ex, bus, repo, store, prices.Price, logger)
	if err != nil {
		return err
	}

	exec, err := executor.New(cfg, store, bus, sizer.New(cfg), manager, ex, prices.Price, control, logger)
	if err != nil {
		return err
	}

	exec.Start()
	logger.Infow("执行角色已启动", "mode", cfg.Mode)
	waitForShutdown()
	exec.Stop()

	// 会话结束时输出交易报告
	trades, err := store.ListTrades()
	if err != nil {
		logger.Warnw("读取交易记录失败，跳过会话报告", "error", err)
		return nil
	}
	reporter.GenerateReport(trades, cfg.InitialBalance)
	return nil
}

// buildExchange 根据运行模式选择真实交易所或模拟交易所。
func buildExchange(cfg *models.Config, logger *zap.SugaredLogger) (exchange.Exchange, error) {
	if cfg.Mode == "paper" {
		return exchange.NewPaperExchange(cfg), nil
	}

	apiKey := os.Getenv("BINANCE_API_KEY")
	secretKey := os.Getenv("BINANCE_SECRET_KEY")
	if apiKey == "" || secretKey == "" {
		return nil, fmt.Errorf("实盘模式需要设置 BINANCE_API_KEY 和 BINANCE_SECRET_KEY 环境变量")
	}
	return exchange.NewLiveExchange(apiKey, secretKey, cfg.BaseURL, cfg.QuantityStepSize, logger)
}

// RunMaintain 是维护角色：历史数据回补、共享数据库修剪、心跳。
func RunMaintain(cfg *models.Config, logger *zap.SugaredLogger) error {
	store, err := storage.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("打开共享数据库失败: %v", err)
	}
	defer store.Close()

	control, err := ring.Open(supervisor.ControlRingPath(cfg))
	if err != nil {
		return fmt.Errorf("附着控制环失败: %v", err)
	}
	defer control.Close()

	// 先回补历史K线，供分析角色预热聚合器
	dl := downloader.NewKlineDownloader(logger)
	end := time.Now()
	start := end.AddDate(0, 0, -backfillDays)
	for _, symbol := range cfg.Symbols {
		if err := dl.DownloadKlines(symbol, backfillPath(cfg, symbol), start, end); err != nil {
			logger.Warnw("历史数据回补失败", "symbol", symbol, "error", err)
		}
	}

	heartbeat := time.NewTicker(time.Duration(cfg.HeartbeatIntervalSec) * time.Second)
	defer heartbeat.Stop()
	prune := time.NewTicker(time.Hour)
	defer prune.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	logger.Info("维护角色已启动")
	for {
		select {
		case <-sigCh:
			return nil
		case <-heartbeat.C:
			control.Beat(ring.SlotMaintain)
		case <-prune.C:
			cutoff := time.Now().AddDate(0, 0, -7).UnixMilli()
			pruned, err := store.PruneSignals(cutoff)
			if err != nil {
				logger.Warnw("信号修剪失败", "error", err)
				continue
			}
			if pruned > 0 {
				logger.Infow("已修剪过期信号", "pruned", pruned)
			}
		}
	}
}
