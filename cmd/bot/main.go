package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"binance-signal-bot-go/internal/bot"
	"binance-signal-bot-go/internal/config"
	"binance-signal-bot-go/internal/logger"
	"binance-signal-bot-go/internal/models"
	"binance-signal-bot-go/internal/supervisor"

	"github.com/joho/godotenv"
)

func main() {
	// --- 命令行参数定义 ---
	configPath := flag.String("config", "config.json", "path to the config file")
	role := flag.String("role", "supervisor", "logical unit to run: supervisor, ingest, analyze, execute or maintain")
	flag.Parse()

	// --- 初始化日志 (提前) ---
	// 为了在加载.env或配置时就能记录日志，先用默认配置初始化一个临时logger
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	// --- 加载 .env 文件 ---
	if err := godotenv.Load(); err != nil {
		logger.S().Info("未找到 .env 文件，将从系统环境变量中读取。")
	} else {
		logger.S().Info("成功从 .env 文件加载配置。")
	}

	// --- 加载 JSON 配置 ---
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.S().Fatalf("无法加载配置文件: %v", err)
	}

	// 根据是否使用测试网确定实际的接口地址
	if cfg.IsTestnet {
		cfg.BaseURL = cfg.TestnetAPIURL
		cfg.WSBaseURL = cfg.TestnetWSURL
	} else {
		cfg.BaseURL = cfg.LiveAPIURL
		cfg.WSBaseURL = cfg.LiveWSURL
	}

	// --- 使用文件中的配置重新初始化日志 ---
	logger.InitLogger(cfg.LogConfig)
	defer logger.S().Sync()

	log := logger.S().With("role", *role)

	// --- 按角色分发 ---
	switch *role {
	case "supervisor":
		runSupervisor(cfg, *configPath)
	case "ingest":
		if err := bot.RunIngest(cfg, log); err != nil {
			log.Fatalf("行情接入角色异常退出: %v", err)
		}
	case "analyze":
		if err := bot.RunAnalyze(cfg, log); err != nil {
			log.Fatalf("分析角色异常退出: %v", err)
		}
	case "execute":
		if err := bot.RunExecute(cfg, log); err != nil {
			log.Fatalf("执行角色异常退出: %v", err)
		}
	case "maintain":
		if err := bot.RunMaintain(cfg, log); err != nil {
			log.Fatalf("维护角色异常退出: %v", err)
		}
	default:
		logger.S().Fatalf("未知的角色: %s。", *role)
	}
}

// runSupervisor 运行进程监督器，直到收到退出信号。
func runSupervisor(cfg *models.Config, configPath string) {
	log := logger.S().With("role", "supervisor")
	sup := supervisor.New(cfg, configPath, log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		log.Infow("收到退出信号，开始优雅停机", "signal", sig)
		sup.Stop()
	}()

	if err := sup.Run(); err != nil {
		log.Fatalf("监督器异常退出: %v", err)
	}
	log.Info("监督器已退出")
}
