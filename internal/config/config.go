package config

import (
	"encoding/json"
	"fmt"
	"os"

	"binance-signal-bot-go/internal/models"
)

// LoadConfig 从指定路径加载JSON配置文件并解析到Config结构体中
func LoadConfig(path string) (*models.Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	config := &models.Config{}
	err = decoder.Decode(config)
	if err != nil {
		return nil, err
	}

	applyDefaults(config)
	if err := validate(config); err != nil {
		return nil, err
	}

	return config, nil
}

// applyDefaults 为未填写的配置项补上安全的默认值
func applyDefaults(cfg *models.Config) {
	if cfg.Mode == "" {
		cfg.Mode = "paper"
	}
	if cfg.RunDir == "" {
		cfg.RunDir = "run"
	}
	if cfg.RingCapacity <= 0 {
		cfg.RingCapacity = 16384
	}
	if len(cfg.Timeframes) == 0 {
		cfg.Timeframes = []string{"1m", "5m", "15m", "1h", "4h", "1d"}
	}
	if cfg.TickPastHorizonDays <= 0 {
		cfg.TickPastHorizonDays = 365
	}
	if cfg.TickFutureSlackSec <= 0 {
		cfg.TickFutureSlackSec = 5
	}
	if cfg.RiskCap <= 0 {
		cfg.RiskCap = 0.05
	}
	if cfg.RewardRiskRatio <= 0 {
		cfg.RewardRiskRatio = 2.0
	}
	if cfg.BaseReturnRate <= 0 {
		cfg.BaseReturnRate = 0.004
	}
	if cfg.MaxReturnRate <= 0 {
		cfg.MaxReturnRate = 0.03
	}
	if cfg.VolatilityPenalty <= 0 {
		cfg.VolatilityPenalty = 25.0
	}
	if cfg.MinTradesForStats <= 0 {
		cfg.MinTradesForStats = 30
	}
	if cfg.DefaultWinRate <= 0 {
		cfg.DefaultWinRate = 0.45
	}
	if cfg.DefaultPayoffRatio <= 0 {
		cfg.DefaultPayoffRatio = 1.6
	}
	if cfg.ConfidenceFloor <= 0 {
		cfg.ConfidenceFloor = 0.55
	}
	if cfg.MaxOpenPositions <= 0 {
		cfg.MaxOpenPositions = 5
	}
	if cfg.CommissionRate <= 0 {
		cfg.CommissionRate = 0.0004
	}
	if cfg.MonitorIntervalSec <= 0 {
		cfg.MonitorIntervalSec = 1
	}
	if cfg.SignalPollMs <= 0 {
		cfg.SignalPollMs = 500
	}
	if cfg.SnapshotIntervalSec <= 0 {
		cfg.SnapshotIntervalSec = 60
	}
	if cfg.CloseRetryAttempts <= 0 {
		cfg.CloseRetryAttempts = 5
	}
	if cfg.RetryInitialDelayMs <= 0 {
		cfg.RetryInitialDelayMs = 500
	}
	if cfg.RetryMaxDelayMs <= 0 {
		cfg.RetryMaxDelayMs = 15000
	}
	if cfg.HeartbeatIntervalSec <= 0 {
		cfg.HeartbeatIntervalSec = 2
	}
	if cfg.HeartbeatStaleSec <= 0 {
		cfg.HeartbeatStaleSec = 10
	}
	if cfg.ShutdownGraceSec <= 0 {
		cfg.ShutdownGraceSec = 15
	}
}

// validate 检查配置中无法用默认值弥补的错误
func validate(cfg *models.Config) error {
	if len(cfg.Symbols) == 0 {
		return fmt.Errorf("配置缺少交易对: symbols 不能为空")
	}
	if cfg.Mode != "live" && cfg.Mode != "paper" {
		return fmt.Errorf("未知的运行模式: %s，只支持 live 或 paper", cfg.Mode)
	}
	if cfg.Mode == "paper" && cfg.InitialBalance <= 0 {
		return fmt.Errorf("paper 模式需要正的 initial_balance")
	}
	for _, name := range cfg.Timeframes {
		if _, err := models.ParseTimeframe(name); err != nil {
			return err
		}
	}
	return nil
}
