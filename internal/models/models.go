package models

import (
	"fmt"
	"time"
)

// Config 结构体定义了机器人的所有配置参数
type Config struct {
	Mode          string   `json:"mode"`            // 运行模式: "live" 或 "paper"
	IsTestnet     bool     `json:"is_testnet"`      // 是否使用测试网
	Symbols       []string `json:"symbols"`         // 交易对列表，如 ["BTCUSDT"]
	RunDir        string   `json:"run_dir"`         // 运行时目录（共享内存、数据库文件）
	DBPath        string   `json:"db_path"`         // SQLite 数据库文件路径
	StateDBPath   string   `json:"state_db_path"`   // BadgerDB 持仓状态目录
	LiveAPIURL    string   `json:"live_api_url"`    // 生产网 REST 地址
	LiveWSURL     string   `json:"live_ws_url"`     // 生产网 WebSocket 地址
	TestnetAPIURL string   `json:"testnet_api_url"` // 测试网 REST 地址
	TestnetWSURL  string   `json:"testnet_ws_url"`  // 测试网 WebSocket 地址

	// 行情入口与共享内存环形缓冲区
	RingCapacity        int      `json:"ring_capacity"`          // 环形缓冲区槽位数量，默认 16384
	Timeframes          []string `json:"timeframes"`             // 聚合周期, 如 ["1m","5m","1h"]
	TickPastHorizonDays int      `json:"tick_past_horizon_days"` // 过期行情的拒绝阈值（天）
	TickFutureSlackSec  int      `json:"tick_future_slack_sec"`  // 允许的未来时间戳偏差（秒）

	// 仓位规模计算
	RiskCap            float64 `json:"risk_cap"`             // 单笔风险比例上限，如 0.05
	RewardRiskRatio    float64 `json:"reward_risk_ratio"`    // 预期盈亏比，用于推导止损距离
	BaseReturnRate     float64 `json:"base_return_rate"`     // 预期收益率基数
	MaxReturnRate      float64 `json:"max_return_rate"`      // 预期收益率上限
	VolatilityPenalty  float64 `json:"volatility_penalty"`   // 波动率惩罚系数
	MinTradesForStats  int     `json:"min_trades_for_stats"` // 启用历史胜率统计所需的最少交易数
	DefaultWinRate     float64 `json:"default_win_rate"`     // 统计样本不足时的默认胜率
	DefaultPayoffRatio float64 `json:"default_payoff_ratio"` // 统计样本不足时的默认盈亏比
	ConfidenceFloor    float64 `json:"confidence_floor"`     // 低于该置信度的信号直接忽略

	// 仓位生命周期
	MaxOpenPositions    int     `json:"max_open_positions"`    // 同时持有的最大仓位数
	InitialBalance      float64 `json:"initial_balance"`       // 模拟盘初始资金 (USDT)
	CommissionRate      float64 `json:"commission_rate"`       // 单边手续费率
	SlippageRate        float64 `json:"slippage_rate"`         // 模拟盘滑点率
	MinNotionalValue    float64 `json:"min_notional_value"`    // 交易所最小订单名义价值
	QuantityStepSize    string  `json:"quantity_step_size"`    // 数量步长，如 "0.001"，由交易边界取整
	MaxHoldingAgeSec    int     `json:"max_holding_age_sec"`   // 强制平仓的最长持仓时间（秒），0 表示不启用
	MonitorIntervalSec  int     `json:"monitor_interval_sec"`  // 仓位监控间隔（秒）
	SignalPollMs        int     `json:"signal_poll_ms"`        // 执行进程拉取新信号的间隔（毫秒）
	SnapshotIntervalSec int     `json:"snapshot_interval_sec"` // 账户快照落盘间隔（秒）

	// 平仓失败重试
	CloseRetryAttempts  int `json:"close_retry_attempts"`   // 平仓失败时的重试次数
	RetryInitialDelayMs int `json:"retry_initial_delay_ms"` // 重试前的初始延迟毫秒数
	RetryMaxDelayMs     int `json:"retry_max_delay_ms"`     // 重试延迟上限毫秒数

	// 进程监督
	HeartbeatIntervalSec int `json:"heartbeat_interval_sec"` // 各逻辑单元写入心跳的间隔（秒）
	HeartbeatStaleSec    int `json:"heartbeat_stale_sec"`    // 心跳超过该时长视为失联（秒）
	ShutdownGraceSec     int `json:"shutdown_grace_sec"`     // 优雅退出的最大等待时间（秒）

	LogConfig LogConfig `json:"log"` // 日志配置

	BaseURL   string `json:"base_url"`    // REST API基础地址 (将由程序动态设置)
	WSBaseURL string `json:"ws_base_url"` // WebSocket基础地址 (将由程序动态设置)
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `json:"level"`       // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `json:"output"`      // 输出模式: "console", "file", "both"
	File       string `json:"file"`        // 日志文件路径
	MaxSize    int    `json:"max_size"`    // 单个日志文件的最大大小 (MB)
	MaxBackups int    `json:"max_backups"` // 保留的旧日志文件最大数量
	MaxAge     int    `json:"max_age"`     // 旧日志文件的最大保留天数
	Compress   bool   `json:"compress"`    // 是否压缩旧日志文件
}

// Candle 是一个时间桶内行情的 OHLCV 汇总，通过防火墙校验后即不可变
type Candle struct {
	Timestamp int64   `json:"timestamp"` // 开盘时间（毫秒）
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// RawTick 是来自行情客户端的未校验原始数据。数值以字符串形式透传，
// 解析和拒绝都是防火墙的职责，行情客户端不做任何校验。
type RawTick struct {
	Symbol      string `json:"s"`
	TimestampMs int64  `json:"t"`
	Open        string `json:"o"`
	High        string `json:"h"`
	Low         string `json:"l"`
	Close       string `json:"c"`
	Volume      string `json:"v"`
}

// Side 定义了交易方向的类型
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite 返回相反的交易方向
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Signal 是外部评估器产出的交易信号，对核心而言是不可变的载荷
type Signal struct {
	ID         int64           `json:"id"` // 由信号存储分配的单调序号，执行进程以此为游标
	Symbol     string          `json:"symbol"`
	Side       Side            `json:"side"`
	Confidence float64         `json:"confidence"` // [0,1]
	Features   FeatureSnapshot `json:"feature_snapshot"`
	ProducedAt int64           `json:"produced_at"` // 毫秒
}

// OrderSpec 是仓位规模计算器的输出，由生命周期管理器消费。
// Quantity 未按交易所步长取整，步长取整是交易边界的职责。
type OrderSpec struct {
	Symbol        string          `json:"symbol"`
	Side          Side            `json:"side"`
	Quantity      float64         `json:"quantity"`
	EntryEstimate float64         `json:"entry_price_estimate"`
	TakeProfit    float64         `json:"tp_level"`
	StopLoss      float64         `json:"sl_level"`
	RiskFraction  float64         `json:"risk_fraction"`
	Features      FeatureSnapshot `json:"feature_snapshot"`
}

// Error 定义了交易所API返回的错误信息结构
type Error struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// Error 方法使得 Error 实现了 error 接口
func (e *Error) Error() string {
	return fmt.Sprintf("API Error: code=%d, msg=%s", e.Code, e.Msg)
}

// Timeframe 表示一个聚合周期
type Timeframe struct {
	Name     string
	Duration time.Duration
}

// ParseTimeframe 把 "1m"/"5m"/"1h" 这类周期名解析为 Timeframe
func ParseTimeframe(name string) (Timeframe, error) {
	switch name {
	case "1m":
		return Timeframe{Name: name, Duration: time.Minute}, nil
	case "3m":
		return Timeframe{Name: name, Duration: 3 * time.Minute}, nil
	case "5m":
		return Timeframe{Name: name, Duration: 5 * time.Minute}, nil
	case "15m":
		return Timeframe{Name: name, Duration: 15 * time.Minute}, nil
	case "30m":
		return Timeframe{Name: name, Duration: 30 * time.Minute}, nil
	case "1h":
		return Timeframe{Name: name, Duration: time.Hour}, nil
	case "4h":
		return Timeframe{Name: name, Duration: 4 * time.Hour}, nil
	case "1d":
		return Timeframe{Name: name, Duration: 24 * time.Hour}, nil
	}
	return Timeframe{}, fmt.Errorf("未知的聚合周期: %s", name)
}
