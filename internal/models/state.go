package models

import "time"

// PositionStatus 表示仓位生命周期状态，只允许 OPEN -> CLOSED 单向迁移
type PositionStatus string

const (
	StatusOpen   PositionStatus = "OPEN"
	StatusClosed PositionStatus = "CLOSED"
)

// CloseReason 记录一笔仓位被平掉的原因
type CloseReason string

const (
	ReasonTakeProfit CloseReason = "TP"
	ReasonStopLoss   CloseReason = "SL"
	ReasonManual     CloseReason = "MANUAL"
	ReasonExpired    CloseReason = "EXPIRED" // 超过最长持仓时间的强制平仓
)

// Position 是生命周期管理器独占持有的仓位记录。
// 开仓后只有管理器可以修改它；平仓后作为不可变记录交给持久化层。
type Position struct {
	PositionID string          `json:"position_id"`
	Symbol     string          `json:"symbol"`
	Side       Side            `json:"side"`
	Quantity   float64         `json:"quantity"`
	EntryPrice float64         `json:"entry_price"`
	TakeProfit float64         `json:"tp_level"`
	StopLoss   float64         `json:"sl_level"`
	Status     PositionStatus  `json:"status"`
	Features   FeatureSnapshot `json:"feature_snapshot"`
	EntryTime  time.Time       `json:"entry_time"`
}

// PositionAlert 在自动平仓重试耗尽、需要人工介入时发布
type PositionAlert struct {
	PositionID string    `json:"position_id"`
	Error      string    `json:"error"`
	Time       time.Time `json:"time"`
}

// TradeRecord 是平仓时一次性生成的结算记录，只追加、不修改
type TradeRecord struct {
	PositionID string        `json:"position_id"`
	Symbol     string        `json:"symbol"`
	Side       Side          `json:"side"`
	EntryPrice float64       `json:"entry_price"`
	ClosePrice float64       `json:"close_price"`
	Quantity   float64       `json:"quantity"`
	Pnl        float64       `json:"pnl"`     // 毛利润
	RoiPct     float64       `json:"roi_pct"` // 相对开仓名义价值的收益率（百分比）
	Commission float64       `json:"commission"`
	NetPnl     float64       `json:"net_pnl"` // pnl - commission
	Reason     CloseReason   `json:"reason"`
	Duration   time.Duration `json:"duration"`
	EntryTime  time.Time     `json:"entry_time"`
	CloseTime  time.Time     `json:"close_time"`
}

// AccountState 是生命周期管理器独占持有的账户状态，
// 每次开仓/平仓事务性更新，仓位规模计算器只读取它。
type AccountState struct {
	Balance           float64   `json:"balance"`
	RealizedPnl       float64   `json:"realized_pnl"`
	OpenPositionCount int       `json:"open_position_count"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// OpenSet 是执行进程落盘的持仓快照，崩溃后用于恢复监控
type OpenSet struct {
	RunID          string      `json:"run_id"`  // 本次运行的唯一标识
	Version        int         `json:"version"` // 快照模型的版本号，用于未来迁移
	Positions      []*Position `json:"positions"`
	Account        AccountState `json:"account"`
	LastUpdateTime time.Time   `json:"last_update_time"`
}
