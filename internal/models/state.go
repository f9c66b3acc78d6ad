package models

import "time"

// LedgerState 定义了账本需要持久化的全部财务状态
type LedgerState struct {
	Version        int                  `json:"version"`          // 状态模型的版本号，用于未来迁移
	Cash           float64              `json:"cash"`             // 现金余额 (USD)
	Positions      map[string]*Position `json:"positions"`        // 按标的索引的持仓表
	EquitySeries   []EquitySample       `json:"equity_series"`    // 权益采样序列（时间升序）
	MaxEquity      float64              `json:"max_equity"`       // 历史最高权益，只增不减
	AppliedFills   map[string]bool      `json:"applied_fills"`    // 已应用成交的 ID 集合，保证幂等
	TradeCount     int                  `json:"trade_count"`      // 已持久化的交易记录数
	LastUpdateTime time.Time            `json:"last_update_time"` // 状态最后更新的时间戳
}

// BotStatus 是周期控制器的运行状态
type BotStatus string

const (
	StatusStopped BotStatus = "STOPPED"
	StatusRunning BotStatus = "RUNNING"
	StatusHalted  BotStatus = "HALTED" // 风控全局熔断，需人工确认后恢复
)

// BotState 对外暴露的控制器状态快照
type BotState struct {
	Status     BotStatus  `json:"status"`
	HaltReason RiskReason `json:"halt_reason,omitempty"` // 仅在 HALTED 时有值
	Since      time.Time  `json:"since"`
}
