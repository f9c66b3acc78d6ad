package models

import "time"

// Config 结构体定义了机器人的所有配置参数
type Config struct {
	Symbols           []string `json:"symbols"`             // 交易标的列表, 如 ["BTC-USD", "ETH-USD"]
	TickIntervalSec   int      `json:"tick_interval_sec"`   // 每个决策周期的间隔（秒）
	SimulationMode    bool     `json:"simulation_mode"`     // 是否使用模拟撮合（否则对接真实交易所）
	InitialCash       float64  `json:"initial_cash"`        // 初始现金（仅在无持久化账本时生效）
	CapitalFloorPct   float64  `json:"capital_floor_pct"`   // 资金保护线：权益低于历史最高点的该比例时全局停止交易
	MaxDailyLossPct   float64  `json:"max_daily_loss_pct"`  // 单日最大亏损比例（相对当日起始权益）
	MaxPositionPct    float64  `json:"max_position_pct"`    // 单笔名义价值占总权益的上限
	MinConfidence     float64  `json:"min_confidence"`      // 信号置信度下限
	KellySafetyFactor float64  `json:"kelly_safety_factor"` // 凯利公式安全系数（分数凯利）
	PayoffRatio       float64  `json:"payoff_ratio"`        // 假定盈亏比，用于将置信度映射为统计优势
	CostCeilingRatio  float64  `json:"cost_ceiling_ratio"`  // 预估执行成本占名义价值的上限
	MinOrderNotional  float64  `json:"min_order_notional"`  // 最小订单名义价值 (USD)

	// 出场管理（对已有持仓的周期性检查）
	ProfitTargetPct  float64 `json:"profit_target_pct"`  // 止盈比例
	StopLossPct      float64 `json:"stop_loss_pct"`      // 硬止损比例
	TrailingStopPct  float64 `json:"trailing_stop_pct"`  // 回撤止盈比例（相对持仓高水位）
	TrailingArmedPct float64 `json:"trailing_armed_pct"` // 浮盈超过该比例后回撤止盈才生效
	MaxHoldHours     float64 `json:"max_hold_hours"`     // 最长持仓时间（小时），超时且无明显盈利则离场
	StaleProfitPct   float64 `json:"stale_profit_pct"`   // 超时离场的盈利豁免阈值

	// 信号生成
	SignalTimeoutSec   int     `json:"signal_timeout_sec"`   // AI 分析的时间预算（秒）
	AIWeight           float64 `json:"ai_weight"`            // AI 置信度在混合置信度中的权重
	TechnicalWeight    float64 `json:"technical_weight"`     // 技术指标置信度的权重
	AnalysisBaseURL    string  `json:"analysis_base_url"`    // 分析后端地址 (OpenAI 兼容接口)
	AnalysisModel      string  `json:"analysis_model"`       // 分析后端使用的模型名
	BreakerMaxFailures uint32  `json:"breaker_max_failures"` // 熔断前允许的连续失败次数
	BreakerCooldownSec int     `json:"breaker_cooldown_sec"` // 熔断后的冷却时间（秒）

	// 执行
	ExecutionTimeoutSec int     `json:"execution_timeout_sec"`  // 单次下单的超时（秒）
	RetryInitialDelayMs int     `json:"retry_initial_delay_ms"` // 瞬时错误重试前的延迟（毫秒）
	FillPollIntervalMs  int     `json:"fill_poll_interval_ms"`  // 实盘模式轮询成交的间隔（毫秒）
	ExchangeRateLimit   float64 `json:"exchange_rate_limit"`    // 对交易所请求的每秒限速

	// 模拟撮合引擎
	SimSeed         int64   `json:"sim_seed"`          // 模拟行情与撮合的随机种子（可复现）
	SimSlippageRate float64 `json:"sim_slippage_rate"` // 模拟滑点率
	SimFeeRate      float64 `json:"sim_fee_rate"`      // 模拟手续费率
	SimLatencyMs    int     `json:"sim_latency_ms"`    // 模拟成交延迟（毫秒）
	SimMaxNotional  float64 `json:"sim_max_notional"`  // 模拟流动性所能承接的单笔名义价值上限

	DBPath        string    `json:"db_path"`         // 数据库文件路径
	APIListenAddr string    `json:"api_listen_addr"` // HTTP API 监听地址
	AutoStart     bool      `json:"auto_start"`      // 进程启动后是否自动进入 Running
	LogConfig     LogConfig `json:"log"`             // 日志配置

	// 版本号在每次运行时配置更新后递增；周期开始时取一次快照，避免管道中途撕裂
	Version int `json:"-"`
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

// Side 定义了交易方向的类型
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Direction 是信号的方向：买入、卖出或观望
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
	DirectionHold Direction = "HOLD"
)

// RegimeLabel 是对当前市场状态的粗粒度分类
type RegimeLabel string

const (
	RegimeTrend           RegimeLabel = "TREND"            // 趋势行情
	RegimeMeanReversion   RegimeLabel = "MEAN_REVERSION"   // 均值回归行情
	RegimeVolatilityCrush RegimeLabel = "VOLATILITY_CRUSH" // 波动率收缩
	RegimeShock           RegimeLabel = "SHOCK"            // 剧烈冲击
)

// Snapshot 是某一时刻单个标的的市场快照，在一个周期内只读
type Snapshot struct {
	Symbol     string    `json:"symbol"`
	Price      float64   `json:"price"`
	Volume     float64   `json:"volume"`     // 近期名义成交量 (USD)
	Returns    []float64 `json:"returns"`    // 最近 N 期的收益率序列（时间升序）
	Volatility float64   `json:"volatility"` // 收益率的标准差估计
	Timestamp  time.Time `json:"timestamp"`
}

// Signal 是一次分析的最终产物：方向、置信度和理由
type Signal struct {
	Symbol      string      `json:"symbol"`
	Direction   Direction   `json:"direction"`
	Confidence  float64     `json:"confidence"` // 位于 [0,1]
	Rationale   string      `json:"rationale"`
	Risks       string      `json:"risks,omitempty"`
	Regime      RegimeLabel `json:"regime"`
	GeneratedAt time.Time   `json:"generated_at"`
}

// RiskReason 是风控拒绝交易时的机器可读原因
type RiskReason string

const (
	ReasonCapitalFloorBreached RiskReason = "CapitalFloorBreached"
	ReasonDailyLossLimitHit    RiskReason = "DailyLossLimitHit"
	ReasonLowConfidence        RiskReason = "LowConfidence"
	ReasonZeroSize             RiskReason = "ZeroSize"
	ReasonExcessiveCost        RiskReason = "ExcessiveCost"

	// 仅作为全局熔断原因出现，不会出现在单笔风控裁决中
	ReasonInvariantViolation RiskReason = "InvariantViolation"
)

// Verdict 是风控管道的三种结论
type Verdict string

const (
	VerdictApproved Verdict = "APPROVED"
	VerdictRejected Verdict = "REJECTED"
	VerdictModified Verdict = "MODIFIED" // 通过，但数量被调低
)

// RiskDecision 是风控管道对一笔拟议交易的裁决，仅在周期内存活
type RiskDecision struct {
	Verdict  Verdict    `json:"verdict"`
	Reason   RiskReason `json:"reason,omitempty"`
	Detail   string     `json:"detail,omitempty"`
	Quantity float64    `json:"quantity"` // 裁决后的数量（基础货币）
	Notional float64    `json:"notional"` // 裁决后的名义价值 (USD)
}

// Order 是一笔交易意图，由仓位计算产生、执行适配器消费，成交或拒绝后即丢弃
type Order struct {
	ClientOrderID string    `json:"client_order_id"` // 幂等标识，base62 编码
	Symbol        string    `json:"symbol"`
	Side          Side      `json:"side"`
	Quantity      float64   `json:"quantity"` // 基础货币数量
	MaxCost       float64   `json:"max_cost"` // 可接受的最大执行成本（滑点+费用, USD）
	CreatedAt     time.Time `json:"created_at"`
}

// ExecutionMode 区分模拟成交与实盘成交
type ExecutionMode string

const (
	ModeSimulated ExecutionMode = "SIMULATED"
	ModeLive      ExecutionMode = "LIVE"
)

// Fill 是一次成交结果，一经记录不可变
type Fill struct {
	ID            string        `json:"id"` // 全局唯一，用于幂等去重
	ClientOrderID string        `json:"client_order_id"`
	Symbol        string        `json:"symbol"`
	Side          Side          `json:"side"`
	Quantity      float64       `json:"quantity"`
	Price         float64       `json:"price"`
	Fee           float64       `json:"fee"`
	Mode          ExecutionMode `json:"mode"`
	Timestamp     time.Time     `json:"timestamp"`
}

// TradeStatus 是持久化交易记录的最终状态
type TradeStatus string

const (
	TradeFilled   TradeStatus = "filled"
	TradeRejected TradeStatus = "rejected"
	TradePending  TradeStatus = "pending"
)

// Trade 是订单与成交（或拒绝）合并后的持久化记录，只追加、不修改
type Trade struct {
	ID            string        `json:"id"`
	ClientOrderID string        `json:"client_order_id,omitempty"`
	Symbol        string        `json:"symbol"`
	Side          Side          `json:"side"`
	Quantity      float64       `json:"quantity"`
	Price         float64       `json:"price"`
	Fee           float64       `json:"fee"`
	Status        TradeStatus   `json:"status"`
	Reason        string        `json:"reason,omitempty"` // 拒绝原因或离场原因
	Rationale     string        `json:"rationale,omitempty"`
	Regime        RegimeLabel   `json:"regime,omitempty"`
	Confidence    float64       `json:"confidence,omitempty"`
	Mode          ExecutionMode `json:"mode,omitempty"`
	PnL           float64       `json:"pnl,omitempty"` // 平仓时的已实现盈亏
	CreatedAt     time.Time     `json:"created_at"`
}

// Position 是某标的的当前持仓，只能由账本通过应用成交来修改
type Position struct {
	Symbol        string    `json:"symbol"`
	Quantity      float64   `json:"quantity"`
	AvgEntryPrice float64   `json:"avg_entry_price"`
	HighWaterMark float64   `json:"high_water_mark"` // 持仓期间出现过的最高价，用于回撤止盈
	OpenedAt      time.Time `json:"opened_at"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// EquitySample 是一次权益采样，构成计算历史最高点与回撤的有序序列
type EquitySample struct {
	Timestamp      time.Time `json:"timestamp"`
	CashBalance    float64   `json:"cash_balance"`
	PositionsValue float64   `json:"positions_value"`
	TotalEquity    float64   `json:"total_equity"`
}

// AnalysisResult 是外部分析后端返回结果在边界处的严格模式。
// 外部返回的任何形状都必须先归一化为该结构再进入下游。
type AnalysisResult struct {
	Regime         RegimeLabel `json:"regime"`
	Recommendation Direction   `json:"recommendation"`
	Confidence     float64     `json:"confidence"` // 已钳制到 [0,1]
	Reasoning      string      `json:"reasoning"`
	Risks          string      `json:"risks"`
}

// Stats 是对外暴露的看板汇总
type Stats struct {
	TotalEquity     float64 `json:"total_equity"`
	DailyPnL        float64 `json:"daily_pnl"`
	TotalPositions  int     `json:"total_positions"`
	TotalTrades     int     `json:"total_trades"`
	CurrentDrawdown float64 `json:"current_drawdown"` // 相对历史最高点的回撤百分比
}

// RiskMetrics 是对外暴露的风控指标
type RiskMetrics struct {
	MaxEquity       float64 `json:"max_equity"`
	EquityFloor     float64 `json:"equity_floor"`
	CashBalance     float64 `json:"cash_balance"`
	PositionsValue  float64 `json:"positions_value"`
	CurrentDrawdown float64 `json:"current_drawdown"`
}
