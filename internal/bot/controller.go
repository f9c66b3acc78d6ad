package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jxskiss/base62"

	"ai-trading-bot-go/internal/exchange"
	"ai-trading-bot-go/internal/ledger"
	"ai-trading-bot-go/internal/logger"
	"ai-trading-bot-go/internal/market"
	"ai-trading-bot-go/internal/models"
	"ai-trading-bot-go/internal/regime"
	"ai-trading-bot-go/internal/risk"
	"ai-trading-bot-go/internal/signal"
)

// 离场原因，写入交易记录的 Reason 字段
const (
	exitStopLoss     = "stop_loss"
	exitProfitTarget = "profit_target"
	exitTrailingStop = "trailing_stop"
	exitTimeLimit    = "time_exit"
)

// Controller 是决策周期的核心控制器。
// 它驱动 行情→状态分类→信号→风控→执行→记账 的固定管道，
// 维护 STOPPED / RUNNING / HALTED 三态，并保证全局熔断后
// 必须人工确认才能恢复交易。
type Controller struct {
	mu         sync.RWMutex
	config     *models.Config
	state      models.BotState
	ledger     *ledger.Ledger
	provider   market.Provider
	generator  *signal.Generator
	gatekeeper *risk.Gatekeeper
	adapter    *exchange.Adapter
	metrics    *Metrics

	analyses map[string]models.Signal // 各标的最近一次的信号，供看板查询

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopping chan struct{}
}

// NewController 组装控制器。所有依赖由调用方构造并注入。
func NewController(
	config *models.Config,
	ldg *ledger.Ledger,
	provider market.Provider,
	generator *signal.Generator,
	gatekeeper *risk.Gatekeeper,
	adapter *exchange.Adapter,
	metrics *Metrics,
) *Controller {
	return &Controller{
		config:     config,
		state:      models.BotState{Status: models.StatusStopped, Since: time.Now()},
		ledger:     ldg,
		provider:   provider,
		generator:  generator,
		gatekeeper: gatekeeper,
		adapter:    adapter,
		metrics:    metrics,
		analyses:   make(map[string]models.Signal),
	}
}

// Start 启动所有标的的决策循环。只能从 STOPPED 状态启动；
// HALTED 状态必须先 AcknowledgeHalt。
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state.Status {
	case models.StatusRunning:
		return errors.New("bot is already running")
	case models.StatusHalted:
		return fmt.Errorf("bot is halted (%s), acknowledge the halt first", c.state.HaltReason)
	}

	config := c.config
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	stopping := make(chan struct{})
	c.stopping = stopping
	c.state = models.BotState{Status: models.StatusRunning, Since: time.Now()}

	for _, symbol := range config.Symbols {
		c.wg.Add(1)
		go c.symbolLoop(ctx, stopping, symbol)
	}
	logger.S().Infow("控制器已启动", "symbols", config.Symbols, "mode", c.adapter.Mode())
	return nil
}

// Stop 优雅停机：先标记停止意图，再取消循环并等待退出。
// 周期内已生成的信号不会再提交订单，已提交的订单会等它收尾。
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.state.Status == models.StatusStopped {
		c.mu.Unlock()
		return
	}
	if c.stopping != nil {
		close(c.stopping)
		c.stopping = nil
	}
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()

	c.mu.Lock()
	c.cancel = nil
	// 熔断状态保留，停机不能当作对熔断的确认
	if c.state.Status != models.StatusHalted {
		c.state = models.BotState{Status: models.StatusStopped, Since: time.Now()}
	}
	c.mu.Unlock()
	logger.S().Info("控制器已停止")
}

// AcknowledgeHalt 人工确认熔断。确认时重新检查触发条件：
// 条件仍然成立则拒绝恢复，避免确认之后立刻再次熔断。
func (c *Controller) AcknowledgeHalt() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Status != models.StatusHalted {
		return errors.New("bot is not halted")
	}

	config := c.config
	view := c.ledger.RiskView("")
	switch c.state.HaltReason {
	case models.ReasonCapitalFloorBreached:
		if view.MaxEquity > 0 && view.Equity.TotalEquity < view.MaxEquity*config.CapitalFloorPct {
			return fmt.Errorf("capital floor still breached: equity %.2f below floor %.2f",
				view.Equity.TotalEquity, view.MaxEquity*config.CapitalFloorPct)
		}
	case models.ReasonDailyLossLimitHit:
		if view.DailyPnL <= -config.MaxDailyLossPct*view.DayStartEquity {
			return fmt.Errorf("daily loss limit still hit: pnl %.2f", view.DailyPnL)
		}
	}

	running := c.cancel != nil
	status := models.StatusStopped
	if running {
		status = models.StatusRunning
	}
	c.state = models.BotState{Status: status, Since: time.Now()}
	logger.S().Warnw("熔断已人工确认", "resumedStatus", status)
	return nil
}

// State 返回控制器状态快照。
func (c *Controller) State() models.BotState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// UpdateConfig 在两个周期之间原子地替换运行时配置。
// 周期开始时取一次快照，管道中途不会看到撕裂的配置。
func (c *Controller) UpdateConfig(config *models.Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	config.Version = c.config.Version + 1
	c.config = config
	logger.S().Infow("运行时配置已更新", "version", config.Version)
}

// Config 返回当前配置指针；配置本身从不就地修改。
func (c *Controller) Config() *models.Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config
}

// MarketAnalysis 返回某标的最近一次生成的信号。
func (c *Controller) MarketAnalysis(symbol string) (models.Signal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sig, ok := c.analyses[symbol]
	return sig, ok
}

// Stats 汇总看板统计。
func (c *Controller) Stats() models.Stats {
	return models.Stats{
		TotalEquity:     c.ledger.CurrentEquity(),
		DailyPnL:        c.ledger.DailyPnL(),
		TotalPositions:  len(c.ledger.Positions()),
		TotalTrades:     c.ledger.TradeCount(),
		CurrentDrawdown: c.ledger.Drawdown(),
	}
}

// RiskMetrics 汇总风控指标。
func (c *Controller) RiskMetrics() models.RiskMetrics {
	config := c.Config()
	view := c.ledger.RiskView("")
	return models.RiskMetrics{
		MaxEquity:       view.MaxEquity,
		EquityFloor:     view.MaxEquity * config.CapitalFloorPct,
		CashBalance:     view.Equity.CashBalance,
		PositionsValue:  view.Equity.PositionsValue,
		CurrentDrawdown: c.ledger.Drawdown(),
	}
}

// Positions 返回当前全部持仓。
func (c *Controller) Positions() map[string]*models.Position {
	return c.ledger.Positions()
}

// Trades 返回最近的交易记录。
func (c *Controller) Trades(limit int) ([]*models.Trade, error) {
	return c.ledger.Trades(limit)
}

// symbolLoop 驱动单个标的的固定周期循环。
func (c *Controller) symbolLoop(ctx context.Context, stopping <-chan struct{}, symbol string) {
	defer c.wg.Done()

	interval := c.tickInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.S().Infow("标的循环启动", "symbol", symbol, "interval", interval)
	for {
		c.runCycle(ctx, stopping, symbol)

		// 配置热更新后下一个周期即按新间隔运行
		if next := c.tickInterval(); next != interval {
			interval = next
			ticker.Reset(interval)
			logger.S().Infow("周期间隔已更新", "symbol", symbol, "interval", interval)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			logger.S().Infow("标的循环退出", "symbol", symbol)
			return
		}
	}
}

func (c *Controller) tickInterval() time.Duration {
	interval := time.Duration(c.Config().TickIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	return interval
}

// runCycle 执行一个完整的决策周期。任何一步失败都只影响本周期。
func (c *Controller) runCycle(ctx context.Context, stopping <-chan struct{}, symbol string) {
	config := c.Config()

	snap, err := c.provider.Snapshot(ctx, symbol)
	if err != nil {
		logger.S().Warnw("获取行情快照失败，跳过本周期", "symbol", symbol, "error", err)
		return
	}
	c.ledger.MarkPrice(symbol, snap.Price)
	c.metrics.Cycles.WithLabelValues(symbol).Inc()
	defer c.publishGauges()

	// 熔断期间仍然跟踪行情和权益，但绝不产生订单
	if c.State().Status == models.StatusHalted {
		c.ledger.SampleEquity()
		return
	}

	label := regime.Classify(*snap)

	// 已有持仓先做离场检查；离场信号跳过 AI 分析直接进入风控
	sig, isExit := c.exitSignal(config, symbol, *snap)
	if !isExit {
		sig = c.generator.Generate(ctx, *snap, label)
	}

	c.mu.Lock()
	c.analyses[symbol] = sig
	c.mu.Unlock()

	// 停机检查点：信号照常生成，但停机后不再提交新订单
	select {
	case <-stopping:
		return
	default:
	}
	if ctx.Err() != nil {
		return
	}

	decision := c.gatekeeper.Evaluate(config, sig, *snap)
	switch decision.Verdict {
	case models.VerdictRejected:
		c.handleRejection(config, sig, decision)
	case models.VerdictApproved, models.VerdictModified:
		c.executeDecision(ctx, config, sig, decision, *snap)
	}

	c.ledger.SampleEquity()
}

// exitSignal 对已有持仓做周期性离场检查。
// 检查顺序：硬止损 > 止盈 > 回撤止盈 > 持仓超时。
func (c *Controller) exitSignal(config *models.Config, symbol string, snap models.Snapshot) (models.Signal, bool) {
	pos := c.ledger.Position(symbol)
	if pos == nil || pos.Quantity <= 0 || pos.AvgEntryPrice <= 0 {
		return models.Signal{}, false
	}

	pnlPct := snap.Price/pos.AvgEntryPrice - 1

	var reason string
	switch {
	case pnlPct <= -config.StopLossPct:
		reason = exitStopLoss
	case pnlPct >= config.ProfitTargetPct:
		reason = exitProfitTarget
	case c.trailingTripped(config, pos, snap.Price):
		reason = exitTrailingStop
	case c.holdExpired(config, pos, pnlPct):
		reason = exitTimeLimit
	}
	if reason == "" {
		return models.Signal{}, false
	}

	logger.S().Infow("触发离场条件", "symbol", symbol, "reason", reason,
		"pnlPct", pnlPct, "entry", pos.AvgEntryPrice, "price", snap.Price)
	return models.Signal{
		Symbol:      symbol,
		Direction:   models.DirectionSell,
		Confidence:  1, // 离场是确定性规则，不依赖分析置信度
		Rationale:   reason,
		GeneratedAt: time.Now(),
	}, true
}

// trailingTripped 回撤止盈：浮盈曾超过解锁线后，价格自持仓高水位
// 回撤超过阈值即离场。
func (c *Controller) trailingTripped(config *models.Config, pos *models.Position, price float64) bool {
	if config.TrailingStopPct <= 0 || pos.HighWaterMark <= 0 {
		return false
	}
	armed := pos.HighWaterMark/pos.AvgEntryPrice-1 >= config.TrailingArmedPct
	if !armed {
		return false
	}
	return 1-price/pos.HighWaterMark >= config.TrailingStopPct
}

// holdExpired 持仓超过时限且没有明显盈利则离场，释放资金。
func (c *Controller) holdExpired(config *models.Config, pos *models.Position, pnlPct float64) bool {
	if config.MaxHoldHours <= 0 {
		return false
	}
	held := time.Since(pos.OpenedAt)
	return held > time.Duration(config.MaxHoldHours*float64(time.Hour)) && pnlPct < config.StaleProfitPct
}

// handleRejection 处理风控否决：两个全局性原因触发熔断，
// 其余原因只记录后进入下一周期。
func (c *Controller) handleRejection(config *models.Config, sig models.Signal, decision models.RiskDecision) {
	c.metrics.Rejections.WithLabelValues(string(decision.Reason)).Inc()

	switch decision.Reason {
	case models.ReasonCapitalFloorBreached, models.ReasonDailyLossLimitHit:
		c.halt(decision.Reason, decision.Detail)
	}

	// 观望信号的否决是常态，不写入交易日志
	if sig.Direction == models.DirectionHold {
		return
	}

	c.recordTrade(&models.Trade{
		ID:         uuid.NewString(),
		Symbol:     sig.Symbol,
		Side:       sideOf(sig.Direction),
		Status:     models.TradeRejected,
		Reason:     string(decision.Reason),
		Rationale:  sig.Rationale,
		Regime:     sig.Regime,
		Confidence: sig.Confidence,
		CreatedAt:  time.Now(),
	})
	logger.S().Infow("风控否决", "symbol", sig.Symbol, "direction", sig.Direction,
		"reason", decision.Reason, "detail", decision.Detail)
}

// executeDecision 把通过风控的裁决转换为订单并执行。
func (c *Controller) executeDecision(ctx context.Context, config *models.Config, sig models.Signal, decision models.RiskDecision, snap models.Snapshot) {
	order := models.Order{
		ClientOrderID: newClientOrderID(),
		Symbol:        sig.Symbol,
		Side:          sideOf(sig.Direction),
		Quantity:      decision.Quantity,
		MaxCost:       decision.Notional * config.CostCeilingRatio,
		CreatedAt:     time.Now(),
	}

	fill, err := c.adapter.Execute(ctx, order, snap.Price)
	if err != nil {
		c.handleExecutionFailure(sig, order, err)
		return
	}

	realized := c.realizedPnL(fill)
	if err := c.ledger.ApplyFill(fill); err != nil {
		var invErr *models.InvariantViolationError
		if errors.As(err, &invErr) {
			logger.S().Errorw("CRITICAL: 账本不变量被破坏，全局熔断", "detail", invErr.Detail)
			c.halt(models.ReasonInvariantViolation, invErr.Detail)
			return
		}
		logger.S().Errorw("应用成交失败", "fillId", fill.ID, "error", err)
		return
	}

	c.recordTrade(&models.Trade{
		ID:            fill.ID,
		ClientOrderID: fill.ClientOrderID,
		Symbol:        fill.Symbol,
		Side:          fill.Side,
		Quantity:      fill.Quantity,
		Price:         fill.Price,
		Fee:           fill.Fee,
		Status:        models.TradeFilled,
		Reason:        exitReasonOf(sig),
		Rationale:     sig.Rationale,
		Regime:        sig.Regime,
		Confidence:    sig.Confidence,
		Mode:          fill.Mode,
		PnL:           realized,
		CreatedAt:     fill.Timestamp,
	})
	logger.S().Infow("成交已入账", "symbol", fill.Symbol, "side", fill.Side,
		"quantity", fill.Quantity, "price", fill.Price, "verdict", decision.Verdict)
}

// handleExecutionFailure 按错误分类落地执行失败：
// 超时的订单可能仍会成交，记为 pending 等待对账；其余记为 rejected。
func (c *Controller) handleExecutionFailure(sig models.Signal, order models.Order, err error) {
	status := models.TradeRejected
	reason := err.Error()

	var execErr *models.ExecutionError
	if errors.As(err, &execErr) {
		reason = string(execErr.Kind)
		if execErr.Kind == models.ExecTimeout {
			status = models.TradePending
		}
		if execErr.Permanent() {
			logger.S().Errorw("CRITICAL: 执行层出现永久性错误，请检查凭证配置", "kind", execErr.Kind, "error", execErr.Msg)
		}
	}

	c.recordTrade(&models.Trade{
		ID:            uuid.NewString(),
		ClientOrderID: order.ClientOrderID,
		Symbol:        order.Symbol,
		Side:          order.Side,
		Quantity:      order.Quantity,
		Status:        status,
		Reason:        reason,
		Rationale:     sig.Rationale,
		Regime:        sig.Regime,
		Confidence:    sig.Confidence,
		CreatedAt:     time.Now(),
	})
	logger.S().Warnw("订单执行失败", "symbol", order.Symbol, "clientOrderId", order.ClientOrderID,
		"status", status, "error", err)
}

// realizedPnL 在卖出入账前基于当前持仓均价计算已实现盈亏。
func (c *Controller) realizedPnL(fill *models.Fill) float64 {
	if fill.Side != models.Sell {
		return 0
	}
	pos := c.ledger.Position(fill.Symbol)
	if pos == nil || pos.AvgEntryPrice <= 0 {
		return 0
	}
	return (fill.Price-pos.AvgEntryPrice)*fill.Quantity - fill.Fee
}

// halt 进入全局熔断。幂等：同一周期内多个标的先后触发只取第一个。
func (c *Controller) halt(reason models.RiskReason, detail string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Status == models.StatusHalted {
		return
	}
	c.state = models.BotState{Status: models.StatusHalted, HaltReason: reason, Since: time.Now()}
	c.metrics.Halts.WithLabelValues(string(reason)).Inc()
	logger.S().Errorw("全局熔断，停止一切新交易", "reason", reason, "detail", detail)
}

func (c *Controller) recordTrade(trade *models.Trade) {
	c.ledger.RecordTrade(trade)
	c.metrics.Trades.WithLabelValues(string(trade.Side), string(trade.Status)).Inc()
}

func (c *Controller) publishGauges() {
	c.metrics.Equity.Set(c.ledger.CurrentEquity())
	c.metrics.Drawdown.Set(c.ledger.Drawdown())
}

func sideOf(direction models.Direction) models.Side {
	if direction == models.DirectionSell {
		return models.Sell
	}
	return models.Buy
}

// exitReasonOf 只有规则离场信号才携带离场原因
func exitReasonOf(sig models.Signal) string {
	switch sig.Rationale {
	case exitStopLoss, exitProfitTarget, exitTrailingStop, exitTimeLimit:
		return sig.Rationale
	}
	return ""
}

// newClientOrderID 生成 base62 编码的幂等客户端订单号。
func newClientOrderID() string {
	id := uuid.New()
	return "bot-" + base62.EncodeToString(id[:])
}
