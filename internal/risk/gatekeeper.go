// Package risk 实现交易前的风控管道：一串固定顺序、彼此独立的闸门，
// 每个闸门可以否决交易或调低规模。资金保护线与单日亏损两道是全局
// 开关，永远最先、无条件评估；后面的闸门作用在前面可能已调低的规模上。
package risk

import (
	"fmt"

	"ai-trading-bot-go/internal/logger"
	"ai-trading-bot-go/internal/models"
	"ai-trading-bot-go/internal/sizing"
)

// LedgerView 是闸门读取的账本一致性快照。
// 一次评估只取一次快照，绝不读取可能被并发更新撕裂的中间状态。
type LedgerView struct {
	Equity         models.EquitySample
	MaxEquity      float64
	DayStartEquity float64
	DailyPnL       float64
	Position       *models.Position // 当前标的的持仓，可能为 nil
}

// LedgerReader 是风控管道对账本的只读依赖
type LedgerReader interface {
	RiskView(symbol string) LedgerView
}

// Gatekeeper 按固定顺序评估所有闸门
type Gatekeeper struct {
	ledger LedgerReader
	sizer  *sizing.KellySizer
}

// NewGatekeeper 创建风控管道
func NewGatekeeper(ledger LedgerReader, sizer *sizing.KellySizer) *Gatekeeper {
	return &Gatekeeper{ledger: ledger, sizer: sizer}
}

// tradeContext 贯穿管道的可变上下文；notional/quantity 可被闸门调低
type tradeContext struct {
	cfg      *models.Config
	sig      models.Signal
	snap     models.Snapshot
	view     LedgerView
	closing  bool // 平仓单：减少敞口，跳过仓位上限
	notional float64
	quantity float64
	modified bool
}

// gate 是一个有名字的独立检查，返回 nil 表示放行
type gate struct {
	name  string
	check func(*tradeContext) *models.RiskDecision
}

// Evaluate 对一笔拟议交易运行全部闸门并给出裁决。
// 风控否决是预期的控制流结果而非错误：不动用资金，只记录原因。
func (g *Gatekeeper) Evaluate(cfg *models.Config, sig models.Signal, snap models.Snapshot) models.RiskDecision {
	tc := &tradeContext{
		cfg:  cfg,
		sig:  sig,
		snap: snap,
		view: g.ledger.RiskView(sig.Symbol),
	}

	pipeline := []gate{
		{"capital_floor", g.capitalFloorGate},
		{"daily_loss", g.dailyLossGate},
		{"confidence", g.confidenceGate},
		{"position_sizing", g.positionSizingGate},
		{"cost_validation", g.costValidationGate},
	}

	for _, gt := range pipeline {
		if decision := gt.check(tc); decision != nil {
			logger.S().Infof("%s 交易被 %s 闸门拒绝: %s (%s)",
				sig.Symbol, gt.name, decision.Reason, decision.Detail)
			return *decision
		}
	}

	verdict := models.VerdictApproved
	if tc.modified {
		verdict = models.VerdictModified
	}
	return models.RiskDecision{
		Verdict:  verdict,
		Quantity: tc.quantity,
		Notional: tc.notional,
	}
}

// capitalFloorGate 是全局开关：权益跌破历史最高点的保护比例时，
// 拒绝所有标的、所有方向的交易，直到权益恢复为止。
func (g *Gatekeeper) capitalFloorGate(tc *tradeContext) *models.RiskDecision {
	if tc.view.MaxEquity <= 0 {
		return nil // 尚无权益历史，无从计算保护线
	}
	floor := tc.view.MaxEquity * tc.cfg.CapitalFloorPct
	if tc.view.Equity.TotalEquity < floor {
		return reject(models.ReasonCapitalFloorBreached,
			fmt.Sprintf("equity %.2f below floor %.2f (ATH %.2f)",
				tc.view.Equity.TotalEquity, floor, tc.view.MaxEquity))
	}
	return nil
}

// dailyLossGate 是全局开关：当日亏损触及上限后，当天不再开新交易
func (g *Gatekeeper) dailyLossGate(tc *tradeContext) *models.RiskDecision {
	if tc.view.DayStartEquity <= 0 {
		return nil
	}
	maxLoss := tc.view.DayStartEquity * tc.cfg.MaxDailyLossPct
	if tc.view.DailyPnL <= -maxLoss {
		return reject(models.ReasonDailyLossLimitHit,
			fmt.Sprintf("daily pnl %.2f breaches limit -%.2f", tc.view.DailyPnL, maxLoss))
	}
	return nil
}

// confidenceGate 拒绝低置信度信号；观望信号无论置信度一律拒绝，
// 因为没有可执行的内容。
func (g *Gatekeeper) confidenceGate(tc *tradeContext) *models.RiskDecision {
	if tc.sig.Direction == models.DirectionHold {
		return reject(models.ReasonLowConfidence, "hold signal, nothing to execute")
	}
	if tc.sig.Confidence < tc.cfg.MinConfidence {
		return reject(models.ReasonLowConfidence,
			fmt.Sprintf("confidence %.2f below minimum %.2f", tc.sig.Confidence, tc.cfg.MinConfidence))
	}
	return nil
}

// positionSizingGate 计算无约束的目标规模并套上仓位上限。
// 超限时调低而不是拒绝；平仓单减少敞口，整仓退出，不受上限约束。
func (g *Gatekeeper) positionSizingGate(tc *tradeContext) *models.RiskDecision {
	if tc.snap.Price <= 0 {
		return reject(models.ReasonZeroSize, "no valid price")
	}

	pos := tc.view.Position
	if tc.sig.Direction == models.DirectionSell {
		// 现货多头模型：卖出即平掉现有仓位，无仓可平则无事可做
		if pos == nil || pos.Quantity <= 0 {
			return reject(models.ReasonZeroSize, "no position to reduce")
		}
		tc.closing = true
		tc.quantity = pos.Quantity
		tc.notional = pos.Quantity * tc.snap.Price
		return nil
	}

	equity := tc.view.Equity.TotalEquity
	notional := g.sizer.TargetNotional(tc.sig, equity)
	if notional <= 0 {
		return reject(models.ReasonZeroSize,
			fmt.Sprintf("kelly sizing yields no edge at confidence %.2f", tc.sig.Confidence))
	}

	cap := equity * tc.cfg.MaxPositionPct
	if notional > cap {
		notional = cap
		tc.modified = true
	}
	// 现金不足以支付名义价值时同样调低，避免到执行层才失败
	if notional > tc.view.Equity.CashBalance {
		notional = tc.view.Equity.CashBalance
		tc.modified = true
	}
	if notional < tc.cfg.MinOrderNotional {
		return reject(models.ReasonZeroSize,
			fmt.Sprintf("notional %.2f below venue minimum %.2f", notional, tc.cfg.MinOrderNotional))
	}

	tc.notional = notional
	tc.quantity = g.sizer.Quantity(notional, tc.snap.Price)
	return nil
}

// costValidationGate 以当前波动率与成交量为代理估算滑点+费用，
// 成本占比超过上限时拒绝，防止在流动性稀薄时执行。
func (g *Gatekeeper) costValidationGate(tc *tradeContext) *models.RiskDecision {
	ratio := EstimateCostRatio(tc.notional, tc.snap)
	if ratio > tc.cfg.CostCeilingRatio {
		return reject(models.ReasonExcessiveCost,
			fmt.Sprintf("estimated cost ratio %.4f exceeds ceiling %.4f", ratio, tc.cfg.CostCeilingRatio))
	}
	return nil
}

const (
	baseFeeRate     = 0.001 // 交易所常规吃单费率
	thinBookPenalty = 0.05  // 没有成交量数据时按极差流动性处理
	spreadVolFactor = 0.5   // 用每期波动率的一半近似半价差
)

// EstimateCostRatio 估算一笔名义价值的执行成本占比：
// 费用 + 半价差代理 + 规模冲击（名义价值占近期成交量的比例）。
func EstimateCostRatio(notional float64, snap models.Snapshot) float64 {
	spread := spreadVolFactor * snap.Volatility
	impact := thinBookPenalty
	if snap.Volume > 0 {
		impact = notional / snap.Volume
	}
	return baseFeeRate + spread + impact
}

func reject(reason models.RiskReason, detail string) *models.RiskDecision {
	return &models.RiskDecision{
		Verdict: models.VerdictRejected,
		Reason:  reason,
		Detail:  detail,
	}
}
