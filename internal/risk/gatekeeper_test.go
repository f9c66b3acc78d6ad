package risk

import (
	"testing"
	"time"

	"ai-trading-bot-go/internal/config"
	"ai-trading-bot-go/internal/models"
	"ai-trading-bot-go/internal/sizing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLedger serves a fixed risk view for every symbol.
type mockLedger struct {
	view LedgerView
}

func (m *mockLedger) RiskView(symbol string) LedgerView {
	return m.view
}

func defaultTestConfig() *models.Config {
	cfg := &models.Config{}
	config.ApplyDefaults(cfg)
	return cfg
}

func healthyView(equity, ath float64) LedgerView {
	return LedgerView{
		Equity: models.EquitySample{
			Timestamp:   time.Unix(1700000000, 0),
			CashBalance: equity,
			TotalEquity: equity,
		},
		MaxEquity:      ath,
		DayStartEquity: equity,
		DailyPnL:       0,
	}
}

func liquidSnapshot(price float64) models.Snapshot {
	return models.Snapshot{
		Symbol:     "BTC-USD",
		Price:      price,
		Volume:     5_000_000,
		Volatility: 0.002,
		Timestamp:  time.Unix(1700000000, 0),
	}
}

func buySignal(confidence float64) models.Signal {
	return models.Signal{
		Symbol:     "BTC-USD",
		Direction:  models.DirectionBuy,
		Confidence: confidence,
		Regime:     models.RegimeTrend,
	}
}

func newGatekeeper(view LedgerView) *Gatekeeper {
	return NewGatekeeper(&mockLedger{view: view}, sizing.NewKellySizer(0.25, 1.5))
}

func TestCapitalFloorRejectsEverything(t *testing.T) {
	// Equity $9,600 against ATH $10,000 with a 97% floor ($9,700).
	view := healthyView(9600, 10000)
	gk := newGatekeeper(view)
	cfg := defaultTestConfig()

	for _, dir := range []models.Direction{models.DirectionBuy, models.DirectionSell} {
		sig := buySignal(0.99)
		sig.Direction = dir
		decision := gk.Evaluate(cfg, sig, liquidSnapshot(45000))
		assert.Equal(t, models.VerdictRejected, decision.Verdict)
		assert.Equal(t, models.ReasonCapitalFloorBreached, decision.Reason, "direction %s", dir)
	}
}

func TestCapitalFloorExactBoundaryAllows(t *testing.T) {
	// Equity exactly at the floor is not a breach (strictly-below semantics).
	view := healthyView(9700, 10000)
	gk := newGatekeeper(view)

	decision := gk.Evaluate(defaultTestConfig(), buySignal(0.75), liquidSnapshot(45000))
	assert.NotEqual(t, models.ReasonCapitalFloorBreached, decision.Reason)
}

func TestDailyLossGate(t *testing.T) {
	view := healthyView(10000, 10000)
	view.DayStartEquity = 10000
	view.DailyPnL = -150 // exactly -1.5% of day-start equity
	gk := newGatekeeper(view)

	decision := gk.Evaluate(defaultTestConfig(), buySignal(0.9), liquidSnapshot(45000))
	assert.Equal(t, models.VerdictRejected, decision.Verdict)
	assert.Equal(t, models.ReasonDailyLossLimitHit, decision.Reason)
}

func TestDailyLossJustAboveLimitAllows(t *testing.T) {
	view := healthyView(10000, 10000)
	view.DailyPnL = -149.99
	gk := newGatekeeper(view)

	decision := gk.Evaluate(defaultTestConfig(), buySignal(0.9), liquidSnapshot(45000))
	assert.NotEqual(t, models.ReasonDailyLossLimitHit, decision.Reason)
}

func TestKillSwitchesEvaluatedBeforeConfidence(t *testing.T) {
	// A hold signal under a breached floor must surface the floor, not the
	// confidence gate: the global kill-switches run first, unconditionally.
	view := healthyView(9000, 10000)
	gk := newGatekeeper(view)

	sig := buySignal(0)
	sig.Direction = models.DirectionHold
	decision := gk.Evaluate(defaultTestConfig(), sig, liquidSnapshot(45000))
	assert.Equal(t, models.ReasonCapitalFloorBreached, decision.Reason)
}

func TestConfidenceGateBoundary(t *testing.T) {
	gk := newGatekeeper(healthyView(10000, 10000))
	cfg := defaultTestConfig() // min_confidence 0.60

	decision := gk.Evaluate(cfg, buySignal(0.59), liquidSnapshot(45000))
	assert.Equal(t, models.VerdictRejected, decision.Verdict)
	assert.Equal(t, models.ReasonLowConfidence, decision.Reason)

	sellSig := buySignal(0.59)
	sellSig.Direction = models.DirectionSell
	decision = gk.Evaluate(cfg, sellSig, liquidSnapshot(45000))
	assert.Equal(t, models.ReasonLowConfidence, decision.Reason, "rejection is direction-independent")

	decision = gk.Evaluate(cfg, buySignal(0.60), liquidSnapshot(45000))
	assert.NotEqual(t, models.ReasonLowConfidence, decision.Reason)
}

func TestHoldAlwaysRejected(t *testing.T) {
	gk := newGatekeeper(healthyView(10000, 10000))
	sig := buySignal(0.99)
	sig.Direction = models.DirectionHold

	decision := gk.Evaluate(defaultTestConfig(), sig, liquidSnapshot(45000))
	assert.Equal(t, models.VerdictRejected, decision.Verdict)
	assert.Equal(t, models.ReasonLowConfidence, decision.Reason)
}

func TestPositionSizingGateCapsNotional(t *testing.T) {
	// Scenario from the risk design: equity $10,000, ATH $10,000,
	// confidence 0.75, max position 5% => approved notional <= $500.
	gk := newGatekeeper(healthyView(10000, 10000))
	cfg := defaultTestConfig()

	decision := gk.Evaluate(cfg, buySignal(0.75), liquidSnapshot(45000))
	require.Equal(t, models.VerdictModified, decision.Verdict, "unconstrained kelly exceeds the cap here")
	assert.LessOrEqual(t, decision.Notional, 500.0)
	assert.InDelta(t, decision.Notional/45000, decision.Quantity, 1e-9)
}

func TestSmallEdgeBelowCapIsApprovedUnmodified(t *testing.T) {
	gk := newGatekeeper(healthyView(10000, 10000))
	cfg := defaultTestConfig()
	cfg.MaxPositionPct = 0.50 // cap far above any kelly output

	decision := gk.Evaluate(cfg, buySignal(0.65), liquidSnapshot(45000))
	assert.Equal(t, models.VerdictApproved, decision.Verdict)
	assert.Greater(t, decision.Notional, 0.0)
}

func TestZeroSizeShortCircuits(t *testing.T) {
	gk := newGatekeeper(healthyView(10000, 10000))
	cfg := defaultTestConfig()
	cfg.MinConfidence = 0.10 // let a no-edge signal through the confidence gate

	// Payoff 1.5 => break-even confidence 0.40; 0.30 has zero kelly edge.
	decision := gk.Evaluate(cfg, buySignal(0.30), liquidSnapshot(45000))
	assert.Equal(t, models.VerdictRejected, decision.Verdict)
	assert.Equal(t, models.ReasonZeroSize, decision.Reason)
}

func TestSellWithoutPositionIsZeroSize(t *testing.T) {
	gk := newGatekeeper(healthyView(10000, 10000))
	sig := buySignal(0.9)
	sig.Direction = models.DirectionSell

	decision := gk.Evaluate(defaultTestConfig(), sig, liquidSnapshot(45000))
	assert.Equal(t, models.ReasonZeroSize, decision.Reason)
}

func TestSellClosesFullPosition(t *testing.T) {
	view := healthyView(10000, 10000)
	view.Position = &models.Position{Symbol: "BTC-USD", Quantity: 0.02, AvgEntryPrice: 40000}
	gk := newGatekeeper(view)

	sig := buySignal(0.9)
	sig.Direction = models.DirectionSell
	decision := gk.Evaluate(defaultTestConfig(), sig, liquidSnapshot(45000))

	require.Equal(t, models.VerdictApproved, decision.Verdict)
	assert.InDelta(t, 0.02, decision.Quantity, 1e-9)
	assert.InDelta(t, 900, decision.Notional, 1e-9)
}

func TestCostValidationGateRejectsThinLiquidity(t *testing.T) {
	gk := newGatekeeper(healthyView(10000, 10000))
	snap := liquidSnapshot(45000)
	snap.Volume = 1000 // a $500 order against $1000 of recent volume

	decision := gk.Evaluate(defaultTestConfig(), buySignal(0.75), snap)
	assert.Equal(t, models.VerdictRejected, decision.Verdict)
	assert.Equal(t, models.ReasonExcessiveCost, decision.Reason)
}

func TestCostValidationGateRejectsMissingVolume(t *testing.T) {
	gk := newGatekeeper(healthyView(10000, 10000))
	snap := liquidSnapshot(45000)
	snap.Volume = 0

	decision := gk.Evaluate(defaultTestConfig(), buySignal(0.75), snap)
	assert.Equal(t, models.ReasonExcessiveCost, decision.Reason)
}

func TestNotionalNeverExceedsCash(t *testing.T) {
	view := healthyView(10000, 10000)
	view.Equity.CashBalance = 120 // nearly fully invested
	gk := newGatekeeper(view)
	cfg := defaultTestConfig()

	decision := gk.Evaluate(cfg, buySignal(0.9), liquidSnapshot(45000))
	if decision.Verdict != models.VerdictRejected {
		assert.LessOrEqual(t, decision.Notional, 120.0)
	}
}

func TestTinyResidualCashIsZeroSize(t *testing.T) {
	view := healthyView(10000, 10000)
	view.Equity.CashBalance = 5 // below the venue minimum notional
	gk := newGatekeeper(view)

	decision := gk.Evaluate(defaultTestConfig(), buySignal(0.9), liquidSnapshot(45000))
	assert.Equal(t, models.VerdictRejected, decision.Verdict)
	assert.Equal(t, models.ReasonZeroSize, decision.Reason)
}

func TestNoEquityHistorySkipsFloor(t *testing.T) {
	view := healthyView(10000, 0) // fresh ledger, no ATH yet
	gk := newGatekeeper(view)

	decision := gk.Evaluate(defaultTestConfig(), buySignal(0.75), liquidSnapshot(45000))
	assert.NotEqual(t, models.ReasonCapitalFloorBreached, decision.Reason)
}
