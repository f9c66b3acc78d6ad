package ledger

import (
	"fmt"
	"math"
	"sync"
	"time"

	"ai-trading-bot-go/internal/logger"
	"ai-trading-bot-go/internal/models"
	"ai-trading-bot-go/internal/persistence"
	"ai-trading-bot-go/internal/risk"
)

const (
	// quantities below this are treated as a closed position
	dustQuantity = 1e-9

	// cash may go fractionally negative from float rounding, never materially
	cashEpsilon = 1e-6

	// bound on the in-memory equity series; old samples only matter for reports
	maxEquitySamples = 20000
)

// Ledger is the single source of truth for cash, positions and the equity
// series. All mutations are serialized behind one mutex; persistence happens
// asynchronously from deep-copied snapshots so a slow disk never blocks the
// trading loop.
type Ledger struct {
	mu    sync.RWMutex
	state *models.LedgerState
	marks map[string]float64 // latest observed price per symbol

	repo            persistence.Repository
	persistenceChan chan *models.LedgerState
	stopChan        chan struct{}
	stopOnce        sync.Once
}

// New wraps a restored (or freshly initialized) ledger state.
func New(state *models.LedgerState, repo persistence.Repository) *Ledger {
	if state.Positions == nil {
		state.Positions = make(map[string]*models.Position)
	}
	if state.AppliedFills == nil {
		state.AppliedFills = make(map[string]bool)
	}
	return &Ledger{
		state:           state,
		marks:           make(map[string]float64),
		repo:            repo,
		persistenceChan: make(chan *models.LedgerState, 128),
		stopChan:        make(chan struct{}),
	}
}

// NewFromCash initializes a fresh ledger with the given starting cash.
func NewFromCash(cash float64, repo persistence.Repository) *Ledger {
	now := time.Now()
	state := &models.LedgerState{
		Version:        1,
		Cash:           cash,
		Positions:      make(map[string]*models.Position),
		AppliedFills:   make(map[string]bool),
		MaxEquity:      cash,
		LastUpdateTime: now,
		EquitySeries: []models.EquitySample{{
			Timestamp:   now,
			CashBalance: cash,
			TotalEquity: cash,
		}},
	}
	return New(state, repo)
}

// Start begins the asynchronous persistence loop.
func (l *Ledger) Start() {
	go l.persistenceLoop()
}

// Stop shuts the persistence loop down and writes one final synchronous
// snapshot so nothing buffered is lost.
func (l *Ledger) Stop() {
	l.stopOnce.Do(func() { close(l.stopChan) })
	if l.repo != nil {
		if err := l.repo.SaveLedger(l.snapshot()); err != nil {
			logger.S().Errorw("final ledger save failed", "error", err)
		}
	}
}

func (l *Ledger) persistenceLoop() {
	for {
		select {
		case state := <-l.persistenceChan:
			if l.repo == nil {
				continue
			}
			if err := l.repo.SaveLedger(state); err != nil {
				logger.S().Errorw("CRITICAL: failed to save ledger state", "error", err)
			}
		case <-l.stopChan:
			return
		}
	}
}

// MarkPrice records the latest observed price for a symbol. Marks feed
// equity valuation and the trailing high-water mark of open positions.
func (l *Ledger) MarkPrice(symbol string, price float64) {
	if price <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.marks[symbol] = price
	if pos, ok := l.state.Positions[symbol]; ok && price > pos.HighWaterMark {
		pos.HighWaterMark = price
		pos.LastUpdatedAt = time.Now()
	}
}

// ApplyFill applies one fill to cash and positions. The operation is
// idempotent: a fill ID that was already applied is a no-op, so retried
// deliveries cannot double-count. Returns InvariantViolationError when the
// resulting state would be inconsistent; the caller must halt on that.
func (l *Ledger) ApplyFill(fill *models.Fill) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state.AppliedFills[fill.ID] {
		logger.S().Infow("fill already applied, skipping", "fillId", fill.ID)
		return nil
	}
	if fill.Quantity <= 0 || fill.Price <= 0 {
		return fmt.Errorf("malformed fill %s: quantity=%f price=%f", fill.ID, fill.Quantity, fill.Price)
	}

	switch fill.Side {
	case models.Buy:
		if err := l.applyBuy(fill); err != nil {
			return err
		}
	case models.Sell:
		if err := l.applySell(fill); err != nil {
			return err
		}
	default:
		return fmt.Errorf("fill %s has unknown side %q", fill.ID, fill.Side)
	}

	l.state.AppliedFills[fill.ID] = true
	l.state.LastUpdateTime = time.Now()
	l.marks[fill.Symbol] = fill.Price

	if err := l.checkInvariants(); err != nil {
		return err
	}

	l.enqueuePersist()
	return nil
}

func (l *Ledger) applyBuy(fill *models.Fill) error {
	total := fill.Quantity*fill.Price + fill.Fee
	if l.state.Cash-total < -cashEpsilon {
		return &models.InvariantViolationError{
			Detail: fmt.Sprintf("buy %s would overdraw cash: have %.2f, need %.2f", fill.ID, l.state.Cash, total),
		}
	}
	l.state.Cash -= total

	now := time.Now()
	pos, ok := l.state.Positions[fill.Symbol]
	if !ok {
		l.state.Positions[fill.Symbol] = &models.Position{
			Symbol:        fill.Symbol,
			Quantity:      fill.Quantity,
			AvgEntryPrice: fill.Price,
			HighWaterMark: fill.Price,
			OpenedAt:      now,
			LastUpdatedAt: now,
		}
		return nil
	}

	// volume-weighted average entry across adds
	newQty := pos.Quantity + fill.Quantity
	pos.AvgEntryPrice = (pos.AvgEntryPrice*pos.Quantity + fill.Price*fill.Quantity) / newQty
	pos.Quantity = newQty
	if fill.Price > pos.HighWaterMark {
		pos.HighWaterMark = fill.Price
	}
	pos.LastUpdatedAt = now
	return nil
}

func (l *Ledger) applySell(fill *models.Fill) error {
	pos, ok := l.state.Positions[fill.Symbol]
	if !ok || pos.Quantity+dustQuantity < fill.Quantity {
		return &models.InvariantViolationError{
			Detail: fmt.Sprintf("sell %s exceeds position: selling %.8f of %s", fill.ID, fill.Quantity, fill.Symbol),
		}
	}

	l.state.Cash += fill.Quantity*fill.Price - fill.Fee
	pos.Quantity -= fill.Quantity
	pos.LastUpdatedAt = time.Now()
	if pos.Quantity <= dustQuantity {
		delete(l.state.Positions, fill.Symbol)
	}
	return nil
}

// checkInvariants verifies the accounting identity after a mutation.
// Caller holds the write lock.
func (l *Ledger) checkInvariants() error {
	if l.state.Cash < -cashEpsilon {
		return &models.InvariantViolationError{
			Detail: fmt.Sprintf("cash balance is negative: %.6f", l.state.Cash),
		}
	}
	for symbol, pos := range l.state.Positions {
		if pos.Quantity < 0 {
			return &models.InvariantViolationError{
				Detail: fmt.Sprintf("position %s has negative quantity: %.8f", symbol, pos.Quantity),
			}
		}
	}
	return nil
}

// CurrentEquity recomputes equity from cash and marked positions. It is
// never incrementally updated, so it cannot drift from the underlying state.
func (l *Ledger) CurrentEquity() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.Cash + l.positionsValueLocked()
}

// positionsValueLocked values open positions at their latest mark, falling
// back to average entry when no mark was observed yet. Caller holds a lock.
func (l *Ledger) positionsValueLocked() float64 {
	var total float64
	for symbol, pos := range l.state.Positions {
		mark, ok := l.marks[symbol]
		if !ok {
			mark = pos.AvgEntryPrice
		}
		total += pos.Quantity * mark
	}
	return total
}

// SampleEquity appends one equity sample and advances the all-time high.
// The all-time high is monotone: it only ever moves up.
func (l *Ledger) SampleEquity() models.EquitySample {
	l.mu.Lock()
	defer l.mu.Unlock()

	positionsValue := l.positionsValueLocked()
	sample := models.EquitySample{
		Timestamp:      time.Now(),
		CashBalance:    l.state.Cash,
		PositionsValue: positionsValue,
		TotalEquity:    l.state.Cash + positionsValue,
	}
	l.state.EquitySeries = append(l.state.EquitySeries, sample)
	if len(l.state.EquitySeries) > maxEquitySamples {
		l.state.EquitySeries = l.state.EquitySeries[len(l.state.EquitySeries)-maxEquitySamples:]
	}
	if sample.TotalEquity > l.state.MaxEquity {
		l.state.MaxEquity = sample.TotalEquity
	}
	l.state.LastUpdateTime = sample.Timestamp

	l.enqueuePersist()
	return sample
}

// MaxEquity returns the all-time equity high.
func (l *Ledger) MaxEquity() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.MaxEquity
}

// DayStartEquity returns the first equity sample of the current UTC day,
// or current equity when no sample exists for today yet.
func (l *Ledger) DayStartEquity() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.dayStartEquityLocked()
}

func (l *Ledger) dayStartEquityLocked() float64 {
	today := time.Now().UTC().Truncate(24 * time.Hour)
	for _, sample := range l.state.EquitySeries {
		if !sample.Timestamp.UTC().Before(today) {
			return sample.TotalEquity
		}
	}
	return l.state.Cash + l.positionsValueLocked()
}

// DailyPnL is current equity relative to the day-start reference.
func (l *Ledger) DailyPnL() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.Cash + l.positionsValueLocked() - l.dayStartEquityLocked()
}

// RiskView assembles the read-only view the risk pipeline evaluates against.
func (l *Ledger) RiskView(symbol string) risk.LedgerView {
	l.mu.RLock()
	defer l.mu.RUnlock()

	positionsValue := l.positionsValueLocked()
	dayStart := l.dayStartEquityLocked()
	equity := l.state.Cash + positionsValue

	view := risk.LedgerView{
		Equity: models.EquitySample{
			Timestamp:      time.Now(),
			CashBalance:    l.state.Cash,
			PositionsValue: positionsValue,
			TotalEquity:    equity,
		},
		MaxEquity:      l.state.MaxEquity,
		DayStartEquity: dayStart,
		DailyPnL:       equity - dayStart,
	}
	if pos, ok := l.state.Positions[symbol]; ok {
		posCopy := *pos
		view.Position = &posCopy
	}
	return view
}

// RecordTrade appends one trade to the durable trade log.
func (l *Ledger) RecordTrade(trade *models.Trade) {
	l.mu.Lock()
	l.state.TradeCount++
	l.mu.Unlock()

	if l.repo != nil {
		if err := l.repo.AppendTrade(trade); err != nil {
			logger.S().Errorw("failed to append trade", "tradeId", trade.ID, "error", err)
		}
	}
}

// Trades returns up to limit most recent trades, newest first.
func (l *Ledger) Trades(limit int) ([]*models.Trade, error) {
	if l.repo == nil {
		return nil, nil
	}
	return l.repo.ListTrades(limit)
}

// TradeCount returns the number of recorded trades.
func (l *Ledger) TradeCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.TradeCount
}

// Position returns a copy of the position for a symbol, or nil.
func (l *Ledger) Position(symbol string) *models.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.state.Positions[symbol]
	if !ok {
		return nil
	}
	posCopy := *pos
	return &posCopy
}

// Positions returns a copy of all open positions.
func (l *Ledger) Positions() map[string]*models.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]*models.Position, len(l.state.Positions))
	for symbol, pos := range l.state.Positions {
		posCopy := *pos
		out[symbol] = &posCopy
	}
	return out
}

// EquitySeries returns a copy of the sampled equity history.
func (l *Ledger) EquitySeries() []models.EquitySample {
	l.mu.RLock()
	defer l.mu.RUnlock()
	series := make([]models.EquitySample, len(l.state.EquitySeries))
	copy(series, l.state.EquitySeries)
	return series
}

// Drawdown is the current percentage below the all-time high, in [0, 1].
func (l *Ledger) Drawdown() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.state.MaxEquity <= 0 {
		return 0
	}
	equity := l.state.Cash + l.positionsValueLocked()
	return math.Max(0, 1-equity/l.state.MaxEquity)
}

// enqueuePersist sends a deep-copied snapshot to the persistence loop.
// Caller holds the write lock. Drops the snapshot if the buffer is full;
// a later mutation will enqueue a fresher one.
func (l *Ledger) enqueuePersist() {
	select {
	case l.persistenceChan <- l.deepCopyLocked():
	default:
		logger.S().Warnw("persistence buffer full, dropping ledger snapshot")
	}
}

// snapshot returns a deep copy for safe concurrent reading.
func (l *Ledger) snapshot() *models.LedgerState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.deepCopyLocked()
}

func (l *Ledger) deepCopyLocked() *models.LedgerState {
	stateCopy := *l.state

	stateCopy.Positions = make(map[string]*models.Position, len(l.state.Positions))
	for symbol, pos := range l.state.Positions {
		posCopy := *pos
		stateCopy.Positions[symbol] = &posCopy
	}

	stateCopy.AppliedFills = make(map[string]bool, len(l.state.AppliedFills))
	for id := range l.state.AppliedFills {
		stateCopy.AppliedFills[id] = true
	}

	stateCopy.EquitySeries = make([]models.EquitySample, len(l.state.EquitySeries))
	copy(stateCopy.EquitySeries, l.state.EquitySeries)

	return &stateCopy
}
