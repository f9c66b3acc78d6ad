package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-trading-bot-go/internal/models"
)

func simConfig() *models.Config {
	return &models.Config{
		InitialCash:     10000,
		SimSeed:         42,
		SimSlippageRate: 0.001,
		SimFeeRate:      0.001,
		SimMaxNotional:  50000,
	}
}

func marketOrder(side models.Side, qty float64) models.Order {
	return models.Order{
		ClientOrderID: "ord-00000001",
		Symbol:        "BTC-USD",
		Side:          side,
		Quantity:      qty,
		CreatedAt:     time.Now(),
	}
}

func TestSimBackendIsDeterministicForFixedSeed(t *testing.T) {
	order := marketOrder(models.Buy, 0.01)

	first := NewSimBackend(simConfig())
	second := NewSimBackend(simConfig())

	id1, err := first.PlaceMarketOrder(context.Background(), order, 45000)
	require.NoError(t, err)
	id2, err := second.PlaceMarketOrder(context.Background(), order, 45000)
	require.NoError(t, err)

	fill1, err := first.GetFill(context.Background(), "BTC-USD", id1)
	require.NoError(t, err)
	fill2, err := second.GetFill(context.Background(), "BTC-USD", id2)
	require.NoError(t, err)

	assert.Equal(t, fill1.Price, fill2.Price)
	assert.Equal(t, fill1.Fee, fill2.Fee)
	assert.Equal(t, "sim-ord-00000001", fill1.ID)
}

func TestSimBackendBuySlipsAgainstTaker(t *testing.T) {
	backend := NewSimBackend(simConfig())

	buy := marketOrder(models.Buy, 0.01)
	id, err := backend.PlaceMarketOrder(context.Background(), buy, 45000)
	require.NoError(t, err)

	fill, err := backend.GetFill(context.Background(), "BTC-USD", id)
	require.NoError(t, err)

	// 买单滑点只会抬高成交价，且不超过配置的滑点率
	assert.GreaterOrEqual(t, fill.Price, 45000.0)
	assert.LessOrEqual(t, fill.Price, 45000.0*1.001)
	assert.Equal(t, models.ModeSimulated, fill.Mode)
}

func TestSimBackendReleasesFillAfterQuery(t *testing.T) {
	backend := NewSimBackend(simConfig())

	id, err := backend.PlaceMarketOrder(context.Background(), marketOrder(models.Buy, 0.01), 45000)
	require.NoError(t, err)

	_, err = backend.GetFill(context.Background(), "BTC-USD", id)
	require.NoError(t, err)

	// 取走即删除，成交表不随运行时长增长
	backend.mu.Lock()
	remaining := len(backend.fills)
	backend.mu.Unlock()
	assert.Zero(t, remaining)
}

func TestSimBackendRejectsAboveLiquidityCap(t *testing.T) {
	config := simConfig()
	config.SimMaxNotional = 100
	backend := NewSimBackend(config)

	_, err := backend.PlaceMarketOrder(context.Background(), marketOrder(models.Buy, 0.01), 45000)

	var execErr *models.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, models.ExecRejectedByVenue, execErr.Kind)
	assert.False(t, execErr.Transient())
}

func TestSimBackendRejectsCostAboveBudget(t *testing.T) {
	config := simConfig()
	config.SimFeeRate = 0.01
	backend := NewSimBackend(config)

	order := marketOrder(models.Buy, 0.1)
	order.MaxCost = 1 // 0.1 BTC at ~45000 carries ~45 in fees alone

	_, err := backend.PlaceMarketOrder(context.Background(), order, 45000)

	var execErr *models.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, models.ExecRejectedByVenue, execErr.Kind)
}

func TestSimBackendSellSlipsBelowReference(t *testing.T) {
	backend := NewSimBackend(simConfig())

	sell := marketOrder(models.Sell, 0.1)
	id, err := backend.PlaceMarketOrder(context.Background(), sell, 46000)
	require.NoError(t, err)

	fill, err := backend.GetFill(context.Background(), "BTC-USD", id)
	require.NoError(t, err)
	assert.LessOrEqual(t, fill.Price, 46000.0)
	assert.GreaterOrEqual(t, fill.Price, 46000.0*0.999)
}

// flakyBackend 在前 failCount 次下单时返回指定错误
type flakyBackend struct {
	placeErr   error
	failCount  int
	placeCalls int
	fill       *models.Fill
}

func (f *flakyBackend) PlaceMarketOrder(_ context.Context, order models.Order, _ float64) (string, error) {
	f.placeCalls++
	if f.placeCalls <= f.failCount {
		return "", f.placeErr
	}
	return order.ClientOrderID, nil
}

func (f *flakyBackend) GetFill(_ context.Context, _, _ string) (*models.Fill, error) {
	if f.fill == nil {
		return nil, ErrFillPending
	}
	return f.fill, nil
}

func (f *flakyBackend) GetBalances(_ context.Context) (*Balances, error) {
	return &Balances{}, nil
}

func (f *flakyBackend) Mode() models.ExecutionMode {
	return models.ModeSimulated
}

func adapterConfig() *models.Config {
	return &models.Config{
		ExecutionTimeoutSec: 2,
		RetryInitialDelayMs: 1,
		FillPollIntervalMs:  1,
	}
}

func TestAdapterRetriesTransientErrorOnce(t *testing.T) {
	backend := &flakyBackend{
		placeErr:  &models.ExecutionError{Kind: models.ExecRateLimited, Msg: "slow down"},
		failCount: 1,
		fill:      &models.Fill{ID: "f1", ClientOrderID: "ord-00000001"},
	}
	adapter := NewAdapter(backend, adapterConfig())

	fill, err := adapter.Execute(context.Background(), marketOrder(models.Buy, 0.01), 45000)

	require.NoError(t, err)
	assert.Equal(t, "f1", fill.ID)
	assert.Equal(t, 2, backend.placeCalls)
}

func TestAdapterGivesUpAfterSecondTransientFailure(t *testing.T) {
	backend := &flakyBackend{
		placeErr:  &models.ExecutionError{Kind: models.ExecTimeout, Msg: "venue slow"},
		failCount: 5,
	}
	adapter := NewAdapter(backend, adapterConfig())

	_, err := adapter.Execute(context.Background(), marketOrder(models.Buy, 0.01), 45000)

	require.Error(t, err)
	assert.Equal(t, 2, backend.placeCalls, "transient errors are retried exactly once")
}

func TestAdapterNeverRetriesAuthFailure(t *testing.T) {
	backend := &flakyBackend{
		placeErr:  &models.ExecutionError{Kind: models.ExecAuthFailure, Msg: "bad key"},
		failCount: 5,
	}
	adapter := NewAdapter(backend, adapterConfig())

	_, err := adapter.Execute(context.Background(), marketOrder(models.Buy, 0.01), 45000)

	var execErr *models.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, models.ExecAuthFailure, execErr.Kind)
	assert.Equal(t, 1, backend.placeCalls)
}

func TestAdapterReportsTimeoutWhenFillStaysPending(t *testing.T) {
	backend := &flakyBackend{} // 下单成功但永远不成交
	config := adapterConfig()
	config.ExecutionTimeoutSec = 1
	adapter := NewAdapter(backend, config)

	start := time.Now()
	_, err := adapter.Execute(context.Background(), marketOrder(models.Buy, 0.01), 45000)

	var execErr *models.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, models.ExecTimeout, execErr.Kind)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 1, backend.placeCalls, "a submitted order is never re-submitted")
}

func TestVenueErrorTranslation(t *testing.T) {
	assert.Equal(t, models.ExecTimeout,
		translateVenueError(context.DeadlineExceeded).(*models.ExecutionError).Kind)
	assert.Equal(t, models.ExecTimeout,
		translateVenueError(errors.New("connection reset")).(*models.ExecutionError).Kind)
}

func TestVenueSymbolMapping(t *testing.T) {
	assert.Equal(t, "BTCUSDT", venueSymbol("BTC-USD"))
	assert.Equal(t, "ETHUSDT", venueSymbol("ETH-USD"))
	assert.Equal(t, "BTCUSDT", venueSymbol("BTC-USDT"))
}
