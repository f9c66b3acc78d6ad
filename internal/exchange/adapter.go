package exchange

import (
	"context"
	"errors"
	"time"

	"ai-trading-bot-go/internal/logger"
	"ai-trading-bot-go/internal/models"
)

const (
	defaultExecutionTimeout = 30 * time.Second
	defaultRetryDelay       = 500 * time.Millisecond
	defaultFillPollInterval = 250 * time.Millisecond
)

// Adapter 在后端之上套一层统一的执行策略：
// 超时控制、瞬时错误的单次重试、以及实盘模式下的成交轮询。
// 认证失败和交易所拒绝绝不重试——这些错误重试只会重复失败。
type Adapter struct {
	backend      Backend
	timeout      time.Duration
	retryDelay   time.Duration
	pollInterval time.Duration
}

// NewAdapter 按配置包装后端。零值配置项退回内置默认值。
func NewAdapter(backend Backend, config *models.Config) *Adapter {
	a := &Adapter{
		backend:      backend,
		timeout:      defaultExecutionTimeout,
		retryDelay:   defaultRetryDelay,
		pollInterval: defaultFillPollInterval,
	}
	if config.ExecutionTimeoutSec > 0 {
		a.timeout = time.Duration(config.ExecutionTimeoutSec) * time.Second
	}
	if config.RetryInitialDelayMs > 0 {
		a.retryDelay = time.Duration(config.RetryInitialDelayMs) * time.Millisecond
	}
	if config.FillPollIntervalMs > 0 {
		a.pollInterval = time.Duration(config.FillPollIntervalMs) * time.Millisecond
	}
	return a
}

// Mode 透传底层后端的执行模式。
func (a *Adapter) Mode() models.ExecutionMode {
	return a.backend.Mode()
}

// Balances 透传底层后端的余额查询。
func (a *Adapter) Balances(ctx context.Context) (*Balances, error) {
	return a.backend.GetBalances(ctx)
}

// Execute 提交订单并等待成交结果。
// 下单阶段的瞬时错误（限速、超时）重试一次；订单一旦提交成功
// 就不再重复提交，只轮询成交，避免同一意图成交两次。
func (a *Adapter) Execute(ctx context.Context, order models.Order, refPrice float64) (*models.Fill, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	orderID, err := a.backend.PlaceMarketOrder(ctx, order, refPrice)
	if err != nil {
		var execErr *models.ExecutionError
		if !errors.As(err, &execErr) || !execErr.Transient() {
			return nil, err
		}
		logger.S().Warnw("下单遇到瞬时错误，退避后重试一次",
			"clientOrderId", order.ClientOrderID, "kind", execErr.Kind, "delay", a.retryDelay)
		select {
		case <-time.After(a.retryDelay):
		case <-ctx.Done():
			return nil, &models.ExecutionError{Kind: models.ExecTimeout, Msg: "deadline hit during retry backoff"}
		}
		orderID, err = a.backend.PlaceMarketOrder(ctx, order, refPrice)
		if err != nil {
			return nil, err
		}
	}

	return a.awaitFill(ctx, order.Symbol, orderID)
}

// awaitFill 轮询直到成交或超时。超时不撤单：订单可能仍在
// 撮合，由对账流程去收敛，这里只如实上报 Timeout。
func (a *Adapter) awaitFill(ctx context.Context, symbol, orderID string) (*models.Fill, error) {
	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	for {
		fill, err := a.backend.GetFill(ctx, symbol, orderID)
		switch {
		case err == nil:
			return fill, nil
		case errors.Is(err, ErrFillPending):
		default:
			var execErr *models.ExecutionError
			if errors.As(err, &execErr) && execErr.Transient() {
				break // 查询层面的瞬时错误，下一轮再试
			}
			return nil, err
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, &models.ExecutionError{
				Kind: models.ExecTimeout,
				Msg:  "order submitted but fill not observed before deadline",
			}
		}
	}
}
