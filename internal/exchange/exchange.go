package exchange

import (
	"context"
	"errors"

	"ai-trading-bot-go/internal/models"
)

// ErrFillPending 表示订单已提交但尚未成交
var ErrFillPending = errors.New("fill pending")

// Balances 是交易所侧的账户余额视图
type Balances struct {
	Cash      float64            // 计价货币余额 (USD)
	Positions map[string]float64 // 按标的的基础货币持仓
}

// Backend 定义了交易所后端的逻辑契约。
// 模拟撮合与实盘实现共用同一契约，由配置在启动时二选一，
// 而不是在管道里到处散布运行时分支。
type Backend interface {
	// PlaceMarketOrder 提交市价单并返回交易所侧订单标识。
	// refPrice 是下单时刻的参考价，模拟实现以它为成交基准。
	PlaceMarketOrder(ctx context.Context, order models.Order, refPrice float64) (string, error)

	// GetFill 查询订单的成交结果；尚未成交时返回 ErrFillPending。
	GetFill(ctx context.Context, symbol, orderID string) (*models.Fill, error)

	// GetBalances 查询交易所侧的现金与持仓。
	GetBalances(ctx context.Context) (*Balances, error)

	// Mode 标识该后端产生的成交属于模拟还是实盘。
	Mode() models.ExecutionMode
}
