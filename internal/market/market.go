package market

import (
	"context"

	"ai-trading-bot-go/internal/models"
)

// 快照携带的收益率窗口长度
const ReturnsWindow = 64

// Provider 按需提供某个标的的市场快照。
// 模拟实现生成可复现的随机游走，实盘实现从交易所行情组装。
type Provider interface {
	Snapshot(ctx context.Context, symbol string) (*models.Snapshot, error)
}
