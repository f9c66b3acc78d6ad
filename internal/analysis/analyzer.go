package analysis

import (
	"context"

	"ai-trading-bot-go/internal/models"
)

// Analyzer 定义了外部市场分析后端的逻辑契约。
// 实现必须支持 context 超时；调用方把任何错误都降级为观望信号，
// 因此实现只负责如实报告失败，不做兜底。
type Analyzer interface {
	Analyze(ctx context.Context, snap models.Snapshot, regime models.RegimeLabel) (*models.AnalysisResult, error)
}
