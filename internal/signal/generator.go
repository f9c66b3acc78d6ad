// Package signal 负责将市场快照与状态分类转化为带置信度的方向信号。
// 外部 AI 后端是不可靠协作方：超时、熔断或返回垃圾时一律降级为观望，
// 周期绝不因为分析侧故障而失败。
package signal

import (
	"context"
	"fmt"
	"time"

	"ai-trading-bot-go/internal/analysis"
	"ai-trading-bot-go/internal/logger"
	"ai-trading-bot-go/internal/models"
)

const maxBlendedConfidence = 0.95 // 混合置信度的硬上限，信号永远不应自称确定

// Generator 在限定时间预算内产出一个 Signal
type Generator struct {
	analyzer   analysis.Analyzer
	timeout    time.Duration
	aiWeight   float64
	techWeight float64
}

// NewGenerator 创建信号生成器。aiWeight 与 techWeight 会被归一化。
func NewGenerator(analyzer analysis.Analyzer, timeout time.Duration, aiWeight, techWeight float64) *Generator {
	total := aiWeight + techWeight
	if total <= 0 {
		aiWeight, techWeight, total = 0.6, 0.4, 1.0
	}
	return &Generator{
		analyzer:   analyzer,
		timeout:    timeout,
		aiWeight:   aiWeight / total,
		techWeight: techWeight / total,
	}
}

// Generate 产出一个信号，永不返回错误：任何失败都表现为观望信号。
// 调用方传入的 ctx 控制整体取消；时间预算在内部附加。
func (g *Generator) Generate(ctx context.Context, snap models.Snapshot, regime models.RegimeLabel) models.Signal {
	tech := evaluateTechnical(snap, regime)

	analysisCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	result, err := g.analyzer.Analyze(analysisCtx, snap, regime)
	if err != nil {
		logger.S().Warnf("%s 分析后端不可用, 降级为观望: %v", snap.Symbol, err)
		return holdSignal(snap, regime, fmt.Sprintf("analysis backend unavailable: %v", err))
	}

	confidence := clamp01(result.Confidence)
	if confidence != result.Confidence {
		// Normalize 已经钳制过一次，这里是对实现替换的兜底
		logger.S().Warnf("%s 分析结果置信度越界 %.4f, 已钳制", snap.Symbol, result.Confidence)
	}

	if result.Recommendation == models.DirectionHold {
		return models.Signal{
			Symbol:      snap.Symbol,
			Direction:   models.DirectionHold,
			Confidence:  confidence,
			Rationale:   result.Reasoning,
			Risks:       result.Risks,
			Regime:      regime,
			GeneratedAt: snap.Timestamp,
		}
	}

	blended := g.aiWeight*confidence + g.techWeight*tech.confidence
	switch {
	case tech.direction == result.Recommendation:
		// 技术面与 AI 一致时小幅增强
		blended = blended * 1.15
	case tech.direction != models.DirectionHold:
		// 观点相左时折减，宁可错过也不硬做
		blended = blended * 0.75
	}
	if blended > maxBlendedConfidence {
		blended = maxBlendedConfidence
	}

	return models.Signal{
		Symbol:      snap.Symbol,
		Direction:   result.Recommendation,
		Confidence:  blended,
		Rationale:   fmt.Sprintf("%s | technicals: %s", result.Reasoning, tech.rationale()),
		Risks:       result.Risks,
		Regime:      regime,
		GeneratedAt: snap.Timestamp,
	}
}

func holdSignal(snap models.Snapshot, regime models.RegimeLabel, why string) models.Signal {
	return models.Signal{
		Symbol:      snap.Symbol,
		Direction:   models.DirectionHold,
		Confidence:  0,
		Rationale:   why,
		Regime:      regime,
		GeneratedAt: snap.Timestamp,
	}
}
