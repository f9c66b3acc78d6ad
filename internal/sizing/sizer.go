// Package sizing 将已批准的信号转化为具体的下单规模。
// 采用分数凯利：edge = p - (1-p)/b, 其中 p 为置信度, b 为假定盈亏比,
// 先钳制到 [0,1] 再乘以安全系数，保证安全系数前的仓位比例不超过全额权益。
package sizing

import "ai-trading-bot-go/internal/models"

// 盈亏平衡点附近的浮点残差不构成可交易的优势，一律按零处理
const edgeEpsilon = 1e-12

// KellySizer 按分数凯利计算目标名义价值
type KellySizer struct {
	SafetyFactor float64 // 凯利安全系数, (0,1]
	PayoffRatio  float64 // 假定盈亏比 b
}

// NewKellySizer 创建仓位计算器
func NewKellySizer(safetyFactor, payoffRatio float64) *KellySizer {
	return &KellySizer{SafetyFactor: safetyFactor, PayoffRatio: payoffRatio}
}

// EdgeFraction 把置信度映射为权益比例（未乘安全系数）。
// 映射对置信度单调，且被钳制在 [0,1]。
func (s *KellySizer) EdgeFraction(confidence float64) float64 {
	if s.PayoffRatio <= 0 {
		return 0
	}
	if confidence < 0 {
		confidence = 0
	} else if confidence > 1 {
		confidence = 1
	}

	edge := confidence - (1-confidence)/s.PayoffRatio
	if edge < edgeEpsilon {
		return 0
	}
	if edge > 1 {
		return 1
	}
	return edge
}

// TargetNotional 计算无约束的目标名义价值 (USD)。
// 结果为零或负数时调用方应以 ZeroSize 短路，不再进入执行。
func (s *KellySizer) TargetNotional(sig models.Signal, totalEquity float64) float64 {
	if totalEquity <= 0 {
		return 0
	}
	fraction := s.SafetyFactor * s.EdgeFraction(sig.Confidence)
	return totalEquity * fraction
}

// Quantity 把名义价值换算为基础货币数量
func (s *KellySizer) Quantity(notional, price float64) float64 {
	if price <= 0 {
		return 0
	}
	return notional / price
}
