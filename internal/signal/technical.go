package signal

import (
	"fmt"
	"strings"

	"ai-trading-bot-go/internal/indicators"
	"ai-trading-bot-go/internal/models"
)

// techView 是纯技术指标侧的观点，与 AI 观点加权混合后形成最终信号
type techView struct {
	direction  models.Direction
	confidence float64 // [0,1]
	reasons    []string
}

// evaluateTechnical 根据 RSI/MACD/布林带与市场状态打分。
// 买卖强度各自累加，净强度大的一方给出方向，得分上限 1.0。
// 趋势行情顺势计分：RSI 极值和轨道触碰是趋势动能的表现，不做反向信号；
// 只有震荡/回归行情才按经典超买超卖逆向计分。
func evaluateTechnical(snap models.Snapshot, regime models.RegimeLabel) techView {
	// 冲击行情下技术指标不可信，强制观望
	if regime == models.RegimeShock {
		return techView{direction: models.DirectionHold, confidence: 0, reasons: []string{"shock regime, technicals unreliable"}}
	}

	prices := priceSeries(snap)

	rsi := indicators.RSI(prices, 14)
	macd := indicators.MACD(prices, 12, 26, 9)
	bands := indicators.Bollinger(prices, 20, 2)
	trend := indicators.TrendPct(prices, 20)
	trending := regime == models.RegimeTrend

	var buy, sell float64
	var reasons []string

	if trending {
		if trend > 0 {
			buy += 0.30
			reasons = append(reasons, "uptrend regime")
			if rsi > 70 {
				buy += 0.15
				reasons = append(reasons, fmt.Sprintf("RSI confirms upward momentum (%.1f)", rsi))
			}
		} else if trend < 0 {
			sell += 0.30
			reasons = append(reasons, "downtrend regime")
			if rsi < 30 {
				sell += 0.15
				reasons = append(reasons, fmt.Sprintf("RSI confirms downward momentum (%.1f)", rsi))
			}
		}
	} else {
		if rsi < 30 {
			buy += 0.25
			reasons = append(reasons, fmt.Sprintf("RSI oversold (%.1f)", rsi))
		} else if rsi > 70 {
			sell += 0.25
			reasons = append(reasons, fmt.Sprintf("RSI overbought (%.1f)", rsi))
		}
	}

	if macd.Histogram > 0 && macd.MACD > macd.Signal {
		buy += 0.20
		reasons = append(reasons, "MACD bullish crossover")
	} else if macd.Histogram < 0 && macd.MACD < macd.Signal {
		sell += 0.20
		reasons = append(reasons, "MACD bearish crossover")
	}

	// 趋势行情会沿着布林带走，轨道突破不再视为回归信号
	if !trending {
		if snap.Price < bands.Lower {
			buy += 0.15
			reasons = append(reasons, "price below lower Bollinger band")
		} else if snap.Price > bands.Upper {
			sell += 0.15
			reasons = append(reasons, "price above upper Bollinger band")
		}
	}

	if regime == models.RegimeMeanReversion {
		// 均值回归行情里顺着极值反向加一点权重
		if rsi < 30 {
			buy += 0.15
			reasons = append(reasons, "mean-reversion bounce setup")
		} else if rsi > 70 {
			sell += 0.15
			reasons = append(reasons, "mean-reversion pullback setup")
		}
	}

	view := techView{reasons: reasons}
	switch {
	case buy > sell:
		view.direction = models.DirectionBuy
		view.confidence = clamp01(buy)
	case sell > buy:
		view.direction = models.DirectionSell
		view.confidence = clamp01(sell)
	default:
		view.direction = models.DirectionHold
		view.confidence = 0.5
	}
	return view
}

// priceSeries 由收益率序列还原价格路径，供指标计算使用
func priceSeries(snap models.Snapshot) []float64 {
	prices := make([]float64, len(snap.Returns)+1)
	prices[len(prices)-1] = snap.Price
	for i := len(snap.Returns) - 1; i >= 0; i-- {
		r := snap.Returns[i]
		if r <= -1 {
			r = -0.9999
		}
		prices[i] = prices[i+1] / (1 + r)
	}
	return prices
}

func (v techView) rationale() string {
	if len(v.reasons) == 0 {
		return "no technical edge"
	}
	return strings.Join(v.reasons, "; ")
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
