// Package regime labels a market snapshot with a coarse behavioral regime.
// Classification is a pure function of the snapshot: deterministic, no I/O.
// Misclassification only biases downstream weighting, so thresholds are
// heuristics rather than strict requirements.
package regime

import (
	"math"

	"ai-trading-bot-go/internal/indicators"
	"ai-trading-bot-go/internal/models"
)

const (
	// minHistory is the shortest return series we attempt to classify.
	// Anything shorter falls back to the default label instead of failing
	// the cycle.
	minHistory = 20

	shockSigma        = 4.0  // a single return this many sigmas out is a shock
	trendThresholdPct = 2.0  // trailing move beyond this is a trend
	crushBandwidth    = 1.0  // Bollinger bandwidth (percent) below this is a vol crush
	rsiOverbought     = 70.0
	rsiOversold       = 30.0
)

// Classify maps a snapshot to a RegimeLabel. Short or missing history
// degrades to RegimeTrend, never to an error.
func Classify(snap models.Snapshot) models.RegimeLabel {
	if len(snap.Returns) < minHistory {
		return models.RegimeTrend
	}

	prices := reconstructPrices(snap)
	vol := snap.Volatility
	if vol == 0 {
		vol = indicators.Volatility(snap.Returns)
	}

	// Shock dominates everything else: one outsized move means the other
	// statistics are describing a market that no longer exists.
	last := snap.Returns[len(snap.Returns)-1]
	if vol > 0 && math.Abs(last) > shockSigma*vol {
		return models.RegimeShock
	}

	trend := indicators.TrendPct(prices, minHistory)
	bands := indicators.Bollinger(prices, minHistory, 2)
	rsi := indicators.RSI(prices, 14)

	if bands.Bandwidth < crushBandwidth {
		return models.RegimeVolatilityCrush
	}
	if math.Abs(trend) < trendThresholdPct && (rsi > rsiOverbought || rsi < rsiOversold) {
		return models.RegimeMeanReversion
	}
	if math.Abs(trend) < trendThresholdPct {
		// Ranging but without an extreme oscillator reading still mean-reverts.
		return models.RegimeMeanReversion
	}
	return models.RegimeTrend
}

// reconstructPrices rebuilds a price path from the current price and the
// return series, so the indicator math can run on price levels. The absolute
// level cancels out of every ratio-based indicator.
func reconstructPrices(snap models.Snapshot) []float64 {
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
