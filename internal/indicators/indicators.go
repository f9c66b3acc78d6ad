// Package indicators provides the technical indicator math used by the
// regime classifier and the signal generator. All functions are pure and
// tolerate short histories by returning neutral values.
package indicators

import "math"

// MACDResult holds the MACD line, its signal line and the histogram.
type MACDResult struct {
	MACD      float64
	Signal    float64
	Histogram float64
}

// BollingerResult holds the band edges and the relative bandwidth (percent).
type BollingerResult struct {
	Upper     float64
	Middle    float64
	Lower     float64
	Bandwidth float64
}

// RSI computes the Relative Strength Index over the given period.
// Returns the neutral value 50 when history is too short.
func RSI(prices []float64, period int) float64 {
	if len(prices) < period+1 {
		return 50
	}

	var gains, losses float64
	start := len(prices) - period
	for i := start; i < len(prices); i++ {
		delta := prices[i] - prices[i-1]
		if delta > 0 {
			gains += delta
		} else {
			losses -= delta
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// EMA computes an exponential moving average seeded with the simple mean of
// the first period values.
func EMA(prices []float64, period int) float64 {
	if len(prices) == 0 {
		return 0
	}
	if len(prices) < period {
		return mean(prices)
	}
	multiplier := 2 / float64(period+1)
	ema := mean(prices[:period])
	for _, p := range prices[period:] {
		ema = p*multiplier + ema*(1-multiplier)
	}
	return ema
}

// MACD computes the moving average convergence divergence. The signal line is
// an EMA over the trailing MACD series when enough history exists, otherwise
// it collapses onto the MACD line (zero histogram).
func MACD(prices []float64, fast, slow, signalPeriod int) MACDResult {
	if len(prices) < slow+signalPeriod {
		return MACDResult{}
	}

	macdLine := EMA(prices, fast) - EMA(prices, slow)

	signalLine := macdLine
	if len(prices) >= slow*2 {
		macdSeries := make([]float64, 0, len(prices)-slow)
		for i := slow; i < len(prices); i++ {
			macdSeries = append(macdSeries, EMA(prices[:i+1], fast)-EMA(prices[:i+1], slow))
		}
		if len(macdSeries) >= signalPeriod {
			signalLine = EMA(macdSeries, signalPeriod)
		}
	}

	return MACDResult{
		MACD:      macdLine,
		Signal:    signalLine,
		Histogram: macdLine - signalLine,
	}
}

// Bollinger computes Bollinger bands over the trailing period. With a short
// history it returns a synthetic 2% band around the last price.
func Bollinger(prices []float64, period int, stdDevs float64) BollingerResult {
	if len(prices) == 0 {
		return BollingerResult{Bandwidth: 4}
	}
	if len(prices) < period {
		last := prices[len(prices)-1]
		return BollingerResult{
			Upper:     last * 1.02,
			Middle:    last,
			Lower:     last * 0.98,
			Bandwidth: 4,
		}
	}

	window := prices[len(prices)-period:]
	middle := mean(window)
	sd := stdDev(window, middle)
	upper := middle + stdDevs*sd
	lower := middle - stdDevs*sd

	bandwidth := 0.0
	if middle != 0 {
		bandwidth = (upper - lower) / middle * 100
	}
	return BollingerResult{Upper: upper, Middle: middle, Lower: lower, Bandwidth: bandwidth}
}

// Volatility computes the standard deviation of the return series.
func Volatility(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	m := mean(returns)
	return stdDev(returns, m)
}

// TrendPct computes the percentage change over the trailing lookback window.
// Returns 0 when history is too short.
func TrendPct(prices []float64, lookback int) float64 {
	if len(prices) < lookback+1 {
		return 0
	}
	base := prices[len(prices)-1-lookback]
	if base == 0 {
		return 0
	}
	return (prices[len(prices)-1] - base) / base * 100
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stdDev(xs []float64, m float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var sq float64
	for _, x := range xs {
		d := x - m
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(xs)))
}
