package reporter

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-trading-bot-go/internal/models"
)

func sample(equity float64, at time.Time) models.EquitySample {
	return models.EquitySample{Timestamp: at, TotalEquity: equity}
}

func TestCalculateAggregatesTrades(t *testing.T) {
	now := time.Now()
	series := []models.EquitySample{
		sample(10000, now.Add(-3*time.Hour)),
		sample(10500, now.Add(-2*time.Hour)),
		sample(9800, now.Add(-time.Hour)),
		sample(10200, now),
	}
	trades := []*models.Trade{
		{Side: models.Buy, Status: models.TradeFilled, Fee: 4.5},
		{Side: models.Sell, Status: models.TradeFilled, Fee: 4.6, PnL: 120, Reason: "profit_target"},
		{Side: models.Buy, Status: models.TradeFilled, Fee: 4.4},
		{Side: models.Sell, Status: models.TradeFilled, Fee: 4.3, PnL: -80, Reason: "stop_loss"},
		{Side: models.Buy, Status: models.TradeRejected, Reason: "LowConfidence"},
	}

	m := Calculate(trades, series)

	assert.InDelta(t, 10000, m.StartEquity, 1e-9)
	assert.InDelta(t, 10200, m.FinalEquity, 1e-9)
	assert.InDelta(t, 200, m.TotalProfit, 1e-9)
	assert.InDelta(t, 2.0, m.ReturnPct, 1e-9)
	assert.Equal(t, 4, m.FilledTrades)
	assert.Equal(t, 1, m.RejectedTrades)
	assert.Equal(t, 1, m.WinningTrades)
	assert.Equal(t, 1, m.LosingTrades)
	assert.InDelta(t, 50.0, m.WinRate, 1e-9)
	assert.InDelta(t, 20.0, m.AvgPnL, 1e-9)
	assert.InDelta(t, 17.8, m.TotalFees, 1e-9)
	// 峰值 10500 跌到 9800: 6.67% 回撤
	assert.InDelta(t, (1-9800.0/10500.0)*100, m.MaxDrawdownPct, 1e-9)
	assert.Equal(t, 1, m.ExitsByReason["profit_target"])
	assert.Equal(t, 1, m.RejectsByReason["LowConfidence"])
}

func TestCalculateHandlesEmptyRun(t *testing.T) {
	m := Calculate(nil, nil)

	assert.Zero(t, m.FilledTrades)
	assert.Zero(t, m.WinRate)
	assert.Zero(t, m.MaxDrawdownPct)
}

func TestRenderWritesTable(t *testing.T) {
	now := time.Now()
	m := Calculate([]*models.Trade{
		{Side: models.Sell, Status: models.TradeFilled, PnL: 50, Reason: "profit_target"},
	}, []models.EquitySample{sample(10000, now.Add(-time.Hour)), sample(10050, now)})

	var buf bytes.Buffer
	Render(&buf, m)

	out := buf.String()
	require.NotEmpty(t, out)
	assert.Contains(t, out, "运行表现报告")
	assert.Contains(t, out, "10050.00 USD")
}
