package reporter

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"ai-trading-bot-go/internal/models"
)

// Metrics 存储计算出的所有运行性能指标
type Metrics struct {
	StartEquity     float64
	FinalEquity     float64
	TotalProfit     float64
	ReturnPct       float64
	FilledTrades    int
	RejectedTrades  int
	WinningTrades   int
	LosingTrades    int
	WinRate         float64
	AvgPnL          float64
	TotalFees       float64
	MaxDrawdownPct  float64
	StartTime       time.Time
	EndTime         time.Time
	ExitsByReason   map[string]int
	RejectsByReason map[string]int
}

// Calculate 从交易记录和权益序列汇总一次运行的表现
func Calculate(trades []*models.Trade, series []models.EquitySample) *Metrics {
	m := &Metrics{
		ExitsByReason:   make(map[string]int),
		RejectsByReason: make(map[string]int),
	}

	if len(series) > 0 {
		m.StartEquity = series[0].TotalEquity
		m.FinalEquity = series[len(series)-1].TotalEquity
		m.TotalProfit = m.FinalEquity - m.StartEquity
		if m.StartEquity > 0 {
			m.ReturnPct = m.TotalProfit / m.StartEquity * 100
		}
		m.StartTime = series[0].Timestamp
		m.EndTime = series[len(series)-1].Timestamp
		m.MaxDrawdownPct = maxDrawdown(series) * 100
	}

	var realized float64
	var realizedCount int
	for _, trade := range trades {
		switch trade.Status {
		case models.TradeFilled:
			m.FilledTrades++
			m.TotalFees += trade.Fee
			if trade.Side == models.Sell {
				realizedCount++
				realized += trade.PnL
				if trade.PnL > 0 {
					m.WinningTrades++
				} else {
					m.LosingTrades++
				}
				if trade.Reason != "" {
					m.ExitsByReason[trade.Reason]++
				}
			}
		case models.TradeRejected:
			m.RejectedTrades++
			m.RejectsByReason[trade.Reason]++
		}
	}
	if realizedCount > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(realizedCount) * 100
		m.AvgPnL = realized / float64(realizedCount)
	}
	return m
}

// Render 把运行报告渲染成表格写入 w，进程退出前调用一次
func Render(w io.Writer, m *Metrics) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("运行表现报告")

	t.AppendRows([]table.Row{
		{"运行区间", fmt.Sprintf("%s ~ %s",
			m.StartTime.Format("2006-01-02 15:04"), m.EndTime.Format("2006-01-02 15:04"))},
		{"初始权益", fmt.Sprintf("%.2f USD", m.StartEquity)},
		{"期末权益", fmt.Sprintf("%.2f USD", m.FinalEquity)},
		{"总盈亏", fmt.Sprintf("%.2f USD (%.2f%%)", m.TotalProfit, m.ReturnPct)},
		{"最大回撤", fmt.Sprintf("%.2f%%", m.MaxDrawdownPct)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"成交笔数", m.FilledTrades},
		{"否决笔数", m.RejectedTrades},
		{"盈利平仓", m.WinningTrades},
		{"亏损平仓", m.LosingTrades},
		{"胜率", fmt.Sprintf("%.2f%%", m.WinRate)},
		{"平均每笔盈亏", fmt.Sprintf("%.2f USD", m.AvgPnL)},
		{"累计手续费", fmt.Sprintf("%.2f USD", m.TotalFees)},
	})

	if len(m.ExitsByReason) > 0 {
		t.AppendSeparator()
		for reason, count := range m.ExitsByReason {
			t.AppendRow(table.Row{"离场: " + reason, count})
		}
	}
	if len(m.RejectsByReason) > 0 {
		t.AppendSeparator()
		for reason, count := range m.RejectsByReason {
			t.AppendRow(table.Row{"否决: " + reason, count})
		}
	}

	t.Render()
}

// maxDrawdown 计算权益序列上的最大峰谷回撤，返回 [0,1]
func maxDrawdown(series []models.EquitySample) float64 {
	var peak, worst float64
	for _, sample := range series {
		if sample.TotalEquity > peak {
			peak = sample.TotalEquity
		}
		if peak > 0 {
			dd := 1 - sample.TotalEquity/peak
			if dd > worst {
				worst = dd
			}
		}
	}
	return worst
}
