package bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 汇总控制器暴露的 Prometheus 指标
type Metrics struct {
	Cycles     *prometheus.CounterVec
	Trades     *prometheus.CounterVec
	Rejections *prometheus.CounterVec
	Halts      *prometheus.CounterVec
	Equity     prometheus.Gauge
	Drawdown   prometheus.Gauge
}

// NewMetrics 在给定的 registerer 上注册所有指标。
// 测试里传独立的 Registry 即可避免重复注册冲突。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Cycles: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_cycles_total",
			Help: "Completed decision cycles per symbol.",
		}, []string{"symbol"}),
		Trades: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_trades_total",
			Help: "Recorded trades by side and final status.",
		}, []string{"side", "status"}),
		Rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_risk_rejections_total",
			Help: "Risk pipeline rejections by reason.",
		}, []string{"reason"}),
		Halts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_halts_total",
			Help: "Global halts by reason.",
		}, []string{"reason"}),
		Equity: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bot_equity_usd",
			Help: "Current total equity in USD.",
		}),
		Drawdown: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bot_drawdown_ratio",
			Help: "Current drawdown from the all-time equity high, in [0,1].",
		}),
	}
}
