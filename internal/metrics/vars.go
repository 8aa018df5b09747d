package metrics

import (
	"math/big"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	DexOut = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "spread_dex_out_amount",
		Help: "Last quoted output amount per venue (smallest units, lossy)",
	}, []string{"venue"})

	QuoterErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "spread_quoter_errors_total",
		Help: "Number of quote fetch failures",
	}, []string{"venue", "kind"})

	QuoteLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "spread_quoter_latency_seconds",
		Help:    "Time to obtain a DEX quote",
		Buckets: prometheus.DefBuckets,
	}, []string{"venue"})

	Spread = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "spread_last_spread_amount",
		Help: "Absolute spread of the last evaluated cycle",
	})

	EstimatedProfit = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "spread_last_estimated_profit_amount",
		Help: "Discounted spread of the last evaluated cycle",
	})

	Cycles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "spread_cycles_total",
		Help: "Poll-evaluate cycles by outcome",
	}, []string{"status"})

	Opportunities = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "spread_opportunities_total",
		Help: "Cycles whose estimated profit exceeded the threshold",
	})

	ReportErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "spread_report_errors_total",
		Help: "Reporter failures by sink",
	}, []string{"sink"})
)

func init() {
	prometheus.MustRegister(
		DexOut,
		QuoterErrors,
		QuoteLatency,
		Spread,
		EstimatedProfit,
		Cycles,
		Opportunities,
		ReportErrors,
	)
}

// SetAmount sets g from a token amount. Gauges are float64, so this is lossy
// above 2^53 and must never feed back into a decision.
func SetAmount(g prometheus.Gauge, x *big.Int) {
	f, _ := new(big.Float).SetInt(x).Float64()
	g.Set(f)
}
