package infra

import (
	"github.com/prometheus/client_golang/prometheus"

	"trade_sim/internal/domain"
)

// StatsSource returns the current feed processing stats.
type StatsSource func() domain.PerformanceStats

// StatsCollector exports PerformanceStats on every scrape. Values are read
// from the source at collection time, so nothing is cached between scrapes.
type StatsCollector struct {
	source StatsSource

	avg       *prometheus.Desc
	min       *prometheus.Desc
	max       *prometheus.Desc
	messages  *prometheus.Desc
	rejected  *prometheus.Desc
	dropped   *prometheus.Desc
	connected *prometheus.Desc
}

// NewStatsCollector builds a collector labelled by exchange and symbol.
func NewStatsCollector(source StatsSource) *StatsCollector {
	labels := []string{"exchange", "symbol"}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("tradesim_"+name, help, labels, nil)
	}
	return &StatsCollector{
		source:    source,
		avg:       desc("processing_avg_ms", "Average book update processing time over the stats window."),
		min:       desc("processing_min_ms", "Minimum book update processing time over the stats window."),
		max:       desc("processing_max_ms", "Maximum book update processing time over the stats window."),
		messages:  desc("messages_total", "Book messages processed."),
		rejected:  desc("rejected_total", "Book messages rejected by the store."),
		dropped:   desc("dropped_total", "Book messages dropped under backpressure."),
		connected: desc("connection_state", "Feed connection state (0 disconnected, 1 connecting, 2 connected)."),
	}
}

// Describe implements prometheus.Collector.
func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.avg
	ch <- c.min
	ch <- c.max
	ch <- c.messages
	ch <- c.rejected
	ch <- c.dropped
	ch <- c.connected
}

// Collect implements prometheus.Collector.
func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.source()
	ex, sym := st.Exchange, st.Symbol

	ch <- prometheus.MustNewConstMetric(c.avg, prometheus.GaugeValue, st.AvgProcessingTimeMs, ex, sym)
	ch <- prometheus.MustNewConstMetric(c.min, prometheus.GaugeValue, st.MinProcessingTimeMs, ex, sym)
	ch <- prometheus.MustNewConstMetric(c.max, prometheus.GaugeValue, st.MaxProcessingTimeMs, ex, sym)
	ch <- prometheus.MustNewConstMetric(c.messages, prometheus.CounterValue, float64(st.MessageCount), ex, sym)
	ch <- prometheus.MustNewConstMetric(c.rejected, prometheus.CounterValue, float64(st.RejectedCount), ex, sym)
	ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(st.DroppedMessageCount), ex, sym)
	ch <- prometheus.MustNewConstMetric(c.connected, prometheus.GaugeValue, float64(st.ConnectionState), ex, sym)
}

// SimulationMetrics counts cost estimates by outcome.
type SimulationMetrics struct {
	runs    *prometheus.CounterVec
	netCost *prometheus.HistogramVec
}

// NewSimulationMetrics registers its vectors on reg.
func NewSimulationMetrics(reg prometheus.Registerer) *SimulationMetrics {
	m := &SimulationMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradesim_simulations_total",
			Help: "Cost simulations by result (ok, degraded, error).",
		}, []string{"symbol", "result"}),
		netCost: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tradesim_net_cost_bps",
			Help:    "Simulated net cost in basis points of notional.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 50, 100},
		}, []string{"symbol"}),
	}
	reg.MustRegister(m.runs, m.netCost)
	return m
}

// Observe records one simulation outcome.
func (m *SimulationMetrics) Observe(symbol string, quantityUSD float64, res domain.SimulationResult, err error) {
	switch {
	case err != nil:
		m.runs.WithLabelValues(symbol, "error").Inc()
		return
	case res.Degraded:
		m.runs.WithLabelValues(symbol, "degraded").Inc()
	default:
		m.runs.WithLabelValues(symbol, "ok").Inc()
	}
	m.netCost.WithLabelValues(symbol).Observe(res.NetCostPct(quantityUSD) * 100)
}
