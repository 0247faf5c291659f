package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"duck-gateway/internal/audit"
	"duck-gateway/internal/pool"
)

// PoolStatter is satisfied by *pool.Pool.
type PoolStatter interface {
	Stats() pool.Stats
}

var (
	poolConnsDesc = prometheus.NewDesc(namespace+"_pool_connections",
		"Pool connections by role and state", []string{"role", "state"}, nil)
	poolWaitingDesc = prometheus.NewDesc(namespace+"_pool_waiting",
		"Callers waiting for a connection", nil, nil)
	poolOpenTxDesc = prometheus.NewDesc(namespace+"_pool_open_transactions",
		"Transactions currently open", nil, nil)
	poolQueriesDesc = prometheus.NewDesc(namespace+"_pool_queries_total",
		"Statements executed through the pool", nil, nil)
	poolTimedOutDesc = prometheus.NewDesc(namespace+"_pool_timeouts_total",
		"Statements that exceeded their execution timeout", nil, nil)
	poolReplacedDesc = prometheus.NewDesc(namespace+"_pool_replaced_total",
		"Connections discarded and replaced", nil, nil)
	poolLatencyDesc = prometheus.NewDesc(namespace+"_pool_avg_latency_seconds",
		"Mean execution latency over the recent history window", nil, nil)
)

type poolCollector struct{ p PoolStatter }

func (c poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- poolConnsDesc
	ch <- poolWaitingDesc
	ch <- poolOpenTxDesc
	ch <- poolQueriesDesc
	ch <- poolTimedOutDesc
	ch <- poolReplacedDesc
	ch <- poolLatencyDesc
}

func (c poolCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.p.Stats()
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	gauge(poolConnsDesc, float64(s.IdleReaders), "reader", "idle")
	gauge(poolConnsDesc, float64(s.Readers-s.IdleReaders), "reader", "busy")
	gauge(poolConnsDesc, float64(s.IdleWriters), "writer", "idle")
	gauge(poolConnsDesc, float64(s.Writers-s.IdleWriters), "writer", "busy")
	gauge(poolWaitingDesc, float64(s.Waiting))
	gauge(poolOpenTxDesc, float64(s.OpenTransactions))
	gauge(poolLatencyDesc, s.AvgLatency.Seconds())
	ch <- prometheus.MustNewConstMetric(poolQueriesDesc, prometheus.CounterValue, float64(s.Queries))
	ch <- prometheus.MustNewConstMetric(poolTimedOutDesc, prometheus.CounterValue, float64(s.TimedOut))
	ch <- prometheus.MustNewConstMetric(poolReplacedDesc, prometheus.CounterValue, float64(s.Replaced))
}

// RegisterPool exports pool statistics, read on every scrape.
func (m *Metrics) RegisterPool(p PoolStatter) error {
	return m.registry.Register(poolCollector{p: p})
}

// AuditHealther is satisfied by *audit.Logger.
type AuditHealther interface {
	Health() audit.Health
}

// RegisterAudit exports audit logger health, read on every scrape.
func (m *Metrics) RegisterAudit(a AuditHealther) error {
	degraded := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "audit",
		Name:      "degraded",
		Help:      "1 while audit records are buffered because the sink is failing",
	}, func() float64 {
		if a.Health().Degraded {
			return 1
		}
		return 0
	})
	buffered := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "audit",
		Name:      "buffered_records",
		Help:      "Audit records waiting for the sink",
	}, func() float64 { return float64(a.Health().Buffered) })
	written := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "audit",
		Name:      "written_total",
		Help:      "Audit records persisted to the sink",
	}, func() float64 { return float64(a.Health().Written) })

	for _, c := range []prometheus.Collector{degraded, buffered, written} {
		if err := m.registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}
