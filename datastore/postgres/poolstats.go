package postgres

import (
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// Stat is the subset of [pgxpool.Stat] that's exported as metrics.
type stat interface {
	AcquireCount() int64
	AcquireDuration() time.Duration
	AcquiredConns() int32
	CanceledAcquireCount() int64
	ConstructingConns() int32
	EmptyAcquireCount() int64
	IdleConns() int32
	MaxConns() int32
	TotalConns() int32
	NewConnsCount() int64
	MaxLifetimeDestroyCount() int64
	MaxIdleDestroyCount() int64
}

var (
	_ stat                 = (*pgxpool.Stat)(nil)
	_ prometheus.Collector = (*poolCollector)(nil)
)

type poolMetric struct {
	desc *prometheus.Desc
	kind prometheus.ValueType
	val  func(stat) float64
}

func newPoolMetric(name, help string, kind prometheus.ValueType, val func(stat) float64) poolMetric {
	return poolMetric{
		desc: prometheus.NewDesc(
			prometheus.BuildFQName("nspmirror", "postgres", "pool_"+name),
			help, []string{"application_name"}, nil),
		kind: kind,
		val:  val,
	}
}

var poolMetrics = []poolMetric{
	newPoolMetric("acquire_count", "Cumulative count of successful acquires from the pool.",
		prometheus.CounterValue, func(s stat) float64 { return float64(s.AcquireCount()) }),
	newPoolMetric("acquire_duration_seconds_total", "Total duration of all successful acquires from the pool.",
		prometheus.CounterValue, func(s stat) float64 { return s.AcquireDuration().Seconds() }),
	newPoolMetric("acquired_conns", "Number of currently acquired connections in the pool.",
		prometheus.GaugeValue, func(s stat) float64 { return float64(s.AcquiredConns()) }),
	newPoolMetric("canceled_acquire_count", "Cumulative count of acquires from the pool that were canceled by a context.",
		prometheus.CounterValue, func(s stat) float64 { return float64(s.CanceledAcquireCount()) }),
	newPoolMetric("constructing_conns", "Number of connections with construction in progress in the pool.",
		prometheus.GaugeValue, func(s stat) float64 { return float64(s.ConstructingConns()) }),
	newPoolMetric("empty_acquire_count", "Cumulative count of successful acquires that waited because the pool was empty.",
		prometheus.CounterValue, func(s stat) float64 { return float64(s.EmptyAcquireCount()) }),
	newPoolMetric("idle_conns", "Number of currently idle connections in the pool.",
		prometheus.GaugeValue, func(s stat) float64 { return float64(s.IdleConns()) }),
	newPoolMetric("max_conns", "Maximum size of the pool.",
		prometheus.GaugeValue, func(s stat) float64 { return float64(s.MaxConns()) }),
	newPoolMetric("total_conns", "Total number of connections currently in the pool.",
		prometheus.GaugeValue, func(s stat) float64 { return float64(s.TotalConns()) }),
	newPoolMetric("new_conns_count", "Cumulative count of new connections opened.",
		prometheus.CounterValue, func(s stat) float64 { return float64(s.NewConnsCount()) }),
	newPoolMetric("max_lifetime_destroy_count", "Cumulative count of connections destroyed for exceeding their lifetime.",
		prometheus.CounterValue, func(s stat) float64 { return float64(s.MaxLifetimeDestroyCount()) }),
	newPoolMetric("max_idle_destroy_count", "Cumulative count of connections destroyed for being idle too long.",
		prometheus.CounterValue, func(s stat) float64 { return float64(s.MaxIdleDestroyCount()) }),
}

// PoolCollector reports the statistics of a connection pool.
type poolCollector struct {
	name string
	stat func() stat
}

// Describe implements [prometheus.Collector].
func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range poolMetrics {
		ch <- m.desc
	}
}

// Collect implements [prometheus.Collector].
func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stat()
	for _, m := range poolMetrics {
		ch <- prometheus.MustNewConstMetric(m.desc, m.kind, m.val(s), c.name)
	}
}

// Collector returns a [prometheus.Collector] reporting the Store's connection
// pool statistics.
func (s *Store) Collector() prometheus.Collector {
	name := s.pool.Config().ConnConfig.RuntimeParams["application_name"]
	return &poolCollector{
		name: name,
		stat: func() stat { return s.pool.Stat() },
	}
}
