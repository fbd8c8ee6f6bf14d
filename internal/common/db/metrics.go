package db

import "github.com/prometheus/client_golang/prometheus"

// StatsSource reports connection pool statistics.
type StatsSource interface {
	Stats() Stats
}

// RegisterPoolMetrics exports the pool statistics of src, sampled at scrape time.
func RegisterPoolMetrics(reg prometheus.Registerer, src StatsSource) {
	gauge := func(name, help string, read func(Stats) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "codearena",
			Subsystem: "db",
			Name:      name,
			Help:      help,
		}, func() float64 { return read(src.Stats()) })
	}
	reg.MustRegister(
		gauge("open_connections", "Established connections, in use and idle", func(s Stats) float64 { return float64(s.OpenConnections) }),
		gauge("in_use_connections", "Connections currently in use", func(s Stats) float64 { return float64(s.InUse) }),
		gauge("idle_connections", "Idle connections", func(s Stats) float64 { return float64(s.Idle) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "codearena",
			Subsystem: "db",
			Name:      "wait_count_total",
			Help:      "Connections waited for",
		}, func() float64 { return float64(src.Stats().WaitCount) }),
	)
}
