package observer

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder exports sandbox observations as Prometheus series.
type PrometheusRecorder struct {
	compiles  *prometheus.CounterVec
	compileMs *prometheus.HistogramVec
	runs      *prometheus.CounterVec
	runMs     *prometheus.HistogramVec
	backends  *prometheus.CounterVec
}

// NewPrometheusRecorder registers the sandbox collectors on reg.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	r := &PrometheusRecorder{
		compiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "codearena",
			Subsystem: "sandbox",
			Name:      "compiles_total",
			Help:      "Compilations by language and outcome",
		}, []string{"language", "ok"}),
		compileMs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "codearena",
			Subsystem: "sandbox",
			Name:      "compile_duration_ms",
			Help:      "Compilation wall time in milliseconds",
			Buckets:   prometheus.ExponentialBuckets(50, 2, 10),
		}, []string{"language"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "codearena",
			Subsystem: "sandbox",
			Name:      "runs_total",
			Help:      "Program runs by language and verdict",
		}, []string{"language", "verdict"}),
		runMs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "codearena",
			Subsystem: "sandbox",
			Name:      "run_duration_ms",
			Help:      "Program wall time in milliseconds",
			Buckets:   prometheus.ExponentialBuckets(5, 2, 12),
		}, []string{"language"}),
		backends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "codearena",
			Subsystem: "judge",
			Name:      "executions_total",
			Help:      "Executions by backend and whether the remote fallback fired",
		}, []string{"backend", "fallback"}),
	}
	if reg != nil {
		reg.MustRegister(r.compiles, r.compileMs, r.runs, r.runMs, r.backends)
	}
	return r
}

func (r *PrometheusRecorder) ObserveCompile(_ context.Context, language string, ok bool, timeMs int64) {
	r.compiles.WithLabelValues(language, strconv.FormatBool(ok)).Inc()
	r.compileMs.WithLabelValues(language).Observe(float64(timeMs))
}

func (r *PrometheusRecorder) ObserveRun(_ context.Context, language string, verdict string, timeMs int64) {
	r.runs.WithLabelValues(language, verdict).Inc()
	r.runMs.WithLabelValues(language).Observe(float64(timeMs))
}

func (r *PrometheusRecorder) ObserveBackend(_ context.Context, backend string, fallback bool) {
	r.backends.WithLabelValues(backend, strconv.FormatBool(fallback)).Inc()
}

var _ MetricsRecorder = (*PrometheusRecorder)(nil)
