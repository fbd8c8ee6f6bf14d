// Package observer defines metrics hooks for sandbox execution.
package observer

import "context"

// MetricsRecorder records sandbox metrics.
type MetricsRecorder interface {
	ObserveCompile(ctx context.Context, language string, ok bool, timeMs int64)
	ObserveRun(ctx context.Context, language string, verdict string, timeMs int64)
	ObserveBackend(ctx context.Context, backend string, fallback bool)
}

// NoopMetricsRecorder discards all observations.
type NoopMetricsRecorder struct{}

func (NoopMetricsRecorder) ObserveCompile(context.Context, string, bool, int64) {}

func (NoopMetricsRecorder) ObserveRun(context.Context, string, string, int64) {}

func (NoopMetricsRecorder) ObserveBackend(context.Context, string, bool) {}
