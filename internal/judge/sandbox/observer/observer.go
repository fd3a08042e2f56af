// Package observer defines metrics hooks for sandbox execution.
package observer

import (
	"context"
	"time"
)

// MetricsRecorder records sandbox metrics.
type MetricsRecorder interface {
	ObserveCompile(ctx context.Context, languageID string, ok bool, elapsed time.Duration)
	ObserveRun(ctx context.Context, languageID string, outcome string, wallTime time.Duration, maxRSSBytes int64)
}

// NoopMetricsRecorder is a default recorder that does nothing.
type NoopMetricsRecorder struct{}

func (NoopMetricsRecorder) ObserveCompile(ctx context.Context, languageID string, ok bool, elapsed time.Duration) {
}

func (NoopMetricsRecorder) ObserveRun(ctx context.Context, languageID string, outcome string, wallTime time.Duration, maxRSSBytes int64) {
}
