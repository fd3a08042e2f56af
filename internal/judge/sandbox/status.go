package sandbox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"judgecore/internal/judge/sandbox/result"
	"judgecore/pkg/utils/logger"
)

// Phase is a step of one judge request.
type Phase string

const (
	PhaseCompiling Phase = "Compiling"
	PhaseRunning   Phase = "Running"
	PhaseFinished  Phase = "Finished"
	PhaseFailed    Phase = "Failed"
)

// StatusUpdate carries intermediate judge status data.
type StatusUpdate struct {
	SessionID string
	Language  string
	Phase     Phase
	// Outcome is set with PhaseFinished.
	Outcome result.Outcome
	// Err is set with PhaseFailed.
	Err error
	At  time.Time
}

// StatusReporter receives phase transitions. Implementations must not block.
type StatusReporter interface {
	ReportStatus(ctx context.Context, update StatusUpdate)
}

// NoopStatusReporter drops updates.
type NoopStatusReporter struct{}

func (NoopStatusReporter) ReportStatus(ctx context.Context, update StatusUpdate) {}

// LogStatusReporter writes updates to the context logger.
type LogStatusReporter struct{}

func (LogStatusReporter) ReportStatus(ctx context.Context, update StatusUpdate) {
	fields := []zap.Field{zap.String("phase", string(update.Phase))}
	if update.Outcome != "" {
		fields = append(fields, zap.String("outcome", string(update.Outcome)))
	}
	if update.Err != nil {
		fields = append(fields, zap.Error(update.Err))
		logger.Warn(ctx, "judge status", fields...)
		return
	}
	logger.Debug(ctx, "judge status", fields...)
}
