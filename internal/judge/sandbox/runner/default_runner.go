package runner

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"judgecore/internal/judge/sandbox/cgroup"
	"judgecore/internal/judge/sandbox/engine"
	"judgecore/internal/judge/sandbox/observer"
	"judgecore/internal/judge/sandbox/result"
	"judgecore/internal/judge/sandbox/spec"
	"judgecore/internal/judge/sandbox/workspace"
	appErr "judgecore/pkg/errors"
	"judgecore/pkg/utils/logger"
)

// DefaultRunner implements Runner on top of the sandbox engine.
type DefaultRunner struct {
	eng     *engine.Engine
	groups  *cgroup.Manager
	metrics observer.MetricsRecorder
}

// Option configures a DefaultRunner.
type Option func(*DefaultRunner)

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics observer.MetricsRecorder) Option {
	return func(r *DefaultRunner) {
		if metrics != nil {
			r.metrics = metrics
		}
	}
}

// NewRunner creates a runner. A nil groups manager runs without cgroups.
func NewRunner(eng *engine.Engine, groups *cgroup.Manager, opts ...Option) *DefaultRunner {
	r := &DefaultRunner{eng: eng, groups: groups, metrics: observer.NoopMetricsRecorder{}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the command with input on stdin and captures stdout and stderr
// through pipes.
func (r *DefaultRunner) Run(ctx context.Context, req RunRequest) (result.ExecutionReport, error) {
	if err := validate(req.ProjectDir, req.Command); err != nil {
		return result.ExecutionReport{}, err
	}
	return r.execute(ctx, execution{
		sessionID:  req.SessionID,
		languageID: req.LanguageID,
		spec: engine.SessionSpec{
			WorkDir: req.ProjectDir,
			Command: req.Command,
			Profile: req.Profile,
			Env:     req.Env,
		},
		input: req.Input,
	})
}

// RunFile executes the command with stdin read from req.InputPath. Output goes
// to capture files named after the input path.
func (r *DefaultRunner) RunFile(ctx context.Context, req FileRunRequest) (result.ExecutionReport, error) {
	if err := validate(req.ProjectDir, req.Command); err != nil {
		return result.ExecutionReport{}, err
	}
	if req.InputPath == "" {
		return result.ExecutionReport{}, appErr.ValidationError("input_path", "required")
	}
	outputPath, errorPath := workspace.CapturePaths(req.ProjectDir, req.InputPath)
	return r.execute(ctx, execution{
		sessionID:  req.SessionID,
		languageID: req.LanguageID,
		spec: engine.SessionSpec{
			WorkDir: req.ProjectDir,
			Command: req.Command,
			Profile: req.Profile,
			Env:     req.Env,
			Files: &engine.FileCapture{
				InputPath:  req.InputPath,
				OutputPath: outputPath,
				ErrorPath:  errorPath,
			},
		},
	})
}

type execution struct {
	sessionID  string
	languageID string
	spec       engine.SessionSpec
	input      []byte
}

func (r *DefaultRunner) execute(ctx context.Context, ex execution) (result.ExecutionReport, error) {
	if ex.sessionID == "" {
		ex.sessionID = uuid.NewString()
	}
	ctx = logger.WithSessionID(ctx, ex.sessionID)
	if ex.languageID != "" {
		ctx = logger.WithLanguage(ctx, ex.languageID)
	}
	start := time.Now()

	report, err := r.executeInGroup(ctx, ex)
	if err != nil {
		logger.Error(ctx, "execution failed", zap.Error(err), zap.Int("code", int(appErr.GetCode(err))))
		r.metrics.ObserveRun(ctx, ex.languageID, observer.OutcomeInfraError, time.Since(start), 0)
		return result.ExecutionReport{}, err
	}
	logger.Info(ctx, "execution finished",
		zap.String("outcome", string(report.Outcome)),
		zap.Duration("wall_time", report.WallTime),
		zap.Duration("cpu_time", report.Usage.CPUTime()),
		zap.Int64("max_rss_bytes", report.Usage.MaxRSSBytes))
	r.metrics.ObserveRun(ctx, ex.languageID, string(report.Outcome), report.WallTime, report.Usage.MaxRSSBytes)
	return report, nil
}

func (r *DefaultRunner) executeInGroup(ctx context.Context, ex execution) (result.ExecutionReport, error) {
	group, release, err := r.acquire(ctx, ex.spec.Profile)
	if err != nil {
		return result.ExecutionReport{}, err
	}
	defer release()

	ex.spec.ID = ex.sessionID
	ex.spec.Group = group
	if r.groups != nil {
		ex.spec.Join = r.groups.JoinMethod()
	}
	session, err := r.eng.NewSession(ex.spec)
	if err != nil {
		return result.ExecutionReport{}, err
	}
	running, err := session.Spawn(ctx)
	if err != nil {
		return result.ExecutionReport{}, err
	}
	report, err := running.Wait(ctx, ex.input)
	if err != nil {
		return result.ExecutionReport{}, err
	}

	// An exclusive group's accounting belongs to this execution alone.
	if group != nil && group.Exclusive() {
		if peak, err := group.MemoryPeak(); err == nil {
			report.MemoryPeakBytes = peak
		}
		report.OOMKilled = group.OOMKilled()
	}
	return report, nil
}

func (r *DefaultRunner) acquire(ctx context.Context, profile spec.ResourceProfile) (*cgroup.Group, func(), error) {
	if r.groups == nil {
		return nil, func() {}, nil
	}
	return r.groups.Acquire(ctx, cgroup.Limits{
		MemoryBytes: profile.MemoryLimit,
		MaxProcs:    profile.ProcessLimit,
	})
}

func validate(projectDir string, cmd spec.CommandSpec) error {
	if projectDir == "" {
		return appErr.ValidationError("project_dir", "required")
	}
	if cmd.Empty() {
		return appErr.ValidationError("command", "required")
	}
	return nil
}
