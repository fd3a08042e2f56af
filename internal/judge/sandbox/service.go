package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"judgecore/internal/judge/compiler"
	"judgecore/internal/judge/sandbox/config"
	"judgecore/internal/judge/sandbox/observer"
	"judgecore/internal/judge/sandbox/result"
	"judgecore/internal/judge/sandbox/runner"
	appErr "judgecore/pkg/errors"
	"judgecore/pkg/utils/logger"
)

const inputFileName = "stdin.txt"

// ServiceConfig holds the build settings shared by all languages.
type ServiceConfig struct {
	WorkRoot       string
	CompileTimeout time.Duration
	// KeepWorkspace leaves project directories behind for inspection.
	KeepWorkspace bool
}

// ServiceOption configures a DefaultService.
type ServiceOption func(*DefaultService)

// WithStatusReporter sets the phase reporter.
func WithStatusReporter(reporter StatusReporter) ServiceOption {
	return func(s *DefaultService) {
		if reporter != nil {
			s.reporter = reporter
		}
	}
}

// WithCompileMetrics sets the recorder handed to each compiler.
func WithCompileMetrics(metrics observer.MetricsRecorder) ServiceOption {
	return func(s *DefaultService) {
		if metrics != nil {
			s.metrics = metrics
		}
	}
}

// DefaultService compiles with compiler.Compiler and runs with a runner.Runner.
type DefaultService struct {
	languages config.LanguageSpecRepository
	runner    runner.Runner
	cfg       ServiceConfig
	reporter  StatusReporter
	metrics   observer.MetricsRecorder
}

// NewService creates a sandbox service.
func NewService(languages config.LanguageSpecRepository, run runner.Runner, cfg ServiceConfig, opts ...ServiceOption) *DefaultService {
	s := &DefaultService{
		languages: languages,
		runner:    run,
		cfg:       cfg,
		reporter:  NoopStatusReporter{},
		metrics:   observer.NoopMetricsRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Judge compiles req.Source and runs it once. A rejected build returns a
// CompilationError; a program that misbehaves still yields a report.
func (s *DefaultService) Judge(ctx context.Context, req JudgeRequest) (result.ExecutionReport, error) {
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	ctx = logger.WithLanguage(logger.WithSessionID(ctx, req.SessionID), req.LanguageID)

	report, err := s.judge(ctx, req)
	update := StatusUpdate{SessionID: req.SessionID, Language: req.LanguageID, At: time.Now()}
	if err != nil {
		update.Phase, update.Err = PhaseFailed, err
	} else {
		update.Phase, update.Outcome = PhaseFinished, report.Outcome
	}
	s.reporter.ReportStatus(ctx, update)
	return report, err
}

func (s *DefaultService) judge(ctx context.Context, req JudgeRequest) (result.ExecutionReport, error) {
	if err := validateRequest(req); err != nil {
		return result.ExecutionReport{}, err
	}
	lang, err := s.languages.GetLanguageSpec(ctx, req.LanguageID)
	if err != nil {
		return result.ExecutionReport{}, err
	}
	runCmd, err := lang.RunCommand()
	if err != nil {
		return result.ExecutionReport{}, err
	}
	profile := lang.Profile
	if req.TimeLimit > 0 {
		profile = profile.WithTimeLimit(req.TimeLimit)
	}

	s.report(ctx, req, PhaseCompiling)
	comp := compiler.New(lang, s.cfg.WorkRoot, compiler.Options{
		Timeout: s.cfg.CompileTimeout,
		Metrics: s.metrics,
	})
	projectDir, err := comp.Compile(ctx, req.Source)
	if err != nil {
		return result.ExecutionReport{}, err
	}
	if !s.cfg.KeepWorkspace {
		defer func() {
			if err := os.RemoveAll(projectDir); err != nil {
				logger.Warn(ctx, "remove project dir failed", zap.String("project_dir", projectDir), zap.Error(err))
			}
		}()
	}

	s.report(ctx, req, PhaseRunning)
	if req.Capture == CaptureFiles {
		inputPath, err := materializeInput(projectDir, req)
		if err != nil {
			return result.ExecutionReport{}, err
		}
		return s.runner.RunFile(ctx, runner.FileRunRequest{
			SessionID:  req.SessionID,
			LanguageID: lang.ID,
			ProjectDir: projectDir,
			Command:    runCmd,
			Profile:    profile,
			Env:        lang.Env,
			InputPath:  inputPath,
		})
	}

	input := req.Input
	if req.InputPath != "" {
		input, err = os.ReadFile(req.InputPath)
		if err != nil {
			return result.ExecutionReport{}, appErr.OSFailure(err, "read input %s failed", req.InputPath)
		}
	}
	return s.runner.Run(ctx, runner.RunRequest{
		SessionID:  req.SessionID,
		LanguageID: lang.ID,
		ProjectDir: projectDir,
		Command:    runCmd,
		Profile:    profile,
		Env:        lang.Env,
		Input:      input,
	})
}

func (s *DefaultService) report(ctx context.Context, req JudgeRequest, phase Phase) {
	s.reporter.ReportStatus(ctx, StatusUpdate{
		SessionID: req.SessionID,
		Language:  req.LanguageID,
		Phase:     phase,
		At:        time.Now(),
	})
}

func validateRequest(req JudgeRequest) error {
	if req.LanguageID == "" {
		return appErr.ValidationError("language", "required")
	}
	switch req.Capture {
	case "", CapturePipes, CaptureFiles:
	default:
		return appErr.ValidationError("capture", "must be pipes or files")
	}
	if req.TimeLimit < 0 {
		return appErr.ValidationError("time_limit", "must not be negative")
	}
	if len(req.Input) > 0 && req.InputPath != "" {
		return appErr.ValidationError("input", "input and input path are mutually exclusive")
	}
	return nil
}

// materializeInput returns an absolute stdin path for file capture.
func materializeInput(projectDir string, req JudgeRequest) (string, error) {
	if req.InputPath != "" {
		path, err := filepath.Abs(req.InputPath)
		if err != nil {
			return "", appErr.OSFailure(err, "resolve input path failed")
		}
		return path, nil
	}
	path := filepath.Join(projectDir, inputFileName)
	if err := os.WriteFile(path, req.Input, 0644); err != nil {
		return "", appErr.OSFailure(err, "write input file failed")
	}
	return path, nil
}
