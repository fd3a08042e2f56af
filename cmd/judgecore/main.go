package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"judgecore/internal/judge/sandbox"
	"judgecore/internal/judge/sandbox/cgroup"
	"judgecore/internal/judge/sandbox/config"
	"judgecore/internal/judge/sandbox/engine"
	"judgecore/internal/judge/sandbox/initproc"
	"judgecore/internal/judge/sandbox/observer"
	"judgecore/internal/judge/sandbox/runner"
	appErr "judgecore/pkg/errors"
	"judgecore/pkg/utils/logger"
)

const (
	exitOK          = 0
	exitFailure     = 1
	exitCompilation = 2
)

const (
	captureFiles = string(sandbox.CaptureFiles)
	capturePipes = string(sandbox.CapturePipes)
)

type options struct {
	configPath string
	language   string
	sourcePath string
	input      string
	inputPath  string
	timeLimit  time.Duration
	capture    string
}

func main() {
	// The same binary serves as the sandbox helper.
	initproc.Hook()

	var opts options
	pflag.StringVar(&opts.configPath, "config", "", "Path to judgecore config file")
	pflag.StringVar(&opts.language, "lang", "", "Language id (cpp, rust, java, python, ...)")
	pflag.StringVar(&opts.sourcePath, "source", "", "Path to the source file")
	pflag.StringVar(&opts.input, "input", "", "Literal stdin for the program")
	pflag.StringVar(&opts.inputPath, "input-file", "", "File fed to the program's stdin")
	pflag.DurationVar(&opts.timeLimit, "time-limit", 0, "Override the language's wall-clock limit")
	pflag.StringVar(&opts.capture, "capture", capturePipes, "Output capture: pipes or files")
	pflag.Parse()

	os.Exit(run(opts))
}

func run(opts options) int {
	if err := opts.validate(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid arguments: %v\n", err)
		pflag.Usage()
		return exitFailure
	}
	appCfg, err := loadAppConfig(opts.configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return exitFailure
	}
	if err := logger.Init(appCfg.Logger); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return exitFailure
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithTraceID(ctx, uuid.NewString())

	code, err := execute(ctx, appCfg, opts)
	if err != nil {
		if appErr.Is(err, appErr.CompilationError) {
			_, _ = fmt.Fprintln(os.Stderr, appErr.GetError(err).Message)
			return exitCompilation
		}
		if appErr.GetCode(err).Infrastructure() {
			logger.Error(ctx, "judgecore failed", zap.Error(err))
		} else {
			logger.Warn(ctx, "judgecore rejected request", zap.Error(err))
		}
		_, _ = fmt.Fprintf(os.Stderr, "judgecore failed: %v\n", err)
	}
	return code
}

func (o options) validate() error {
	if o.language == "" {
		return fmt.Errorf("--lang is required")
	}
	if o.sourcePath == "" {
		return fmt.Errorf("--source is required")
	}
	if o.input != "" && o.inputPath != "" {
		return fmt.Errorf("--input and --input-file are mutually exclusive")
	}
	if o.timeLimit < 0 {
		return fmt.Errorf("--time-limit must not be negative")
	}
	if o.capture != captureFiles && o.capture != capturePipes {
		return fmt.Errorf("--capture must be %q or %q", captureFiles, capturePipes)
	}
	return nil
}

func execute(ctx context.Context, appCfg *AppConfig, opts options) (int, error) {
	repo := config.NewLocalRepository(appCfg.Languages)
	if err := repo.Validate(); err != nil {
		return exitFailure, err
	}
	source, err := os.ReadFile(opts.sourcePath)
	if err != nil {
		return exitFailure, fmt.Errorf("read source failed: %w", err)
	}

	metrics, flush, err := newMetrics(appCfg.Metrics)
	if err != nil {
		return exitFailure, err
	}
	defer flush(ctx)

	groups, err := cgroup.NewManager(appCfg.Cgroup)
	if err != nil {
		return exitFailure, err
	}
	eng, err := engine.NewEngine(appCfg.Sandbox)
	if err != nil {
		return exitFailure, err
	}

	svc := sandbox.NewService(repo, runner.NewRunner(eng, groups, runner.WithMetrics(metrics)),
		sandbox.ServiceConfig{
			WorkRoot:       appCfg.Compiler.WorkRoot,
			CompileTimeout: appCfg.Compiler.Timeout,
		},
		sandbox.WithStatusReporter(sandbox.LogStatusReporter{}),
		sandbox.WithCompileMetrics(metrics),
	)
	report, err := svc.Judge(ctx, sandbox.JudgeRequest{
		LanguageID: opts.language,
		Source:     source,
		Capture:    sandbox.CaptureMode(opts.capture),
		Input:      []byte(opts.input),
		InputPath:  opts.inputPath,
		TimeLimit:  opts.timeLimit,
	})
	if err != nil {
		if appErr.Is(err, appErr.CompilationError) {
			return exitCompilation, err
		}
		return exitFailure, err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return exitFailure, fmt.Errorf("write report failed: %w", err)
	}
	return exitOK, nil
}

// newMetrics returns the recorder for this run and a flush that writes the
// collected series to the configured textfile.
func newMetrics(cfg MetricsConfig) (observer.MetricsRecorder, func(context.Context), error) {
	if !cfg.Enabled {
		return observer.NoopMetricsRecorder{}, func(context.Context) {}, nil
	}
	reg := prometheus.NewRegistry()
	recorder, err := observer.NewPrometheusRecorder(reg)
	if err != nil {
		return nil, nil, err
	}
	flush := func(ctx context.Context) {
		if err := prometheus.WriteToTextfile(cfg.Textfile, reg); err != nil {
			logger.Warn(ctx, "write metrics textfile failed", zap.String("path", cfg.Textfile), zap.Error(err))
		}
	}
	return recorder, flush, nil
}
