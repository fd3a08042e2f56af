// Package compiler materializes source code into a project directory and runs
// the language's build step outside the sandbox.
package compiler

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"judgecore/internal/judge/sandbox/observer"
	"judgecore/internal/judge/sandbox/profile"
	"judgecore/internal/judge/sandbox/workspace"
	appErr "judgecore/pkg/errors"
	"judgecore/pkg/utils/logger"
)

// waitDelay bounds how long a killed build may hold its stderr open.
const waitDelay = 500 * time.Millisecond

// Options tunes a Compiler.
type Options struct {
	// Timeout bounds the build step. Zero means no bound besides ctx.
	Timeout time.Duration
	Metrics observer.MetricsRecorder
}

// Compiler builds one language.
type Compiler struct {
	lang     profile.LanguageSpec
	workRoot string
	opts     Options
}

// New creates a compiler for lang writing projects under workRoot.
func New(lang profile.LanguageSpec, workRoot string, opts Options) *Compiler {
	if opts.Metrics == nil {
		opts.Metrics = observer.NoopMetricsRecorder{}
	}
	return &Compiler{lang: lang, workRoot: workRoot, opts: opts}
}

// Compile writes source as the language's entry file in a new project
// directory, runs the build command there and returns the directory. Any
// output on the build tool's stderr is a CompilationError carrying that text.
func (c *Compiler) Compile(ctx context.Context, source []byte) (string, error) {
	ctx = logger.WithLanguage(ctx, c.lang.ID)
	layout, err := workspace.NewProjectDir(c.workRoot, c.lang.EntryFile)
	if err != nil {
		return "", err
	}
	if err := layout.WriteEntry(source); err != nil {
		_ = layout.Remove()
		return "", err
	}
	if !c.lang.Compiled() {
		return layout.RootDir, nil
	}

	cmdSpec, err := c.lang.CompileCommand()
	if err != nil {
		_ = layout.Remove()
		return "", err
	}
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, cmdSpec.Binary, cmdSpec.Args...)
	cmd.Dir = layout.RootDir
	if len(c.lang.Env) > 0 {
		cmd.Env = append(os.Environ(), c.lang.Env...)
	}
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)
	ok := runErr == nil && stderr.Len() == 0
	c.opts.Metrics.ObserveCompile(ctx, c.lang.ID, ok, elapsed)

	if ctxErr := ctx.Err(); ctxErr != nil {
		_ = layout.Remove()
		return "", appErr.Wrapf(ctxErr, appErr.Timeout, "compile %s aborted", c.lang.ID)
	}
	if stderr.Len() > 0 {
		logger.Info(ctx, "compilation rejected", zap.Duration("elapsed", elapsed), zap.Int("diagnostics_bytes", stderr.Len()))
		_ = layout.Remove()
		return "", appErr.CompilationFailed(stderr.String())
	}
	if runErr != nil {
		_ = layout.Remove()
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return "", appErr.CompilationFailed(exitErr.String())
		}
		return "", appErr.OSFailure(runErr, "start compiler %s failed", cmdSpec.Binary)
	}
	logger.Debug(ctx, "compilation finished", zap.Duration("elapsed", elapsed), zap.String("project_dir", layout.RootDir))
	return layout.RootDir, nil
}
