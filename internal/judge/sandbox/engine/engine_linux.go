//go:build linux

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"judgecore/internal/judge/sandbox/cgroup"
	"judgecore/internal/judge/sandbox/initproc"
	"judgecore/internal/judge/sandbox/result"
	appErr "judgecore/pkg/errors"
	"judgecore/pkg/utils/logger"
)

var alarmGuard sync.Once

// installAlarmGuard keeps a stray SIGALRM from terminating the service. The
// signal is caught rather than ignored: an ignored disposition would survive
// exec and disarm the child's own alarm.
func installAlarmGuard() {
	alarmGuard.Do(func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGALRM)
		go func() {
			for range ch {
				logger.Debug(context.Background(), "stray alarm signal ignored")
			}
		}()
	})
}

// NewEngine creates a Linux sandbox engine.
func NewEngine(cfg Config) (*Engine, error) {
	cfg.applyDefaults()
	helper := cfg.HelperPath
	if helper == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, appErr.OSFailure(err, "resolve sandbox helper failed")
		}
		helper = exe
	}
	installAlarmGuard()
	return &Engine{cfg: cfg, helper: helper}, nil
}

// Spawn starts the child phase and returns once the target program has been
// exec'd. A failing setup step is reported as ResourceError (cgroup, rlimit,
// seccomp, alarm) or SandboxOSError (anything else); the child is reaped first.
func (s *Session) Spawn(ctx context.Context) (*Running, error) {
	if !s.spawned.CompareAndSwap(false, true) {
		return nil, appErr.New(appErr.SandboxStateError).WithMessage("session already spawned")
	}
	if err := ctx.Err(); err != nil {
		return nil, appErr.Wrapf(err, appErr.Timeout, "spawn aborted by caller")
	}
	e := s.engine
	req := e.buildRequest(s.spec)

	var parentEnds, childEnds []*os.File
	closeAll := func(files []*os.File) {
		for _, f := range files {
			if f != nil {
				_ = f.Close()
			}
		}
	}
	pipe := func() (*os.File, *os.File, error) {
		r, w, err := os.Pipe()
		if err != nil {
			closeAll(parentEnds)
			closeAll(childEnds)
			return nil, nil, appErr.OSFailure(err, "create pipe failed")
		}
		return r, w, nil
	}

	reqR, reqW, err := pipe()
	if err != nil {
		return nil, err
	}
	parentEnds, childEnds = append(parentEnds, reqW), append(childEnds, reqR)
	statusR, statusW, err := pipe()
	if err != nil {
		return nil, err
	}
	parentEnds, childEnds = append(parentEnds, statusR), append(childEnds, statusW)

	cmd := exec.Command(e.helper)
	cmd.Env = []string{initproc.EnvMarker + "=1"}
	cmd.ExtraFiles = []*os.File{reqR, statusW}

	var stdinW, stdoutR, stderrR *os.File
	if s.spec.Files == nil {
		stdinR, w, err := pipe()
		if err != nil {
			return nil, err
		}
		stdinW = w
		parentEnds, childEnds = append(parentEnds, stdinW), append(childEnds, stdinR)
		r, stdoutW, err := pipe()
		if err != nil {
			return nil, err
		}
		stdoutR = r
		parentEnds, childEnds = append(parentEnds, stdoutR), append(childEnds, stdoutW)
		r, stderrW, err := pipe()
		if err != nil {
			return nil, err
		}
		stderrR = r
		parentEnds, childEnds = append(parentEnds, stderrR), append(childEnds, stderrW)
		cmd.Stdin, cmd.Stdout, cmd.Stderr = stdinR, stdoutW, stderrW
	}

	attr := &syscall.SysProcAttr{Setpgid: true, Pdeathsig: syscall.SIGKILL}
	cloneJoin := s.spec.Group != nil && s.spec.Join == cgroup.JoinClone
	if cloneJoin {
		dir, err := os.Open(s.spec.Group.Path())
		if err != nil {
			closeAll(parentEnds)
			closeAll(childEnds)
			return nil, appErr.ResourceFailure(err, "open cgroup failed")
		}
		childEnds = append(childEnds, dir)
		attr.UseCgroupFD = true
		attr.CgroupFD = int(dir.Fd())
	}
	cmd.SysProcAttr = attr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		closeAll(parentEnds)
		closeAll(childEnds)
		if cloneJoin {
			return nil, appErr.ResourceFailure(err, "start sandbox helper in cgroup failed")
		}
		return nil, appErr.OSFailure(err, "start sandbox helper failed")
	}
	closeAll(childEnds)

	if err := json.NewEncoder(reqW).Encode(req); err != nil {
		// The helper reports its own request failure on the status pipe.
		logger.Debug(ctx, "send sandbox request failed", zap.Error(err))
	}
	_ = reqW.Close()

	failure, statusErr := readStatus(ctx, statusR, e.cfg.SetupTimeout)
	_ = statusR.Close()
	if failure != nil || statusErr != nil {
		_ = unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
		_ = cmd.Wait()
		closeAll([]*os.File{stdinW, stdoutR, stderrR})
		if ctxErr := ctx.Err(); ctxErr != nil && failure == nil {
			return nil, appErr.Wrapf(ctxErr, appErr.Timeout, "spawn aborted by caller")
		}
		if failure != nil {
			logger.Error(ctx, "sandbox setup failed",
				zap.String("stage", string(failure.Stage)),
				zap.String("message", failure.Message))
			return nil, stageError(*failure)
		}
		return nil, appErr.OSFailure(statusErr, "sandbox helper did not report")
	}

	r := &Running{
		session: s,
		cmd:     cmd,
		pid:     cmd.Process.Pid,
		start:   start,
		stdin:   stdinW,
		stdout:  stdoutR,
		stderr:  stderrR,
		reaped:  make(chan reapResult, 1),
	}
	go r.reap()
	logger.Debug(ctx, "sandbox spawned", zap.Int("pid", r.pid), zap.String("binary", s.spec.Command.Binary))
	return r, nil
}

// readStatus waits for the status pipe to close. EOF without data means the
// target program was exec'd. Cancelling ctx cuts the wait short.
func readStatus(ctx context.Context, status *os.File, timeout time.Duration) (*initproc.Failure, error) {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := status.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = status.SetReadDeadline(time.Now())
	})
	defer stop()
	data, err := io.ReadAll(status)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	var failure initproc.Failure
	if err := json.Unmarshal(data, &failure); err != nil {
		return nil, err
	}
	return &failure, nil
}

func stageError(f initproc.Failure) error {
	if f.Stage.Resource() {
		return appErr.ResourceFailure(f, "sandbox %s setup failed", f.Stage).
			WithDetail("stage", string(f.Stage))
	}
	return appErr.OSFailure(f, "sandbox %s setup failed", f.Stage).
		WithDetail("stage", string(f.Stage))
}

// reap is the only caller of cmd.Wait.
func (r *Running) reap() {
	err := r.cmd.Wait()
	r.reaped <- reapResult{state: r.cmd.ProcessState, err: err, at: time.Now()}
}

type completion struct {
	reapResult
	ioErr error
}

// Wait feeds input to the child and races completion against the deadline.
// Timeout and program failures are outcomes in the report. A cancelled ctx
// kills and reaps the child and returns an error.
func (r *Running) Wait(ctx context.Context, input []byte) (result.ExecutionReport, error) {
	if !r.waited.CompareAndSwap(false, true) {
		return result.ExecutionReport{}, appErr.New(appErr.SandboxStateError).WithMessage("session already waited")
	}
	defer r.closeFiles(ctx)

	cfg := r.session.engine.cfg
	stdout, stderr := newCapture(cfg.CaptureMaxBytes), newCapture(cfg.CaptureMaxBytes)
	var g errgroup.Group
	if r.stdout != nil {
		g.Go(func() error { return writeInput(r.stdin, input) })
		g.Go(func() error { return stdout.drain(r.stdout) })
		g.Go(func() error { return stderr.drain(r.stderr) })
	}

	done := make(chan completion, 1)
	go func() {
		reaped := <-r.reaped
		// Descendants left behind would keep the pipes open past the exit.
		r.killDescendants(ctx)
		ioErr := g.Wait()
		done <- completion{reapResult: reaped, ioErr: ioErr}
	}()

	var deadline <-chan time.Time
	limit := r.session.spec.Profile.TimeLimit
	if limit > 0 {
		timer := time.NewTimer(time.Until(r.start.Add(limit)))
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case c := <-done:
		return r.finish(ctx, c, stdout, stderr, false)
	case <-deadline:
		select {
		case c := <-done:
			return r.finish(ctx, c, stdout, stderr, false)
		default:
		}
		logger.Warn(ctx, "execution deadline expired", zap.Int("pid", r.pid), zap.Duration("time_limit", limit))
		c := r.terminate(ctx, done)
		return r.finish(ctx, c, nil, nil, true)
	case <-ctx.Done():
		logger.Warn(ctx, "execution cancelled", zap.Int("pid", r.pid), zap.Error(ctx.Err()))
		r.terminate(ctx, done)
		return result.ExecutionReport{}, appErr.Wrapf(ctx.Err(), appErr.Timeout, "execution aborted by caller")
	}
}

// terminate kills the child, unblocks the I/O branch and waits for the reap.
func (r *Running) terminate(ctx context.Context, done <-chan completion) completion {
	r.kill(ctx)
	r.closeFiles(ctx)
	return <-done
}

// kill sends SIGKILL to the child's process group until it is gone.
func (r *Running) kill(ctx context.Context) {
	cfg := r.session.engine.cfg
	op := func() error {
		err := unix.Kill(-r.pid, unix.SIGKILL)
		if err == nil || errors.Is(err, unix.ESRCH) {
			return nil
		}
		return err
	}
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(killRetryInterval), uint64(cfg.KillRetries))
	notify := func(err error, next time.Duration) {
		logger.Warn(ctx, "kill sandboxed process failed, retrying", zap.Int("pid", r.pid), zap.Error(err))
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		logger.Error(ctx, "kill sandboxed process failed", zap.Int("pid", r.pid), zap.Error(err))
	}
	if g := r.session.spec.Group; g != nil && g.Exclusive() {
		if err := g.Kill(); err != nil {
			logger.Warn(ctx, "kill resource group failed", zap.String("cgroup", g.Path()), zap.Error(err))
		}
	}
}

// killDescendants kills what is left of the child's process group once the
// child itself has been reaped.
func (r *Running) killDescendants(ctx context.Context) {
	if err := unix.Kill(-r.pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		logger.Warn(ctx, "kill leftover process group failed", zap.Int("pid", r.pid), zap.Error(err))
	}
	if g := r.session.spec.Group; g != nil && g.Exclusive() {
		if err := g.Kill(); err != nil {
			logger.Debug(ctx, "kill resource group failed", zap.String("cgroup", g.Path()), zap.Error(err))
		}
	}
}

func (r *Running) closeFiles(ctx context.Context) {
	r.closeOnce.Do(func() {
		var err error
		for _, f := range []*os.File{r.stdin, r.stdout, r.stderr} {
			if f == nil {
				continue
			}
			if cerr := f.Close(); cerr != nil && !errors.Is(cerr, os.ErrClosed) {
				err = multierr.Append(err, cerr)
			}
		}
		if err != nil {
			logger.Warn(ctx, "close sandbox pipes failed", zap.Error(err))
		}
	})
}

func (r *Running) finish(ctx context.Context, c completion, stdout, stderr *capture, timedOut bool) (result.ExecutionReport, error) {
	state := c.state
	if state == nil {
		return result.ExecutionReport{}, appErr.OSFailure(c.err, "reap sandboxed process failed")
	}
	raw := result.Raw{
		SessionID: r.session.spec.ID,
		PID:       r.pid,
		TimedOut:  timedOut,
		ExitCode:  state.ExitCode(),
		WallTime:  c.at.Sub(r.start),
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		raw.Signaled = true
		raw.Signal = ws.Signal()
	}
	if ru, ok := state.SysUsage().(*syscall.Rusage); ok {
		raw.Usage = result.UsageFromRusage(ru)
	}

	if !timedOut {
		if c.ioErr != nil {
			return result.ExecutionReport{}, appErr.OSFailure(c.ioErr, "capture child output failed")
		}
		if files := r.session.spec.Files; files != nil {
			if err := r.readCaptureFiles(&raw, files); err != nil {
				return result.ExecutionReport{}, err
			}
		} else {
			raw.Stdout, raw.Stderr = stdout.bytes(), stderr.bytes()
			raw.Truncated = stdout.truncated || stderr.truncated
		}
	}

	report := result.Finalize(raw)
	logger.Debug(ctx, "execution finished",
		zap.Int("pid", r.pid),
		zap.String("outcome", string(report.Outcome)),
		zap.Duration("wall_time", report.WallTime))
	return report, nil
}

func (r *Running) readCaptureFiles(raw *result.Raw, files *FileCapture) error {
	workDir := r.session.spec.WorkDir
	maxBytes := r.session.engine.cfg.CaptureMaxBytes
	out, outCut, err := readLimitedFile(resolvePath(workDir, files.OutputPath), maxBytes)
	if err != nil {
		return appErr.OSFailure(err, "read output file failed")
	}
	errOut, errCut, err := readLimitedFile(resolvePath(workDir, files.ErrorPath), maxBytes)
	if err != nil {
		return appErr.OSFailure(err, "read error file failed")
	}
	raw.Stdout, raw.Stderr, raw.Truncated = out, errOut, outCut || errCut
	return nil
}
