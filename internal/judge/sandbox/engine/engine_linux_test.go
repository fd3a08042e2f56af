//go:build linux

package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"judgecore/internal/judge/sandbox/cgroup"
	"judgecore/internal/judge/sandbox/initproc"
	"judgecore/internal/judge/sandbox/result"
	"judgecore/internal/judge/sandbox/spec"
	appErr "judgecore/pkg/errors"
)

func TestMain(m *testing.M) {
	initproc.Hook()
	os.Exit(m.Run())
}

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	eng, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return eng
}

func shell(script string) spec.CommandSpec {
	return spec.CommandSpec{Binary: "/bin/sh", Args: []string{"-c", script}}
}

func runScript(t *testing.T, eng *Engine, script string, limit time.Duration, input string) result.ExecutionReport {
	t.Helper()
	session, err := eng.NewSession(SessionSpec{
		WorkDir: t.TempDir(),
		Command: shell(script),
		Profile: spec.ResourceProfile{TimeLimit: limit},
	})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	running, err := session.Spawn(context.Background())
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	report, err := running.Wait(context.Background(), []byte(input))
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	return report
}

func assertGone(t *testing.T, pid int) {
	t.Helper()
	if err := unix.Kill(pid, 0); !errors.Is(err, unix.ESRCH) {
		t.Fatalf("process %d still exists: %v", pid, err)
	}
}

func TestWaitClassifiesPrograms(t *testing.T) {
	eng := newTestEngine(t, Config{})

	cases := []struct {
		name   string
		script string
		input  string
		verify func(t *testing.T, report result.ExecutionReport)
	}{
		{
			name:   "addition",
			script: `read a; read b; echo $((a + b))`,
			input:  "3\n4\n",
			verify: func(t *testing.T, report result.ExecutionReport) {
				if report.Outcome != result.OutcomeSuccess || report.Output != "7" {
					t.Fatalf("unexpected report: %+v", report)
				}
			},
		},
		{
			name:   "stderr_with_clean_exit",
			script: `echo ok; echo warn >&2`,
			verify: func(t *testing.T, report result.ExecutionReport) {
				if report.Outcome != result.OutcomeRuntimeError {
					t.Fatalf("expected runtime error, got %s", report.Outcome)
				}
				if !strings.Contains(report.Message, "warn") || report.ExitCode != 0 {
					t.Fatalf("unexpected report: %+v", report)
				}
			},
		},
		{
			name:   "non_zero_exit",
			script: `echo partial; exit 3`,
			verify: func(t *testing.T, report result.ExecutionReport) {
				if report.Outcome != result.OutcomeRuntimeError || report.ExitCode != 3 {
					t.Fatalf("unexpected report: %+v", report)
				}
			},
		},
		{
			name:   "signal_death",
			script: `kill -SEGV $$`,
			verify: func(t *testing.T, report result.ExecutionReport) {
				if report.Outcome != result.OutcomeRuntimeError || report.ExitSignal != int(unix.SIGSEGV) {
					t.Fatalf("unexpected report: %+v", report)
				}
			},
		},
		{
			name:   "unread_input",
			script: `exit 0`,
			input:  strings.Repeat("x", 1<<20),
			verify: func(t *testing.T, report result.ExecutionReport) {
				if report.Outcome != result.OutcomeSuccess {
					t.Fatalf("a child that ignores stdin should still succeed: %+v", report)
				}
			},
		},
		{
			name:   "large_stderr_while_reading_stdin",
			script: `head -c 200000 /dev/zero >&2; cat >/dev/null`,
			input:  strings.Repeat("y", 200000),
			verify: func(t *testing.T, report result.ExecutionReport) {
				if report.Outcome != result.OutcomeRuntimeError || !report.Truncated {
					t.Fatalf("unexpected report: outcome=%s truncated=%v", report.Outcome, report.Truncated)
				}
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			report := runScript(t, eng, tc.script, 5*time.Second, tc.input)
			tc.verify(t, report)
			if report.PID <= 0 || report.SessionID == "" {
				t.Fatalf("report should identify the session: %+v", report)
			}
		})
	}
}

func TestWaitTimeoutKillsAndReaps(t *testing.T) {
	eng := newTestEngine(t, Config{})
	limit := 500 * time.Millisecond

	report := runScript(t, eng, `echo started; while true; do :; done`, limit, "")
	if report.Outcome != result.OutcomeTimeout {
		t.Fatalf("expected timeout, got %+v", report)
	}
	if report.WallTime < limit || report.WallTime > limit+3*time.Second {
		t.Fatalf("wall time %v not close to the limit %v", report.WallTime, limit)
	}
	if report.Stdout != "" {
		t.Fatalf("partial output should be discarded, got %q", report.Stdout)
	}
	assertGone(t, report.PID)
}

func TestKernelAlarmBacksUpDeadline(t *testing.T) {
	// A negative grace arms the alarm at exactly the limit, so the kernel and
	// the supervisor race; either way the outcome is a timeout.
	eng := newTestEngine(t, Config{AlarmGrace: -1})
	report := runScript(t, eng, `while true; do :; done`, 300*time.Millisecond, "")
	if report.Outcome != result.OutcomeTimeout {
		t.Fatalf("expected timeout, got %+v", report)
	}
	assertGone(t, report.PID)
}

func TestCaptureIsBounded(t *testing.T) {
	eng := newTestEngine(t, Config{CaptureMaxBytes: 16})
	report := runScript(t, eng, `head -c 100000 /dev/zero | tr '\0' 'a'`, 5*time.Second, "")
	if report.Outcome != result.OutcomeSuccess {
		t.Fatalf("unexpected outcome: %+v", report.Outcome)
	}
	if len(report.Stdout) != 16 || !report.Truncated {
		t.Fatalf("expected 16 captured bytes and truncation, got %d (%v)", len(report.Stdout), report.Truncated)
	}
}

func TestChildJoinsGroupWithItsOwnPid(t *testing.T) {
	eng := newTestEngine(t, Config{})
	groups, err := cgroup.NewManager(cgroup.Config{Enabled: true, Root: filepath.Join(t.TempDir(), "cg")})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	group, release, err := groups.Acquire(context.Background(), cgroup.Limits{MemoryBytes: 64 << 20, MaxProcs: 16})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	session, err := eng.NewSession(SessionSpec{
		WorkDir: t.TempDir(),
		Command: shell(`cat >/dev/null`),
		Profile: spec.ResourceProfile{TimeLimit: 5 * time.Second},
		Group:   group,
		Join:    cgroup.JoinProcs,
	})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	running, err := session.Spawn(context.Background())
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	members, err := group.Members()
	if err != nil {
		t.Fatalf("members: %v", err)
	}
	var hasChild bool
	for _, pid := range members {
		if pid == os.Getpid() {
			t.Fatalf("supervisor pid %d was added to the group", pid)
		}
		if pid == running.PID() {
			hasChild = true
		}
	}
	if !hasChild {
		t.Fatalf("child %d missing from group members %v", running.PID(), members)
	}

	if _, err := running.Wait(context.Background(), nil); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func TestSpawnSetupFailures(t *testing.T) {
	eng := newTestEngine(t, Config{})

	cases := []struct {
		name      string
		build     func(t *testing.T) SessionSpec
		wantCode  appErr.ErrorCode
		wantStage initproc.Stage
	}{
		{
			name: "missing_workdir",
			build: func(t *testing.T) SessionSpec {
				return SessionSpec{WorkDir: filepath.Join(t.TempDir(), "gone"), Command: shell("true")}
			},
			wantCode:  appErr.SandboxOSError,
			wantStage: initproc.StageChdir,
		},
		{
			name: "missing_binary",
			build: func(t *testing.T) SessionSpec {
				return SessionSpec{WorkDir: t.TempDir(), Command: spec.CommandSpec{Binary: "./no-such-program"}}
			},
			wantCode:  appErr.SandboxOSError,
			wantStage: initproc.StageExec,
		},
		{
			name: "missing_input_file",
			build: func(t *testing.T) SessionSpec {
				return SessionSpec{
					WorkDir: t.TempDir(),
					Command: shell("cat"),
					Files:   &FileCapture{InputPath: "absent.txt", OutputPath: "out.txt"},
				}
			},
			wantCode:  appErr.SandboxOSError,
			wantStage: initproc.StageStdio,
		},
		{
			name: "removed_group",
			build: func(t *testing.T) SessionSpec {
				groups, err := cgroup.NewManager(cgroup.Config{
					Enabled: true,
					Root:    filepath.Join(t.TempDir(), "cg"),
					Mode:    cgroup.ModeEphemeral,
				})
				if err != nil {
					t.Fatalf("new manager: %v", err)
				}
				group, release, err := groups.Acquire(context.Background(), cgroup.Limits{MemoryBytes: 1 << 20})
				if err != nil {
					t.Fatalf("acquire: %v", err)
				}
				release()
				return SessionSpec{WorkDir: t.TempDir(), Command: shell("true"), Group: group, Join: cgroup.JoinProcs}
			},
			wantCode:  appErr.ResourceError,
			wantStage: initproc.StageCgroup,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			session, err := eng.NewSession(tc.build(t))
			if err != nil {
				t.Fatalf("new session: %v", err)
			}
			_, err = session.Spawn(context.Background())
			if !appErr.Is(err, tc.wantCode) {
				t.Fatalf("expected code %d, got %v", tc.wantCode, err)
			}
			if stage := appErr.GetError(err).Details["stage"]; stage != string(tc.wantStage) {
				t.Fatalf("expected stage %s, got %v", tc.wantStage, stage)
			}
		})
	}
}

func TestSessionHandlesAreSingleUse(t *testing.T) {
	eng := newTestEngine(t, Config{})
	session, err := eng.NewSession(SessionSpec{WorkDir: t.TempDir(), Command: shell("echo once")})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	running, err := session.Spawn(context.Background())
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if _, err := session.Spawn(context.Background()); !appErr.Is(err, appErr.SandboxStateError) {
		t.Fatalf("expected state error on second spawn, got %v", err)
	}
	if _, err := running.Wait(context.Background(), nil); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if _, err := running.Wait(context.Background(), nil); !appErr.Is(err, appErr.SandboxStateError) {
		t.Fatalf("expected state error on second wait, got %v", err)
	}
}

func TestWaitCancelledContext(t *testing.T) {
	eng := newTestEngine(t, Config{})
	session, err := eng.NewSession(SessionSpec{WorkDir: t.TempDir(), Command: shell("sleep 30")})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	running, err := session.Spawn(context.Background())
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := running.Wait(ctx, nil); !appErr.Is(err, appErr.Timeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	assertGone(t, running.PID())
}

func TestFileCapture(t *testing.T) {
	eng := newTestEngine(t, Config{})
	workDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(workDir, "input.txt"), []byte("from file\n"), 0644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	session, err := eng.NewSession(SessionSpec{
		WorkDir: workDir,
		Command: shell(`cat; echo diag >&2`),
		Profile: spec.ResourceProfile{TimeLimit: 5 * time.Second},
		Files:   &FileCapture{InputPath: "input.txt", OutputPath: "out.txt", ErrorPath: "err.txt"},
	})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	running, err := session.Spawn(context.Background())
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	report, err := running.Wait(context.Background(), []byte("ignored"))
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if report.Stdout != "from file\n" || report.Stderr != "diag\n" {
		t.Fatalf("unexpected capture: stdout=%q stderr=%q", report.Stdout, report.Stderr)
	}
	if report.Outcome != result.OutcomeRuntimeError {
		t.Fatalf("stderr in the error file should demote the run, got %s", report.Outcome)
	}
}

func TestConcurrentSessionsDoNotMixOutput(t *testing.T) {
	eng := newTestEngine(t, Config{})
	const workers = 8

	var wg sync.WaitGroup
	reports := make([]result.ExecutionReport, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			session, err := eng.NewSession(SessionSpec{
				WorkDir: t.TempDir(),
				Command: shell(`read n; i=0; while [ $i -lt 200 ]; do echo "$n"; i=$((i+1)); done`),
				Profile: spec.ResourceProfile{TimeLimit: 10 * time.Second},
			})
			if err != nil {
				errs[i] = err
				return
			}
			running, err := session.Spawn(context.Background())
			if err != nil {
				errs[i] = err
				return
			}
			reports[i], errs[i] = running.Wait(context.Background(), []byte(fmt.Sprintf("worker-%d\n", i)))
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		want := fmt.Sprintf("worker-%d\n", i)
		if !bytes.Equal([]byte(reports[i].Stdout), bytes.Repeat([]byte(want), 200)) {
			t.Fatalf("worker %d output was mixed: %.80q", i, reports[i].Stdout)
		}
	}
}

func TestNewSessionValidation(t *testing.T) {
	eng := newTestEngine(t, Config{})
	cases := []struct {
		name string
		spec SessionSpec
	}{
		{name: "no_workdir", spec: SessionSpec{Command: shell("true")}},
		{name: "no_command", spec: SessionSpec{WorkDir: "/tmp"}},
		{name: "bad_profile", spec: SessionSpec{WorkDir: "/tmp", Command: shell("true"), Profile: spec.ResourceProfile{TimeLimit: -1}}},
		{name: "file_capture_without_output", spec: SessionSpec{WorkDir: "/tmp", Command: shell("true"), Files: &FileCapture{}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := eng.NewSession(tc.spec); !appErr.Is(err, appErr.ValidationFailed) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestWaitDoesNotWaitForLeftoverDescendants(t *testing.T) {
	eng := newTestEngine(t, Config{})
	start := time.Now()
	report := runScript(t, eng, `sleep 5 & echo hi`, 2*time.Second, "")
	if report.Outcome != result.OutcomeSuccess || report.Output != "hi" {
		t.Fatalf("expected success with %q, got %+v", "hi", report)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("wait took %v, should return once the child exits", elapsed)
	}
}

func TestRlimitsApplyInChild(t *testing.T) {
	eng := newTestEngine(t, Config{})
	session, err := eng.NewSession(SessionSpec{
		WorkDir: t.TempDir(),
		Command: shell(`ulimit -f; ulimit -t`),
		Profile: spec.ResourceProfile{
			Rlimits: []spec.RlimitEntry{
				{Resource: spec.RlimitFSize, Soft: 1024, Hard: 1024},
				{Resource: spec.RlimitCPU, Soft: 60, Hard: 90},
			},
			TimeLimit: 2 * time.Second,
		},
	})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	running, err := session.Spawn(context.Background())
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	report, err := running.Wait(context.Background(), nil)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	// sh reports the file size limit in 512-byte blocks.
	if report.Outcome != result.OutcomeSuccess || report.Output != "2\n60" {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestSpawnCancelledDuringSetup(t *testing.T) {
	eng := newTestEngine(t, Config{SetupTimeout: 10 * time.Second})
	dir := t.TempDir()
	// Opening a FIFO with no writer blocks the stdio stage.
	fifo := filepath.Join(dir, "stdin.fifo")
	if err := unix.Mkfifo(fifo, 0600); err != nil {
		t.Skipf("mkfifo: %v", err)
	}
	session, err := eng.NewSession(SessionSpec{
		WorkDir: dir,
		Command: shell("cat"),
		Files:   &FileCapture{InputPath: fifo, OutputPath: "out.txt", ErrorPath: "err.txt"},
	})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)
	start := time.Now()
	_, err = session.Spawn(ctx)
	if !appErr.Is(err, appErr.Timeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("spawn returned after %v, should follow the cancellation", elapsed)
	}
}
