package result

import (
	"syscall"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name        string
		raw         Raw
		wantOutcome Outcome
		wantText    string
	}{
		{
			name:        "clean_exit",
			raw:         Raw{Stdout: []byte("7\n\n  ")},
			wantOutcome: OutcomeSuccess,
			wantText:    "7",
		},
		{
			name:        "leading_whitespace_kept",
			raw:         Raw{Stdout: []byte("  a b\t\n")},
			wantOutcome: OutcomeSuccess,
			wantText:    "  a b",
		},
		{
			name:        "stderr_demotes_clean_exit",
			raw:         Raw{Stdout: []byte("ok"), Stderr: []byte("warn")},
			wantOutcome: OutcomeRuntimeError,
			wantText:    "warn",
		},
		{
			name:        "non_zero_exit",
			raw:         Raw{ExitCode: 3, Stdout: []byte("partial")},
			wantOutcome: OutcomeRuntimeError,
			wantText:    "exited with status 3",
		},
		{
			name:        "signal",
			raw:         Raw{ExitCode: -1, Signaled: true, Signal: syscall.SIGSEGV},
			wantOutcome: OutcomeRuntimeError,
			wantText:    "killed by signal " + syscall.SIGSEGV.String(),
		},
		{
			name:        "deadline_won",
			raw:         Raw{TimedOut: true, ExitCode: -1, Signaled: true, Signal: syscall.SIGKILL},
			wantOutcome: OutcomeTimeout,
			wantText:    "wall-clock time limit exceeded",
		},
		{
			name:        "deadline_ignores_exit_status",
			raw:         Raw{TimedOut: true},
			wantOutcome: OutcomeTimeout,
			wantText:    "wall-clock time limit exceeded",
		},
		{
			name:        "kernel_alarm",
			raw:         Raw{ExitCode: -1, Signaled: true, Signal: syscall.SIGALRM},
			wantOutcome: OutcomeTimeout,
			wantText:    "wall-clock time limit exceeded",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			outcome, text := Classify(tc.raw)
			if outcome != tc.wantOutcome {
				t.Fatalf("expected %s, got %s", tc.wantOutcome, outcome)
			}
			if text != tc.wantText {
				t.Fatalf("expected %q, got %q", tc.wantText, text)
			}
		})
	}
}

func TestFinalizeSuccess(t *testing.T) {
	raw := Raw{
		SessionID: "s1",
		PID:       42,
		Stdout:    []byte("hello\n"),
		WallTime:  15 * time.Millisecond,
		Usage:     ResourceUsage{UserTime: time.Millisecond, MaxRSSBytes: 4096},
	}
	want := ExecutionReport{
		SessionID: "s1",
		PID:       42,
		Outcome:   OutcomeSuccess,
		Output:    "hello",
		WallTime:  15 * time.Millisecond,
		Usage:     ResourceUsage{UserTime: time.Millisecond, MaxRSSBytes: 4096},
		Stdout:    "hello\n",
	}
	if diff := cmp.Diff(want, Finalize(raw)); diff != "" {
		t.Fatalf("report mismatch (-want +got):\n%s", diff)
	}
}

func TestFinalizeTimeoutDiscardsOutput(t *testing.T) {
	report := Finalize(Raw{
		TimedOut:  true,
		ExitCode:  -1,
		Signaled:  true,
		Signal:    syscall.SIGKILL,
		Stdout:    []byte("partial"),
		Stderr:    []byte("noise"),
		Truncated: true,
	})
	if report.Outcome != OutcomeTimeout {
		t.Fatalf("expected timeout, got %s", report.Outcome)
	}
	if report.Stdout != "" || report.Stderr != "" || report.Truncated {
		t.Fatalf("partial capture should be discarded: %+v", report)
	}
	if report.ExitSignal != int(syscall.SIGKILL) {
		t.Fatalf("unexpected exit signal %d", report.ExitSignal)
	}
}

func TestFinalizeRuntimeErrorKeepsStreams(t *testing.T) {
	report := Finalize(Raw{Stdout: []byte("ok"), Stderr: []byte("warn")})
	if report.Outcome != OutcomeRuntimeError || report.Message != "warn" {
		t.Fatalf("unexpected report: %+v", report)
	}
	if report.Output != "" {
		t.Fatalf("runtime error carries no output payload, got %q", report.Output)
	}
	if report.Stdout != "ok" {
		t.Fatalf("stdout should be kept for diagnostics, got %q", report.Stdout)
	}
}
