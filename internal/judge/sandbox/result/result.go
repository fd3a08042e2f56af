// Package result defines sandbox execution reports and outcome classification.
package result

import (
	"fmt"
	"strings"
	"syscall"
	"time"
	"unicode"
)

// Outcome is the terminal classification of one execution.
type Outcome string

const (
	OutcomeSuccess      Outcome = "Success"
	OutcomeRuntimeError Outcome = "RuntimeError"
	OutcomeTimeout      Outcome = "Timeout"
)

// ResourceUsage is the kernel's accounting for the reaped child.
type ResourceUsage struct {
	UserTime                   time.Duration `json:"userTime"`
	SystemTime                 time.Duration `json:"systemTime"`
	MaxRSSBytes                int64         `json:"maxRssBytes"`
	MajorPageFaults            int64         `json:"majorPageFaults"`
	VoluntaryContextSwitches   int64         `json:"voluntaryContextSwitches"`
	InvoluntaryContextSwitches int64         `json:"involuntaryContextSwitches"`
}

// CPUTime returns user plus system time.
func (u ResourceUsage) CPUTime() time.Duration {
	return u.UserTime + u.SystemTime
}

// ExecutionReport is produced exactly once per session.
type ExecutionReport struct {
	SessionID string  `json:"sessionId"`
	PID       int     `json:"pid"`
	Outcome   Outcome `json:"outcome"`
	// Output is the trimmed stdout for Success.
	Output string `json:"output,omitempty"`
	// Message explains a RuntimeError or Timeout.
	Message    string        `json:"message,omitempty"`
	ExitCode   int           `json:"exitCode"`
	ExitSignal int           `json:"exitSignal,omitempty"`
	WallTime   time.Duration `json:"wallTime"`
	Usage      ResourceUsage `json:"usage"`
	Stdout     string        `json:"stdout"`
	Stderr     string        `json:"stderr"`
	Truncated  bool          `json:"truncated,omitempty"`

	// Only filled when the execution had its group to itself.
	MemoryPeakBytes int64 `json:"memoryPeakBytes,omitempty"`
	OOMKilled       bool  `json:"oomKilled,omitempty"`
}

// Raw is what the engine collects at reap time.
type Raw struct {
	SessionID string
	PID       int
	// TimedOut is set when the deadline branch won the race.
	TimedOut  bool
	ExitCode  int
	Signaled  bool
	Signal    syscall.Signal
	WallTime  time.Duration
	Usage     ResourceUsage
	Stdout    []byte
	Stderr    []byte
	Truncated bool
}

// Finalize classifies raw and builds the report. A timed-out execution keeps
// no captured output.
func Finalize(raw Raw) ExecutionReport {
	outcome, text := Classify(raw)
	report := ExecutionReport{
		SessionID: raw.SessionID,
		PID:       raw.PID,
		Outcome:   outcome,
		ExitCode:  raw.ExitCode,
		WallTime:  raw.WallTime,
		Usage:     raw.Usage,
	}
	if raw.Signaled {
		report.ExitSignal = int(raw.Signal)
	}
	switch outcome {
	case OutcomeSuccess:
		report.Output = text
	default:
		report.Message = text
	}
	if !raw.TimedOut {
		report.Stdout = string(raw.Stdout)
		report.Stderr = string(raw.Stderr)
		report.Truncated = raw.Truncated
	}
	return report
}

// Classify decides the outcome. Any stderr output demotes an otherwise clean
// exit to RuntimeError. A child killed by its own wall-clock alarm counts as a
// timeout even when the deadline branch did not fire first.
func Classify(raw Raw) (Outcome, string) {
	if raw.TimedOut || (raw.Signaled && raw.Signal == syscall.SIGALRM) {
		return OutcomeTimeout, "wall-clock time limit exceeded"
	}
	stderr := string(raw.Stderr)
	if raw.Signaled {
		if stderr != "" {
			return OutcomeRuntimeError, stderr
		}
		return OutcomeRuntimeError, fmt.Sprintf("killed by signal %s", raw.Signal)
	}
	if raw.ExitCode != 0 {
		if stderr != "" {
			return OutcomeRuntimeError, stderr
		}
		return OutcomeRuntimeError, fmt.Sprintf("exited with status %d", raw.ExitCode)
	}
	if len(raw.Stderr) > 0 {
		return OutcomeRuntimeError, stderr
	}
	return OutcomeSuccess, strings.TrimRightFunc(string(raw.Stdout), unicode.IsSpace)
}

