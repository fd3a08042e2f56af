// Package initproc is the child phase of a sandboxed execution: the short
// window between process creation and exec of the target program.
//
// The engine starts a fresh copy of a helper binary (by default the running
// executable itself, recognised through EnvMarker) and hands it a Request over
// an inherited pipe. The helper walks a fixed sequence of stages and either
// replaces itself with the target program or exits with the sentinel code of
// the stage that failed, after writing a Failure record to the status pipe.
// It never returns into caller code.
package initproc

import (
	"fmt"
	"time"

	"judgecore/internal/judge/sandbox/spec"
)

// EnvMarker is set to "1" in the helper's environment.
const EnvMarker = "JUDGECORE_SANDBOX_INIT"

// Descriptors the engine passes through ExtraFiles.
const (
	RequestFD = 3
	StatusFD  = 4
)

// Stage names one step of the child phase, in execution order.
type Stage string

const (
	StageChdir   Stage = "chdir"
	StageStdio   Stage = "stdio"
	StageCgroup  Stage = "cgroup"
	StageRlimit  Stage = "rlimit"
	StageSeccomp Stage = "seccomp"
	StageAlarm   Stage = "alarm"
	StageExec    Stage = "exec"
	StageRequest Stage = "request"
)

var exitCodes = map[Stage]int{
	StageChdir:   100,
	StageStdio:   101,
	StageCgroup:  102,
	StageRlimit:  103,
	StageSeccomp: 104,
	StageAlarm:   105,
	StageExec:    106,
	StageRequest: 107,
}

// ExitCode is the status the helper exits with when the stage fails.
func (s Stage) ExitCode() int {
	if code, ok := exitCodes[s]; ok {
		return code
	}
	return 127
}

// Resource reports whether the stage is a resource-control step.
func (s Stage) Resource() bool {
	switch s {
	case StageCgroup, StageRlimit, StageSeccomp, StageAlarm:
		return true
	default:
		return false
	}
}

// StageForExitCode maps a sentinel exit status back to its stage.
func StageForExitCode(code int) (Stage, bool) {
	for stage, c := range exitCodes {
		if c == code {
			return stage, true
		}
	}
	return "", false
}

// Request is everything the child needs; it is decoded before any stage runs.
type Request struct {
	WorkDir string   `json:"workDir"`
	Argv    []string `json:"argv"`
	Env     []string `json:"env"`

	// File capture. Relative paths are resolved against WorkDir. Empty means the
	// descriptor inherited from the engine is kept.
	StdinPath  string `json:"stdinPath,omitempty"`
	StdoutPath string `json:"stdoutPath,omitempty"`
	StderrPath string `json:"stderrPath,omitempty"`

	// CgroupProcs is the cgroup.procs file to write the child's own pid to.
	// Empty when the group was joined at clone time or cgroups are disabled.
	CgroupProcs string `json:"cgroupProcs,omitempty"`

	Rlimits       []spec.RlimitEntry   `json:"rlimits,omitempty"`
	Denylist      spec.SyscallDenylist `json:"denylist,omitempty"`
	EnableSeccomp bool                 `json:"enableSeccomp"`
	Alarm         time.Duration        `json:"alarm"`
}

// Validate checks the request before the engine sends it.
func (r Request) Validate() error {
	if r.WorkDir == "" {
		return fmt.Errorf("work dir is required")
	}
	if len(r.Argv) == 0 || r.Argv[0] == "" {
		return fmt.Errorf("command is required")
	}
	return nil
}

// Failure is written to the status pipe when a stage fails.
type Failure struct {
	Stage   Stage  `json:"stage"`
	Message string `json:"message"`
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Stage, f.Message)
}
