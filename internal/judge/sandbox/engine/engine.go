// Package engine runs one untrusted program per session: it spawns the child
// phase, races the program against its wall-clock limit and collects the
// report.
//
// A session moves Created -> Running -> Terminated. Spawn is only defined on
// *Session and Wait only on the *Running it returns, so waiting on a program
// that was never spawned does not compile. Each handle is single-use; a second
// Spawn or Wait returns a SandboxStateError.
package engine

import (
	"context"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"judgecore/internal/judge/sandbox/cgroup"
	"judgecore/internal/judge/sandbox/spec"
	appErr "judgecore/pkg/errors"
	"judgecore/pkg/utils/logger"
)

// FileCapture switches a session from pipes to files. Relative paths are
// resolved against the session's work dir.
type FileCapture struct {
	InputPath  string
	OutputPath string
	ErrorPath  string
}

// SessionSpec describes one execution.
type SessionSpec struct {
	ID      string
	WorkDir string
	Command spec.CommandSpec
	Profile spec.ResourceProfile
	// Group is joined by the child before exec. Nil runs without a cgroup.
	Group *cgroup.Group
	Join  cgroup.JoinMethod
	Env   []string
	// Files is nil for pipe capture.
	Files *FileCapture
}

// Engine creates sessions. It is safe for concurrent use.
type Engine struct {
	cfg    Config
	helper string
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// NewSession validates spec and returns a session in the Created state.
func (e *Engine) NewSession(s SessionSpec) (*Session, error) {
	if s.WorkDir == "" {
		return nil, appErr.ValidationError("work_dir", "required")
	}
	if s.Command.Empty() {
		return nil, appErr.ValidationError("command", "required")
	}
	if err := s.Profile.Validate(); err != nil {
		return nil, err
	}
	if s.Files != nil && s.Files.OutputPath == "" {
		return nil, appErr.ValidationError("output_path", "required for file capture")
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if e.cfg.DisableSeccomp && len(s.Profile.Denylist) > 0 {
		logger.Warn(logger.WithSessionID(context.Background(), s.ID), "seccomp disabled, syscall denylist not enforced",
			zap.Strings("denylist", s.Profile.Denylist))
	}
	s.Profile = s.Profile.Clone()
	return &Session{engine: e, spec: s}, nil
}

// Session is a prepared execution that has not started yet.
type Session struct {
	engine  *Engine
	spec    SessionSpec
	spawned atomic.Bool
}

// ID returns the session id.
func (s *Session) ID() string { return s.spec.ID }

// Running is a spawned execution awaiting Wait.
type Running struct {
	session *Session
	cmd     *exec.Cmd
	pid     int
	start   time.Time

	// Parent ends of the stdio pipes, nil with file capture.
	stdin  *os.File
	stdout *os.File
	stderr *os.File

	reaped    chan reapResult
	waited    atomic.Bool
	closeOnce sync.Once
}

type reapResult struct {
	state *os.ProcessState
	err   error
	at    time.Time
}

// PID returns the child's process id.
func (r *Running) PID() int { return r.pid }

// SessionID returns the id of the session that spawned r.
func (r *Running) SessionID() string { return r.session.spec.ID }

// StartedAt returns when Spawn began; the deadline is measured from here.
func (r *Running) StartedAt() time.Time { return r.start }
