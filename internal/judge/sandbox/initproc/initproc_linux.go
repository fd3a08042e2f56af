//go:build linux

package initproc

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"judgecore/internal/judge/sandbox/spec"
)

const defaultPath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

var rlimitResources = map[spec.RlimitKind]int{
	spec.RlimitCPU:     unix.RLIMIT_CPU,
	spec.RlimitFSize:   unix.RLIMIT_FSIZE,
	spec.RlimitData:    unix.RLIMIT_DATA,
	spec.RlimitStack:   unix.RLIMIT_STACK,
	spec.RlimitCore:    unix.RLIMIT_CORE,
	spec.RlimitNoFile:  unix.RLIMIT_NOFILE,
	spec.RlimitAS:      unix.RLIMIT_AS,
	spec.RlimitNProc:   unix.RLIMIT_NPROC,
	spec.RlimitMemlock: unix.RLIMIT_MEMLOCK,
}

// Hook runs the child phase when the current process was started as the
// sandbox helper. Call it first thing in main (or TestMain) of any binary that
// may serve as its own helper.
func Hook() {
	if os.Getenv(EnvMarker) == "1" {
		Main()
	}
}

// Main runs the child phase and never returns.
func Main() {
	// Seccomp and the exec must happen on the same thread.
	runtime.LockOSThread()

	status := os.NewFile(StatusFD, "status")
	unix.CloseOnExec(StatusFD)
	unix.CloseOnExec(RequestFD)

	req, err := readRequest()
	if err != nil {
		fail(status, StageRequest, err)
	}

	if err := os.Chdir(req.WorkDir); err != nil {
		fail(status, StageChdir, err)
	}
	if err := redirectIO(req); err != nil {
		fail(status, StageStdio, err)
	}
	if req.CgroupProcs != "" {
		pid := strconv.Itoa(os.Getpid())
		if err := os.WriteFile(req.CgroupProcs, []byte(pid), 0644); err != nil {
			fail(status, StageCgroup, err)
		}
	}
	if err := applyRlimits(req.Rlimits); err != nil {
		fail(status, StageRlimit, err)
	}

	env := buildEnv(req.Env)
	cmdPath, err := resolveCommand(req.Argv[0], env)
	if err != nil {
		fail(status, StageExec, err)
	}

	if req.EnableSeccomp && len(req.Denylist) > 0 {
		if err := loadDenylist(req.Denylist); err != nil {
			fail(status, StageSeccomp, err)
		}
	}
	if req.Alarm > 0 {
		timer := unix.Itimerval{Value: unix.NsecToTimeval(req.Alarm.Nanoseconds())}
		if _, err := unix.Setitimer(unix.ItimerReal, timer); err != nil {
			fail(status, StageAlarm, err)
		}
	}

	err = unix.Exec(cmdPath, req.Argv, env)
	fail(status, StageExec, err)
}

func readRequest() (Request, error) {
	file := os.NewFile(RequestFD, "request")
	if file == nil {
		return Request{}, fmt.Errorf("request descriptor missing")
	}
	defer file.Close()
	var req Request
	if err := json.NewDecoder(file).Decode(&req); err != nil {
		return Request{}, fmt.Errorf("decode request: %w", err)
	}
	if err := req.Validate(); err != nil {
		return Request{}, err
	}
	return req, nil
}

func fail(status *os.File, stage Stage, err error) {
	if status != nil {
		msg := ""
		if err != nil {
			msg = err.Error()
		}
		_ = json.NewEncoder(status).Encode(Failure{Stage: stage, Message: msg})
	}
	os.Exit(stage.ExitCode())
}

func redirectIO(req Request) error {
	if req.StdinPath != "" {
		if err := redirect(req.StdinPath, os.O_RDONLY, 0); err != nil {
			return fmt.Errorf("stdin: %w", err)
		}
	}
	if req.StdoutPath != "" {
		if err := redirect(req.StdoutPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 1); err != nil {
			return fmt.Errorf("stdout: %w", err)
		}
	}
	if req.StderrPath != "" {
		if err := redirect(req.StderrPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 2); err != nil {
			return fmt.Errorf("stderr: %w", err)
		}
	}
	return nil
}

func redirect(path string, flag int, target int) error {
	file, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return err
	}
	defer file.Close()
	return unix.Dup2(int(file.Fd()), target)
}

func applyRlimits(entries []spec.RlimitEntry) error {
	for _, entry := range entries {
		resource, ok := rlimitResources[entry.Resource]
		if !ok {
			return fmt.Errorf("unknown rlimit %q", entry.Resource)
		}
		if err := unix.Setrlimit(resource, &unix.Rlimit{Cur: entry.Soft, Max: entry.Hard}); err != nil {
			return fmt.Errorf("set rlimit %s: %w", entry.Resource, err)
		}
	}
	return nil
}

func buildEnv(env []string) []string {
	if len(env) > 0 {
		return env
	}
	return []string{"PATH=" + defaultPath}
}

// resolveCommand looks name up on the PATH of the target environment rather
// than the helper's own.
func resolveCommand(name string, env []string) (string, error) {
	if strings.Contains(name, "/") {
		if _, err := os.Stat(name); err != nil {
			return "", err
		}
		return name, nil
	}
	path := defaultPath
	for _, kv := range env {
		if v, ok := strings.CutPrefix(kv, "PATH="); ok {
			path = v
		}
	}
	for _, dir := range filepath.SplitList(path) {
		if dir == "" {
			dir = "."
		}
		candidate := filepath.Join(dir, name)
		if err := unix.Access(candidate, unix.X_OK); err == nil {
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate, nil
			}
		}
	}
	return "", fmt.Errorf("%s: %w", name, exec.ErrNotFound)
}
