package engine

import (
	"path/filepath"

	"judgecore/internal/judge/sandbox/cgroup"
	"judgecore/internal/judge/sandbox/initproc"
)

// buildRequest translates a session into the child phase's request.
func (e *Engine) buildRequest(s SessionSpec) initproc.Request {
	req := initproc.Request{
		WorkDir:       s.WorkDir,
		Argv:          s.Command.Argv(),
		Env:           s.Env,
		Rlimits:       s.Profile.Rlimits,
		Denylist:      s.Profile.Denylist,
		EnableSeccomp: !e.cfg.DisableSeccomp,
	}
	if s.Profile.TimeLimit > 0 {
		req.Alarm = s.Profile.TimeLimit + e.cfg.AlarmGrace
	}
	if s.Group != nil && s.Join != cgroup.JoinClone {
		req.CgroupProcs = s.Group.ProcsPath()
	}
	if s.Files != nil {
		req.StdinPath = s.Files.InputPath
		req.StdoutPath = s.Files.OutputPath
		req.StderrPath = s.Files.ErrorPath
	}
	return req
}

func resolvePath(workDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(workDir, path)
}
