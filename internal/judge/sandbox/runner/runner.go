// Package runner orchestrates one sandboxed execution: it acquires the
// resource group, spawns the session and waits for the report.
package runner

import (
	"context"

	"judgecore/internal/judge/sandbox/result"
	"judgecore/internal/judge/sandbox/spec"
)

// RunRequest describes one execution with piped stdio.
type RunRequest struct {
	SessionID  string
	LanguageID string
	ProjectDir string
	Command    spec.CommandSpec
	Profile    spec.ResourceProfile
	Env        []string
	Input      []byte
}

// FileRunRequest describes one execution reading stdin from InputPath and
// writing stdout and stderr to capture files in the project directory.
type FileRunRequest struct {
	SessionID  string
	LanguageID string
	ProjectDir string
	Command    spec.CommandSpec
	Profile    spec.ResourceProfile
	Env        []string
	InputPath  string
}

// Runner runs compiled programs.
type Runner interface {
	Run(ctx context.Context, req RunRequest) (result.ExecutionReport, error)
	RunFile(ctx context.Context, req FileRunRequest) (result.ExecutionReport, error)
}
