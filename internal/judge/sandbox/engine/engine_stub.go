//go:build !linux

package engine

import (
	"context"

	"judgecore/internal/judge/sandbox/result"
	appErr "judgecore/pkg/errors"
)

// NewEngine fails: the sandbox needs Linux.
func NewEngine(cfg Config) (*Engine, error) {
	return nil, appErr.New(appErr.SandboxOSError).WithMessage("sandbox engine is only supported on linux")
}

func (s *Session) Spawn(ctx context.Context) (*Running, error) {
	return nil, appErr.New(appErr.SandboxOSError).WithMessage("sandbox engine is only supported on linux")
}

func (r *Running) Wait(ctx context.Context, input []byte) (result.ExecutionReport, error) {
	return result.ExecutionReport{}, appErr.New(appErr.SandboxOSError).WithMessage("sandbox engine is only supported on linux")
}
