// Package sandbox is the compile-and-run entrypoint: it resolves the language,
// builds the source and runs the result on one input.
package sandbox

import (
	"context"
	"time"

	"judgecore/internal/judge/sandbox/result"
)

// Service judges one program against one input.
type Service interface {
	Judge(ctx context.Context, req JudgeRequest) (result.ExecutionReport, error)
}

// CaptureMode selects how the program's stdio is wired.
type CaptureMode string

const (
	// CapturePipes feeds Input over a pipe and captures output in memory.
	CapturePipes CaptureMode = "pipes"
	// CaptureFiles reads stdin from a file and writes output to capture files
	// in the project directory.
	CaptureFiles CaptureMode = "files"
)

// JudgeRequest contains all data needed to execute one submission.
type JudgeRequest struct {
	// SessionID is generated when empty.
	SessionID  string
	LanguageID string
	Source     []byte

	Capture CaptureMode
	// Input is the program's stdin. With CaptureFiles and an empty InputPath
	// it is written to a file in the project directory first.
	Input []byte
	// InputPath is read instead of Input when set.
	InputPath string

	// TimeLimit overrides the language's wall-clock limit when positive.
	TimeLimit time.Duration
}
