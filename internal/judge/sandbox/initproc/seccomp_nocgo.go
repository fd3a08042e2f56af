//go:build linux && !cgo

package initproc

import (
	"fmt"

	"judgecore/internal/judge/sandbox/spec"
)

func loadDenylist(denylist spec.SyscallDenylist) error {
	return fmt.Errorf("seccomp needs a cgo build, cannot deny %d syscalls", len(denylist))
}
