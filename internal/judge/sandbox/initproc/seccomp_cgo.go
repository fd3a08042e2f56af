//go:build linux && cgo

package initproc

import (
	"fmt"
	"strings"

	"github.com/seccomp/libseccomp-golang"
	"golang.org/x/sys/unix"

	"judgecore/internal/judge/sandbox/spec"
)

// loadDenylist installs a default-allow filter that kills the process on any
// listed syscall. A name unknown to this architecture fails the stage.
func loadDenylist(denylist spec.SyscallDenylist) error {
	calls, err := resolveSyscalls(denylist)
	if err != nil {
		return err
	}
	filter, err := seccomp.NewFilter(seccomp.ActAllow)
	if err != nil {
		return fmt.Errorf("create seccomp filter: %w", err)
	}
	defer filter.Release()

	for i, call := range calls {
		if err := filter.AddRule(call, seccomp.ActKillProcess); err != nil {
			return fmt.Errorf("add seccomp rule %s: %w", denylist[i], err)
		}
	}
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("set no new privs: %w", err)
	}
	if err := filter.Load(); err != nil {
		return fmt.Errorf("load seccomp filter: %w", err)
	}
	return nil
}

func resolveSyscalls(denylist spec.SyscallDenylist) ([]seccomp.ScmpSyscall, error) {
	calls := make([]seccomp.ScmpSyscall, 0, len(denylist))
	var unknown []string
	for _, name := range denylist {
		call, err := seccomp.GetSyscallFromName(name)
		if err != nil {
			unknown = append(unknown, name)
			continue
		}
		calls = append(calls, call)
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("unknown syscalls in denylist: %s", strings.Join(unknown, ", "))
	}
	return calls, nil
}
