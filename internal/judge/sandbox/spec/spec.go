// Package spec defines the execution specification and resource limits.
package spec

import (
	"time"

	appErr "judgecore/pkg/errors"
)

// CommandSpec describes the program to execute.
type CommandSpec struct {
	Binary string   `yaml:"binary" json:"binary"`
	Args   []string `yaml:"args" json:"args"`
}

// Argv returns the full argument vector including the binary as argv[0].
func (c CommandSpec) Argv() []string {
	argv := make([]string, 0, len(c.Args)+1)
	argv = append(argv, c.Binary)
	return append(argv, c.Args...)
}

// Empty reports whether no binary is set.
func (c CommandSpec) Empty() bool {
	return c.Binary == ""
}

// RlimitKind names a POSIX resource limit.
type RlimitKind string

const (
	RlimitCPU     RlimitKind = "cpu"
	RlimitFSize   RlimitKind = "fsize"
	RlimitData    RlimitKind = "data"
	RlimitStack   RlimitKind = "stack"
	RlimitCore    RlimitKind = "core"
	RlimitNoFile  RlimitKind = "nofile"
	RlimitAS      RlimitKind = "as"
	RlimitNProc   RlimitKind = "nproc"
	RlimitMemlock RlimitKind = "memlock"
)

var knownRlimits = map[RlimitKind]struct{}{
	RlimitCPU: {}, RlimitFSize: {}, RlimitData: {}, RlimitStack: {}, RlimitCore: {},
	RlimitNoFile: {}, RlimitAS: {}, RlimitNProc: {}, RlimitMemlock: {},
}

// RlimitEntry is one resource limit installed in the child before exec.
type RlimitEntry struct {
	Resource RlimitKind `yaml:"resource" json:"resource"`
	Soft     uint64     `yaml:"soft" json:"soft"`
	Hard     uint64     `yaml:"hard" json:"hard"`
}

// SyscallDenylist names syscalls that kill the sandboxed process on use.
// The filter is default-allow: anything not listed is permitted.
type SyscallDenylist []string

// ResourceProfile is the read-only set of limits for one language or tier.
type ResourceProfile struct {
	Rlimits      []RlimitEntry   `yaml:"rlimits" json:"rlimits"`
	Denylist     SyscallDenylist `yaml:"denylist" json:"denylist"`
	MemoryLimit  int64           `yaml:"memoryLimit" json:"memoryLimit"`
	ProcessLimit uint32          `yaml:"processLimit" json:"processLimit"`
	TimeLimit    time.Duration   `yaml:"timeLimit" json:"timeLimit"`
}

// Validate checks the invariants of the profile.
func (p ResourceProfile) Validate() error {
	for _, r := range p.Rlimits {
		if _, ok := knownRlimits[r.Resource]; !ok {
			return appErr.ValidationError("rlimits", "unknown resource "+string(r.Resource))
		}
		if r.Soft > r.Hard {
			return appErr.ValidationError("rlimits", "soft limit exceeds hard limit for "+string(r.Resource))
		}
	}
	for _, name := range p.Denylist {
		if name == "" {
			return appErr.ValidationError("denylist", "empty syscall name")
		}
	}
	if p.MemoryLimit < 0 {
		return appErr.ValidationError("memory_limit", "must not be negative")
	}
	if p.TimeLimit < 0 {
		return appErr.ValidationError("time_limit", "must not be negative")
	}
	return nil
}

// Clone returns a deep copy so callers can derive a profile without sharing slices.
func (p ResourceProfile) Clone() ResourceProfile {
	out := p
	out.Rlimits = append([]RlimitEntry(nil), p.Rlimits...)
	out.Denylist = append(SyscallDenylist(nil), p.Denylist...)
	return out
}

// WithTimeLimit returns a copy of the profile with a different wall-clock limit.
func (p ResourceProfile) WithTimeLimit(d time.Duration) ResourceProfile {
	out := p.Clone()
	out.TimeLimit = d
	return out
}
