// Package cgroup manages the cgroup v2 groups that bound memory and process
// count for sandboxed programs.
//
// In shared mode one group exists per distinct (memory, process count) pair and
// lives as long as the Manager. Every execution with the same limits joins the
// same group, so the kernel aggregates their accounting: one program's memory
// counts against another running concurrently under the same pair. Ephemeral
// mode trades creation latency for exclusive accounting by creating a fresh
// group per execution and removing it on release.
package cgroup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	appErr "judgecore/pkg/errors"
	"judgecore/pkg/utils/logger"
)

// Mode selects how groups are shared between executions.
type Mode string

const (
	ModeShared    Mode = "shared"
	ModeEphemeral Mode = "ephemeral"
)

// JoinMethod selects how the child enters its group.
type JoinMethod string

const (
	// JoinProcs makes the child write its own pid to cgroup.procs before exec.
	JoinProcs JoinMethod = "procs"
	// JoinClone places the child in the group atomically at clone time.
	JoinClone JoinMethod = "clone"
)

const defaultPrefix = "judgecore"

// Config controls group creation.
type Config struct {
	Enabled bool       `yaml:"enabled"`
	Root    string     `yaml:"root"`
	Mode    Mode       `yaml:"mode"`
	Join    JoinMethod `yaml:"join"`
	Prefix  string     `yaml:"prefix"`
}

// Limits is the key a group is sized and cached by.
type Limits struct {
	MemoryBytes int64
	MaxProcs    uint32
}

func (l Limits) key() string {
	return strconv.FormatInt(l.MemoryBytes, 10) + "/" + strconv.FormatUint(uint64(l.MaxProcs), 10)
}

// Group is a live cgroup. Executions only read it to join; they never change its limits.
type Group struct {
	path      string
	limits    Limits
	exclusive bool
}

// Path returns the group directory.
func (g *Group) Path() string { return g.path }

// ProcsPath returns the membership file a child writes its pid to.
func (g *Group) ProcsPath() string { return filepath.Join(g.path, fileProcs) }

// Limits returns the limits the group was created with.
func (g *Group) Limits() Limits { return g.limits }

// Exclusive reports whether exactly one execution uses the group.
func (g *Group) Exclusive() bool { return g.exclusive }

// Members lists the pids currently in the group.
func (g *Group) Members() ([]int, error) { return readMembers(g.path) }

// MemoryPeak returns memory.peak in bytes.
func (g *Group) MemoryPeak() (int64, error) { return readCgroupInt(g.path, fileMemoryPeak) }

// OOMKilled reports whether the kernel OOM killer fired inside the group.
func (g *Group) OOMKilled() bool { return wasOomKilled(g.path) }

// Kill kills every process in the group. Only valid for exclusive groups.
func (g *Group) Kill() error {
	if !g.exclusive {
		return appErr.New(appErr.SandboxStateError).WithMessage("refusing to kill a shared group")
	}
	return killCgroup(g.path)
}

// Manager creates groups and, in shared mode, caches them by limits.
type Manager struct {
	cfg           Config
	pidsSupported bool

	mu     sync.Mutex
	groups map[Limits]*Group
	flight singleflight.Group
}

// NewManager prepares the root directory. A disabled config yields a manager
// whose Acquire returns no group.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModeShared
	}
	if cfg.Join == "" {
		cfg.Join = JoinProcs
	}
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}
	switch cfg.Mode {
	case ModeShared, ModeEphemeral:
	default:
		return nil, appErr.ValidationError("cgroup.mode", "must be shared or ephemeral")
	}
	switch cfg.Join {
	case JoinProcs, JoinClone:
	default:
		return nil, appErr.ValidationError("cgroup.join", "must be procs or clone")
	}
	m := &Manager{cfg: cfg, groups: make(map[Limits]*Group)}
	if !cfg.Enabled {
		return m, nil
	}
	if cfg.Root == "" {
		return nil, appErr.ValidationError("cgroup.root", "required")
	}
	if err := os.MkdirAll(cfg.Root, 0750); err != nil {
		return nil, appErr.ResourceFailure(err, "create cgroup root failed")
	}
	// Best effort: a delegated hierarchy may already have these enabled.
	if err := enableControllers(filepath.Dir(cfg.Root), "memory", "pids"); err != nil {
		logger.Debug(context.Background(), "enable controllers on parent failed", zap.Error(err))
	}
	if err := enableControllers(cfg.Root, "memory", "pids"); err != nil {
		logger.Debug(context.Background(), "enable controllers on root failed", zap.Error(err))
	}
	m.pidsSupported = controllerSupported(cfg.Root, "pids")
	return m, nil
}

// Enabled reports whether Acquire creates real groups.
func (m *Manager) Enabled() bool { return m != nil && m.cfg.Enabled }

// JoinMethod returns the configured join method.
func (m *Manager) JoinMethod() JoinMethod { return m.cfg.Join }

// Acquire returns the group for limits and a release func that must be called
// once the execution is reaped. Shared groups are returned from cache; release
// is a no-op for them.
func (m *Manager) Acquire(ctx context.Context, limits Limits) (*Group, func(), error) {
	noop := func() {}
	if !m.Enabled() {
		return nil, noop, nil
	}
	if m.cfg.Mode == ModeEphemeral {
		return m.createEphemeral(ctx, limits)
	}

	m.mu.Lock()
	if g, ok := m.groups[limits]; ok {
		m.mu.Unlock()
		return g, noop, nil
	}
	m.mu.Unlock()

	v, err, _ := m.flight.Do(limits.key(), func() (interface{}, error) {
		m.mu.Lock()
		if g, ok := m.groups[limits]; ok {
			m.mu.Unlock()
			return g, nil
		}
		m.mu.Unlock()

		g, err := m.create(ctx, m.sharedName(limits), limits, false)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.groups[limits] = g
		m.mu.Unlock()
		return g, nil
	})
	if err != nil {
		return nil, noop, err
	}
	return v.(*Group), noop, nil
}

func (m *Manager) createEphemeral(ctx context.Context, limits Limits) (*Group, func(), error) {
	g, err := m.create(ctx, m.cfg.Prefix+"-run-"+uuid.NewString(), limits, true)
	if err != nil {
		return nil, func() {}, err
	}
	release := func() {
		if err := os.RemoveAll(g.path); err != nil {
			logger.Warn(ctx, "remove ephemeral group failed", zap.String("cgroup", g.path), zap.Error(err))
		}
	}
	return g, release, nil
}

func (m *Manager) create(ctx context.Context, name string, limits Limits, exclusive bool) (*Group, error) {
	cgroupPath := filepath.Join(m.cfg.Root, name)
	if err := os.MkdirAll(cgroupPath, 0750); err != nil {
		return nil, appErr.ResourceFailure(err, "create cgroup path failed")
	}
	if err := applyLimits(cgroupPath, limits, m.pidsSupported); err != nil {
		if exclusive {
			_ = os.RemoveAll(cgroupPath)
		}
		return nil, err
	}
	logger.Info(ctx, "resource group created",
		zap.String("cgroup", cgroupPath),
		zap.Int64("memory_bytes", limits.MemoryBytes),
		zap.Uint32("max_procs", limits.MaxProcs),
		zap.Bool("exclusive", exclusive))
	return &Group{path: cgroupPath, limits: limits, exclusive: exclusive}, nil
}

func (m *Manager) sharedName(limits Limits) string {
	return fmt.Sprintf("%s-%016x", m.cfg.Prefix, xxhash.Sum64String(limits.key()))
}
