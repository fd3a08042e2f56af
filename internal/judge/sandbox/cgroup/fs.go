package cgroup

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	appErr "judgecore/pkg/errors"
)

const (
	fileProcs          = "cgroup.procs"
	fileKill           = "cgroup.kill"
	fileControllers    = "cgroup.controllers"
	fileSubtreeControl = "cgroup.subtree_control"
	fileMemoryMax      = "memory.max"
	fileMemoryHigh     = "memory.high"
	fileMemorySwapMax  = "memory.swap.max"
	fileMemoryPeak     = "memory.peak"
	fileMemoryEvents   = "memory.events"
	filePidsMax        = "pids.max"
)

// applyLimits configures the memory controller and, where supported, the
// process-count controller of a freshly created group.
func applyLimits(cgroupPath string, limits Limits, pidsSupported bool) error {
	memValue := "max"
	if limits.MemoryBytes > 0 {
		memValue = strconv.FormatInt(limits.MemoryBytes, 10)
	}
	if err := writeCgroupValue(cgroupPath, fileMemoryMax, memValue); err != nil {
		return err
	}
	if err := writeCgroupValue(cgroupPath, fileMemoryHigh, memValue); err != nil {
		return err
	}
	// cgroup v2 accounts swap separately; zero means no headroom past memory.max.
	if limits.MemoryBytes > 0 {
		if err := writeOptionalValue(cgroupPath, fileMemorySwapMax, "0"); err != nil {
			return err
		}
	}
	if !pidsSupported {
		return nil
	}
	pidsValue := "max"
	if limits.MaxProcs > 0 {
		pidsValue = strconv.FormatUint(uint64(limits.MaxProcs), 10)
	}
	return writeCgroupValue(cgroupPath, filePidsMax, pidsValue)
}

func killCgroup(cgroupPath string) error {
	killPath := filepath.Join(cgroupPath, fileKill)
	if _, err := os.Stat(killPath); err != nil {
		return err
	}
	return os.WriteFile(killPath, []byte("1"), 0600)
}

func wasOomKilled(cgroupPath string) bool {
	if cgroupPath == "" {
		return false
	}
	data, err := os.ReadFile(filepath.Join(cgroupPath, fileMemoryEvents))
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		if fields[0] == "oom_kill" {
			val, _ := strconv.ParseInt(fields[1], 10, 64)
			return val > 0
		}
	}
	return false
}

func readMembers(cgroupPath string) ([]int, error) {
	data, err := os.ReadFile(filepath.Join(cgroupPath, fileProcs))
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.ResourceError, "read %s failed", fileProcs)
	}
	var pids []int
	for _, field := range strings.Fields(string(data)) {
		pid, err := strconv.Atoi(field)
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.ResourceError, "parse %s failed", fileProcs)
		}
		pids = append(pids, pid)
	}
	return pids, nil
}

// controllerSupported reports whether the root advertises the controller.
// A root without cgroup.controllers (not a cgroupfs mount) supports everything.
func controllerSupported(root, controller string) bool {
	data, err := os.ReadFile(filepath.Join(root, fileControllers))
	if err != nil {
		return true
	}
	for _, name := range strings.Fields(string(data)) {
		if name == controller {
			return true
		}
	}
	return false
}

func enableControllers(dir string, controllers ...string) error {
	if len(controllers) == 0 {
		return nil
	}
	parts := make([]string, 0, len(controllers))
	for _, c := range controllers {
		parts = append(parts, "+"+c)
	}
	return writeOptionalValue(dir, fileSubtreeControl, strings.Join(parts, " "))
}

func readCgroupInt(cgroupPath, name string) (int64, error) {
	data, err := os.ReadFile(filepath.Join(cgroupPath, name))
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.ResourceError, "read cgroup value failed")
	}
	value := strings.TrimSpace(string(data))
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.ResourceError, "parse cgroup value failed")
	}
	return parsed, nil
}

func writeCgroupValue(cgroupPath, name, value string) error {
	path := filepath.Join(cgroupPath, name)
	if err := os.WriteFile(path, []byte(value), 0640); err != nil {
		return appErr.ResourceFailure(err, "write %s failed", name)
	}
	return nil
}

// writeOptionalValue writes an existing control file and skips absent ones.
func writeOptionalValue(cgroupPath, name, value string) error {
	path := filepath.Join(cgroupPath, name)
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return appErr.ResourceFailure(err, "open %s failed", name)
	}
	defer file.Close()
	if _, err := file.WriteString(value); err != nil {
		return appErr.ResourceFailure(err, "write %s failed", name)
	}
	return nil
}
