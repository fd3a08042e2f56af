//go:build linux

package result

import (
	"syscall"
	"time"
)

// UsageFromRusage converts the kernel's post-wait accounting. ru_maxrss is
// reported in KiB on Linux.
func UsageFromRusage(ru *syscall.Rusage) ResourceUsage {
	if ru == nil {
		return ResourceUsage{}
	}
	return ResourceUsage{
		UserTime:                   time.Duration(ru.Utime.Nano()),
		SystemTime:                 time.Duration(ru.Stime.Nano()),
		MaxRSSBytes:                int64(ru.Maxrss) * 1024,
		MajorPageFaults:            int64(ru.Majflt),
		VoluntaryContextSwitches:   int64(ru.Nvcsw),
		InvoluntaryContextSwitches: int64(ru.Nivcsw),
	}
}
