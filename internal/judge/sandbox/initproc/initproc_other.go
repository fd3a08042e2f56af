//go:build !linux

package initproc

import (
	"fmt"
	"os"
)

// Hook runs the child phase when the current process was started as the
// sandbox helper.
func Hook() {
	if os.Getenv(EnvMarker) == "1" {
		Main()
	}
}

// Main exits immediately: the child phase needs Linux.
func Main() {
	_, _ = fmt.Fprintln(os.Stderr, "sandbox child phase is only supported on linux")
	os.Exit(StageRequest.ExitCode())
}
