// Command sandbox-init is a standalone child-phase helper. Point
// sandbox.helperPath at it when the judging binary should not re-execute
// itself. It expects the request on fd 3 and the status pipe on fd 4.
package main

import (
	"fmt"
	"os"

	"judgecore/internal/judge/sandbox/initproc"
)

func main() {
	if os.Getenv(initproc.EnvMarker) != "1" {
		_, _ = fmt.Fprintln(os.Stderr, "sandbox-init must be started by the judgecore engine")
		os.Exit(2)
	}
	initproc.Main()
}
