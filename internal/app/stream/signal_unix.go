//go:build unix

package stream

import (
	"os"
	"syscall"
)

var gracefulSignals = []os.Signal{syscall.SIGTERM}
