//go:build unix

package signals

import (
	"os"
	"syscall"
)

// ShutdownSignals returns the signals that stop serve: Interrupt, and SIGTERM
// as sent by process managers.
func ShutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM}
}
