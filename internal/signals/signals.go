//go:build !unix

package signals

import "os"

// ShutdownSignals returns the signals that stop serve. Only Interrupt exists here.
func ShutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}
