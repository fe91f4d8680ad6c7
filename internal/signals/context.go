package signals

import (
	"context"
	"os/signal"
)

// Context returns a copy of parent that is cancelled on the first shutdown
// signal. Calling stop restores default signal handling, so a second
// interrupt kills the process.
func Context(parent context.Context) (ctx context.Context, stop context.CancelFunc) {
	return signal.NotifyContext(parent, ShutdownSignals()...)
}
