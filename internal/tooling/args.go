package tooling

import (
	"errors"
	"fmt"
)

// ErrBadArgs is returned by builtin tools when the positional arguments do not fit.
var ErrBadArgs = errors.New("bad arguments")

// checkArgs verifies that args has between min and max entries. max < 0 means unbounded.
func checkArgs(tool string, args []string, min, max int) error {
	if len(args) < min || (max >= 0 && len(args) > max) {
		switch {
		case max < 0:
			return fmt.Errorf("%s expects at least %d argument(s), got %d: %w", tool, min, len(args), ErrBadArgs)
		case min == max:
			return fmt.Errorf("%s expects %d argument(s), got %d: %w", tool, min, len(args), ErrBadArgs)
		default:
			return fmt.Errorf("%s expects %d to %d arguments, got %d: %w", tool, min, max, len(args), ErrBadArgs)
		}
	}
	return nil
}

// optional returns args[i] or def when absent.
func optional(args []string, i int, def string) string {
	if i < len(args) {
		return args[i]
	}
	return def
}
