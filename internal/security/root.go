// Package security holds process-level guards for long-running commands.
package security

import "errors"

// ErrRunningAsRoot is returned when the process effective user ID is 0 (root).
var ErrRunningAsRoot = errors.New("refusing to serve as root: spells run commands and write files, use a non-root user")

// effectiveUIDGetter is set by init in root_unix.go; elsewhere it reports -1 (not root).
var effectiveUIDGetter = defaultEUID

func defaultEUID() int { return -1 }

// EffectiveUIDGetter returns the platform effective-UID getter for use with RequireNonRoot.
func EffectiveUIDGetter() func() int {
	return effectiveUIDGetter
}

// RequireNonRoot returns ErrRunningAsRoot if euidGetter reports 0. A nil getter passes.
func RequireNonRoot(euidGetter func() int) error {
	if euidGetter == nil {
		return nil
	}
	if euidGetter() == 0 {
		return ErrRunningAsRoot
	}
	return nil
}
