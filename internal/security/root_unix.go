//go:build unix

package security

import "os"

func init() {
	effectiveUIDGetter = os.Geteuid
}
