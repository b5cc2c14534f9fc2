//go:build !windows

package sync

import (
	goerrors "errors"
	"syscall"
)

// isInUse returns whether the error was caused by another process holding
// the file, e.g. a running binary that can't be overwritten.
func isInUse(err error) bool {
	return goerrors.Is(err, syscall.ETXTBSY) || goerrors.Is(err, syscall.EBUSY)
}
