//go:build windows

package sync

import (
	goerrors "errors"
	"syscall"
)

const (
	errorSharingViolation syscall.Errno = 32
	errorLockViolation    syscall.Errno = 33
)

// isInUse returns whether the error was caused by another process holding
// the file open, e.g. a log file still being written by the service.
func isInUse(err error) bool {
	return goerrors.Is(err, errorSharingViolation) || goerrors.Is(err, errorLockViolation)
}
