//go:build !windows

package naming

import (
	"errors"

	"golang.org/x/sys/unix"
)

func isSharingViolation(err error) bool {
	return errors.Is(err, unix.EBUSY) || errors.Is(err, unix.ETXTBSY) || errors.Is(err, unix.EAGAIN)
}
