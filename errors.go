package rtnlproxy

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// Errors which can be returned by operations the current build or kernel
// cannot perform.
var (
	errNotSupported = errors.New("operation not supported")
)

// notSupported provides a concise constructor for "not supported" errors.
func notSupported(op string) *OpError {
	return &OpError{
		Op:    op,
		Errno: syscall.EOPNOTSUPP,
		Err:   errNotSupported,
	}
}

// IsNotExist determines if an error is produced as the result of querying
// some file, object, resource, etc. which does not exist.  Users of this
// package should always use rtnlproxy.IsNotExist, rather than os.IsNotExist,
// when checking for specific proxy-related errors.
func IsNotExist(err error) bool {
	var oe *OpError
	if errors.As(err, &oe) {
		if oe.Errno == syscall.ENOENT {
			return true
		}
		return os.IsNotExist(oe.Err)
	}
	return os.IsNotExist(err)
}

var _ error = &OpError{}

// An OpError is an error produced as the result of a failed link operation.
// It carries the single numeric OS error code an emulated operation reports
// to its caller, mirroring what a native netlink round-trip would return in
// its NLMSG_ERROR payload.
type OpError struct {
	// Op is the operation which caused this OpError, such as "newlink"
	// or "bond set".
	Op string

	// Errno is the OS error code attached to the operation.
	Errno syscall.Errno

	// Err is the underlying error which caused this OpError, if any.
	Err error
}

func (e *OpError) Error() string {
	if e == nil {
		return "<nil>"
	}

	if e.Err != nil {
		return fmt.Sprintf("rtnlproxy %q: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("rtnlproxy %q: %v", e.Op, e.Errno)
}

func (e *OpError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Errno
}

// newOpError builds an OpError from an arbitrary underlying error,
// extracting the OS error code when one is present.
func newOpError(op string, err error) *OpError {
	if err == nil {
		return nil
	}
	var oe *OpError
	if errors.As(err, &oe) {
		return oe
	}
	return &OpError{Op: op, Errno: errnoOf(err), Err: err}
}

// errnoOf unwraps the syscall error code from err, or 0 if err carries none.
func errnoOf(err error) syscall.Errno {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return 0
}
