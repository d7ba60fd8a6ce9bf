// Copyright 2016 Aleksandr Demakin. All rights reserved.

//go:build darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris
// +build darwin dragonfly freebsd linux netbsd openbsd solaris

package common

import (
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// IsInterruptedSyscallErr returns true, if the error or its cause is EINTR.
func IsInterruptedSyscallErr(err error) bool {
	return SyscallErrHasCode(err, unix.EINTR)
}

// IsTimeoutErr returns true, if the error or its cause is EAGAIN.
func IsTimeoutErr(err error) bool {
	return SyscallErrHasCode(err, unix.EAGAIN)
}

// IsWouldBlockErr returns true, if a nonblocking call could not complete immediately.
func IsWouldBlockErr(err error) bool {
	return SyscallErrHasCode(err, unix.EWOULDBLOCK) || SyscallErrHasCode(err, unix.EAGAIN)
}

// IsTransientIOErr returns true for errors, after which an io operation may be retried.
func IsTransientIOErr(err error) bool {
	return IsInterruptedSyscallErr(err) || IsTimeoutErr(err)
}

// SyscallErrHasCode looks for an errno value in the error chain,
// including *os.SyscallError and *os.PathError wrappers.
func SyscallErrHasCode(err error, code syscall.Errno) bool {
	if err == nil {
		return false
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == code
	}
	if errno, ok := errors.Cause(err).(syscall.Errno); ok {
		return errno == code
	}
	return false
}
