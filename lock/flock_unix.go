// Copyright 2016 Aleksandr Demakin. All rights reserved.

//go:build darwin || dragonfly || freebsd || linux || netbsd || openbsd
// +build darwin dragonfly freebsd linux netbsd openbsd

package lock

import (
	"os"

	"github.com/nxgtw/go-fmq/internal/common"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

func flock(file *os.File, shared, nonblock bool) error {
	how := unix.LOCK_EX
	if shared {
		how = unix.LOCK_SH
	}
	if nonblock {
		how |= unix.LOCK_NB
	}
	for {
		err := unix.Flock(int(file.Fd()), how)
		if err == nil {
			return nil
		}
		if common.IsInterruptedSyscallErr(err) {
			continue
		}
		if common.IsWouldBlockErr(err) {
			return ErrLockBusy
		}
		return errors.Wrap(os.NewSyscallError("flock", err), "failed to lock")
	}
}

func funlock(file *os.File) error {
	return os.NewSyscallError("flock", unix.Flock(int(file.Fd()), unix.LOCK_UN))
}
