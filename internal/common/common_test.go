// Copyright 2016 Aleksandr Demakin. All rights reserved.

package common

import (
	"os"
	"testing"

	fmq "github.com/nxgtw/go-fmq"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestOpenModeToOsMode(t *testing.T) {
	a := assert.New(t)
	mode, err := OpenModeToOsMode(fmq.O_OPEN_OR_CREATE | fmq.O_READWRITE)
	a.NoError(err)
	a.Equal(os.O_CREATE|os.O_RDWR, mode)
	mode, err = OpenModeToOsMode(fmq.O_CREATE_ONLY | fmq.O_READWRITE)
	a.NoError(err)
	a.Equal(os.O_CREATE|os.O_EXCL|os.O_RDWR, mode)
	mode, err = OpenModeToOsMode(fmq.O_OPEN_ONLY | fmq.O_READ_ONLY)
	a.NoError(err)
	a.Equal(os.O_RDONLY, mode)
	_, err = OpenModeToOsMode(fmq.O_OPEN_ONLY | fmq.O_CREATE_ONLY | fmq.O_READWRITE)
	a.Error(err)
	_, err = OpenModeToOsMode(fmq.O_OPEN_ONLY)
	a.Error(err)
	_, err = OpenModeToOsMode(fmq.O_READ_ONLY | fmq.O_READWRITE | fmq.O_OPEN_ONLY)
	a.Error(err)
}

func TestOpenOrCreate(t *testing.T) {
	a := assert.New(t)
	exists := false
	creator := func(create bool) error {
		if create {
			if exists {
				return &os.PathError{Op: "open", Path: "x", Err: os.ErrExist}
			}
			exists = true
			return nil
		}
		if !exists {
			return &os.PathError{Op: "open", Path: "x", Err: os.ErrNotExist}
		}
		return nil
	}
	_, err := OpenOrCreate(creator, fmq.O_OPEN_ONLY)
	a.Error(err)
	created, err := OpenOrCreate(creator, fmq.O_OPEN_OR_CREATE)
	a.NoError(err)
	a.True(created)
	created, err = OpenOrCreate(creator, fmq.O_OPEN_OR_CREATE)
	a.NoError(err)
	a.False(created)
	_, err = OpenOrCreate(creator, fmq.O_CREATE_ONLY)
	a.Error(err)
}

func TestSyscallErrHasCode(t *testing.T) {
	a := assert.New(t)
	a.True(IsInterruptedSyscallErr(os.NewSyscallError("write", unix.EINTR)))
	a.True(IsWouldBlockErr(errors.Wrap(unix.EWOULDBLOCK, "flock")))
	a.True(IsTransientIOErr(&os.PathError{Op: "write", Path: "f", Err: unix.EAGAIN}))
	a.False(IsTransientIOErr(errors.New("plain")))
	a.False(IsTransientIOErr(nil))
}
