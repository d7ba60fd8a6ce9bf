// Copyright 2015 Aleksandr Demakin. All rights reserved.

//go:build unix

// Package mmf maps files into memory.
package mmf

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Mappable is a file, which can be mapped.
type Mappable interface {
	Fd() uintptr
	Stat() (os.FileInfo, error)
}

// Region is a shared mapping of a whole file.
// Changes made through a writable region are visible to all processes mapping the file.
type Region struct {
	data []byte
}

// Map maps the entire file. The file must not be shrunk while the region is in use,
// accessing pages past the end of the file raises SIGBUS.
func Map(f Mappable, writable bool) (*Region, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get file size")
	}
	size := fi.Size()
	if size == 0 {
		return nil, errors.New("cannot map an empty file")
	}
	if int64(int(size)) != size {
		return nil, errors.Errorf("file of %d bytes is too large to map", size)
	}
	prot := unix.PROT_READ
	if writable {
		prot |= unix.PROT_WRITE
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), prot, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.Wrap(err, "mmap failed")
	}
	return &Region{data: data}, nil
}

// Data returns mapped bytes. It is nil after Close.
func (r *Region) Data() []byte {
	return r.data
}

// Len returns the mapping size.
func (r *Region) Len() int {
	return len(r.data)
}

// Flush writes modified pages to the file. With async the call does not wait for the write.
func (r *Region) Flush(async bool) error {
	if r.data == nil {
		return errors.New("region is closed")
	}
	flag := unix.MS_SYNC
	if async {
		flag = unix.MS_ASYNC
	}
	return errors.Wrap(unix.Msync(r.data, flag), "msync failed")
}

// Close unmaps the region. Closing a closed region is a no-op.
func (r *Region) Close() error {
	if r.data == nil {
		return nil
	}
	err := unix.Munmap(r.data)
	r.data = nil
	return errors.Wrap(err, "munmap failed")
}
