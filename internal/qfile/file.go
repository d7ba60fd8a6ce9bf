// Copyright 2015 Aleksandr Demakin. All rights reserved.

package qfile

import (
	"io"
	"os"
	"time"

	"github.com/nxgtw/go-fmq/internal/common"

	"github.com/pkg/errors"
)

const (
	// maxIOAttempts bounds retries of interrupted or short positioned writes.
	maxIOAttempts = 4
	ioRetryPause  = 5 * time.Millisecond
)

// File is a queue file object: a regular file, which can be mapped into memory
// or accessed with positioned reads and writes.
type File struct {
	file *os.File
}

// Open opens or creates a file with the given os flags.
func Open(path string, flag int, perm os.FileMode) (*File, error) {
	file, err := os.OpenFile(path, flag, perm)
	if err != nil {
		return nil, err
	}
	return &File{file: file}, nil
}

// Name returns file's path.
func (f *File) Name() string {
	return f.file.Name()
}

// Fd returns file's descriptor.
func (f *File) Fd() uintptr {
	return f.file.Fd()
}

// Stat returns file's info.
func (f *File) Stat() (os.FileInfo, error) {
	return f.file.Stat()
}

// Size returns current file size, or 0 on error.
func (f *File) Size() int64 {
	fileInfo, err := f.file.Stat()
	if err != nil {
		return 0
	}
	return fileInfo.Size()
}

// Truncate changes file's size.
func (f *File) Truncate(size int64) error {
	return f.file.Truncate(size)
}

// ReadAt reads exactly len(p) bytes at off, retrying interrupted calls.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	var done int
	for attempt := 0; done < len(p); attempt++ {
		n, err := f.file.ReadAt(p[done:], off+int64(done))
		done += n
		if err == nil || done == len(p) {
			continue
		}
		if err == io.EOF {
			return done, io.ErrUnexpectedEOF
		}
		if !common.IsTransientIOErr(err) || attempt+1 >= maxIOAttempts {
			return done, errors.Wrapf(err, "read of %d bytes at %d failed", len(p), off)
		}
		time.Sleep(ioRetryPause)
	}
	return done, nil
}

// WriteAt writes p at off. Short and interrupted writes are retried
// a bounded number of times before the error is returned.
func (f *File) WriteAt(p []byte, off int64) (int, error) {
	var done int
	for attempt := 0; done < len(p); attempt++ {
		n, err := f.file.WriteAt(p[done:], off+int64(done))
		done += n
		if done == len(p) {
			break
		}
		if attempt+1 >= maxIOAttempts {
			if err == nil {
				err = io.ErrShortWrite
			}
			return done, errors.Wrapf(err, "write of %d bytes at %d failed", len(p), off)
		}
		if err != nil && !common.IsTransientIOErr(err) {
			return done, errors.Wrapf(err, "write of %d bytes at %d failed", len(p), off)
		}
		time.Sleep(ioRetryPause)
	}
	return done, nil
}

// Sync commits file's content to the storage.
func (f *File) Sync() error {
	return f.file.Sync()
}

// Close closes the file.
func (f *File) Close() error {
	return f.file.Close()
}

// Destroy closes and removes the file.
func (f *File) Destroy() error {
	if err := f.file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return Remove(f.file.Name())
}

// Remove removes a file. A missing file is not an error.
func Remove(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
