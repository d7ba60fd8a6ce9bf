// Copyright 2016 Aleksandr Demakin. All rights reserved.

package qfile

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

const (
	maxNameLen = 255

	statSuffix = ".stat"
	bufSuffix  = ".buf"
	lockSuffix = ".lock"
)

// Paths holds names of all files of a queue.
type Paths struct {
	Base string
	Stat string
	Buf  string
	Lock string
}

// Resolve builds queue file names for the given queue name.
// If the name contains a path separator, it is used as is.
// Otherwise the queue is placed into a memory-backed directory (see Dir).
func Resolve(name string) (Paths, error) {
	name = strings.TrimSpace(name)
	if len(name) == 0 {
		return Paths{}, errors.New("empty queue name")
	}
	base := name
	if !strings.Contains(name, "/") {
		if len(name) >= maxNameLen {
			return Paths{}, errors.New("queue name is too long")
		}
		dir, err := Dir()
		if err != nil {
			return Paths{}, errors.Wrap(err, "error building queue path")
		}
		base = filepath.Join(dir, name)
	}
	if strings.HasSuffix(base, "/") {
		return Paths{}, errors.Errorf("invalid queue name %q", name)
	}
	return Paths{
		Base: base,
		Stat: base + statSuffix,
		Buf:  base + bufSuffix,
		Lock: base + lockSuffix,
	}, nil
}

// RemoveAll removes all files of a queue.
func (p Paths) RemoveAll() error {
	var first error
	for _, path := range []string{p.Stat, p.Buf, p.Lock} {
		if err := Remove(path); err != nil && first == nil {
			first = errors.Wrapf(err, "failed to remove %s", path)
		}
	}
	return first
}
