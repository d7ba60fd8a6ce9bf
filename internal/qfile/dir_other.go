// Copyright 2015 Aleksandr Demakin. All rights reserved.

//go:build !linux
// +build !linux

package qfile

import "os"

// Dir returns a directory for queues given by a bare name.
func Dir() (string, error) {
	return os.TempDir() + "/", nil
}
