// Copyright 2015 Aleksandr Demakin. All rights reserved.

//go:build linux
// +build linux

package qfile

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const (
	defaultShmPath   = "/dev/shm/"
	cShmfsSuperMagic = 0x01021994
	cRamfsMagic      = 0x858458f6
)

var (
	shmPathOnce sync.Once
	shmPath     string
)

type mntent struct {
	fsname string /* Device or server for filesystem.  */
	dir    string /* Directory mounted on.  */
	fstype string /* Type of filesystem: ufs, nfs, etc.  */
	opts   string /* Comma-separated options for fs.  */
	freq   int    /* Dump frequency (in days).  */
	passno int    /* Pass number for `fsck'.  */
}

// Dir returns a memory-backed directory for queues given by a bare name.
func Dir() (string, error) {
	shmPathOnce.Do(locateShmFs)
	if len(shmPath) == 0 {
		return shmPath, errors.New("error locating the shared memory path")
	}
	return shmPath, nil
}

// glibc/sysdeps/unix/sysv/linux/shm-directory.c
func locateShmFs() {
	if checkShmPath(defaultShmPath) {
		shmPath = defaultShmPath
	} else {
		shmPath = shmFsFromMounts()
	}
	if len(shmPath) == 0 {
		shmPath = os.TempDir() + "/"
	}
}

func checkShmPath(path string) bool {
	if len(path) == 0 {
		return false
	}
	var statfs unix.Statfs_t
	if err := unix.Statfs(path, &statfs); err != nil {
		return false
	}
	return isShmFs(int64(statfs.Type))
}

func isShmFs(fsType int64) bool {
	return fsType == cShmfsSuperMagic || fsType == cRamfsMagic
}

func shmFsFromMounts() string {
	var fsFile *os.File
	var err error
	if fsFile, err = os.Open("/proc/mounts"); err != nil {
		if fsFile, err = os.Open("/etc/fstab"); err != nil {
			return ""
		}
	}
	defer fsFile.Close()
	return shmFsFromReader(fsFile, checkShmPath)
}

func shmFsFromReader(r io.Reader, check func(string) bool) string {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if record := scanMountRecord(scanner.Text()); record != nil {
			if record.fstype == "tmpfs" || record.fstype == "shm" {
				result := record.dir
				if check(result) {
					if !strings.HasSuffix(result, "/") {
						result = result + "/"
					}
					return result
				}
			}
		}
	}
	return ""
}

func scanMountRecord(record string) *mntent {
	fields := strings.Fields(record)
	if len(fields) < 6 || strings.HasPrefix(fields[0], "#") {
		return nil
	}
	result := &mntent{fsname: fields[0], dir: fields[1], fstype: fields[2], opts: fields[3]}
	var err error
	if result.freq, err = strconv.Atoi(fields[4]); err != nil {
		return nil
	}
	if result.passno, err = strconv.Atoi(fields[5]); err != nil {
		return nil
	}
	return result
}
