// Copyright 2016 Aleksandr Demakin. All rights reserved.

package common

import (
	"os"

	fmq "github.com/nxgtw/go-fmq"

	"github.com/pkg/errors"
)

// OpenOrCreate calls creator according to the create part of mode.
// creator receives true, when the object must be created exclusively.
// It returns true, if the object was created.
func OpenOrCreate(creator func(bool) error, mode int) (bool, error) {
	switch mode & (fmq.O_OPEN_ONLY | fmq.O_CREATE_ONLY | fmq.O_OPEN_OR_CREATE) {
	case fmq.O_OPEN_ONLY:
		return false, creator(false)
	case fmq.O_CREATE_ONLY:
		err := creator(true)
		if err != nil {
			return false, err
		}
		return true, nil
	case fmq.O_OPEN_OR_CREATE:
		const attempts = 16
		var err error
		for attempt := 0; attempt < attempts; attempt++ {
			if err = creator(true); !os.IsExist(errors.Cause(err)) {
				return err == nil, err
			}
			if err = creator(false); !os.IsNotExist(errors.Cause(err)) {
				return false, err
			}
		}
		return false, err
	default:
		return false, errors.New("unknown open mode")
	}
}

// AccessModeToOsMode converts library's access flags into
// os flags, which can be passed to system calls.
func AccessModeToOsMode(mode int) (osMode int, err error) {
	if mode&fmq.O_READ_ONLY != 0 {
		if mode&(fmq.O_WRITE_ONLY|fmq.O_READWRITE) != 0 {
			return 0, errors.New("incompatible open flags")
		}
		return osMode | os.O_RDONLY, nil
	}
	if mode&fmq.O_WRITE_ONLY != 0 {
		if mode&fmq.O_READWRITE != 0 {
			return 0, errors.New("incompatible open flags")
		}
		// the status file is always read back, so write-only handles still need read access.
		return osMode | os.O_RDWR, nil
	}
	if mode&fmq.O_READWRITE != 0 {
		return osMode | os.O_RDWR, nil
	}
	return 0, errors.New("no access mode flags")
}

// CreateModeToOsMode converts library's create flags into
// os flags, which can be passed to system calls.
func CreateModeToOsMode(mode int) (int, error) {
	if mode&fmq.O_OPEN_OR_CREATE != 0 {
		if mode&(fmq.O_CREATE_ONLY|fmq.O_OPEN_ONLY) != 0 {
			return 0, errors.New("incompatible open flags")
		}
		return os.O_CREATE, nil
	}
	if mode&fmq.O_CREATE_ONLY != 0 {
		if mode&fmq.O_OPEN_ONLY != 0 {
			return 0, errors.New("incompatible open flags")
		}
		return os.O_CREATE | os.O_EXCL, nil
	}
	if mode&fmq.O_OPEN_ONLY != 0 {
		return 0, nil
	}
	return 0, errors.New("no create mode flags")
}

// OpenModeToOsMode combines CreateModeToOsMode and AccessModeToOsMode.
func OpenModeToOsMode(mode int) (int, error) {
	var err error
	var createMode, accessMode int
	if createMode, err = CreateModeToOsMode(mode); err != nil {
		return 0, err
	}
	if accessMode, err = AccessModeToOsMode(mode); err != nil {
		return 0, err
	}
	return createMode | accessMode, nil
}

// IsReadOnly returns true, if mode does not allow any modifications.
func IsReadOnly(mode int) bool {
	return mode&fmq.O_READ_ONLY != 0
}
