// Copyright 2016 Aleksandr Demakin. All rights reserved.

package helper

import (
	"os"

	"github.com/nxgtw/go-fmq/internal/qfile"
	"github.com/nxgtw/go-fmq/mmf"

	"github.com/pkg/errors"
)

// CreateMappedFile is a helper, which:
//   - opens or creates a file with given parameters.
//   - if size > 0, resizes the file to exactly size bytes.
//   - maps the entire file, for writing, if writable is true.
//
// It returns the file, its mapping and a flag whether the file was created.
// On failure everything opened here is closed, a created file is removed.
func CreateMappedFile(path string, flag int, perm os.FileMode, size int64, writable bool) (*qfile.File, *mmf.Region, bool, error) {
	_, statErr := os.Stat(path)
	created := os.IsNotExist(statErr) && flag&os.O_CREATE != 0
	file, resultErr := qfile.Open(path, flag, perm)
	if resultErr != nil {
		return nil, nil, false, errors.Wrapf(resultErr, "failed to open %s", path)
	}
	var region *mmf.Region
	defer func() {
		if resultErr == nil {
			return
		}
		if region != nil {
			region.Close()
		}
		if created {
			file.Destroy()
		} else {
			file.Close()
		}
	}()
	if size > 0 && file.Size() != size {
		if resultErr = file.Truncate(size); resultErr != nil {
			return nil, nil, false, errors.Wrapf(resultErr, "failed to resize %s", path)
		}
	}
	if region, resultErr = mmf.Map(file, writable); resultErr != nil {
		return nil, nil, false, errors.Wrapf(resultErr, "failed to map %s", path)
	}
	return file, region, created, nil
}
