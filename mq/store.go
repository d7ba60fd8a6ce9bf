// Copyright 2016 Aleksandr Demakin. All rights reserved.

package mq

import (
	"os"
	"time"

	"github.com/nxgtw/go-fmq/internal/array"
	"github.com/nxgtw/go-fmq/internal/helper"
	"github.com/nxgtw/go-fmq/internal/qfile"
	"github.com/nxgtw/go-fmq/mmf"

	"github.com/pkg/errors"
)

// store is the status record and the slot table, kept in the memory-mapped status file.
// All methods must be called with the queue lock held.
type store struct {
	file     *qfile.File
	region   *mmf.Region
	records  *array.RecordArray
	nslots   int
	bufSize  int64
	readOnly bool
}

// peekStatus reads the status record of an existing status file without mapping it.
func peekStatus(path string) (Status, int64, error) {
	f, err := qfile.Open(path, os.O_RDONLY, 0)
	if err != nil {
		return Status{}, 0, err
	}
	defer f.Close()
	size := f.Size()
	if size < statusSize {
		return Status{}, size, errors.Wrapf(errIncomplete, "status file is %d bytes", size)
	}
	var hdr [statusSize]byte
	if _, err = f.ReadAt(hdr[:], 0); err != nil {
		return Status{}, size, errors.Wrap(err, "failed to read status record")
	}
	st, err := decodeStatus(hdr[:])
	return st, size, err
}

// errIncomplete means queue files were not fully created.
var errIncomplete = errors.New("queue files are incomplete")

// openStore maps the status file.
// If size > 0, the file is resized to size bytes first, otherwise the whole file is mapped.
func openStore(path string, flag int, perm os.FileMode, size int64, readOnly bool) (*store, error) {
	file, region, _, err := helper.CreateMappedFile(path, flag, perm, size, !readOnly)
	if err != nil {
		return nil, err
	}
	records, err := array.NewRecordArray(region.Data(), statusSize, slotSize)
	if err != nil {
		region.Close()
		file.Close()
		return nil, errors.Wrap(err, "invalid status file size")
	}
	return &store{
		file:     file,
		region:   region,
		records:  records,
		nslots:   records.Cap(),
		readOnly: readOnly,
	}, nil
}

func (s *store) close() error {
	errRegion := s.region.Close()
	errFile := s.file.Close()
	if errRegion != nil {
		return errors.Wrap(errRegion, "failed to unmap status file")
	}
	return errors.Wrap(errFile, "failed to close status file")
}

// checkSize verifies, that the file was not shrunk or grown by another process.
// Accessing a mapping beyond the end of a truncated file kills the process, so
// this must be done before any access to the mapped data.
func (s *store) checkSize() error {
	fi, err := s.file.Stat()
	if err != nil {
		return errors.Wrap(err, "failed to stat status file")
	}
	if want := statusFileSize(s.nslots); fi.Size() != want {
		return newError(KindResized, "", errors.Errorf("status file size changed: %d, expected %d", fi.Size(), want))
	}
	return nil
}

// readStatus loads and validates the status record.
func (s *store) readStatus() (Status, error) {
	st, err := decodeStatus(s.records.Header())
	if err != nil {
		return st, newError(KindCorrupt, "", err)
	}
	if st.NSlots != s.nslots || st.BufSize != s.bufSize {
		return st, newError(KindResized, "", errors.Errorf("queue geometry changed: nslots %d, buf_size %d, expected %d and %d",
			st.NSlots, st.BufSize, s.nslots, s.bufSize))
	}
	if err = checkInvariants(&st); err != nil {
		return st, err
	}
	return st, nil
}

// writeStatus stamps the write time and persists the status.
func (s *store) writeStatus(st *Status) {
	st.TimeWritten = time.Now()
	encodeStatus(s.records.Header(), st)
}

func (s *store) readSlot(i int) (Slot, error) {
	if !s.records.InRange(i) {
		return Slot{}, corruptf("", "slot index %d is out of range [0, %d)", i, s.nslots)
	}
	slot, err := decodeSlot(s.records.At(i))
	if err != nil {
		return slot, newError(KindCorrupt, "", errors.Wrapf(err, "slot %d", i))
	}
	return slot, nil
}

func (s *store) writeSlot(i int, slot *Slot) error {
	if !s.records.InRange(i) {
		return corruptf("", "slot index %d is out of range [0, %d)", i, s.nslots)
	}
	encodeSlot(s.records.At(i), slot)
	return nil
}

func (s *store) clearSlot(i int) error {
	return s.writeSlot(i, &Slot{})
}

// init writes an empty status and clears all slots.
func (s *store) init(st *Status) {
	var empty Slot
	for i := 0; i < s.nslots; i++ {
		encodeSlot(s.records.At(i), &empty)
	}
	s.writeStatus(st)
}

// flush writes mapped data to the file.
func (s *store) flush() error {
	return errors.Wrap(s.region.Flush(false), "failed to flush status file")
}
