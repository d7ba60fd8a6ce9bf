// Copyright 2016 Aleksandr Demakin. All rights reserved.

package mq

import (
	"os"

	"github.com/nxgtw/go-fmq/internal/qfile"

	"github.com/pkg/errors"
)

// buffer is the circular buffer file. It holds framed entries only:
//
//	magic u32 | slot index u32 | payload, zero-padded to 4 bytes | id u32
type buffer struct {
	file *qfile.File
	size int64
}

func openBuffer(path string, flag int, perm os.FileMode, size int64, resize bool) (*buffer, error) {
	file, err := qfile.Open(path, flag, perm)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	if resize && file.Size() != size {
		if err = file.Truncate(size); err != nil {
			file.Close()
			return nil, errors.Wrapf(err, "failed to resize %s", path)
		}
	}
	return &buffer{file: file, size: size}, nil
}

func (b *buffer) close() error {
	return errors.Wrap(b.file.Close(), "failed to close buffer file")
}

func (b *buffer) sync() error {
	return errors.Wrap(b.file.Sync(), "failed to sync buffer file")
}

func (b *buffer) checkSize() error {
	fi, err := b.file.Stat()
	if err != nil {
		return errors.Wrap(err, "failed to stat buffer file")
	}
	if fi.Size() != b.size {
		return newError(KindResized, "", errors.Errorf("buffer file size changed: %d, expected %d", fi.Size(), b.size))
	}
	return nil
}

// frame builds a buffer entry for the payload in scratch, reallocating it if needed.
func frame(scratch []byte, slotIdx int, id int64, payload []byte) []byte {
	total := int(storedLen(int64(len(payload))))
	if cap(scratch) < total {
		scratch = make([]byte, total)
	}
	entry := scratch[:total]
	be.PutUint32(entry[0:], bufMagic)
	be.PutUint32(entry[4:], uint32(slotIdx))
	n := copy(entry[entryHdrSize:], payload)
	for i := entryHdrSize + n; i < total-entryTrailerSize; i++ {
		entry[i] = 0
	}
	be.PutUint32(entry[total-entryTrailerSize:], uint32(id))
	return entry
}

// writeEntry writes a framed entry at off.
func (b *buffer) writeEntry(off int64, entry []byte) error {
	if off < 0 || off+int64(len(entry)) > b.size {
		return corruptf("", "entry [%d, %d) is out of buffer bounds %d", off, off+int64(len(entry)), b.size)
	}
	_, err := b.file.WriteAt(entry, off)
	return err
}

// readEntry reads the entry of the slot into scratch and validates its framing.
// It returns the stored payload, which is a subslice of the returned scratch.
func (b *buffer) readEntry(scratch []byte, slotIdx int, slot *Slot) (payload, newScratch []byte, err error) {
	if err = b.checkSlotBounds(slot); err != nil {
		return nil, scratch, err
	}
	if cap(scratch) < int(slot.StoredLen) {
		scratch = make([]byte, slot.StoredLen)
	}
	entry := scratch[:slot.StoredLen]
	if _, err = b.file.ReadAt(entry, slot.Offset); err != nil {
		return nil, scratch, err
	}
	if err = validateEntry(entry, slotIdx, slot); err != nil {
		return nil, scratch, err
	}
	return entry[entryHdrSize : entryHdrSize+slot.DataLen], scratch, nil
}

func (b *buffer) checkSlotBounds(slot *Slot) error {
	if slot.StoredLen != storedLen(slot.DataLen) || slot.DataLen < 0 {
		return corruptf("", "slot %d: stored length %d does not match data length %d", slot.ID, slot.StoredLen, slot.DataLen)
	}
	if slot.Offset < 0 || slot.Offset+slot.StoredLen > b.size {
		return corruptf("", "slot %d: entry [%d, %d) is out of buffer bounds %d", slot.ID, slot.Offset, slot.Offset+slot.StoredLen, b.size)
	}
	return nil
}

func validateEntry(entry []byte, slotIdx int, slot *Slot) error {
	if magic := be.Uint32(entry[0:]); magic != bufMagic {
		return corruptf("", "message %d at %d: bad magic 0x%08x", slot.ID, slot.Offset, magic)
	}
	if idx := be.Uint32(entry[4:]); idx != uint32(slotIdx) {
		return corruptf("", "message %d at %d: slot index %d, expected %d", slot.ID, slot.Offset, idx, slotIdx)
	}
	if id := be.Uint32(entry[len(entry)-entryTrailerSize:]); id != uint32(slot.ID) {
		return corruptf("", "message %d at %d: trailing id %d does not match", slot.ID, slot.Offset, id)
	}
	return nil
}
