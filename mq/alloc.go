// Copyright 2016 Aleksandr Demakin. All rights reserved.

package mq

import (
	"fmt"

	"github.com/nxgtw/go-fmq/internal/array"

	"github.com/pkg/errors"
)

// slotTable gives the allocator access to slots.
type slotTable interface {
	readSlot(i int) (Slot, error)
	clearSlot(i int) error
}

// releaseFunc is called for every slot the allocator is about to free.
// Returning an error stops the allocation.
type releaseFunc func(idx int, slot *Slot) error

// allocator places messages into the circular buffer.
// The buffer consists of two writable zones. While in append mode, messages are written at
// begin_append, growing the tail. When the tail is exhausted, the allocator switches to
// insert mode and writes at begin_insert, reclaiming space freed at the head.
// When all messages above the insert zone are freed, both zones are merged again.
//
// The allocator works on a Status value only. Slots are cleared through the table,
// so a dry run is possible with a table, which does not clear anything.
type allocator struct {
	st      *Status
	slots   slotTable
	release releaseFunc
}

// allocate reserves space for an entry of need bytes.
// It returns the slot index and the offset for the entry and updates the status,
// as if the message had been written.
func (a *allocator) allocate(need int64) (int, int64, error) {
	st := a.st
	if need > st.BufSize {
		return 0, 0, newError(KindConfig, "", errors.Wrapf(ErrMsgTooLarge, "%d bytes needed, buffer size is %d", need, st.BufSize))
	}
	writeSlot := array.Next(st.YoungestSlot, st.NSlots)
	// the slot table wrapped around before the buffer did.
	if writeSlot == st.OldestSlot {
		if err := a.freeOldest(); err != nil {
			return 0, 0, err
		}
	}
	for {
		offset, ok := a.spaceAvail(need)
		if ok {
			st.YoungestSlot = writeSlot
			if st.OldestSlot < 0 {
				st.OldestSlot = writeSlot
			}
			st.YoungestID = nextID(st.YoungestID)
			return writeSlot, offset, nil
		}
		if st.Empty() {
			return 0, 0, corruptf("", "no space for %d bytes in an empty queue: %s", need, regionsString(st))
		}
		if err := a.freeOldest(); err != nil {
			return 0, 0, err
		}
	}
}

// spaceAvail checks, if an entry of need bytes fits into the current write zone,
// switching to insert mode, if the append zone is exhausted.
// On success it reserves the space and returns its offset.
func (a *allocator) spaceAvail(need int64) (int64, bool) {
	st := a.st
	if st.AppendMode {
		if st.BufSize-st.BeginAppend >= need {
			offset := st.BeginAppend
			st.BeginAppend += need
			return offset, true
		}
		st.AppendMode = false
		st.BeginInsert = 0
	}
	if st.EndInsert-st.BeginInsert >= need {
		offset := st.BeginInsert
		st.BeginInsert += need
		return offset, true
	}
	return 0, false
}

// freeOldest releases the oldest slot, returning its space to the insert zone.
func (a *allocator) freeOldest() error {
	st := a.st
	if st.Empty() {
		return corruptf("", "free of the oldest slot in an empty queue")
	}
	idx := st.OldestSlot
	slot, err := a.slots.readSlot(idx)
	if err != nil {
		return err
	}
	if !slot.Active {
		return corruptf("", "oldest slot %d is not active", idx)
	}
	if slot.Offset != st.EndInsert {
		return corruptf("", "oldest slot %d (id %d) offset %d does not match end of insert zone %d",
			idx, slot.ID, slot.Offset, st.EndInsert)
	}
	if slot.StoredLen <= 0 || st.EndInsert+slot.StoredLen > st.BeginAppend {
		return corruptf("", "oldest slot %d (id %d) length %d overruns the used zone: %s",
			idx, slot.ID, slot.StoredLen, regionsString(st))
	}
	if a.release != nil {
		if err = a.release(idx, &slot); err != nil {
			return err
		}
	}
	if err = a.slots.clearSlot(idx); err != nil {
		return err
	}
	st.EndInsert += slot.StoredLen
	if idx == st.YoungestSlot {
		st.OldestSlot = -1
	} else {
		st.OldestSlot = array.Next(idx, st.NSlots)
	}
	if st.EndInsert == st.BeginAppend {
		// merge the insert and the append zones.
		st.BeginAppend = st.BeginInsert
		st.BeginInsert, st.EndInsert = 0, 0
		st.AppendMode = true
	}
	return nil
}

// checkInvariants validates pointers of the status record.
func checkInvariants(st *Status) error {
	if st.NSlots <= 0 || st.BufSize < MinBufSize {
		return corruptf("", "invalid geometry: nslots %d, buf_size %d", st.NSlots, st.BufSize)
	}
	if !(0 <= st.BeginInsert && st.BeginInsert <= st.EndInsert && st.EndInsert <= st.BeginAppend && st.BeginAppend <= st.BufSize) {
		return corruptf("", "zone pointers are out of order: %s", regionsString(st))
	}
	if st.AppendMode && st.BeginInsert != 0 {
		return corruptf("", "append mode with non-empty insert zone: %s", regionsString(st))
	}
	if st.YoungestSlot < -1 || st.YoungestSlot >= st.NSlots || st.OldestSlot < -1 || st.OldestSlot >= st.NSlots {
		return corruptf("", "slot pointers are out of range: youngest %d, oldest %d, nslots %d",
			st.YoungestSlot, st.OldestSlot, st.NSlots)
	}
	if st.Empty() && (st.BeginAppend != 0 || st.EndInsert != 0) {
		return corruptf("", "empty queue with used space: %s", regionsString(st))
	}
	if !st.Empty() && st.YoungestSlot < 0 {
		return corruptf("", "oldest slot %d is set without the youngest", st.OldestSlot)
	}
	if st.YoungestID < 0 || st.YoungestID > MaxID || st.LastIDRead < 0 || st.LastIDRead > MaxID {
		return corruptf("", "ids are out of range: youngest %d, last read %d", st.YoungestID, st.LastIDRead)
	}
	return nil
}

func regionsString(st *Status) string {
	return fmt.Sprintf("append_mode=%v begin_insert=%d end_insert=%d begin_append=%d buf_size=%d",
		st.AppendMode, st.BeginInsert, st.EndInsert, st.BeginAppend, st.BufSize)
}

// liveCount returns the number of messages between the oldest and the youngest slots.
func liveCount(st *Status) int {
	if st.Empty() {
		return 0
	}
	if st.YoungestSlot >= st.OldestSlot {
		return st.YoungestSlot - st.OldestSlot + 1
	}
	return st.NSlots - st.OldestSlot + st.YoungestSlot + 1
}

// usedBytes returns the number of buffer bytes occupied by messages.
func usedBytes(st *Status) int64 {
	if st.Empty() {
		return 0
	}
	return st.BeginInsert + st.BeginAppend - st.EndInsert
}

// errWouldOverwrite stops an allocation, which reached an unread message.
var errWouldOverwrite = errors.New("write would overwrite an unread message")

// protectUnread returns a releaseFunc, which stops the allocation
// before any message newer than lastRead is freed.
func protectUnread(lastRead int64) releaseFunc {
	return func(idx int, slot *Slot) error {
		if lastRead == 0 || idDiff(slot.ID, lastRead) > 0 {
			return errWouldOverwrite
		}
		return nil
	}
}
