// Copyright 2016 Aleksandr Demakin. All rights reserved.

package mq

import (
	"github.com/nxgtw/go-fmq/internal/array"
)

// SlotInfo is a live slot with its index.
type SlotInfo struct {
	Index int
	Slot
}

// Stat returns the current status of the queue. It does not change reader's position.
func (q *Queue) Stat() (Status, error) {
	var st Status
	err := q.do("stat", func() error {
		var err error
		st, err = q.rawStatus()
		return err
	})
	return st, err
}

// Slots returns all live slots from the oldest to the youngest.
// It does not change reader's position.
func (q *Queue) Slots() ([]SlotInfo, error) {
	var result []SlotInfo
	err := q.do("stat", func() error {
		st, err := q.rawStatus()
		if err != nil {
			return err
		}
		result = make([]SlotInfo, 0, liveCount(&st))
		for i, idx := 0, st.OldestSlot; i < liveCount(&st); i, idx = i+1, array.Next(idx, st.NSlots) {
			slot, err := q.store.readSlot(idx)
			if err != nil {
				return err
			}
			result = append(result, SlotInfo{Index: idx, Slot: slot})
		}
		return nil
	})
	return result, err
}

// Check validates the whole queue: the status, all slots, and framing of all buffer entries.
// It returns a KindCorrupt error describing the first inconsistency found.
func (q *Queue) Check() error {
	return q.do("check", func() error {
		st, err := q.rawStatus()
		if err != nil {
			return err
		}
		return q.checkLocked(&st)
	})
}

func (q *Queue) checkLocked(st *Status) error {
	return checkLayout(st, q.store, func(idx int, slot *Slot) error {
		var err error
		_, q.scratch, err = q.buf.readEntry(q.scratch, idx, slot)
		return err
	})
}

// checkLayout validates placement of live messages and the state of all slots.
// visit, if not nil, is called for every live slot.
func checkLayout(st *Status, slots slotTable, visit func(idx int, slot *Slot) error) error {
	if err := checkInvariants(st); err != nil {
		return err
	}
	if st.Empty() && (st.BeginInsert != 0 || !st.AppendMode) {
		return corruptf("", "empty queue is not in append mode: %s", regionsString(st))
	}
	// live messages occupy [end_insert, begin_append) and then, in insert mode, [0, begin_insert).
	live := liveCount(st)
	offset := st.EndInsert
	wrapped := false
	var prev *Slot
	for i, idx := 0, st.OldestSlot; i < live; i, idx = i+1, array.Next(idx, st.NSlots) {
		slot, err := slots.readSlot(idx)
		if err != nil {
			return err
		}
		if !slot.Active {
			return corruptf("", "live slot %d is not active", idx)
		}
		if prev != nil && slot.ID != nextID(prev.ID) {
			return corruptf("", "slot %d: id %d does not follow %d", idx, slot.ID, prev.ID)
		}
		if !wrapped && !st.AppendMode && offset == st.BeginAppend {
			offset, wrapped = 0, true
		}
		if slot.Offset != offset {
			return corruptf("", "slot %d (id %d): offset %d, expected %d", idx, slot.ID, slot.Offset, offset)
		}
		if slot.StoredLen != storedLen(slot.DataLen) {
			return corruptf("", "slot %d (id %d): stored length %d does not match data length %d", idx, slot.ID, slot.StoredLen, slot.DataLen)
		}
		if visit != nil {
			if err = visit(idx, &slot); err != nil {
				return err
			}
		}
		offset += slot.StoredLen
		prev = &slot
	}
	if prev != nil {
		if prev.ID != st.YoungestID {
			return corruptf("", "youngest message id %d does not match status %d", prev.ID, st.YoungestID)
		}
		want := st.BeginAppend
		if !st.AppendMode {
			want = st.BeginInsert
			if !wrapped {
				return corruptf("", "insert mode without messages in the insert zone: %s", regionsString(st))
			}
		}
		if offset != want {
			return corruptf("", "messages end at %d, expected %d: %s", offset, want, regionsString(st))
		}
	}
	for i, idx := live, array.Next(st.YoungestSlot, st.NSlots); i < st.NSlots; i, idx = i+1, array.Next(idx, st.NSlots) {
		slot, err := slots.readSlot(idx)
		if err != nil {
			return err
		}
		if slot.Active {
			return corruptf("", "slot %d (id %d) is active, but is not between the oldest and the youngest", idx, slot.ID)
		}
	}
	return nil
}
