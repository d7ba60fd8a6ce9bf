// Copyright 2016 Aleksandr Demakin. All rights reserved.

package mq

import (
	"github.com/nxgtw/go-fmq/internal/array"
)

// SeekStart moves the reader to the oldest message in the queue.
func (q *Queue) SeekStart() error {
	return q.seek(PositionStart)
}

// SeekEnd moves the reader past the youngest message, so that only new messages are read.
func (q *Queue) SeekEnd() error {
	return q.seek(PositionEnd)
}

// SeekLast moves the reader to the youngest message, so that it is read next.
func (q *Queue) SeekLast() error {
	return q.seek(PositionLast)
}

// SeekNext moves the reader after the message, which was read last from the queue.
// Read-only handles do not update that position.
func (q *Queue) SeekNext() error {
	return q.seek(PositionNext)
}

// SeekBack moves the reader one message back, so that the last read message is read again.
// If that message was overwritten, the reader moves to the start.
func (q *Queue) SeekBack() error {
	return q.do("seek", func() error {
		return q.withStatus(func(st *Status) error {
			if q.cur.slot < 0 || q.cur.id == 0 || st.Empty() {
				return nil
			}
			slot, err := q.store.readSlot(q.cur.slot)
			if err != nil {
				return err
			}
			if !slot.Active || slot.ID != q.cur.id {
				return q.seekLocked(st, PositionStart)
			}
			q.cur = cursor{id: prevID(slot.ID), slot: array.Prev(q.cur.slot, st.NSlots)}
			return nil
		})
	})
}

func (q *Queue) seek(pos Position) error {
	return q.do("seek", func() error {
		return q.withStatus(func(st *Status) error {
			return q.seekLocked(st, pos)
		})
	})
}

// seekLocked sets the cursor. The cursor points to the message preceding the next one to read.
func (q *Queue) seekLocked(st *Status, pos Position) error {
	end := cursor{id: st.YoungestID, slot: st.YoungestSlot}
	if st.Empty() {
		q.cur = end
		return nil
	}
	switch pos {
	case PositionEnd:
		q.cur = end
	case PositionLast:
		q.cur = cursor{id: prevID(st.YoungestID), slot: array.Prev(st.YoungestSlot, st.NSlots)}
	case PositionNext:
		if st.LastIDRead == 0 {
			return q.seekLocked(st, PositionStart)
		}
		behind := idDiff(st.YoungestID, st.LastIDRead)
		if behind < 0 {
			return q.seekLocked(st, PositionStart)
		}
		// ids and slots advance together, so the slot of any id is known.
		slot := (st.YoungestSlot - int(behind%int64(st.NSlots)) + st.NSlots) % st.NSlots
		q.cur = cursor{id: st.LastIDRead, slot: slot}
	default:
		oldest, err := q.store.readSlot(st.OldestSlot)
		if err != nil {
			return err
		}
		if !oldest.Active {
			return corruptf("", "oldest slot %d is not active", st.OldestSlot)
		}
		q.cur = cursor{id: prevID(oldest.ID), slot: array.Prev(st.OldestSlot, st.NSlots)}
	}
	return nil
}
