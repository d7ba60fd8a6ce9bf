// Copyright 2016 Aleksandr Demakin. All rights reserved.

package mq

import (
	"context"
	"time"

	fmq "github.com/nxgtw/go-fmq"
	"github.com/nxgtw/go-fmq/codec"
	"github.com/nxgtw/go-fmq/internal/array"

	"github.com/pkg/errors"
)

// AnyType makes ReadMsg accept messages of any type.
const AnyType int32 = -1

// ErrEmpty is returned by Receive, when there are no messages and the queue is nonblocking.
var ErrEmpty = errors.New("the queue is empty")

// Message is a message read from a queue.
type Message struct {
	ID      int64
	Type    int32
	Subtype int32
	Time    time.Time
	// Data is the uncompressed payload. It is owned by the caller.
	Data []byte
	// Compression is the method, the message was stored with.
	Compression codec.Method
	// Skipped is the number of messages, which were overwritten before the reader got them.
	Skipped int64
}

// Read reads the next message of any type.
// It returns nil message and nil error, if there are no new messages.
// If Options.Blocking is set, it waits for a message instead.
func (q *Queue) Read() (*Message, error) {
	return q.read(AnyType)
}

// ReadMsg reads the next message of the given type, skipping messages of other types.
// The message is available through Msg* accessors. It returns false, if there are no
// messages of the type. If Options.Blocking is set, it waits for a message instead.
func (q *Queue) ReadMsg(typ int32) (bool, error) {
	msg, err := q.read(typ)
	return msg != nil, err
}

func (q *Queue) read(typ int32) (*Message, error) {
	if q.opts.Blocking {
		return q.ReadBlocking(context.Background(), typ)
	}
	return q.readOnce(typ, -1)
}

// ReadBlocking waits for the next message of the given type, until ctx is done.
// With O_NONBLOCK it does not wait and returns nil message, if there are no messages.
func (q *Queue) ReadBlocking(ctx context.Context, typ int32) (*Message, error) {
	return q.readBlocking(ctx, typ, -1)
}

// readBlocking waits for a message. If maxLen >= 0, longer messages are left unread.
func (q *Queue) readBlocking(ctx context.Context, typ int32, maxLen int) (*Message, error) {
	const op = "read"
	for attempt := 0; ; attempt++ {
		msg, err := q.readOnce(typ, maxLen)
		if err != nil || msg != nil || q.flag&fmq.O_NONBLOCK != 0 {
			return msg, err
		}
		if attempt == 0 {
			q.log.Debug("reader is waiting for messages", "type", typ)
		}
		if err = q.wait(ctx, op, attempt); err != nil {
			return nil, err
		}
	}
}

// Receive waits for the next message and copies it into data.
// If data is too short, ErrShortBuffer is returned and the message stays in the queue.
func (q *Queue) Receive(data []byte) (int, error) {
	return q.receive(context.Background(), data)
}

// ReceiveTimeout waits for the next message for not longer, than the timeout, and copies it into data.
func (q *Queue) ReceiveTimeout(data []byte, timeout time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return q.receive(ctx, data)
}

func (q *Queue) receive(ctx context.Context, data []byte) (int, error) {
	msg, err := q.readBlocking(ctx, AnyType, len(data))
	if err != nil {
		return 0, err
	}
	if msg == nil {
		return 0, ErrEmpty
	}
	return copy(data, msg.Data), nil
}

func (q *Queue) readOnce(typ int32, maxLen int) (*Message, error) {
	var msg *Message
	err := q.do("read", func() error {
		return q.withStatus(func(st *Status) error {
			var err error
			msg, err = q.readLocked(st, typ, maxLen)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	if msg != nil {
		q.mu.Lock()
		q.last = msg
		q.mu.Unlock()
		q.counters.msgsRead.Add(1)
		q.counters.bytesRead.Add(uint64(len(msg.Data)))
	}
	return msg, nil
}

// readLocked returns the next message of the type, or nil, if the reader caught up with the writer.
// A message longer than maxLen, if maxLen >= 0, stays unread.
func (q *Queue) readLocked(st *Status, typ int32, maxLen int) (*Message, error) {
	lastRead := st.LastIDRead
	defer func() {
		if !q.readOnly && st.LastIDRead != lastRead {
			q.store.writeStatus(st)
		}
	}()
	var skipped int64
	for {
		idx, slot, gap, err := q.nextSlot(st)
		if err != nil || idx < 0 {
			return nil, err
		}
		skipped += gap
		if typ != AnyType && slot.Type != typ {
			q.advance(st, idx, &slot)
			continue
		}
		msg, err := q.load(idx, &slot)
		if err != nil {
			if IsKind(err, KindPayload) {
				q.log.Warn("skipping a message, which cannot be decoded", "id", slot.ID, "error", err)
				q.advance(st, idx, &slot)
			}
			return nil, err
		}
		if maxLen >= 0 && len(msg.Data) > maxLen {
			return nil, newError(KindConfig, "", errors.Wrapf(ErrShortBuffer, "message is %d bytes", len(msg.Data)))
		}
		msg.Skipped = skipped
		q.advance(st, idx, &slot)
		return msg, nil
	}
}

func (q *Queue) advance(st *Status, idx int, slot *Slot) {
	q.cur = cursor{id: slot.ID, slot: idx}
	st.LastIDRead = slot.ID
}

// nextSlot finds the slot following the cursor. It returns -1, if there are no new messages.
// If the expected message was overwritten, the oldest message is returned along with
// the number of lost messages.
func (q *Queue) nextSlot(st *Status) (int, Slot, int64, error) {
	if st.Empty() {
		q.cur = cursor{id: st.YoungestID, slot: st.YoungestSlot}
		return -1, Slot{}, 0, nil
	}
	if q.cur.id == st.YoungestID {
		return -1, Slot{}, 0, nil
	}
	expected := nextID(q.cur.id)
	behind := idDiff(st.YoungestID, q.cur.id) > 0
	if behind {
		idx := array.Next(q.cur.slot, st.NSlots)
		slot, err := q.store.readSlot(idx)
		if err != nil {
			return -1, Slot{}, 0, err
		}
		if slot.Active && slot.ID == expected {
			return idx, slot, 0, nil
		}
	} else {
		q.log.Warn("reader is ahead of the writer, reading from the start", "cursor", q.cur.id, "youngest_id", st.YoungestID)
	}
	idx := st.OldestSlot
	slot, err := q.store.readSlot(idx)
	if err != nil {
		return -1, Slot{}, 0, err
	}
	if !slot.Active {
		return -1, Slot{}, 0, corruptf("", "oldest slot %d is not active", idx)
	}
	if !behind {
		return idx, slot, 0, nil
	}
	skipped := idDiff(slot.ID, expected)
	if skipped <= 0 {
		return -1, Slot{}, 0, corruptf("", "message %d is not found in slot %d, oldest message is %d", expected, array.Next(q.cur.slot, st.NSlots), slot.ID)
	}
	q.counters.skipped.Add(uint64(skipped))
	q.log.Debug("messages were overwritten before being read", "from", expected, "count", skipped)
	return idx, slot, skipped, nil
}

// load reads the message of the slot from the buffer.
func (q *Queue) load(idx int, slot *Slot) (*Message, error) {
	payload, scratch, err := q.buf.readEntry(q.scratch, idx, slot)
	q.scratch = scratch
	if err != nil {
		return nil, err
	}
	msg := &Message{
		ID:          slot.ID,
		Type:        slot.Type,
		Subtype:     slot.Subtype,
		Time:        slot.Time,
		Compression: slot.Compress,
	}
	if slot.Compress == codec.None {
		if slot.MsgLen != slot.DataLen {
			return nil, corruptf("", "message %d: length %d does not match stored length %d", slot.ID, slot.MsgLen, slot.DataLen)
		}
		msg.Data = append(make([]byte, 0, len(payload)), payload...)
		return msg, nil
	}
	c, err := q.codecs.Get(slot.Compress)
	if err != nil {
		return nil, corruptf("", "message %d: %v", slot.ID, err)
	}
	if msg.Data, err = c.Decode(nil, payload, int(slot.MsgLen)); err != nil {
		return nil, newError(KindPayload, "", errors.Wrapf(ErrBadPayload, "message %d: %v", slot.ID, err))
	}
	return msg, nil
}

// Msg returns the payload of the last read message.
func (q *Queue) Msg() []byte {
	if last := q.lastMsg(); last != nil {
		return last.Data
	}
	return nil
}

// MsgLen returns the uncompressed length of the last read message.
func (q *Queue) MsgLen() int {
	return len(q.Msg())
}

// MsgID returns the id of the last read message.
func (q *Queue) MsgID() int64 {
	if last := q.lastMsg(); last != nil {
		return last.ID
	}
	return 0
}

// MsgType returns the type of the last read message.
func (q *Queue) MsgType() int32 {
	if last := q.lastMsg(); last != nil {
		return last.Type
	}
	return 0
}

// MsgSubtype returns the subtype of the last read message.
func (q *Queue) MsgSubtype() int32 {
	if last := q.lastMsg(); last != nil {
		return last.Subtype
	}
	return 0
}

// MsgTime returns the write time of the last read message.
func (q *Queue) MsgTime() time.Time {
	if last := q.lastMsg(); last != nil {
		return last.Time
	}
	return time.Time{}
}

func (q *Queue) lastMsg() *Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.last
}
