// Copyright 2016 Aleksandr Demakin. All rights reserved.

package mq

import (
	"context"
	"time"

	fmq "github.com/nxgtw/go-fmq"
	"github.com/nxgtw/go-fmq/codec"

	"github.com/pkg/errors"
)

// WriteRequest is a message to write.
type WriteRequest struct {
	Type    int32
	Subtype int32
	Data    []byte
	// PreCompressed is the method Data was compressed with by the caller.
	// Such data is stored as is.
	PreCompressed codec.Method
	// RawLen is the uncompressed length of pre-compressed data.
	RawLen int
}

// Write writes a message with zero type and subtype.
func (q *Queue) Write(data []byte) error {
	return q.WriteCtx(context.Background(), WriteRequest{Data: data})
}

// WriteMsg writes a message with the given type and subtype.
func (q *Queue) WriteMsg(typ, subtype int32, data []byte) error {
	return q.WriteCtx(context.Background(), WriteRequest{Type: typ, Subtype: subtype, Data: data})
}

// Send writes a message. It blocks, if the queue is in blocking write mode and the reader lags behind.
func (q *Queue) Send(data []byte) error {
	return q.Write(data)
}

// SendTimeout writes a message waiting for not longer, than the timeout.
func (q *Queue) SendTimeout(data []byte, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return q.WriteCtx(ctx, WriteRequest{Data: data})
}

// WriteCtx writes a message.
// If the queue is in blocking write mode, and the message would overwrite messages, which were
// not read yet, the call waits, until the reader catches up, or ctx is done.
// With O_NONBLOCK it returns ErrNoSpace instead of waiting.
func (q *Queue) WriteCtx(ctx context.Context, req WriteRequest) error {
	const op = "write"
	if q.readOnly {
		return newError(KindConfig, op, errors.New("the queue is opened read-only"))
	}
	payload, method, msgLen, err := q.encode(&req)
	if err != nil {
		return newError(KindConfig, op, err)
	}
	need := storedLen(int64(len(payload)))
	if need > q.buf.size {
		return newError(KindConfig, op, errors.Wrapf(ErrMsgTooLarge, "%d bytes needed, buffer size is %d", need, q.buf.size))
	}
	slot := Slot{
		Active:    true,
		Compress:  method,
		MsgLen:    int64(msgLen),
		DataLen:   int64(len(payload)),
		StoredLen: need,
		Type:      req.Type,
		Subtype:   req.Subtype,
	}
	for attempt := 0; ; attempt++ {
		var blocked bool
		err = q.do(op, func() error {
			return q.withStatus(func(st *Status) error {
				var err error
				blocked, err = q.writeLocked(st, &slot, payload)
				return err
			})
		})
		if err != nil {
			return err
		}
		if !blocked {
			q.counters.msgsWritten.Add(1)
			q.counters.bytesWritten.Add(uint64(msgLen))
			return nil
		}
		if q.flag&fmq.O_NONBLOCK != 0 {
			return newError(KindNoSpace, op, ErrNoSpace)
		}
		if attempt == 0 {
			q.counters.blockedWrites.Add(1)
			q.log.Debug("writer is waiting for the reader", "need", need)
		}
		if err = q.wait(ctx, op, attempt); err != nil {
			return err
		}
	}
}

// writeLocked places the message into the queue. It returns true, if the write
// must wait, because it would overwrite unread messages.
func (q *Queue) writeLocked(st *Status, slot *Slot, payload []byte) (bool, error) {
	next := *st
	table := &deferredTable{slotTable: q.store}
	a := allocator{st: &next, slots: table}
	if q.opts.BlockingWrite {
		a.release = protectUnread(st.LastIDRead)
	}
	idx, offset, err := a.allocate(slot.StoredLen)
	if err == errWouldOverwrite {
		if !st.BlockingWrite {
			st.BlockingWrite = true
			q.store.writeStatus(st)
		}
		return true, nil
	}
	if err != nil {
		return false, err
	}
	for _, freed := range table.freed {
		if err = q.store.clearSlot(freed); err != nil {
			return false, err
		}
	}
	slot.ID = next.YoungestID
	slot.Offset = offset
	slot.Time = time.Now()
	q.scratch = frame(q.scratch, idx, slot.ID, payload)
	if err = q.buf.writeEntry(offset, q.scratch); err != nil {
		return false, err
	}
	if err = q.store.writeSlot(idx, slot); err != nil {
		return false, err
	}
	next.BlockingWrite = false
	q.store.writeStatus(&next)
	*st = next
	return false, nil
}

// encode compresses the payload, if needed.
func (q *Queue) encode(req *WriteRequest) (payload []byte, method codec.Method, msgLen int, err error) {
	if req.PreCompressed != codec.None {
		if !req.PreCompressed.Valid() {
			return nil, codec.None, 0, errors.Errorf("unknown compression method %d", req.PreCompressed)
		}
		if req.RawLen < 0 {
			return nil, codec.None, 0, errors.Errorf("invalid raw length %d", req.RawLen)
		}
		c, err := q.codecs.Get(req.PreCompressed)
		if err != nil {
			return nil, codec.None, 0, err
		}
		if _, err = c.Decode(nil, req.Data, req.RawLen); err != nil {
			return nil, codec.None, 0, errors.Wrap(err, "invalid pre-compressed payload")
		}
		return req.Data, req.PreCompressed, req.RawLen, nil
	}
	msgLen = len(req.Data)
	if q.encoder.Method() == codec.None || msgLen == 0 || msgLen < q.opts.MinCompressSize {
		return req.Data, codec.None, msgLen, nil
	}
	compressed, err := q.encoder.Encode(nil, req.Data)
	if err != nil {
		return nil, codec.None, 0, errors.Wrap(err, "failed to compress the message")
	}
	if len(compressed) >= msgLen {
		return req.Data, codec.None, msgLen, nil
	}
	return compressed, q.encoder.Method(), msgLen, nil
}

// deferredTable records slots, which the allocator frees,
// so that they are cleared only after the allocation succeeds.
type deferredTable struct {
	slotTable
	freed []int
}

func (t *deferredTable) clearSlot(i int) error {
	t.freed = append(t.freed, i)
	return nil
}
