// Copyright 2016 Aleksandr Demakin. All rights reserved.

package nowcast

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrShortPayload is returned, when a payload ends before all fields are decoded.
var ErrShortPayload = errors.New("payload is too short")

// wireWriter appends big-endian fields to a buffer.
type wireWriter struct {
	buf []byte
	err error
}

func (w *wireWriter) uint32(v uint32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

func (w *wireWriter) int32(v int32) {
	w.uint32(uint32(v))
}

func (w *wireWriter) int64(v int64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, uint64(v))
}

// time is stored as unix seconds. Zero time is stored as 0.
func (w *wireWriter) time(t time.Time) {
	if t.IsZero() {
		w.int64(0)
		return
	}
	w.int64(t.Unix())
}

func (w *wireWriter) string(s string) {
	if len(s) > math.MaxUint16 {
		if w.err == nil {
			w.err = errors.Errorf("string of %d bytes is too long", len(s))
		}
		return
	}
	w.buf = binary.BigEndian.AppendUint16(w.buf, uint16(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *wireWriter) uuid(id uuid.UUID) {
	w.buf = append(w.buf, id[:]...)
}

func (w *wireWriter) int32s(values []int32) {
	w.uint32(uint32(len(values)))
	for _, v := range values {
		w.int32(v)
	}
}

// wireReader decodes big-endian fields. The first error sticks,
// all subsequent reads return zero values.
type wireReader struct {
	buf []byte
	err error
}

func (r *wireReader) next(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.buf) < n {
		r.err = ErrShortPayload
		return nil
	}
	result := r.buf[:n]
	r.buf = r.buf[n:]
	return result
}

func (r *wireReader) uint32() uint32 {
	if b := r.next(4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (r *wireReader) int32() int32 {
	return int32(r.uint32())
}

func (r *wireReader) int64() int64 {
	if b := r.next(8); b != nil {
		return int64(binary.BigEndian.Uint64(b))
	}
	return 0
}

func (r *wireReader) time() time.Time {
	secs := r.int64()
	if secs == 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}

func (r *wireReader) string() string {
	b := r.next(2)
	if b == nil {
		return ""
	}
	return string(r.next(int(binary.BigEndian.Uint16(b))))
}

func (r *wireReader) uuid() uuid.UUID {
	var id uuid.UUID
	if b := r.next(len(id)); b != nil {
		copy(id[:], b)
	}
	return id
}

func (r *wireReader) int32s() []int32 {
	n := r.uint32()
	if r.err != nil {
		return nil
	}
	if uint64(n)*4 > uint64(len(r.buf)) {
		r.err = ErrShortPayload
		return nil
	}
	values := make([]int32, n)
	for i := range values {
		values[i] = r.int32()
	}
	return values
}

// done checks, that the whole payload was consumed.
func (r *wireReader) done() error {
	if r.err == nil && len(r.buf) != 0 {
		r.err = errors.Errorf("%d unexpected trailing bytes", len(r.buf))
	}
	return r.err
}
