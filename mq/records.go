// Copyright 2016 Aleksandr Demakin. All rights reserved.

package mq

import (
	"encoding/binary"
	"time"

	"github.com/nxgtw/go-fmq/codec"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
)

// on-disk layout constants. All integers are stored big-endian.
const (
	statusMagic   = 0x464d5153 // "FMQS"
	statusVersion = 1
	bufMagic      = 0x464d5142 // "FMQB"

	statusSize       = 128
	statusChecksumAt = statusSize - 8
	slotSize         = 72
	slotChecksumAt   = slotSize - 8

	// entryHdrSize is magic + slot index, entryTrailerSize is the trailing id.
	entryHdrSize     = 8
	entryTrailerSize = 4
	// FramingOverhead is the number of bytes added to every payload in the buffer.
	FramingOverhead = entryHdrSize + entryTrailerSize

	// MaxID is the largest message id. Ids wrap from MaxID back to 1.
	MaxID = 1000000000

	flagAppendMode    = 1 << 0
	flagBlockingWrite = 1 << 1
)

var (
	be = binary.BigEndian
)

// Status is the queue header record.
type Status struct {
	NSlots        int
	BufSize       int64
	YoungestID    int64
	LastIDRead    int64
	YoungestSlot  int
	OldestSlot    int
	BeginInsert   int64
	EndInsert     int64
	BeginAppend   int64
	AppendMode    bool
	BlockingWrite bool
	TimeWritten   time.Time
	TimeCreated   time.Time
	ResetCount    uint32
}

// Slot is the metadata record of one message.
type Slot struct {
	Active    bool
	Compress  codec.Method
	ID        int64
	Time      time.Time
	MsgLen    int64
	DataLen   int64
	StoredLen int64
	Offset    int64
	Type      int32
	Subtype   int32
}

// Empty returns true, if the queue holds no live messages.
func (s *Status) Empty() bool {
	return s.OldestSlot < 0
}

// Live returns the number of messages in the queue.
func (s *Status) Live() int {
	return liveCount(s)
}

// Used returns the number of buffer bytes occupied by messages, including framing.
func (s *Status) Used() int64 {
	return usedBytes(s)
}

// Unread returns the number of live messages written after the last read one.
func (s *Status) Unread() int {
	live := liveCount(s)
	if s.LastIDRead == 0 {
		return live
	}
	n := idDiff(s.YoungestID, s.LastIDRead)
	if n < 0 {
		return 0
	}
	if n > int64(live) {
		return live
	}
	return int(n)
}

// newStatus returns the status of an empty queue.
func newStatus(nslots int, bufSize int64, now time.Time) Status {
	return Status{
		NSlots:       nslots,
		BufSize:      bufSize,
		YoungestSlot: -1,
		OldestSlot:   -1,
		AppendMode:   true,
		TimeCreated:  now,
		TimeWritten:  now,
	}
}

func timeToNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func nanosToTime(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func boolToU32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

func recordChecksum(data []byte) uint64 {
	return xxhash.Sum64(data)
}

func encodeStatus(buf []byte, s *Status) {
	var flags uint32
	if s.AppendMode {
		flags |= flagAppendMode
	}
	if s.BlockingWrite {
		flags |= flagBlockingWrite
	}
	be.PutUint32(buf[0:], statusMagic)
	be.PutUint32(buf[4:], statusVersion)
	be.PutUint32(buf[8:], uint32(s.NSlots))
	be.PutUint32(buf[12:], flags)
	be.PutUint64(buf[16:], uint64(s.BufSize))
	be.PutUint64(buf[24:], uint64(s.YoungestID))
	be.PutUint64(buf[32:], uint64(s.LastIDRead))
	be.PutUint32(buf[40:], uint32(int32(s.YoungestSlot)))
	be.PutUint32(buf[44:], uint32(int32(s.OldestSlot)))
	be.PutUint64(buf[48:], uint64(s.BeginInsert))
	be.PutUint64(buf[56:], uint64(s.EndInsert))
	be.PutUint64(buf[64:], uint64(s.BeginAppend))
	be.PutUint64(buf[72:], uint64(timeToNanos(s.TimeWritten)))
	be.PutUint64(buf[80:], uint64(timeToNanos(s.TimeCreated)))
	be.PutUint32(buf[88:], s.ResetCount)
	for i := 92; i < statusChecksumAt; i++ {
		buf[i] = 0
	}
	be.PutUint64(buf[statusChecksumAt:], recordChecksum(buf[:statusChecksumAt]))
}

func decodeStatus(buf []byte) (Status, error) {
	if magic := be.Uint32(buf[0:]); magic != statusMagic {
		return Status{}, errors.Errorf("bad status magic 0x%08x", magic)
	}
	if version := be.Uint32(buf[4:]); version != statusVersion {
		return Status{}, errors.Errorf("unsupported status version %d", version)
	}
	if sum, want := be.Uint64(buf[statusChecksumAt:]), recordChecksum(buf[:statusChecksumAt]); sum != want {
		return Status{}, errors.Errorf("status checksum mismatch: stored 0x%016x, computed 0x%016x", sum, want)
	}
	flags := be.Uint32(buf[12:])
	return Status{
		NSlots:        int(be.Uint32(buf[8:])),
		AppendMode:    flags&flagAppendMode != 0,
		BlockingWrite: flags&flagBlockingWrite != 0,
		BufSize:       int64(be.Uint64(buf[16:])),
		YoungestID:    int64(be.Uint64(buf[24:])),
		LastIDRead:    int64(be.Uint64(buf[32:])),
		YoungestSlot:  int(int32(be.Uint32(buf[40:]))),
		OldestSlot:    int(int32(be.Uint32(buf[44:]))),
		BeginInsert:   int64(be.Uint64(buf[48:])),
		EndInsert:     int64(be.Uint64(buf[56:])),
		BeginAppend:   int64(be.Uint64(buf[64:])),
		TimeWritten:   nanosToTime(int64(be.Uint64(buf[72:]))),
		TimeCreated:   nanosToTime(int64(be.Uint64(buf[80:]))),
		ResetCount:    be.Uint32(buf[88:]),
	}, nil
}

func encodeSlot(buf []byte, s *Slot) {
	be.PutUint32(buf[0:], boolToU32(s.Active))
	be.PutUint32(buf[4:], uint32(s.Compress))
	be.PutUint64(buf[8:], uint64(s.ID))
	be.PutUint64(buf[16:], uint64(timeToNanos(s.Time)))
	be.PutUint64(buf[24:], uint64(s.MsgLen))
	be.PutUint64(buf[32:], uint64(s.DataLen))
	be.PutUint64(buf[40:], uint64(s.StoredLen))
	be.PutUint64(buf[48:], uint64(s.Offset))
	be.PutUint32(buf[56:], uint32(s.Type))
	be.PutUint32(buf[60:], uint32(s.Subtype))
	be.PutUint64(buf[slotChecksumAt:], recordChecksum(buf[:slotChecksumAt]))
}

func decodeSlot(buf []byte) (Slot, error) {
	if sum, want := be.Uint64(buf[slotChecksumAt:]), recordChecksum(buf[:slotChecksumAt]); sum != want {
		return Slot{}, errors.Errorf("slot checksum mismatch: stored 0x%016x, computed 0x%016x", sum, want)
	}
	s := Slot{
		Active:    be.Uint32(buf[0:]) != 0,
		Compress:  codec.Method(be.Uint32(buf[4:])),
		ID:        int64(be.Uint64(buf[8:])),
		Time:      nanosToTime(int64(be.Uint64(buf[16:]))),
		MsgLen:    int64(be.Uint64(buf[24:])),
		DataLen:   int64(be.Uint64(buf[32:])),
		StoredLen: int64(be.Uint64(buf[40:])),
		Offset:    int64(be.Uint64(buf[48:])),
		Type:      int32(be.Uint32(buf[56:])),
		Subtype:   int32(be.Uint32(buf[60:])),
	}
	if !s.Compress.Valid() {
		return Slot{}, errors.Errorf("slot has unknown compression method %d", s.Compress)
	}
	return s, nil
}

// storedLen returns the number of buffer bytes occupied by a payload of dataLen bytes.
func storedLen(dataLen int64) int64 {
	return FramingOverhead + padLen(dataLen)
}

func padLen(n int64) int64 {
	return (n + 3) &^ 3
}

// MaxMsgLen returns the largest payload, which fits into a buffer of bufSize bytes.
func MaxMsgLen(bufSize int64) int64 {
	n := (bufSize - FramingOverhead) &^ 3
	if n < 0 {
		return 0
	}
	return n
}

// statusFileSize returns the size of the status file for nslots slots.
func statusFileSize(nslots int) int64 {
	return int64(statusSize) + int64(nslots)*slotSize
}

// nextID returns the id following id. Ids are in [1, MaxID].
func nextID(id int64) int64 {
	if id >= MaxID || id < 0 {
		return 1
	}
	return id + 1
}

// prevID returns the id preceding id.
func prevID(id int64) int64 {
	if id <= 1 {
		return MaxID
	}
	return id - 1
}

// idDiff returns the signed distance from b to a, taking wraparound into account.
// idDiff(a, b) > 0 means a is newer than b.
func idDiff(a, b int64) int64 {
	d := a - b
	const half = MaxID / 2
	if d > half {
		d -= MaxID
	} else if d < -half {
		d += MaxID
	}
	return d
}
