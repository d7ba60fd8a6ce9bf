// Copyright 2016 Aleksandr Demakin. All rights reserved.

package mq

import (
	"math/rand"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memTable is an in-memory slot table.
type memTable struct {
	slots []Slot
}

func newMemTable(n int) *memTable {
	return &memTable{slots: make([]Slot, n)}
}

func (m *memTable) readSlot(i int) (Slot, error) {
	if i < 0 || i >= len(m.slots) {
		return Slot{}, errors.Errorf("slot %d is out of range", i)
	}
	return m.slots[i], nil
}

func (m *memTable) clearSlot(i int) error {
	m.slots[i] = Slot{}
	return nil
}

// memWrite places a message of dataLen bytes the same way the writer does:
// the allocation is done on a copy of the status, freed slots are cleared only on success.
func memWrite(st *Status, table *memTable, dataLen int64, release releaseFunc) (int, error) {
	next := *st
	deferred := &deferredTable{slotTable: table}
	a := allocator{st: &next, slots: deferred, release: release}
	need := storedLen(dataLen)
	idx, offset, err := a.allocate(need)
	if err != nil {
		return 0, err
	}
	for _, freed := range deferred.freed {
		table.clearSlot(freed)
	}
	table.slots[idx] = Slot{Active: true, ID: next.YoungestID, Offset: offset, DataLen: dataLen, StoredLen: need}
	*st = next
	return idx, nil
}

func TestAllocAppendMode(t *testing.T) {
	a := assert.New(t)
	st := newStatus(8, 1000, time.Now())
	table := newMemTable(8)
	for i := 0; i < 3; i++ {
		idx, err := memWrite(&st, table, 100, nil)
		a.NoError(err)
		a.Equal(i, idx)
		a.Equal(int64(i*112), table.slots[idx].Offset)
	}
	a.True(st.AppendMode)
	a.Equal(int64(336), st.BeginAppend)
	a.Equal(int64(0), st.EndInsert)
	a.Equal(0, st.OldestSlot)
	a.Equal(2, st.YoungestSlot)
	a.Equal(int64(3), st.YoungestID)
	a.NoError(checkLayout(&st, table, nil))
}

func TestAllocExampleScenario(t *testing.T) {
	a := assert.New(t)
	st := newStatus(4, 1000, time.Now())
	table := newMemTable(4)
	for i := 0; i < 6; i++ {
		_, err := memWrite(&st, table, 138, nil)
		a.NoError(err)
		a.NoError(checkLayout(&st, table, nil))
	}
	a.Equal(2, st.OldestSlot)
	a.Equal(1, st.YoungestSlot)
	a.Equal(int64(6), st.YoungestID)
	a.Equal(int64(3), table.slots[2].ID)
	a.Equal(int64(6), table.slots[1].ID)
	a.Equal(4, st.Live())
	a.Equal(int64(4*152), st.Used())
}

func TestAllocInsertModeAndMerge(t *testing.T) {
	a := assert.New(t)
	st := newStatus(16, 1000, time.Now())
	table := newMemTable(16)
	// 4 entries of 200 bytes: [0, 800)
	for i := 0; i < 4; i++ {
		_, err := memWrite(&st, table, 188, nil)
		a.NoError(err)
	}
	a.Equal(int64(800), st.BeginAppend)
	// the tail has 200 bytes left, 300 bytes are needed: switch to insert mode, free 2 oldest.
	idx, err := memWrite(&st, table, 288, nil)
	a.NoError(err)
	a.Equal(4, idx)
	a.False(st.AppendMode)
	a.Equal(int64(0), table.slots[idx].Offset)
	a.Equal(int64(300), st.BeginInsert)
	a.Equal(int64(400), st.EndInsert)
	a.Equal(int64(800), st.BeginAppend)
	a.Equal(2, st.OldestSlot)
	a.NoError(checkLayout(&st, table, nil))
	// 100 bytes fit into the insert zone.
	idx, err = memWrite(&st, table, 88, nil)
	a.NoError(err)
	a.Equal(int64(300), table.slots[idx].Offset)
	a.Equal(int64(400), st.BeginInsert)
	a.NoError(checkLayout(&st, table, nil))
	// freeing both old entries merges the zones.
	idx, err = memWrite(&st, table, 388, nil)
	a.NoError(err)
	a.True(st.AppendMode)
	a.Equal(int64(0), st.BeginInsert)
	a.Equal(int64(0), st.EndInsert)
	a.Equal(int64(800), st.BeginAppend)
	a.Equal(int64(400), table.slots[idx].Offset)
	a.Equal(4, st.OldestSlot)
	a.NoError(checkLayout(&st, table, nil))
}

func TestAllocFullBufferMessage(t *testing.T) {
	a := assert.New(t)
	st := newStatus(4, 1000, time.Now())
	table := newMemTable(4)
	_, err := memWrite(&st, table, MaxMsgLen(1000), nil)
	a.NoError(err)
	a.Equal(int64(1000), st.BeginAppend)
	a.Equal(int64(1000), st.Used())
	// protected write must not free the unread message.
	_, err = memWrite(&st, table, 1, protectUnread(st.LastIDRead))
	a.Equal(errWouldOverwrite, err)
	// unprotected one frees it.
	idx, err := memWrite(&st, table, 1, nil)
	a.NoError(err)
	a.Equal(1, idx)
	a.Equal(1, st.Live())
	a.Equal(int64(0), table.slots[idx].Offset)
	a.True(st.AppendMode)
	a.NoError(checkLayout(&st, table, nil))
}

func TestAllocTooLarge(t *testing.T) {
	a := assert.New(t)
	st := newStatus(4, 1000, time.Now())
	table := newMemTable(4)
	_, err := memWrite(&st, table, MaxMsgLen(1000)+1, nil)
	a.True(IsKind(err, KindConfig))
	a.True(errors.Is(err, ErrMsgTooLarge))
	a.Equal(int64(0), st.YoungestID)
}

func TestAllocSingleSlot(t *testing.T) {
	a := assert.New(t)
	st := newStatus(1, 100, time.Now())
	table := newMemTable(1)
	for i := 1; i <= 5; i++ {
		idx, err := memWrite(&st, table, int64(i*8), nil)
		a.NoError(err)
		a.Equal(0, idx)
		a.Equal(int64(0), table.slots[0].Offset)
		a.Equal(int64(i), st.YoungestID)
		a.NoError(checkLayout(&st, table, nil))
	}
}

func TestAllocDetectsOffsetMismatch(t *testing.T) {
	a := assert.New(t)
	st := newStatus(4, 1000, time.Now())
	table := newMemTable(4)
	for i := 0; i < 4; i++ {
		_, err := memWrite(&st, table, 100, nil)
		a.NoError(err)
	}
	table.slots[0].Offset = 8
	_, err := memWrite(&st, table, 100, nil)
	a.True(IsKind(err, KindCorrupt))
	a.Error(checkLayout(&st, table, nil))
}

func TestProtectUnread(t *testing.T) {
	a := assert.New(t)
	st := newStatus(4, 1000, time.Now())
	table := newMemTable(4)
	for i := 0; i < 4; i++ {
		_, err := memWrite(&st, table, 100, protectUnread(st.LastIDRead))
		a.NoError(err)
	}
	// slot wraparound requires freeing message 1.
	_, err := memWrite(&st, table, 100, protectUnread(st.LastIDRead))
	a.Equal(errWouldOverwrite, err)
	st.LastIDRead = 1
	_, err = memWrite(&st, table, 100, protectUnread(st.LastIDRead))
	a.NoError(err)
}

func TestCheckInvariants(t *testing.T) {
	a := assert.New(t)
	st := newStatus(4, 1000, time.Now())
	a.NoError(checkInvariants(&st))
	bad := st
	bad.BeginAppend = 2000
	a.Error(checkInvariants(&bad))
	bad = st
	bad.BeginInsert = 10
	bad.EndInsert = 20
	bad.BeginAppend = 30
	bad.OldestSlot, bad.YoungestSlot = 0, 0
	a.Error(checkInvariants(&bad))
	bad.AppendMode = false
	a.NoError(checkInvariants(&bad))
	bad.EndInsert = 5
	a.Error(checkInvariants(&bad))
	bad = st
	bad.OldestSlot = 4
	a.Error(checkInvariants(&bad))
	bad = st
	bad.BeginAppend = 16
	a.Error(checkInvariants(&bad))
}

// TestAllocRandomized writes messages of random sizes, randomly marking them as read,
// and checks the layout after every write.
func TestAllocRandomized(t *testing.T) {
	for _, seed := range []int64{1, 42, 2016} {
		rnd := rand.New(rand.NewSource(seed))
		nslots := 1 + rnd.Intn(12)
		bufSize := int64(64 + rnd.Intn(2000))
		st := newStatus(nslots, bufSize, time.Now())
		table := newMemTable(nslots)
		for i := 0; i < 5000; i++ {
			dataLen := rnd.Int63n(MaxMsgLen(bufSize) + 1)
			if rnd.Intn(4) > 0 {
				dataLen = rnd.Int63n(MaxMsgLen(bufSize)/4 + 1)
			}
			var release releaseFunc
			if rnd.Intn(2) == 0 {
				release = protectUnread(st.LastIDRead)
			}
			before := st
			_, err := memWrite(&st, table, dataLen, release)
			if err == errWouldOverwrite {
				// a failed protected write must not change anything.
				require.Equal(t, before, st, "seed %d, op %d", seed, i)
				st.LastIDRead = st.YoungestID
				continue
			}
			require.NoError(t, err, "seed %d, op %d", seed, i)
			require.NoError(t, checkLayout(&st, table, nil), "seed %d, op %d: %s", seed, i, regionsString(&st))
			if rnd.Intn(3) == 0 {
				st.LastIDRead = st.YoungestID
			}
		}
	}
}
