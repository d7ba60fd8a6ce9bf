// Copyright 2016 Aleksandr Demakin. All rights reserved.

package mq

import (
	"os"
	"testing"

	fmq "github.com/nxgtw/go-fmq"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func damageFile(t *testing.T, path string, off int64, data []byte) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.WriteAt(data, off)
	require.NoError(t, err)
}

func TestCorruptStatusFail(t *testing.T) {
	a := assert.New(t)
	q, name := createTestQueue(t, testOptions(8, 4096))
	a.NoError(q.Write([]byte("data")))
	damageFile(t, name+".stat", 24, []byte{0xff, 0xff})
	_, err := q.Read()
	a.True(IsKind(err, KindCorrupt), "%v", err)
	a.False(IsTemporary(err))
	err = q.Write([]byte("more"))
	a.True(IsKind(err, KindCorrupt), "%v", err)
	a.True(IsKind(q.Check(), KindCorrupt))
	_, err = OpenExisting(name, fmq.O_READWRITE, nil)
	a.True(IsKind(err, KindCorrupt), "%v", err)
}

func TestCorruptStatusOpenOrCreateFail(t *testing.T) {
	a := assert.New(t)
	q, name := createTestQueue(t, testOptions(8, 4096))
	a.NoError(q.Write([]byte("precious")))
	a.NoError(q.Close())
	orig, err := os.ReadFile(name + ".stat")
	require.NoError(t, err)
	damageFile(t, name+".stat", 24, []byte{0xff, 0xff})
	before, err := os.ReadFile(name + ".stat")
	require.NoError(t, err)
	_, err = OpenOrCreate(name, testOptions(8, 4096))
	a.True(IsKind(err, KindCorrupt), "%v", err)
	after, err := os.ReadFile(name + ".stat")
	require.NoError(t, err)
	a.Equal(before, after)

	// a bad buffer size is corruption too.
	require.NoError(t, os.WriteFile(name+".stat", orig, 0666))
	a.NoError(os.Truncate(name+".buf", 8192))
	_, err = OpenOrCreate(name, testOptions(8, 4096))
	a.True(IsKind(err, KindCorrupt), "%v", err)

	a.NoError(os.Truncate(name+".buf", 4096))
	q2, err := OpenOrCreate(name, testOptions(8, 4096))
	if !a.NoError(err) {
		return
	}
	defer q2.Close()
	msg, err := q2.Read()
	if a.NoError(err) && a.NotNil(msg) {
		a.Equal([]byte("precious"), msg.Data)
	}
}

func TestCorruptStatusOpenOrCreateReset(t *testing.T) {
	a := assert.New(t)
	q, name := createTestQueue(t, testOptions(8, 4096))
	a.NoError(q.Write([]byte("lost")))
	a.NoError(q.Close())
	damageFile(t, name+".stat", 24, []byte{0xff, 0xff})
	opts := testOptions(8, 4096)
	opts.Recovery = RecoveryReset
	q2, err := OpenOrCreate(name, opts)
	if !a.NoError(err) {
		return
	}
	defer q2.Close()
	st, err := q2.Stat()
	if a.NoError(err) {
		a.True(st.Empty())
		a.Equal(uint32(1), st.ResetCount)
	}
}

func TestIncompleteFilesOpenOrCreate(t *testing.T) {
	a := assert.New(t)
	name := testQueueName(t)
	// a creator died before writing the status record.
	require.NoError(t, os.WriteFile(name+".stat", []byte{1, 2, 3}, 0666))
	_, err := OpenExisting(name, fmq.O_READWRITE, testOptions(8, 4096))
	a.True(IsKind(err, KindCorrupt), "%v", err)
	q, err := OpenOrCreate(name, testOptions(8, 4096))
	if !a.NoError(err) {
		return
	}
	a.NoError(q.Write([]byte("x")))
	a.NoError(q.Close())
	// the buffer file is gone.
	a.NoError(os.Remove(name + ".buf"))
	_, err = OpenExisting(name, fmq.O_READWRITE, testOptions(8, 4096))
	a.True(IsKind(err, KindCorrupt), "%v", err)
	q, err = OpenOrCreate(name, testOptions(8, 4096))
	if !a.NoError(err) {
		return
	}
	defer q.Close()
	st, err := q.Stat()
	if a.NoError(err) {
		a.True(st.Empty())
		a.Equal(uint32(0), st.ResetCount)
	}
}

func TestCorruptStatusReset(t *testing.T) {
	a := assert.New(t)
	opts := testOptions(8, 4096)
	opts.Recovery = RecoveryReset
	q, name := createTestQueue(t, opts)
	a.NoError(q.Write([]byte("data")))
	damageFile(t, name+".stat", 24, []byte{0xff, 0xff})
	msg, err := q.Read()
	a.NoError(err)
	a.Nil(msg)
	st, err := q.Stat()
	if a.NoError(err) {
		a.Equal(uint32(1), st.ResetCount)
		a.True(st.Empty())
		a.Equal(8, st.NSlots)
	}
	a.Equal(uint64(1), q.Counters().Resets)
	a.NoError(q.Write([]byte("fresh")))
	msg, err = q.Read()
	if a.NoError(err) && a.NotNil(msg) {
		a.Equal([]byte("fresh"), msg.Data)
		a.Equal(int64(1), msg.ID)
	}
	a.NoError(q.Check())
}

func TestCorruptStatusOpenReset(t *testing.T) {
	a := assert.New(t)
	q, name := createTestQueue(t, testOptions(8, 4096))
	a.NoError(q.Write([]byte("data")))
	damageFile(t, name+".stat", 0, []byte{0})
	opts := testOptions(8, 4096)
	opts.Recovery = RecoveryReset
	q2, err := OpenExisting(name, fmq.O_READWRITE, opts)
	if !a.NoError(err) {
		return
	}
	defer q2.Close()
	st, err := q2.Stat()
	if a.NoError(err) {
		a.True(st.Empty())
	}
	// the first handle notices the reinitialization.
	a.NoError(q.Write([]byte("x")))
	msg, err := q2.Read()
	if a.NoError(err) && a.NotNil(msg) {
		a.Equal([]byte("x"), msg.Data)
	}
}

func TestCorruptEntry(t *testing.T) {
	a := assert.New(t)
	q, name := createTestQueue(t, testOptions(8, 4096))
	a.NoError(q.Write([]byte("first")))
	a.NoError(q.Write([]byte("second")))
	// overwrite the trailing id of the first entry.
	damageFile(t, name+".buf", storedLen(5)-entryTrailerSize, []byte{0xde, 0xad, 0xbe, 0xef})
	_, err := q.Read()
	a.True(IsKind(err, KindCorrupt), "%v", err)
	a.True(IsKind(q.Check(), KindCorrupt))
}

func TestCorruptSlotReset(t *testing.T) {
	a := assert.New(t)
	opts := testOptions(8, 4096)
	opts.Recovery = RecoveryReset
	q, name := createTestQueue(t, opts)
	a.NoError(q.Write([]byte("first")))
	a.NoError(q.Write([]byte("second")))
	damageFile(t, name+".stat", statusSize+slotSize+10, []byte{1, 2, 3})
	msg, err := q.Read()
	if a.NoError(err) {
		a.NotNil(msg)
	}
	msg, err = q.Read()
	a.NoError(err)
	a.Nil(msg)
	st, err := q.Stat()
	if a.NoError(err) {
		a.Equal(uint32(1), st.ResetCount)
	}
}

func TestResizedBuffer(t *testing.T) {
	a := assert.New(t)
	q, name := createTestQueue(t, testOptions(8, 4096))
	a.NoError(os.Truncate(name+".buf", 8192))
	err := q.Write([]byte("x"))
	a.True(IsKind(err, KindResized), "%v", err)
	_, err = q.Stat()
	a.True(IsKind(err, KindResized), "%v", err)
}
