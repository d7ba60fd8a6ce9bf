// Copyright 2016 Aleksandr Demakin. All rights reserved.

package mq

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	fmq "github.com/nxgtw/go-fmq"
	"github.com/nxgtw/go-fmq/lock"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions(nslots int, bufSize int64) *Options {
	opts := DefaultOptions()
	opts.NSlots = nslots
	opts.BufSize = bufSize
	opts.PollInterval = 5 * time.Millisecond
	opts.LockTimeout = time.Second
	opts.Log.Level = "none"
	return &opts
}

func testQueueName(t *testing.T) string {
	return filepath.Join(t.TempDir(), "test.fmq")
}

func createTestQueue(t *testing.T, opts *Options) (*Queue, string) {
	name := testQueueName(t)
	q, err := Create(name, opts)
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q, name
}

func payload(n int, seed byte) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = seed + byte(i)
	}
	return data
}

func TestCreateQueue(t *testing.T) {
	a := assert.New(t)
	q, name := createTestQueue(t, testOptions(8, 4096))
	a.Equal(name, q.Name())
	a.Equal(8, q.NSlots())
	a.Equal(int64(4096), q.BufSize())
	for _, path := range []string{name + ".stat", name + ".buf", name + ".lock"} {
		_, err := os.Stat(path)
		a.NoError(err, path)
	}
	fi, err := os.Stat(name + ".stat")
	if a.NoError(err) {
		a.Equal(statusFileSize(8), fi.Size())
	}
	st, err := q.Stat()
	if a.NoError(err) {
		a.True(st.Empty())
		a.True(st.AppendMode)
		a.Equal(int64(0), st.YoungestID)
		a.Equal(-1, st.YoungestSlot)
		a.False(st.TimeCreated.IsZero())
	}
	a.NoError(q.Check())
}

func TestCreateQueueExcl(t *testing.T) {
	a := assert.New(t)
	_, name := createTestQueue(t, testOptions(8, 4096))
	_, err := Open(name, fmq.O_CREATE_ONLY|fmq.O_READWRITE, testOptions(8, 4096))
	a.True(IsKind(err, KindConfig))
}

func TestOpenInvalidParams(t *testing.T) {
	a := assert.New(t)
	name := testQueueName(t)
	_, err := Create(name, testOptions(0, 4096))
	a.True(IsKind(err, KindConfig))
	_, err = Create(name, testOptions(4, 8))
	a.True(IsKind(err, KindConfig))
	opts := testOptions(4, 4096)
	opts.Perm = 0777
	_, err = Create(name, opts)
	a.True(IsKind(err, KindConfig))
	_, err = Open(name, fmq.O_OPEN_OR_CREATE|fmq.O_READ_ONLY, testOptions(4, 4096))
	a.True(IsKind(err, KindConfig))
	_, err = Open(name, fmq.O_OPEN_ONLY|fmq.O_READ_ONLY|fmq.O_READWRITE, nil)
	a.True(IsKind(err, KindConfig))
	_, err = OpenExisting(name, fmq.O_READWRITE, nil)
	a.True(IsKind(err, KindConfig))
	_, err = Create("", nil)
	a.True(IsKind(err, KindConfig))
}

func TestOpenExistingKeepsMessages(t *testing.T) {
	a := assert.New(t)
	q, name := createTestQueue(t, testOptions(8, 4096))
	a.NoError(q.WriteMsg(1, 2, []byte("hello")))
	a.NoError(q.Close())
	// geometry of an existing queue is taken from its files.
	q2, err := OpenExisting(name, fmq.O_READWRITE, testOptions(100, 100000))
	if !a.NoError(err) {
		return
	}
	defer q2.Close()
	a.Equal(8, q2.NSlots())
	msg, err := q2.Read()
	if a.NoError(err) && a.NotNil(msg) {
		a.Equal([]byte("hello"), msg.Data)
		a.Equal(int32(1), msg.Type)
		a.Equal(int32(2), msg.Subtype)
		a.Equal(int64(1), msg.ID)
	}
}

func TestOpenOrCreateRecreatesOnGeometryChange(t *testing.T) {
	a := assert.New(t)
	q, name := createTestQueue(t, testOptions(8, 4096))
	a.NoError(q.Write([]byte("old")))
	q2, err := OpenOrCreate(name, testOptions(8, 4096))
	if a.NoError(err) {
		st, err := q2.Stat()
		a.NoError(err)
		a.Equal(int64(1), st.YoungestID)
		a.NoError(q2.Close())
	}
	q3, err := OpenOrCreate(name, testOptions(16, 8192))
	if !a.NoError(err) {
		return
	}
	defer q3.Close()
	st, err := q3.Stat()
	if a.NoError(err) {
		a.True(st.Empty())
		a.Equal(16, st.NSlots)
	}
	// the old handle sees the change and refuses to work.
	err = q.Write([]byte("new"))
	a.True(IsKind(err, KindResized), "%v", err)
	_, err = q.Read()
	a.True(IsKind(err, KindResized), "%v", err)
}

func TestCreateTruncatesInPlace(t *testing.T) {
	a := assert.New(t)
	q, name := createTestQueue(t, testOptions(8, 4096))
	for i := 0; i < 3; i++ {
		a.NoError(q.Write(payload(10, byte(i))))
	}
	q2, err := Create(name, testOptions(8, 4096))
	if !a.NoError(err) {
		return
	}
	defer q2.Close()
	a.NoError(q2.Write([]byte("after")))
	// the first handle detects the reinitialization and reads from the start.
	msg, err := q.Read()
	if a.NoError(err) && a.NotNil(msg) {
		a.Equal([]byte("after"), msg.Data)
		a.Equal(int64(1), msg.ID)
	}
}

func TestFifoOrder(t *testing.T) {
	a := assert.New(t)
	q, _ := createTestQueue(t, testOptions(64, 64*1024))
	const n = 50
	for i := 0; i < n; i++ {
		a.NoError(q.WriteMsg(int32(i), int32(-i), payload(i*7, byte(i))))
	}
	for i := 0; i < n; i++ {
		msg, err := q.Read()
		if !a.NoError(err) || !a.NotNil(msg) {
			return
		}
		a.Equal(int64(i+1), msg.ID)
		a.Equal(int32(i), msg.Type)
		a.Equal(int32(-i), msg.Subtype)
		a.Equal(payload(i*7, byte(i)), msg.Data)
		a.Equal(int64(0), msg.Skipped)
	}
	msg, err := q.Read()
	a.NoError(err)
	a.Nil(msg)
	a.NoError(q.Check())
}

func TestExampleScenarioOverwrite(t *testing.T) {
	a := assert.New(t)
	q, name := createTestQueue(t, testOptions(4, 1000))
	var written [][]byte
	for i := 0; i < 6; i++ {
		data := payload(138, byte(i))
		written = append(written, data)
		a.NoError(q.Write(data))
	}
	st, err := q.Stat()
	if a.NoError(err) {
		a.Equal(2, st.OldestSlot)
		a.Equal(int64(6), st.YoungestID)
		a.Equal(4, st.Live())
	}
	slots, err := q.Slots()
	if a.NoError(err) && a.Len(slots, 4) {
		for i, info := range slots {
			a.Equal(int64(i+3), info.ID)
			a.Equal(int64(152), info.StoredLen)
		}
	}
	reader, err := OpenExisting(name, fmq.O_READWRITE, testOptions(4, 1000))
	if !a.NoError(err) {
		return
	}
	defer reader.Close()
	for id := int64(3); id <= 6; id++ {
		got, err := reader.ReadMsg(AnyType)
		a.NoError(err)
		a.True(got)
		a.Equal(id, reader.MsgID())
		a.Equal(138, reader.MsgLen())
		a.Equal(written[id-1], reader.Msg())
	}
	got, err := reader.ReadMsg(AnyType)
	a.NoError(err)
	a.False(got)
	a.NoError(q.Check())
}

func TestGapDetection(t *testing.T) {
	a := assert.New(t)
	q, _ := createTestQueue(t, testOptions(4, 1000))
	a.NoError(q.Write(payload(20, 0)))
	msg, err := q.Read()
	a.NoError(err)
	a.NotNil(msg)
	for i := 1; i < 8; i++ {
		a.NoError(q.Write(payload(20, byte(i))))
	}
	// messages 2, 3, 4 were overwritten.
	msg, err = q.Read()
	if a.NoError(err) && a.NotNil(msg) {
		a.Equal(int64(5), msg.ID)
		a.Equal(int64(3), msg.Skipped)
		a.Equal(payload(20, 4), msg.Data)
	}
	msg, err = q.Read()
	if a.NoError(err) && a.NotNil(msg) {
		a.Equal(int64(6), msg.ID)
		a.Equal(int64(0), msg.Skipped)
	}
	a.Equal(uint64(3), q.Counters().Skipped)
}

func TestFullBufferMessage(t *testing.T) {
	a := assert.New(t)
	q, _ := createTestQueue(t, testOptions(4, 1000))
	big := payload(1000-FramingOverhead, 1)
	a.NoError(q.Write(big))
	st, err := q.Stat()
	if a.NoError(err) {
		a.Equal(int64(1000), st.Used())
		a.Equal(int64(1000), st.BeginAppend)
	}
	err = q.Write(payload(1001-FramingOverhead, 1))
	a.True(IsKind(err, KindConfig))
	// without blocking write mode the next message replaces the first one.
	a.NoError(q.Write([]byte{1}))
	msg, err := q.Read()
	if a.NoError(err) && a.NotNil(msg) {
		a.Equal([]byte{1}, msg.Data)
		a.Equal(int64(1), msg.Skipped)
	}
	a.NoError(q.Check())
}

func TestFullBufferMessageNonblocking(t *testing.T) {
	a := assert.New(t)
	opts := testOptions(4, 1000)
	opts.BlockingWrite = true
	name := testQueueName(t)
	q, err := Open(name, fmq.O_OPEN_OR_CREATE|fmq.O_READWRITE|fmq.O_NONBLOCK, opts)
	if !a.NoError(err) {
		return
	}
	defer q.Close()
	big := payload(1000-FramingOverhead, 1)
	a.NoError(q.Write(big))
	err = q.Write([]byte{1})
	a.True(IsKind(err, KindNoSpace), "%v", err)
	a.True(IsTemporary(err))
	st, err := q.Stat()
	if a.NoError(err) {
		a.True(st.BlockingWrite)
		a.Equal(1, st.Live())
	}
	msg, err := q.Read()
	if a.NoError(err) && a.NotNil(msg) {
		a.Equal(big, msg.Data)
	}
	a.NoError(q.Write([]byte{1}))
	st, err = q.Stat()
	if a.NoError(err) {
		a.False(st.BlockingWrite)
		a.Equal(int64(2), st.YoungestID)
	}
}

func TestReadOnlyHandle(t *testing.T) {
	a := assert.New(t)
	q, name := createTestQueue(t, testOptions(8, 4096))
	a.NoError(q.Write([]byte("one")))
	a.NoError(q.Write([]byte("two")))
	ro, err := OpenExisting(name, fmq.O_READ_ONLY, nil)
	if !a.NoError(err) {
		return
	}
	defer ro.Close()
	msg, err := ro.Read()
	if a.NoError(err) && a.NotNil(msg) {
		a.Equal([]byte("one"), msg.Data)
	}
	st, err := q.Stat()
	if a.NoError(err) {
		a.Equal(int64(0), st.LastIDRead)
	}
	err = ro.Write([]byte("x"))
	a.True(IsKind(err, KindConfig))
	// the read-write handle persists its position.
	msg, err = q.Read()
	a.NoError(err)
	a.NotNil(msg)
	st, err = q.Stat()
	if a.NoError(err) {
		a.Equal(int64(1), st.LastIDRead)
	}
}

func TestReadMsgFiltersTypes(t *testing.T) {
	a := assert.New(t)
	q, _ := createTestQueue(t, testOptions(16, 4096))
	for i := 0; i < 6; i++ {
		a.NoError(q.WriteMsg(int32(i%3), int32(i), []byte{byte(i)}))
	}
	got, err := q.ReadMsg(2)
	a.NoError(err)
	a.True(got)
	a.Equal(int32(2), q.MsgType())
	a.Equal(int32(2), q.MsgSubtype())
	a.Equal([]byte{2}, q.Msg())
	a.False(q.MsgTime().IsZero())
	got, err = q.ReadMsg(0)
	a.NoError(err)
	a.True(got)
	a.Equal(int32(3), q.MsgSubtype())
	got, err = q.ReadMsg(7)
	a.NoError(err)
	a.False(got)
	// skipped messages are consumed.
	msg, err := q.Read()
	a.NoError(err)
	a.Nil(msg)
	st, err := q.Stat()
	if a.NoError(err) {
		a.Equal(int64(6), st.LastIDRead)
	}
}

func TestSeek(t *testing.T) {
	a := assert.New(t)
	q, _ := createTestQueue(t, testOptions(8, 4096))
	for i := 1; i <= 4; i++ {
		a.NoError(q.Write([]byte{byte(i)}))
	}
	a.NoError(q.SeekEnd())
	msg, err := q.Read()
	a.NoError(err)
	a.Nil(msg)

	a.NoError(q.SeekLast())
	msg, err = q.Read()
	if a.NoError(err) && a.NotNil(msg) {
		a.Equal(int64(4), msg.ID)
	}

	a.NoError(q.SeekStart())
	msg, err = q.Read()
	if a.NoError(err) && a.NotNil(msg) {
		a.Equal(int64(1), msg.ID)
	}
	msg, err = q.Read()
	if a.NoError(err) && a.NotNil(msg) {
		a.Equal(int64(2), msg.ID)
	}
	a.NoError(q.SeekBack())
	msg, err = q.Read()
	if a.NoError(err) && a.NotNil(msg) {
		a.Equal(int64(2), msg.ID)
	}
	a.NoError(q.SeekEnd())
	a.NoError(q.Write([]byte{5}))
	msg, err = q.Read()
	if a.NoError(err) && a.NotNil(msg) {
		a.Equal(int64(5), msg.ID)
	}
}

func TestOpenPosition(t *testing.T) {
	a := assert.New(t)
	q, name := createTestQueue(t, testOptions(8, 4096))
	for i := 1; i <= 3; i++ {
		a.NoError(q.Write([]byte{byte(i)}))
	}
	expected := map[Position]int64{PositionStart: 1, PositionLast: 3, PositionEnd: 0}
	for pos, id := range expected {
		opts := testOptions(8, 4096)
		opts.OpenPosition = pos
		r, err := OpenExisting(name, fmq.O_READ_ONLY, opts)
		if !a.NoError(err) {
			continue
		}
		msg, err := r.Read()
		a.NoError(err)
		if id == 0 {
			a.Nil(msg, pos.String())
		} else if a.NotNil(msg, pos.String()) {
			a.Equal(id, msg.ID, pos.String())
		}
		a.NoError(r.Close())
	}
}

func TestLockBusy(t *testing.T) {
	a := assert.New(t)
	opts := testOptions(8, 4096)
	opts.LockTimeout = 0
	q, _ := createTestQueue(t, opts)
	l, err := lock.New(q.Paths().Lock, 0666)
	if !a.NoError(err) {
		return
	}
	defer l.Close()
	a.NoError(l.TryLock())
	err = q.Write([]byte("x"))
	a.True(IsKind(err, KindLock), "%v", err)
	a.True(IsTemporary(err))
	a.NoError(l.Unlock())
	a.NoError(q.Write([]byte("x")))
}

func TestClosedQueue(t *testing.T) {
	a := assert.New(t)
	q, _ := createTestQueue(t, testOptions(8, 4096))
	a.NoError(q.Close())
	a.NoError(q.Close())
	a.True(IsKind(q.Write([]byte("x")), KindClosed))
	_, err := q.Read()
	a.True(IsKind(err, KindClosed))
	a.True(IsKind(q.Sync(), KindClosed))
}

func TestSync(t *testing.T) {
	a := assert.New(t)
	q, name := createTestQueue(t, testOptions(8, 4096))
	a.NoError(q.Write([]byte("synced")))
	a.NoError(q.Sync())
	ro, err := OpenExisting(name, fmq.O_READ_ONLY, testOptions(8, 4096))
	if !a.NoError(err) {
		return
	}
	defer ro.Close()
	a.NoError(ro.Sync())
	msg, err := ro.Read()
	if a.NoError(err) && a.NotNil(msg) {
		a.Equal("synced", string(msg.Data))
	}
}

func TestDestroy(t *testing.T) {
	a := assert.New(t)
	name := testQueueName(t)
	q, err := Create(name, testOptions(8, 4096))
	if !a.NoError(err) {
		return
	}
	a.NoError(q.Destroy())
	_, err = os.Stat(name + ".stat")
	a.True(os.IsNotExist(err))
	_, err = OpenExisting(name, fmq.O_READWRITE, nil)
	a.Error(err)
	a.NoError(Destroy(name))
}

func TestMessenger(t *testing.T) {
	a := assert.New(t)
	q, _ := createTestQueue(t, testOptions(8, 4096))
	var m TimedMessenger = q
	a.NoError(m.Send([]byte("abc")))
	a.NoError(m.Send([]byte("de")))
	// a short buffer leaves the message in the queue.
	buf := make([]byte, 2)
	_, err := m.ReceiveTimeout(buf, 100*time.Millisecond)
	a.True(IsKind(err, KindConfig), "%v", err)
	a.True(errors.Is(err, ErrShortBuffer))
	st, err := q.Stat()
	if a.NoError(err) {
		a.Equal(int64(0), st.LastIDRead)
	}
	buf = make([]byte, 16)
	n, err := m.Receive(buf)
	a.NoError(err)
	a.Equal("abc", string(buf[:n]))
	n, err = m.Receive(buf[:2])
	a.NoError(err)
	a.Equal("de", string(buf[:n]))
	_, err = m.ReceiveTimeout(buf, 20*time.Millisecond)
	a.True(IsKind(err, KindCanceled), "%v", err)
}

func TestIDWraparound(t *testing.T) {
	a := assert.New(t)
	q, _ := createTestQueue(t, testOptions(4, 4096))
	require.NoError(t, q.do("test", func() error {
		st, err := q.status()
		if err != nil {
			return err
		}
		st.YoungestID = MaxID - 3
		q.store.writeStatus(&st)
		return nil
	}))
	msg, err := q.Read()
	a.NoError(err)
	a.Nil(msg)
	// six messages into four slots: the first two are lost.
	for i := 0; i < 6; i++ {
		a.NoError(q.Write(payload(10, byte(i))))
		a.NoError(q.Check())
	}
	st, err := q.Stat()
	if a.NoError(err) {
		a.Equal(int64(3), st.YoungestID)
		a.Equal(4, st.Live())
	}
	msg, err = q.Read()
	if a.NoError(err) && a.NotNil(msg) {
		a.Equal(int64(MaxID), msg.ID)
		a.Equal(int64(2), msg.Skipped)
		a.Equal(payload(10, 2), msg.Data)
	}
	for _, id := range []int64{1, 2, 3} {
		msg, err = q.Read()
		if a.NoError(err) && a.NotNil(msg) {
			a.Equal(id, msg.ID)
			a.Zero(msg.Skipped)
		}
	}
	msg, err = q.Read()
	a.NoError(err)
	a.Nil(msg)
	a.NoError(q.SeekBack())
	msg, err = q.Read()
	if a.NoError(err) && a.NotNil(msg) {
		a.Equal(int64(3), msg.ID)
	}
	a.NoError(q.SeekStart())
	msg, err = q.Read()
	if a.NoError(err) && a.NotNil(msg) {
		a.Equal(int64(MaxID), msg.ID)
	}
	a.NoError(q.Check())
}

func TestManyWraps(t *testing.T) {
	a := assert.New(t)
	q, _ := createTestQueue(t, testOptions(5, 700))
	var last []byte
	for i := 0; i < 300; i++ {
		last = bytes.Repeat([]byte{byte(i)}, i%97)
		if !a.NoError(q.Write(last)) {
			return
		}
		if i%5 == 0 {
			_, err := q.Read()
			a.NoError(err)
		}
		if !a.NoError(q.Check(), "write %d", i) {
			return
		}
	}
	a.NoError(q.SeekLast())
	msg, err := q.Read()
	if a.NoError(err) && a.NotNil(msg) {
		a.Equal(last, msg.Data)
		a.Equal(int64(300), msg.ID)
	}
}

func TestSeekNext(t *testing.T) {
	a := assert.New(t)
	q, name := createTestQueue(t, testOptions(4, 4096))
	for i := 1; i <= 3; i++ {
		a.NoError(q.Write([]byte{byte(i)}))
	}
	_, err := q.Read()
	a.NoError(err)
	opts := testOptions(4, 4096)
	opts.OpenPosition = PositionNext
	r, err := OpenExisting(name, fmq.O_READWRITE, opts)
	if !a.NoError(err) {
		return
	}
	defer r.Close()
	msg, err := r.Read()
	if a.NoError(err) && a.NotNil(msg) {
		a.Equal(int64(2), msg.ID)
	}
	// the messages after the last read one are overwritten.
	for i := 4; i <= 9; i++ {
		a.NoError(q.Write([]byte{byte(i)}))
	}
	a.NoError(q.SeekNext())
	msg, err = q.Read()
	if a.NoError(err) && a.NotNil(msg) {
		a.Equal(int64(6), msg.ID)
		a.Equal(int64(3), msg.Skipped)
	}
	a.NoError(q.SeekEnd())
	a.NoError(q.SeekNext())
	msg, err = q.Read()
	if a.NoError(err) && a.NotNil(msg) {
		a.Equal(int64(7), msg.ID)
		a.Equal(int64(0), msg.Skipped)
	}
}
