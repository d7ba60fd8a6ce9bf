// Copyright 2016 Aleksandr Demakin. All rights reserved.

package mq

import (
	"context"
	"os"
	"sync"
	"time"

	fmq "github.com/nxgtw/go-fmq"
	"github.com/nxgtw/go-fmq/codec"
	"github.com/nxgtw/go-fmq/internal/common"
	"github.com/nxgtw/go-fmq/internal/qfile"
	"github.com/nxgtw/go-fmq/lock"

	"github.com/pkg/errors"
)

// O_TRUNCATE makes Open reinitialize an existing queue, discarding all its messages.
const O_TRUNCATE = 0x00000100

// this is to ensure, that Queue satisfies queue interfaces.
var (
	_ Messenger      = (*Queue)(nil)
	_ TimedMessenger = (*Queue)(nil)
	_ fmq.Destroyer  = (*Queue)(nil)
)

// cursor is the position of a reader: the id and the slot of the last read message.
type cursor struct {
	id   int64
	slot int
}

// Queue is a handle of a file message queue.
// A queue is shared by processes through its files. Every operation takes the queue lock,
// reads the state from the files, and releases the lock before returning.
// A Queue is safe for concurrent use by multiple goroutines.
type Queue struct {
	mu       sync.Mutex
	paths    qfile.Paths
	flag     int
	readOnly bool
	opts     Options
	log      Logger
	locker   *lock.FileLock
	store    *store
	buf      *buffer
	codecs   *codec.Registry
	encoder  codec.Codec
	cur      cursor
	created  time.Time
	resets   uint32
	last     *Message
	scratch  []byte
	counters counters
	closed   bool
}

// Open opens or creates a queue.
//
//	name - queue name. A name without a path separator is placed into a memory-backed directory.
//	flag - a combination of fmq open flags (O_OPEN_OR_CREATE, O_CREATE_ONLY, O_OPEN_ONLY),
//	access flags (O_READ_ONLY, O_WRITE_ONLY, O_READWRITE), O_NONBLOCK and O_TRUNCATE.
//	opts - queue options. nil means DefaultOptions().
//
// When an existing queue is opened with O_OPEN_OR_CREATE for writing and its geometry differs
// from opts, it is recreated in place. Files left incomplete by an interrupted creation are
// created anew. Corrupt files are reinitialized only with RecoveryReset.
func Open(name string, flag int, opts *Options) (*Queue, error) {
	const op = "open"
	o := DefaultOptions()
	if opts != nil {
		o = *opts
	}
	paths, err := qfile.Resolve(name)
	if err != nil {
		return nil, newError(KindConfig, op, err)
	}
	if _, err = common.OpenModeToOsMode(flag); err != nil {
		return nil, newError(KindConfig, op, err)
	}
	readOnly := common.IsReadOnly(flag)
	if readOnly && flag&(O_TRUNCATE|fmq.O_CREATE_ONLY|fmq.O_OPEN_OR_CREATE) != 0 {
		return nil, newError(KindConfig, op, errors.New("a read-only queue cannot be created or truncated"))
	}
	if flag&(O_TRUNCATE|fmq.O_CREATE_ONLY|fmq.O_OPEN_OR_CREATE) != 0 {
		err = o.Validate()
	} else {
		err = o.validateRuntime()
	}
	if err != nil {
		return nil, newError(KindConfig, op, err)
	}
	if flag&fmq.O_OPEN_ONLY != 0 {
		if _, err = os.Stat(paths.Stat); err != nil {
			return nil, newError(KindConfig, op, errors.Wrap(err, "queue does not exist"))
		}
	}
	q := &Queue{
		paths:    paths,
		flag:     flag,
		readOnly: readOnly,
		opts:     o,
		log:      createLogger(o.Log).With("queue", paths.Base),
		codecs:   codec.NewRegistry(o.CompressionLevel),
	}
	if err = q.open(); err != nil {
		q.codecs.Close()
		return nil, err
	}
	return q, nil
}

// Create creates a new queue or reinitializes an existing one.
func Create(name string, opts *Options) (*Queue, error) {
	return Open(name, fmq.O_OPEN_OR_CREATE|fmq.O_READWRITE|O_TRUNCATE, opts)
}

// OpenOrCreate opens an existing queue, or creates a new one. Existing messages are kept,
// unless the queue has a different geometry.
func OpenOrCreate(name string, opts *Options) (*Queue, error) {
	return Open(name, fmq.O_OPEN_OR_CREATE|fmq.O_READWRITE, opts)
}

// OpenExisting opens an existing queue.
//
//	flag - access flags, optionally with O_NONBLOCK.
func OpenExisting(name string, flag int, opts *Options) (*Queue, error) {
	if flag&(fmq.O_READ_ONLY|fmq.O_WRITE_ONLY|fmq.O_READWRITE) == 0 {
		flag |= fmq.O_READWRITE
	}
	return Open(name, fmq.O_OPEN_ONLY|flag&^(fmq.O_OPEN_OR_CREATE|fmq.O_CREATE_ONLY|O_TRUNCATE), opts)
}

// Destroy permanently removes all files of the queue.
// Processes, which still have the queue opened, keep using unlinked files.
func Destroy(name string) error {
	paths, err := qfile.Resolve(name)
	if err != nil {
		return newError(KindConfig, "destroy", err)
	}
	if err = paths.RemoveAll(); err != nil {
		return newError(KindIO, "destroy", err)
	}
	return nil
}

func (q *Queue) open() error {
	const op = "open"
	var err error
	if q.locker, err = lock.New(q.paths.Lock, q.opts.Perm); err != nil {
		return newError(KindLock, op, err)
	}
	if err = q.lockFile(); err != nil {
		q.locker.Close()
		return withOp(op, err)
	}
	defer q.locker.Unlock()
	created, err := common.OpenOrCreate(q.openFiles, q.flag&^(fmq.O_NONBLOCK|O_TRUNCATE))
	if err == nil {
		err = q.position(created)
	}
	if err != nil {
		q.closeFiles()
		q.locker.Close()
		if os.IsExist(errors.Cause(err)) {
			return newError(KindConfig, op, errors.Wrap(err, "queue already exists"))
		}
		return withOp(op, err)
	}
	if q.encoder, err = q.codecs.Get(q.opts.Compression); err != nil {
		q.closeFiles()
		q.locker.Close()
		return newError(KindConfig, op, err)
	}
	return nil
}

// openFiles is called with the queue lock held. If create is true,
// the status file must be created exclusively.
func (q *Queue) openFiles(create bool) error {
	if create {
		return q.createFiles(os.O_CREATE|os.O_EXCL|os.O_RDWR, "created", 0)
	}
	st, size, peekErr := peekStatus(q.paths.Stat)
	if peekErr != nil && os.IsNotExist(errors.Cause(peekErr)) {
		return peekErr
	}
	if peekErr == nil {
		if size != statusFileSize(st.NSlots) {
			peekErr = errors.Errorf("status file size %d does not match %d slots", size, st.NSlots)
		} else if bufSize := fileSize(q.paths.Buf); bufSize < 0 {
			peekErr = errors.Wrap(errIncomplete, "buffer file is missing")
		} else if bufSize != st.BufSize {
			peekErr = errors.Errorf("buffer file size %d does not match buf_size %d", bufSize, st.BufSize)
		}
	}
	openOrCreate := q.flag&fmq.O_OPEN_OR_CREATE != 0
	switch {
	case q.flag&O_TRUNCATE != 0:
		return q.createFiles(os.O_RDWR, "truncated", 0)
	case peekErr != nil && errors.Cause(peekErr) == errIncomplete && openOrCreate && !q.readOnly:
		q.log.Warn("queue files are incomplete, creating", "error", peekErr)
		return q.createFiles(os.O_RDWR, "created", 0)
	case peekErr != nil:
		if q.readOnly || q.opts.Recovery != RecoveryReset || q.opts.Validate() != nil {
			q.log.Error("queue files are corrupt", "error", peekErr)
			return newError(KindCorrupt, "open", peekErr)
		}
		q.log.Warn("queue files are corrupt, reinitializing", "error", peekErr)
		return q.createFiles(os.O_RDWR, "reinitialized", st.ResetCount+1)
	case openOrCreate && !q.readOnly && (st.NSlots != q.opts.NSlots || st.BufSize != q.opts.BufSize):
		q.log.Info("queue geometry changed, recreating",
			"nslots", st.NSlots, "buf_size", st.BufSize,
			"new_nslots", q.opts.NSlots, "new_buf_size", q.opts.BufSize)
		return q.createFiles(os.O_RDWR, "recreated", 0)
	}
	return q.mapFiles(st)
}

// createFiles resizes queue files to the configured geometry and initializes them.
// Existing files are truncated in place, so that other processes see the new state.
func (q *Queue) createFiles(statFlag int, reason string, resets uint32) error {
	s, err := openStore(q.paths.Stat, statFlag, q.opts.Perm, statusFileSize(q.opts.NSlots), false)
	if err != nil {
		return err
	}
	b, err := openBuffer(q.paths.Buf, os.O_CREATE|os.O_RDWR, q.opts.Perm, q.opts.BufSize, true)
	if err != nil {
		s.close()
		return err
	}
	s.bufSize = b.size
	st := newStatus(q.opts.NSlots, q.opts.BufSize, time.Now())
	st.ResetCount = resets
	s.init(&st)
	q.store, q.buf = s, b
	q.log.Info("queue "+reason, "nslots", st.NSlots, "buf_size", st.BufSize)
	return nil
}

func (q *Queue) mapFiles(st Status) error {
	flag := os.O_RDWR
	if q.readOnly {
		flag = os.O_RDONLY
	}
	s, err := openStore(q.paths.Stat, flag, 0, 0, q.readOnly)
	if err != nil {
		return err
	}
	b, err := openBuffer(q.paths.Buf, flag, 0, st.BufSize, false)
	if err != nil {
		s.close()
		return err
	}
	s.bufSize = b.size
	q.store, q.buf = s, b
	return nil
}

func fileSize(path string) int64 {
	fi, err := os.Stat(path)
	if err != nil {
		return -1
	}
	return fi.Size()
}

// position sets the initial read position of a just opened queue.
func (q *Queue) position(created bool) error {
	st, err := q.rawStatus()
	if err != nil {
		return err
	}
	q.created, q.resets = st.TimeCreated, st.ResetCount
	if created {
		q.cur = cursor{id: st.YoungestID, slot: st.YoungestSlot}
		return nil
	}
	return q.seekLocked(&st, q.opts.OpenPosition)
}

func (q *Queue) closeFiles() {
	if q.store != nil {
		q.store.close()
		q.store = nil
	}
	if q.buf != nil {
		q.buf.close()
		q.buf = nil
	}
}

// Name returns queue's base path.
func (q *Queue) Name() string {
	return q.paths.Base
}

// Paths returns the names of queue files.
func (q *Queue) Paths() qfile.Paths {
	return q.paths
}

// NSlots returns the number of slots of the queue.
func (q *Queue) NSlots() int {
	return q.store.nslots
}

// BufSize returns the size of queue's buffer.
func (q *Queue) BufSize() int64 {
	return q.buf.size
}

// Close closes the handle. Queue files stay intact.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	var result error
	if err := q.store.close(); err != nil {
		result = err
	}
	if err := q.buf.close(); err != nil && result == nil {
		result = err
	}
	if err := q.locker.Close(); err != nil && result == nil {
		result = errors.Wrap(err, "failed to close lock file")
	}
	if err := q.codecs.Close(); err != nil && result == nil {
		result = err
	}
	if result != nil {
		return newError(KindIO, "close", result)
	}
	return nil
}

// Destroy closes the handle and removes all files of the queue.
func (q *Queue) Destroy() error {
	if err := q.Close(); err != nil {
		return err
	}
	if err := q.paths.RemoveAll(); err != nil {
		return newError(KindIO, "destroy", err)
	}
	return nil
}

// Sync flushes the status file and the buffer file to the storage device.
// Queue operations never sync on their own.
func (q *Queue) Sync() error {
	return q.do("sync", func() error {
		if err := q.store.flush(); err != nil {
			return newError(KindIO, "", err)
		}
		if err := q.buf.sync(); err != nil {
			return newError(KindIO, "", err)
		}
		return nil
	})
}

// do runs fn with the handle mutex and the queue lock held.
func (q *Queue) do(op string, fn func() error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return newError(KindClosed, op, ErrClosed)
	}
	if err := q.lockFile(); err != nil {
		return withOp(op, err)
	}
	err := fn()
	if unlockErr := q.locker.Unlock(); unlockErr != nil && err == nil {
		err = newError(KindLock, op, unlockErr)
	}
	return withOp(op, err)
}

func (q *Queue) lockFile() error {
	var err error
	if q.readOnly {
		err = q.locker.LockShared(q.opts.LockTimeout)
	} else {
		err = q.locker.Lock(q.opts.LockTimeout)
	}
	if err != nil {
		if err == lock.ErrLockTimeout {
			q.log.Warn("queue lock timeout", "timeout", q.opts.LockTimeout)
		}
		return newError(KindLock, "", err)
	}
	return nil
}

// withOp sets the operation of queue errors, and turns other errors into io errors.
func withOp(op string, err error) error {
	if err == nil {
		return nil
	}
	var qErr *Error
	if errors.As(err, &qErr) {
		if qErr.Op == "" {
			qErr.Op = op
		}
		return err
	}
	return newError(KindIO, op, err)
}

// rawStatus checks queue files and reads the status. It never changes the handle's state.
func (q *Queue) rawStatus() (Status, error) {
	if err := q.store.checkSize(); err != nil {
		return Status{}, err
	}
	if err := q.buf.checkSize(); err != nil {
		return Status{}, err
	}
	return q.store.readStatus()
}

// status reads the status and moves the cursor to the start,
// if the queue was reinitialized since the last operation.
func (q *Queue) status() (Status, error) {
	st, err := q.rawStatus()
	if err != nil {
		return st, err
	}
	if !st.TimeCreated.Equal(q.created) || st.ResetCount != q.resets {
		q.log.Info("queue was reinitialized, reading from the start", "reset_count", st.ResetCount)
		q.created, q.resets = st.TimeCreated, st.ResetCount
		q.cur = cursor{id: 0, slot: -1}
	}
	return st, nil
}

// withStatus reads the status and calls fn. If the queue is corrupt and the recovery
// policy allows it, the queue is reset and fn is called once more.
func (q *Queue) withStatus(fn func(st *Status) error) error {
	st, err := q.status()
	if err == nil {
		err = fn(&st)
	}
	if err == nil || !q.recover(err) {
		return err
	}
	if st, err = q.status(); err != nil {
		return err
	}
	return fn(&st)
}

// recover applies the recovery policy to err.
// It returns true, if the queue was reset and the operation may be repeated.
func (q *Queue) recover(err error) bool {
	if !IsKind(err, KindCorrupt) {
		return false
	}
	if q.opts.Recovery != RecoveryReset || q.readOnly {
		q.log.Error("queue is corrupt", "error", err)
		return false
	}
	q.log.Warn("queue is corrupt, resetting", "error", err)
	q.reset()
	return true
}

// reset reinitializes the queue keeping its geometry.
func (q *Queue) reset() {
	st := newStatus(q.store.nslots, q.buf.size, time.Now())
	if old, err := decodeStatus(q.store.records.Header()); err == nil {
		st.ResetCount = old.ResetCount
		st.TimeCreated = old.TimeCreated
	}
	st.ResetCount++
	q.store.init(&st)
	q.created, q.resets = st.TimeCreated, st.ResetCount
	q.cur = cursor{id: 0, slot: -1}
	q.counters.resets.Add(1)
}

// wait sleeps for the poll interval between checks of a blocking operation.
func (q *Queue) wait(ctx context.Context, op string, attempt int) error {
	if q.opts.MaxRetries > 0 && attempt >= q.opts.MaxRetries {
		return newError(KindCanceled, op, ErrRetriesExceeded)
	}
	if q.opts.Heartbeat != nil {
		q.opts.Heartbeat(op + " " + q.paths.Base)
	}
	timer := time.NewTimer(q.opts.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return newError(KindCanceled, op, errors.Wrap(ctx.Err(), "wait interrupted"))
	case <-timer.C:
		return nil
	}
}
