// Copyright 2016 Aleksandr Demakin. All rights reserved.

package mq

import (
	"fmt"

	"github.com/nxgtw/go-fmq/lock"

	"github.com/pkg/errors"
)

// ErrorKind classifies queue errors.
type ErrorKind int

const (
	// KindUnknown is the kind of errors, which were not produced by the queue.
	KindUnknown ErrorKind = iota
	// KindConfig means invalid parameters or a message larger than the buffer. Never retried.
	KindConfig
	// KindLock means the queue lock could not be acquired.
	KindLock
	// KindCorrupt means the on-disk queue state is inconsistent.
	KindCorrupt
	// KindIO means a failed read or write of a queue file.
	KindIO
	// KindNoSpace means a protected write would overwrite unread messages.
	KindNoSpace
	// KindClosed means the queue handle was closed.
	KindClosed
	// KindCanceled means a blocking call was canceled or ran out of retries.
	KindCanceled
	// KindResized means the queue was recreated with a different geometry by another process.
	KindResized
	// KindPayload means a stored message could not be decoded. Readers move past such messages.
	KindPayload
)

var (
	// ErrMsgTooLarge is returned, if a message can never fit into the buffer.
	ErrMsgTooLarge = errors.New("message is larger than the queue buffer")
	// ErrNoSpace is returned by nonblocking protected writes, when the reader lags behind.
	ErrNoSpace = errors.New("no space for the message without overwriting unread data")
	// ErrClosed is returned by operations on a closed queue.
	ErrClosed = errors.New("the queue is closed")
	// ErrRetriesExceeded is returned by blocking calls, which polled MaxRetries times.
	ErrRetriesExceeded = errors.New("max number of retries exceeded")
	// ErrShortBuffer is returned by Receive, if the destination is too small for the message.
	ErrShortBuffer = errors.New("the buffer is too small for the message")
	// ErrBadPayload is returned by readers for a message, which cannot be decompressed.
	ErrBadPayload = errors.New("message payload cannot be decoded")
)

var kindNames = [...]string{
	KindUnknown:  "unknown",
	KindConfig:   "config",
	KindLock:     "lock",
	KindCorrupt:  "corrupt",
	KindIO:       "io",
	KindNoSpace:  "no space",
	KindClosed:   "closed",
	KindCanceled: "canceled",
	KindResized:  "resized",
	KindPayload:  "payload",
}

func (k ErrorKind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// Error is an error returned by queue operations.
type Error struct {
	Kind ErrorKind
	// Op is the operation, which failed: "open", "write", "read", "seek", etc.
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fmq %s: %s error: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Cause returns the underlying error for errors.Cause.
func (e *Error) Cause() error {
	return e.Err
}

// Temporary returns true, if the operation may succeed later without any changes.
func (e *Error) Temporary() bool {
	switch e.Kind {
	case KindNoSpace:
		return true
	case KindLock:
		return errors.Is(e.Err, lock.ErrLockBusy) || errors.Is(e.Err, lock.ErrLockTimeout)
	}
	return false
}

func newError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func corruptf(op, format string, args ...interface{}) *Error {
	return newError(KindCorrupt, op, errors.Errorf(format, args...))
}

// wrapIO wraps errors of file operations. Errors already classified are returned as is.
func wrapIO(op string, err error, msg string) error {
	if err == nil {
		return nil
	}
	var qErr *Error
	if errors.As(err, &qErr) {
		return err
	}
	return newError(KindIO, op, errors.Wrap(err, msg))
}

// KindOf returns the kind of err, or KindUnknown, if err was not produced by a queue.
func KindOf(err error) ErrorKind {
	var qErr *Error
	if errors.As(err, &qErr) {
		return qErr.Kind
	}
	return KindUnknown
}

// IsKind returns true, if err is a queue error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

type temporary interface {
	Temporary() bool
}

// IsTemporary returns true, if err reports a condition, which may go away by itself,
// for example, a busy lock or a lagging reader.
func IsTemporary(err error) bool {
	var tmp temporary
	if errors.As(err, &tmp) {
		return tmp.Temporary()
	}
	return false
}
