// Copyright 2016 Aleksandr Demakin. All rights reserved.

package lock

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const (
	minPollInterval = time.Millisecond
	maxPollInterval = 20 * time.Millisecond
)

var (
	// ErrLockBusy is returned by TryLock, when the lock is held by someone else.
	ErrLockBusy = errors.New("the lock is held by another owner")
	// ErrLockTimeout is returned, when the lock could not be acquired in time.
	ErrLockTimeout = errors.New("lock acquisition timed out")
	// ErrNotLocked is returned by Unlock, if the lock is not held.
	ErrNotLocked = errors.New("the lock is not held")
	// ErrAlreadyLocked is returned, if the lock is already held by this FileLock.
	ErrAlreadyLocked = errors.New("the lock is already held")
)

// Locker is a minimal interface of a lock guarding one logical queue operation.
type Locker interface {
	Lock(timeout time.Duration) error
	Unlock() error
	io.Closer
}

// this is to ensure, that FileLock satisfies Locker.
var _ Locker = (*FileLock)(nil)

// FileLock is an exclusive or shared advisory lock on a dedicated lock file.
// The file is opened once and stays open until Close, so that every
// FileLock instance is an independent lock owner, even inside one process.
type FileLock struct {
	mu     sync.Mutex
	file   *os.File
	held   bool
	shared bool
}

// New opens or creates the lock file at path.
func New(path string, perm os.FileMode) (*FileLock, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, perm)
	if err != nil {
		// read-only access is enough for flock.
		var roErr error
		if file, roErr = os.OpenFile(path, os.O_RDONLY, 0); roErr != nil {
			return nil, errors.Wrap(err, "failed to open lock file")
		}
	}
	return &FileLock{file: file}, nil
}

// Path returns lock file's path.
func (l *FileLock) Path() string {
	return l.file.Name()
}

// Held returns true, if the lock is held by this instance.
func (l *FileLock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

// TryLock tries to take the exclusive lock without waiting.
// It returns ErrLockBusy, if the lock is held by another owner.
func (l *FileLock) TryLock() error {
	return l.acquire(false, true)
}

// Lock takes the exclusive lock waiting for not longer, than timeout.
// timeout < 0 means wait forever, timeout == 0 means TryLock.
func (l *FileLock) Lock(timeout time.Duration) error {
	return l.lockTimeout(false, timeout)
}

// LockShared takes a shared lock waiting for not longer, than timeout.
// Any number of shared owners may coexist, they all exclude exclusive owners.
func (l *FileLock) LockShared(timeout time.Duration) error {
	return l.lockTimeout(true, timeout)
}

// LockContext takes the exclusive lock, waiting until the context is done.
func (l *FileLock) LockContext(ctx context.Context) error {
	return l.poll(ctx, false)
}

func (l *FileLock) lockTimeout(shared bool, timeout time.Duration) error {
	if timeout == 0 {
		return l.acquire(shared, true)
	}
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	err := l.poll(ctx, shared)
	if errors.Cause(err) == context.DeadlineExceeded {
		return ErrLockTimeout
	}
	return err
}

// poll retries a nonblocking flock until it succeeds, or ctx is done.
// Polling is used instead of a blocking flock, so that waiting can be canceled.
func (l *FileLock) poll(ctx context.Context, shared bool) error {
	pause := minPollInterval
	for {
		err := l.acquire(shared, true)
		if err != ErrLockBusy {
			return err
		}
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "lock wait interrupted")
		case <-time.After(pause):
		}
		if pause *= 2; pause > maxPollInterval {
			pause = maxPollInterval
		}
	}
}

func (l *FileLock) acquire(shared, nonblock bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return os.ErrClosed
	}
	if l.held {
		return ErrAlreadyLocked
	}
	if err := flock(l.file, shared, nonblock); err != nil {
		return err
	}
	l.held, l.shared = true, shared
	return nil
}

// Unlock releases the lock.
func (l *FileLock) Unlock() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return os.ErrClosed
	}
	if !l.held {
		return ErrNotLocked
	}
	if err := funlock(l.file); err != nil {
		return errors.Wrap(err, "failed to unlock")
	}
	l.held = false
	return nil
}

// Close releases the lock, if held, and closes the lock file.
func (l *FileLock) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	// closing the descriptor drops the flock as well.
	err := l.file.Close()
	l.file, l.held = nil, false
	return err
}

// Destroy closes the lock and removes the lock file.
func (l *FileLock) Destroy() error {
	l.mu.Lock()
	path := ""
	if l.file != nil {
		path = l.file.Name()
	}
	l.mu.Unlock()
	if err := l.Close(); err != nil {
		return err
	}
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
