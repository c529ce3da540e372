package service

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// dialogLocks serializes turns per dialog id. Entries are reference counted
// and dropped once nobody holds or waits for them.
type dialogLocks struct {
	mu    sync.Mutex
	locks map[int64]*dialogLock
}

type dialogLock struct {
	sem  *semaphore.Weighted
	refs int
}

func newDialogLocks() *dialogLocks {
	return &dialogLocks{locks: make(map[int64]*dialogLock)}
}

// Lock blocks until the dialog is free or ctx is done.
func (l *dialogLocks) Lock(ctx context.Context, dialogID int64) (func(), error) {
	l.mu.Lock()
	entry, ok := l.locks[dialogID]
	if !ok {
		entry = &dialogLock{sem: semaphore.NewWeighted(1)}
		l.locks[dialogID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	if err := entry.sem.Acquire(ctx, 1); err != nil {
		l.release(dialogID, entry)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			entry.sem.Release(1)
			l.release(dialogID, entry)
		})
	}, nil
}

func (l *dialogLocks) release(dialogID int64, entry *dialogLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, dialogID)
	}
}

func (l *dialogLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
