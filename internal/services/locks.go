package services

import (
	"sync"
)

// trackLocks hands out one mutex per track. Entries are dropped when no
// caller holds or waits on them.
type trackLocks struct {
	mu    sync.Mutex
	locks map[uint64]*trackLock
}

type trackLock struct {
	mu   sync.Mutex
	refs int
}

func newTrackLocks() *trackLocks {
	return &trackLocks{locks: make(map[uint64]*trackLock)}
}

// Lock blocks until the track's lock is held and returns its release func
func (l *trackLocks) Lock(trackID uint64) func() {
	l.mu.Lock()
	lock, ok := l.locks[trackID]
	if !ok {
		lock = &trackLock{}
		l.locks[trackID] = lock
	}
	lock.refs++
	l.mu.Unlock()

	lock.mu.Lock()

	return func() {
		lock.mu.Unlock()

		l.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(l.locks, trackID)
		}
		l.mu.Unlock()
	}
}

func (l *trackLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
