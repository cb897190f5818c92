package storage

import "sync"

// PathLocks hands out a reader/writer lock per path. Entries are reference
// counted and dropped once nobody holds or waits for them.
type PathLocks struct {
	mu    sync.Mutex
	locks map[string]*pathLock
}

type pathLock struct {
	sync.RWMutex
	refs int
}

// NewPathLocks returns an empty lock table.
func NewPathLocks() *PathLocks {
	return &PathLocks{locks: make(map[string]*pathLock)}
}

func (l *PathLocks) acquire(p string) *pathLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	pl, ok := l.locks[p]
	if !ok {
		pl = &pathLock{}
		l.locks[p] = pl
	}
	pl.refs++
	return pl
}

func (l *PathLocks) release(p string, pl *pathLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pl.refs--
	if pl.refs == 0 {
		delete(l.locks, p)
	}
}

// RLock takes the read lock for p and returns the matching unlock function.
func (l *PathLocks) RLock(p string) func() {
	pl := l.acquire(p)
	pl.RLock()
	return func() {
		pl.RUnlock()
		l.release(p, pl)
	}
}

// Lock takes the write lock for p and returns the matching unlock function.
func (l *PathLocks) Lock(p string) func() {
	pl := l.acquire(p)
	pl.Lock()
	return func() {
		pl.Unlock()
		l.release(p, pl)
	}
}

// Len returns the number of paths currently tracked.
func (l *PathLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
