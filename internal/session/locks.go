package session

import (
	"sync"

	"github.com/google/uuid"
)

// sessionLocks is a keyed mutex table guaranteeing at most one in-flight
// mutating operation per session id. Entries are reference-counted and
// evicted once idle, following the same keep-while-used shape as the
// rate limiter's visitor table.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[uuid.UUID]*sessionLock)}
}

// Acquire blocks until the mutex for id is held. The returned release
// func must be called exactly once.
func (l *sessionLocks) Acquire(id uuid.UUID) (release func()) {
	l.mu.Lock()
	entry, ok := l.locks[id]
	if !ok {
		entry = &sessionLock{}
		l.locks[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			entry.mu.Unlock()
			l.mu.Lock()
			entry.refs--
			if entry.refs == 0 {
				delete(l.locks, id)
			}
			l.mu.Unlock()
		})
	}
}
