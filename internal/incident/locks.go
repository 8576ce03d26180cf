package incident

import "sync"

// keyLocks provides exclusive sections keyed by string. The Service uses it
// to serialize create-vs-attach decisions per correlation key and all
// mutations per incident id; unrelated keys proceed fully in parallel.
// Entries are reference counted and removed when the last holder unlocks,
// so the table does not grow with the id space.
type keyLocks struct {
	mu   sync.Mutex
	held map[string]*keyLock
}

type keyLock struct {
	refs int
	mu   sync.Mutex
}

func newKeyLocks() *keyLocks {
	return &keyLocks{held: make(map[string]*keyLock)}
}

// lock acquires the exclusive section for key and returns its release func.
func (l *keyLocks) lock(key string) (unlock func()) {
	l.mu.Lock()
	e, ok := l.held[key]
	if !ok {
		e = &keyLock{}
		l.held[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.held, key)
		}
		l.mu.Unlock()
	}
}
