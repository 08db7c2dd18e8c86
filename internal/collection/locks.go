package collection

import "sync"

// collectionLocks serializes the mutations of one collection together with
// the event each emits, so a room receives events in commit order.
// Entries are dropped once nobody holds or waits for them.
type collectionLocks struct {
	mu    sync.Mutex
	locks map[string]*collectionLock
}

type collectionLock struct {
	sync.Mutex
	refs int
}

func (l *collectionLocks) lock(id string) (unlock func()) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*collectionLock)
	}
	cl, ok := l.locks[id]
	if !ok {
		cl = &collectionLock{}
		l.locks[id] = cl
	}
	cl.refs++
	l.mu.Unlock()

	cl.Lock()
	return func() {
		cl.Unlock()
		l.mu.Lock()
		cl.refs--
		if cl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

func (l *collectionLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
