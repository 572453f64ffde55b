package orchestrator

import "sync"

// callLocks serializes work per call id. Sessions are single-writer.
type callLocks struct {
	mu sync.Mutex
	m  map[string]*callLock
}

type callLock struct {
	mu   sync.Mutex
	refs int
}

func newCallLocks() *callLocks {
	return &callLocks{m: make(map[string]*callLock)}
}

// lock blocks until callID is free and returns the unlock function.
func (l *callLocks) lock(callID string) func() {
	l.mu.Lock()
	cl, ok := l.m[callID]
	if !ok {
		cl = &callLock{}
		l.m[callID] = cl
	}
	cl.refs++
	l.mu.Unlock()

	cl.mu.Lock()
	return func() {
		cl.mu.Unlock()
		l.mu.Lock()
		cl.refs--
		if cl.refs == 0 {
			delete(l.m, callID)
		}
		l.mu.Unlock()
	}
}

func (l *callLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
