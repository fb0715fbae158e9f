package memory

import "sync"

// threadLocks serializes mutation per thread key. Interleaved appends from
// concurrent events on the same conversation would break the tool-call /
// tool-result adjacency invariant, so same-key callers queue here while
// distinct keys proceed in parallel.
type threadLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newThreadLocks() *threadLocks {
	return &threadLocks{locks: make(map[string]*sync.Mutex)}
}

func (t *threadLocks) lock(key string) func() {
	t.mu.Lock()
	l, ok := t.locks[key]
	if !ok {
		l = &sync.Mutex{}
		t.locks[key] = l
	}
	t.mu.Unlock()

	l.Lock()
	return l.Unlock
}
