package usecase

import "sync"

// threadLocks serializes exchanges per thread. The lock for a thread is held
// from the moment the user message is persisted until maintenance has been
// evaluated, so a second exchange on the same thread always composes its
// context from the first exchange's completed writes. Entries live for the
// process lifetime; growth is bounded by the number of distinct threads seen.
type threadLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newThreadLocks() *threadLocks {
	return &threadLocks{locks: make(map[string]*sync.Mutex)}
}

// acquire locks the given thread and returns the matching unlock function.
func (t *threadLocks) acquire(threadID string) func() {
	t.mu.Lock()
	l, ok := t.locks[threadID]
	if !ok {
		l = &sync.Mutex{}
		t.locks[threadID] = l
	}
	t.mu.Unlock()

	l.Lock()
	return l.Unlock
}
