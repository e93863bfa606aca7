package session

import "sync"

// lockTable hands out one mutex per session ID, created lazily. The
// fast path is a plain Load; LoadOrStore only runs on first use, so the
// construction-on-first-access step is race-free without a table-wide lock.
type lockTable struct {
	locks sync.Map // session ID -> *sync.Mutex
}

// get returns the mutex for id, creating it on first use.
func (t *lockTable) get(id string) *sync.Mutex {
	if mu, ok := t.locks.Load(id); ok {
		return mu.(*sync.Mutex)
	}
	mu, _ := t.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// acquire returns the locked mutex for id, retrying when a concurrent
// drop replaced the mutex between lookup and lock. On return the held
// mutex is the one registered in the table, and drop waits for the
// holder, so append transactions stay totally ordered even across a
// delete and re-create of the same session ID.
func (t *lockTable) acquire(id string) *sync.Mutex {
	for {
		mu := t.get(id)
		mu.Lock()
		if cur, ok := t.locks.Load(id); ok && cur == mu {
			return mu
		}
		mu.Unlock()
	}
}

// drop removes the mutex for id after locking it, so an in-flight append
// transaction completes before the entry disappears. The next append
// allocates a fresh mutex.
func (t *lockTable) drop(id string) {
	mu := t.get(id)
	mu.Lock()
	t.locks.Delete(id)
	mu.Unlock()
}
