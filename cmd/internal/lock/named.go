package lock

import "sync"

type namedEntry struct {
	mu   *Mutex
	pins int
}

// NamedMutexManager is a pool of Mutex instances keyed by name.
//
// Operations on the same key serialize exactly like Mutex; different keys never block each other.
// Cleanup drops idle entries to bound growth under high key cardinality.
type NamedMutexManager struct {
	mu      sync.Mutex
	entries map[string]*namedEntry
}

// NewNamedMutexManager constructs an empty pool.
func NewNamedMutexManager() *NamedMutexManager {
	return &NamedMutexManager{entries: make(map[string]*namedEntry)}
}

// GetMutex returns the Mutex for key, creating it on first use.
// Repeated calls with the same key return the same instance until Cleanup drops it.
// The returned Mutex is not pinned: a Cleanup between GetMutex and Mutex.Acquire can drop it,
// after which GetMutex hands out a new instance. Use Acquire or WithLock when Cleanup may run
// concurrently.
func (n *NamedMutexManager) GetMutex(key string) *Mutex {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.entryLocked(key).mu
}

func (n *NamedMutexManager) entryLocked(key string) *namedEntry {
	e, ok := n.entries[key]
	if !ok {
		e = &namedEntry{mu: NewMutex()}
		n.entries[key] = e
	}
	return e
}

// Acquire locks the Mutex for key and returns its release func. The entry stays pinned until
// release, so Cleanup cannot drop it while the caller queues or holds it.
func (n *NamedMutexManager) Acquire(key string) (release func()) {
	n.mu.Lock()
	e := n.entryLocked(key)
	e.pins++
	n.mu.Unlock()

	unlock := e.mu.Acquire()
	var once sync.Once
	return func() {
		once.Do(func() {
			unlock()
			n.mu.Lock()
			e.pins--
			n.mu.Unlock()
		})
	}
}

// WithLock runs fn under the Mutex for key.
// The entry is pinned for the whole call, so a concurrent Cleanup cannot replace it
// between lookup and acquisition.
func (n *NamedMutexManager) WithLock(key string, fn func() error) error {
	n.mu.Lock()
	e := n.entryLocked(key)
	e.pins++
	n.mu.Unlock()

	defer func() {
		n.mu.Lock()
		e.pins--
		n.mu.Unlock()
	}()

	return e.mu.WithLock(fn)
}

// Cleanup removes entries that are unlocked and not pinned by an in-flight WithLock.
// It never removes a held Mutex or one with queued waiters. Returns the number removed.
func (n *NamedMutexManager) Cleanup() int {
	n.mu.Lock()
	defer n.mu.Unlock()

	removed := 0
	for key, e := range n.entries {
		if e.pins > 0 || e.mu.IsLocked() || e.mu.queued() > 0 {
			continue
		}
		delete(n.entries, key)
		removed++
	}
	return removed
}

// Len returns the number of pooled mutexes.
func (n *NamedMutexManager) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.entries)
}
