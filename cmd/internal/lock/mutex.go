package lock

import "sync"

// Mutex is a single-holder FIFO lock. The zero value is unlocked and ready to use.
//
// Ownership passes directly from the releasing holder to the head of the wait queue,
// so a late arrival can never overtake a queued waiter.
type Mutex struct {
	mu      sync.Mutex
	locked  bool
	waiters []chan struct{}
}

// NewMutex returns an unlocked Mutex.
func NewMutex() *Mutex {
	return &Mutex{}
}

// Acquire blocks until the caller holds the lock and returns its release func.
// Release is idempotent; only the first call has an effect.
func (m *Mutex) Acquire() (release func()) {
	m.mu.Lock()
	if !m.locked {
		m.locked = true
		m.mu.Unlock()
		return m.releaser()
	}

	ch := make(chan struct{})
	m.waiters = append(m.waiters, ch)
	m.mu.Unlock()

	<-ch
	return m.releaser()
}

func (m *Mutex) releaser() func() {
	var once sync.Once
	return func() {
		once.Do(m.release)
	}
}

func (m *Mutex) release() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.waiters) == 0 {
		m.locked = false
		return
	}

	// Hand off: the lock stays held and the head waiter becomes the holder.
	next := m.waiters[0]
	m.waiters[0] = nil
	m.waiters = m.waiters[1:]
	close(next)
}

// WithLock runs fn while holding the lock and returns fn's error.
// The lock is released on every exit path, including a panic in fn.
func (m *Mutex) WithLock(fn func() error) error {
	release := m.Acquire()
	defer release()
	return fn()
}

// WithLockValue is WithLock for functions that produce a value.
func WithLockValue[T any](m *Mutex, fn func() (T, error)) (T, error) {
	release := m.Acquire()
	defer release()
	return fn()
}

// IsLocked reports whether a holder currently owns the lock.
// Queued waiters imply a holder, so an unlocked Mutex has no waiters.
func (m *Mutex) IsLocked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locked
}

// queued returns the number of goroutines waiting behind the holder.
func (m *Mutex) queued() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiters)
}
