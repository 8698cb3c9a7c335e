package idempotency

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

const defaultTTL = 5 * time.Minute

// Status is the lifecycle state of an entry.
type Status uint8

const (
	StatusPending Status = iota + 1
	StatusCompleted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText renders the status as its lowercase name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type entry[T any] struct {
	status    Status
	result    T
	err       error
	createdAt time.Time
	settledAt time.Time

	// done is closed exactly once, when the entry settles.
	done chan struct{}
}

func (e *entry[T]) expiresAt(ttl time.Duration) time.Time {
	if e.status == StatusPending {
		return e.createdAt.Add(ttl)
	}
	return e.settledAt.Add(ttl)
}

// CheckResult is the read-only view returned by Check.
type CheckResult[T any] struct {
	Exists bool
	Status Status
	Result T
	Err    error
}

// Result wraps the value returned by Execute.
// Cached is false only for the caller whose call actually ran the operation.
type Result[T any] struct {
	Value  T
	Cached bool
}

// Stats counts live entries by status.
type Stats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Option configures a Manager.
type Option func(*options)

type options struct {
	now           func() time.Time
	sweepInterval time.Duration
	log           *slog.Logger
}

// WithClock injects the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithSweepInterval starts a background goroutine that drops expired entries.
// Without it, entries are only dropped lazily when read.
func WithSweepInterval(d time.Duration) Option {
	return func(o *options) { o.sweepInterval = d }
}

// WithLogger sets the logger used for sweep and panic reporting.
func WithLogger(log *slog.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// Manager deduplicates operations by key. T is the operation's result type.
type Manager[T any] struct {
	ttl time.Duration
	now func() time.Time
	log *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry[T]
	closed  bool

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager constructs a Manager whose entries live for ttl (5 minutes when ttl <= 0).
func NewManager[T any](ttl time.Duration, opts ...Option) *Manager[T] {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	o := options{
		now: func() time.Time { return time.Now().UTC() },
		log: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	m := &Manager[T]{
		ttl:     ttl,
		now:     o.now,
		log:     o.log,
		entries: make(map[string]*entry[T]),
		stop:    make(chan struct{}),
	}

	if o.sweepInterval > 0 {
		m.wg.Add(1)
		go m.sweepLoop(o.sweepInterval)
	}
	return m
}

// TTL returns the configured entry lifetime.
func (m *Manager[T]) TTL() time.Duration { return m.ttl }

// liveLocked returns the unexpired entry for key, deleting it if it has expired.
func (m *Manager[T]) liveLocked(key string, now time.Time) *entry[T] {
	e, ok := m.entries[key]
	if !ok {
		return nil
	}
	if !now.Before(e.expiresAt(m.ttl)) {
		delete(m.entries, key)
		return nil
	}
	return e
}

// Start registers a pending entry for key if no live entry exists.
// It returns true when the caller may proceed and false for a duplicate.
func (m *Manager[T]) Start(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.liveLocked(key, now) != nil {
		return false
	}
	m.entries[key] = &entry[T]{
		status:    StatusPending,
		createdAt: now,
		done:      make(chan struct{}),
	}
	return true
}

// Complete settles a pending entry as completed. It reports false when there is
// no live pending entry for key.
func (m *Manager[T]) Complete(key string, result T) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.liveLocked(key, m.now())
	if e == nil || e.status != StatusPending {
		return false
	}
	m.settleLocked(e, result, nil)
	return true
}

// Fail settles a pending entry as failed. It reports false when there is
// no live pending entry for key.
func (m *Manager[T]) Fail(key string, err error) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.liveLocked(key, m.now())
	if e == nil || e.status != StatusPending {
		return false
	}
	var zero T
	m.settleLocked(e, zero, err)
	return true
}

func (m *Manager[T]) settleLocked(e *entry[T], result T, err error) {
	if err != nil {
		e.status = StatusFailed
		e.err = err
	} else {
		e.status = StatusCompleted
		e.result = result
	}
	e.settledAt = m.now()
	close(e.done)
}

// Check reports the state of key without modifying it (expired entries read as absent).
func (m *Manager[T]) Check(key string) CheckResult[T] {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.liveLocked(key, m.now())
	if e == nil {
		return CheckResult[T]{}
	}
	return CheckResult[T]{Exists: true, Status: e.status, Result: e.result, Err: e.err}
}

// Remove deletes the entry for key, allowing a fresh attempt before the TTL elapses.
func (m *Manager[T]) Remove(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[key]; !ok {
		return false
	}
	delete(m.entries, key)
	return true
}

// Execute runs op at most once per live key.
//
//   - completed entry: returns the cached value without calling op
//   - failed entry: returns the cached error without calling op
//   - pending entry: waits for the in-flight execution and returns its outcome
//   - no entry: registers one, runs op, settles the entry and returns the outcome
//
// op receives a context detached from ctx's cancellation because its result is shared with
// other callers. A waiting caller stops waiting when its own ctx is done.
func (m *Manager[T]) Execute(ctx context.Context, key string, op func(context.Context) (T, error)) (Result[T], error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Result[T]{}, ErrClosed
	}

	now := m.now()
	if e := m.liveLocked(key, now); e != nil {
		switch e.status {
		case StatusCompleted:
			v := e.result
			m.mu.Unlock()
			return Result[T]{Value: v, Cached: true}, nil
		case StatusFailed:
			err := e.err
			m.mu.Unlock()
			return Result[T]{Cached: true}, err
		default:
			m.mu.Unlock()
			return m.wait(ctx, e)
		}
	}

	e := &entry[T]{
		status:    StatusPending,
		createdAt: now,
		done:      make(chan struct{}),
	}
	m.entries[key] = e
	m.mu.Unlock()

	value, err := m.run(context.WithoutCancel(ctx), key, e, op)
	return Result[T]{Value: value, Cached: false}, err
}

func (m *Manager[T]) run(ctx context.Context, key string, e *entry[T], op func(context.Context) (T, error)) (value T, err error) {
	settled := false
	defer func() {
		if settled {
			return
		}
		// op panicked: settle as failed so waiters are released, then re-panic.
		r := recover()
		m.log.Error("idempotency.operation.panic", "key", key, "panic", fmt.Sprint(r))
		m.settle(e, value, fmt.Errorf("%w: %v", ErrOperationPanicked, r))
		panic(r)
	}()

	value, err = op(ctx)
	settled = true
	m.settle(e, value, err)
	return value, err
}

// settle records the outcome on e. A manual Complete/Fail that already settled e wins.
func (m *Manager[T]) settle(e *entry[T], value T, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.status != StatusPending {
		return
	}
	m.settleLocked(e, value, err)
}

func (m *Manager[T]) wait(ctx context.Context, e *entry[T]) (Result[T], error) {
	select {
	case <-e.done:
	case <-ctx.Done():
		return Result[T]{}, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e.status == StatusFailed {
		return Result[T]{Cached: true}, e.err
	}
	return Result[T]{Value: e.result, Cached: true}, nil
}

// Stats counts live entries by status.
func (m *Manager[T]) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var s Stats
	for key := range m.entries {
		e := m.liveLocked(key, now)
		if e == nil {
			continue
		}
		s.Total++
		switch e.status {
		case StatusPending:
			s.Pending++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		}
	}
	return s
}

// Sweep drops every expired entry and returns how many were removed.
func (m *Manager[T]) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for key := range m.entries {
		if m.liveLocked(key, now) == nil {
			removed++
		}
	}
	return removed
}

func (m *Manager[T]) sweepLoop(every time.Duration) {
	defer m.wg.Done()

	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-t.C:
			if n := m.Sweep(); n > 0 {
				m.log.Debug("idempotency.sweep", "removed", n)
			}
		}
	}
}

// Close stops the sweep goroutine and clears all entries.
// In-flight executions still settle and release their own waiters.
func (m *Manager[T]) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()

	m.mu.Lock()
	m.closed = true
	clear(m.entries)
	m.mu.Unlock()
}
