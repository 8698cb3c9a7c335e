package lock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNamedMutexManager_SameKeySameInstance(t *testing.T) {
	t.Parallel()

	n := NewNamedMutexManager()

	a1 := n.GetMutex("pairing:verify:a")
	a2 := n.GetMutex("pairing:verify:a")
	b := n.GetMutex("pairing:verify:b")

	assert.Same(t, a1, a2)
	assert.NotSame(t, a1, b)
	assert.Equal(t, 2, n.Len())
}

func TestNamedMutexManager_DifferentKeysIndependent(t *testing.T) {
	t.Parallel()

	n := NewNamedMutexManager()

	holdA := make(chan struct{})
	enteredA := make(chan struct{})
	go func() {
		_ = n.WithLock("a", func() error {
			close(enteredA)
			<-holdA
			return nil
		})
	}()
	<-enteredA

	done := make(chan struct{})
	go func() {
		_ = n.WithLock("b", func() error { return nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("key b blocked behind key a")
	}
	close(holdA)
}

func TestNamedMutexManager_SameKeySerializes(t *testing.T) {
	t.Parallel()

	n := NewNamedMutexManager()

	hold := make(chan struct{})
	entered := make(chan struct{})
	go func() {
		_ = n.WithLock("k", func() error {
			close(entered)
			<-hold
			return nil
		})
	}()
	<-entered

	second := make(chan struct{})
	go func() {
		_ = n.WithLock("k", func() error { return nil })
		close(second)
	}()

	select {
	case <-second:
		t.Fatal("second holder entered while first still held the key")
	case <-time.After(50 * time.Millisecond):
	}

	close(hold)
	select {
	case <-second:
	case <-time.After(2 * time.Second):
		t.Fatal("second holder never entered")
	}
}

func TestNamedMutexManager_CleanupKeepsHeld(t *testing.T) {
	t.Parallel()

	n := NewNamedMutexManager()

	held := n.GetMutex("held")
	release := held.Acquire()
	_ = n.GetMutex("idle-1")
	_ = n.GetMutex("idle-2")

	removed := n.Cleanup()
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, n.Len())
	assert.Same(t, held, n.GetMutex("held"))
	assert.True(t, held.IsLocked())

	release()
	assert.Equal(t, 1, n.Cleanup())
	assert.Equal(t, 0, n.Len())
}

func TestNamedMutexManager_CleanupKeepsQueuedWaiters(t *testing.T) {
	t.Parallel()

	n := NewNamedMutexManager()

	hold := make(chan struct{})
	entered := make(chan struct{})
	go func() {
		_ = n.WithLock("k", func() error {
			close(entered)
			<-hold
			return nil
		})
	}()
	<-entered

	waiterDone := make(chan struct{})
	go func() {
		_ = n.WithLock("k", func() error { return nil })
		close(waiterDone)
	}()
	m := n.GetMutex("k")
	require.Eventually(t, func() bool { return m.queued() == 1 }, 2*time.Second, time.Millisecond)

	assert.Equal(t, 0, n.Cleanup())
	assert.Same(t, m, n.GetMutex("k"))

	close(hold)
	<-waiterDone
	require.Eventually(t, func() bool { return n.Cleanup() == 1 }, 2*time.Second, time.Millisecond)
}

func TestNamedMutexManager_AcquirePinsAgainstCleanup(t *testing.T) {
	t.Parallel()

	n := NewNamedMutexManager()

	release := n.Acquire("k")
	assert.Equal(t, 0, n.Cleanup())
	m := n.GetMutex("k")
	assert.True(t, m.IsLocked())

	acquired := make(chan func())
	go func() { acquired <- n.Acquire("k") }()

	select {
	case <-acquired:
		t.Fatal("second Acquire must wait for the holder")
	case <-time.After(20 * time.Millisecond):
	}

	release()
	release() // idempotent

	var release2 func()
	select {
	case release2 = <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Acquire never got the lock")
	}
	assert.Equal(t, 0, n.Cleanup())
	assert.Same(t, m, n.GetMutex("k"))

	release2()
	assert.Equal(t, 1, n.Cleanup())
}

func TestNamedMutexManager_GetMutexIsNotPinned(t *testing.T) {
	t.Parallel()

	n := NewNamedMutexManager()

	m := n.GetMutex("k")
	require.Equal(t, 1, n.Cleanup())
	assert.NotSame(t, m, n.GetMutex("k"))
}
