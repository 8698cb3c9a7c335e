package idempotency

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestStart_OnceUntilRemovedOrExpired(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	m := NewManager[string](time.Minute, WithClock(clk.Now))
	defer m.Close()

	require.True(t, m.Start("k"))
	assert.False(t, m.Start("k"))
	assert.False(t, m.Start("k"))

	require.True(t, m.Remove("k"))
	require.True(t, m.Start("k"))

	clk.Advance(time.Minute)
	assert.True(t, m.Start("k"), "expired pending entry must not block")
}

func TestCompleteThenCheck(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	m := NewManager[string](time.Minute, WithClock(clk.Now))
	defer m.Close()

	require.True(t, m.Start("k"))
	clk.Advance(50 * time.Second)
	require.True(t, m.Complete("k", "r"))

	got := m.Check("k")
	assert.Equal(t, CheckResult[string]{Exists: true, Status: StatusCompleted, Result: "r"}, got)

	// Expiry is measured from settlement, not creation.
	clk.Advance(59 * time.Second)
	assert.True(t, m.Check("k").Exists)

	clk.Advance(time.Second)
	assert.Equal(t, CheckResult[string]{}, m.Check("k"))
}

func TestFailThenCheck(t *testing.T) {
	t.Parallel()

	m := NewManager[int](time.Minute)
	defer m.Close()

	boom := errors.New("boom")
	require.True(t, m.Start("k"))
	require.True(t, m.Fail("k", boom))
	assert.False(t, m.Complete("k", 1), "settled entries are terminal")

	got := m.Check("k")
	assert.True(t, got.Exists)
	assert.Equal(t, StatusFailed, got.Status)
	assert.ErrorIs(t, got.Err, boom)
}

func TestCompleteWithoutEntry(t *testing.T) {
	t.Parallel()

	m := NewManager[int](time.Minute)
	defer m.Close()

	assert.False(t, m.Complete("missing", 1))
	assert.False(t, m.Fail("missing", errors.New("x")))
	assert.False(t, m.Remove("missing"))
}

func TestExecute_ConcurrentCallersShareOneExecution(t *testing.T) {
	t.Parallel()

	m := NewManager[string](time.Minute)
	defer m.Close()

	const n = 32
	var calls atomic.Int32
	release := make(chan struct{})

	op := func(context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "approved", nil
	}

	results := make([]Result[string], n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.Execute(context.Background(), "approval:verify:x", op)
		}(i)
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	fresh := 0
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "approved", results[i].Value)
		if !results[i].Cached {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh)
}

func TestExecute_ThreeCallersWithinOperationDuration(t *testing.T) {
	t.Parallel()

	m := NewManager[int](time.Minute)
	defer m.Close()

	var calls atomic.Int32
	op := func(context.Context) (int, error) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond)
		return 7, nil
	}

	start := time.Now()
	var wg sync.WaitGroup
	values := make([]int, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := m.Execute(context.Background(), GenerateKey("approval:verify", "x"), op)
			assert.NoError(t, err)
			values[i] = r.Value
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, []int{7, 7, 7}, values)
	assert.Less(t, time.Since(start), time.Second)
}

func TestExecute_CachedAfterCompletion(t *testing.T) {
	t.Parallel()

	m := NewManager[string](time.Minute)
	defer m.Close()

	var calls atomic.Int32
	op := func(context.Context) (string, error) {
		calls.Add(1)
		return "ok", nil
	}

	first, err := m.Execute(context.Background(), "k", op)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := m.Execute(context.Background(), "k", op)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, "ok", second.Value)
	assert.Equal(t, int32(1), calls.Load())
}

func TestExecute_FailurePropagatesAndBlocksRetry(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	m := NewManager[string](time.Minute, WithClock(clk.Now))
	defer m.Close()

	boom := errors.New("verification failed")
	var calls atomic.Int32
	failing := func(context.Context) (string, error) {
		calls.Add(1)
		return "", boom
	}

	_, err := m.Execute(context.Background(), "k", failing)
	require.ErrorIs(t, err, boom)

	r, err := m.Execute(context.Background(), "k", failing)
	require.ErrorIs(t, err, boom)
	assert.True(t, r.Cached)
	assert.Equal(t, int32(1), calls.Load())

	// Explicit removal permits a fresh attempt.
	require.True(t, m.Remove("k"))
	_, err = m.Execute(context.Background(), "k", failing)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, int32(2), calls.Load())

	// So does expiry.
	clk.Advance(time.Minute)
	_, _ = m.Execute(context.Background(), "k", failing)
	assert.Equal(t, int32(3), calls.Load())
}

func TestExecute_WaitersReceiveFailure(t *testing.T) {
	t.Parallel()

	m := NewManager[int](time.Minute)
	defer m.Close()

	boom := errors.New("boom")
	release := make(chan struct{})
	started := make(chan struct{})

	go func() {
		_, _ = m.Execute(context.Background(), "k", func(context.Context) (int, error) {
			close(started)
			<-release
			return 0, boom
		})
	}()
	<-started

	errCh := make(chan error, 1)
	go func() {
		_, err := m.Execute(context.Background(), "k", func(context.Context) (int, error) {
			t.Error("second operation must not run")
			return 0, nil
		})
		errCh <- err
	}()

	close(release)
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, boom)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never released")
	}
}

func TestExecute_WaiterHonorsOwnContext(t *testing.T) {
	t.Parallel()

	m := NewManager[int](time.Minute)
	defer m.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan Result[int], 1)
	go func() {
		r, _ := m.Execute(context.Background(), "k", func(context.Context) (int, error) {
			close(started)
			<-release
			return 1, nil
		})
		done <- r
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Execute(ctx, "k", func(context.Context) (int, error) { return 2, nil })
	require.ErrorIs(t, err, context.Canceled)

	// The shared execution is unaffected.
	close(release)
	r := <-done
	assert.Equal(t, 1, r.Value)
	assert.Equal(t, StatusCompleted, m.Check("k").Status)
}

func TestExecute_OperationContextNotCanceledByCaller(t *testing.T) {
	t.Parallel()

	m := NewManager[string](time.Minute)
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r, err := m.Execute(ctx, "k", func(opCtx context.Context) (string, error) {
		return "ran", opCtx.Err()
	})
	require.NoError(t, err)
	assert.Equal(t, "ran", r.Value)
}

func TestExecute_PanicSettlesAsFailed(t *testing.T) {
	t.Parallel()

	m := NewManager[int](time.Minute)
	defer m.Close()

	func() {
		defer func() {
			assert.NotNil(t, recover())
		}()
		_, _ = m.Execute(context.Background(), "k", func(context.Context) (int, error) {
			panic("handler bug")
		})
	}()

	got := m.Check("k")
	assert.Equal(t, StatusFailed, got.Status)
	assert.ErrorIs(t, got.Err, ErrOperationPanicked)
}

func TestExecute_ReleasedByManualComplete(t *testing.T) {
	t.Parallel()

	m := NewManager[string](time.Minute)
	defer m.Close()

	require.True(t, m.Start("k"))

	done := make(chan Result[string], 1)
	go func() {
		r, _ := m.Execute(context.Background(), "k", func(context.Context) (string, error) {
			return "unexpected", nil
		})
		done <- r
	}()

	require.True(t, m.Complete("k", "manual"))
	select {
	case r := <-done:
		assert.Equal(t, "manual", r.Value)
		assert.True(t, r.Cached)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never released")
	}
}

func TestStats(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	m := NewManager[int](time.Minute, WithClock(clk.Now))
	defer m.Close()

	require.True(t, m.Start("pending"))
	require.True(t, m.Start("done"))
	require.True(t, m.Complete("done", 1))
	require.True(t, m.Start("failed"))
	require.True(t, m.Fail("failed", errors.New("x")))

	assert.Equal(t, Stats{Total: 3, Pending: 1, Completed: 1, Failed: 1}, m.Stats())

	clk.Advance(time.Minute)
	assert.Equal(t, Stats{}, m.Stats())
}

func TestSweepAndClose(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	m := NewManager[int](time.Minute, WithClock(clk.Now), WithSweepInterval(time.Hour))

	require.True(t, m.Start("a"))
	require.True(t, m.Start("b"))
	clk.Advance(30 * time.Second)
	require.True(t, m.Start("c"))
	clk.Advance(30 * time.Second)

	assert.Equal(t, 2, m.Sweep())
	assert.Equal(t, 1, m.Stats().Total)

	m.Close()
	assert.Equal(t, Stats{}, m.Stats())

	_, err := m.Execute(context.Background(), "z", func(context.Context) (int, error) { return 1, nil })
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStatus_String(t *testing.T) {
	t.Parallel()

	cases := map[Status]string{
		StatusPending:   "pending",
		StatusCompleted: "completed",
		StatusFailed:    "failed",
		Status(0):       "unknown",
	}
	for in, want := range cases {
		if got := in.String(); got != want {
			t.Fatalf("Status(%d).String()=%q want=%q", in, got, want)
		}
	}
}
