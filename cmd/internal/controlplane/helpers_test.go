package controlplane

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errTransportRefused = errors.New("transport refused")

type fakeTransport struct {
	mu          sync.Mutex
	state       TransportState
	refuse      bool
	sent        [][]byte
	closeCode   int
	closeReason string
	closeCalls  int

	// onClose runs after Close, outside the transport lock.
	onClose func()
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{state: StateOpen}
}

func (t *fakeTransport) State() TransportState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *fakeTransport) Send(b []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.refuse {
		return errTransportRefused
	}
	t.sent = append(t.sent, append([]byte(nil), b...))
	return nil
}

func (t *fakeTransport) Close(code int, reason string) error {
	t.mu.Lock()
	t.closeCalls++
	t.closeCode = code
	t.closeReason = reason
	t.state = StateClosed
	hook := t.onClose
	t.mu.Unlock()

	if hook != nil {
		hook()
	}
	return nil
}

func (t *fakeTransport) setState(s TransportState) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func (t *fakeTransport) frames(tb testing.TB) []map[string]any {
	tb.Helper()
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]map[string]any, 0, len(t.sent))
	for _, b := range t.sent {
		var m map[string]any
		require.NoError(tb, json.Unmarshal(b, &m))
		out = append(out, m)
	}
	return out
}

func (t *fakeTransport) sentCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

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

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func newTestClient(t *testing.T, id string, opts ...ClientOption) (*Client, *fakeTransport) {
	t.Helper()
	tr := newFakeTransport()
	opts = append([]ClientOption{WithClientID(id)}, opts...)
	c, err := NewClient(tr, ConnInfo{RemoteAddress: "10.0.0.1:5555", UserAgent: "test"}, opts...)
	require.NoError(t, err)
	return c, tr
}
