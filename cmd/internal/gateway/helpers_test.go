package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/psyberpunk/CoWork-OS-sub010/cmd/internal/audit"
	"github.com/psyberpunk/CoWork-OS-sub010/cmd/internal/auth"
	"github.com/psyberpunk/CoWork-OS-sub010/cmd/internal/controlplane"
	v1 "github.com/psyberpunk/CoWork-OS-sub010/shared/contracts/controlplane/v1"
)

type fakeTransport struct {
	mu          sync.Mutex
	state       controlplane.TransportState
	sent        [][]byte
	closeCode   int
	closeReason string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{state: controlplane.StateOpen}
}

func (t *fakeTransport) State() controlplane.TransportState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *fakeTransport) Send(b []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, append([]byte(nil), b...))
	return nil
}

func (t *fakeTransport) Close(code int, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeCode = code
	t.closeReason = reason
	t.state = controlplane.StateClosed
	return nil
}

func (t *fakeTransport) closed() (int, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeCode, t.closeReason
}

// events decodes every event frame sent with the given name.
func (t *fakeTransport) events(tb testing.TB, name string) []map[string]any {
	tb.Helper()
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []map[string]any
	for _, b := range t.sent {
		var m map[string]any
		require.NoError(tb, json.Unmarshal(b, &m))
		if m["type"] == "event" && m["event"] == name {
			out = append(out, m)
		}
	}
	return out
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

type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *recordingSink) Record(_ context.Context, e audit.Event) error {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Action)
	}
	return out
}

// denyAll rejects every credential.
var denyAll = auth.AuthenticatorFunc(func(context.Context, auth.Request) (auth.Grant, error) {
	return auth.Grant{}, auth.ErrInvalidCredentials
})

func newTestGateway(t *testing.T, clock *fakeClock, sink audit.Sink) *Gateway {
	t.Helper()
	g, err := New(DefaultConfig(), Options{
		Authenticator: denyAll,
		Audit:         sink,
		Clock:         clock.Now,
	})
	require.NoError(t, err)
	return g
}

// addClient registers a client on a fake transport, created at the clock's current time.
func addClient(t *testing.T, g *Gateway, clock *fakeClock) (*controlplane.Client, *fakeTransport) {
	t.Helper()
	tr := newFakeTransport()
	c, err := controlplane.NewClient(tr, controlplane.ConnInfo{RemoteAddress: "10.0.0.9:4000"},
		controlplane.WithClock(clock.Now))
	require.NoError(t, err)
	require.NoError(t, g.Registry().Add(c))
	return c, tr
}

func addOperator(t *testing.T, g *Gateway, clock *fakeClock, scopes ...string) (*controlplane.Client, *fakeTransport) {
	t.Helper()
	c, tr := addClient(t, g, clock)
	require.NoError(t, c.Authenticate(scopes, "console"))
	return c, tr
}

func addNode(t *testing.T, g *Gateway, clock *fakeClock, name string) (*controlplane.Client, *fakeTransport) {
	t.Helper()
	c, tr := addClient(t, g, clock)
	require.NoError(t, c.AuthenticateAsNode(controlplane.NodeRegistration{
		DeviceName:   name,
		Platform:     "macos",
		Capabilities: []string{"camera"},
	}))
	return c, tr
}

func request(t *testing.T, method string, params any) v1.RequestFrame {
	t.Helper()
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		require.NoError(t, err)
		raw = b
	}
	return v1.RequestFrame{Type: v1.FrameRequest, ID: "r-" + method, Method: method, Params: raw}
}
