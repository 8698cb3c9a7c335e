package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psyberpunk/CoWork-OS-sub010/cmd/internal/auth"
	"github.com/psyberpunk/CoWork-OS-sub010/cmd/internal/gateway"
	"github.com/psyberpunk/CoWork-OS-sub010/cmd/security/token"
)

func newTestApp(t *testing.T, cfg Config) *App {
	t.Helper()
	gwCfg := gateway.DefaultConfig()
	gwCfg.OriginRequired = false
	gwCfg.ServerVersion = "test"

	a, err := NewWithDeps(context.Background(), cfg, slog.New(slog.DiscardHandler), Deps{
		Authenticator: auth.Anonymous{Scopes: []string{"read"}},
		Gateway:       &gwCfg,
		Fingerprinter: token.NewFingerprinter(nil),
	})
	require.NoError(t, err)
	return a
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestHandler_Routes(t *testing.T) {
	a := newTestApp(t, Config{MetricsEnabled: true})
	h := a.Handler()

	rr := get(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))

	rr = get(t, h, "/readyz")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = get(t, h, "/status")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"version":"test","connections":0,"authenticated":0,"pending":0,"nodes":0,
		"idempotency":{"total":0,"pending":0,"completed":0,"failed":0},"named_locks":0}`, rr.Body.String())

	rr = get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "cowork_clients")
}

func TestHandler_ReadyzRequiresDB(t *testing.T) {
	a := newTestApp(t, Config{ReadinessRequireDB: true})
	h := a.Handler()

	assert.Equal(t, http.StatusServiceUnavailable, get(t, h, "/readyz").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/metrics").Code)
}

func TestRun_ServesUntilCancelled(t *testing.T) {
	a := newTestApp(t, Config{HTTPAddr: "127.0.0.1:0", ShutdownTimeout: 2 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	var addr string
	select {
	case addr = <-a.ready:
	case err := <-done:
		t.Fatalf("Run returned early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", strings.TrimSpace(string(body)))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}
