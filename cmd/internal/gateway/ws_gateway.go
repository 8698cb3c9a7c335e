package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/psyberpunk/CoWork-OS-sub010/cmd/internal/audit"
	"github.com/psyberpunk/CoWork-OS-sub010/cmd/internal/auth"
	"github.com/psyberpunk/CoWork-OS-sub010/cmd/internal/controlplane"
	"github.com/psyberpunk/CoWork-OS-sub010/cmd/internal/idempotency"
	"github.com/psyberpunk/CoWork-OS-sub010/cmd/internal/lock"
	"github.com/psyberpunk/CoWork-OS-sub010/cmd/security/token"
	v1 "github.com/psyberpunk/CoWork-OS-sub010/shared/contracts/controlplane/v1"
)

const (
	closeGrace       = 1 * time.Second
	maxPingFailures  = 3
	authTimeout      = 5 * time.Second
	auditRecordLimit = 2 * time.Second
)

// ErrNoAuthenticator is returned by New when Options.Authenticator is nil.
var ErrNoAuthenticator = errors.New("gateway: authenticator required")

// Options carries the collaborators of a Gateway. Only Authenticator is required.
type Options struct {
	Log           *slog.Logger
	Registry      *controlplane.Registry
	Authenticator auth.Authenticator
	Audit         audit.Sink
	Fingerprinter *token.Fingerprinter
	Metrics       *Metrics
	Idempotency   *idempotency.Manager[json.RawMessage]
	Locks         *lock.NamedMutexManager
	Clock         func() time.Time
}

// Gateway is the WebSocket entrypoint of the control plane.
//
// It enforces origin policy, subprotocol selection, the connect handshake, rate limits and
// heartbeats, then routes authenticated requests through the Router.
type Gateway struct {
	cfg      Config
	log      *slog.Logger
	registry *controlplane.Registry
	router   *Router
	auth     auth.Authenticator
	audit    audit.Sink
	fp       *token.Fingerprinter
	metrics  *Metrics
	idem     *idempotency.Manager[json.RawMessage]
	locks    *lock.NamedMutexManager
	now      func() time.Time

	// Derived for websocket.Accept; cross-origin hosts need OriginPatterns.
	originPatterns []string

	closing atomic.Bool
	conns   sync.WaitGroup
}

// New builds a gateway with the built-in methods registered.
func New(cfg Config, opts Options) (*Gateway, error) {
	if opts.Authenticator == nil {
		return nil, ErrNoAuthenticator
	}
	cfg = cfg.withDefaults()

	g := &Gateway{
		cfg:      cfg,
		log:      opts.Log,
		registry: opts.Registry,
		auth:     opts.Authenticator,
		audit:    opts.Audit,
		fp:       opts.Fingerprinter,
		metrics:  opts.Metrics,
		idem:     opts.Idempotency,
		locks:    opts.Locks,
		now:      opts.Clock,
	}
	if g.log == nil {
		g.log = slog.New(slog.DiscardHandler)
	}
	if g.now == nil {
		g.now = func() time.Time { return time.Now().UTC() }
	}
	if g.registry == nil {
		g.registry = controlplane.NewRegistry(g.log)
	}
	if g.audit == nil {
		g.audit = audit.Nop{}
	}
	if g.idem == nil {
		g.idem = idempotency.NewManager[json.RawMessage](cfg.IdempotencyTTL,
			idempotency.WithClock(g.now), idempotency.WithLogger(g.log))
	}
	if g.locks == nil {
		g.locks = lock.NewNamedMutexManager()
	}
	g.originPatterns = originPatterns(cfg.AllowedOrigins)

	g.router = NewRouter(g.log, g.idem, g.locks)
	if err := registerBuiltins(g); err != nil {
		return nil, err
	}
	return g, nil
}

// Router exposes the method table so callers can register extra methods.
func (g *Gateway) Router() *Router { return g.router }

// Registry returns the live client registry.
func (g *Gateway) Registry() *controlplane.Registry { return g.registry }

// Idempotency returns the shared idempotency manager.
func (g *Gateway) Idempotency() *idempotency.Manager[json.RawMessage] { return g.idem }

// Locks returns the shared named lock pool.
func (g *Gateway) Locks() *lock.NamedMutexManager { return g.locks }

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades r and runs the connection until it closes.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if g.closing.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	if err := checkOrigin(r, g.cfg.OriginRequired, g.cfg.AllowedOrigins); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}
	conn.SetReadLimit(g.cfg.MaxFrameBytes)

	g.conns.Add(1)
	defer g.conns.Done()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	tr := newWSTransport(conn, g.log, g.cfg.SendQueueSize, g.cfg.WriteTimeout)
	go tr.run(ctx)

	info := controlplane.ConnInfo{
		RemoteAddress: r.RemoteAddr,
		UserAgent:     r.UserAgent(),
		Origin:        r.Header.Get("Origin"),
	}
	client, err := controlplane.NewClient(tr, info, controlplane.WithClock(g.now))
	if err == nil {
		err = g.registry.Add(client)
	}
	if err != nil {
		g.log.Error("ws.client.fail", "err", err)
		_ = tr.Close(controlplane.CloseGoingAway, "internal error")
		<-tr.Finished()
		return
	}
	defer g.disconnect(client)

	log := g.log.With("conn_id", client.ID())
	log.Info("ws.accept", "remote", info.RemoteAddress)

	// A shutdown that raced the upgrade would otherwise miss this client.
	if g.closing.Load() {
		client.Close(controlplane.CloseServiceRestart, "server shutdown")
		<-tr.Finished()
		return
	}

	client.SendChallenge()

	heartbeatDone := make(chan struct{})
	go g.heartbeat(ctx, conn, tr, client, log, heartbeatDone)

	code, reason := g.readLoop(ctx, conn, client, log)
	client.Close(code, reason)
	<-tr.Finished()
	cancel()

	select {
	case <-heartbeatDone:
	case <-time.After(closeGrace):
	}
}

// Shutdown announces the shutdown, closes every connection with CloseServiceRestart and
// waits for the handlers to return or ctx to end.
func (g *Gateway) Shutdown(ctx context.Context, reason string) error {
	if reason == "" {
		reason = "server shutdown"
	}
	if !g.closing.CompareAndSwap(false, true) {
		return nil
	}

	n := g.registry.Broadcast(v1.EventShutdown, v1.ShutdownPayload{Reason: reason})
	g.registry.CloseAll(controlplane.CloseServiceRestart, reason)
	g.log.Info("gateway.shutdown", "notified", n, "reason", reason)

	done := make(chan struct{})
	go func() {
		g.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// readLoop serves frames until the connection should close and returns the close code.
func (g *Gateway) readLoop(ctx context.Context, conn *websocket.Conn, client *controlplane.Client, log *slog.Logger) (int, string) {
	rl := newRequestLimiter(g.cfg.RateEvents, g.cfg.RateWindow)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				return controlplane.CloseNormal, "peer closed"
			case readErrCtxDone:
				return controlplane.CloseGoingAway, "context done"
			case readErrConnClosed:
				return controlplane.CloseGoingAway, "conn closed"
			default:
				log.Info("ws.read.fail", "err", err)
				return controlplane.CloseGoingAway, "read failed"
			}
		}

		client.UpdateActivity()

		if now := g.now(); !rl.allow(now) {
			g.metrics.rateLimit()
			log.Info("ws.rate_limited", "retry_after", rl.retryAfter(now))
			client.SendResponse("", false, nil, requestError(v1.CodeRateLimited, "too many requests"))
			return controlplane.ClosePolicyViolation, "rate limited"
		}

		var req v1.RequestFrame
		if err := json.Unmarshal(data, &req); err != nil {
			client.SendResponse("", false, nil, invalidParams("invalid JSON"))
			continue
		}
		if err := req.Validate(); err != nil {
			client.SendResponse(req.ID, false, nil, invalidParams("%s", err.Error()))
			continue
		}

		if req.Method == v1.MethodConnect {
			if !g.handleConnect(ctx, client, req, log) {
				return controlplane.ClosePolicyViolation, "connect failed"
			}
			continue
		}

		if !client.IsAuthenticated() {
			client.SendResponse(req.ID, false, nil, requestError(v1.CodeUnauthorized, "first request must be connect"))
			return controlplane.ClosePolicyViolation, "connect required"
		}

		payload, shape := g.router.Dispatch(ctx, client, req)
		g.metrics.request(req.Method, shape)
		client.SendResponse(req.ID, shape == nil, payload, shape)
	}
}

// handleConnect runs the connect handshake. It returns false when the connection must close.
func (g *Gateway) handleConnect(ctx context.Context, client *controlplane.Client, req v1.RequestFrame, log *slog.Logger) bool {
	if client.AuthState() != controlplane.AuthPending {
		client.SendResponse(req.ID, false, nil, invalidParams("already connected"))
		return client.IsAuthenticated()
	}

	var p v1.ConnectParams
	if err := json.Unmarshal(req.Params, &p); err != nil {
		g.rejectConnect(ctx, client, req.ID, p, invalidParams("invalid connect params"), "invalid params")
		return false
	}
	role, err := controlplane.ParseRole(p.Role)
	if err != nil {
		g.rejectConnect(ctx, client, req.ID, p, invalidParams("invalid role: %s", p.Role), "invalid role")
		return false
	}
	if !client.VerifyNonce(p.Nonce) {
		g.rejectConnect(ctx, client, req.ID, p, requestError(v1.CodeUnauthorized, "nonce mismatch"), "nonce mismatch")
		return false
	}

	authCtx, cancel := context.WithTimeout(ctx, authTimeout)
	grant, err := g.auth.Authenticate(authCtx, auth.Request{
		Role:          role.String(),
		Token:         p.Auth.Token,
		Password:      p.Auth.Password,
		DeviceID:      p.Client.DeviceID,
		RemoteAddress: client.Info().RemoteAddress,
	})
	cancel()
	if err != nil {
		log.Info("connect.auth.fail", "role", role, "err", err)
		g.rejectConnect(ctx, client, req.ID, p, requestError(v1.CodeUnauthorized, "authentication failed"), err.Error())
		return false
	}

	scopes := controlplane.NarrowScopes(p.Scopes, grant.Scopes)
	deviceName := p.Client.DeviceName
	if deviceName == "" {
		deviceName = grant.Subject
	}

	switch role {
	case controlplane.RoleNode:
		err = client.AuthenticateAsNode(controlplane.NodeRegistration{
			DeviceName:      deviceName,
			Platform:        p.Client.Platform,
			Version:         p.Client.Version,
			DeviceID:        p.Client.DeviceID,
			ModelIdentifier: p.Client.ModelIdentifier,
			Capabilities:    p.Caps,
			Commands:        p.Commands,
			Permissions:     p.Permissions,
			IsForeground:    p.Foreground,
			Scopes:          scopes,
		})
	default:
		err = client.Authenticate(scopes, deviceName)
	}
	if err != nil {
		// The sweeper settled the handshake first.
		client.SendResponse(req.ID, false, nil, requestError(v1.CodeUnauthorized, "handshake expired"))
		return false
	}

	client.SendResponse(req.ID, true, v1.HelloPayload{
		ConnID: client.ID(),
		Role:   role.String(),
		Scopes: client.Scopes(),
		Server: v1.ServerInfo{Version: g.cfg.ServerVersion},
		Policy: v1.Policy{
			TickIntervalMs:     g.cfg.TickInterval.Milliseconds(),
			HeartbeatTimeoutMs: g.cfg.StaleTimeout.Milliseconds(),
			MaxPayload:         g.cfg.MaxFrameBytes,
		},
	}, nil)

	g.metrics.handshake(handshakeAuthenticated)
	g.record(ctx, audit.Event{
		Action:        audit.ActionConnectAuthenticated,
		ConnID:        client.ID(),
		Role:          role.String(),
		Subject:       grant.Subject,
		DeviceName:    deviceName,
		DeviceID:      p.Client.DeviceID,
		RemoteAddress: client.Info().RemoteAddress,
		UserAgent:     client.Info().UserAgent,
		AuthMethod:    grant.Method,
		CredentialFP:  g.fp.Fingerprint(credential(p.Auth)),
		Scopes:        client.Scopes(),
	})
	log.Info("connect.authenticated", "role", role, "subject", grant.Subject, "method", grant.Method)

	if role == controlplane.RoleNode {
		g.registry.BroadcastToOperators(v1.EventPresence, presence(client, v1.PresenceConnected))
	}
	return true
}

func (g *Gateway) rejectConnect(ctx context.Context, client *controlplane.Client, id string, p v1.ConnectParams, shape *v1.ErrorShape, reason string) {
	_ = client.Reject()
	client.SendResponse(id, false, nil, shape)

	g.metrics.handshake(handshakeRejected)
	g.record(ctx, audit.Event{
		Action:        audit.ActionConnectRejected,
		ConnID:        client.ID(),
		Role:          p.Role,
		DeviceName:    p.Client.DeviceName,
		DeviceID:      p.Client.DeviceID,
		RemoteAddress: client.Info().RemoteAddress,
		UserAgent:     client.Info().UserAgent,
		CredentialFP:  g.fp.Fingerprint(credential(p.Auth)),
		Reason:        reason,
	})
}

// disconnect unregisters client after its connection has ended.
func (g *Gateway) disconnect(client *controlplane.Client) {
	// The sweeper or Shutdown may already have dropped the entry.
	g.registry.Remove(client.ID())
	if !client.IsAuthenticated() {
		return
	}
	if client.Role() == controlplane.RoleNode {
		g.registry.BroadcastToOperators(v1.EventPresence, presence(client, v1.PresenceDisconnected))
	}
	g.record(context.Background(), audit.Event{
		Action:        audit.ActionDisconnected,
		ConnID:        client.ID(),
		Role:          client.Role().String(),
		DeviceName:    client.DeviceName(),
		RemoteAddress: client.Info().RemoteAddress,
	})
}

func (g *Gateway) heartbeat(ctx context.Context, conn *websocket.Conn, tr *wsTransport, client *controlplane.Client, log *slog.Logger, done chan<- struct{}) {
	defer close(done)

	t := time.NewTicker(g.cfg.HeartbeatEvery)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-tr.Done():
			return
		case <-t.C:
			hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
			err := conn.Ping(hbCtx)
			hbCancel()

			if err != nil {
				failures++
				log.Info("ws.ping.fail", "failures", failures, "err", err)
				if failures >= maxPingFailures {
					client.Close(controlplane.CloseGoingAway, "heartbeat failed")
					return
				}
				continue
			}
			failures = 0
			client.UpdateHeartbeat()
		}
	}
}

// record writes e to the audit sink without letting the connection's context cancel it.
func (g *Gateway) record(ctx context.Context, e audit.Event) {
	if e.At.IsZero() {
		e.At = g.now()
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditRecordLimit)
	defer cancel()
	if err := g.audit.Record(rctx, e); err != nil {
		g.log.Warn("audit.record.fail", "action", e.Action, "conn_id", e.ConnID, "err", err)
	}
}

func credential(a v1.ConnectAuth) string {
	if a.Token != "" {
		return a.Token
	}
	return a.Password
}

func presence(c *controlplane.Client, state string) v1.PresencePayload {
	return v1.PresencePayload{
		ConnID:     c.ID(),
		Role:       c.Role().String(),
		DeviceName: c.DeviceName(),
		State:      state,
	}
}

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}
