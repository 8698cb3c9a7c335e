package controlplane

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/psyberpunk/CoWork-OS-sub010/cmd/internal/ids"
	v1 "github.com/psyberpunk/CoWork-OS-sub010/shared/contracts/controlplane/v1"
)

// AuthState is the authentication state machine of a connection.
// Pending is initial; Authenticated and Rejected are terminal.
type AuthState uint8

const (
	AuthPending AuthState = iota
	AuthAuthenticated
	AuthRejected
)

func (s AuthState) String() string {
	switch s {
	case AuthPending:
		return "pending"
	case AuthAuthenticated:
		return "authenticated"
	case AuthRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Role distinguishes operator consoles from node devices.
type Role uint8

const (
	RoleOperator Role = iota
	RoleNode
)

func (r Role) String() string {
	switch r {
	case RoleOperator:
		return v1.RoleOperator
	case RoleNode:
		return v1.RoleNode
	default:
		return "unknown"
	}
}

// ParseRole maps a wire role name to a Role. Empty means operator.
func ParseRole(s string) (Role, error) {
	switch s {
	case "", v1.RoleOperator:
		return RoleOperator, nil
	case v1.RoleNode:
		return RoleNode, nil
	default:
		return RoleOperator, fmt.Errorf("controlplane: unknown role %q", s)
	}
}

// ConnInfo is connection metadata captured at accept time.
type ConnInfo struct {
	RemoteAddress string
	UserAgent     string
	Origin        string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClock injects the time source used for all client timestamps.
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithClientID overrides the generated id.
func WithClientID(id string) ClientOption {
	return func(c *Client) {
		if id != "" {
			c.id = id
		}
	}
}

// Client is the state of one remote connection.
//
// All methods are safe for concurrent use. Event seq allocation and transmission happen
// under one lock, so frames leave in seq order.
type Client struct {
	id        string
	nonce     string
	info      ConnInfo
	transport Transport
	now       func() time.Time

	mu              sync.RWMutex
	authState       AuthState
	role            Role
	scopes          map[string]struct{}
	deviceName      string
	node            *nodeState
	connectedAt     time.Time
	lastActivityAt  time.Time
	lastHeartbeatAt time.Time

	sendMu sync.Mutex
	seq    int64
}

// NewClient wraps an accepted transport in a pending Client.
func NewClient(t Transport, info ConnInfo, opts ...ClientOption) (*Client, error) {
	if t == nil {
		return nil, ErrNilTransport
	}

	c := &Client{
		info:      info,
		transport: t,
		now:       func() time.Time { return time.Now().UTC() },
		nonce:     uuid.NewString(),
		scopes:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	now := c.now()
	if c.id == "" {
		id, err := ids.NewULID(now)
		if err != nil {
			return nil, fmt.Errorf("controlplane: client id: %w", err)
		}
		c.id = id
	}

	c.connectedAt = now
	c.lastActivityAt = now
	c.lastHeartbeatAt = now
	return c, nil
}

// ID returns the immutable connection id.
func (c *Client) ID() string { return c.id }

// Info returns the connection metadata.
func (c *Client) Info() ConnInfo { return c.info }

// AuthState returns the current auth state.
func (c *Client) AuthState() AuthState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authState
}

// Role returns the connection role. Operator until AuthenticateAsNode succeeds.
func (c *Client) Role() Role {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role
}

// Scopes returns the granted scopes, sorted.
func (c *Client) Scopes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedScopes(c.scopes)
}

// DeviceName returns the device name supplied at authentication.
func (c *Client) DeviceName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.deviceName
}

func (c *Client) ConnectedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connectedAt
}

func (c *Client) LastActivityAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActivityAt
}

func (c *Client) LastHeartbeatAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastHeartbeatAt
}

// Seq returns the seq the next event will carry.
func (c *Client) Seq() int64 {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.seq
}

// IsAuthenticated reports whether the connection completed authentication.
func (c *Client) IsAuthenticated() bool {
	return c.AuthState() == AuthAuthenticated
}

// IsConnected reports whether the transport is open.
func (c *Client) IsConnected() bool {
	return c.transport.State() == StateOpen
}

// HasScope reports whether an authenticated client was granted scope (or admin).
func (c *Client) HasScope(scope string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.authState != AuthAuthenticated {
		return false
	}
	return ResolveScope(scope, c.scopes)
}

// VerifyNonce compares a challenge response to this connection's nonce in constant time.
func (c *Client) VerifyNonce(candidate string) bool {
	if candidate == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(c.nonce)) == 1
}

// Authenticate moves a pending client to authenticated with the given scopes.
// The role stays operator.
func (c *Client) Authenticate(scopes []string, deviceName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticateLocked(scopes, deviceName)
}

func (c *Client) authenticateLocked(scopes []string, deviceName string) error {
	if c.authState != AuthPending {
		return fmt.Errorf("%w: %s", ErrAuthSettled, c.authState)
	}
	c.authState = AuthAuthenticated
	c.scopes = scopeSet(scopes)
	if deviceName != "" {
		c.deviceName = deviceName
	}
	c.touchLocked(&c.lastActivityAt)
	return nil
}

// AuthenticateAsNode authenticates the connection as a node and records its device fields.
func (c *Client) AuthenticateAsNode(reg NodeRegistration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.authState != AuthPending {
		return fmt.Errorf("%w: %s", ErrAuthSettled, c.authState)
	}
	c.role = RoleNode
	c.node = newNodeState(reg)
	return c.authenticateLocked(reg.Scopes, reg.DeviceName)
}

// Reject moves a pending client to rejected.
func (c *Client) Reject() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.authState != AuthPending {
		return fmt.Errorf("%w: %s", ErrAuthSettled, c.authState)
	}
	c.authState = AuthRejected
	return nil
}

// UpdateActivity records inbound traffic.
func (c *Client) UpdateActivity() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touchLocked(&c.lastActivityAt)
}

// UpdateHeartbeat records a heartbeat; it also counts as activity.
func (c *Client) UpdateHeartbeat() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touchLocked(&c.lastActivityAt)
	c.touchLocked(&c.lastHeartbeatAt)
}

// touchLocked advances ts to now, never backwards.
func (c *Client) touchLocked(ts *time.Time) {
	now := c.now()
	if now.After(*ts) {
		*ts = now
	}
}

// Send serializes and transmits frame. It returns false, without error, when the
// transport is not open or refuses the frame.
func (c *Client) Send(frame any) bool {
	if c.transport.State() != StateOpen {
		return false
	}
	b, err := json.Marshal(frame)
	if err != nil {
		return false
	}
	return c.transport.Send(b) == nil
}

// SendEvent sends an event frame stamped with this client's next seq.
// The seq advances once per call, even when delivery fails.
func (c *Client) SendEvent(event string, payload any) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	seq := c.seq
	c.seq++
	return c.Send(v1.EventFrame{
		Type:    v1.FrameEvent,
		Event:   event,
		Seq:     seq,
		Payload: payload,
	})
}

// SendResponse answers request id.
func (c *Client) SendResponse(id string, ok bool, payload any, errShape *v1.ErrorShape) bool {
	return c.Send(v1.ResponseFrame{
		Type:    v1.FrameResponse,
		ID:      id,
		OK:      ok,
		Payload: payload,
		Error:   errShape,
	})
}

// SendChallenge emits connect.challenge carrying the nonce the connect request must echo.
func (c *Client) SendChallenge() bool {
	return c.SendEvent(v1.EventConnectChallenge, v1.ChallengePayload{
		Nonce: c.nonce,
		TS:    c.now().UnixMilli(),
	})
}

// Close closes the transport if it is open. Zero code and empty reason mean
// CloseNormal and DefaultCloseReason.
func (c *Client) Close(code int, reason string) {
	if code == 0 {
		code = CloseNormal
	}
	if reason == "" {
		reason = DefaultCloseReason
	}

	switch c.transport.State() {
	case StateConnecting, StateOpen:
		_ = c.transport.Close(code, reason)
	case StateClosing, StateClosed:
	}
}

// Summary is a redacted view for status reporting. It never carries the nonce.
type Summary struct {
	ID              string    `json:"id"`
	RemoteAddress   string    `json:"remote_address"`
	DeviceName      string    `json:"device_name,omitempty"`
	Role            string    `json:"role"`
	Authenticated   bool      `json:"authenticated"`
	Scopes          []string  `json:"scopes"`
	ConnectedAt     time.Time `json:"connected_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`
	LastHeartbeatAt time.Time `json:"last_heartbeat_at"`
}

// Summary returns the redacted projection of this client.
func (c *Client) Summary() Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Summary{
		ID:              c.id,
		RemoteAddress:   c.info.RemoteAddress,
		DeviceName:      c.deviceName,
		Role:            c.role.String(),
		Authenticated:   c.authState == AuthAuthenticated,
		Scopes:          sortedScopes(c.scopes),
		ConnectedAt:     c.connectedAt,
		LastActivityAt:  c.lastActivityAt,
		LastHeartbeatAt: c.lastHeartbeatAt,
	}
}

func sortedScopes(set map[string]struct{}) []string {
	if len(set) == 0 {
		return []string{}
	}
	return slices.Sorted(maps.Keys(set))
}
