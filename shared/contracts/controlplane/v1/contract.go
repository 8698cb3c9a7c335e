// Package v1 defines the CoWork control plane protocol v1 contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between the gateway and clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Subprotocol is the WebSocket subprotocol negotiated by the gateway.
const Subprotocol = "cowork.controlplane.v1"

// Frame types (wire-stable).
const (
	// FrameRequest is a client -> server call.
	FrameRequest = "req"
	// FrameResponse answers exactly one request (server -> client).
	FrameResponse = "res"
	// FrameEvent is a server-initiated push carrying a per-connection seq.
	FrameEvent = "event"
)

// Event names (server -> client).
const (
	// EventConnectChallenge carries the per-connection nonce that the connect request must echo.
	EventConnectChallenge = "connect.challenge"
	// EventTick is a periodic keepalive sent to authenticated clients.
	EventTick = "tick"
	// EventPresence notifies operators that a node connected or disconnected.
	EventPresence = "presence"
	// EventShutdown is sent to all authenticated clients before the gateway stops.
	EventShutdown = "shutdown"
	// EventNodeEvent carries an operator-originated event to nodes.
	EventNodeEvent = "node.event"
)

// Method names (client -> server).
const (
	MethodConnect                = "connect"
	MethodPing                   = "ping"
	MethodStatus                 = "status"
	MethodNodeList               = "node.list"
	MethodNodeDescribe           = "node.describe"
	MethodNodeEvent              = "node.event"
	MethodNodeCapabilitiesUpdate = "node.capabilities.update"
	MethodNodeForeground         = "node.foreground"
)

// Roles a connection can authenticate as.
const (
	RoleOperator = "operator"
	RoleNode     = "node"
)

// Error codes carried in ErrorShape.Code.
const (
	CodeInvalidRequest = "invalid_request"
	CodeUnauthorized   = "unauthorized"
	CodeForbidden      = "forbidden"
	CodeNotFound       = "not_found"
	CodeUnsupported    = "unsupported"
	CodeRateLimited    = "rate_limited"
	CodeUnavailable    = "unavailable"
	CodeInternal       = "internal"
)

// RequestFrame is the only frame a client may send.
type RequestFrame struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Validate performs structural checks; method-specific params are validated by handlers.
func (f RequestFrame) Validate() error {
	if f.Type != FrameRequest {
		return fmt.Errorf("invalid frame type: %q", f.Type)
	}
	if strings.TrimSpace(f.ID) == "" {
		return errors.New("missing id")
	}
	if len(f.ID) > 128 {
		return errors.New("id too long")
	}
	if strings.TrimSpace(f.Method) == "" {
		return errors.New("missing method")
	}
	return nil
}

// ResponseFrame answers a RequestFrame with the same ID.
type ResponseFrame struct {
	Type    string      `json:"type"`
	ID      string      `json:"id"`
	OK      bool        `json:"ok"`
	Payload any         `json:"payload,omitempty"`
	Error   *ErrorShape `json:"error,omitempty"`
}

// EventFrame is a server push. Seq starts at 0 per connection and has no gaps.
type EventFrame struct {
	Type    string `json:"type"`
	Event   string `json:"event"`
	Seq     int64  `json:"seq"`
	Payload any    `json:"payload,omitempty"`
}

// ErrorShape is the error body of a failed response.
type ErrorShape struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorShape) Error() string {
	if e == nil {
		return ""
	}
	return e.Code + ": " + e.Message
}
