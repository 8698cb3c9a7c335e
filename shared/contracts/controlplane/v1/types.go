package v1

// ChallengePayload is the payload of EventConnectChallenge.
type ChallengePayload struct {
	Nonce string `json:"nonce"`
	TS    int64  `json:"ts"`
}

// ConnectAuth carries exactly one credential.
type ConnectAuth struct {
	Token    string `json:"token,omitempty"`
	Password string `json:"password,omitempty"`
}

// ClientDescriptor describes the connecting device or console.
type ClientDescriptor struct {
	DeviceName      string `json:"device_name,omitempty"`
	Platform        string `json:"platform,omitempty"`
	Version         string `json:"version,omitempty"`
	DeviceID        string `json:"device_id,omitempty"`
	ModelIdentifier string `json:"model_identifier,omitempty"`
}

// ConnectParams are the params of MethodConnect.
type ConnectParams struct {
	Role        string           `json:"role"`
	Nonce       string           `json:"nonce"`
	Auth        ConnectAuth      `json:"auth"`
	Scopes      []string         `json:"scopes,omitempty"`
	Client      ClientDescriptor `json:"client"`
	Caps        []string         `json:"caps,omitempty"`
	Commands    []string         `json:"commands,omitempty"`
	Permissions map[string]bool  `json:"permissions,omitempty"`
	Foreground  *bool            `json:"foreground,omitempty"`
}

// ServerInfo identifies the gateway build.
type ServerInfo struct {
	Version string `json:"version"`
}

// Policy tells the client how the gateway will treat the connection.
type Policy struct {
	TickIntervalMs     int64 `json:"tick_interval_ms"`
	HeartbeatTimeoutMs int64 `json:"heartbeat_timeout_ms"`
	MaxPayload         int64 `json:"max_payload"`
}

// HelloPayload is the payload of a successful connect response.
type HelloPayload struct {
	ConnID string     `json:"conn_id"`
	Role   string     `json:"role"`
	Scopes []string   `json:"scopes"`
	Server ServerInfo `json:"server"`
	Policy Policy     `json:"policy"`
}

// NodeDescribeParams selects a node by id or device name.
type NodeDescribeParams struct {
	Node string `json:"node"`
}

// NodeEventParams is an operator request to push an event to one node, or to every node
// when Node is empty. Requests sharing an IdempotencyKey are delivered once.
type NodeEventParams struct {
	Node           string         `json:"node,omitempty"`
	Event          string         `json:"event"`
	Payload        map[string]any `json:"payload,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// NodeEventPayload is what a node receives for EventNodeEvent.
type NodeEventPayload struct {
	Event   string         `json:"event"`
	From    string         `json:"from"`
	Payload map[string]any `json:"payload,omitempty"`
}

// NodeEventResult reports how many nodes accepted the event.
type NodeEventResult struct {
	Delivered int `json:"delivered"`
}

// CapabilitiesUpdateParams replaces a node's advertised surface.
type CapabilitiesUpdateParams struct {
	Caps        []string        `json:"caps"`
	Commands    []string        `json:"commands"`
	Permissions map[string]bool `json:"permissions"`
}

// ForegroundParams reports whether the node app is in the foreground.
type ForegroundParams struct {
	Foreground bool `json:"foreground"`
}

// PresencePayload is the payload of EventPresence.
type PresencePayload struct {
	ConnID     string `json:"conn_id"`
	Role       string `json:"role"`
	DeviceName string `json:"device_name,omitempty"`
	State      string `json:"state"`
}

// Presence states.
const (
	PresenceConnected    = "connected"
	PresenceDisconnected = "disconnected"
	PresenceUpdated      = "updated"
)

// ShutdownPayload is the payload of EventShutdown.
type ShutdownPayload struct {
	Reason string `json:"reason"`
}

// TickPayload is the payload of EventTick.
type TickPayload struct {
	TS int64 `json:"ts"`
}

// PingResult answers MethodPing.
type PingResult struct {
	TS int64 `json:"ts"`
}

// AckPayload is returned by methods with no other result.
type AckPayload struct {
	OK bool `json:"ok"`
}
