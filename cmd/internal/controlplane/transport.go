package controlplane

// TransportState mirrors the readiness states of a duplex socket.
type TransportState uint8

const (
	StateConnecting TransportState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s TransportState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Transport is the minimal duplex surface a Client needs.
//
// Send must not block on a slow peer; implementations queue or fail fast.
type Transport interface {
	State() TransportState
	Send(data []byte) error
	Close(code int, reason string) error
}

// Close codes used by the control plane (RFC 6455).
const (
	CloseNormal          = 1000
	CloseGoingAway       = 1001
	ClosePolicyViolation = 1008
	CloseServiceRestart  = 1012

	DefaultCloseReason = "Connection closed"
)
