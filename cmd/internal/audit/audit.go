// Package audit records connection security events: handshakes, rejections and disconnects.
//
// Credentials never reach a sink; callers pass a fingerprint from security/token.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Actions recorded by the gateway.
const (
	ActionConnectAuthenticated = "connect.authenticated"
	ActionConnectRejected      = "connect.rejected"
	ActionHandshakeTimeout     = "connect.handshake_timeout"
	ActionHeartbeatStale       = "client.heartbeat_stale"
	ActionDisconnected         = "client.disconnected"
)

// Event is one audit record.
type Event struct {
	Action        string
	At            time.Time
	ConnID        string
	Role          string
	Subject       string
	DeviceName    string
	DeviceID      string
	RemoteAddress string
	UserAgent     string
	AuthMethod    string
	CredentialFP  string
	Scopes        []string
	Reason        string
	Meta          map[string]any
}

// Sink persists audit events.
type Sink interface {
	Record(ctx context.Context, e Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Record(context.Context, Event) error { return nil }

// LogSink writes events as structured log lines.
type LogSink struct {
	log *slog.Logger
}

// NewLogSink logs to log; nil uses slog.Default.
func NewLogSink(log *slog.Logger) *LogSink {
	if log == nil {
		log = slog.Default()
	}
	return &LogSink{log: log}
}

func (s *LogSink) Record(ctx context.Context, e Event) error {
	attrs := []slog.Attr{
		slog.String("action", e.Action),
		slog.String("conn_id", e.ConnID),
		slog.String("remote", e.RemoteAddress),
	}
	if e.Role != "" {
		attrs = append(attrs, slog.String("role", e.Role))
	}
	if e.Subject != "" {
		attrs = append(attrs, slog.String("subject", e.Subject))
	}
	if e.DeviceName != "" {
		attrs = append(attrs, slog.String("device_name", e.DeviceName))
	}
	if e.AuthMethod != "" {
		attrs = append(attrs, slog.String("auth_method", e.AuthMethod))
	}
	if e.CredentialFP != "" {
		attrs = append(attrs, slog.String("credential_fp", shortFP(e.CredentialFP)))
	}
	if len(e.Scopes) > 0 {
		attrs = append(attrs, slog.Any("scopes", e.Scopes))
	}
	if e.Reason != "" {
		attrs = append(attrs, slog.String("reason", e.Reason))
	}

	level := slog.LevelInfo
	switch e.Action {
	case ActionConnectRejected, ActionHandshakeTimeout, ActionHeartbeatStale:
		level = slog.LevelWarn
	}
	s.log.LogAttrs(ctx, level, "audit", attrs...)
	return nil
}

func shortFP(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}

// Multi fans out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Record(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
