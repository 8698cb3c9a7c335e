package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/psyberpunk/CoWork-OS-sub010/cmd/internal/controlplane"
)

var (
	errTransportClosed = errors.New("gateway: transport closed")
	errBackpressure    = errors.New("gateway: send queue full")
)

// wsTransport adapts a websocket.Conn to controlplane.Transport.
//
// Send only enqueues; a single writer goroutine owns conn writes and the final close
// handshake. Close is idempotent and returns immediately; frames queued before it are
// flushed before the close frame.
type wsTransport struct {
	conn         *websocket.Conn
	log          *slog.Logger
	writeTimeout time.Duration

	send     chan []byte
	done     chan struct{}
	finished chan struct{}

	state     atomic.Uint32
	closeOnce sync.Once

	// Set once under closeOnce, read by the writer after done closes.
	closeCode   int
	closeReason string
}

func newWSTransport(conn *websocket.Conn, log *slog.Logger, queue int, writeTimeout time.Duration) *wsTransport {
	t := &wsTransport{
		conn:         conn,
		log:          log,
		writeTimeout: writeTimeout,
		send:         make(chan []byte, queue),
		done:         make(chan struct{}),
		finished:     make(chan struct{}),
	}
	t.state.Store(uint32(controlplane.StateOpen))
	return t
}

func (t *wsTransport) State() controlplane.TransportState {
	return controlplane.TransportState(t.state.Load())
}

// Send enqueues b without blocking. A full queue means the peer is not keeping up;
// the connection is closed rather than letting frames pile up.
func (t *wsTransport) Send(b []byte) error {
	if t.State() != controlplane.StateOpen {
		return errTransportClosed
	}
	// Checked on its own: a select with both ready may pick the enqueue.
	select {
	case <-t.done:
		return errTransportClosed
	default:
	}
	select {
	case t.send <- b:
		return nil
	default:
		_ = t.Close(controlplane.ClosePolicyViolation, "send queue full")
		return errBackpressure
	}
}

func (t *wsTransport) Close(code int, reason string) error {
	t.closeOnce.Do(func() {
		t.closeCode = code
		t.closeReason = reason
		t.state.Store(uint32(controlplane.StateClosing))
		close(t.done)
	})
	return nil
}

// Done is closed once Close has been called.
func (t *wsTransport) Done() <-chan struct{} { return t.done }

// Finished is closed after the writer has sent the close frame and released the conn.
func (t *wsTransport) Finished() <-chan struct{} { return t.finished }

// run is the writer loop. It returns after the connection is closed.
func (t *wsTransport) run(ctx context.Context) {
	defer close(t.finished)

	for {
		select {
		case <-ctx.Done():
			_ = t.Close(controlplane.CloseGoingAway, "server shutdown")
			t.finish(false)
			return
		case <-t.done:
			t.flush(ctx)
			t.finish(true)
			return
		case b := <-t.send:
			if err := t.write(ctx, b); err != nil {
				t.log.Info("ws.write.fail", "close_status", websocket.CloseStatus(err), "err", err)
				_ = t.Close(controlplane.CloseGoingAway, "write failed")
				t.finish(false)
				return
			}
		}
	}
}

// flush writes frames queued before Close.
func (t *wsTransport) flush(ctx context.Context) {
	for {
		select {
		case b := <-t.send:
			if err := t.write(ctx, b); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (t *wsTransport) finish(handshake bool) {
	if handshake {
		_ = t.conn.Close(websocket.StatusCode(t.closeCode), t.closeReason)
	} else {
		_ = t.conn.CloseNow()
	}
	t.state.Store(uint32(controlplane.StateClosed))
}

func (t *wsTransport) write(parent context.Context, b []byte) error {
	ctx, cancel := context.WithTimeout(parent, t.writeTimeout)
	defer cancel()
	return t.conn.Write(ctx, websocket.MessageText, b)
}
