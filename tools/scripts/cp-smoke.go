// Package main provides a CI-friendly WebSocket smoke test for the CoWork control plane.
//
// It validates:
//   - handshake + subprotocol selection
//   - connect.challenge -> connect -> hello
//   - ping and status round trips
//   - node presence fanout to the operator (with -node-token)
//   - node.event delivery deduplicated by idempotency_key (with -node-token)
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"

	v1 "github.com/psyberpunk/CoWork-OS-sub010/shared/contracts/controlplane/v1"
)

const maxReadBytes = 1 << 20 // 1MiB

// inbound is the union of server frames.
type inbound struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	OK      bool            `json:"ok"`
	Event   string          `json:"event"`
	Seq     int64           `json:"seq"`
	Payload json.RawMessage `json:"payload"`
	Error   *v1.ErrorShape  `json:"error"`
}

type smokeClient struct {
	name   string
	conn   *websocket.Conn
	connID string
	nextID int

	inbox chan inbound
	errCh chan error
}

func main() {
	var (
		wsURL     = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin    = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		token     = flag.String("token", os.Getenv("COWORK_SMOKE_TOKEN"), "operator token (or COWORK_SMOKE_TOKEN)")
		pass      = flag.String("password", os.Getenv("COWORK_SMOKE_PASSWORD"), "operator password (or COWORK_SMOKE_PASSWORD)")
		nodeToken = flag.String("node-token", os.Getenv("COWORK_SMOKE_NODE_TOKEN"), "node token; enables node checks")
		timeout   = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose   = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()

	op := mustConnect(root, "operator", *wsURL, *origin, *timeout, v1.ConnectParams{
		Role:   v1.RoleOperator,
		Auth:   v1.ConnectAuth{Token: *token, Password: *pass},
		Client: v1.ClientDescriptor{DeviceName: "cp-smoke", Platform: "ci"},
	})
	defer closeWS(op.conn)

	if *verbose {
		fmt.Printf("connected: operator=%s origin=%q\n", op.connID, *origin)
	}

	var ping v1.PingResult
	op.mustCall(root, v1.MethodPing, nil, &ping, *timeout)
	if ping.TS == 0 {
		fatalf("ping: missing ts")
	}

	var status struct {
		Methods []string `json:"methods"`
	}
	op.mustCall(root, v1.MethodStatus, nil, &status, *timeout)
	if len(status.Methods) == 0 {
		fatalf("status: no methods listed")
	}

	if strings.TrimSpace(*nodeToken) == "" {
		fmt.Printf("OK: operator=%s methods=%d\n", op.connID, len(status.Methods))
		return
	}

	node := mustConnect(root, "node", *wsURL, *origin, *timeout, v1.ConnectParams{
		Role:     v1.RoleNode,
		Auth:     v1.ConnectAuth{Token: *nodeToken},
		Client:   v1.ClientDescriptor{DeviceName: "cp-smoke-node", Platform: "ci"},
		Caps:     []string{"smoke"},
		Commands: []string{"smoke.echo"},
	})
	defer closeWS(node.conn)

	pres := op.mustReadEvent(root, v1.EventPresence, *timeout)
	var pp v1.PresencePayload
	if err := json.Unmarshal(pres.Payload, &pp); err != nil {
		fatalf("unmarshal presence: %v", err)
	}
	if pp.ConnID != node.connID || pp.State != v1.PresenceConnected {
		fatalf("presence: conn_id=%q state=%q want=%q connected", pp.ConnID, pp.State, node.connID)
	}

	key := fmt.Sprintf("smoke-%d", time.Now().UnixNano())
	params := v1.NodeEventParams{Node: node.connID, Event: "smoke.ping", IdempotencyKey: key}
	for i := range 2 {
		var res v1.NodeEventResult
		op.mustCall(root, v1.MethodNodeEvent, params, &res, *timeout)
		if res.Delivered != 1 {
			fatalf("node.event #%d: delivered=%d want=1", i+1, res.Delivered)
		}
	}

	node.mustReadEvent(root, v1.EventNodeEvent, *timeout)
	node.mustAssertNoEvent(root, v1.EventNodeEvent, 1200*time.Millisecond)

	fmt.Printf("OK: operator=%s node=%s key=%s\n", op.connID, node.connID, key)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, wsURL, origin string, stepTimeout time.Duration, p v1.ConnectParams) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}
	if got := conn.Subprotocol(); got != v1.Subprotocol {
		fatalf("subprotocol mismatch (%s): got=%q want=%q", name, got, v1.Subprotocol)
	}

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan inbound, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	ch := c.mustReadEvent(parent, v1.EventConnectChallenge, stepTimeout)
	if ch.Seq != 0 {
		fatalf("challenge seq=%d want=0 (%s)", ch.Seq, name)
	}
	var cp v1.ChallengePayload
	if err := json.Unmarshal(ch.Payload, &cp); err != nil || cp.Nonce == "" {
		fatalf("challenge missing nonce (%s): %v", name, err)
	}
	p.Nonce = cp.Nonce

	var hello v1.HelloPayload
	c.mustCall(parent, v1.MethodConnect, p, &hello, stepTimeout)
	if strings.TrimSpace(hello.ConnID) == "" {
		fatalf("hello missing conn_id (%s)", name)
	}
	c.connID = hello.ConnID

	return c
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)
		for {
			_, data, err := c.conn.Read(context.Background())
			if err != nil {
				c.errCh <- err
				return
			}
			var f inbound
			if err := json.Unmarshal(data, &f); err != nil {
				c.errCh <- fmt.Errorf("decode frame: %w", err)
				return
			}
			c.inbox <- f
		}
	}()
}

// mustCall sends a request and decodes the matching response into out. Events that arrive
// first are dropped.
func (c *smokeClient) mustCall(parent context.Context, method string, params, out any, stepTimeout time.Duration) {
	c.nextID++
	id := fmt.Sprintf("%s-%d", c.name, c.nextID)

	frame := v1.RequestFrame{Type: v1.FrameRequest, ID: id, Method: method}
	if params != nil {
		frame.Params = mustJSON(params)
	}
	mustWriteWithTimeout(parent, c.conn, frame, stepTimeout)

	res := c.mustRead(parent, stepTimeout, func(f inbound) bool {
		return f.Type == v1.FrameResponse && f.ID == id
	})
	if !res.OK {
		if res.Error != nil {
			fatalf("%s failed (%s): code=%q msg=%q", method, c.name, res.Error.Code, res.Error.Message)
		}
		fatalf("%s failed (%s)", method, c.name)
	}
	if out != nil {
		if err := json.Unmarshal(res.Payload, out); err != nil {
			fatalf("unmarshal %s payload (%s): %v", method, c.name, err)
		}
	}
}

func (c *smokeClient) mustReadEvent(parent context.Context, event string, stepTimeout time.Duration) inbound {
	return c.mustRead(parent, stepTimeout, func(f inbound) bool {
		return f.Type == v1.FrameEvent && f.Event == event
	})
}

func (c *smokeClient) mustRead(parent context.Context, stepTimeout time.Duration, match func(inbound) bool) inbound {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for frame (%s): %v", c.name, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error (%s): %v", c.name, err)
		case f, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed (%s)", c.name)
			}
			if match(f) {
				return f
			}
		}
	}
}

func (c *smokeClient) mustAssertNoEvent(parent context.Context, event string, wait time.Duration) {
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-c.errCh:
			fatalf("connection closed unexpectedly (%s): %v", c.name, err)
		case f, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			if f.Type == v1.FrameEvent && f.Event == event {
				fatalf("unexpected %s received (%s)", event, c.name)
			}
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, frame v1.RequestFrame, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(frame)
	if err != nil {
		fatalf("marshal frame: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
