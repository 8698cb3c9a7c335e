package gateway

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/psyberpunk/CoWork-OS-sub010/cmd/internal/controlplane"
	"github.com/psyberpunk/CoWork-OS-sub010/cmd/internal/idempotency"
	v1 "github.com/psyberpunk/CoWork-OS-sub010/shared/contracts/controlplane/v1"
)

// StatusPayload answers MethodStatus.
type StatusPayload struct {
	Server      v1.ServerInfo       `json:"server"`
	Clients     controlplane.Status `json:"clients"`
	Idempotency idempotency.Stats   `json:"idempotency"`
	NamedLocks  int                 `json:"named_locks"`
	Methods     []string            `json:"methods"`
}

// NodeListPayload answers MethodNodeList.
type NodeListPayload struct {
	Nodes []controlplane.NodeInfo `json:"nodes"`
}

func registerBuiltins(g *Gateway) error {
	nodeOnly := []controlplane.Role{controlplane.RoleNode}

	methods := []Method{
		{Name: v1.MethodPing, Handler: g.handlePing},
		{Name: v1.MethodStatus, Scope: controlplane.ScopeRead, Handler: g.handleStatus},
		{Name: v1.MethodNodeList, Scope: controlplane.ScopeRead, Handler: g.handleNodeList},
		{Name: v1.MethodNodeDescribe, Scope: controlplane.ScopeRead, Handler: g.handleNodeDescribe},
		{
			Name:      v1.MethodNodeEvent,
			Scope:     controlplane.ScopeWrite,
			Roles:     []controlplane.Role{controlplane.RoleOperator},
			Handler:   g.handleNodeEvent,
			Key:       nodeEventKey,
			Serialize: true,
		},
		{Name: v1.MethodNodeCapabilitiesUpdate, Roles: nodeOnly, Handler: g.handleCapabilitiesUpdate},
		{Name: v1.MethodNodeForeground, Roles: nodeOnly, Handler: g.handleForeground},
	}
	for _, m := range methods {
		if err := g.router.Register(m); err != nil {
			return err
		}
	}
	return nil
}

func (g *Gateway) handlePing(_ context.Context, c *controlplane.Client, _ json.RawMessage) (any, error) {
	c.UpdateHeartbeat()
	return v1.PingResult{TS: g.now().UnixMilli()}, nil
}

func (g *Gateway) handleStatus(_ context.Context, _ *controlplane.Client, _ json.RawMessage) (any, error) {
	return StatusPayload{
		Server:      v1.ServerInfo{Version: g.cfg.ServerVersion},
		Clients:     g.registry.Status(),
		Idempotency: g.idem.Stats(),
		NamedLocks:  g.locks.Len(),
		Methods:     g.router.Methods(),
	}, nil
}

func (g *Gateway) handleNodeList(_ context.Context, _ *controlplane.Client, _ json.RawMessage) (any, error) {
	return NodeListPayload{Nodes: g.registry.NodeInfoList()}, nil
}

func (g *Gateway) handleNodeDescribe(_ context.Context, _ *controlplane.Client, params json.RawMessage) (any, error) {
	var p v1.NodeDescribeParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	key := strings.TrimSpace(p.Node)
	if key == "" {
		return nil, invalidParams("missing node")
	}
	n, ok := g.registry.NodeByIDOrName(key)
	if !ok {
		return nil, notFound("node not found: %s", key)
	}
	info, _ := n.NodeInfo()
	return info, nil
}

func nodeEventKey(_ *controlplane.Client, params json.RawMessage) (string, error) {
	var p v1.NodeEventParams
	if err := decodeParams(params, &p); err != nil {
		return "", err
	}
	key := strings.TrimSpace(p.IdempotencyKey)
	if key == "" {
		return "", nil
	}
	// A reused key with a different target or event is a different request.
	return idempotency.GenerateKey(key, strings.TrimSpace(p.Node), strings.TrimSpace(p.Event), p.Payload), nil
}

func (g *Gateway) handleNodeEvent(_ context.Context, c *controlplane.Client, params json.RawMessage) (any, error) {
	var p v1.NodeEventParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	event := strings.TrimSpace(p.Event)
	if event == "" {
		return nil, invalidParams("missing event")
	}
	if len(event) > maxEventNameLen {
		return nil, invalidParams("event name too long: max=%d", maxEventNameLen)
	}

	payload := v1.NodeEventPayload{Event: event, From: c.ID(), Payload: p.Payload}

	target := strings.TrimSpace(p.Node)
	if target == "" {
		return v1.NodeEventResult{Delivered: g.registry.BroadcastToNodes(v1.EventNodeEvent, payload)}, nil
	}

	n, ok := g.registry.NodeByIDOrName(target)
	if !ok {
		return nil, notFound("node not found: %s", target)
	}
	delivered := 0
	if n.SendEvent(v1.EventNodeEvent, payload) {
		delivered = 1
	}
	return v1.NodeEventResult{Delivered: delivered}, nil
}

func (g *Gateway) handleCapabilitiesUpdate(_ context.Context, c *controlplane.Client, params json.RawMessage) (any, error) {
	var p v1.CapabilitiesUpdateParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if !c.UpdateCapabilities(p.Caps, p.Commands, p.Permissions) {
		return nil, requestError(v1.CodeForbidden, "not a node")
	}
	g.registry.BroadcastToOperators(v1.EventPresence, presence(c, v1.PresenceUpdated))
	return v1.AckPayload{OK: true}, nil
}

func (g *Gateway) handleForeground(_ context.Context, c *controlplane.Client, params json.RawMessage) (any, error) {
	var p v1.ForegroundParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if !c.SetForeground(p.Foreground) {
		return nil, requestError(v1.CodeForbidden, "not a node")
	}
	g.registry.BroadcastToOperators(v1.EventPresence, presence(c, v1.PresenceUpdated))
	return v1.AckPayload{OK: true}, nil
}

// decodeParams unmarshals params into dst. Absent params decode as the zero value.
func decodeParams(params json.RawMessage, dst any) error {
	if len(params) == 0 || string(params) == "null" {
		return nil
	}
	if err := json.Unmarshal(params, dst); err != nil {
		return invalidParams("invalid params")
	}
	return nil
}
