package controlplane

import (
	"maps"
	"slices"
	"time"
)

// NodeRegistration is what a node declares when it authenticates.
// A nil IsForeground means foreground.
type NodeRegistration struct {
	DeviceName      string
	Platform        string
	Version         string
	DeviceID        string
	ModelIdentifier string
	Capabilities    []string
	Commands        []string
	Permissions     map[string]bool
	IsForeground    *bool
	Scopes          []string
}

// nodeState exists only for RoleNode clients.
type nodeState struct {
	platform        string
	version         string
	deviceID        string
	modelIdentifier string
	capabilities    []string
	commands        []string
	permissions     map[string]bool
	isForeground    bool
}

func newNodeState(reg NodeRegistration) *nodeState {
	fg := true
	if reg.IsForeground != nil {
		fg = *reg.IsForeground
	}
	return &nodeState{
		platform:        reg.Platform,
		version:         reg.Version,
		deviceID:        reg.DeviceID,
		modelIdentifier: reg.ModelIdentifier,
		capabilities:    slices.Clone(reg.Capabilities),
		commands:        slices.Clone(reg.Commands),
		permissions:     maps.Clone(reg.Permissions),
		isForeground:    fg,
	}
}

// NodeInfo is a read-only projection of a node connection.
type NodeInfo struct {
	ID              string          `json:"id"`
	DeviceName      string          `json:"device_name"`
	Platform        string          `json:"platform,omitempty"`
	Version         string          `json:"version,omitempty"`
	DeviceID        string          `json:"device_id,omitempty"`
	ModelIdentifier string          `json:"model_identifier,omitempty"`
	Capabilities    []string        `json:"capabilities"`
	Commands        []string        `json:"commands"`
	Permissions     map[string]bool `json:"permissions"`
	IsForeground    bool            `json:"is_foreground"`
	RemoteAddress   string          `json:"remote_address"`
	ConnectedAt     time.Time       `json:"connected_at"`
	LastActivityAt  time.Time       `json:"last_activity_at"`
	LastHeartbeatAt time.Time       `json:"last_heartbeat_at"`
}

// NodeInfo returns the node projection; ok is false for operators.
func (c *Client) NodeInfo() (NodeInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch c.role {
	case RoleNode:
	case RoleOperator:
		return NodeInfo{}, false
	}
	if c.node == nil {
		return NodeInfo{}, false
	}

	n := c.node
	caps := slices.Clone(n.capabilities)
	if caps == nil {
		caps = []string{}
	}
	cmds := slices.Clone(n.commands)
	if cmds == nil {
		cmds = []string{}
	}
	perms := maps.Clone(n.permissions)
	if perms == nil {
		perms = map[string]bool{}
	}

	return NodeInfo{
		ID:              c.id,
		DeviceName:      c.deviceName,
		Platform:        n.platform,
		Version:         n.version,
		DeviceID:        n.deviceID,
		ModelIdentifier: n.modelIdentifier,
		Capabilities:    caps,
		Commands:        cmds,
		Permissions:     perms,
		IsForeground:    n.isForeground,
		RemoteAddress:   c.info.RemoteAddress,
		ConnectedAt:     c.connectedAt,
		LastActivityAt:  c.lastActivityAt,
		LastHeartbeatAt: c.lastHeartbeatAt,
	}, true
}

// UpdateCapabilities replaces a node's advertised surface.
// It reports false, changing nothing, for operator clients.
func (c *Client) UpdateCapabilities(capabilities, commands []string, permissions map[string]bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.role {
	case RoleOperator:
		return false
	case RoleNode:
	}
	if c.node == nil {
		return false
	}
	c.node.capabilities = slices.Clone(capabilities)
	c.node.commands = slices.Clone(commands)
	c.node.permissions = maps.Clone(permissions)
	c.touchLocked(&c.lastActivityAt)
	return true
}

// SetForeground records whether the node app is in the foreground.
// It reports false, changing nothing, for operator clients.
func (c *Client) SetForeground(foreground bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.role {
	case RoleOperator:
		return false
	case RoleNode:
	}
	if c.node == nil {
		return false
	}
	c.node.isForeground = foreground
	c.touchLocked(&c.lastActivityAt)
	return true
}
