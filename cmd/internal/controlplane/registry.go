package controlplane

import (
	"cmp"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Registry owns the live set of clients, keyed by id.
type Registry struct {
	log *slog.Logger

	mu      sync.RWMutex
	clients map[string]*Client
}

// Status is the redacted registry view returned by the status method.
type Status struct {
	Total         int       `json:"total"`
	Authenticated int       `json:"authenticated"`
	Pending       int       `json:"pending"`
	Nodes         int       `json:"nodes"`
	Clients       []Summary `json:"clients"`
}

// NewRegistry returns an empty registry. A nil logger discards.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Registry{
		log:     log,
		clients: make(map[string]*Client),
	}
}

// Add registers c. It fails if the id is already present.
func (r *Registry) Add(c *Client) error {
	if c == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.clients[c.ID()]; exists {
		return ErrDuplicateClient
	}
	r.clients[c.ID()] = c
	r.log.Debug("registry.add", "conn_id", c.ID(), "remote", c.Info().RemoteAddress)
	return nil
}

// Remove drops id without closing its transport.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[id]; !ok {
		return false
	}
	delete(r.clients, id)
	r.log.Debug("registry.remove", "conn_id", id)
	return true
}

// Get returns the client with id, if registered.
func (r *Registry) Get(id string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.clients[id]
	return c, ok
}

// All returns every registered client ordered by id.
func (r *Registry) All() []*Client {
	return r.snapshot(nil)
}

// Authenticated returns the authenticated clients ordered by id.
func (r *Registry) Authenticated() []*Client {
	return r.snapshot((*Client).IsAuthenticated)
}

// Nodes returns authenticated node clients ordered by id.
func (r *Registry) Nodes() []*Client {
	return r.snapshot(isNode)
}

// Operators returns authenticated operator clients ordered by id.
func (r *Registry) Operators() []*Client {
	return r.snapshot(isOperator)
}

// Count returns the number of registered clients.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// AuthenticatedCount returns the number of authenticated clients.
func (r *Registry) AuthenticatedCount() int {
	return len(r.Authenticated())
}

// NodeCount returns the number of authenticated nodes.
func (r *Registry) NodeCount() int {
	return len(r.Nodes())
}

// NodeByIDOrName resolves key against node ids first, then exact device names.
func (r *Registry) NodeByIDOrName(key string) (*Client, bool) {
	if key == "" {
		return nil, false
	}
	nodes := r.Nodes()
	for _, c := range nodes {
		if c.ID() == key {
			return c, true
		}
	}
	for _, c := range nodes {
		if c.DeviceName() == key {
			return c, true
		}
	}
	return nil, false
}

// NodeInfoList projects Nodes through Client.NodeInfo.
func (r *Registry) NodeInfoList() []NodeInfo {
	nodes := r.Nodes()
	out := make([]NodeInfo, 0, len(nodes))
	for _, c := range nodes {
		if info, ok := c.NodeInfo(); ok {
			out = append(out, info)
		}
	}
	return out
}

// Broadcast sends event to every authenticated client and returns how many sends succeeded.
func (r *Registry) Broadcast(event string, payload any) int {
	return sendAll(r.Authenticated(), event, payload)
}

// BroadcastToNodes is Broadcast restricted to nodes.
func (r *Registry) BroadcastToNodes(event string, payload any) int {
	return sendAll(r.Nodes(), event, payload)
}

// BroadcastToOperators is Broadcast restricted to operators.
func (r *Registry) BroadcastToOperators(event string, payload any) int {
	return sendAll(r.Operators(), event, payload)
}

// CloseAll closes every registered client's transport, then removes those clients.
func (r *Registry) CloseAll(code int, reason string) {
	clients := r.All()
	for _, c := range clients {
		c.Close(code, reason)
	}

	// Only the closed clients are dropped; one added meanwhile stays registered and open.
	r.mu.Lock()
	for _, c := range clients {
		if r.clients[c.ID()] == c {
			delete(r.clients, c.ID())
		}
	}
	r.mu.Unlock()

	r.log.Info("registry.close_all", "closed", len(clients), "code", code, "reason", reason)
}

// Cleanup removes, without closing, clients whose transport is no longer open.
func (r *Registry) Cleanup() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, c := range r.clients {
		if c.IsConnected() {
			continue
		}
		delete(r.clients, id)
		removed++
	}
	if removed > 0 {
		r.log.Debug("registry.cleanup", "removed", removed, "remaining", len(r.clients))
	}
	return removed
}

// PendingOlderThan returns pending clients connected at or before cutoff.
func (r *Registry) PendingOlderThan(cutoff time.Time) []*Client {
	return r.snapshot(func(c *Client) bool {
		return c.AuthState() == AuthPending && !c.ConnectedAt().After(cutoff)
	})
}

// StaleSince returns authenticated clients whose last heartbeat is at or before cutoff.
func (r *Registry) StaleSince(cutoff time.Time) []*Client {
	return r.snapshot(func(c *Client) bool {
		return c.IsAuthenticated() && !c.LastHeartbeatAt().After(cutoff)
	})
}

// Status returns counts plus a summary of each client.
func (r *Registry) Status() Status {
	clients := r.All()
	st := Status{
		Total:   len(clients),
		Clients: make([]Summary, 0, len(clients)),
	}
	for _, c := range clients {
		switch c.AuthState() {
		case AuthAuthenticated:
			st.Authenticated++
			if c.Role() == RoleNode {
				st.Nodes++
			}
		case AuthPending:
			st.Pending++
		case AuthRejected:
		}
		st.Clients = append(st.Clients, c.Summary())
	}
	return st
}

// snapshot copies matching clients under the read lock so callers never hold it during I/O.
func (r *Registry) snapshot(keep func(*Client) bool) []*Client {
	r.mu.RLock()
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		if keep == nil || keep(c) {
			out = append(out, c)
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Client) int { return cmp.Compare(a.ID(), b.ID()) })
	return out
}

func isNode(c *Client) bool {
	return c.IsAuthenticated() && c.Role() == RoleNode
}

func isOperator(c *Client) bool {
	return c.IsAuthenticated() && c.Role() == RoleOperator
}

func sendAll(clients []*Client, event string, payload any) int {
	sent := 0
	for _, c := range clients {
		if c.SendEvent(event, payload) {
			sent++
		}
	}
	return sent
}
