package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/psyberpunk/CoWork-OS-sub010/cmd/internal/controlplane"
	"github.com/psyberpunk/CoWork-OS-sub010/cmd/internal/idempotency"
	"github.com/psyberpunk/CoWork-OS-sub010/cmd/internal/lock"
	v1 "github.com/psyberpunk/CoWork-OS-sub010/shared/contracts/controlplane/v1"
)

// Handler serves one method for an authenticated client.
type Handler func(ctx context.Context, c *controlplane.Client, params json.RawMessage) (any, error)

// KeyFunc derives the idempotency key of a request. An empty key runs the handler unguarded.
type KeyFunc func(c *controlplane.Client, params json.RawMessage) (string, error)

// Method describes a routable request.
type Method struct {
	Name string

	// Scope required to call the method; empty means any authenticated client.
	Scope string

	// Roles allowed to call the method; empty means any role.
	Roles []controlplane.Role

	Handler Handler

	// Key makes the method guarded: concurrent and repeated calls with the same key share one
	// execution and its outcome until the idempotency TTL lapses. Keys are scoped to the calling
	// connection, so two callers never share an outcome.
	Key KeyFunc

	// Serialize additionally runs guarded executions one at a time per key.
	Serialize bool
}

// Router dispatches requests to registered methods.
type Router struct {
	log   *slog.Logger
	idem  *idempotency.Manager[json.RawMessage]
	locks *lock.NamedMutexManager

	mu      sync.RWMutex
	methods map[string]Method
}

// NewRouter builds an empty router over the shared idempotency manager and lock pool.
func NewRouter(log *slog.Logger, idem *idempotency.Manager[json.RawMessage], locks *lock.NamedMutexManager) *Router {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if idem == nil {
		idem = idempotency.NewManager[json.RawMessage](idempotencyTTL)
	}
	if locks == nil {
		locks = lock.NewNamedMutexManager()
	}
	return &Router{
		log:     log,
		idem:    idem,
		locks:   locks,
		methods: make(map[string]Method),
	}
}

// Register adds m. Names are unique.
func (r *Router) Register(m Method) error {
	if m.Name == "" || m.Handler == nil {
		return fmt.Errorf("gateway: method needs a name and handler")
	}
	if m.Name == v1.MethodConnect {
		return fmt.Errorf("%w: %s is reserved", ErrDuplicateMethod, m.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.methods[m.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateMethod, m.Name)
	}
	r.methods[m.Name] = m
	return nil
}

// Methods lists registered names, sorted.
func (r *Router) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.methods))
	for name := range r.methods {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Dispatch authorizes and runs req for c. The returned payload is ready to marshal.
func (r *Router) Dispatch(ctx context.Context, c *controlplane.Client, req v1.RequestFrame) (payload any, shape *v1.ErrorShape) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("router.method.panic", "method", req.Method, "conn_id", c.ID(), "panic", rec)
			payload, shape = nil, requestError(v1.CodeInternal, "internal error")
		}
	}()

	r.mu.RLock()
	m, ok := r.methods[req.Method]
	r.mu.RUnlock()

	if !ok {
		return nil, requestError(v1.CodeUnsupported, "unsupported method: %s", req.Method)
	}
	if !c.IsAuthenticated() {
		return nil, requestError(v1.CodeUnauthorized, "connect first")
	}
	if len(m.Roles) > 0 && !slices.Contains(m.Roles, c.Role()) {
		return nil, requestError(v1.CodeForbidden, "%s is not available to %s clients", m.Name, c.Role())
	}
	if m.Scope != "" && !c.HasScope(m.Scope) {
		return nil, requestError(v1.CodeForbidden, "missing scope: %s", m.Scope)
	}

	out, err := r.run(ctx, m, c, req.Params)
	if err != nil {
		shape = toErrorShape(err)
		if shape.Code == v1.CodeInternal {
			r.log.Error("router.method.fail", "method", m.Name, "conn_id", c.ID(), "err", err)
		}
		return nil, shape
	}
	return out, nil
}

func (r *Router) run(ctx context.Context, m Method, c *controlplane.Client, params json.RawMessage) (any, error) {
	if m.Key == nil {
		return m.Handler(ctx, c, params)
	}

	k, err := m.Key(c, params)
	if err != nil {
		return nil, err
	}
	if k == "" {
		return m.Handler(ctx, c, params)
	}
	key := idempotency.GenerateKey(m.Name, c.ID(), k)

	exec := func() (json.RawMessage, error) {
		res, err := r.idem.Execute(ctx, key, func(ctx context.Context) (json.RawMessage, error) {
			v, err := m.Handler(ctx, c, params)
			if err != nil {
				return nil, err
			}
			return json.Marshal(v)
		})
		if err != nil {
			return nil, err
		}
		if res.Cached {
			r.log.Debug("router.method.cached", "method", m.Name, "conn_id", c.ID(), "key", key)
		}
		return res.Value, nil
	}

	var out json.RawMessage
	if m.Serialize {
		err = r.locks.WithLock(key, func() error {
			v, err := exec()
			out = v
			return err
		})
	} else {
		out, err = exec()
	}
	if err != nil {
		if errors.Is(err, idempotency.ErrOperationPanicked) {
			return nil, requestError(v1.CodeInternal, "internal error")
		}
		return nil, err
	}
	return out, nil
}
