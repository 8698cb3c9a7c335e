package gateway

import (
	"context"
	"time"

	"github.com/psyberpunk/CoWork-OS-sub010/cmd/internal/audit"
	"github.com/psyberpunk/CoWork-OS-sub010/cmd/internal/controlplane"
	v1 "github.com/psyberpunk/CoWork-OS-sub010/shared/contracts/controlplane/v1"
)

// SweepResult counts what one sweep did.
type SweepResult struct {
	Removed           int
	HandshakeTimeouts int
	Stale             int
	Locks             int
	Idempotency       int
}

// SweepOnce enforces handshake and heartbeat deadlines as of now and prunes idle state.
func (g *Gateway) SweepOnce(ctx context.Context, now time.Time) SweepResult {
	var res SweepResult

	res.Removed = g.registry.Cleanup()

	for _, c := range g.registry.PendingOlderThan(now.Add(-g.cfg.HandshakeTimeout)) {
		// Reject loses to a connect that completed in the meantime.
		if err := c.Reject(); err != nil {
			continue
		}
		res.HandshakeTimeouts++
		g.metrics.handshake(handshakeTimedOut)
		g.record(ctx, audit.Event{
			Action:        audit.ActionHandshakeTimeout,
			At:            now,
			ConnID:        c.ID(),
			RemoteAddress: c.Info().RemoteAddress,
			UserAgent:     c.Info().UserAgent,
			Reason:        "handshake timeout",
		})
		c.Close(controlplane.ClosePolicyViolation, "handshake timeout")
	}

	for _, c := range g.registry.StaleSince(now.Add(-g.cfg.StaleTimeout)) {
		if !c.IsConnected() {
			continue
		}
		res.Stale++
		g.metrics.staleClosed()
		g.record(ctx, audit.Event{
			Action:        audit.ActionHeartbeatStale,
			At:            now,
			ConnID:        c.ID(),
			Role:          c.Role().String(),
			DeviceName:    c.DeviceName(),
			RemoteAddress: c.Info().RemoteAddress,
			Reason:        "heartbeat timeout",
		})
		c.Close(controlplane.CloseGoingAway, "heartbeat timeout")
	}

	res.Locks = g.locks.Cleanup()
	res.Idempotency = g.idem.Sweep()

	if res != (SweepResult{}) {
		g.log.Debug("gateway.sweep",
			"removed", res.Removed,
			"handshake_timeouts", res.HandshakeTimeouts,
			"stale", res.Stale,
			"locks", res.Locks,
			"idempotency", res.Idempotency,
		)
	}
	return res
}

// Tick sends EventTick to every authenticated client and returns how many accepted it.
func (g *Gateway) Tick(now time.Time) int {
	return g.registry.Broadcast(v1.EventTick, v1.TickPayload{TS: now.UnixMilli()})
}

// Run drives the sweep and tick loops until ctx ends.
func (g *Gateway) Run(ctx context.Context) error {
	g.log.Info("gateway.run", "sweep_interval", g.cfg.SweepInterval, "tick_interval", g.cfg.TickInterval)

	sweep := time.NewTicker(g.cfg.SweepInterval)
	defer sweep.Stop()
	tick := time.NewTicker(g.cfg.TickInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			g.log.Info("gateway.run.stop")
			return ctx.Err()
		case <-sweep.C:
			g.SweepOnce(ctx, g.now())
		case <-tick.C:
			g.Tick(g.now())
		}
	}
}
