package server

import (
	"context"
	"log"
	"time"
)

// heartbeat pings registered connections every interval and reaps those
// whose ping has gone unanswered for longer than timeout.
type heartbeat struct {
	registry *Registry
	metrics  *metrics
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time
}

// run sweeps on a ticker until ctx ends. The tick is a fraction of the
// shorter duration so reaping lags the deadline by a bounded amount.
func (h *heartbeat) run(ctx context.Context) {
	tick := h.interval
	if h.timeout < tick {
		tick = h.timeout
	}
	tick /= 4
	if tick <= 0 {
		tick = time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sweep()
		}
	}
}

// sweep runs one liveness pass and returns the ids it reaped.
func (h *heartbeat) sweep() []string {
	now := h.now()
	var reaped []string
	for _, entry := range h.registry.snapshot() {
		if since, pending := entry.transport.PingOutstanding(); pending {
			if now.Sub(since) > h.timeout {
				if h.reap(entry.id) {
					reaped = append(reaped, entry.id)
				}
			}
			continue
		}
		if now.Sub(entry.transport.LastPing()) >= h.interval {
			if err := entry.transport.Ping(now); err != nil {
				log.Printf("realtime: ping connection=%s: %v", entry.id, err)
			}
		}
	}
	return reaped
}

func (h *heartbeat) reap(connID string) bool {
	handle, ok := h.registry.Unregister(connID)
	if !ok {
		return false
	}
	if c, ok := handle.(*wsConn); ok {
		c.setState(stateReaping)
	}
	log.Printf("realtime: reaping connection=%s: heartbeat timeout", connID)
	handle.Close(closeHeartbeatTimeout, "heartbeat timeout")
	h.metrics.activeConnections.Dec()
	h.metrics.reaped.WithLabelValues("heartbeat_timeout").Inc()
	return true
}
