package ws

import (
	"log"
	"time"
)

// HeartbeatConfig holds heartbeat tuning parameters.
type HeartbeatConfig struct {
	Interval time.Duration // how often to ping (default: 30s)
	Timeout  time.Duration // max time to wait for activity after ping (default: 10s)
}

// DefaultHeartbeatConfig returns sensible defaults for heartbeat monitoring.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// heartbeatDeadline is the staleness threshold after which a silent
// connection is considered dead.
func heartbeatDeadline() time.Duration {
	cfg := DefaultHeartbeatConfig()
	return cfg.Interval + cfg.Timeout
}

// StartHeartbeat begins a background goroutine that periodically sends
// WebSocket ping frames to all sessions and evicts those that have gone
// stale (no inbound frame within Interval + Timeout). It returns
// immediately; the goroutine exits when the server's done channel is closed.
func StartHeartbeat(server *Server, config HeartbeatConfig) {
	go func() {
		ticker := time.NewTicker(config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-server.done:
				return
			case <-ticker.C:
				checkConnections(server, config)
			}
		}
	}()
}

// checkConnections iterates over all live sessions. Sessions whose
// connections have been silent past the deadline are removed; every other
// connection receives a protocol-level ping frame which the client answers
// automatically with a pong.
func checkConnections(server *Server, config HeartbeatConfig) {
	deadline := config.Interval + config.Timeout
	now := time.Now()

	for _, sess := range server.Registry().All() {
		c, ok := sess.Conn.(*Connection)
		if !ok {
			continue
		}

		if now.Sub(c.LastActive()) > deadline {
			log.Printf("ws: heartbeat timeout session=%d last_activity=%s ago",
				sess.ID, now.Sub(c.LastActive()).Round(time.Second))
			server.RemoveConnection(c)
			continue
		}

		if err := c.WritePing(); err != nil {
			log.Printf("ws: heartbeat ping failed session=%d: %v", sess.ID, err)
			server.RemoveConnection(c)
		}
	}
}
