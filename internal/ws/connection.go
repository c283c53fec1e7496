package ws

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/cipherchat/dm-app/internal/registry"
)

// Connection wraps a single WebSocket client connection with a write mutex
// for serializing outbound frames. It is the transport handle the registry
// session owns; registry fan-out reaches it through WriteEvent.
type Connection struct {
	ID        string   // connection id (UUID), used for presence and logging
	Conn      net.Conn // underlying TCP connection
	Session   *registry.Session
	CreatedAt time.Time

	writeTimeout time.Duration
	writeMu      sync.Mutex  // serializes writes to this connection
	lastActive   atomic.Int64 // unix nano of the last inbound frame
}

var _ registry.Conn = (*Connection)(nil)

// WriteEvent sends a WebSocket text frame to this connection. The write
// mutex ensures that concurrent goroutines do not interleave frame bytes.
func (c *Connection) WriteEvent(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		defer func() { _ = c.Conn.SetWriteDeadline(time.Time{}) }()
	}
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// WritePing sends a WebSocket protocol-level ping frame (opcode 0x9) on the
// connection. Used by the heartbeat monitor.
func (c *Connection) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
}

// Close closes the underlying network connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// Touch records inbound activity for heartbeat staleness checks.
func (c *Connection) Touch() {
	c.lastActive.Store(time.Now().UnixNano())
}

// LastActive returns the time of the most recent inbound frame.
func (c *Connection) LastActive() time.Time {
	return time.Unix(0, c.lastActive.Load())
}
