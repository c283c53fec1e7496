package ws

import (
	"log"
	"time"

	"github.com/cipherchat/dm-app/internal/metrics"
	"github.com/cipherchat/dm-app/internal/protocol"
)

// EventHandler is the callback signature for handling a parsed client event.
// The event parameter is the concrete struct returned by
// protocol.ParseClientEvent (e.g., protocol.MessageEvent).
type EventHandler func(conn *Connection, event interface{})

// Dispatcher routes incoming WebSocket events to registered handlers based
// on the event type. It handles the built-in ping/pong keepalive internally
// and sends structured error events for malformed or unsupported ones.
// Every failure here is scoped to the offending event; the session stays
// open.
type Dispatcher struct {
	handlers map[string]EventHandler
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]EventHandler),
	}
}

// Register associates an EventHandler with an event type. If a handler was
// already registered for the given type, it is silently replaced.
func (d *Dispatcher) Register(eventType string, handler EventHandler) {
	d.handlers[eventType] = handler
}

// Dispatch parses the raw bytes into a typed event, handles ping internally,
// and routes all other types to the registered handler. Parse errors and
// unregistered types result in a protocol_error event sent back to the
// originating session only.
func (d *Dispatcher) Dispatch(conn *Connection, data []byte) {
	start := time.Now()
	defer func() {
		metrics.EventLatency.Observe(time.Since(start).Seconds())
	}()

	eventType, event, err := protocol.ParseClientEvent(data)
	if err != nil {
		metrics.EventsTotal.WithLabelValues("invalid").Inc()
		log.Printf("ws: dispatch parse error session=%d: %v", conn.Session.ID, err)
		SendError(conn, protocol.CodeProtocol, "invalid event format")
		return
	}
	metrics.EventsTotal.WithLabelValues(eventType).Inc()

	// Built-in ping handler — respond immediately without requiring registration.
	if eventType == protocol.TypePing {
		d.sendPong(conn)
		return
	}

	handler, ok := d.handlers[eventType]
	if !ok {
		log.Printf("ws: unsupported event type=%q session=%d", eventType, conn.Session.ID)
		SendError(conn, protocol.CodeProtocol, "unsupported event type")
		return
	}

	handler(conn, event)
}

// SendError sends a structured error event back to the client. Errors during
// construction or transmission are logged but not propagated; an error event
// that cannot be delivered is moot because the session is already dying.
func SendError(conn *Connection, code string, message string) {
	metrics.EventErrors.WithLabelValues(code).Inc()

	data, err := protocol.NewServerEvent(protocol.TypeError, protocol.ErrorEvent{
		Code:    code,
		Message: message,
	})
	if err != nil {
		log.Printf("ws: failed to build error event session=%d: %v", conn.Session.ID, err)
		return
	}

	if err := conn.WriteEvent(data); err != nil {
		log.Printf("ws: failed to send error event session=%d: %v", conn.Session.ID, err)
	}
}

// sendPong responds to a client ping with a pong event.
func (d *Dispatcher) sendPong(conn *Connection) {
	data, err := protocol.NewServerEvent(protocol.TypePong, protocol.PongEvent{})
	if err != nil {
		log.Printf("ws: failed to build pong event session=%d: %v", conn.Session.ID, err)
		return
	}

	if err := conn.WriteEvent(data); err != nil {
		log.Printf("ws: failed to send pong event session=%d: %v", conn.Session.ID, err)
	}
}
