// Package messaging provides the NATS bridge that carries outbound events
// between relay instances. A user's sessions may be spread across several
// servers; events fanned out locally are also published to the user's
// subject so every instance holding one of their sessions can deliver.
package messaging

import (
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// SubjectUser is the per-identity subject prefix: dm.user.<identity id>.
const SubjectUser = "dm.user"

// RemoteEvent is the envelope published to user subjects. Origin carries
// the publishing instance's name so subscribers can skip their own events.
type RemoteEvent struct {
	Origin  string          `json:"origin"`
	Payload json.RawMessage `json:"payload"`
}

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name, also the origin tag
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "dm-relay",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// Bridge wraps the NATS connection with per-identity subscriptions.
// Subscriptions are reference-counted: several local sessions of the same
// identity share one subject subscription.
type Bridge struct {
	conn   *nats.Conn
	origin string

	mu   sync.Mutex
	subs map[int64]*nats.Subscription
	refs map[int64]int
}

// NewBridge connects to NATS with the given config and returns a ready bridge.
func NewBridge(config Config) (*Bridge, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &Bridge{
		conn:   nc,
		origin: config.Name,
		subs:   make(map[int64]*nats.Subscription),
		refs:   make(map[int64]int),
	}, nil
}

func userSubject(identityID int64) string {
	return SubjectUser + "." + strconv.FormatInt(identityID, 10)
}

// PublishToUser publishes an already-serialized server event to the
// identity's subject for delivery by sibling instances.
func (b *Bridge) PublishToUser(identityID int64, payload []byte) error {
	data, err := json.Marshal(RemoteEvent{Origin: b.origin, Payload: payload})
	if err != nil {
		return fmt.Errorf("nats marshal remote event: %w", err)
	}
	return b.conn.Publish(userSubject(identityID), data)
}

// SubscribeUser registers a handler for events addressed to the identity.
// Events published by this instance are filtered out so local fan-out is
// not doubled. Repeat subscriptions for the same identity share the
// underlying NATS subscription.
func (b *Bridge) SubscribeUser(identityID int64, handler func(payload []byte)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[identityID]; ok {
		b.refs[identityID]++
		return nil
	}

	subject := userSubject(identityID)
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		var event RemoteEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			log.Printf("[nats] unmarshal remote event on %s: %v", subject, err)
			return
		}
		if event.Origin == b.origin {
			return // our own publish; already delivered locally
		}
		handler(event.Payload)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	b.subs[identityID] = sub
	b.refs[identityID] = 1
	return nil
}

// UnsubscribeUser drops one reference to the identity's subscription and
// unsubscribes when the last local session goes away.
func (b *Bridge) UnsubscribeUser(identityID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[identityID]
	if !ok {
		return fmt.Errorf("nats: no subscription for identity %d", identityID)
	}

	b.refs[identityID]--
	if b.refs[identityID] > 0 {
		return nil
	}

	delete(b.subs, identityID)
	delete(b.refs, identityID)

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe identity %d: %w", identityID, err)
	}
	return nil
}

// Close drains all active subscriptions and closes the NATS connection.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain identity %d: %v", id, err)
		}
	}
	b.subs = make(map[int64]*nats.Subscription)
	b.refs = make(map[int64]int)

	if err := b.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] bridge closed")
}
