// Package relay implements the message-event protocol that drives delivery:
// it validates inbound events, encrypts message bodies, persists through the
// message store, and fans results out to the sender's and receiver's live
// sessions. Every failure after authentication is scoped to the single
// offending event; the session stays open.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cipherchat/dm-app/internal/auth"
	"github.com/cipherchat/dm-app/internal/crypto"
	"github.com/cipherchat/dm-app/internal/metrics"
	"github.com/cipherchat/dm-app/internal/protocol"
	"github.com/cipherchat/dm-app/internal/ratelimit"
	"github.com/cipherchat/dm-app/internal/registry"
	"github.com/cipherchat/dm-app/internal/store"
)

// AccountResolver resolves display handles to identities. The account
// system itself (signup, login, profiles) is an external collaborator.
type AccountResolver interface {
	ResolveByHandle(ctx context.Context, handle string) (auth.Identity, error)
}

// MessageStore persists message records. Implementations signal unknown ids
// with store.ErrNotFound.
type MessageStore interface {
	Create(ctx context.Context, senderID, receiverID int64, nonce, ciphertext []byte) (store.Message, error)
	UpdateStatus(ctx context.Context, id int64, status string) (store.Message, error)
	MarkDeleted(ctx context.Context, id int64) (store.Message, error)
}

// Publisher carries outbound events to sessions held by other relay
// instances. The NATS bridge satisfies it; nil keeps fan-out local.
type Publisher interface {
	PublishToUser(identityID int64, payload []byte) error
}

// Limiter throttles message events per identity. Nil disables limiting.
type Limiter interface {
	AllowID(ctx context.Context, rule ratelimit.Rule, id int64) bool
}

// storeTimeout bounds each store round-trip so a stalled database cannot
// wedge a session goroutine forever.
const storeTimeout = 5 * time.Second

// Relay owns the event handlers for one server instance. All state it
// touches is either read-only after startup (cipher, collaborators) or
// internally synchronized (registry), so one Relay serves every session
// goroutine concurrently.
type Relay struct {
	cipher   *crypto.Cipher
	accounts AccountResolver
	messages MessageStore
	registry *registry.Registry
	bridge   Publisher
	limiter  Limiter
}

// New creates a Relay. Bridge and limiter are optional.
func New(cipher *crypto.Cipher, accounts AccountResolver, messages MessageStore,
	reg *registry.Registry, bridge Publisher, limiter Limiter) *Relay {
	return &Relay{
		cipher:   cipher,
		accounts: accounts,
		messages: messages,
		registry: reg,
		bridge:   bridge,
		limiter:  limiter,
	}
}

// HandleMessage processes a send: resolve both handles, encrypt, persist
// with status sent, and fan out to the sender's and receiver's sessions.
// Only those two identities ever observe the message.
func (r *Relay) HandleMessage(sess *registry.Session, event interface{}) {
	m, ok := event.(protocol.MessageEvent)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if r.limiter != nil && !r.limiter.AllowID(ctx, ratelimit.RuleMessage, sess.Identity.ID) {
		r.reportError(sess, protocol.CodeRateLimited, "too many messages, slow down")
		return
	}

	// The session may only send as the identity it authenticated as.
	if m.SenderUsername != sess.Identity.Username {
		r.reportError(sess, protocol.CodeProtocol,
			fmt.Sprintf("sender_username %q does not match session identity", m.SenderUsername))
		return
	}

	if err := ValidateContent(m.Content); err != nil {
		r.reportError(sess, protocol.CodeProtocol, err.Error())
		return
	}

	sender, err := r.accounts.ResolveByHandle(ctx, m.SenderUsername)
	if err == nil {
		var receiver auth.Identity
		receiver, err = r.accounts.ResolveByHandle(ctx, m.ReceiverUsername)
		if err == nil {
			r.relayMessage(ctx, sess, sender, receiver, m.Content)
			return
		}
	}

	if errors.Is(err, store.ErrNotFound) {
		r.reportError(sess, protocol.CodeNotFound, "sender or receiver not found")
		return
	}
	log.Printf("relay: resolve handles session=%d: %v", sess.ID, err)
	r.reportError(sess, protocol.CodeStore, "failed to resolve participants")
}

// relayMessage performs the encrypt-persist-deliver leg of a send once both
// participants are resolved.
func (r *Relay) relayMessage(ctx context.Context, sess *registry.Session, sender, receiver auth.Identity, content string) {
	nonce, ciphertext, err := r.cipher.Encrypt([]byte(content))
	if err != nil {
		log.Printf("relay: encrypt failed session=%d: %v", sess.ID, err)
		r.reportError(sess, protocol.CodeStore, "failed to process message")
		return
	}

	msg, err := r.messages.Create(ctx, sender.ID, receiver.ID, nonce, ciphertext)
	if err != nil {
		log.Printf("relay: persist message session=%d: %v", sess.ID, err)
		r.reportError(sess, protocol.CodeStore, "failed to store message")
		return
	}

	data, err := protocol.NewServerEvent(protocol.TypeMessage, protocol.ServerMessageEvent{
		MessageID:        msg.ID,
		SenderUsername:   sender.Username,
		ReceiverUsername: receiver.Username,
		Nonce:            msg.Nonce,
		Content:          msg.Content,
		Status:           msg.Status,
		Timestamp:        msg.Timestamp.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		log.Printf("relay: build message event session=%d: %v", sess.ID, err)
		return
	}

	live := r.deliver(sender.ID, data)
	if receiver.ID != sender.ID {
		live = r.deliver(receiver.ID, data)
	}
	if live {
		metrics.DeliveriesTotal.WithLabelValues("live").Inc()
	} else {
		metrics.DeliveriesTotal.WithLabelValues("stored_only").Inc()
	}
}

// HandleStatusUpdate processes a delivered/seen acknowledgement and notifies
// every live session of both participants. Repeating a status is a no-op
// from the requester's point of view; racing updates resolve by
// last-write-wins in the store.
func (r *Relay) HandleStatusUpdate(sess *registry.Session, event interface{}) {
	m, ok := event.(protocol.StatusUpdateEvent)
	if !ok {
		return
	}

	if !store.ValidStatusUpdate(m.Status) {
		r.reportError(sess, protocol.CodeProtocol,
			fmt.Sprintf("invalid status %q: must be %q or %q", m.Status, store.StatusDelivered, store.StatusSeen))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	msg, err := r.messages.UpdateStatus(ctx, m.MessageID, m.Status)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			r.reportError(sess, protocol.CodeNotFound, "message not found")
			return
		}
		log.Printf("relay: update status session=%d message=%d: %v", sess.ID, m.MessageID, err)
		r.reportError(sess, protocol.CodeStore, "failed to update message status")
		return
	}

	data, err := protocol.NewServerEvent(protocol.TypeStatusUpdate, protocol.ServerStatusEvent{
		MessageID: msg.ID,
		NewStatus: msg.Status,
	})
	if err != nil {
		log.Printf("relay: build status event session=%d: %v", sess.ID, err)
		return
	}

	r.notifyParticipants(msg, data)
}

// HandleDelete processes an unsend: the record keeps its ciphertext but
// gains a deletion timestamp, and both participants' sessions are told to
// drop the message locally.
func (r *Relay) HandleDelete(sess *registry.Session, event interface{}) {
	m, ok := event.(protocol.DeleteMessageEvent)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	msg, err := r.messages.MarkDeleted(ctx, m.MessageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			r.reportError(sess, protocol.CodeNotFound, "message not found")
			return
		}
		log.Printf("relay: delete message session=%d message=%d: %v", sess.ID, m.MessageID, err)
		r.reportError(sess, protocol.CodeStore, "failed to delete message")
		return
	}

	data, err := protocol.NewServerEvent(protocol.TypeDeleteMessage, protocol.ServerDeleteEvent{
		MessageID: msg.ID,
	})
	if err != nil {
		log.Printf("relay: build delete event session=%d: %v", sess.ID, err)
		return
	}

	r.notifyParticipants(msg, data)
}

// notifyParticipants fans an event out to the sender's and receiver's
// sessions only. Status and deletion changes are private to the
// conversation, never a public broadcast.
func (r *Relay) notifyParticipants(msg store.Message, data []byte) {
	r.deliver(msg.SenderID, data)
	if msg.ReceiverID != msg.SenderID {
		r.deliver(msg.ReceiverID, data)
	}
}

// deliver pushes an event to all local sessions of an identity and mirrors
// it across the bridge for sessions on other instances. It reports whether
// any local session was live; a false return means the event exists only in
// the store until the peer reconnects.
func (r *Relay) deliver(identityID int64, data []byte) bool {
	live := r.registry.SendTo(identityID, data)
	if r.bridge != nil {
		if err := r.bridge.PublishToUser(identityID, data); err != nil {
			log.Printf("relay: bridge publish user=%d: %v", identityID, err)
		}
	}
	return live
}

// reportError sends an error event to the originating session only.
func (r *Relay) reportError(sess *registry.Session, code, message string) {
	metrics.EventErrors.WithLabelValues(code).Inc()

	data, err := protocol.NewServerEvent(protocol.TypeError, protocol.ErrorEvent{
		Code:    code,
		Message: message,
	})
	if err != nil {
		log.Printf("relay: build error event session=%d: %v", sess.ID, err)
		return
	}
	if err := sess.Send(data); err != nil {
		log.Printf("relay: send error event session=%d: %v", sess.ID, err)
	}
}
