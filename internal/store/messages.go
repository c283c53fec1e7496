// Package store provides PostgreSQL-backed persistence for accounts and
// message records. Message bodies arrive already encrypted; the store only
// ever sees nonce and ciphertext, both kept hex-encoded.
package store

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// Message status values. A record starts as sent and moves through
// delivered/seen on client acknowledgement; deleted is set by unsend.
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusSeen      = "seen"
	StatusDeleted   = "deleted"
)

// ErrNotFound is returned when a referenced row does not exist.
var ErrNotFound = errors.New("store: not found")

// validStatusUpdates is the set of statuses a client may request, matching
// the CHECK constraint on the messages table.
var validStatusUpdates = map[string]bool{
	StatusDelivered: true,
	StatusSeen:      true,
}

// ValidStatusUpdate reports whether a client-requested status is allowed.
func ValidStatusUpdate(status string) bool {
	return validStatusUpdates[status]
}

// Message is one durable message record.
type Message struct {
	ID         int64
	SenderID   int64
	ReceiverID int64
	Nonce      string // hex
	Content    string // ciphertext, hex
	Timestamp  time.Time
	Status     string
	DeletedAt  *time.Time
}

// MessageStore manages message records in PostgreSQL.
type MessageStore struct {
	db *sql.DB
}

// NewMessageStore creates a message store backed by the given database handle.
func NewMessageStore(db *sql.DB) *MessageStore {
	return &MessageStore{db: db}
}

const messageColumns = `id, sender_id, receiver_id, nonce, content, created_at, status, deleted_at`

// Create inserts a new message with status sent and returns the stored
// record including its assigned id and timestamp.
func (s *MessageStore) Create(ctx context.Context, senderID, receiverID int64, nonce, ciphertext []byte) (Message, error) {
	const query = `
		INSERT INTO messages (sender_id, receiver_id, nonce, content, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + messageColumns

	row := s.db.QueryRowContext(ctx, query,
		senderID, receiverID, hex.EncodeToString(nonce), hex.EncodeToString(ciphertext), StatusSent)

	msg, err := scanMessage(row)
	if err != nil {
		return Message{}, fmt.Errorf("store: insert message: %w", err)
	}
	return msg, nil
}

// UpdateStatus sets the status of an existing message and returns the
// updated record. Setting the same status twice is a no-op from the
// requester's point of view; concurrent updaters get last-write-wins.
func (s *MessageStore) UpdateStatus(ctx context.Context, id int64, status string) (Message, error) {
	const query = `
		UPDATE messages SET status = $2 WHERE id = $1
		RETURNING ` + messageColumns

	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, id, status))
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, fmt.Errorf("store: update status: %w", err)
	}
	return msg, nil
}

// MarkDeleted records an unsend: the deletion timestamp is set and the
// status moves to deleted. The ciphertext itself is not erased here;
// physical retention is a data-retention decision.
func (s *MessageStore) MarkDeleted(ctx context.Context, id int64) (Message, error) {
	const query = `
		UPDATE messages
		SET deleted_at = COALESCE(deleted_at, NOW()), status = $2
		WHERE id = $1
		RETURNING ` + messageColumns

	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, id, StatusDeleted))
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, fmt.Errorf("store: mark deleted: %w", err)
	}
	return msg, nil
}

// GetByID fetches a single message record.
func (s *MessageStore) GetByID(ctx context.Context, id int64) (Message, error) {
	const query = `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`

	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, fmt.Errorf("store: get message: %w", err)
	}
	return msg, nil
}

// History returns the conversation between two users ordered oldest first,
// paginated by limit and offset. It serves the external history collaborator;
// the relay itself never reads back history.
func (s *MessageStore) History(ctx context.Context, userA, userB int64, limit, offset int) ([]Message, error) {
	const query = `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE (sender_id = $1 AND receiver_id = $2)
		   OR (sender_id = $2 AND receiver_id = $1)
		ORDER BY created_at, id
		LIMIT $3 OFFSET $4`

	rows, err := s.db.QueryContext(ctx, query, userA, userB, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("store: query history: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan history row: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate history: %w", err)
	}
	return messages, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row scanner) (Message, error) {
	var (
		msg       Message
		deletedAt sql.NullTime
	)
	err := row.Scan(&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.Nonce,
		&msg.Content, &msg.Timestamp, &msg.Status, &deletedAt)
	if err != nil {
		return Message{}, err
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		msg.DeletedAt = &t
	}
	return msg, nil
}
