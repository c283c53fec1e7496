// Package session provides Redis-backed presence records for live
// connections. The connection registry remains the authoritative in-process
// set; presence exists so that operators and sibling relay instances can see
// who is online across the fleet. Records expire on their own if a server
// dies without cleaning up.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cipherchat/dm-app/internal/auth"
)

const (
	// PresencePrefix is the Redis key prefix for presence hashes.
	PresencePrefix = "presence:"

	// PresenceTTL is the time-to-live for presence keys. Live servers
	// refresh it on activity; stale keys age out after a crash.
	PresenceTTL = 1 * time.Hour
)

// Presence is one live connection's presence record.
type Presence struct {
	ConnID     string `redis:"conn_id"`
	UserID     int64  `redis:"user_id"`
	Username   string `redis:"username"`
	Server     string `redis:"server"` // which relay instance holds the connection
	CreatedAt  int64  `redis:"created_at"`
	LastActive int64  `redis:"last_active"`
}

// Store manages presence records in Redis.
type Store struct {
	client     *redis.Client
	serverName string
}

// NewStore creates a presence store connected to Redis.
func NewStore(redisAddr string, serverName string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("session: redis connection failed: %w", err)
	}

	return &Store{client: client, serverName: serverName}, nil
}

// Create records a new live connection for the given identity.
func (s *Store) Create(ctx context.Context, connID string, identity auth.Identity) error {
	key := PresencePrefix + connID
	now := time.Now().Unix()

	record := map[string]interface{}{
		"conn_id":     connID,
		"user_id":     identity.ID,
		"username":    identity.Username,
		"server":      s.serverName,
		"created_at":  now,
		"last_active": now,
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, record)
	pipe.Expire(ctx, key, PresenceTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Get retrieves a presence record. Returns nil if not found.
func (s *Store) Get(ctx context.Context, connID string) (*Presence, error) {
	key := PresencePrefix + connID
	var p Presence
	if err := s.client.HGetAll(ctx, key).Scan(&p); err != nil {
		return nil, err
	}
	if p.ConnID == "" {
		return nil, nil // not found
	}
	return &p, nil
}

// Touch bumps last_active and refreshes the TTL.
func (s *Store) Touch(ctx context.Context, connID string) error {
	key := PresencePrefix + connID
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "last_active", time.Now().Unix())
	pipe.Expire(ctx, key, PresenceTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Delete removes a presence record on disconnect.
func (s *Store) Delete(ctx context.Context, connID string) error {
	return s.client.Del(ctx, PresencePrefix+connID).Err()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages.
func (s *Store) Client() *redis.Client {
	return s.client
}
