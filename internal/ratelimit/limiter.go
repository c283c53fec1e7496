// Package ratelimit provides Redis-backed rate limiting using the INCR +
// EXPIRE window algorithm. The relay applies it per identity so that one
// noisy client cannot flood the store or its peers' sessions.
package ratelimit

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rule defines a rate limiting policy: the Redis key prefix, maximum number
// of events allowed in the window, and the window duration.
type Rule struct {
	Key    string        // Redis key prefix (e.g., "rl:msg:")
	Limit  int           // max count in the window
	Window time.Duration // time window
}

// Standard rules for the relay.
var (
	// RuleMessage allows 20 message events per 10 seconds per identity.
	RuleMessage = Rule{Key: "rl:msg:", Limit: 20, Window: 10 * time.Second}

	// RuleConnect allows 10 WebSocket connections per minute per identity.
	RuleConnect = Rule{Key: "rl:conn:", Limit: 10, Window: 1 * time.Minute}
)

// Limiter performs rate limiting checks against Redis.
type Limiter struct {
	client *redis.Client
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// AllowID is a convenience wrapper for numeric identity ids.
func (l *Limiter) AllowID(ctx context.Context, rule Rule, id int64) bool {
	return l.Allow(ctx, rule, strconv.FormatInt(id, 10))
}

// Allow checks whether the given identifier is within the rate limit defined
// by rule. It increments the counter in Redis and sets the expiry on first
// access.
//
// Returns true if the event is allowed, false if rate limited. On Redis
// errors the method fails open (returns true) so that a Redis outage does
// not block legitimate traffic.
func (l *Limiter) Allow(ctx context.Context, rule Rule, id string) bool {
	key := rule.Key + id

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		log.Printf("ratelimit: incr %s failed (failing open): %v", key, err)
		return true
	}

	// First event in the window starts the clock.
	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			log.Printf("ratelimit: expire %s failed: %v", key, err)
		}
	}

	return count <= int64(rule.Limit)
}

// RetryAfter returns the seconds remaining in the identifier's current
// window, for inclusion in rate_limited errors. Returns 0 when unknown.
func (l *Limiter) RetryAfter(ctx context.Context, rule Rule, id string) int {
	ttl, err := l.client.TTL(ctx, rule.Key+id).Result()
	if err != nil || ttl <= 0 {
		return 0
	}
	return int(ttl.Seconds())
}
