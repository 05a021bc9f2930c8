package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"promise-service.io/promise/internal/deliverylog"
)

const claimKeyPrefix = "promise:delivery-claim:"

// Claimer grants one sender the right to attempt a delivery key. The
// delivery log stays the source of truth; a claim only keeps two processes
// from calling the transport for the same key at once.
type Claimer interface {
	// Claim returns won=false when another holder owns key. release must be
	// called by the winner once the attempt is recorded.
	Claim(ctx context.Context, key deliverylog.Key) (release func(), won bool, err error)
}

func claimKey(key deliverylog.Key) string {
	return fmt.Sprintf("%s%d:%d:%s:%s", claimKeyPrefix, key.MeetingID, key.UserID, key.Channel, key.TraceID)
}

// LocalClaimer serializes attempts within one process.
type LocalClaimer struct {
	ttl time.Duration
	now func() time.Time

	mu     sync.Mutex
	claims map[string]time.Time
}

func NewLocalClaimer(ttl time.Duration) *LocalClaimer {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &LocalClaimer{ttl: ttl, now: time.Now, claims: make(map[string]time.Time)}
}

func (c *LocalClaimer) Claim(_ context.Context, key deliverylog.Key) (func(), bool, error) {
	k := claimKey(key)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	if exp, held := c.claims[k]; held && now.Before(exp) {
		return func() {}, false, nil
	}
	c.claims[k] = now.Add(c.ttl)
	return func() {
		c.mu.Lock()
		delete(c.claims, k)
		c.mu.Unlock()
	}, true, nil
}

// releaseScript deletes the claim only if it still carries our token, so an
// expired claim taken over by someone else is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisClaimer shares claims between processes through SET NX PX.
type RedisClaimer struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewRedisClaimer(rdb redis.UniversalClient, ttl time.Duration) *RedisClaimer {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisClaimer{rdb: rdb, ttl: ttl}
}

func (c *RedisClaimer) Claim(ctx context.Context, key deliverylog.Key) (func(), bool, error) {
	k := claimKey(key)
	token := uuid.NewString()

	won, err := c.rdb.SetNX(ctx, k, token, c.ttl).Result()
	if err != nil {
		return func() {}, false, fmt.Errorf("claim %s: %w", k, err)
	}
	if !won {
		return func() {}, false, nil
	}
	return func() {
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(rctx, c.rdb, []string{k}, token).Err()
	}, true, nil
}
