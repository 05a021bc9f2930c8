package notification

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"promise-service.io/promise/internal/deliverylog"
	"promise-service.io/promise/internal/domain"
)

var claimTestKey = deliverylog.Key{MeetingID: 7, UserID: 2, Channel: domain.ChannelTemplate, TraceID: "mtg-7-abcdef01"}

func TestLocalClaimer(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	c := NewLocalClaimer(time.Minute)
	c.now = func() time.Time { return now }

	release, won, err := c.Claim(context.Background(), claimTestKey)
	if err != nil || !won {
		t.Fatalf("first Claim() = %v, %v", won, err)
	}
	if _, won, _ := c.Claim(context.Background(), claimTestKey); won {
		t.Fatal("second Claim() won while held")
	}

	release()
	if _, won, _ := c.Claim(context.Background(), claimTestKey); !won {
		t.Fatal("Claim() after release lost")
	}

	now = now.Add(2 * time.Minute)
	if _, won, _ := c.Claim(context.Background(), claimTestKey); !won {
		t.Fatal("Claim() after expiry lost")
	}
}

func TestRedisClaimer(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	a := NewRedisClaimer(rdb, 30*time.Second)
	b := NewRedisClaimer(rdb, 30*time.Second)
	ctx := context.Background()

	release, won, err := a.Claim(ctx, claimTestKey)
	if err != nil || !won {
		t.Fatalf("a.Claim() = %v, %v", won, err)
	}
	key := claimKey(claimTestKey)
	if !mr.Exists(key) {
		t.Fatalf("expected key %q to exist", key)
	}
	if ttl := mr.TTL(key); ttl != 30*time.Second {
		t.Fatalf("TTL = %s, want 30s", ttl)
	}
	if _, won, err := b.Claim(ctx, claimTestKey); err != nil || won {
		t.Fatalf("b.Claim() while held = %v, %v", won, err)
	}

	release()
	if mr.Exists(key) {
		t.Fatal("release left the claim behind")
	}

	// A release after the claim expired and was retaken must not delete the
	// new holder's claim.
	staleRelease, won, _ := a.Claim(ctx, claimTestKey)
	if !won {
		t.Fatal("a.Claim() after release lost")
	}
	mr.FastForward(31 * time.Second)
	if _, won, _ := b.Claim(ctx, claimTestKey); !won {
		t.Fatal("b.Claim() after expiry lost")
	}
	staleRelease()
	if !mr.Exists(key) {
		t.Fatal("stale release deleted another holder's claim")
	}
}

func TestRedisClaimer_ErrorWhenUnavailable(t *testing.T) {
	t.Parallel()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	_, won, err := NewRedisClaimer(rdb, time.Second).Claim(context.Background(), claimTestKey)
	if err == nil || won {
		t.Fatalf("Claim() = %v, %v, want error", won, err)
	}
}

func TestNewTraceID(t *testing.T) {
	t.Parallel()

	a, b := NewTraceID(42), NewTraceID(42)
	if a == b {
		t.Fatal("trace ids repeat")
	}
	if len(a) != len("mtg-42-")+8 || a[:7] != "mtg-42-" {
		t.Fatalf("NewTraceID() = %q", a)
	}
}
