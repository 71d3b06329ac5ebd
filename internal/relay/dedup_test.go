package relay

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestDeduper(t *testing.T, ttl time.Duration) (*RedisDeduper, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisDeduper(client, ttl), mr
}

func TestRedisDeduperAdd(t *testing.T) {
	d, _ := newTestDeduper(t, time.Hour)
	ctx := context.Background()

	added, err := d.Add(ctx, "user-1", "task-1:2024-03-14")
	if err != nil || !added {
		t.Fatalf("first add: %v, %v", added, err)
	}
	added, err = d.Add(ctx, "user-1", "task-1:2024-03-14")
	if err != nil || added {
		t.Fatalf("second add should be suppressed: %v, %v", added, err)
	}
	// A different user generating the same key is unrelated.
	added, err = d.Add(ctx, "user-2", "task-1:2024-03-14")
	if err != nil || !added {
		t.Fatalf("cross-user add: %v, %v", added, err)
	}
}

func TestRedisDeduperRemove(t *testing.T) {
	d, _ := newTestDeduper(t, time.Hour)
	ctx := context.Background()

	if _, err := d.Add(ctx, "user-1", "k"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := d.Remove(ctx, "user-1", "k"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	added, err := d.Add(ctx, "user-1", "k")
	if err != nil || !added {
		t.Fatalf("add after remove: %v, %v", added, err)
	}
}

func TestRedisDeduperTTL(t *testing.T) {
	d, mr := newTestDeduper(t, time.Minute)
	ctx := context.Background()

	if _, err := d.Add(ctx, "user-1", "k"); err != nil {
		t.Fatalf("add: %v", err)
	}
	mr.FastForward(2 * time.Minute)
	added, err := d.Add(ctx, "user-1", "k")
	if err != nil || !added {
		t.Fatalf("expired key should be addable again: %v, %v", added, err)
	}
}
