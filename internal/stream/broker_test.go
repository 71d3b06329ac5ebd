package stream

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"taskpulse/internal/notify"
)

func newTestBroker(t *testing.T) (*Broker, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewBroker(client), mr, client
}

func TestSubscribeSetsPresence(t *testing.T) {
	b, mr, _ := newTestBroker(t)
	ctx := context.Background()

	ch := b.Subscribe(ctx, "user-1")
	if !mr.Exists(notify.PresenceKey("user-1")) {
		t.Fatal("presence key not set on subscribe")
	}

	b.Unsubscribe(ctx, "user-1", ch)
	if mr.Exists(notify.PresenceKey("user-1")) {
		t.Fatal("presence key not cleared on last unsubscribe")
	}
}

func TestPresenceSurvivesUntilLastUnsubscribe(t *testing.T) {
	b, mr, _ := newTestBroker(t)
	ctx := context.Background()

	first := b.Subscribe(ctx, "user-1")
	second := b.Subscribe(ctx, "user-1")

	b.Unsubscribe(ctx, "user-1", first)
	if !mr.Exists(notify.PresenceKey("user-1")) {
		t.Fatal("presence key cleared while a client is still connected")
	}
	b.Unsubscribe(ctx, "user-1", second)
	if mr.Exists(notify.PresenceKey("user-1")) {
		t.Fatal("presence key not cleared")
	}
}

func TestBroadcastReachesOnlyOwner(t *testing.T) {
	b, _, _ := newTestBroker(t)
	ctx := context.Background()

	mine := b.Subscribe(ctx, "user-1")
	other := b.Subscribe(ctx, "user-2")

	b.Broadcast("user-1", []byte("hello"))

	select {
	case data := <-mine:
		if string(data) != "hello" {
			t.Fatalf("payload = %q", data)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive broadcast")
	}
	select {
	case data := <-other:
		t.Fatalf("wrong user received %q", data)
	default:
	}
}

func TestSubscribeNotificationsRoutesByUser(t *testing.T) {
	b, mr, client := newTestBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := b.Subscribe(ctx, "user-1")
	go SubscribeNotifications(ctx, client, b)

	note, _ := json.Marshal(notify.Notification{
		UserID:  "user-1",
		Type:    "reminder",
		Message: "Reminder: Water plants is due soon!",
	})

	// The pubsub subscription is established asynchronously; publish
	// until the payload arrives.
	deadline := time.After(2 * time.Second)
	for {
		mr.Publish(notify.Channel, string(note))
		select {
		case data := <-ch:
			var got notify.Notification
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("payload not json: %v", err)
			}
			if got.UserID != "user-1" || got.Message != "Reminder: Water plants is due soon!" {
				t.Fatalf("notification = %+v", got)
			}
			return
		case <-deadline:
			t.Fatal("notification never routed to subscriber")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
