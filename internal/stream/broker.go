// Package stream delivers live notifications to connected clients over
// server-sent events.
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskpulse/internal/notify"
)

// presenceTTL must outlive the refresh interval so a slow refresh does
// not flap the key.
const presenceTTL = 90 * time.Second

// Broker fans notification payloads out to per-user subscribers and
// mirrors connection state into redis presence keys. The notifier runs
// in a different process and decides live-versus-email delivery from
// those keys.
type Broker struct {
	rc *redis.Client

	mu   sync.Mutex
	subs map[string]map[chan []byte]struct{}
}

// NewBroker creates a broker backed by the given redis client.
func NewBroker(rc *redis.Client) *Broker {
	return &Broker{rc: rc, subs: make(map[string]map[chan []byte]struct{})}
}

// Subscribe registers a client channel for the user and marks the user
// present.
func (b *Broker) Subscribe(ctx context.Context, userID string) chan []byte {
	ch := make(chan []byte, 8)
	b.mu.Lock()
	set, ok := b.subs[userID]
	if !ok {
		set = make(map[chan []byte]struct{})
		b.subs[userID] = set
	}
	set[ch] = struct{}{}
	b.mu.Unlock()

	if err := b.rc.SetEx(ctx, notify.PresenceKey(userID), "1", presenceTTL).Err(); err != nil {
		log.WithError(err).WithField("user", userID).Warn("could not set presence key")
	}
	return ch
}

// Unsubscribe removes a client channel. The presence key is deleted
// when the last channel for the user goes away.
func (b *Broker) Unsubscribe(ctx context.Context, userID string, ch chan []byte) {
	b.mu.Lock()
	set := b.subs[userID]
	delete(set, ch)
	last := len(set) == 0
	if last {
		delete(b.subs, userID)
	}
	b.mu.Unlock()

	if last {
		if err := b.rc.Del(ctx, notify.PresenceKey(userID)).Err(); err != nil {
			log.WithError(err).WithField("user", userID).Warn("could not clear presence key")
		}
	}
}

// Broadcast delivers a payload to every subscriber of the user. Slow
// subscribers are skipped rather than blocking the fan-out.
func (b *Broker) Broadcast(userID string, data []byte) {
	b.mu.Lock()
	for ch := range b.subs[userID] {
		select {
		case ch <- data:
		default:
		}
	}
	b.mu.Unlock()
}

// RefreshPresence re-arms the presence keys of connected users until
// the context is cancelled.
func (b *Broker) RefreshPresence(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.mu.Lock()
			users := make([]string, 0, len(b.subs))
			for userID := range b.subs {
				users = append(users, userID)
			}
			b.mu.Unlock()
			for _, userID := range users {
				if err := b.rc.SetEx(ctx, notify.PresenceKey(userID), "1", presenceTTL).Err(); err != nil {
					log.WithError(err).WithField("user", userID).Warn("could not refresh presence key")
				}
			}
		}
	}
}
