package stream

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskpulse/internal/notify"
)

// SubscribeNotifications consumes the live notification channel and
// routes each payload to the owning user's subscribers. It reconnects
// on channel loss until the context is cancelled.
func SubscribeNotifications(ctx context.Context, rc *redis.Client, broker *Broker) {
	for {
		sub := rc.Subscribe(ctx, notify.Channel)
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				var note notify.Notification
				if err := json.Unmarshal([]byte(msg.Payload), &note); err != nil {
					log.WithError(err).Error("unable to parse notification")
					continue
				}
				if note.UserID == "" {
					log.Warn("notification without user id, dropped")
					continue
				}
				broker.Broadcast(note.UserID, []byte(msg.Payload))
			}
		}
		sub.Close()
		if ctx.Err() != nil {
			return
		}
		log.Error("notification channel closed, reconnecting")
		time.Sleep(time.Second)
	}
}
