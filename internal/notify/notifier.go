// Package notify delivers reminder notifications. Live delivery goes
// over a redis channel picked up by the stream service; when the user
// has no open live channel the reminder is stored and forwarded as an
// email job.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskpulse/internal/bus"
	"taskpulse/internal/domain"
)

// Channel is the redis pub/sub channel live notifications ride on.
const Channel = "notifications"

// PresenceKey names the redis key the stream service keeps alive while
// the user has an open live channel.
func PresenceKey(userID string) string {
	return "presence:" + userID
}

// Notification is the payload pushed to live subscribers.
type Notification struct {
	Type         string    `json:"type"`
	UserID       string    `json:"user_id"`
	TaskTitle    string    `json:"task_title"`
	ReminderTime string    `json:"reminder_time"`
	Message      string    `json:"message"`
	Timestamp    time.Time `json:"timestamp"`
}

// Notifier is the notification sink used by the relay.
type Notifier struct {
	redis      *redis.Client
	pub        bus.Publisher
	emailTopic string
	now        func() time.Time
}

// NewNotifier wires a notifier. pub carries the store-and-forward
// email jobs.
func NewNotifier(rc *redis.Client, pub bus.Publisher) *Notifier {
	return &Notifier{redis: rc, pub: pub, emailTopic: domain.TopicEmailDeliveries, now: time.Now}
}

// Deliver sends one due reminder. The live channel wins when the user
// is present; otherwise reminders that request email fall back to the
// email queue and pure notification reminders are dropped.
func (n *Notifier) Deliver(ctx context.Context, ev domain.Event) error {
	present, err := n.redis.Exists(ctx, PresenceKey(ev.UserID)).Result()
	if err != nil {
		log.WithError(err).WithField("user", ev.UserID).Warn("presence check failed, assuming offline")
		present = 0
	}

	if present > 0 {
		msg := Notification{
			Type:         "reminder",
			UserID:       ev.UserID,
			TaskTitle:    ev.TaskTitle,
			ReminderTime: ev.ReminderTime,
			Message:      fmt.Sprintf("Reminder: %s is due soon!", ev.TaskTitle),
			Timestamp:    n.now().UTC(),
		}
		payload, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		if err := n.redis.Publish(ctx, Channel, payload).Err(); err != nil {
			return err
		}
		log.WithField("user", ev.UserID).Info("reminder delivered on live channel")
		return nil
	}

	if ev.ReminderType == domain.ReminderEmail || ev.ReminderType == domain.ReminderBoth {
		job := EmailJob{
			UserID:  ev.UserID,
			Subject: fmt.Sprintf("Task Reminder: %s", ev.TaskTitle),
			Body:    emailBody(ev.TaskTitle, ev.ReminderTime),
		}
		payload, err := json.Marshal(job)
		if err != nil {
			return err
		}
		if err := n.pub.Publish(ctx, n.emailTopic, payload); err != nil {
			return err
		}
		log.WithField("user", ev.UserID).Info("no live channel, reminder queued for email")
		return nil
	}

	log.WithField("user", ev.UserID).Info("no live channel and reminder does not request email, dropped")
	return nil
}

func emailBody(title, reminderTime string) string {
	return fmt.Sprintf(
		"<html><body><h2>Task Reminder</h2><p>Your task <strong>%s</strong> is due soon!</p><p><strong>Due time:</strong> %s</p></body></html>",
		title, reminderTime)
}
