package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"taskpulse/internal/bus"
	"taskpulse/internal/domain"
)

func newTestNotifier(t *testing.T) (*Notifier, *miniredis.Miniredis, *bus.MemoryBus) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	mb := bus.NewMemoryBus()
	n := NewNotifier(client, mb)
	n.now = func() time.Time { return time.Date(2024, time.March, 13, 10, 0, 0, 0, time.UTC) }
	return n, mr, mb
}

func reminderEvent(reminderType string) domain.Event {
	return domain.Event{
		EventType:    domain.ReminderDue,
		TaskID:       "task-1",
		UserID:       "user-1",
		ReminderID:   "rem-1",
		TaskTitle:    "Water plants",
		ReminderTime: "2024-03-13T12:00:00Z",
		ReminderType: reminderType,
	}
}

func TestDeliverLiveWhenPresent(t *testing.T) {
	n, mr, mb := newTestNotifier(t)
	mr.Set(PresenceKey("user-1"), "1")

	ctx := context.Background()
	sub := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer sub.Close()
	pubsub := sub.Subscribe(ctx, Channel)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := n.Deliver(ctx, reminderEvent(domain.ReminderBoth)); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	select {
	case msg := <-pubsub.Channel():
		var note Notification
		if err := json.Unmarshal([]byte(msg.Payload), &note); err != nil {
			t.Fatalf("payload not json: %v", err)
		}
		if note.UserID != "user-1" || note.Message != "Reminder: Water plants is due soon!" {
			t.Fatalf("notification = %+v", note)
		}
	case <-time.After(time.Second):
		t.Fatal("no live notification published")
	}

	if n := len(mb.Published(domain.TopicEmailDeliveries)); n != 0 {
		t.Fatalf("email jobs = %d, want 0 when delivered live", n)
	}
}

func TestDeliverFallsBackToEmail(t *testing.T) {
	n, _, mb := newTestNotifier(t)

	if err := n.Deliver(context.Background(), reminderEvent(domain.ReminderEmail)); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	jobs := mb.Published(domain.TopicEmailDeliveries)
	if len(jobs) != 1 {
		t.Fatalf("email jobs = %d, want 1", len(jobs))
	}
	var job EmailJob
	if err := json.Unmarshal(jobs[0], &job); err != nil {
		t.Fatalf("job not json: %v", err)
	}
	if job.UserID != "user-1" || job.Subject != "Task Reminder: Water plants" {
		t.Fatalf("job = %+v", job)
	}
}

func TestDeliverDropsNotificationOnlyWhenOffline(t *testing.T) {
	n, _, mb := newTestNotifier(t)

	if err := n.Deliver(context.Background(), reminderEvent(domain.ReminderNotification)); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if jobs := mb.Published(domain.TopicEmailDeliveries); len(jobs) != 0 {
		t.Fatalf("email jobs = %d, want 0", len(jobs))
	}
}

type fixedLookup string

func (f fixedLookup) UserEmail(context.Context, string) (string, error) {
	return string(f), nil
}

func TestEmailWorker(t *testing.T) {
	var sentTo, sentSubject string
	w := NewEmailWorker(SMTPConfig{Host: "smtp.local", Port: 587, User: "u", Password: "p"}, fixedLookup("user@example.com"))
	w.send = func(_ SMTPConfig, to, subject, _ string) error {
		sentTo, sentSubject = to, subject
		return nil
	}

	job, _ := json.Marshal(EmailJob{UserID: "user-1", Subject: "Task Reminder: Water plants", Body: "<html></html>"})
	if err := w.Handle(context.Background(), job); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if sentTo != "user@example.com" || sentSubject != "Task Reminder: Water plants" {
		t.Fatalf("sent to %q subject %q", sentTo, sentSubject)
	}
}

func TestEmailWorkerWithoutRecipient(t *testing.T) {
	w := NewEmailWorker(SMTPConfig{User: "u", Password: "p"}, nil)
	called := false
	w.send = func(SMTPConfig, string, string, string) error {
		called = true
		return nil
	}

	job, _ := json.Marshal(EmailJob{UserID: "user-1", Subject: "s", Body: "b"})
	if err := w.Handle(context.Background(), job); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if called {
		t.Fatal("send must be skipped without a recipient")
	}
}

func TestEmailWorkerDisabled(t *testing.T) {
	w := NewEmailWorker(SMTPConfig{}, fixedLookup("user@example.com"))
	called := false
	w.send = func(SMTPConfig, string, string, string) error {
		called = true
		return nil
	}

	job, _ := json.Marshal(EmailJob{UserID: "user-1"})
	if err := w.Handle(context.Background(), job); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if called {
		t.Fatal("send must be skipped without smtp credentials")
	}
}
