package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"taskpulse/internal/bus"
	"taskpulse/internal/domain"
)

type fakeReminderStore struct {
	due     []domain.ReminderEntity
	dueErr  error
	sent    []string
	markErr error
}

func (f *fakeReminderStore) DueReminders(_ context.Context, _ time.Time) ([]domain.ReminderEntity, error) {
	if f.dueErr != nil {
		return nil, f.dueErr
	}
	return f.due, nil
}

func (f *fakeReminderStore) MarkReminderSent(_ context.Context, _, reminderID string) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.sent = append(f.sent, reminderID)
	return nil
}

func TestScanPublishesDueReminders(t *testing.T) {
	store := &fakeReminderStore{due: []domain.ReminderEntity{
		{
			Entity:       domain.Entity{PartitionKey: "user-1", RowKey: "rem-1"},
			TaskID:       "task-1",
			TaskTitle:    "Water plants",
			RemindAt:     "2024-03-13T09:00:00Z",
			ReminderType: domain.ReminderBoth,
		},
	}}
	mb := bus.NewMemoryBus()
	s := New(store, mb, time.Second)
	s.now = func() time.Time { return time.Date(2024, time.March, 13, 10, 0, 0, 0, time.UTC) }

	s.Scan(context.Background())

	events := mb.Published(domain.TopicReminderEvents)
	if len(events) != 1 {
		t.Fatalf("published %d events, want 1", len(events))
	}
	var ev domain.Event
	if err := json.Unmarshal(events[0], &ev); err != nil {
		t.Fatalf("event not json: %v", err)
	}
	if ev.EventType != domain.ReminderDue || ev.ReminderID != "rem-1" || ev.UserID != "user-1" {
		t.Fatalf("event = %+v", ev)
	}
	if len(store.sent) != 1 || store.sent[0] != "rem-1" {
		t.Fatalf("sent = %v, want [rem-1]", store.sent)
	}
}

func TestScanPublishFailureLeavesReminderUnsent(t *testing.T) {
	store := &fakeReminderStore{due: []domain.ReminderEntity{
		{Entity: domain.Entity{PartitionKey: "user-1", RowKey: "rem-1"}},
	}}
	mb := bus.NewMemoryBus()
	mb.Subscribe(context.Background(), domain.TopicReminderEvents, func(context.Context, []byte) error {
		return errors.New("queue offline")
	})
	s := New(store, mb, time.Second)

	s.Scan(context.Background())

	if len(store.sent) != 0 {
		t.Fatalf("sent = %v, want none after publish failure", store.sent)
	}
}

func TestScanStoreFailureIsIsolated(t *testing.T) {
	store := &fakeReminderStore{dueErr: errors.New("table offline")}
	s := New(store, bus.NewMemoryBus(), time.Second)

	// Must not panic; nothing to assert beyond the absence of effects.
	s.Scan(context.Background())
}
