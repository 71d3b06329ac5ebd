package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	log "github.com/sirupsen/logrus"

	"taskpulse/internal/domain"
)

type fakeAuditStore struct {
	entries   []domain.AuditEntity
	insertErr error
}

func (f *fakeAuditStore) InsertAudit(_ context.Context, ent domain.AuditEntity) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.entries = append(f.entries, ent)
	return nil
}

func newTestSink(store *fakeAuditStore) *Sink {
	s := NewSink(store)
	s.now = func() time.Time { return time.Date(2024, time.March, 13, 10, 0, 0, 0, time.UTC) }
	s.newID = func() string { return "audit-1" }
	return s
}

func TestRecord(t *testing.T) {
	store := &fakeAuditStore{}
	sink := newTestSink(store)

	sink.Record(context.Background(), domain.AuditEntry{
		UserID:     "user-1",
		EntityType: "task",
		EntityID:   "task-1",
		Action:     domain.ActionUpdate,
		OldValues:  map[string]any{"title": "Before"},
		NewValues:  map[string]any{"title": "After"},
	})

	if len(store.entries) != 1 {
		t.Fatalf("stored %d entries, want 1", len(store.entries))
	}
	got := store.entries[0]
	if got.PartitionKey != "user-1" || got.EntityID != "task-1" || got.Action != domain.ActionUpdate {
		t.Fatalf("entry = %+v", got)
	}

	var oldVals map[string]any
	if err := json.Unmarshal([]byte(got.OldValues), &oldVals); err != nil {
		t.Fatalf("old values not json: %v", err)
	}
	if oldVals["title"] != "Before" {
		t.Fatalf("old values = %v", oldVals)
	}
}

func TestRecordSwallowsStoreFailure(t *testing.T) {
	store := &fakeAuditStore{insertErr: errors.New("table offline")}
	sink := newTestSink(store)

	hook := test.NewGlobal()
	defer hook.Reset()

	// Must not panic or propagate; the failure only shows up in logs.
	sink.Record(context.Background(), domain.AuditEntry{
		UserID:   "user-1",
		EntityID: "task-1",
		Action:   domain.ActionDelete,
	})

	found := false
	for _, entry := range hook.AllEntries() {
		if entry.Level == log.ErrorLevel {
			found = true
		}
	}
	if !found {
		t.Fatal("expected an error log for the failed audit write")
	}
}
