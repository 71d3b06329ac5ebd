// Package audit appends task actions to the audit log. The log is
// write-once: rows are never updated or deleted.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"taskpulse/internal/domain"
)

// Store persists audit rows.
type Store interface {
	InsertAudit(ctx context.Context, ent domain.AuditEntity) error
}

// Sink records audit entries. Failures are logged and swallowed so a
// broken audit store never blocks event processing.
type Sink struct {
	store Store
	now   func() time.Time
	newID func() string
}

// NewSink wires an audit sink.
func NewSink(store Store) *Sink {
	return &Sink{store: store, now: time.Now, newID: uuid.NewString}
}

// Record appends one entry.
func (s *Sink) Record(ctx context.Context, entry domain.AuditEntry) {
	ent := domain.AuditEntity{
		Entity:     domain.Entity{PartitionKey: entry.UserID, RowKey: s.newID()},
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Action:     entry.Action,
		CreatedAt:  s.now().UTC().Format(domain.TimeFormat),
	}
	if len(entry.OldValues) > 0 {
		if data, err := json.Marshal(entry.OldValues); err == nil {
			ent.OldValues = string(data)
		}
	}
	if len(entry.NewValues) > 0 {
		if data, err := json.Marshal(entry.NewValues); err == nil {
			ent.NewValues = string(data)
		}
	}
	if err := s.store.InsertAudit(ctx, ent); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"user":   entry.UserID,
			"entity": entry.EntityID,
			"action": entry.Action,
		}).Error("failed to write audit entry")
		return
	}
	log.WithFields(log.Fields{
		"entity": entry.EntityID,
		"action": entry.Action,
		"user":   entry.UserID,
	}).Info("audit entry recorded")
}
