// Package relay translates inbound lifecycle events into recurrence,
// audit and notification side effects. Every delivery is handled as an
// independent, stateless unit of work; the only shared state is the
// persisted store.
package relay

import (
	"context"
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"

	"taskpulse/internal/domain"
	"taskpulse/internal/recurrence"
)

// RuleStore reads and touches recurrence rules.
type RuleStore interface {
	GetRule(ctx context.Context, userID, taskID string) (*recurrence.RuleEntity, error)
	TouchRule(ctx context.Context, userID, taskID string, generatedAt time.Time) error
}

// AuditSink records one action. Implementations must never propagate
// failures to the relay.
type AuditSink interface {
	Record(ctx context.Context, entry domain.AuditEntry)
}

// NotificationSink delivers one reminder.
type NotificationSink interface {
	Deliver(ctx context.Context, ev domain.Event) error
}

// Relay dispatches events to the sinks.
type Relay struct {
	rules  RuleStore
	mat    *Materializer
	audit  AuditSink
	notify NotificationSink
	now    func() time.Time
}

// New wires a relay.
func New(rules RuleStore, mat *Materializer, audit AuditSink, notify NotificationSink) *Relay {
	return &Relay{rules: rules, mat: mat, audit: audit, notify: notify, now: time.Now}
}

// parseEvent decodes an envelope. Malformed payloads are logged and
// skipped: redelivering them can never succeed.
func parseEvent(payload []byte) (domain.Event, bool) {
	var ev domain.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		log.WithError(err).Error("discarding malformed event payload")
		return domain.Event{}, false
	}
	return ev, true
}

// HandleTaskEvent records the lifecycle event in the audit log and,
// for completions of recurring tasks, generates the next instance from
// the stored rule.
func (r *Relay) HandleTaskEvent(ctx context.Context, payload []byte) error {
	ev, ok := parseEvent(payload)
	if !ok {
		return nil
	}
	if r.audit != nil {
		r.audit.Record(ctx, auditEntry(ev))
	}
	if ev.EventType == domain.TaskCompleted && ev.TaskData != nil && ev.TaskData.IsRecurring {
		return r.generate(ctx, ev, nil)
	}
	return nil
}

// HandleRecurringEvent generates the next instance from the pattern
// carried in the event, falling back to the stored rule when absent.
func (r *Relay) HandleRecurringEvent(ctx context.Context, payload []byte) error {
	ev, ok := parseEvent(payload)
	if !ok {
		return nil
	}
	if ev.EventType != domain.RecurringGen {
		log.WithField("event_type", ev.EventType).Warn("unexpected event on recurring topic, skipping")
		return nil
	}
	return r.generate(ctx, ev, ev.RecurringPattern)
}

// HandleReminderEvent forwards a due reminder to the notification
// sink.
func (r *Relay) HandleReminderEvent(ctx context.Context, payload []byte) error {
	ev, ok := parseEvent(payload)
	if !ok {
		return nil
	}
	if ev.EventType != domain.ReminderDue {
		log.WithField("event_type", ev.EventType).Warn("unexpected event on reminder topic, skipping")
		return nil
	}
	if r.notify == nil {
		return nil
	}
	return r.notify.Deliver(ctx, ev)
}

func (r *Relay) generate(ctx context.Context, ev domain.Event, pattern *recurrence.Pattern) error {
	rule, err := r.rules.GetRule(ctx, ev.UserID, ev.TaskID)
	if err != nil {
		return err
	}
	// The stored rule stays authoritative for lifecycle even when the
	// event carries its own pattern: an inactive or ended rule blocks
	// generation on every path.
	if rule != nil {
		if !rule.Active {
			log.WithFields(log.Fields{"task": ev.TaskID, "user": ev.UserID}).Warn("recurrence rule is inactive, skipping generation")
			return nil
		}
		if rule.Ends(r.now()) {
			log.WithField("task", ev.TaskID).Info("recurrence rule has ended, skipping generation")
			return nil
		}
	}

	var p recurrence.Pattern
	switch {
	case pattern != nil:
		p = *pattern
	case rule != nil:
		p = rule.Pattern()
	default:
		// A recurring task without an active rule is a data gap, not a
		// processing failure.
		log.WithFields(log.Fields{"task": ev.TaskID, "user": ev.UserID}).Warn("recurring task has no active rule, skipping generation")
		return nil
	}

	next := recurrence.NextOccurrence(r.now().UTC(), p)
	if err := r.mat.Materialize(ctx, ev.UserID, ev.TaskID, ev.TaskData, next); err != nil {
		return err
	}
	if err := r.rules.TouchRule(ctx, ev.UserID, ev.TaskID, r.now()); err != nil {
		// Best effort only; the instance is already persisted.
		log.WithError(err).WithField("task", ev.TaskID).Warn("failed to update rule last-generated timestamp")
	}
	return nil
}

func auditEntry(ev domain.Event) domain.AuditEntry {
	entry := domain.AuditEntry{
		UserID:     ev.UserID,
		EntityType: "task",
		EntityID:   ev.TaskID,
		Action:     domain.ActionForEvent(ev.EventType),
	}
	if td := ev.TaskData; td != nil {
		entry.OldValues = td.OldValues
		entry.NewValues = map[string]any{
			"title":       td.Title,
			"description": td.Description,
			"priority":    td.Priority,
			"due_date":    td.DueDate,
			"completed":   td.Completed,
			"tags":        td.Tags,
		}
	}
	return entry
}
