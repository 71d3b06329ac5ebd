// Package storage wraps the Azure Table clients shared by the API and
// the relay.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"taskpulse/internal/domain"
	"taskpulse/internal/recurrence"
)

// ErrAlreadyExists indicates an insert collided with an existing row.
var ErrAlreadyExists = errors.New("entity already exists")

// Storage holds the table clients.
type Storage struct {
	tasks     *aztables.Client
	rules     *aztables.Client
	reminders *aztables.Client
	audit     *aztables.Client
}

// New creates a Storage from connection parameters.
func New(connStr, tasksTable, rulesTable, remindersTable, auditTable string) (*Storage, error) {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return nil, err
	}
	return &Storage{
		tasks:     svc.NewClient(tasksTable),
		rules:     svc.NewClient(rulesTable),
		reminders: svc.NewClient(remindersTable),
		audit:     svc.NewClient(auditTable),
	}, nil
}

func isStatus(err error, code int) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == code
}

// GetTask retrieves a task row if present.
func (s *Storage) GetTask(ctx context.Context, userID, taskID string) (*domain.TaskEntity, error) {
	ent, err := s.tasks.GetEntity(ctx, userID, taskID, nil)
	if err != nil {
		if isStatus(err, 404) {
			return nil, nil
		}
		return nil, err
	}
	var task domain.TaskEntity
	if err := json.Unmarshal(ent.Value, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// InsertTask creates a task row and fails if it already exists.
func (s *Storage) InsertTask(ctx context.Context, ent domain.TaskEntity) error {
	payload, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	if _, err := s.tasks.AddEntity(ctx, payload, nil); err != nil {
		if isStatus(err, 409) {
			return ErrAlreadyExists
		}
		return err
	}
	return nil
}

// UpdateTask merges changes into an existing task row.
func (s *Storage) UpdateTask(ctx context.Context, upd domain.TaskUpdate) error {
	payload, err := json.Marshal(upd)
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	_, err = s.tasks.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	return err
}

// DeleteTask removes a task row. Deleting a missing row is not an
// error.
func (s *Storage) DeleteTask(ctx context.Context, userID, taskID string) error {
	_, err := s.tasks.DeleteEntity(ctx, userID, taskID, nil)
	if err != nil && isStatus(err, 404) {
		return nil
	}
	return err
}

// ListTasks returns every task owned by the user.
func (s *Storage) ListTasks(ctx context.Context, userID string) ([]domain.TaskEntity, error) {
	filter := fmt.Sprintf("PartitionKey eq '%s'", escapeFilter(userID))
	pager := s.tasks.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	var out []domain.TaskEntity
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range page.Entities {
			var task domain.TaskEntity
			if err := json.Unmarshal(raw, &task); err != nil {
				return nil, err
			}
			out = append(out, task)
		}
	}
	return out, nil
}

// GetRule retrieves the recurrence rule for a task if present.
func (s *Storage) GetRule(ctx context.Context, userID, taskID string) (*recurrence.RuleEntity, error) {
	ent, err := s.rules.GetEntity(ctx, userID, taskID, nil)
	if err != nil {
		if isStatus(err, 404) {
			return nil, nil
		}
		return nil, err
	}
	var rule recurrence.RuleEntity
	if err := json.Unmarshal(ent.Value, &rule); err != nil {
		return nil, err
	}
	return &rule, nil
}

// UpsertRule creates or replaces the rule for a task. The (user, task)
// key guarantees a single rule per recurring task.
func (s *Storage) UpsertRule(ctx context.Context, ent recurrence.RuleEntity) error {
	payload, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	_, err = s.rules.UpsertEntity(ctx, payload, nil)
	return err
}

// TouchRule updates the rule's last-generated timestamp.
func (s *Storage) TouchRule(ctx context.Context, userID, taskID string, generatedAt time.Time) error {
	upd := map[string]any{
		"PartitionKey":    userID,
		"RowKey":          taskID,
		"LastGeneratedAt": generatedAt.UTC().Format(domain.TimeFormat),
	}
	payload, err := json.Marshal(upd)
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	_, err = s.rules.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	return err
}

// DeactivateRule marks the rule inactive without deleting its history.
func (s *Storage) DeactivateRule(ctx context.Context, userID, taskID string) error {
	upd := map[string]any{
		"PartitionKey": userID,
		"RowKey":       taskID,
		"Active":       false,
	}
	payload, err := json.Marshal(upd)
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	_, err = s.rules.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	return err
}

// InsertReminder creates a reminder row.
func (s *Storage) InsertReminder(ctx context.Context, ent domain.ReminderEntity) error {
	payload, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	if _, err := s.reminders.AddEntity(ctx, payload, nil); err != nil {
		if isStatus(err, 409) {
			return ErrAlreadyExists
		}
		return err
	}
	return nil
}

// ListReminders returns every reminder owned by the user.
func (s *Storage) ListReminders(ctx context.Context, userID string) ([]domain.ReminderEntity, error) {
	filter := fmt.Sprintf("PartitionKey eq '%s'", escapeFilter(userID))
	return s.listReminders(ctx, filter)
}

// DueReminders returns unsent reminders due at or before now across
// all users. RemindAt is RFC 3339 UTC, so the string comparison is
// chronological.
func (s *Storage) DueReminders(ctx context.Context, now time.Time) ([]domain.ReminderEntity, error) {
	filter := fmt.Sprintf("Sent eq false and RemindAt le '%s'", now.UTC().Format(domain.TimeFormat))
	return s.listReminders(ctx, filter)
}

func (s *Storage) listReminders(ctx context.Context, filter string) ([]domain.ReminderEntity, error) {
	pager := s.reminders.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	var out []domain.ReminderEntity
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range page.Entities {
			var rem domain.ReminderEntity
			if err := json.Unmarshal(raw, &rem); err != nil {
				return nil, err
			}
			out = append(out, rem)
		}
	}
	return out, nil
}

// MarkReminderSent flags a reminder as delivered to the bus.
func (s *Storage) MarkReminderSent(ctx context.Context, userID, reminderID string) error {
	upd := map[string]any{
		"PartitionKey": userID,
		"RowKey":       reminderID,
		"Sent":         true,
	}
	payload, err := json.Marshal(upd)
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	_, err = s.reminders.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	return err
}

// DeleteReminder removes a reminder row.
func (s *Storage) DeleteReminder(ctx context.Context, userID, reminderID string) error {
	_, err := s.reminders.DeleteEntity(ctx, userID, reminderID, nil)
	if err != nil && isStatus(err, 404) {
		return nil
	}
	return err
}

// InsertAudit appends one audit row. Audit rows are never updated or
// deleted.
func (s *Storage) InsertAudit(ctx context.Context, ent domain.AuditEntity) error {
	payload, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	_, err = s.audit.AddEntity(ctx, payload, nil)
	return err
}

// AuditByEntity returns recent audit rows for one entity, newest
// first.
func (s *Storage) AuditByEntity(ctx context.Context, entityType, entityID string, limit int) ([]domain.AuditEntity, error) {
	filter := fmt.Sprintf("EntityType eq '%s' and EntityID eq '%s'", escapeFilter(entityType), escapeFilter(entityID))
	return s.listAudit(ctx, filter, limit)
}

// AuditByUser returns recent audit rows for one user, newest first.
func (s *Storage) AuditByUser(ctx context.Context, userID string, limit int) ([]domain.AuditEntity, error) {
	filter := fmt.Sprintf("PartitionKey eq '%s'", escapeFilter(userID))
	return s.listAudit(ctx, filter, limit)
}

func (s *Storage) listAudit(ctx context.Context, filter string, limit int) ([]domain.AuditEntity, error) {
	pager := s.audit.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	var out []domain.AuditEntity
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range page.Entities {
			var ent domain.AuditEntity
			if err := json.Unmarshal(raw, &ent); err != nil {
				return nil, err
			}
			out = append(out, ent)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// escapeFilter doubles single quotes per the OData filter grammar.
func escapeFilter(v string) string {
	return strings.ReplaceAll(v, "'", "''")
}
