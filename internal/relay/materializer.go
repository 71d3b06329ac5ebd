package relay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"taskpulse/internal/domain"
)

// TaskInserter is the single store capability instance generation
// needs.
type TaskInserter interface {
	InsertTask(ctx context.Context, ent domain.TaskEntity) error
}

// Deduper guards instance generation against duplicate deliveries.
type Deduper interface {
	Add(ctx context.Context, userID, key string) (bool, error)
	Remove(ctx context.Context, userID, key string) error
}

const fallbackTitle = "Recurring Task"

// Materializer creates the next concrete task instance for a recurring
// parent task.
type Materializer struct {
	tasks TaskInserter
	dedup Deduper
	now   func() time.Time
	newID func() string
}

// NewMaterializer wires a materializer. dedup may be nil, in which
// case duplicate deliveries produce duplicate instances.
func NewMaterializer(tasks TaskInserter, dedup Deduper) *Materializer {
	return &Materializer{tasks: tasks, dedup: dedup, now: time.Now, newID: uuid.NewString}
}

// dedupKey is the natural key for one generated instance: the parent
// task plus the target calendar date. Date granularity means the
// completion event and an explicit generate event for the same
// occurrence collapse into one instance even when their computed
// clock times differ by a few seconds.
func dedupKey(taskID string, next time.Time) string {
	return taskID + ":" + next.UTC().Format("2006-01-02")
}

// Materialize inserts one child task dated at next. The parent
// snapshot supplies title, description, priority and tags; a due date
// is re-anchored to next preserving its current offset from now. The
// insert is attempted once; on failure the dedup key is released and
// the error returned to the caller.
func (m *Materializer) Materialize(ctx context.Context, userID, parentTaskID string, data *domain.TaskData, next time.Time) error {
	key := dedupKey(parentTaskID, next)
	if m.dedup != nil {
		added, err := m.dedup.Add(ctx, userID, key)
		if err != nil {
			return err
		}
		if !added {
			log.WithFields(log.Fields{"task": parentTaskID, "occurrence": key}).Info("instance already generated, skipping")
			return nil
		}
	}

	now := m.now().UTC()
	ent := domain.TaskEntity{
		Entity:                 domain.Entity{PartitionKey: userID, RowKey: m.newID()},
		Title:                  fallbackTitle,
		Priority:               domain.PriorityMedium,
		Completed:              false,
		IsRecurring:            false,
		ParentTaskID:           parentTaskID,
		RecurrenceInstanceDate: next.UTC().Format(domain.TimeFormat),
		CreatedAt:              now.Format(domain.TimeFormat),
		UpdatedAt:              now.Format(domain.TimeFormat),
	}
	if data != nil {
		if data.Title != "" {
			ent.Title = data.Title
		}
		if data.Description != nil {
			ent.Description = *data.Description
		}
		if data.Priority != "" {
			ent.Priority = data.Priority
		}
		if len(data.Tags) > 0 {
			tags, err := json.Marshal(data.Tags)
			if err == nil {
				ent.Tags = string(tags)
			}
		}
		if data.DueDate != nil {
			offset := data.DueDate.Sub(now)
			ent.DueDate = next.Add(offset).UTC().Format(domain.TimeFormat)
		}
	}

	if err := m.tasks.InsertTask(ctx, ent); err != nil {
		if m.dedup != nil {
			if remErr := m.dedup.Remove(ctx, userID, key); remErr != nil {
				log.WithError(remErr).WithField("task", parentTaskID).Error("failed to release dedup key after insert failure")
			}
		}
		return err
	}
	log.WithFields(log.Fields{"parent": parentTaskID, "instance": ent.RowKey, "date": ent.RecurrenceInstanceDate}).Info("created recurring task instance")
	return nil
}
