package domain

import (
	"time"

	"taskpulse/internal/recurrence"
)

// Event types carried on the bus. The snake-case names are the wire
// contract shared with every consumer.
const (
	TaskCreated     = "task.created"
	TaskUpdated     = "task.updated"
	TaskDeleted     = "task.deleted"
	TaskCompleted   = "task.completed"
	TaskUncompleted = "task.uncompleted"
	ReminderDue     = "reminder.due"
	RecurringGen    = "recurring.generate"
)

// Topics the services publish to and consume from. With the queue
// transport each topic is backed by its own storage queue.
const (
	TopicTaskEvents      = "task-events"
	TopicReminderEvents  = "reminder-events"
	TopicRecurringEvents = "recurring-events"
	TopicEmailDeliveries = "email-deliveries"
)

// Event is the envelope consumed by the relay.
type Event struct {
	EventType        string              `json:"event_type"`
	TaskID           string              `json:"task_id"`
	UserID           string              `json:"user_id"`
	TaskData         *TaskData           `json:"task_data,omitempty"`
	RecurringPattern *recurrence.Pattern `json:"recurring_pattern,omitempty"`
	ReminderID       string              `json:"reminder_id,omitempty"`
	TaskTitle        string              `json:"task_title,omitempty"`
	ReminderTime     string              `json:"reminder_time,omitempty"`
	ReminderType     string              `json:"reminder_type,omitempty"`
	Timestamp        time.Time           `json:"timestamp"`
}

// TaskData is the task snapshot embedded in lifecycle events.
type TaskData struct {
	Title       string         `json:"title"`
	Description *string        `json:"description"`
	Priority    string         `json:"priority"`
	DueDate     *time.Time     `json:"due_date"`
	IsRecurring bool           `json:"is_recurring"`
	Completed   bool           `json:"completed"`
	Tags        []string       `json:"tags"`
	OldValues   map[string]any `json:"old_values,omitempty"`
}
