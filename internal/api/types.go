package api

import (
	"encoding/json"
	"time"

	"taskpulse/internal/domain"
	"taskpulse/internal/recurrence"
)

type taskRequest struct {
	Title            string              `json:"title"`
	Description      *string             `json:"description,omitempty"`
	Priority         string              `json:"priority,omitempty"`
	DueDate          *time.Time          `json:"due_date,omitempty"`
	Tags             []string            `json:"tags,omitempty"`
	IsRecurring      bool                `json:"is_recurring,omitempty"`
	RecurringPattern *recurrence.Pattern `json:"recurring_pattern,omitempty"`
	RecurrenceEnd    *time.Time          `json:"recurrence_end_date,omitempty"`
}

type taskUpdateRequest struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Priority    *string    `json:"priority,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	Tags        *[]string  `json:"tags,omitempty"`
}

type taskResponse struct {
	ID                     string   `json:"id"`
	Title                  string   `json:"title"`
	Description            string   `json:"description,omitempty"`
	Priority               string   `json:"priority"`
	Completed              bool     `json:"completed"`
	DueDate                string   `json:"due_date,omitempty"`
	IsRecurring            bool     `json:"is_recurring"`
	ParentTaskID           string   `json:"parent_task_id,omitempty"`
	RecurrenceInstanceDate string   `json:"recurrence_instance_date,omitempty"`
	Tags                   []string `json:"tags,omitempty"`
	CreatedAt              string   `json:"created_at"`
	UpdatedAt              string   `json:"updated_at"`
}

type tasksResponse struct {
	Tasks []taskResponse `json:"tasks"`
}

type ruleRequest struct {
	recurrence.Pattern
	EndDate *time.Time `json:"end_date,omitempty"`
}

type ruleResponse struct {
	TaskID          string `json:"task_id"`
	Frequency       string `json:"frequency"`
	Interval        int    `json:"interval"`
	DaysOfWeek      string `json:"days_of_week,omitempty"`
	DayOfMonth      int    `json:"day_of_month,omitempty"`
	MonthOfYear     int    `json:"month_of_year,omitempty"`
	EndDate         string `json:"end_date,omitempty"`
	LastGeneratedAt string `json:"last_generated_at,omitempty"`
	Active          bool   `json:"active"`
}

type reminderRequest struct {
	RemindAt     time.Time `json:"remind_at"`
	ReminderType string    `json:"reminder_type,omitempty"`
}

type reminderResponse struct {
	ID           string `json:"id"`
	TaskID       string `json:"task_id"`
	TaskTitle    string `json:"task_title"`
	RemindAt     string `json:"remind_at"`
	ReminderType string `json:"reminder_type"`
	Sent         bool   `json:"sent"`
	CreatedAt    string `json:"created_at"`
}

type auditResponse struct {
	ID         string         `json:"id"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Action     string         `json:"action"`
	OldValues  map[string]any `json:"old_values,omitempty"`
	NewValues  map[string]any `json:"new_values,omitempty"`
	CreatedAt  string         `json:"created_at"`
}

func toTaskResponse(ent domain.TaskEntity) taskResponse {
	return taskResponse{
		ID:                     ent.RowKey,
		Title:                  ent.Title,
		Description:            ent.Description,
		Priority:               ent.Priority,
		Completed:              ent.Completed,
		DueDate:                ent.DueDate,
		IsRecurring:            ent.IsRecurring,
		ParentTaskID:           ent.ParentTaskID,
		RecurrenceInstanceDate: ent.RecurrenceInstanceDate,
		Tags:                   decodeTags(ent.Tags),
		CreatedAt:              ent.CreatedAt,
		UpdatedAt:              ent.UpdatedAt,
	}
}

func toRuleResponse(rule recurrence.RuleEntity) ruleResponse {
	return ruleResponse{
		TaskID:          rule.RowKey,
		Frequency:       rule.Frequency,
		Interval:        rule.Interval,
		DaysOfWeek:      rule.DaysOfWeek,
		DayOfMonth:      rule.DayOfMonth,
		MonthOfYear:     rule.MonthOfYear,
		EndDate:         rule.EndDate,
		LastGeneratedAt: rule.LastGeneratedAt,
		Active:          rule.Active,
	}
}

func toReminderResponse(rem domain.ReminderEntity) reminderResponse {
	return reminderResponse{
		ID:           rem.RowKey,
		TaskID:       rem.TaskID,
		TaskTitle:    rem.TaskTitle,
		RemindAt:     rem.RemindAt,
		ReminderType: rem.ReminderType,
		Sent:         rem.Sent,
		CreatedAt:    rem.CreatedAt,
	}
}

func toAuditResponse(ent domain.AuditEntity) auditResponse {
	return auditResponse{
		ID:         ent.RowKey,
		EntityType: ent.EntityType,
		EntityID:   ent.EntityID,
		Action:     ent.Action,
		OldValues:  decodeValues(ent.OldValues),
		NewValues:  decodeValues(ent.NewValues),
		CreatedAt:  ent.CreatedAt,
	}
}

func decodeTags(raw string) []string {
	if raw == "" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil
	}
	return tags
}

func decodeValues(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var values map[string]any
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil
	}
	return values
}
