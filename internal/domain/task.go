package domain

import "time"

// TimeFormat is used for every date column stored in table storage.
// RFC 3339 in UTC sorts lexicographically, which the due-reminder scan
// relies on.
const TimeFormat = time.RFC3339

const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// ValidPriority reports whether p is one of the accepted priorities.
func ValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Entity represents base table entity keys. PartitionKey is always the
// owning user, which keeps tenant isolation at the key level.
type Entity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

// TaskEntity is a task row in the tasks table.
type TaskEntity struct {
	Entity
	Title                  string `json:"Title"`
	Description            string `json:"Description,omitempty"`
	Priority               string `json:"Priority"`
	Completed              bool   `json:"Completed"`
	DueDate                string `json:"DueDate,omitempty"`
	IsRecurring            bool   `json:"IsRecurring"`
	ParentTaskID           string `json:"ParentTaskID,omitempty"`
	RecurrenceInstanceDate string `json:"RecurrenceInstanceDate,omitempty"`
	Tags                   string `json:"Tags,omitempty"`
	CreatedAt              string `json:"CreatedAt"`
	UpdatedAt              string `json:"UpdatedAt"`
}

// TaskUpdate carries partial updates for a task row.
type TaskUpdate struct {
	Entity
	Title       *string `json:"Title,omitempty"`
	Description *string `json:"Description,omitempty"`
	Priority    *string `json:"Priority,omitempty"`
	Completed   *bool   `json:"Completed,omitempty"`
	DueDate     *string `json:"DueDate,omitempty"`
	IsRecurring *bool   `json:"IsRecurring,omitempty"`
	Tags        *string `json:"Tags,omitempty"`
	UpdatedAt   *string `json:"UpdatedAt,omitempty"`
}
