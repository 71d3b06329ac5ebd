package domain

// Audit actions recorded for task mutations.
const (
	ActionCreate     = "create"
	ActionUpdate     = "update"
	ActionDelete     = "delete"
	ActionComplete   = "complete"
	ActionUncomplete = "uncomplete"
	ActionUnknown    = "unknown"
)

// ActionForEvent maps a lifecycle event type to its audit action.
func ActionForEvent(eventType string) string {
	switch eventType {
	case TaskCreated:
		return ActionCreate
	case TaskUpdated:
		return ActionUpdate
	case TaskDeleted:
		return ActionDelete
	case TaskCompleted:
		return ActionComplete
	case TaskUncompleted:
		return ActionUncomplete
	}
	return ActionUnknown
}

// AuditEntry is one recorded action on an entity, before persistence.
type AuditEntry struct {
	UserID     string
	EntityType string
	EntityID   string
	Action     string
	OldValues  map[string]any
	NewValues  map[string]any
}

// AuditEntity is an append-only row in the audit log table.
type AuditEntity struct {
	Entity
	EntityType string `json:"EntityType"`
	EntityID   string `json:"EntityID"`
	Action     string `json:"Action"`
	OldValues  string `json:"OldValues,omitempty"`
	NewValues  string `json:"NewValues,omitempty"`
	CreatedAt  string `json:"CreatedAt"`
}
