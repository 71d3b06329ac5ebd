package domain

// Reminder delivery types. Notification goes to the live channel only,
// email is store-and-forward, both tries live first and falls back.
const (
	ReminderNotification = "notification"
	ReminderEmail        = "email"
	ReminderBoth         = "both"
)

// ValidReminderType reports whether t is an accepted reminder type.
func ValidReminderType(t string) bool {
	switch t {
	case ReminderNotification, ReminderEmail, ReminderBoth:
		return true
	}
	return false
}

// ReminderEntity is a reminder row in the reminders table.
type ReminderEntity struct {
	Entity
	TaskID       string `json:"TaskID"`
	TaskTitle    string `json:"TaskTitle"`
	RemindAt     string `json:"RemindAt"`
	ReminderType string `json:"ReminderType"`
	Sent         bool   `json:"Sent"`
	CreatedAt    string `json:"CreatedAt"`
}
