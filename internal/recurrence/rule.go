package recurrence

import (
	"encoding/json"
	"fmt"
	"time"
)

// Frequency of a recurring task.
type Frequency string

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
	Yearly  Frequency = "yearly"
)

// Pattern describes how often and on what calendar pattern a task
// recurs. DaysOfWeek keeps the wire format of the original events: a
// JSON-encoded array of weekday indices with Sunday as 0.
type Pattern struct {
	Frequency   string `json:"frequency"`
	Interval    int    `json:"interval"`
	DaysOfWeek  string `json:"days_of_week,omitempty"`
	DayOfMonth  int    `json:"day_of_month,omitempty"`
	MonthOfYear int    `json:"month_of_year,omitempty"`
}

// Validate rejects patterns that must never reach the relay.
func (p Pattern) Validate() error {
	switch Frequency(p.Frequency) {
	case Daily, Weekly, Monthly, Yearly:
	default:
		return fmt.Errorf("invalid frequency %q", p.Frequency)
	}
	if p.Interval < 1 {
		return fmt.Errorf("interval must be at least 1, got %d", p.Interval)
	}
	if p.DayOfMonth < 0 || p.DayOfMonth > 31 {
		return fmt.Errorf("day of month out of range: %d", p.DayOfMonth)
	}
	if p.MonthOfYear < 0 || p.MonthOfYear > 12 {
		return fmt.Errorf("month of year out of range: %d", p.MonthOfYear)
	}
	if p.DaysOfWeek != "" {
		days, err := p.WeekDays()
		if err != nil {
			return err
		}
		for _, d := range days {
			if d < 0 || d > 6 {
				return fmt.Errorf("weekday out of range: %d", d)
			}
		}
	}
	return nil
}

// WeekDays decodes the weekday set. An empty field yields no days and
// no error; malformed JSON is reported to the caller instead of being
// silently swallowed.
func (p Pattern) WeekDays() ([]int, error) {
	if p.DaysOfWeek == "" {
		return nil, nil
	}
	var days []int
	if err := json.Unmarshal([]byte(p.DaysOfWeek), &days); err != nil {
		return nil, fmt.Errorf("malformed days_of_week %q: %w", p.DaysOfWeek, err)
	}
	return days, nil
}

// RuleEntity is a recurrence rule row. PartitionKey is the owning user
// and RowKey the task id, so at most one rule per recurring task can
// exist.
type RuleEntity struct {
	PartitionKey    string `json:"PartitionKey"`
	RowKey          string `json:"RowKey"`
	Frequency       string `json:"Frequency"`
	Interval        int    `json:"Interval"`
	IntervalType    string `json:"Interval@odata.type"`
	DaysOfWeek      string `json:"DaysOfWeek,omitempty"`
	DayOfMonth      int    `json:"DayOfMonth,omitempty"`
	MonthOfYear     int    `json:"MonthOfYear,omitempty"`
	EndDate         string `json:"EndDate,omitempty"`
	LastGeneratedAt string `json:"LastGeneratedAt,omitempty"`
	Active          bool   `json:"Active"`
}

const edmInt32 = "Edm.Int32"

// NewRule builds an active rule row for a task from a validated
// pattern.
func NewRule(userID, taskID string, p Pattern, endDate string) RuleEntity {
	return RuleEntity{
		PartitionKey: userID,
		RowKey:       taskID,
		Frequency:    p.Frequency,
		Interval:     p.Interval,
		IntervalType: edmInt32,
		DaysOfWeek:   p.DaysOfWeek,
		DayOfMonth:   p.DayOfMonth,
		MonthOfYear:  p.MonthOfYear,
		EndDate:      endDate,
		Active:       true,
	}
}

// Pattern extracts the calendar pattern from a stored rule.
func (e RuleEntity) Pattern() Pattern {
	return Pattern{
		Frequency:   e.Frequency,
		Interval:    e.Interval,
		DaysOfWeek:  e.DaysOfWeek,
		DayOfMonth:  e.DayOfMonth,
		MonthOfYear: e.MonthOfYear,
	}
}

// Ends reports whether the rule has expired at t.
func (e RuleEntity) Ends(t time.Time) bool {
	if e.EndDate == "" {
		return false
	}
	end, err := time.Parse(time.RFC3339, e.EndDate)
	if err != nil {
		return false
	}
	return t.After(end)
}
