package recurrence

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// NextOccurrence computes the next occurrence date for a recurring
// task from the reference date. It is pure and total over every
// recognized pattern: an unrecognized frequency falls back to the next
// day rather than failing.
//
// Monthly and yearly results keep the reference hour and minute with
// seconds zeroed; daily and weekly results keep the full clock time.
func NextOccurrence(ref time.Time, p Pattern) time.Time {
	switch Frequency(p.Frequency) {
	case Daily:
		return ref.AddDate(0, 0, p.Interval)
	case Weekly:
		return nextWeekly(ref, p)
	case Monthly:
		return nextMonthly(ref, p)
	case Yearly:
		return nextYearly(ref, p)
	}
	return ref.AddDate(0, 0, 1)
}

func nextWeekly(ref time.Time, p Pattern) time.Time {
	next := ref.AddDate(0, 0, 7*p.Interval)
	if p.DaysOfWeek == "" {
		return next
	}
	days, err := p.WeekDays()
	if err != nil {
		// Explicit fallback instead of the silent one the weekly
		// pattern historically had: keep the plain interval date but
		// leave a trace of the malformed input.
		log.WithError(err).Warn("weekly pattern has malformed weekday set, using interval date")
		return next
	}
	if len(days) == 0 {
		return next
	}
	set := make(map[int]struct{}, len(days))
	for _, d := range days {
		set[d] = struct{}{}
	}
	for i := 0; i < 7; i++ {
		check := next.AddDate(0, 0, i)
		// time.Weekday already counts Sunday as 0, matching the wire
		// convention for days_of_week.
		if _, ok := set[int(check.Weekday())]; ok {
			return check
		}
	}
	return next
}

func nextMonthly(ref time.Time, p Pattern) time.Time {
	month := int(ref.Month()) + p.Interval
	year := ref.Year()
	for month > 12 {
		month -= 12
		year++
	}
	day := ref.Day()
	if p.DayOfMonth > 0 {
		day = p.DayOfMonth
	}
	// Clamp Feb 31 and friends to the last valid day of the target
	// month.
	if last := daysIn(year, time.Month(month)); day > last {
		day = last
	}
	if day < 1 {
		day = 1
	}
	return time.Date(year, time.Month(month), day, ref.Hour(), ref.Minute(), 0, 0, ref.Location())
}

func nextYearly(ref time.Time, p Pattern) time.Time {
	year := ref.Year() + p.Interval
	month := int(ref.Month())
	if p.MonthOfYear > 0 {
		month = p.MonthOfYear
	}
	day := ref.Day()
	if p.DayOfMonth > 0 {
		day = p.DayOfMonth
	}
	// Feb 29 on a non-leap target year becomes Feb 28.
	if day > daysIn(year, time.Month(month)) {
		day = 28
	}
	return time.Date(year, time.Month(month), day, ref.Hour(), ref.Minute(), 0, 0, ref.Location())
}

func daysIn(year int, m time.Month) int {
	return time.Date(year, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
