// Package recurrence expands a recurring availability definition into concrete
// calendar occurrences. Everything here is a pure function of its inputs: no
// clock reads, no ambient timezone, no I/O.
package recurrence

import "time"

// Frequency is the recurrence type of a pattern.
type Frequency string

const (
	FrequencyNone    Frequency = "NONE"
	FrequencyDaily   Frequency = "DAILY"
	FrequencyWeekly  Frequency = "WEEKLY"
	FrequencyMonthly Frequency = "MONTHLY"
	FrequencyCustom  Frequency = "CUSTOM"
)

var validFrequencies = map[Frequency]bool{
	FrequencyNone: true, FrequencyDaily: true, FrequencyWeekly: true,
	FrequencyMonthly: true, FrequencyCustom: true,
}

// LastWeek is the WeekOfMonth value meaning "the last seven days of the month".
const LastWeek = -1

// HardCeiling bounds the number of occurrences any pattern may produce.
const HardCeiling = 1000

// Pattern is the wire form of a recurrence definition, embedded in an
// availability window. Days of week use time.Weekday numbering (0 = Sunday).
// Dates are "2006-01-02" (interpreted in the window's timezone) or RFC 3339.
type Pattern struct {
	Type        Frequency `json:"type"`
	Interval    int       `json:"interval,omitempty"`
	DaysOfWeek  []int     `json:"days_of_week,omitempty"`
	DayOfMonth  *int      `json:"day_of_month,omitempty"`
	WeekOfMonth *int      `json:"week_of_month,omitempty"`
	StartTime   string    `json:"start_time,omitempty"`
	EndTime     string    `json:"end_time,omitempty"`
	EndDate     string    `json:"end_date,omitempty"`
	Count       *int      `json:"count,omitempty"`
	Exceptions  []string  `json:"exceptions,omitempty"`
}

// IsRecurring reports whether the pattern produces more than the base window.
func (p *Pattern) IsRecurring() bool {
	return p != nil && p.Type != "" && p.Type != FrequencyNone
}

// Occurrence is one concrete calendar instance. Start and End are UTC.
type Occurrence struct {
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Number      int       `json:"occurrence_number"`
	IsException bool      `json:"is_exception"`
}

// Duration returns End - Start.
func (o Occurrence) Duration() time.Duration { return o.End.Sub(o.Start) }

// Covers reports whether [start, end) lies entirely inside the occurrence.
func (o Occurrence) Covers(start, end time.Time) bool {
	return !start.Before(o.Start) && !end.After(o.End)
}
