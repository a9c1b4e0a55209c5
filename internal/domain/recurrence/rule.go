package recurrence

import (
	"regexp"
	"strconv"
	"time"

	"github.com/carebook/carebook/pkg/apperror"
)

var clockPattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):([0-5][0-9])$`)

// clock is a time of day.
type clock struct {
	hour, minute, second, nsec int
}

func (c clock) on(d date, loc *time.Location) time.Time {
	return time.Date(d.year, d.month, d.day, c.hour, c.minute, c.second, c.nsec, loc).UTC()
}

func (c clock) before(o clock) bool {
	if c.hour != o.hour {
		return c.hour < o.hour
	}
	if c.minute != o.minute {
		return c.minute < o.minute
	}
	if c.second != o.second {
		return c.second < o.second
	}
	return c.nsec < o.nsec
}

func clockOf(t time.Time) clock {
	return clock{hour: t.Hour(), minute: t.Minute(), second: t.Second(), nsec: t.Nanosecond()}
}

func parseClock(s string) (clock, bool) {
	m := clockPattern.FindStringSubmatch(s)
	if m == nil {
		return clock{}, false
	}
	h, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	return clock{hour: h, minute: mm}, true
}

// monthlyRule selects at most one candidate day per month. Exactly one
// variant is active, so "5th of the month" and "3rd Tuesday" cannot both be set.
type monthlyRule interface {
	candidate(year int, month time.Month) date
	matches(d date) bool
}

type byMonthDay struct{ day int }

// candidate clamps to the month's last day; matches then rejects it, so a
// month without the requested day is skipped rather than clamped.
func (r byMonthDay) candidate(year int, month time.Month) date {
	day := r.day
	if n := daysIn(year, month); day > n {
		day = n
	}
	return date{year: year, month: month, day: day}
}

func (r byMonthDay) matches(d date) bool { return d.day == r.day }

type byWeekOfMonth struct {
	week    int
	weekday time.Weekday
}

func (r byWeekOfMonth) candidate(year int, month time.Month) date {
	return nthWeekday(year, month, r.week, r.weekday)
}

func (r byWeekOfMonth) matches(d date) bool {
	if d.weekday() != r.weekday {
		return false
	}
	if r.week == LastWeek {
		return isLastWeek(d)
	}
	return weekOfMonth(d) == r.week
}

// Rule is a validated, compiled pattern anchored at a base window.
type Rule struct {
	freq     Frequency
	interval int
	weekdays [7]bool
	explicit bool // WEEKLY/CUSTOM with an explicit day set
	monthly  monthlyRule

	loc       *time.Location
	baseStart time.Time
	baseDate  date
	baseClock clock
	duration  time.Duration

	startOverride *clock
	endOverride   *clock

	endBound   time.Time // last instant an occurrence may start; zero = none
	count      int       // 0 = unlimited
	exceptions map[date]bool
}

// Compile validates p against the base window and returns the compiled rule.
// Every violated rule is reported in a single *apperror.ValidationError.
// loc is the provider's zone used for dates, time overrides and exceptions;
// nil means UTC.
func Compile(p *Pattern, baseStart, baseEnd time.Time, loc *time.Location) (*Rule, error) {
	if loc == nil {
		loc = time.UTC
	}
	if p == nil {
		p = &Pattern{Type: FrequencyNone}
	}
	v := &apperror.ValidationError{}

	freq := p.Type
	if freq == "" {
		freq = FrequencyNone
	}
	if !validFrequencies[freq] {
		v.Violationf("type %q is not one of NONE, DAILY, WEEKLY, MONTHLY, CUSTOM", p.Type)
	}
	if baseStart.IsZero() || baseEnd.IsZero() {
		v.Violationf("start and end time are required")
	} else if !baseEnd.After(baseStart) {
		v.Violationf("end time must be after start time")
	}

	localStart := baseStart.In(loc)
	r := &Rule{
		freq:       freq,
		interval:   p.Interval,
		loc:        loc,
		baseStart:  baseStart,
		baseDate:   dateOf(localStart),
		baseClock:  clockOf(localStart),
		duration:   baseEnd.Sub(baseStart),
		exceptions: make(map[date]bool),
	}

	if p.Interval < 0 {
		v.Violationf("interval must be >= 1, got %d", p.Interval)
	}
	if r.interval <= 0 {
		r.interval = 1
	}

	r.compileDays(p, v)
	r.compileMonthly(p, v)
	r.compileClock(p, v)
	r.compileBounds(p, v)

	if err := v.OrNil(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Rule) compileDays(p *Pattern, v *apperror.ValidationError) {
	switch r.freq {
	case FrequencyWeekly, FrequencyCustom:
		if p.DaysOfWeek == nil {
			return
		}
		if len(p.DaysOfWeek) == 0 && r.freq == FrequencyWeekly {
			v.Violationf("weekly pattern with explicit days must list at least one day of week")
			return
		}
		for _, d := range p.DaysOfWeek {
			if d < 0 || d > 6 {
				v.Violationf("day of week %d is outside 0-6", d)
				continue
			}
			r.weekdays[d] = true
			r.explicit = true
		}
	default:
		if len(p.DaysOfWeek) > 0 {
			v.Violationf("days_of_week only applies to WEEKLY or CUSTOM patterns")
		}
	}
}

func (r *Rule) compileMonthly(p *Pattern, v *apperror.ValidationError) {
	if r.freq != FrequencyMonthly {
		if p.DayOfMonth != nil || p.WeekOfMonth != nil {
			v.Violationf("day_of_month and week_of_month only apply to MONTHLY patterns")
		}
		return
	}
	switch {
	case p.DayOfMonth != nil && p.WeekOfMonth != nil:
		v.Violationf("day_of_month and week_of_month are mutually exclusive")
	case p.DayOfMonth != nil:
		if *p.DayOfMonth < 1 || *p.DayOfMonth > 31 {
			v.Violationf("day_of_month must be within 1-31, got %d", *p.DayOfMonth)
			return
		}
		r.monthly = byMonthDay{day: *p.DayOfMonth}
	case p.WeekOfMonth != nil:
		w := *p.WeekOfMonth
		if w != LastWeek && (w < 1 || w > 4) {
			v.Violationf("week_of_month must be one of -1, 1, 2, 3, 4, got %d", w)
			return
		}
		r.monthly = byWeekOfMonth{week: w, weekday: r.baseDate.weekday()}
	default:
		r.monthly = byMonthDay{day: r.baseDate.day}
	}
}

func (r *Rule) compileClock(p *Pattern, v *apperror.ValidationError) {
	if p.StartTime != "" {
		c, ok := parseClock(p.StartTime)
		if !ok {
			v.Violationf("start_time %q must be HH:MM (24-hour)", p.StartTime)
		} else {
			r.startOverride = &c
		}
	}
	if p.EndTime != "" {
		c, ok := parseClock(p.EndTime)
		if !ok {
			v.Violationf("end_time %q must be HH:MM (24-hour)", p.EndTime)
		} else {
			r.endOverride = &c
		}
	}
	if r.endOverride != nil {
		start := r.baseClock
		if r.startOverride != nil {
			start = *r.startOverride
		}
		if !start.before(*r.endOverride) {
			v.Violationf("end_time must be after the occurrence start time")
		}
	}
}

func (r *Rule) compileBounds(p *Pattern, v *apperror.ValidationError) {
	if p.Count != nil {
		if *p.Count < 1 {
			v.Violationf("count must be >= 1, got %d", *p.Count)
		} else {
			r.count = *p.Count
		}
	}
	if p.EndDate != "" {
		bound, ok := parseBound(p.EndDate, r.loc)
		switch {
		case !ok:
			v.Violationf("end_date %q is not a date (YYYY-MM-DD) or RFC 3339 timestamp", p.EndDate)
		case !bound.After(r.baseStart):
			v.Violationf("end_date must be after the first occurrence start")
		default:
			r.endBound = bound
		}
	}
	for _, raw := range p.Exceptions {
		d, ok := parseDate(raw, r.loc)
		if !ok {
			v.Violationf("exception %q is not a date (YYYY-MM-DD) or RFC 3339 timestamp", raw)
			continue
		}
		r.exceptions[d] = true
	}
}

// parseBound returns the last instant an occurrence may start. A bare date
// includes the whole day in loc.
func parseBound(s string, loc *time.Location) (time.Time, bool) {
	if t, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
		return t.AddDate(0, 0, 1).Add(-time.Nanosecond), true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

func parseDate(s string, loc *time.Location) (date, bool) {
	if t, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
		return dateOf(t), true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return dateOf(t.In(loc)), true
	}
	return date{}, false
}

// Frequency returns the compiled recurrence type.
func (r *Rule) Frequency() Frequency { return r.freq }

// Location returns the zone the rule is evaluated in.
func (r *Rule) Location() *time.Location { return r.loc }

// includes applies the type-specific inclusion test to a candidate day.
func (r *Rule) includes(d date) bool {
	switch r.freq {
	case FrequencyWeekly, FrequencyCustom:
		if r.explicit {
			return r.weekdays[d.weekday()]
		}
		return true
	case FrequencyMonthly:
		return r.monthly.matches(d)
	default:
		return true
	}
}

// window returns the exact UTC bounds of the occurrence on day d.
func (r *Rule) window(d date) (time.Time, time.Time) {
	startClock := r.baseClock
	if r.startOverride != nil {
		startClock = *r.startOverride
	}
	start := startClock.on(d, r.loc)
	if r.endOverride != nil {
		return start, r.endOverride.on(d, r.loc)
	}
	return start, start.Add(r.duration)
}
