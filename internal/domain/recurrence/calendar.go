package recurrence

import "time"

// date is a civil calendar date. Arithmetic goes through noon UTC so DST
// transitions in the provider's zone never shift the day.
type date struct {
	year  int
	month time.Month
	day   int
}

func dateOf(t time.Time) date {
	y, m, d := t.Date()
	return date{year: y, month: m, day: d}
}

func (d date) noon() time.Time {
	return time.Date(d.year, d.month, d.day, 12, 0, 0, 0, time.UTC)
}

func (d date) addDays(n int) date {
	return dateOf(d.noon().AddDate(0, 0, n))
}

func (d date) weekday() time.Weekday { return d.noon().Weekday() }

func (d date) after(o date) bool { return d.noon().After(o.noon()) }

func (d date) String() string { return d.noon().Format("2006-01-02") }

// daysBetween returns o - d in whole days.
func daysBetween(d, o date) int {
	return int(o.noon().Sub(d.noon()).Hours() / 24)
}

// monthsBetween returns the number of calendar months from d's month to o's month.
func monthsBetween(d, o date) int {
	return (o.year-d.year)*12 + int(o.month) - int(d.month)
}

// monthStart returns the first day of the month n months after d's month.
func monthStart(d date, n int) date {
	return dateOf(time.Date(d.year, d.month+time.Month(n), 1, 12, 0, 0, 0, time.UTC))
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 12, 0, 0, 0, time.UTC).Day()
}

// nthWeekday returns the n-th wd of the given month; n == LastWeek selects
// the last one. n is in {-1, 1, 2, 3, 4}, all of which exist in every month.
func nthWeekday(year int, month time.Month, n int, wd time.Weekday) date {
	if n == LastWeek {
		last := date{year: year, month: month, day: daysIn(year, month)}
		back := (int(last.weekday()) - int(wd) + 7) % 7
		return date{year: year, month: month, day: last.day - back}
	}
	first := date{year: year, month: month, day: 1}
	offset := (int(wd) - int(first.weekday()) + 7) % 7
	return date{year: year, month: month, day: 1 + offset + 7*(n-1)}
}

// WeekOfMonth returns the 7-day bucket (1-5) of t counted from the 1st of its
// month, and whether t falls in the last seven days of the month.
func WeekOfMonth(t time.Time) (week int, last bool) {
	d := dateOf(t)
	return weekOfMonth(d), isLastWeek(d)
}

func weekOfMonth(d date) int { return (d.day-1)/7 + 1 }

func isLastWeek(d date) bool { return d.day > daysIn(d.year, d.month)-7 }
