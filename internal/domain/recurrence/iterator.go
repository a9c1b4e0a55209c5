package recurrence

import "time"

// maxCandidates bounds patterns whose inclusion test can never pass, such as
// day 30 every 12 months anchored in February.
const maxCandidates = HardCeiling * 40

// Options bound an expansion. The zero value means: no explicit end, the
// HardCeiling cap, exceptions suppressed.
type Options struct {
	// Until is the last instant an occurrence may start. Combined with the
	// pattern's end date, the earlier one wins.
	Until time.Time
	// From skips occurrences that end at or before it. Skipped occurrences
	// keep their numbers and still count toward the pattern's count, but not
	// toward Cap or HardCeiling.
	From time.Time
	// Cap limits the number of occurrences. Combined with the pattern's count
	// and HardCeiling, the smallest wins.
	Cap int
	// IncludeExceptions yields excluded dates flagged with IsException instead
	// of dropping them.
	IncludeExceptions bool
}

// Iterator walks the occurrences of a rule lazily. It is finite and holds no
// state beyond its own cursor; build a new one to restart.
//
//	it := rule.Iterator(opts)
//	for it.Next() {
//		occ := it.Occurrence()
//	}
type Iterator struct {
	rule       *Rule
	count      int
	limit      int
	from       time.Time
	until      time.Time
	withExcept bool

	cursor     date
	started    bool
	done       bool
	number     int
	budget     int
	candidates int
	current    Occurrence
}

// Iterator returns a fresh iterator over the rule's occurrences.
func (r *Rule) Iterator(opts Options) *Iterator {
	limit := HardCeiling
	if opts.Cap > 0 && opts.Cap < limit {
		limit = opts.Cap
	}
	count := r.count
	if r.freq == FrequencyNone {
		count = 1
	}

	until := r.endBound
	if !opts.Until.IsZero() && (until.IsZero() || opts.Until.Before(until)) {
		until = opts.Until
	}

	return &Iterator{
		rule:       r,
		count:      count,
		limit:      limit,
		from:       opts.From,
		until:      until,
		withExcept: opts.IncludeExceptions,
	}
}

// Next advances to the next occurrence and reports whether one exists.
func (it *Iterator) Next() bool {
	for !it.done {
		if it.budget >= it.limit || (it.count > 0 && it.number >= it.count) {
			it.done = true
			break
		}

		var d date
		if !it.started {
			d = it.rule.baseDate
			it.started = true
		} else {
			d = it.rule.step(it.cursor)
		}
		it.cursor = d

		start, end := it.rule.window(d)
		past := !it.from.IsZero() && !end.After(it.from)
		if !past {
			it.candidates++
			if it.candidates > maxCandidates {
				it.done = true
				break
			}
		}
		if !it.until.IsZero() && start.After(it.until) {
			it.done = true
			break
		}
		if !it.rule.includes(d) {
			continue
		}

		it.number++
		if past {
			continue
		}
		it.budget++
		exception := it.rule.exceptions[d]
		if exception && !it.withExcept {
			continue
		}
		it.current = Occurrence{Start: start, End: end, Number: it.number, IsException: exception}
		return true
	}
	return false
}

// Occurrence returns the occurrence produced by the last successful Next.
func (it *Iterator) Occurrence() Occurrence { return it.current }

// Occurrences drains a fresh iterator.
func (r *Rule) Occurrences(opts Options) []Occurrence {
	var out []Occurrence
	it := r.Iterator(opts)
	for it.Next() {
		out = append(out, it.Occurrence())
	}
	return out
}

// Generate validates p against the base window and expands it.
func Generate(p *Pattern, baseStart, baseEnd time.Time, loc *time.Location, opts Options) ([]Occurrence, error) {
	rule, err := Compile(p, baseStart, baseEnd, loc)
	if err != nil {
		return nil, err
	}
	return rule.Occurrences(opts), nil
}

// step returns the next candidate day strictly after d. Every branch advances
// by at least one day, so the cursor is strictly monotonic.
func (r *Rule) step(d date) date {
	switch r.freq {
	case FrequencyWeekly:
		if r.explicit {
			return r.nextWeekday(d)
		}
		return d.addDays(7 * r.interval)
	case FrequencyMonthly:
		return r.nextMonthly(d)
	default:
		// DAILY, CUSTOM, and NONE (which never steps past its limit of one).
		return d.addDays(r.interval)
	}
}

// nextWeekday finds the next selected weekday in d's week, or wraps to the
// first selected weekday of the week interval weeks later. Weeks start on
// Sunday and are counted from the base date's week.
func (r *Rule) nextWeekday(d date) date {
	anchor := r.baseDate.addDays(-int(r.baseDate.weekday()))
	week := daysBetween(anchor, d) / 7

	for next := d.addDays(1); next.weekday() != time.Sunday; next = next.addDays(1) {
		if r.weekdays[next.weekday()] {
			return next
		}
	}

	weekStart := anchor.addDays(7 * (week + r.interval))
	for i := 0; i < 7; i++ {
		if r.weekdays[i] {
			return weekStart.addDays(i)
		}
	}
	return weekStart
}

// nextMonthly returns the month rule's candidate in d's interval bucket when
// it lies after d, otherwise the candidate of the following bucket.
func (r *Rule) nextMonthly(d date) date {
	bucket := monthsBetween(r.baseDate, d) / r.interval
	for {
		m := monthStart(r.baseDate, bucket*r.interval)
		c := r.monthly.candidate(m.year, m.month)
		if c.after(d) {
			return c
		}
		bucket++
	}
}
