// Package slotgen turns calendar occurrences into bookable slots, one series
// per offered service, aligned by the window's scheduling rule.
package slotgen

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/carebook/carebook/internal/domain/recurrence"
	"github.com/carebook/carebook/pkg/apperror"
)

// Rule aligns slot start times inside an occurrence.
type Rule string

const (
	RuleContinuous    Rule = "CONTINUOUS"
	RuleOnTheHour     Rule = "ON_THE_HOUR"
	RuleOnTheHalfHour Rule = "ON_THE_HALF_HOUR"
)

// Valid reports whether r is a known scheduling rule.
func (r Rule) Valid() bool {
	switch r {
	case RuleContinuous, RuleOnTheHour, RuleOnTheHalfHour:
		return true
	}
	return false
}

func (r Rule) boundary() time.Duration {
	switch r {
	case RuleOnTheHour:
		return time.Hour
	case RuleOnTheHalfHour:
		return 30 * time.Minute
	}
	return 0
}

// Service is one offering of a window.
type Service struct {
	ServiceID uuid.UUID
	Duration  time.Duration
}

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether the two half-open ranges intersect.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

// Slot is a generated, not yet persisted, slot.
type Slot struct {
	ServiceID  uuid.UUID
	Start      time.Time
	End        time.Time
	Occurrence int
}

// Interval returns the slot's time range.
func (s Slot) Interval() Interval { return Interval{Start: s.Start, End: s.End} }

// Options control materialization.
type Options struct {
	Rule Rule
	// Location is the provider's zone; hour and half-hour boundaries are
	// computed in it. nil means UTC.
	Location *time.Location
	// Exclude holds, per service, ranges that already have a slot (retained
	// booked slots). Generated slots overlapping them are dropped.
	Exclude map[uuid.UUID][]Interval
}

// Materialize produces the slots of every (occurrence, service) pair.
// Exception occurrences yield nothing. Output is ordered by service (in the
// given order), then start time, and slots of one service never overlap.
func Materialize(occurrences []recurrence.Occurrence, services []Service, opts Options) ([]Slot, error) {
	if opts.Rule == "" {
		opts.Rule = RuleContinuous
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}

	v := &apperror.ValidationError{}
	if !opts.Rule.Valid() {
		v.Violationf("scheduling rule %q is not one of CONTINUOUS, ON_THE_HOUR, ON_THE_HALF_HOUR", opts.Rule)
	}
	seen := make(map[uuid.UUID]bool, len(services))
	for _, svc := range services {
		if svc.Duration <= 0 {
			v.Violationf("service %s: duration must be positive", svc.ServiceID)
		}
		if seen[svc.ServiceID] {
			v.Violationf("service %s is listed more than once", svc.ServiceID)
		}
		seen[svc.ServiceID] = true
	}
	if err := v.OrNil(); err != nil {
		return nil, err
	}

	ordered := make([]recurrence.Occurrence, len(occurrences))
	copy(ordered, occurrences)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Start.Before(ordered[j].Start) })

	var out []Slot
	for _, svc := range services {
		excluded := opts.Exclude[svc.ServiceID]
		var lastEnd time.Time
		for _, occ := range ordered {
			if occ.IsException {
				continue
			}
			for _, iv := range Tile(occ.Start, occ.End, svc.Duration, opts.Rule, opts.Location) {
				if iv.Start.Before(lastEnd) {
					continue
				}
				if overlapsAny(iv, excluded) {
					continue
				}
				out = append(out, Slot{ServiceID: svc.ServiceID, Start: iv.Start, End: iv.End, Occurrence: occ.Number})
				lastEnd = iv.End
			}
		}
	}
	return out, nil
}

// Tile cuts [start, end) into consecutive slots of exactly d. Under the
// hour or half-hour rules the first slot starts at the next boundary at or
// after start, in loc. A trailing partial slot is dropped.
func Tile(start, end time.Time, d time.Duration, rule Rule, loc *time.Location) []Interval {
	if d <= 0 || !end.After(start) {
		return nil
	}
	if b := rule.boundary(); b > 0 {
		start = snap(start, b, loc)
	}
	var out []Interval
	for cur := start; !cur.Add(d).After(end); cur = cur.Add(d) {
		out = append(out, Interval{Start: cur.UTC(), End: cur.Add(d).UTC()})
	}
	return out
}

// snap returns the first multiple of b past local midnight that is >= t.
func snap(t time.Time, b time.Duration, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	sinceHour := time.Duration(local.Minute())*time.Minute +
		time.Duration(local.Second())*time.Second +
		time.Duration(local.Nanosecond())
	rem := sinceHour % b
	if rem == 0 {
		return t
	}
	return t.Add(b - rem)
}

func overlapsAny(iv Interval, set []Interval) bool {
	for _, o := range set {
		if iv.Overlaps(o) {
			return true
		}
	}
	return false
}
