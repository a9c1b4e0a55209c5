package availability

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/carebook/carebook/internal/domain/recurrence"
	"github.com/carebook/carebook/internal/domain/slotgen"
)

// Plan is the outcome of reconciling a window's slots with a proposed
// definition. It is applied atomically or not at all.
type Plan struct {
	Delete []uuid.UUID
	Retain []*Slot
	Insert []slotgen.Slot
}

// Proposal is the expanded form of a requested window definition.
type Proposal struct {
	Occurrences []recurrence.Occurrence
	Services    []slotgen.Service
	Rule        slotgen.Rule
	Location    *time.Location
}

// partition splits slots into booked (any booking status) and free.
func partition(slots []*Slot) (booked, free []*Slot) {
	for _, s := range slots {
		if s.IsBooked() {
			booked = append(booked, s)
		} else {
			free = append(free, s)
		}
	}
	return booked, free
}

// PlanDelete allows a delete only when no slot has a booking.
func PlanDelete(availabilityID uuid.UUID, slots []*Slot) (*Plan, error) {
	booked, free := partition(slots)
	if len(booked) > 0 {
		statuses := make(map[string]int)
		for _, s := range booked {
			statuses[s.Booking.Status]++
		}
		return nil, &HasActiveBookingsError{AvailabilityID: availabilityID, Statuses: statuses}
	}
	return &Plan{Delete: ids(free)}, nil
}

// PlanRelease drops free slots and keeps booked ones, for cancellation.
func PlanRelease(slots []*Slot) *Plan {
	booked, free := partition(slots)
	return &Plan{Delete: ids(free), Retain: booked}
}

// PlanUpdate decides how a window's slots change under a proposal:
//
//  1. every booked slot must lie inside some occurrence of the proposal,
//  2. every service with a booked slot must still be offered,
//  3. free slots are dropped and the proposal is re-materialized around the
//     retained booked slots of the same service.
//
// A rejection returns no plan.
func PlanUpdate(current []*Slot, p Proposal) (*Plan, error) {
	booked, free := partition(current)

	var excluded []ExcludedSlot
	for _, s := range booked {
		if !covered(s, p.Occurrences) {
			excluded = append(excluded, ExcludedSlot{SlotID: s.ID, ServiceID: s.ServiceID, Start: s.StartTime, End: s.EndTime})
		}
	}
	if len(excluded) > 0 {
		sort.Slice(excluded, func(i, j int) bool { return excluded[i].Start.Before(excluded[j].Start) })
		return nil, &WouldExcludeBookingError{Slots: excluded}
	}

	offered := make(map[uuid.UUID]bool, len(p.Services))
	for _, svc := range p.Services {
		offered[svc.ServiceID] = true
	}
	var removed []uuid.UUID
	seen := make(map[uuid.UUID]bool)
	for _, s := range booked {
		if !offered[s.ServiceID] && !seen[s.ServiceID] {
			removed = append(removed, s.ServiceID)
			seen[s.ServiceID] = true
		}
	}
	if len(removed) > 0 {
		return nil, &WouldRemoveBookedServiceError{ServiceIDs: removed}
	}

	exclude := make(map[uuid.UUID][]slotgen.Interval)
	for _, s := range booked {
		exclude[s.ServiceID] = append(exclude[s.ServiceID], s.Interval())
	}
	generated, err := slotgen.Materialize(p.Occurrences, p.Services, slotgen.Options{
		Rule:     p.Rule,
		Location: p.Location,
		Exclude:  exclude,
	})
	if err != nil {
		return nil, err
	}

	return &Plan{Delete: ids(free), Retain: booked, Insert: generated}, nil
}

func covered(s *Slot, occurrences []recurrence.Occurrence) bool {
	for _, o := range occurrences {
		if !o.IsException && o.Covers(s.StartTime, s.EndTime) {
			return true
		}
	}
	return false
}

func ids(slots []*Slot) []uuid.UUID {
	out := make([]uuid.UUID, len(slots))
	for i, s := range slots {
		out[i] = s.ID
	}
	return out
}
