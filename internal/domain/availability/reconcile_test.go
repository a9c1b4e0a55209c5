package availability

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/carebook/carebook/internal/domain/recurrence"
	"github.com/carebook/carebook/internal/domain/slotgen"
)

var (
	consult  = uuid.MustParse("00000000-0000-0000-0000-0000000000c1")
	followUp = uuid.MustParse("00000000-0000-0000-0000-0000000000f1")
)

func at(h, m int) time.Time { return time.Date(2024, 1, 10, h, m, 0, 0, time.UTC) }

func slotAt(service uuid.UUID, start time.Time, d time.Duration, booking string) *Slot {
	s := &Slot{ID: uuid.New(), ServiceID: service, StartTime: start, EndTime: start.Add(d)}
	if booking != "" {
		s.Booking = &BookingRef{ID: uuid.New(), Status: booking}
	}
	return s
}

func oneOff(t *testing.T, start, end time.Time, services ...slotgen.Service) Proposal {
	t.Helper()
	occ, err := recurrence.Generate(nil, start, end, time.UTC, recurrence.Options{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	return Proposal{Occurrences: occ, Services: services, Rule: slotgen.RuleContinuous, Location: time.UTC}
}

func TestPlanDelete_RejectsBookedSlots(t *testing.T) {
	id := uuid.New()
	slots := []*Slot{
		slotAt(consult, at(9, 0), 30*time.Minute, "CONFIRMED"),
		slotAt(consult, at(9, 30), 30*time.Minute, ""),
		slotAt(consult, at(10, 0), 30*time.Minute, "CANCELLED"),
	}
	_, err := PlanDelete(id, slots)
	var active *HasActiveBookingsError
	if !errors.As(err, &active) {
		t.Fatalf("expected HasActiveBookingsError, got %v", err)
	}
	if active.Statuses["CONFIRMED"] != 1 || active.Statuses["CANCELLED"] != 1 {
		t.Errorf("unexpected status counts %v", active.Statuses)
	}
	if !strings.Contains(err.Error(), "1 CANCELLED, 1 CONFIRMED") {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestPlanDelete_FreeSlotsOnly(t *testing.T) {
	slots := []*Slot{slotAt(consult, at(9, 0), 30*time.Minute, ""), slotAt(consult, at(9, 30), 30*time.Minute, "")}
	plan, err := PlanDelete(uuid.New(), slots)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Delete) != 2 || len(plan.Insert) != 0 || len(plan.Retain) != 0 {
		t.Errorf("unexpected plan %+v", plan)
	}
}

func TestPlanRelease_KeepsBooked(t *testing.T) {
	booked := slotAt(consult, at(9, 0), 30*time.Minute, "PENDING")
	free := slotAt(consult, at(9, 30), 30*time.Minute, "")
	plan := PlanRelease([]*Slot{booked, free})
	if len(plan.Delete) != 1 || plan.Delete[0] != free.ID {
		t.Errorf("expected only the free slot to be deleted, got %v", plan.Delete)
	}
	if len(plan.Retain) != 1 || plan.Retain[0] != booked {
		t.Errorf("expected the booked slot to be retained")
	}
}

func TestPlanUpdate_ShrinkExcludingBookingIsRejected(t *testing.T) {
	// 09:00-11:00 with 30m slots, 10:30 booked; new end 10:00.
	booked := slotAt(consult, at(10, 30), 30*time.Minute, "CONFIRMED")
	current := []*Slot{
		slotAt(consult, at(9, 0), 30*time.Minute, ""),
		slotAt(consult, at(9, 30), 30*time.Minute, ""),
		slotAt(consult, at(10, 0), 30*time.Minute, ""),
		booked,
	}
	_, err := PlanUpdate(current, oneOff(t, at(9, 0), at(10, 0), slotgen.Service{ServiceID: consult, Duration: 30 * time.Minute}))

	var exclude *WouldExcludeBookingError
	if !errors.As(err, &exclude) {
		t.Fatalf("expected WouldExcludeBookingError, got %v", err)
	}
	if len(exclude.Slots) != 1 || exclude.Slots[0].SlotID != booked.ID {
		t.Errorf("expected the 10:30 slot to be reported, got %+v", exclude.Slots)
	}
	if !strings.HasPrefix(err.Error(), "new range must cover booking at 2024-01-10T10:30:00Z") {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestPlanUpdate_ExtendKeepsBookedSlot(t *testing.T) {
	booked := slotAt(consult, at(9, 30), 30*time.Minute, "CONFIRMED")
	free := slotAt(consult, at(9, 0), 30*time.Minute, "")
	plan, err := PlanUpdate([]*Slot{free, booked},
		oneOff(t, at(9, 0), at(11, 0), slotgen.Service{ServiceID: consult, Duration: 30 * time.Minute}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Delete) != 1 || plan.Delete[0] != free.ID {
		t.Errorf("expected the free slot to be regenerated, got %v", plan.Delete)
	}
	if len(plan.Retain) != 1 || plan.Retain[0].ID != booked.ID {
		t.Errorf("expected the booked slot to be retained")
	}
	want := []time.Time{at(9, 0), at(10, 0), at(10, 30)}
	if len(plan.Insert) != len(want) {
		t.Fatalf("expected %d new slots, got %d", len(want), len(plan.Insert))
	}
	for i, s := range plan.Insert {
		if !s.Start.Equal(want[i]) {
			t.Errorf("slot %d: expected %v, got %v", i, want[i], s.Start)
		}
		if s.Interval().Overlaps(booked.Interval()) {
			t.Errorf("new slot %v overlaps the retained booked slot", s.Start)
		}
	}
}

func TestPlanUpdate_BookedIntervalOnlyExcludedForItsService(t *testing.T) {
	booked := slotAt(consult, at(9, 0), 30*time.Minute, "CONFIRMED")
	plan, err := PlanUpdate([]*Slot{booked}, oneOff(t, at(9, 0), at(10, 0),
		slotgen.Service{ServiceID: consult, Duration: 30 * time.Minute},
		slotgen.Service{ServiceID: followUp, Duration: 30 * time.Minute},
	))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	counts := map[uuid.UUID]int{}
	for _, s := range plan.Insert {
		counts[s.ServiceID]++
	}
	if counts[consult] != 1 || counts[followUp] != 2 {
		t.Errorf("expected 1 consult and 2 follow-up slots, got %v", counts)
	}
}

func TestPlanUpdate_RemovingBookedServiceIsRejected(t *testing.T) {
	booked := slotAt(followUp, at(9, 0), 30*time.Minute, "PENDING")
	_, err := PlanUpdate([]*Slot{booked},
		oneOff(t, at(9, 0), at(10, 0), slotgen.Service{ServiceID: consult, Duration: 30 * time.Minute}))
	var removed *WouldRemoveBookedServiceError
	if !errors.As(err, &removed) {
		t.Fatalf("expected WouldRemoveBookedServiceError, got %v", err)
	}
	if len(removed.ServiceIDs) != 1 || removed.ServiceIDs[0] != followUp {
		t.Errorf("unexpected services %v", removed.ServiceIDs)
	}
	if !IsBookingProtection(err) {
		t.Error("expected a booking-protection error")
	}
}

func TestPlanUpdate_ExceptionDoesNotCoverBooking(t *testing.T) {
	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	booked := slotAt(consult, start.AddDate(0, 0, 1), 30*time.Minute, "CONFIRMED")
	occ, err := recurrence.Generate(&recurrence.Pattern{
		Type: recurrence.FrequencyDaily, Exceptions: []string{"2024-01-02"}, EndDate: "2024-01-05",
	}, start, start.Add(time.Hour), time.UTC, recurrence.Options{IncludeExceptions: true})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	_, err = PlanUpdate([]*Slot{booked}, Proposal{
		Occurrences: occ,
		Services:    []slotgen.Service{{ServiceID: consult, Duration: 30 * time.Minute}},
		Rule:        slotgen.RuleContinuous,
		Location:    time.UTC,
	})
	var exclude *WouldExcludeBookingError
	if !errors.As(err, &exclude) {
		t.Fatalf("expected an exception date to leave the booking uncovered, got %v", err)
	}
}

func TestPlanUpdate_Idempotent(t *testing.T) {
	p := oneOff(t, at(9, 0), at(10, 0), slotgen.Service{ServiceID: consult, Duration: 20 * time.Minute})
	first, err := PlanUpdate(nil, p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var current []*Slot
	for _, s := range first.Insert {
		current = append(current, slotAt(s.ServiceID, s.Start, s.End.Sub(s.Start), ""))
	}
	second, err := PlanUpdate(current, p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(second.Insert) != len(first.Insert) || len(second.Delete) != len(current) {
		t.Errorf("expected identical regeneration, got %d inserts / %d deletes", len(second.Insert), len(second.Delete))
	}
	for i := range first.Insert {
		if !first.Insert[i].Start.Equal(second.Insert[i].Start) {
			t.Errorf("slot %d moved: %v -> %v", i, first.Insert[i].Start, second.Insert[i].Start)
		}
	}
}
