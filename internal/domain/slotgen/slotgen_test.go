package slotgen

import (
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/carebook/carebook/internal/domain/recurrence"
	"github.com/carebook/carebook/pkg/apperror"
)

func at(day, h, m int) time.Time {
	return time.Date(2024, 1, day, h, m, 0, 0, time.UTC)
}

func dailyOccurrences(t *testing.T, start, end time.Time, count int) []recurrence.Occurrence {
	t.Helper()
	occ, err := recurrence.Generate(&recurrence.Pattern{Type: recurrence.FrequencyDaily, Count: &count}, start, end, time.UTC, recurrence.Options{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	return occ
}

func TestMaterialize_ContinuousRoundTrip(t *testing.T) {
	occ := dailyOccurrences(t, at(1, 9, 0), at(1, 9, 30), 5)
	svc := Service{ServiceID: uuid.New(), Duration: 30 * time.Minute}

	slots, err := Materialize(occ, []Service{svc}, Options{Rule: RuleContinuous})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != len(occ) {
		t.Fatalf("expected one slot per occurrence (%d), got %d", len(occ), len(slots))
	}
	for i, s := range slots {
		if !s.Start.Equal(occ[i].Start) || !s.End.Equal(occ[i].End) {
			t.Errorf("slot %d: expected %v-%v, got %v-%v", i, occ[i].Start, occ[i].End, s.Start, s.End)
		}
		if s.ServiceID != svc.ServiceID {
			t.Errorf("slot %d: wrong service", i)
		}
		if s.Occurrence != occ[i].Number {
			t.Errorf("slot %d: expected occurrence %d, got %d", i, occ[i].Number, s.Occurrence)
		}
	}
}

func TestMaterialize_ContinuousTilesAndDropsRemainder(t *testing.T) {
	occ := []recurrence.Occurrence{{Start: at(1, 9, 0), End: at(1, 10, 10), Number: 1}}
	slots, err := Materialize(occ, []Service{{ServiceID: uuid.New(), Duration: 20 * time.Minute}}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []time.Time{at(1, 9, 0), at(1, 9, 20), at(1, 9, 40)}
	if len(slots) != len(want) {
		t.Fatalf("expected %d slots, got %d", len(want), len(slots))
	}
	for i, w := range want {
		if !slots[i].Start.Equal(w) || slots[i].End.Sub(slots[i].Start) != 20*time.Minute {
			t.Errorf("slot %d: expected start %v, got %v-%v", i, w, slots[i].Start, slots[i].End)
		}
	}
}

func TestMaterialize_SnapsToBoundaries(t *testing.T) {
	occ := []recurrence.Occurrence{{Start: at(1, 9, 10), End: at(1, 12, 0), Number: 1}}
	svc := []Service{{ServiceID: uuid.New(), Duration: 45 * time.Minute}}

	tests := []struct {
		rule Rule
		want []time.Time
	}{
		{RuleOnTheHour, []time.Time{at(1, 10, 0), at(1, 10, 45)}},
		{RuleOnTheHalfHour, []time.Time{at(1, 9, 30), at(1, 10, 15), at(1, 11, 0)}},
		{RuleContinuous, []time.Time{at(1, 9, 10), at(1, 9, 55), at(1, 10, 40)}},
	}
	for _, tt := range tests {
		t.Run(string(tt.rule), func(t *testing.T) {
			slots, err := Materialize(occ, svc, Options{Rule: tt.rule})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(slots) != len(tt.want) {
				t.Fatalf("expected %d slots, got %d", len(tt.want), len(slots))
			}
			for i, w := range tt.want {
				if !slots[i].Start.Equal(w) {
					t.Errorf("slot %d: expected %v, got %v", i, w, slots[i].Start)
				}
			}
		})
	}
}

func TestMaterialize_SnapInProviderZone(t *testing.T) {
	// +05:30: a provider's local hour boundary sits on :30 UTC.
	loc := time.FixedZone("IST", 5*3600+1800)
	occ := []recurrence.Occurrence{{Start: at(1, 3, 40), End: at(1, 6, 30), Number: 1}}
	slots, err := Materialize(occ, []Service{{ServiceID: uuid.New(), Duration: time.Hour}}, Options{Rule: RuleOnTheHour, Location: loc})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []time.Time{at(1, 4, 30), at(1, 5, 30)}
	if len(slots) != len(want) {
		t.Fatalf("expected %d slots, got %d", len(want), len(slots))
	}
	for i, w := range want {
		if !slots[i].Start.Equal(w) {
			t.Errorf("slot %d: expected %v, got %v", i, w, slots[i].Start)
		}
	}
}

func TestMaterialize_AlreadyOnBoundary(t *testing.T) {
	occ := []recurrence.Occurrence{{Start: at(1, 9, 0), End: at(1, 10, 0), Number: 1}}
	slots, err := Materialize(occ, []Service{{ServiceID: uuid.New(), Duration: 30 * time.Minute}}, Options{Rule: RuleOnTheHour})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 2 || !slots[0].Start.Equal(at(1, 9, 0)) {
		t.Errorf("expected two slots from 09:00, got %+v", slots)
	}
}

func TestMaterialize_Idempotent(t *testing.T) {
	occ := dailyOccurrences(t, at(1, 8, 0), at(1, 12, 0), 10)
	services := []Service{
		{ServiceID: uuid.New(), Duration: 15 * time.Minute},
		{ServiceID: uuid.New(), Duration: 50 * time.Minute},
	}
	first, err := Materialize(occ, services, Options{Rule: RuleOnTheHalfHour})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Materialize(occ, services, Options{Rule: RuleOnTheHalfHour})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("expected identical slot sets")
	}
}

func TestMaterialize_ServicesIndependent(t *testing.T) {
	occ := []recurrence.Occurrence{{Start: at(1, 9, 0), End: at(1, 10, 0), Number: 1}}
	a := Service{ServiceID: uuid.New(), Duration: 30 * time.Minute}
	b := Service{ServiceID: uuid.New(), Duration: time.Hour}
	slots, err := Materialize(occ, []Service{a, b}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	counts := map[uuid.UUID]int{}
	for _, s := range slots {
		counts[s.ServiceID]++
	}
	if counts[a.ServiceID] != 2 || counts[b.ServiceID] != 1 {
		t.Errorf("unexpected per-service counts: %v", counts)
	}
}

func TestMaterialize_SkipsExceptions(t *testing.T) {
	occ := []recurrence.Occurrence{
		{Start: at(1, 9, 0), End: at(1, 10, 0), Number: 1},
		{Start: at(2, 9, 0), End: at(2, 10, 0), Number: 2, IsException: true},
	}
	slots, err := Materialize(occ, []Service{{ServiceID: uuid.New(), Duration: time.Hour}}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 1 || slots[0].Occurrence != 1 {
		t.Errorf("expected only the non-exception occurrence, got %+v", slots)
	}
}

func TestMaterialize_ExcludesRetainedRanges(t *testing.T) {
	occ := []recurrence.Occurrence{{Start: at(1, 9, 0), End: at(1, 11, 0), Number: 1}}
	svc := Service{ServiceID: uuid.New(), Duration: 30 * time.Minute}
	other := uuid.New()
	opts := Options{Exclude: map[uuid.UUID][]Interval{
		svc.ServiceID: {{Start: at(1, 9, 30), End: at(1, 10, 0)}},
		other:         {{Start: at(1, 9, 0), End: at(1, 11, 0)}},
	}}
	slots, err := Materialize(occ, []Service{svc}, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 3 {
		t.Fatalf("expected 3 slots around the retained one, got %d", len(slots))
	}
	for _, s := range slots {
		if s.Start.Equal(at(1, 9, 30)) {
			t.Errorf("slot overlapping a retained range was generated: %v", s.Start)
		}
	}
}

func TestMaterialize_OverlappingOccurrencesDoNotOverlapSlots(t *testing.T) {
	occ := []recurrence.Occurrence{
		{Start: at(1, 9, 0), End: at(1, 11, 0), Number: 1},
		{Start: at(1, 10, 0), End: at(1, 12, 0), Number: 2},
	}
	slots, err := Materialize(occ, []Service{{ServiceID: uuid.New(), Duration: time.Hour}}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 1; i < len(slots); i++ {
		if slots[i].Start.Before(slots[i-1].End) {
			t.Errorf("slots %d and %d overlap", i-1, i)
		}
	}
}

func TestMaterialize_Validation(t *testing.T) {
	id := uuid.New()
	_, err := Materialize(nil, []Service{
		{ServiceID: id, Duration: 0},
		{ServiceID: id, Duration: time.Hour},
	}, Options{Rule: "EVERY_FIVE"})
	if !apperror.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if n := len(err.(*apperror.ValidationError).Violations); n != 3 {
		t.Errorf("expected 3 violations, got %d", n)
	}
}

func TestTile_WindowShorterThanDuration(t *testing.T) {
	if got := Tile(at(1, 9, 0), at(1, 9, 20), 30*time.Minute, RuleContinuous, nil); len(got) != 0 {
		t.Errorf("expected no slots, got %v", got)
	}
}
