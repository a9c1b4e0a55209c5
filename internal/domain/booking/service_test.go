package booking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carebook/carebook/pkg/apperror"
)

func (m *memRepo) seed(status Status, start time.Time) *Booking {
	b := &Booking{
		ID:              uuid.New(),
		SlotID:          uuid.New(),
		ProviderID:      testProvider,
		ServiceID:       consult,
		StartTime:       start,
		EndTime:         start.Add(30 * time.Minute),
		Status:          status,
		UserID:          "patient-1",
		DurationMinutes: 30,
		Currency:        "USD",
	}
	m.mu.Lock()
	m.bookings[b.ID] = b
	m.mu.Unlock()
	return b
}

func newTestBookingService(now time.Time) (*Service, *memRepo, *memCache) {
	repo := newMemRepo()
	cache := &memCache{}
	svc := NewService(repo, memTx{}, cache, func() time.Time { return now }, zerolog.Nop())
	return svc, repo, cache
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusConfirmed, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusCompleted, false},
		{StatusConfirmed, StatusCompleted, true},
		{StatusConfirmed, StatusNoShow, true},
		{StatusConfirmed, StatusCancelled, true},
		{StatusConfirmed, StatusPending, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusConfirmed, false},
		{StatusNoShow, StatusCompleted, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestService_Confirm(t *testing.T) {
	svc, repo, _ := newTestBookingService(testNow)
	b := repo.seed(StatusPending, slotTime(9, 0))

	got, err := svc.Confirm(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusConfirmed || repo.bookings[b.ID].Status != StatusConfirmed {
		t.Errorf("expected CONFIRMED to be stored, got %s", repo.bookings[b.ID].Status)
	}

	_, err = svc.Confirm(context.Background(), b.ID)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestService_Cancel(t *testing.T) {
	svc, repo, cache := newTestBookingService(testNow)
	b := repo.seed(StatusConfirmed, slotTime(9, 0))

	got, err := svc.Cancel(context.Background(), b.ID, "feeling better")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.CancelReason != "feeling better" || got.CancelledAt == nil || !got.CancelledAt.Equal(testNow) {
		t.Errorf("unexpected cancellation fields %q %v", got.CancelReason, got.CancelledAt)
	}
	if len(cache.invalidated) != 1 {
		t.Errorf("expected the slot cache to be invalidated")
	}
	if _, err := svc.Cancel(context.Background(), b.ID, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected a second cancel to fail, got %v", err)
	}
}

func TestService_CompleteAndNoShow(t *testing.T) {
	start := slotTime(9, 0)

	svc, repo, _ := newTestBookingService(start.Add(-time.Minute))
	b := repo.seed(StatusConfirmed, start)
	if _, err := svc.Complete(context.Background(), b.ID); !apperror.IsValidation(err) {
		t.Errorf("expected completing a future booking to fail validation, got %v", err)
	}

	svc, repo, _ = newTestBookingService(start.Add(time.Hour))
	b = repo.seed(StatusConfirmed, start)
	if got, err := svc.Complete(context.Background(), b.ID); err != nil || got.Status != StatusCompleted {
		t.Errorf("expected COMPLETED, got %v (%v)", got, err)
	}

	pending := repo.seed(StatusPending, start)
	if _, err := svc.NoShow(context.Background(), pending.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected a PENDING booking not to be marked no-show, got %v", err)
	}
	confirmed := repo.seed(StatusConfirmed, start.Add(-time.Hour))
	if got, err := svc.NoShow(context.Background(), confirmed.ID); err != nil || got.Status != StatusNoShow {
		t.Errorf("expected NO_SHOW, got %v (%v)", got, err)
	}
}

func TestService_NotFound(t *testing.T) {
	svc, _, _ := newTestBookingService(testNow)
	if _, err := svc.Cancel(context.Background(), uuid.New(), ""); !apperror.IsNotFound(err) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestService_ListDefaultsLimit(t *testing.T) {
	svc, repo, _ := newTestBookingService(testNow)
	for i := 0; i < 25; i++ {
		repo.seed(StatusConfirmed, slotTime(9, 0).Add(time.Duration(i)*time.Hour))
	}
	items, total, err := svc.List(context.Background(), ListFilter{UserID: "patient-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 25 || len(items) != 20 {
		t.Errorf("expected 20 of 25, got %d of %d", len(items), total)
	}
}
