package integration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/carebook/carebook/internal/domain/availability"
	"github.com/carebook/carebook/internal/domain/booking"
)

func TestBooking_ConcurrentClaimsOnOneSlot(t *testing.T) {
	tenant := newTenant(t, "race")
	s := newStack(false)

	var target slotRow
	inTenant(t, tenant, func(ctx context.Context) error {
		w, err := s.windows.Create(ctx, provider, oneOff(at(10, 9, 0), at(10, 10, 0), service(consult, 30)), availability.Actor{})
		if err != nil {
			return err
		}
		target = firstSlot(t, ctx, w.ID, consult)
		return nil
	})

	const claimants = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		won      int
		conflict int
		other    []error
	)
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := withTenantConn(context.Background(), tenant, func(ctx context.Context) error {
				_, err := s.guard.Claim(ctx, &booking.ClaimRequest{SlotID: target.ID, UserID: fmt.Sprintf("patient-%d", i)})
				return err
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				won++
			case booking.IsSlotAlreadyBooked(err):
				conflict++
			default:
				other = append(other, err)
			}
		}(i)
	}
	wg.Wait()

	if won != 1 || conflict != claimants-1 {
		t.Errorf("expected 1 winner and %d conflicts, got %d and %d (other: %v)", claimants-1, won, conflict, other)
	}

	inTenant(t, tenant, func(ctx context.Context) error {
		var n int
		if err := connOf(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM booking WHERE slot_id = $1`, target.ID).Scan(&n); err != nil {
			return err
		}
		if n != 1 {
			t.Errorf("expected exactly one booking row, got %d", n)
		}
		return nil
	})
}

func TestBooking_ProviderOverlapAcrossServices(t *testing.T) {
	tenant := newTenant(t, "overlap")
	s := newStack(false)

	inTenant(t, tenant, func(ctx context.Context) error {
		w, err := s.windows.Create(ctx, provider, oneOff(at(10, 9, 0), at(10, 10, 0),
			service(consult, 30), service(followUp, 20)), availability.Actor{})
		if err != nil {
			return err
		}
		if _, err := s.guard.Claim(ctx, &booking.ClaimRequest{SlotID: firstSlot(t, ctx, w.ID, consult).ID, UserID: "p1"}); err != nil {
			return err
		}

		// The 09:00 follow-up slot overlaps the booked 09:00-09:30 consult.
		_, err = s.guard.Claim(ctx, &booking.ClaimRequest{SlotID: firstSlot(t, ctx, w.ID, followUp).ID, UserID: "p2"})
		var taken *booking.SlotAlreadyBookedError
		if !errors.As(err, &taken) || taken.Reason != booking.ReasonProviderOverlap {
			t.Fatalf("expected a provider overlap rejection, got %v", err)
		}
		return nil
	})
}

func TestBooking_CancelledSlotPolicy(t *testing.T) {
	for _, frees := range []bool{false, true} {
		t.Run(fmt.Sprintf("frees=%v", frees), func(t *testing.T) {
			tenant := newTenant(t, "policy")
			s := newStack(frees)

			inTenant(t, tenant, func(ctx context.Context) error {
				w, err := s.windows.Create(ctx, provider, oneOff(at(10, 9, 0), at(10, 9, 30), service(consult, 30)), availability.Actor{})
				if err != nil {
					return err
				}
				slot := firstSlot(t, ctx, w.ID, consult)
				b, err := s.guard.Claim(ctx, &booking.ClaimRequest{SlotID: slot.ID, UserID: "p1"})
				if err != nil {
					return err
				}
				if _, err := s.bookings.Cancel(ctx, b.ID, "changed plans"); err != nil {
					return err
				}

				_, err = s.guard.Claim(ctx, &booking.ClaimRequest{SlotID: slot.ID, UserID: "p2"})
				if frees && err != nil {
					t.Errorf("expected the slot to be free again, got %v", err)
				}
				if !frees && !booking.IsSlotAlreadyBooked(err) {
					t.Errorf("expected SlotAlreadyBooked, got %v", err)
				}
				return nil
			})
		})
	}
}

func TestBooking_Lifecycle(t *testing.T) {
	tenant := newTenant(t, "life")
	s := newStack(false)

	inTenant(t, tenant, func(ctx context.Context) error {
		in := oneOff(at(10, 9, 0), at(10, 9, 30), service(consult, 30))
		in.RequiresConfirmation = true
		w, err := s.windows.Create(ctx, provider, in, availability.Actor{})
		if err != nil {
			return err
		}
		b, err := s.guard.Claim(ctx, &booking.ClaimRequest{SlotID: firstSlot(t, ctx, w.ID, consult).ID, GuestPhone: "+15550100"})
		if err != nil {
			return err
		}
		if b.Status != booking.StatusPending {
			t.Errorf("expected PENDING, got %s", b.Status)
		}
		if !b.Price.Equal(service(consult, 30).Price) || b.DurationMinutes != 30 {
			t.Errorf("expected a service snapshot, got %+v", b)
		}

		confirmed, err := s.bookings.Confirm(ctx, b.ID)
		if err != nil {
			return err
		}
		if confirmed.Status != booking.StatusConfirmed {
			t.Errorf("expected CONFIRMED, got %s", confirmed.Status)
		}
		if _, err := s.bookings.Confirm(ctx, b.ID); !errors.Is(err, booking.ErrInvalidTransition) {
			t.Errorf("expected ErrInvalidTransition, got %v", err)
		}

		list, total, err := s.bookings.List(ctx, booking.ListFilter{ProviderID: &provider})
		if err != nil {
			return err
		}
		if total != 1 || len(list) != 1 || list[0].ID != b.ID {
			t.Errorf("unexpected listing %d / %v", total, list)
		}
		return nil
	})
}
