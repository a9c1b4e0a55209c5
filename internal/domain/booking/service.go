package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carebook/carebook/pkg/apperror"
)

// Service drives bookings through their lifecycle after the claim.
type Service struct {
	repo  Repository
	tx    TxRunner
	cache Invalidator
	now   func() time.Time
	log   zerolog.Logger
}

func NewService(repo Repository, tx TxRunner, cache Invalidator, now func() time.Time, log zerolog.Logger) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:  repo,
		tx:    tx,
		cache: cache,
		now:   now,
		log:   log.With().Str("component", "booking").Logger(),
	}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]*Booking, int, error) {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	return s.repo.List(ctx, f)
}

// Confirm accepts a PENDING booking.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return s.transition(ctx, id, StatusConfirmed, "")
}

func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return s.transition(ctx, id, StatusCompleted, "")
}

func (s *Service) NoShow(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return s.transition(ctx, id, StatusNoShow, "")
}

// Cancel releases the booking. Whether the slot becomes claimable again
// depends on the guard's CancelledFreesSlot setting.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string) (*Booking, error) {
	return s.transition(ctx, id, StatusCancelled, reason)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, to Status, reason string) (*Booking, error) {
	var b *Booking
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if b, err = s.repo.LockByID(ctx, id); err != nil {
			return err
		}
		if !CanTransition(b.Status, to) {
			return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, b.Status, to)
		}
		now := s.now().UTC()
		if (to == StatusCompleted || to == StatusNoShow) && now.Before(b.StartTime) {
			return apperror.NewValidation(fmt.Sprintf("booking cannot be marked %s before it starts", to))
		}
		b.Status = to
		if to == StatusCancelled {
			b.CancelReason = reason
			b.CancelledAt = &now
		}
		return s.repo.UpdateStatus(ctx, b)
	})
	if err != nil {
		return nil, err
	}
	if to == StatusCancelled && s.cache != nil {
		s.cache.Invalidate(ctx, b.ProviderID)
	}
	s.log.Info().Str("booking_id", b.ID.String()).Str("status", string(to)).Msg("booking updated")
	return b, nil
}
