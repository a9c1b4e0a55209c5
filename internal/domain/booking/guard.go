package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carebook/carebook/internal/platform/db"
	"github.com/carebook/carebook/pkg/apperror"
)

// TxRunner runs a unit of work atomically.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Invalidator drops cached slot listings of a provider.
type Invalidator interface {
	Invalidate(ctx context.Context, providerID uuid.UUID)
}

const windowAccepted = "ACCEPTED"

// GuardSettings tune the claim rules.
type GuardSettings struct {
	// CancelledFreesSlot lets a slot whose bookings are all CANCELLED be
	// claimed again.
	CancelledFreesSlot bool
	Now                func() time.Time
}

// Guard claims slots. It pre-checks the slot to fail fast and relies on the
// booking table's unique index and exclusion constraint for the final word;
// a constraint violation from a concurrent claimant surfaces as
// SlotAlreadyBookedError, never as a raw database error.
type Guard struct {
	repo     Repository
	tx       TxRunner
	cache    Invalidator
	settings GuardSettings
	log      zerolog.Logger
}

func NewGuard(repo Repository, tx TxRunner, cache Invalidator, settings GuardSettings, log zerolog.Logger) *Guard {
	if settings.Now == nil {
		settings.Now = time.Now
	}
	return &Guard{
		repo:     repo,
		tx:       tx,
		cache:    cache,
		settings: settings,
		log:      log.With().Str("component", "booking_guard").Logger(),
	}
}

// Claim books req.SlotID for the claimant.
func (g *Guard) Claim(ctx context.Context, req *ClaimRequest) (*Booking, error) {
	if err := validateClaim(req); err != nil {
		return nil, err
	}

	var b *Booking
	err := g.tx.InTx(ctx, func(ctx context.Context) error {
		slot, err := g.repo.LockSlot(ctx, req.SlotID)
		if err != nil {
			return err
		}
		if err := g.precheck(ctx, slot, req); err != nil {
			return err
		}
		b = newBooking(slot, req)
		if err := g.repo.Create(ctx, b); err != nil {
			return translate(req.SlotID, err)
		}
		return nil
	})
	if err != nil {
		g.logRejection(req.SlotID, err)
		return nil, err
	}

	if g.cache != nil {
		g.cache.Invalidate(ctx, b.ProviderID)
	}
	g.log.Info().
		Str("booking_id", b.ID.String()).
		Str("slot_id", b.SlotID.String()).
		Str("status", string(b.Status)).
		Msg("slot claimed")
	return b, nil
}

func validateClaim(req *ClaimRequest) error {
	v := apperror.NewValidation()
	if req.SlotID == uuid.Nil {
		v.Violationf("slot_id is required")
	}
	if req.UserID == "" && req.GuestEmail == "" && req.GuestPhone == "" {
		v.Violationf("a user, guest_email or guest_phone is required")
	}
	return v.OrNil()
}

func (g *Guard) precheck(ctx context.Context, slot *SlotSnapshot, req *ClaimRequest) error {
	if req.CanAct != nil && !req.CanAct(slot.ProviderID) {
		return apperror.NotFound("slot", slot.SlotID.String())
	}
	if slot.WindowStatus != windowAccepted {
		return ErrSlotUnavailable
	}
	if !slot.StartTime.After(g.settings.Now()) {
		return ErrSlotInPast
	}
	if req.IsOnline && !slot.OnlineAvailable {
		return apperror.NewValidation("this service is not offered online")
	}
	for _, st := range slot.Bookings {
		if st.Active() || !g.settings.CancelledFreesSlot {
			return &SlotAlreadyBookedError{SlotID: slot.SlotID, Reason: ReasonSlotTaken}
		}
	}
	overlap, err := g.repo.HasOverlap(ctx, slot.ProviderID, slot.StartTime, slot.EndTime)
	if err != nil {
		return err
	}
	if overlap {
		return &SlotAlreadyBookedError{SlotID: slot.SlotID, Reason: ReasonProviderOverlap}
	}
	return nil
}

func newBooking(slot *SlotSnapshot, req *ClaimRequest) *Booking {
	status := StatusConfirmed
	if slot.RequiresConfirmation {
		status = StatusPending
	}
	return &Booking{
		ID:              uuid.New(),
		SlotID:          slot.SlotID,
		ProviderID:      slot.ProviderID,
		ServiceID:       slot.ServiceID,
		StartTime:       slot.StartTime,
		EndTime:         slot.EndTime,
		Status:          status,
		UserID:          req.UserID,
		GuestName:       req.GuestName,
		GuestEmail:      req.GuestEmail,
		GuestPhone:      req.GuestPhone,
		Notes:           req.Notes,
		DurationMinutes: slot.DurationMinutes,
		Price:           slot.Price,
		Currency:        slot.Currency,
		IsOnline:        req.IsOnline,
		Timezone:        slot.Timezone,
	}
}

// translate maps constraint violations raised by a racing claimant.
func translate(slotID uuid.UUID, err error) error {
	switch {
	case db.IsUniqueViolation(err):
		return &SlotAlreadyBookedError{SlotID: slotID, Reason: ReasonSlotTaken, Constraint: db.ConstraintName(err)}
	case db.IsExclusionViolation(err):
		return &SlotAlreadyBookedError{SlotID: slotID, Reason: ReasonProviderOverlap, Constraint: db.ConstraintName(err)}
	case db.IsForeignKeyViolation(err):
		return ErrSlotUnavailable
	}
	return err
}

func (g *Guard) logRejection(slotID uuid.UUID, err error) {
	var booked *SlotAlreadyBookedError
	switch {
	case errors.As(err, &booked):
		ev := g.log.Info().Str("slot_id", slotID.String()).Str("reason", booked.Reason)
		if booked.Constraint != "" {
			ev = ev.Str("constraint", booked.Constraint)
		}
		ev.Msg("claim conflict")
	case apperror.IsValidation(err), apperror.IsNotFound(err),
		errors.Is(err, ErrSlotInPast), errors.Is(err, ErrSlotUnavailable):
		g.log.Debug().Err(err).Str("slot_id", slotID.String()).Msg("claim rejected")
	default:
		g.log.Error().Err(err).Str("slot_id", slotID.String()).Msg("claim failed")
	}
}
