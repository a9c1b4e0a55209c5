package booking

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrSlotInPast = errors.New("slot has already started")
	// ErrSlotUnavailable covers slots whose window is not accepted or that
	// were removed while the claim was in flight.
	ErrSlotUnavailable   = errors.New("slot is not open for booking")
	ErrInvalidTransition = errors.New("invalid booking status transition")
)

const (
	ReasonSlotTaken       = "slot already booked"
	ReasonProviderOverlap = "provider already has a booking at this time"
)

// SlotAlreadyBookedError is returned when a claim loses to another booking,
// whether caught by the pre-check or by the database constraint.
type SlotAlreadyBookedError struct {
	SlotID uuid.UUID
	Reason string
	// Constraint is the database constraint that rejected the claim, if any.
	Constraint string
}

func (e *SlotAlreadyBookedError) Error() string {
	return fmt.Sprintf("this time is no longer available, please pick another slot (%s)", e.Reason)
}

func IsSlotAlreadyBooked(err error) bool {
	var e *SlotAlreadyBookedError
	return errors.As(err, &e)
}
