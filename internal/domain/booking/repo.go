package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	// LockSlot reads the slot, its window and service terms, locking the
	// slot and window rows FOR SHARE so a concurrent availability change
	// waits for the claim to finish.
	LockSlot(ctx context.Context, slotID uuid.UUID) (*SlotSnapshot, error)
	// HasOverlap reports an active booking of the provider intersecting
	// [start, end).
	HasOverlap(ctx context.Context, providerID uuid.UUID, start, end time.Time) (bool, error)
	Create(ctx context.Context, b *Booking) error
	GetByID(ctx context.Context, id uuid.UUID) (*Booking, error)
	LockByID(ctx context.Context, id uuid.UUID) (*Booking, error)
	UpdateStatus(ctx context.Context, b *Booking) error
	List(ctx context.Context, f ListFilter) ([]*Booking, int, error)
}
