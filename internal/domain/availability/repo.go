package availability

import (
	"context"

	"github.com/google/uuid"

	"github.com/carebook/carebook/internal/domain/slotgen"
)

type WindowRepository interface {
	Create(ctx context.Context, w *Window) error
	GetByID(ctx context.Context, id uuid.UUID) (*Window, error)
	// LockByID reads the window with FOR UPDATE; it must run inside a transaction.
	LockByID(ctx context.Context, id uuid.UUID) (*Window, error)
	// LockBySeries locks every window of a series, ordered by id.
	LockBySeries(ctx context.Context, seriesID uuid.UUID) ([]*Window, error)
	// Update persists w if its stored version still equals w.Version, then
	// increments w.Version. A mismatch returns ErrVersionConflict.
	Update(ctx context.Context, w *Window) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByProvider(ctx context.Context, providerID uuid.UUID, limit, offset int) ([]*Window, int, error)
	ListByConfig(ctx context.Context, configID uuid.UUID) ([]*Window, error)
	SetServices(ctx context.Context, windowID uuid.UUID, configIDs []uuid.UUID) error
	ListServices(ctx context.Context, windowID uuid.UUID) ([]*ServiceConfig, error)
}

type ConfigRepository interface {
	GetByServiceProvider(ctx context.Context, serviceID, providerID uuid.UUID) (*ServiceConfig, error)
	// Upsert inserts or updates by (service_id, provider_id) and fills c.ID.
	Upsert(ctx context.Context, c *ServiceConfig) error
	// HasBookedSlots reports whether any slot of the config's service and
	// provider is referenced by a booking.
	HasBookedSlots(ctx context.Context, serviceID, providerID uuid.UUID) (bool, error)
}

type SlotRepository interface {
	// ListWithBookings returns every slot of a window with its booking linkage.
	ListWithBookings(ctx context.Context, availabilityID uuid.UUID) ([]*Slot, error)
	InsertBatch(ctx context.Context, w *Window, slots []slotgen.Slot) (int, error)
	// DeleteUnbooked deletes the given slots that have no booking and returns
	// how many went.
	DeleteUnbooked(ctx context.Context, ids []uuid.UUID) (int, error)
	SearchAvailable(ctx context.Context, q SlotQuery) ([]*Slot, int, error)
}
