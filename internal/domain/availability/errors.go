package availability

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrVersionConflict means the window changed since the caller read it.
	ErrVersionConflict = errors.New("availability was modified by another request")
	// ErrConcurrentBooking means a slot planned for deletion was booked
	// between planning and the delete.
	ErrConcurrentBooking = errors.New("a slot was booked while the availability was being changed")
	// ErrConcurrentChange means the database aborted the change because a
	// concurrent edit held the same rows. Retrying is safe.
	ErrConcurrentChange = errors.New("availability is being changed by another request, please retry")
)

// HasActiveBookingsError rejects a delete while slots are still booked.
type HasActiveBookingsError struct {
	AvailabilityID uuid.UUID
	// Statuses counts bookings by status.
	Statuses map[string]int
}

func (e *HasActiveBookingsError) Error() string {
	keys := make([]string, 0, len(e.Statuses))
	for k := range e.Statuses {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%d %s", e.Statuses[k], k)
	}
	return fmt.Sprintf("availability %s has bookings (%s); cancel them first", e.AvailabilityID, strings.Join(parts, ", "))
}

// ExcludedSlot is a booked slot the proposed definition no longer covers.
type ExcludedSlot struct {
	SlotID    uuid.UUID `json:"slot_id"`
	ServiceID uuid.UUID `json:"service_id"`
	Start     time.Time `json:"start_time"`
	End       time.Time `json:"end_time"`
}

// WouldExcludeBookingError rejects an update that would leave booked slots
// outside every occurrence.
type WouldExcludeBookingError struct {
	Slots []ExcludedSlot
}

func (e *WouldExcludeBookingError) Error() string {
	if len(e.Slots) == 0 {
		return "new range must cover every booked slot"
	}
	first := e.Slots[0]
	msg := fmt.Sprintf("new range must cover booking at %s-%s",
		first.Start.Format(time.RFC3339), first.End.Format(time.RFC3339))
	if n := len(e.Slots) - 1; n > 0 {
		msg += fmt.Sprintf(" and %d more", n)
	}
	return msg
}

// WouldRemoveBookedServiceError rejects an update dropping a service that
// has booked slots in the window.
type WouldRemoveBookedServiceError struct {
	ServiceIDs []uuid.UUID
}

func (e *WouldRemoveBookedServiceError) Error() string {
	ids := make([]string, len(e.ServiceIDs))
	for i, id := range e.ServiceIDs {
		ids[i] = id.String()
	}
	return fmt.Sprintf("services with bookings cannot be removed: %s", strings.Join(ids, ", "))
}

// ConfigInUseError rejects a duration change on a service config that backs
// booked slots.
type ConfigInUseError struct {
	ServiceID  uuid.UUID
	ProviderID uuid.UUID
	Current    int
	Requested  int
}

func (e *ConfigInUseError) Error() string {
	return fmt.Sprintf("service %s has booked slots; duration cannot change from %d to %d minutes",
		e.ServiceID, e.Current, e.Requested)
}

// IsBookingProtection reports whether err is one of the rejections that
// protect existing bookings.
func IsBookingProtection(err error) bool {
	var (
		active  *HasActiveBookingsError
		exclude *WouldExcludeBookingError
		remove  *WouldRemoveBookedServiceError
		inUse   *ConfigInUseError
	)
	return errors.As(err, &active) || errors.As(err, &exclude) ||
		errors.As(err, &remove) || errors.As(err, &inUse) ||
		errors.Is(err, ErrConcurrentBooking)
}
