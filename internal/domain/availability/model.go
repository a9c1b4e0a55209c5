package availability

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/carebook/carebook/internal/domain/recurrence"
	"github.com/carebook/carebook/internal/domain/slotgen"
)

// Status is the lifecycle state of an availability window.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusAccepted  Status = "ACCEPTED"
	StatusCancelled Status = "CANCELLED"
	StatusRejected  Status = "REJECTED"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusRejected
}

var statusTransitions = map[Status][]Status{
	StatusPending:  {StatusAccepted, StatusRejected, StatusCancelled},
	StatusAccepted: {StatusCancelled},
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to Status) bool {
	for _, s := range statusTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Window maps to the availability table. StartTime/EndTime are the first
// occurrence's bounds in UTC; Timezone is the provider's IANA zone used to
// expand the pattern.
type Window struct {
	ID                   uuid.UUID           `json:"id"`
	ProviderID           uuid.UUID           `json:"provider_id"`
	SeriesID             *uuid.UUID          `json:"series_id,omitempty"`
	StartTime            time.Time           `json:"start_time"`
	EndTime              time.Time           `json:"end_time"`
	Timezone             string              `json:"timezone"`
	IsRecurring          bool                `json:"is_recurring"`
	Pattern              *recurrence.Pattern `json:"recurrence_pattern,omitempty"`
	Status               Status              `json:"status"`
	SchedulingRule       slotgen.Rule        `json:"scheduling_rule"`
	IsOnlineAvailable    bool                `json:"is_online_available"`
	LocationID           *uuid.UUID          `json:"location_id,omitempty"`
	RequiresConfirmation bool                `json:"requires_confirmation"`
	Version              int                 `json:"version"`
	CreatedBy            string              `json:"created_by,omitempty"`
	CreatedAt            time.Time           `json:"created_at"`
	UpdatedAt            time.Time           `json:"updated_at"`

	Services []*ServiceConfig `json:"services,omitempty"`
}

// Location resolves the window's timezone.
func (w *Window) Location() (*time.Location, error) {
	if w.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q", w.Timezone)
	}
	return loc, nil
}

// ETag is the value clients echo back in If-Match.
func (w *Window) ETag() string { return fmt.Sprintf(`W/"%d"`, w.Version) }

// ServiceConfig maps to service_config: one per (service, provider), shared
// by every window of that provider offering the service.
type ServiceConfig struct {
	ID                uuid.UUID       `json:"id"`
	ServiceID         uuid.UUID       `json:"service_id"`
	ProviderID        uuid.UUID       `json:"provider_id"`
	DurationMinutes   int             `json:"duration_minutes"`
	Price             decimal.Decimal `json:"price"`
	Currency          string          `json:"currency"`
	IsOnlineAvailable bool            `json:"is_online_available"`
	IsInPerson        bool            `json:"is_in_person"`
	LocationID        *uuid.UUID      `json:"location_id,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func (c *ServiceConfig) Duration() time.Duration {
	return time.Duration(c.DurationMinutes) * time.Minute
}

// Slot is a calculated availability slot. Booking is set when any booking,
// whatever its status, references the slot.
type Slot struct {
	ID             uuid.UUID   `json:"id"`
	AvailabilityID uuid.UUID   `json:"availability_id"`
	ProviderID     uuid.UUID   `json:"provider_id"`
	ServiceID      uuid.UUID   `json:"service_id"`
	StartTime      time.Time   `json:"start_time"`
	EndTime        time.Time   `json:"end_time"`
	Booking        *BookingRef `json:"booking,omitempty"`
}

// BookingRef is the booking linkage of a slot.
type BookingRef struct {
	ID     uuid.UUID `json:"id"`
	Status string    `json:"status"`
}

func (s *Slot) IsBooked() bool { return s.Booking != nil }

// Interval returns the slot's time range.
func (s *Slot) Interval() slotgen.Interval {
	return slotgen.Interval{Start: s.StartTime, End: s.EndTime}
}

// ServiceInput is one requested offering of a window.
type ServiceInput struct {
	ServiceID         uuid.UUID       `json:"service_id"`
	DurationMinutes   int             `json:"duration_minutes"`
	Price             decimal.Decimal `json:"price"`
	Currency          string          `json:"currency,omitempty"`
	IsOnlineAvailable bool            `json:"is_online_available"`
	IsInPerson        *bool           `json:"is_in_person,omitempty"`
	LocationID        *uuid.UUID      `json:"location_id,omitempty"`
}

// WindowInput is the body of create and update requests.
type WindowInput struct {
	StartTime            time.Time           `json:"start_time"`
	EndTime              time.Time           `json:"end_time"`
	Timezone             string              `json:"timezone,omitempty"`
	Pattern              *recurrence.Pattern `json:"recurrence_pattern,omitempty"`
	SeriesID             *uuid.UUID          `json:"series_id,omitempty"`
	SchedulingRule       slotgen.Rule        `json:"scheduling_rule,omitempty"`
	IsOnlineAvailable    bool                `json:"is_online_available"`
	LocationID           *uuid.UUID          `json:"location_id,omitempty"`
	RequiresConfirmation bool                `json:"requires_confirmation"`
	Services             []ServiceInput      `json:"services"`
}

// SlotQuery filters bookable slots.
type SlotQuery struct {
	ProviderID *uuid.UUID
	ServiceID  *uuid.UUID
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int
}

// Actor identifies who is performing a mutation.
type Actor struct {
	UserID string
	// Delegated is set when an organization role acts for the provider;
	// windows it creates start PENDING.
	Delegated bool
}
