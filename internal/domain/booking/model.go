package booking

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusCompleted Status = "COMPLETED"
	StatusNoShow    Status = "NO_SHOW"
	StatusCancelled Status = "CANCELLED"
)

// Active reports whether the booking still holds its slot.
func (s Status) Active() bool { return s != StatusCancelled }

var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusNoShow, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Booking maps to the booking table. Duration, price, currency and the
// online flag are copied from the service config at claim time.
type Booking struct {
	ID              uuid.UUID       `json:"id"`
	SlotID          uuid.UUID       `json:"slot_id"`
	ProviderID      uuid.UUID       `json:"provider_id"`
	ServiceID       uuid.UUID       `json:"service_id"`
	StartTime       time.Time       `json:"start_time"`
	EndTime         time.Time       `json:"end_time"`
	Status          Status          `json:"status"`
	UserID          string          `json:"user_id,omitempty"`
	GuestName       string          `json:"guest_name,omitempty"`
	GuestEmail      string          `json:"guest_email,omitempty"`
	GuestPhone      string          `json:"guest_phone,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	DurationMinutes int             `json:"duration_minutes"`
	Price           decimal.Decimal `json:"price"`
	Currency        string          `json:"currency"`
	IsOnline        bool            `json:"is_online"`
	CancelReason    string          `json:"cancel_reason,omitempty"`
	CancelledAt     *time.Time      `json:"cancelled_at,omitempty"`
	// Timezone is the IANA zone of the availability the slot belongs to.
	Timezone        string          `json:"timezone"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// ClaimRequest asks for one slot. At least one of UserID, GuestEmail or
// GuestPhone identifies the claimant.
type ClaimRequest struct {
	SlotID     uuid.UUID `json:"slot_id"`
	UserID     string    `json:"-"`
	GuestName  string    `json:"guest_name,omitempty"`
	GuestEmail string    `json:"guest_email,omitempty"`
	GuestPhone string    `json:"guest_phone,omitempty"`
	Notes      string    `json:"notes,omitempty"`
	IsOnline   bool      `json:"is_online"`
	// CanAct, when set, limits the claim to slots of providers it accepts.
	CanAct func(providerID uuid.UUID) bool `json:"-"`
}

// SlotSnapshot is a slot as seen by the guard: its window's state, the
// service terms to copy onto the booking and the statuses of bookings
// already referencing it.
type SlotSnapshot struct {
	SlotID               uuid.UUID
	AvailabilityID       uuid.UUID
	ProviderID           uuid.UUID
	ServiceID            uuid.UUID
	StartTime            time.Time
	EndTime              time.Time
	WindowStatus         string
	Timezone             string
	RequiresConfirmation bool
	DurationMinutes      int
	Price                decimal.Decimal
	Currency             string
	OnlineAvailable      bool
	Bookings             []Status
}

// ListFilter selects bookings. Zero values do not filter.
type ListFilter struct {
	ProviderID *uuid.UUID
	UserID     string
	Status     Status
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int
}
