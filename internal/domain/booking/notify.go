package booking

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/carebook/carebook/internal/platform/notification"
)

// Notifier is told about booking events after they commit.
type Notifier interface {
	Notify(ctx context.Context, event string, b *Booking)
}

const (
	EventCreated   = "booking-created"
	EventConfirmed = "booking-confirmed"
	EventCancelled = "booking-cancelled"
)

// Dispatcher sends booking messages through the notification manager: email
// when the booking carries an address, WhatsApp when it carries a phone.
type Dispatcher struct {
	manager *notification.Manager
	log     zerolog.Logger
}

func NewDispatcher(mgr *notification.Manager, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{manager: mgr, log: log}
}

func (d *Dispatcher) Notify(ctx context.Context, event string, b *Booking) {
	data := messageData(b)
	if b.GuestEmail != "" {
		d.send(ctx, event, notification.ChannelEmail, b.GuestEmail, data)
	}
	if b.GuestPhone != "" {
		d.send(ctx, event, notification.ChannelWhatsApp, b.GuestPhone, data)
	}
}

func (d *Dispatcher) send(ctx context.Context, event string, ch notification.Channel, to string, data map[string]string) {
	n, err := d.manager.SendTemplate(ctx, event, ch, to, data)
	if err != nil {
		ev := d.log.Warn().Err(err).Str("booking_id", data["booking_id"]).Str("channel", string(ch))
		if n != nil {
			ev = ev.Str("notification_id", n.ID)
		}
		ev.Msg("booking notification not delivered")
	}
}

func messageData(b *Booking) map[string]string {
	name := b.GuestName
	if name == "" {
		name = "there"
	}
	// Times read in the provider's zone; an unknown zone falls back to UTC.
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		loc = time.UTC
	}
	start := b.StartTime.In(loc)
	return map[string]string{
		"name":       name,
		"date":       start.Format("2006-01-02"),
		"time":       start.Format("15:04 MST"),
		"status":     string(b.Status),
		"booking_id": b.ID.String(),
		"reason":     b.CancelReason,
	}
}
