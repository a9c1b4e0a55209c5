// Package export renders a provider's schedule for outside tools: an
// iCalendar feed of open slots and bookings, and an XLSX booking roster.
package export

import (
	"bytes"
	"context"
	"fmt"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"github.com/carebook/carebook/internal/domain/availability"
	"github.com/carebook/carebook/internal/domain/booking"
)

// SlotSource lists bookable slots.
type SlotSource interface {
	Slots(ctx context.Context, q availability.SlotQuery) ([]*availability.Slot, int, error)
}

// BookingSource lists bookings.
type BookingSource interface {
	List(ctx context.Context, f booking.ListFilter) ([]*booking.Booking, int, error)
}

const pageSize = 100

type Exporter struct {
	slots    SlotSource
	bookings BookingSource
	now      func() time.Time
	log      zerolog.Logger
}

func NewExporter(slots SlotSource, bookings BookingSource, log zerolog.Logger) *Exporter {
	return &Exporter{slots: slots, bookings: bookings, now: time.Now, log: log}
}

func (e *Exporter) allSlots(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]*availability.Slot, error) {
	var out []*availability.Slot
	for {
		page, total, err := e.slots.Slots(ctx, availability.SlotQuery{
			ProviderID: &providerID, From: from, To: to, Limit: pageSize, Offset: len(out),
		})
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) == 0 || len(out) >= total {
			return out, nil
		}
	}
}

func (e *Exporter) allBookings(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]*booking.Booking, error) {
	var out []*booking.Booking
	for {
		page, total, err := e.bookings.List(ctx, booking.ListFilter{
			ProviderID: &providerID, From: from, To: to, Limit: pageSize, Offset: len(out),
		})
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) == 0 || len(out) >= total {
			return out, nil
		}
	}
}

// Calendar renders open slots and active bookings in [from, to) as an
// iCalendar document.
func (e *Exporter) Calendar(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]byte, error) {
	slots, err := e.allSlots(ctx, providerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	bookings, err := e.allBookings(ctx, providerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}

	stamp := e.now().UTC()
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId("-//carebook//schedule//EN")
	cal.SetXWRCalName("Schedule " + providerID.String())

	for _, s := range slots {
		ev := cal.AddEvent(s.ID.String() + "@slot.carebook")
		ev.SetDtStampTime(stamp)
		ev.SetStartAt(s.StartTime)
		ev.SetEndAt(s.EndTime)
		ev.SetSummary("Open slot")
		ev.SetDescription("service " + s.ServiceID.String())
		ev.SetStatus(ics.ObjectStatusTentative)
	}
	for _, b := range bookings {
		if !b.Status.Active() {
			continue
		}
		ev := cal.AddEvent(b.ID.String() + "@booking.carebook")
		ev.SetDtStampTime(stamp)
		ev.SetStartAt(b.StartTime)
		ev.SetEndAt(b.EndTime)
		ev.SetSummary("Booked: " + claimantName(b))
		ev.SetDescription(fmt.Sprintf("status %s, service %s", b.Status, b.ServiceID))
		if b.Status == booking.StatusPending {
			ev.SetStatus(ics.ObjectStatusTentative)
		} else {
			ev.SetStatus(ics.ObjectStatusConfirmed)
		}
	}
	return []byte(cal.Serialize()), nil
}

func claimantName(b *booking.Booking) string {
	switch {
	case b.GuestName != "":
		return b.GuestName
	case b.GuestEmail != "":
		return b.GuestEmail
	case b.GuestPhone != "":
		return b.GuestPhone
	}
	return b.UserID
}

var rosterHeader = []string{"Start (UTC)", "End (UTC)", "Status", "Patient", "Email", "Phone",
	"Service", "Minutes", "Price", "Currency", "Online", "Notes"}

const rosterSheet = "Bookings"

// Roster renders every booking in [from, to) as an XLSX workbook and
// suggests a file name.
func (e *Exporter) Roster(ctx context.Context, providerID uuid.UUID, from, to time.Time) (*bytes.Buffer, string, error) {
	bookings, err := e.allBookings(ctx, providerID, from, to)
	if err != nil {
		return nil, "", fmt.Errorf("list bookings: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	idx, err := f.NewSheet(rosterSheet)
	if err != nil {
		return nil, "", err
	}
	f.SetActiveSheet(idx)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, "", err
	}

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#D9E1F2"}, Pattern: 1},
	})
	for i, h := range rosterHeader {
		f.SetCellValue(rosterSheet, cell(i, 1), h)
	}
	f.SetCellStyle(rosterSheet, cell(0, 1), cell(len(rosterHeader)-1, 1), headerStyle)
	f.SetColWidth(rosterSheet, "A", "B", 18)
	f.SetColWidth(rosterSheet, "D", "G", 24)

	for r, b := range bookings {
		row := r + 2
		values := []interface{}{
			b.StartTime.UTC().Format("2006-01-02 15:04"),
			b.EndTime.UTC().Format("2006-01-02 15:04"),
			string(b.Status),
			claimantName(b),
			b.GuestEmail,
			b.GuestPhone,
			b.ServiceID.String(),
			b.DurationMinutes,
			b.Price.InexactFloat64(),
			b.Currency,
			b.IsOnline,
			b.Notes,
		}
		for c, v := range values {
			f.SetCellValue(rosterSheet, cell(c, row), v)
		}
	}

	buf := new(bytes.Buffer)
	if err := f.Write(buf); err != nil {
		e.log.Error().Err(err).Str("provider_id", providerID.String()).Msg("write roster failed")
		return nil, "", fmt.Errorf("write roster: %w", err)
	}
	name := fmt.Sprintf("bookings_%s_%s.xlsx", providerID.String()[:8], from.UTC().Format("20060102"))
	return buf, name, nil
}

func cell(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col+1, row)
	return name
}
