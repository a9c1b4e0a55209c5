package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carebook/carebook/internal/platform/db"
	"github.com/carebook/carebook/pkg/apperror"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const bookingCols = `id, slot_id, provider_id, service_id, start_time, end_time, status,
	COALESCE(user_id, ''), COALESCE(guest_name, ''), COALESCE(guest_email, ''),
	COALESCE(guest_phone, ''), COALESCE(notes, ''), duration_minutes, price, currency,
	is_online, COALESCE(cancel_reason, ''), cancelled_at, created_at, updated_at,
	COALESCE((SELECT a.timezone FROM slot s JOIN availability a ON a.id = s.availability_id
		WHERE s.id = booking.slot_id), 'UTC')`

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	err := row.Scan(&b.ID, &b.SlotID, &b.ProviderID, &b.ServiceID, &b.StartTime, &b.EndTime, &b.Status,
		&b.UserID, &b.GuestName, &b.GuestEmail, &b.GuestPhone, &b.Notes, &b.DurationMinutes,
		&b.Price, &b.Currency, &b.IsOnline, &b.CancelReason, &b.CancelledAt, &b.CreatedAt, &b.UpdatedAt,
		&b.Timezone)
	if err != nil {
		return nil, err
	}
	b.StartTime, b.EndTime = b.StartTime.UTC(), b.EndTime.UTC()
	return &b, nil
}

func (r *repoPG) LockSlot(ctx context.Context, slotID uuid.UUID) (*SlotSnapshot, error) {
	var s SlotSnapshot
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT s.id, s.availability_id, s.provider_id, s.service_id, s.start_time, s.end_time,
			a.status, a.timezone, a.requires_confirmation,
			c.duration_minutes, c.price, c.currency, (c.is_online_available OR a.is_online_available)
		FROM slot s
		JOIN availability a ON a.id = s.availability_id
		JOIN service_config c ON c.service_id = s.service_id AND c.provider_id = s.provider_id
		WHERE s.id = $1
		FOR SHARE OF s, a`, slotID,
	).Scan(&s.SlotID, &s.AvailabilityID, &s.ProviderID, &s.ServiceID, &s.StartTime, &s.EndTime,
		&s.WindowStatus, &s.Timezone, &s.RequiresConfirmation,
		&s.DurationMinutes, &s.Price, &s.Currency, &s.OnlineAvailable)
	if db.IsNoRows(err) {
		return nil, apperror.NotFound("slot", slotID.String())
	}
	if err != nil {
		return nil, err
	}
	s.StartTime, s.EndTime = s.StartTime.UTC(), s.EndTime.UTC()

	rows, err := r.conn(ctx).Query(ctx, `SELECT status FROM booking WHERE slot_id = $1`, slotID)
	if err != nil {
		return nil, err
	}
	s.Bookings, err = pgx.CollectRows(rows, pgx.RowTo[Status])
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *repoPG) HasOverlap(ctx context.Context, providerID uuid.UUID, start, end time.Time) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM booking
			WHERE provider_id = $1 AND status <> 'CANCELLED'
			  AND tstzrange(start_time, end_time, '[)') && tstzrange($2, $3, '[)'))`,
		providerID, start, end).Scan(&exists)
	return exists, err
}

func (r *repoPG) Create(ctx context.Context, b *Booking) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO booking (id, slot_id, provider_id, service_id, start_time, end_time, status,
			user_id, guest_name, guest_email, guest_phone, notes,
			duration_minutes, price, currency, is_online)
		VALUES ($1,$2,$3,$4,$5,$6,$7,
			NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), NULLIF($11, ''), NULLIF($12, ''),
			$13,$14,$15,$16)
		RETURNING created_at, updated_at`,
		b.ID, b.SlotID, b.ProviderID, b.ServiceID, b.StartTime, b.EndTime, b.Status,
		b.UserID, b.GuestName, b.GuestEmail, b.GuestPhone, b.Notes,
		b.DurationMinutes, b.Price, b.Currency, b.IsOnline,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
}

func (r *repoPG) get(ctx context.Context, query string, id uuid.UUID) (*Booking, error) {
	b, err := scanBooking(r.conn(ctx).QueryRow(ctx, query, id))
	if db.IsNoRows(err) {
		return nil, apperror.NotFound("booking", id.String())
	}
	return b, err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return r.get(ctx, `SELECT `+bookingCols+` FROM booking WHERE id = $1`, id)
}

func (r *repoPG) LockByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return r.get(ctx, `SELECT `+bookingCols+` FROM booking WHERE id = $1 FOR UPDATE`, id)
}

func (r *repoPG) UpdateStatus(ctx context.Context, b *Booking) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE booking SET status = $2, cancel_reason = NULLIF($3, ''), cancelled_at = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		b.ID, b.Status, b.CancelReason, b.CancelledAt,
	).Scan(&b.UpdatedAt)
	if db.IsNoRows(err) {
		return apperror.NotFound("booking", b.ID.String())
	}
	return err
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (r *repoPG) List(ctx context.Context, f ListFilter) ([]*Booking, int, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+bookingCols+`, COUNT(*) OVER ()
		FROM booking
		WHERE ($1::uuid IS NULL OR provider_id = $1)
		  AND ($2 = '' OR user_id = $2)
		  AND ($3 = '' OR status = $3)
		  AND ($4::timestamptz IS NULL OR start_time >= $4)
		  AND ($5::timestamptz IS NULL OR start_time < $5)
		ORDER BY start_time
		LIMIT $6 OFFSET $7`,
		f.ProviderID, f.UserID, string(f.Status), nullTime(f.From), nullTime(f.To), f.Limit, f.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var (
		items []*Booking
		total int
	)
	for rows.Next() {
		var b Booking
		if err := rows.Scan(&b.ID, &b.SlotID, &b.ProviderID, &b.ServiceID, &b.StartTime, &b.EndTime, &b.Status,
			&b.UserID, &b.GuestName, &b.GuestEmail, &b.GuestPhone, &b.Notes, &b.DurationMinutes,
			&b.Price, &b.Currency, &b.IsOnline, &b.CancelReason, &b.CancelledAt, &b.CreatedAt, &b.UpdatedAt,
			&b.Timezone, &total); err != nil {
			return nil, 0, err
		}
		b.StartTime, b.EndTime = b.StartTime.UTC(), b.EndTime.UTC()
		items = append(items, &b)
	}
	return items, total, rows.Err()
}
