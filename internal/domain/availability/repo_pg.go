package availability

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carebook/carebook/internal/domain/slotgen"
	"github.com/carebook/carebook/internal/platform/db"
	"github.com/carebook/carebook/pkg/apperror"
)

// =========== Window Repository ===========

type windowRepoPG struct{ pool *pgxpool.Pool }

func NewWindowRepoPG(pool *pgxpool.Pool) WindowRepository { return &windowRepoPG{pool: pool} }

func (r *windowRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const windowCols = `id, provider_id, series_id, start_time, end_time, timezone, is_recurring,
	recurrence_pattern, status, scheduling_rule, is_online_available, location_id,
	requires_confirmation, version, COALESCE(created_by, ''), created_at, updated_at`

func scanWindow(row pgx.Row) (*Window, error) {
	var w Window
	var pattern []byte
	err := row.Scan(&w.ID, &w.ProviderID, &w.SeriesID, &w.StartTime, &w.EndTime, &w.Timezone,
		&w.IsRecurring, &pattern, &w.Status, &w.SchedulingRule, &w.IsOnlineAvailable,
		&w.LocationID, &w.RequiresConfirmation, &w.Version, &w.CreatedBy, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(pattern) > 0 {
		if err := json.Unmarshal(pattern, &w.Pattern); err != nil {
			return nil, fmt.Errorf("decode recurrence pattern of %s: %w", w.ID, err)
		}
	}
	w.StartTime, w.EndTime = w.StartTime.UTC(), w.EndTime.UTC()
	return &w, nil
}

func encodePattern(w *Window) ([]byte, error) {
	if w.Pattern == nil {
		return nil, nil
	}
	return json.Marshal(w.Pattern)
}

func (r *windowRepoPG) getOne(ctx context.Context, query string, id uuid.UUID) (*Window, error) {
	w, err := scanWindow(r.conn(ctx).QueryRow(ctx, query, id))
	if db.IsNoRows(err) {
		return nil, apperror.NotFound("availability", id.String())
	}
	return w, err
}

func (r *windowRepoPG) Create(ctx context.Context, w *Window) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	pattern, err := encodePattern(w)
	if err != nil {
		return err
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO availability (id, provider_id, series_id, start_time, end_time, timezone,
			is_recurring, recurrence_pattern, status, scheduling_rule, is_online_available,
			location_id, requires_confirmation, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,NULLIF($14, ''))
		RETURNING version, created_at, updated_at`,
		w.ID, w.ProviderID, w.SeriesID, w.StartTime, w.EndTime, w.Timezone,
		w.IsRecurring, pattern, w.Status, w.SchedulingRule, w.IsOnlineAvailable,
		w.LocationID, w.RequiresConfirmation, w.CreatedBy,
	).Scan(&w.Version, &w.CreatedAt, &w.UpdatedAt)
}

func (r *windowRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Window, error) {
	return r.getOne(ctx, `SELECT `+windowCols+` FROM availability WHERE id = $1`, id)
}

func (r *windowRepoPG) LockByID(ctx context.Context, id uuid.UUID) (*Window, error) {
	return r.getOne(ctx, `SELECT `+windowCols+` FROM availability WHERE id = $1 FOR UPDATE`, id)
}

func (r *windowRepoPG) LockBySeries(ctx context.Context, seriesID uuid.UUID) ([]*Window, error) {
	return r.list(ctx, `SELECT `+windowCols+` FROM availability WHERE series_id = $1 ORDER BY id FOR UPDATE`, seriesID)
}

func (r *windowRepoPG) ListByConfig(ctx context.Context, configID uuid.UUID) ([]*Window, error) {
	return r.list(ctx, `
		SELECT `+windowCols+` FROM availability
		WHERE id IN (SELECT availability_id FROM availability_service WHERE config_id = $1)
		ORDER BY id FOR UPDATE`, configID)
}

func (r *windowRepoPG) list(ctx context.Context, query string, args ...any) ([]*Window, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Window
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, w)
	}
	return items, rows.Err()
}

func (r *windowRepoPG) Update(ctx context.Context, w *Window) error {
	pattern, err := encodePattern(w)
	if err != nil {
		return err
	}
	err = r.conn(ctx).QueryRow(ctx, `
		UPDATE availability SET series_id=$3, start_time=$4, end_time=$5, timezone=$6,
			is_recurring=$7, recurrence_pattern=$8, status=$9, scheduling_rule=$10,
			is_online_available=$11, location_id=$12, requires_confirmation=$13,
			version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at`,
		w.ID, w.Version, w.SeriesID, w.StartTime, w.EndTime, w.Timezone,
		w.IsRecurring, pattern, w.Status, w.SchedulingRule,
		w.IsOnlineAvailable, w.LocationID, w.RequiresConfirmation,
	).Scan(&w.Version, &w.UpdatedAt)
	if db.IsNoRows(err) {
		return ErrVersionConflict
	}
	return err
}

func (r *windowRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM availability WHERE id = $1`, id)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return ErrConcurrentBooking
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("availability", id.String())
	}
	return nil
}

func (r *windowRepoPG) ListByProvider(ctx context.Context, providerID uuid.UUID, limit, offset int) ([]*Window, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM availability WHERE provider_id = $1`, providerID).Scan(&total); err != nil {
		return nil, 0, err
	}
	items, err := r.list(ctx, `SELECT `+windowCols+` FROM availability WHERE provider_id = $1
		ORDER BY start_time DESC LIMIT $2 OFFSET $3`, providerID, limit, offset)
	return items, total, err
}

func (r *windowRepoPG) SetServices(ctx context.Context, windowID uuid.UUID, configIDs []uuid.UUID) error {
	if _, err := r.conn(ctx).Exec(ctx, `DELETE FROM availability_service WHERE availability_id = $1`, windowID); err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for i, id := range configIDs {
		batch.Queue(`INSERT INTO availability_service (availability_id, config_id, position) VALUES ($1, $2, $3)`, windowID, id, i)
	}
	return r.conn(ctx).SendBatch(ctx, batch).Close()
}

func (r *windowRepoPG) ListServices(ctx context.Context, windowID uuid.UUID) ([]*ServiceConfig, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+configColsPrefixed+`
		FROM service_config c JOIN availability_service s ON s.config_id = c.id
		WHERE s.availability_id = $1 ORDER BY s.position`, windowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*ServiceConfig
	for rows.Next() {
		c, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

// =========== Service Config Repository ===========

type configRepoPG struct{ pool *pgxpool.Pool }

func NewConfigRepoPG(pool *pgxpool.Pool) ConfigRepository { return &configRepoPG{pool: pool} }

func (r *configRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const configColsPrefixed = `c.id, c.service_id, c.provider_id, c.duration_minutes, c.price, c.currency,
	c.is_online_available, c.is_in_person, c.location_id, c.created_at, c.updated_at`

func scanConfig(row pgx.Row) (*ServiceConfig, error) {
	var c ServiceConfig
	err := row.Scan(&c.ID, &c.ServiceID, &c.ProviderID, &c.DurationMinutes, &c.Price, &c.Currency,
		&c.IsOnlineAvailable, &c.IsInPerson, &c.LocationID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *configRepoPG) GetByServiceProvider(ctx context.Context, serviceID, providerID uuid.UUID) (*ServiceConfig, error) {
	c, err := scanConfig(r.conn(ctx).QueryRow(ctx, `SELECT `+configColsPrefixed+`
		FROM service_config c WHERE c.service_id = $1 AND c.provider_id = $2 FOR UPDATE`, serviceID, providerID))
	if db.IsNoRows(err) {
		return nil, apperror.NotFound("service config", serviceID.String())
	}
	return c, err
}

func (r *configRepoPG) Upsert(ctx context.Context, c *ServiceConfig) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO service_config (id, service_id, provider_id, duration_minutes, price, currency,
			is_online_available, is_in_person, location_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (service_id, provider_id) DO UPDATE SET
			duration_minutes = EXCLUDED.duration_minutes, price = EXCLUDED.price,
			currency = EXCLUDED.currency, is_online_available = EXCLUDED.is_online_available,
			is_in_person = EXCLUDED.is_in_person, location_id = EXCLUDED.location_id,
			updated_at = NOW()
		RETURNING id, created_at, updated_at`,
		c.ID, c.ServiceID, c.ProviderID, c.DurationMinutes, c.Price, c.Currency,
		c.IsOnlineAvailable, c.IsInPerson, c.LocationID,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
}

func (r *configRepoPG) HasBookedSlots(ctx context.Context, serviceID, providerID uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM booking b JOIN slot s ON s.id = b.slot_id
			WHERE s.service_id = $1 AND s.provider_id = $2)`, serviceID, providerID).Scan(&exists)
	return exists, err
}

// =========== Slot Repository ===========

type slotRepoPG struct {
	pool               *pgxpool.Pool
	cancelledFreesSlot bool
}

// NewSlotRepoPG builds the slot repository. cancelledFreesSlot decides
// whether a slot whose only bookings are CANCELLED is listed as bookable.
func NewSlotRepoPG(pool *pgxpool.Pool, cancelledFreesSlot bool) SlotRepository {
	return &slotRepoPG{pool: pool, cancelledFreesSlot: cancelledFreesSlot}
}

func (r *slotRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

func (r *slotRepoPG) ListWithBookings(ctx context.Context, availabilityID uuid.UUID) ([]*Slot, error) {
	// DISTINCT ON keeps one booking per slot, preferring a non-cancelled one.
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT DISTINCT ON (s.start_time, s.service_id, s.id)
			s.id, s.availability_id, s.provider_id, s.service_id, s.start_time, s.end_time,
			b.id, b.status
		FROM slot s LEFT JOIN booking b ON b.slot_id = s.id
		WHERE s.availability_id = $1
		ORDER BY s.start_time, s.service_id, s.id, (b.status = 'CANCELLED'), b.created_at DESC`, availabilityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Slot
	for rows.Next() {
		var s Slot
		var bookingID *uuid.UUID
		var bookingStatus *string
		if err := rows.Scan(&s.ID, &s.AvailabilityID, &s.ProviderID, &s.ServiceID, &s.StartTime, &s.EndTime,
			&bookingID, &bookingStatus); err != nil {
			return nil, err
		}
		s.StartTime, s.EndTime = s.StartTime.UTC(), s.EndTime.UTC()
		if bookingID != nil {
			s.Booking = &BookingRef{ID: *bookingID, Status: *bookingStatus}
		}
		items = append(items, &s)
	}
	return items, rows.Err()
}

func (r *slotRepoPG) InsertBatch(ctx context.Context, w *Window, slots []slotgen.Slot) (int, error) {
	if len(slots) == 0 {
		return 0, nil
	}
	rows := make([][]any, len(slots))
	for i, s := range slots {
		rows[i] = []any{uuid.New(), w.ID, w.ProviderID, s.ServiceID, s.Start, s.End}
	}
	n, err := r.copyFrom(ctx, rows)
	return int(n), err
}

func (r *slotRepoPG) copyFrom(ctx context.Context, rows [][]any) (int64, error) {
	columns := []string{"id", "availability_id", "provider_id", "service_id", "start_time", "end_time"}
	src := pgx.CopyFromRows(rows)
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx.CopyFrom(ctx, pgx.Identifier{"slot"}, columns, src)
	}
	if conn := db.ConnFromContext(ctx); conn != nil {
		return conn.CopyFrom(ctx, pgx.Identifier{"slot"}, columns, src)
	}
	return r.pool.CopyFrom(ctx, pgx.Identifier{"slot"}, columns, src)
}

func (r *slotRepoPG) DeleteUnbooked(ctx context.Context, ids []uuid.UUID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		DELETE FROM slot s
		WHERE s.id = ANY($1)
		  AND NOT EXISTS (SELECT 1 FROM booking b WHERE b.slot_id = s.id)`, ids)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *slotRepoPG) SearchAvailable(ctx context.Context, q SlotQuery) ([]*Slot, int, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT s.id, s.availability_id, s.provider_id, s.service_id, s.start_time, s.end_time,
			COUNT(*) OVER ()
		FROM slot s JOIN availability a ON a.id = s.availability_id
		WHERE a.status = 'ACCEPTED'
		  AND s.start_time >= $1 AND s.start_time < $2
		  AND ($3::uuid IS NULL OR s.provider_id = $3)
		  AND ($4::uuid IS NULL OR s.service_id = $4)
		  AND NOT EXISTS (
			SELECT 1 FROM booking b
			WHERE b.slot_id = s.id AND (b.status <> 'CANCELLED' OR NOT $5))
		  AND NOT EXISTS (
			SELECT 1 FROM booking b
			WHERE b.provider_id = s.provider_id AND b.status <> 'CANCELLED'
			  AND tstzrange(b.start_time, b.end_time, '[)') && tstzrange(s.start_time, s.end_time, '[)'))
		ORDER BY s.start_time, s.service_id
		LIMIT $6 OFFSET $7`,
		q.From, q.To, q.ProviderID, q.ServiceID, r.cancelledFreesSlot, q.Limit, q.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Slot
	total := 0
	for rows.Next() {
		var s Slot
		if err := rows.Scan(&s.ID, &s.AvailabilityID, &s.ProviderID, &s.ServiceID, &s.StartTime, &s.EndTime, &total); err != nil {
			return nil, 0, err
		}
		s.StartTime, s.EndTime = s.StartTime.UTC(), s.EndTime.UTC()
		items = append(items, &s)
	}
	return items, total, rows.Err()
}
