package availability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/carebook/carebook/internal/domain/recurrence"
	"github.com/carebook/carebook/internal/domain/slotgen"
	"github.com/carebook/carebook/internal/platform/db"
	"github.com/carebook/carebook/pkg/apperror"
)

// TxRunner runs a unit of work atomically.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Cache stores rendered slot listings per provider. Get returns the entry
// key resolved at read time; Set writes to exactly that key, so a listing
// that raced an invalidation lands in the superseded generation.
type Cache interface {
	Get(ctx context.Context, providerID uuid.UUID, key string) ([]byte, string, bool)
	Set(ctx context.Context, entry string, val []byte)
	Invalidate(ctx context.Context, providerID uuid.UUID)
}

// Settings tune materialization.
type Settings struct {
	DefaultTimezone string
	// Horizon bounds open-ended series, counted from now or the first
	// occurrence, whichever is later.
	Horizon        time.Duration
	MaxOccurrences int
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

const (
	maxWindowLength  = 24 * time.Hour
	maxSlotQuerySpan = 92 * 24 * time.Hour
	defaultSlotSpan  = 30 * 24 * time.Hour
	defaultCurrency  = "USD"
)

type Service struct {
	windows  WindowRepository
	configs  ConfigRepository
	slots    SlotRepository
	tx       TxRunner
	cache    Cache
	settings Settings
	log      zerolog.Logger
}

func NewService(windows WindowRepository, configs ConfigRepository, slots SlotRepository, tx TxRunner, cache Cache, settings Settings, log zerolog.Logger) *Service {
	if settings.Now == nil {
		settings.Now = time.Now
	}
	if settings.MaxOccurrences <= 0 || settings.MaxOccurrences > recurrence.HardCeiling {
		settings.MaxOccurrences = recurrence.HardCeiling
	}
	if settings.Horizon <= 0 {
		settings.Horizon = 180 * 24 * time.Hour
	}
	if settings.DefaultTimezone == "" {
		settings.DefaultTimezone = "UTC"
	}
	return &Service{
		windows:  windows,
		configs:  configs,
		slots:    slots,
		tx:       tx,
		cache:    cache,
		settings: settings,
		log:      log.With().Str("component", "availability").Logger(),
	}
}

// -- Queries --

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Window, error) {
	w, err := s.windows.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if w.Services, err = s.windows.ListServices(ctx, id); err != nil {
		return nil, fmt.Errorf("list services of %s: %w", id, err)
	}
	return w, nil
}

func (s *Service) ListByProvider(ctx context.Context, providerID uuid.UUID, limit, offset int) ([]*Window, int, error) {
	return s.windows.ListByProvider(ctx, providerID, limit, offset)
}

// Slots returns the bookable slots matching q. Provider-scoped listings are
// served from the cache when one is configured.
func (s *Service) Slots(ctx context.Context, q SlotQuery) ([]*Slot, int, error) {
	if q.From.IsZero() {
		q.From = s.settings.Now().UTC().Truncate(time.Minute)
	}
	if q.To.IsZero() {
		q.To = q.From.Add(defaultSlotSpan)
	}
	if !q.To.After(q.From) {
		return nil, 0, apperror.NewValidation("to must be after from")
	}
	if q.To.Sub(q.From) > maxSlotQuerySpan {
		return nil, 0, apperror.NewValidation("slot queries may span at most 92 days")
	}

	type page struct {
		Items []*Slot `json:"items"`
		Total int     `json:"total"`
	}
	var entry string
	if q.ProviderID != nil && s.cache != nil {
		svc := "*"
		if q.ServiceID != nil {
			svc = q.ServiceID.String()
		}
		key := fmt.Sprintf("%s:%d:%d:%d:%d", svc, q.From.Unix(), q.To.Unix(), q.Limit, q.Offset)
		raw, e, ok := s.cache.Get(ctx, *q.ProviderID, key)
		if ok {
			var p page
			if err := json.Unmarshal(raw, &p); err == nil {
				return p.Items, p.Total, nil
			}
		}
		entry = e
	}

	items, total, err := s.slots.SearchAvailable(ctx, q)
	if err != nil {
		return nil, 0, err
	}
	if entry != "" {
		if raw, err := json.Marshal(page{Items: items, Total: total}); err == nil {
			s.cache.Set(ctx, entry, raw)
		}
	}
	return items, total, nil
}

// -- Mutations --

// Create validates the window, stores it with its service configs and
// materializes every slot in one transaction.
func (s *Service) Create(ctx context.Context, providerID uuid.UUID, in *WindowInput, actor Actor) (*Window, error) {
	w := &Window{ProviderID: providerID, Status: StatusAccepted, CreatedBy: actor.UserID}
	if actor.Delegated {
		w.Status = StatusPending
	}
	if err := s.apply(w, in); err != nil {
		return nil, err
	}

	var inserted int
	err := s.inTx(ctx, func(ctx context.Context) error {
		if err := s.joinSeries(ctx, w, in.SeriesID); err != nil {
			return err
		}
		if err := s.windows.Create(ctx, w); err != nil {
			return fmt.Errorf("create availability: %w", err)
		}
		configs, err := s.resolveConfigs(ctx, w, in.Services)
		if err != nil {
			return err
		}
		plan, err := s.plan(w, configs, nil)
		if err != nil {
			return err
		}
		if len(plan.Insert) == 0 {
			return apperror.NewValidation("availability produces no bookable slots; check service durations against the window length")
		}
		if inserted, err = s.applyPlan(ctx, w, plan); err != nil {
			return err
		}
		w.Services = configs
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, providerID)
	s.log.Info().Str("availability_id", w.ID.String()).Str("provider_id", providerID.String()).
		Str("status", string(w.Status)).Int("slots", inserted).Msg("availability created")
	return w, nil
}

// Update reconciles the window with a new definition. Booked slots are kept
// and must stay covered; free slots are regenerated. expectedVersion 0 skips
// the optimistic version check.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in *WindowInput, expectedVersion int) (*Window, error) {
	var (
		w     *Window
		plan  *Plan
		added int
	)
	err := s.inTx(ctx, func(ctx context.Context) error {
		var err error
		if w, err = s.lockForChange(ctx, id, expectedVersion); err != nil {
			return err
		}
		if w.Status.Terminal() {
			return apperror.NewValidation(fmt.Sprintf("availability is %s and can no longer be edited", w.Status))
		}
		seriesID := w.SeriesID
		if err := s.apply(w, in); err != nil {
			return err
		}
		if w.IsRecurring {
			w.SeriesID = seriesID
			if in.SeriesID != nil && (seriesID == nil || *in.SeriesID != *seriesID) {
				if err := s.joinSeries(ctx, w, in.SeriesID); err != nil {
					return err
				}
			}
			if w.SeriesID == nil {
				sid := uuid.New()
				w.SeriesID = &sid
			}
		}

		configs, err := s.resolveConfigs(ctx, w, in.Services)
		if err != nil {
			return err
		}
		current, err := s.slots.ListWithBookings(ctx, w.ID)
		if err != nil {
			return fmt.Errorf("list slots: %w", err)
		}
		if plan, err = s.plan(w, configs, current); err != nil {
			return err
		}
		if added, err = s.applyPlan(ctx, w, plan); err != nil {
			return err
		}
		if err := s.windows.Update(ctx, w); err != nil {
			return err
		}
		w.Services = configs
		return nil
	})
	if err != nil {
		s.logRejection(id, "update", err)
		return nil, err
	}

	s.invalidate(ctx, w.ProviderID)
	s.log.Info().Str("availability_id", id.String()).Int("deleted", len(plan.Delete)).
		Int("retained", len(plan.Retain)).Int("inserted", added).Int("version", w.Version).
		Msg("availability reconciled")
	return w, nil
}

// Delete removes the window and its slots, or rejects with
// HasActiveBookingsError when any slot is booked.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	var providerID uuid.UUID
	err := s.inTx(ctx, func(ctx context.Context) error {
		w, err := s.lockForChange(ctx, id, 0)
		if err != nil {
			return err
		}
		providerID = w.ProviderID
		return s.deleteLocked(ctx, w)
	})
	if err != nil {
		s.logRejection(id, "delete", err)
		return err
	}
	s.invalidate(ctx, providerID)
	s.log.Info().Str("availability_id", id.String()).Msg("availability deleted")
	return nil
}

// DeleteSeries deletes every window of a series, or none of them. canAct,
// when set, hides series whose provider the caller may not act for.
func (s *Service) DeleteSeries(ctx context.Context, seriesID uuid.UUID, canAct func(providerID uuid.UUID) bool) (int, error) {
	providers := make(map[uuid.UUID]bool)
	var deleted int
	err := s.inTx(ctx, func(ctx context.Context) error {
		windows, err := s.windows.LockBySeries(ctx, seriesID)
		if err != nil {
			return err
		}
		if len(windows) == 0 {
			return apperror.NotFound("series", seriesID.String())
		}
		for _, w := range windows {
			if canAct != nil && !canAct(w.ProviderID) {
				return apperror.NotFound("series", seriesID.String())
			}
		}

		blocked := &HasActiveBookingsError{AvailabilityID: seriesID, Statuses: map[string]int{}}
		for _, w := range windows {
			slots, err := s.slots.ListWithBookings(ctx, w.ID)
			if err != nil {
				return fmt.Errorf("list slots: %w", err)
			}
			if _, err := PlanDelete(w.ID, slots); err != nil {
				var active *HasActiveBookingsError
				if errors.As(err, &active) {
					for k, n := range active.Statuses {
						blocked.Statuses[k] += n
					}
					continue
				}
				return err
			}
		}
		if len(blocked.Statuses) > 0 {
			return blocked
		}

		for _, w := range windows {
			if err := s.deleteLocked(ctx, w); err != nil {
				return err
			}
			providers[w.ProviderID] = true
			deleted++
		}
		return nil
	})
	if err != nil {
		s.logRejection(seriesID, "delete series", err)
		return 0, err
	}
	for p := range providers {
		s.invalidate(ctx, p)
	}
	s.log.Info().Str("series_id", seriesID.String()).Int("windows", deleted).Msg("series deleted")
	return deleted, nil
}

// Cancel soft-cancels the window: free slots go, booked slots and their
// bookings stay.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, expectedVersion int) (*Window, error) {
	return s.SetStatus(ctx, id, StatusCancelled, expectedVersion)
}

// SetStatus moves the window through its lifecycle. Leaving the bookable
// states releases the free slots.
func (s *Service) SetStatus(ctx context.Context, id uuid.UUID, to Status, expectedVersion int) (*Window, error) {
	var (
		w        *Window
		released int
	)
	err := s.inTx(ctx, func(ctx context.Context) error {
		var err error
		if w, err = s.lockForChange(ctx, id, expectedVersion); err != nil {
			return err
		}
		if !CanTransition(w.Status, to) {
			return apperror.NewValidation(fmt.Sprintf("cannot change status from %s to %s", w.Status, to))
		}
		if to.Terminal() {
			slots, err := s.slots.ListWithBookings(ctx, w.ID)
			if err != nil {
				return fmt.Errorf("list slots: %w", err)
			}
			if released, err = s.applyPlan(ctx, w, PlanRelease(slots)); err != nil {
				return err
			}
		}
		w.Status = to
		return s.windows.Update(ctx, w)
	})
	if err != nil {
		s.logRejection(id, "status", err)
		return nil, err
	}
	s.invalidate(ctx, w.ProviderID)
	s.log.Info().Str("availability_id", id.String()).Str("status", string(to)).
		Int("released", released).Msg("availability status changed")
	return w, nil
}

// -- internals --

func (s *Service) lockForChange(ctx context.Context, id uuid.UUID, expectedVersion int) (*Window, error) {
	w, err := s.windows.LockByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if expectedVersion > 0 && w.Version != expectedVersion {
		return nil, ErrVersionConflict
	}
	return w, nil
}

func (s *Service) deleteLocked(ctx context.Context, w *Window) error {
	slots, err := s.slots.ListWithBookings(ctx, w.ID)
	if err != nil {
		return fmt.Errorf("list slots: %w", err)
	}
	plan, err := PlanDelete(w.ID, slots)
	if err != nil {
		return err
	}
	if _, err := s.applyPlan(ctx, w, plan); err != nil {
		return err
	}
	return s.windows.Delete(ctx, w.ID)
}

// apply validates in and copies it onto w.
func (s *Service) apply(w *Window, in *WindowInput) error {
	v := &apperror.ValidationError{}
	if w.ProviderID == uuid.Nil {
		v.Violationf("provider_id is required")
	}

	tz := in.Timezone
	if tz == "" {
		tz = s.settings.DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		v.Violationf("timezone %q is not a known IANA zone", tz)
		loc = time.UTC
	}

	rule := in.SchedulingRule
	if rule == "" {
		rule = slotgen.RuleContinuous
	}
	if !rule.Valid() {
		v.Violationf("scheduling_rule %q is not one of CONTINUOUS, ON_THE_HOUR, ON_THE_HALF_HOUR", rule)
	}

	if _, err := recurrence.Compile(in.Pattern, in.StartTime, in.EndTime, loc); err != nil {
		v.Merge(err)
	}
	recurring := in.Pattern.IsRecurring()
	if recurring && in.EndTime.Sub(in.StartTime) > maxWindowLength {
		v.Violationf("a recurring window may not be longer than 24 hours")
	}
	if !recurring && in.SeriesID != nil {
		v.Violationf("series_id only applies to recurring windows")
	}

	if len(in.Services) == 0 {
		v.Violationf("at least one service is required")
	}
	seen := make(map[uuid.UUID]bool)
	for i, svc := range in.Services {
		if svc.ServiceID == uuid.Nil {
			v.Violationf("services[%d].service_id is required", i)
		} else if seen[svc.ServiceID] {
			v.Violationf("service %s is listed more than once", svc.ServiceID)
		}
		seen[svc.ServiceID] = true
		if svc.DurationMinutes <= 0 || time.Duration(svc.DurationMinutes)*time.Minute > maxWindowLength {
			v.Violationf("services[%d].duration_minutes must be within 1-1440", i)
		}
		if svc.Price.IsNegative() {
			v.Violationf("services[%d].price must not be negative", i)
		}
		if svc.Currency != "" && len(svc.Currency) != 3 {
			v.Violationf("services[%d].currency must be a 3-letter ISO code", i)
		}
	}
	if err := v.OrNil(); err != nil {
		return err
	}

	w.StartTime = in.StartTime.UTC()
	w.EndTime = in.EndTime.UTC()
	w.Timezone = loc.String()
	w.Pattern = in.Pattern
	w.IsRecurring = recurring
	if !recurring {
		w.Pattern = nil
		w.SeriesID = nil
	}
	w.SchedulingRule = rule
	w.IsOnlineAvailable = in.IsOnlineAvailable
	w.LocationID = in.LocationID
	w.RequiresConfirmation = in.RequiresConfirmation
	return nil
}

// joinSeries attaches a recurring window to an existing series of the same
// provider, or starts a new one.
func (s *Service) joinSeries(ctx context.Context, w *Window, seriesID *uuid.UUID) error {
	if !w.IsRecurring {
		return nil
	}
	if seriesID == nil {
		sid := uuid.New()
		w.SeriesID = &sid
		return nil
	}
	members, err := s.windows.LockBySeries(ctx, *seriesID)
	if err != nil {
		return err
	}
	for _, m := range members {
		if m.ProviderID == w.ProviderID {
			w.SeriesID = seriesID
			return nil
		}
	}
	return apperror.NotFound("series", seriesID.String())
}

// resolveConfigs upserts one config per requested service and links them to
// w. A duration change on a config that backs a booked slot is rejected;
// otherwise the provider's other windows offering it are re-materialized.
func (s *Service) resolveConfigs(ctx context.Context, w *Window, inputs []ServiceInput) ([]*ServiceConfig, error) {
	configs := make([]*ServiceConfig, 0, len(inputs))
	ids := make([]uuid.UUID, 0, len(inputs))
	var resized []*ServiceConfig

	for _, in := range inputs {
		cfg, err := s.configs.GetByServiceProvider(ctx, in.ServiceID, w.ProviderID)
		switch {
		case apperror.IsNotFound(err):
			cfg = &ServiceConfig{ServiceID: in.ServiceID, ProviderID: w.ProviderID}
		case err != nil:
			return nil, fmt.Errorf("load service config: %w", err)
		case cfg.DurationMinutes != in.DurationMinutes:
			booked, err := s.configs.HasBookedSlots(ctx, in.ServiceID, w.ProviderID)
			if err != nil {
				return nil, fmt.Errorf("check booked slots: %w", err)
			}
			if booked {
				return nil, &ConfigInUseError{ServiceID: in.ServiceID, ProviderID: w.ProviderID,
					Current: cfg.DurationMinutes, Requested: in.DurationMinutes}
			}
			resized = append(resized, cfg)
		}

		cfg.DurationMinutes = in.DurationMinutes
		cfg.Price = in.Price.Round(2)
		if cfg.Price.IsZero() {
			cfg.Price = decimal.Zero
		}
		cfg.Currency = in.Currency
		if cfg.Currency == "" {
			cfg.Currency = defaultCurrency
		}
		cfg.IsOnlineAvailable = in.IsOnlineAvailable
		cfg.IsInPerson = in.IsInPerson == nil || *in.IsInPerson
		cfg.LocationID = in.LocationID
		if err := s.configs.Upsert(ctx, cfg); err != nil {
			return nil, fmt.Errorf("save service config: %w", err)
		}
		configs = append(configs, cfg)
		ids = append(ids, cfg.ID)
	}

	if err := s.windows.SetServices(ctx, w.ID, ids); err != nil {
		return nil, fmt.Errorf("link services: %w", err)
	}
	for _, cfg := range resized {
		if err := s.rematerializeOthers(ctx, w.ID, cfg); err != nil {
			return nil, err
		}
	}
	return configs, nil
}

func (s *Service) rematerializeOthers(ctx context.Context, except uuid.UUID, cfg *ServiceConfig) error {
	windows, err := s.windows.ListByConfig(ctx, cfg.ID)
	if err != nil {
		return fmt.Errorf("list windows of config %s: %w", cfg.ID, err)
	}
	for _, other := range windows {
		if other.ID == except || other.Status.Terminal() {
			continue
		}
		configs, err := s.windows.ListServices(ctx, other.ID)
		if err != nil {
			return fmt.Errorf("list services of %s: %w", other.ID, err)
		}
		current, err := s.slots.ListWithBookings(ctx, other.ID)
		if err != nil {
			return fmt.Errorf("list slots: %w", err)
		}
		plan, err := s.plan(other, configs, current)
		if err != nil {
			return fmt.Errorf("re-materialize %s: %w", other.ID, err)
		}
		if _, err := s.applyPlan(ctx, other, plan); err != nil {
			return err
		}
		s.log.Debug().Str("availability_id", other.ID.String()).Str("service_id", cfg.ServiceID.String()).
			Msg("re-materialized after duration change")
	}
	return nil
}

// plan expands w and reconciles it with the current slots.
func (s *Service) plan(w *Window, configs []*ServiceConfig, current []*Slot) (*Plan, error) {
	loc, err := w.Location()
	if err != nil {
		return nil, apperror.NewValidation(err.Error())
	}
	rule, err := recurrence.Compile(w.Pattern, w.StartTime, w.EndTime, loc)
	if err != nil {
		return nil, err
	}

	opts := recurrence.Options{Cap: s.settings.MaxOccurrences}
	if rule.Frequency() != recurrence.FrequencyNone {
		now := s.settings.Now().UTC()
		from := now
		if w.StartTime.After(from) {
			from = w.StartTime
		}
		// Elapsed occurrences are not re-materialized and do not spend the cap.
		opts.From = now
		opts.Until = from.Add(s.settings.Horizon)
		for _, sl := range current {
			if sl.IsBooked() && sl.StartTime.After(opts.Until) {
				opts.Until = sl.StartTime
			}
		}
	}
	occurrences := withBookedCover(rule, rule.Occurrences(opts), current)

	services := make([]slotgen.Service, len(configs))
	for i, c := range configs {
		services[i] = slotgen.Service{ServiceID: c.ServiceID, Duration: c.Duration()}
	}
	return PlanUpdate(current, Proposal{
		Occurrences: occurrences,
		Services:    services,
		Rule:        w.SchedulingRule,
		Location:    loc,
	})
}

// withBookedCover adds the occurrences holding booked slots that the bounded
// expansion missed: elapsed ones, and ones past the cap. Each is looked up
// on its own so the cap never hides a booking. A booked slot that no
// occurrence holds stays uncovered and is reported by PlanUpdate.
func withBookedCover(rule *recurrence.Rule, occurrences []recurrence.Occurrence, current []*Slot) []recurrence.Occurrence {
	seen := make(map[int]bool, len(occurrences))
	for _, o := range occurrences {
		seen[o.Number] = true
	}
	added := false
	for _, sl := range current {
		if !sl.IsBooked() || covered(sl, occurrences) {
			continue
		}
		for _, o := range rule.Occurrences(recurrence.Options{From: sl.StartTime, Until: sl.StartTime}) {
			if !seen[o.Number] {
				seen[o.Number] = true
				occurrences = append(occurrences, o)
				added = true
			}
		}
	}
	if added {
		sort.Slice(occurrences, func(i, j int) bool { return occurrences[i].Start.Before(occurrences[j].Start) })
	}
	return occurrences
}

// applyPlan deletes the plan's free slots and inserts its new ones. Fewer
// deletions than planned means a slot was booked concurrently.
func (s *Service) applyPlan(ctx context.Context, w *Window, plan *Plan) (int, error) {
	n, err := s.slots.DeleteUnbooked(ctx, plan.Delete)
	if err != nil {
		return 0, fmt.Errorf("delete free slots: %w", err)
	}
	if n != len(plan.Delete) {
		return 0, ErrConcurrentBooking
	}
	inserted, err := s.slots.InsertBatch(ctx, w, plan.Insert)
	if err != nil {
		return 0, fmt.Errorf("insert slots: %w", err)
	}
	return inserted, nil
}

// inTx runs fn in one transaction. Resizing a shared config locks the
// provider's other windows after the caller's own, so two such edits can
// deadlock; the victim is reported as ErrConcurrentChange.
func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	err := s.tx.InTx(ctx, fn)
	if db.IsDeadlock(err) || db.IsSerializationFailure(err) {
		return fmt.Errorf("%w: %w", ErrConcurrentChange, err)
	}
	return err
}

func (s *Service) invalidate(ctx context.Context, providerID uuid.UUID) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, providerID)
	}
}

func (s *Service) logRejection(id uuid.UUID, op string, err error) {
	ev := s.log.Warn()
	if !IsBookingProtection(err) && !apperror.IsValidation(err) && !apperror.IsNotFound(err) &&
		!errors.Is(err, ErrVersionConflict) && !errors.Is(err, ErrConcurrentChange) {
		ev = s.log.Error()
	}
	ev.Err(err).Str("id", id.String()).Str("op", op).Msg("availability change rejected")
}
