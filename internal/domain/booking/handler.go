package booking

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carebook/carebook/internal/platform/auth"
	"github.com/carebook/carebook/pkg/apperror"
	"github.com/carebook/carebook/pkg/pagination"
)

type Handler struct {
	guard    *Guard
	svc      *Service
	notifier Notifier
}

func NewHandler(guard *Guard, svc *Service, notifier Notifier) *Handler {
	return &Handler{guard: guard, svc: svc, notifier: notifier}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/bookings", h.Claim)
	api.GET("/bookings", h.List)
	api.GET("/bookings/:id", h.Get)
	api.POST("/bookings/:id/cancel", h.Cancel)

	staff := api.Group("", auth.RequireRole(auth.RoleProvider, auth.RoleOrgAdmin, auth.RoleFrontDesk))
	staff.POST("/bookings/:id/confirm", h.Confirm)
	staff.POST("/bookings/:id/complete", h.Complete)
	staff.POST("/bookings/:id/no-show", h.NoShow)
}

func isStaff(c echo.Context) bool {
	return auth.HasRole(c.Request().Context(), auth.RoleProvider, auth.RoleOrgAdmin, auth.RoleFrontDesk)
}

// Claim books a slot. Patients book for themselves; staff book for a guest
// and only on slots of providers they act for.
func (h *Handler) Claim(c echo.Context) error {
	var req ClaimRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	if isStaff(c) {
		req.CanAct = func(providerID uuid.UUID) bool { return auth.AccessFor(ctx, providerID).Allowed }
	} else {
		req.UserID = auth.UserIDFromContext(ctx)
	}

	b, err := h.guard.Claim(ctx, &req)
	if err != nil {
		return toHTTPError(err)
	}
	h.notify(c, EventCreated, b)
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) Get(c echo.Context) error {
	b, err := h.load(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, b)
}

// List returns a provider's bookings to staff, or the caller's own bookings
// when no provider_id is given.
func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	pg := pagination.FromContext(c)
	f := ListFilter{Status: Status(c.QueryParam("status")), Limit: pg.Limit, Offset: pg.Offset}

	if raw := c.QueryParam("provider_id"); raw != "" {
		providerID, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid provider_id")
		}
		if !auth.AccessFor(ctx, providerID).Allowed {
			return echo.NewHTTPError(http.StatusForbidden, "not allowed to view this provider's bookings")
		}
		f.ProviderID = &providerID
	} else {
		f.UserID = auth.UserIDFromContext(ctx)
	}
	for name, dst := range map[string]*time.Time{"from": &f.From, "to": &f.To} {
		if raw := c.QueryParam(name); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, name+" must be RFC 3339")
			}
			*dst = t
		}
	}

	items, total, err := h.svc.List(ctx, f)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Cancel(c echo.Context) error {
	b, err := h.load(c)
	if err != nil {
		return err
	}
	var req cancelRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	b, err = h.svc.Cancel(c.Request().Context(), b.ID, req.Reason)
	if err != nil {
		return toHTTPError(err)
	}
	h.notify(c, EventCancelled, b)
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) Confirm(c echo.Context) error {
	b, err := h.loadForStaff(c)
	if err != nil {
		return err
	}
	if b, err = h.svc.Confirm(c.Request().Context(), b.ID); err != nil {
		return toHTTPError(err)
	}
	h.notify(c, EventConfirmed, b)
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) Complete(c echo.Context) error {
	b, err := h.loadForStaff(c)
	if err != nil {
		return err
	}
	if b, err = h.svc.Complete(c.Request().Context(), b.ID); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) NoShow(c echo.Context) error {
	b, err := h.loadForStaff(c)
	if err != nil {
		return err
	}
	if b, err = h.svc.NoShow(c.Request().Context(), b.ID); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) notify(c echo.Context, event string, b *Booking) {
	if h.notifier != nil {
		h.notifier.Notify(c.Request().Context(), event, b)
	}
}

// load fetches the booking named by :id if the caller made it or acts for
// its provider; anything else is reported as missing.
func (h *Handler) load(c echo.Context) (*Booking, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	b, err := h.svc.Get(ctx, id)
	if err != nil {
		return nil, toHTTPError(err)
	}
	own := b.UserID != "" && b.UserID == auth.UserIDFromContext(ctx)
	if !own && !auth.AccessFor(ctx, b.ProviderID).Allowed {
		return nil, echo.NewHTTPError(http.StatusNotFound, "booking not found")
	}
	return b, nil
}

func (h *Handler) loadForStaff(c echo.Context) (*Booking, error) {
	b, err := h.load(c)
	if err != nil {
		return nil, err
	}
	if !auth.AccessFor(c.Request().Context(), b.ProviderID).Allowed {
		return nil, echo.NewHTTPError(http.StatusForbidden, "only the provider's staff may change this booking")
	}
	return b, nil
}

func toHTTPError(err error) error {
	var (
		verr   *apperror.ValidationError
		booked *SlotAlreadyBookedError
	)
	switch {
	case errors.As(err, &verr):
		return echo.NewHTTPError(http.StatusBadRequest, map[string]interface{}{
			"message":    "validation failed",
			"violations": verr.Violations,
		})
	case apperror.IsNotFound(err):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.As(err, &booked):
		return echo.NewHTTPError(http.StatusConflict, map[string]interface{}{
			"message": err.Error(),
			"slot_id": booked.SlotID,
		})
	case errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrSlotInPast), errors.Is(err, ErrSlotUnavailable):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
}
