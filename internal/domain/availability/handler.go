package availability

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carebook/carebook/internal/platform/auth"
	"github.com/carebook/carebook/pkg/apperror"
	"github.com/carebook/carebook/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	staff := api.Group("", auth.RequireRole(auth.RoleProvider, auth.RoleOrgAdmin, auth.RoleFrontDesk))
	staff.POST("/availability", h.Create)
	staff.GET("/availability", h.List)
	staff.GET("/availability/:id", h.Get)
	staff.PUT("/availability/:id", h.Update)
	staff.DELETE("/availability/:id", h.Delete)
	staff.POST("/availability/:id/cancel", h.Cancel)
	staff.PATCH("/availability/:id/status", h.SetStatus)
	staff.DELETE("/availability/series/:series_id", h.DeleteSeries)

	// Any authenticated caller may browse open slots.
	api.GET("/slots", h.ListSlots)
}

type createRequest struct {
	ProviderID uuid.UUID `json:"provider_id"`
	WindowInput
}

func (h *Handler) Create(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	access := auth.AccessFor(ctx, req.ProviderID)
	if !access.Allowed {
		return echo.NewHTTPError(http.StatusForbidden, "not allowed to manage this provider's availability")
	}
	w, err := h.svc.Create(ctx, req.ProviderID, &req.WindowInput, Actor{
		UserID:    auth.UserIDFromContext(ctx),
		Delegated: access.Delegated,
	})
	if err != nil {
		return toHTTPError(err)
	}
	c.Response().Header().Set("ETag", w.ETag())
	return c.JSON(http.StatusCreated, w)
}

func (h *Handler) Get(c echo.Context) error {
	w, err := h.load(c)
	if err != nil {
		return err
	}
	c.Response().Header().Set("ETag", w.ETag())
	return c.JSON(http.StatusOK, w)
}

func (h *Handler) List(c echo.Context) error {
	providerID, err := uuid.Parse(c.QueryParam("provider_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "provider_id is required")
	}
	if !auth.AccessFor(c.Request().Context(), providerID).Allowed {
		return echo.NewHTTPError(http.StatusForbidden, "not allowed to view this provider's availability")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByProvider(c.Request().Context(), providerID, pg.Limit, pg.Offset)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) Update(c echo.Context) error {
	current, err := h.load(c)
	if err != nil {
		return err
	}
	version, err := parseIfMatch(c.Request().Header.Get("If-Match"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	var in WindowInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	w, err := h.svc.Update(c.Request().Context(), current.ID, &in, version)
	if err != nil {
		return toHTTPError(err)
	}
	c.Response().Header().Set("ETag", w.ETag())
	return c.JSON(http.StatusOK, w)
}

func (h *Handler) Delete(c echo.Context) error {
	w, err := h.load(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), w.ID); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Cancel(c echo.Context) error {
	w, err := h.load(c)
	if err != nil {
		return err
	}
	version, err := parseIfMatch(c.Request().Header.Get("If-Match"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	w, err = h.svc.Cancel(c.Request().Context(), w.ID, version)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, w)
}

type statusRequest struct {
	Status Status `json:"status"`
}

// SetStatus accepts or rejects a pending window. Only the provider (or an
// admin) may decide on windows created on their behalf.
func (h *Handler) SetStatus(c echo.Context) error {
	w, err := h.load(c)
	if err != nil {
		return err
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	switch req.Status {
	case StatusAccepted, StatusRejected:
	case StatusCancelled:
		return echo.NewHTTPError(http.StatusBadRequest, "use POST /availability/:id/cancel to cancel")
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "status must be ACCEPTED or REJECTED")
	}
	if auth.AccessFor(c.Request().Context(), w.ProviderID).Delegated {
		return echo.NewHTTPError(http.StatusForbidden, "only the provider may accept or reject availability")
	}
	version, err := parseIfMatch(c.Request().Header.Get("If-Match"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	w, err = h.svc.SetStatus(c.Request().Context(), w.ID, req.Status, version)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, w)
}

func (h *Handler) DeleteSeries(c echo.Context) error {
	seriesID, err := uuid.Parse(c.Param("series_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid series_id")
	}
	ctx := c.Request().Context()
	n, err := h.svc.DeleteSeries(ctx, seriesID, func(providerID uuid.UUID) bool {
		return auth.AccessFor(ctx, providerID).Allowed
	})
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"deleted": n})
}

func (h *Handler) ListSlots(c echo.Context) error {
	var (
		q   SlotQuery
		err error
	)
	if q.ProviderID, err = optionalUUID(c.QueryParam("provider_id")); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid provider_id")
	}
	if q.ServiceID, err = optionalUUID(c.QueryParam("service_id")); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid service_id")
	}
	if q.From, err = optionalTime(c.QueryParam("from")); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "from must be RFC 3339")
	}
	if q.To, err = optionalTime(c.QueryParam("to")); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "to must be RFC 3339")
	}
	pg := pagination.FromContext(c)
	q.Limit, q.Offset = pg.Limit, pg.Offset

	items, total, err := h.svc.Slots(c.Request().Context(), q)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

// load fetches the window named by :id. Windows of providers the caller may
// not act for are reported as missing.
func (h *Handler) load(c echo.Context) (*Window, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	w, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return nil, toHTTPError(err)
	}
	if !auth.AccessFor(c.Request().Context(), w.ProviderID).Allowed {
		return nil, echo.NewHTTPError(http.StatusNotFound, "availability not found")
	}
	return w, nil
}

// parseIfMatch accepts W/"3", "3" or 3. An empty header means no check.
func parseIfMatch(v string) (int, error) {
	v = strings.TrimSpace(v)
	if v == "" || v == "*" {
		return 0, nil
	}
	v = strings.Trim(strings.TrimPrefix(v, "W/"), `"`)
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, errors.New("If-Match must carry the availability version")
	}
	return n, nil
}

func optionalUUID(s string) (*uuid.UUID, error) {
	if s == "" {
		return nil, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func optionalTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

func toHTTPError(err error) error {
	var (
		verr    *apperror.ValidationError
		exclude *WouldExcludeBookingError
		active  *HasActiveBookingsError
	)
	switch {
	case errors.As(err, &verr):
		return echo.NewHTTPError(http.StatusBadRequest, map[string]interface{}{
			"message":    "validation failed",
			"violations": verr.Violations,
		})
	case apperror.IsNotFound(err):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.As(err, &exclude):
		return echo.NewHTTPError(http.StatusConflict, map[string]interface{}{
			"message":      err.Error(),
			"booked_slots": exclude.Slots,
		})
	case errors.As(err, &active):
		return echo.NewHTTPError(http.StatusConflict, map[string]interface{}{
			"message":  err.Error(),
			"bookings": active.Statuses,
		})
	case IsBookingProtection(err), errors.Is(err, ErrVersionConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrConcurrentChange):
		return echo.NewHTTPError(http.StatusConflict, ErrConcurrentChange.Error()).SetInternal(err)
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
}
