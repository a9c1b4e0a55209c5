package export

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carebook/carebook/internal/platform/auth"
	"github.com/carebook/carebook/pkg/apperror"
)

const (
	defaultSpan = 30 * 24 * time.Hour
	maxSpan     = 92 * 24 * time.Hour
)

type Handler struct {
	exp *Exporter
}

func NewHandler(exp *Exporter) *Handler {
	return &Handler{exp: exp}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	staff := api.Group("", auth.RequireRole(auth.RoleProvider, auth.RoleOrgAdmin, auth.RoleFrontDesk))
	staff.GET("/providers/:id/calendar.ics", h.Calendar)
	staff.GET("/providers/:id/bookings.xlsx", h.Roster)
}

// params reads the provider id and the [from, to) range, defaulting to the
// next 30 days.
func (h *Handler) params(c echo.Context) (uuid.UUID, time.Time, time.Time, error) {
	providerID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, time.Time{}, time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "invalid provider id")
	}
	if !auth.AccessFor(c.Request().Context(), providerID).Allowed {
		return uuid.Nil, time.Time{}, time.Time{}, echo.NewHTTPError(http.StatusForbidden, "not allowed to export this provider's schedule")
	}
	from := h.exp.now().UTC().Truncate(time.Minute)
	if raw := c.QueryParam("from"); raw != "" {
		if from, err = time.Parse(time.RFC3339, raw); err != nil {
			return uuid.Nil, time.Time{}, time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "from must be RFC 3339")
		}
	}
	to := from.Add(defaultSpan)
	if raw := c.QueryParam("to"); raw != "" {
		if to, err = time.Parse(time.RFC3339, raw); err != nil {
			return uuid.Nil, time.Time{}, time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "to must be RFC 3339")
		}
	}
	if !to.After(from) || to.Sub(from) > maxSpan {
		return uuid.Nil, time.Time{}, time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "range must be positive and at most 92 days")
	}
	return providerID, from, to, nil
}

func (h *Handler) Calendar(c echo.Context) error {
	providerID, from, to, err := h.params(c)
	if err != nil {
		return err
	}
	body, err := h.exp.Calendar(c.Request().Context(), providerID, from, to)
	if err != nil {
		return exportError(err)
	}
	return c.Blob(http.StatusOK, "text/calendar; charset=utf-8", body)
}

func (h *Handler) Roster(c echo.Context) error {
	providerID, from, to, err := h.params(c)
	if err != nil {
		return err
	}
	buf, name, err := h.exp.Roster(c.Request().Context(), providerID, from, to)
	if err != nil {
		return exportError(err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+name+`"`)
	return c.Stream(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf)
}

func exportError(err error) error {
	if apperror.IsValidation(err) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
}
