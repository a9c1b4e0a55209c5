package notification

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Handler exposes the delivery history to operators.
type Handler struct {
	manager *Manager
}

func NewHandler(mgr *Manager) *Handler {
	return &Handler{manager: mgr}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/notifications/stats", h.Stats)
	g.GET("/notifications/:id", h.Get)
	g.POST("/notifications/:id/retry", h.Retry)
}

func (h *Handler) Get(c echo.Context) error {
	n, ok := h.manager.Get(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "notification not found")
	}
	return c.JSON(http.StatusOK, n)
}

func (h *Handler) Retry(c echo.Context) error {
	if _, ok := h.manager.Get(c.Param("id")); !ok {
		return echo.NewHTTPError(http.StatusNotFound, "notification not found")
	}
	n, err := h.manager.Retry(c.Request().Context(), c.Param("id"))
	if n == nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	// A failed retry is still reported with the attempt recorded.
	return c.JSON(http.StatusOK, n)
}

func (h *Handler) Stats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.manager.Stats())
}
