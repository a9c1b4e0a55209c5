package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/carebook/carebook/internal/platform/auth"
	"github.com/carebook/carebook/internal/platform/db"
)

// AuditEntry records one schedule change: who did what to which resource.
type AuditEntry struct {
	Timestamp  time.Time
	RequestID  string
	Tenant     string
	UserID     string
	UserRoles  []string
	Action     string
	Resource   string
	ResourceID string
	Method     string
	Path       string
	StatusCode int
	RemoteIP   string
}

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error { return f(entry) }

// Audit logs every mutating /api/v1 request after it completes. Reads are
// not audited. An optional recorder receives the entry as well.
func Audit(logger zerolog.Logger, recorder AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !isMutation(req.Method) || !strings.HasPrefix(req.URL.Path, "/api/v1/") {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			ctx := req.Context()
			entry := AuditEntry{
				Timestamp:  time.Now().UTC(),
				Tenant:     db.TenantFromContext(ctx),
				UserID:     auth.UserIDFromContext(ctx),
				UserRoles:  auth.RolesFromContext(ctx),
				Action:     auditAction(req.Method, req.URL.Path),
				Method:     req.Method,
				Path:       req.URL.Path,
				StatusCode: status,
				RemoteIP:   c.RealIP(),
			}
			entry.RequestID, _ = c.Get("request_id").(string)
			entry.Resource, entry.ResourceID = resourceOf(req.URL.Path)

			if recorder != nil {
				if recErr := recorder.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).Str("request_id", entry.RequestID).Msg("failed to record audit entry")
				}
			}
			logger.Info().
				Str("type", "audit").
				Str("request_id", entry.RequestID).
				Str("tenant", entry.Tenant).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("action", entry.Action).
				Str("resource", entry.Resource).
				Str("resource_id", entry.ResourceID).
				Int("status", entry.StatusCode).
				Msg("schedule change")

			return err
		}
	}
}

func isMutation(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// auditAction names the change. POSTs to a sub-resource such as
// /bookings/:id/cancel use the last path segment.
func auditAction(method, path string) string {
	switch method {
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	}
	segs := strings.Split(strings.Trim(strings.TrimPrefix(path, "/api/v1/"), "/"), "/")
	if len(segs) >= 3 {
		return segs[len(segs)-1]
	}
	return "create"
}

// resourceOf splits /api/v1/<resource>/<id>/... into resource and id.
func resourceOf(path string) (string, string) {
	segs := strings.Split(strings.Trim(strings.TrimPrefix(path, "/api/v1/"), "/"), "/")
	switch {
	case len(segs) == 0 || segs[0] == "":
		return "unknown", ""
	case len(segs) == 1:
		return segs[0], ""
	case segs[1] == "series" && len(segs) >= 3:
		return segs[0] + "/series", segs[2]
	}
	return segs[0], segs[1]
}
