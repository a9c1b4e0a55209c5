package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const (
	RoleAdmin     = "admin"
	RoleProvider  = "provider"
	RoleOrgAdmin  = "org_admin"
	RoleFrontDesk = "frontdesk"
	RolePatient   = "patient"
)

// RequireRole returns middleware that checks if the user has at least one of the specified roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if HasRole(c.Request().Context(), roles...) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// HasRole reports whether the caller holds one of roles. Admin holds all.
func HasRole(ctx context.Context, roles ...string) bool {
	for _, has := range RolesFromContext(ctx) {
		if has == RoleAdmin {
			return true
		}
		for _, want := range roles {
			if has == want {
				return true
			}
		}
	}
	return false
}

// ProviderAccess describes how the caller may act for a provider.
type ProviderAccess struct {
	Allowed bool
	// Delegated is set when the caller acts on the provider's behalf rather
	// than as the provider.
	Delegated bool
}

// AccessFor resolves the caller's access to providerID's schedule.
func AccessFor(ctx context.Context, providerID uuid.UUID) ProviderAccess {
	roles := RolesFromContext(ctx)
	if contains(roles, RoleAdmin) {
		return ProviderAccess{Allowed: true}
	}
	listed := false
	for _, id := range ProviderIDsFromContext(ctx) {
		if id == providerID {
			listed = true
			break
		}
	}
	switch {
	case !listed:
		return ProviderAccess{}
	case contains(roles, RoleProvider):
		return ProviderAccess{Allowed: true}
	case contains(roles, RoleOrgAdmin), contains(roles, RoleFrontDesk):
		return ProviderAccess{Allowed: true, Delegated: true}
	}
	return ProviderAccess{}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
