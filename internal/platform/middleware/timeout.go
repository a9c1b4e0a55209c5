package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// RequestTimeout puts a deadline on the request context. The handler runs on
// the calling goroutine and must observe ctx.Done; repository calls do so
// through pgx. A handler that gives up because of the deadline yields 504
// unless it already wrote a response.
func RequestTimeout(timeout time.Duration, skipper middleware.Skipper) echo.MiddlewareFunc {
	if skipper == nil {
		skipper = middleware.DefaultSkipper
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if timeout <= 0 || skipper(c) {
				return next(c)
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if !errors.Is(ctx.Err(), context.DeadlineExceeded) || c.Response().Committed {
				return err
			}
			return c.JSON(http.StatusGatewayTimeout, map[string]string{"message": "request timed out"})
		}
	}
}
