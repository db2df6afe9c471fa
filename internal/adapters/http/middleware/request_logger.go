package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"identity-service/internal/adapters/logger"
	"identity-service/internal/ports"
)

// RequestLogger writes one access log line per request. Handler errors are
// rendered here so the logged status is the one the client sees.
func RequestLogger(log ports.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			started := time.Now()
			if id := c.Response().Header().Get(echo.HeaderXRequestID); id != "" {
				c.SetRequest(c.Request().WithContext(logger.WithRequestID(c.Request().Context(), id)))
			}

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			args := []any{
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"route_pattern", c.Path(),
				"status", c.Response().Status,
				"duration", time.Since(started).String(),
			}
			if user, ok := CurrentUser(c); ok {
				args = append(args, "user_id", user.ID)
			}
			log.Info(c.Request().Context(), "http request", args...)
			return err
		}
	}
}
