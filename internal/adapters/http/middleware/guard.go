package middleware

import (
	"context"
	"strings"

	"github.com/labstack/echo/v4"
	"identity-service/internal/application"
	"identity-service/internal/domain"
)

const userContextKey = "identity.user"

// Guard is the part of application.Guard the HTTP layer depends on.
type Guard interface {
	Authenticate(ctx context.Context, accessToken string) (domain.User, error)
	Authorize(user domain.User, req application.Requirement) (domain.User, error)
}

// RequireUser authenticates the bearer token and stores the caller on the context.
func RequireUser(guard Guard) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if !ok {
				return domain.ErrUnauthenticated
			}
			user, err := guard.Authenticate(c.Request().Context(), token)
			if err != nil {
				return err
			}
			c.Set(userContextKey, user)
			return next(c)
		}
	}
}

// Require authenticates and then checks req, in that order.
func Require(guard Guard, req application.Requirement) echo.MiddlewareFunc {
	authenticate := RequireUser(guard)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return authenticate(func(c echo.Context) error {
			user, _ := CurrentUser(c)
			if _, err := guard.Authorize(user, req); err != nil {
				return err
			}
			return next(c)
		})
	}
}

func CurrentUser(c echo.Context) (domain.User, bool) {
	user, ok := c.Get(userContextKey).(domain.User)
	return user, ok
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
