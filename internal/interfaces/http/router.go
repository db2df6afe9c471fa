package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	adaptermiddleware "identity-service/internal/adapters/http/middleware"
	"identity-service/internal/application"
	"identity-service/internal/ports"
)

// Middleware holds the optional global and route middlewares. Nil entries are skipped.
type Middleware struct {
	XRay          echo.MiddlewareFunc
	Metrics       echo.MiddlewareFunc
	RequestLogger echo.MiddlewareFunc
	LoginLimiter  echo.MiddlewareFunc
}

type Handlers struct {
	Auth        *AuthHandler
	Roles       *RolesHandler
	Permissions *PermissionsHandler
	Users       *UsersHandler
	Metrics     echo.HandlerFunc
}

func newEcho(m Middleware, logger ports.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = NewErrorHandler(logger)
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	for _, mw := range []echo.MiddlewareFunc{m.XRay, m.Metrics, m.RequestLogger} {
		if mw != nil {
			e.Use(mw)
		}
	}
	return e
}

func NewRouter(h Handlers, guard adaptermiddleware.Guard, m Middleware, logger ports.Logger) *echo.Echo {
	e := newEcho(m, logger)

	e.GET("/health", Health)
	if h.Metrics != nil {
		e.GET("/metrics", h.Metrics)
	}

	var limited []echo.MiddlewareFunc
	if m.LoginLimiter != nil {
		limited = append(limited, m.LoginLimiter)
	}
	authenticated := adaptermiddleware.RequireUser(guard)
	userManager := adaptermiddleware.Require(guard, application.HasPermission(application.PermissionUserManage))
	admin := adaptermiddleware.Require(guard, application.AnyRole(application.RoleAdmin))

	e.POST("/auth/login", h.Auth.Login, limited...)
	e.POST("/auth/refresh", h.Auth.Refresh, limited...)
	e.POST("/auth/register", h.Auth.Register, userManager)
	e.GET("/auth/me", h.Auth.Me, authenticated)
	e.GET("/me", h.Auth.Me, authenticated)

	roles := e.Group("/roles", admin)
	roles.GET("", h.Roles.List)
	roles.POST("", h.Roles.Create)
	roles.POST("/:name/permissions", h.Roles.GrantPermission)

	permissions := e.Group("/permissions", admin)
	permissions.GET("", h.Permissions.List)
	permissions.POST("", h.Permissions.Create)

	users := e.Group("/users", userManager)
	users.GET("/:id", h.Users.Get)
	users.POST("/:id/roles", h.Users.AssignRole)

	return e
}
