package http

import (
	stdhttp "net/http"

	"github.com/labstack/echo/v4"
	adaptermiddleware "identity-service/internal/adapters/http/middleware"
	"identity-service/internal/application"
	"identity-service/internal/domain"
)

// AuthObserver receives login and refresh outcomes.
type AuthObserver interface {
	ObserveAuth(event, outcome string)
}

type AuthHandler struct {
	auth     *application.AuthService
	users    *application.UserService
	observer AuthObserver
}

func NewAuthHandler(auth *application.AuthService, users *application.UserService, observer AuthObserver) *AuthHandler {
	return &AuthHandler{auth: auth, users: users, observer: observer}
}

func (h *AuthHandler) observe(event string, err error) {
	if h.observer == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		_, body := errorCode(err)
		outcome = body.Code
	}
	h.observer.ObserveAuth(event, outcome)
}

func (h *AuthHandler) Login(c echo.Context) error {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		return handleError(c, domain.ErrInvalidInput)
	}
	pair, err := h.auth.Login(c.Request().Context(), req.Email, req.Password)
	h.observe("login", err)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(stdhttp.StatusOK, pair)
}

func (h *AuthHandler) Refresh(c echo.Context) error {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.Bind(&req); err != nil {
		return handleError(c, domain.ErrInvalidInput)
	}
	pair, err := h.auth.Refresh(c.Request().Context(), req.RefreshToken)
	h.observe("refresh", err)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(stdhttp.StatusOK, pair)
}

func (h *AuthHandler) Register(c echo.Context) error {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		FullName string `json:"full_name"`
	}
	if err := c.Bind(&req); err != nil {
		return handleError(c, domain.ErrInvalidInput)
	}
	user, err := h.users.Register(c.Request().Context(), application.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		FullName: req.FullName,
	})
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(stdhttp.StatusCreated, user.Profile())
}

func (h *AuthHandler) Me(c echo.Context) error {
	user, ok := adaptermiddleware.CurrentUser(c)
	if !ok {
		return handleError(c, domain.ErrUnauthenticated)
	}
	return c.JSON(stdhttp.StatusOK, user.Profile())
}

type RolesHandler struct{ service *application.RoleService }

func NewRolesHandler(service *application.RoleService) *RolesHandler {
	return &RolesHandler{service: service}
}

func (h *RolesHandler) Create(c echo.Context) error {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.Bind(&req); err != nil {
		return handleError(c, domain.ErrInvalidInput)
	}
	role, err := h.service.Create(c.Request().Context(), req.Name)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(stdhttp.StatusCreated, role)
}

func (h *RolesHandler) List(c echo.Context) error {
	roles, err := h.service.List(c.Request().Context())
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(stdhttp.StatusOK, roles)
}

func (h *RolesHandler) GrantPermission(c echo.Context) error {
	var req struct {
		Code string `json:"code"`
	}
	if err := c.Bind(&req); err != nil {
		return handleError(c, domain.ErrInvalidInput)
	}
	if err := h.service.GrantPermission(c.Request().Context(), c.Param("name"), req.Code); err != nil {
		return handleError(c, err)
	}
	return c.NoContent(stdhttp.StatusNoContent)
}

type PermissionsHandler struct {
	service *application.PermissionService
}

func NewPermissionsHandler(service *application.PermissionService) *PermissionsHandler {
	return &PermissionsHandler{service: service}
}

func (h *PermissionsHandler) Create(c echo.Context) error {
	var req struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	}
	if err := c.Bind(&req); err != nil {
		return handleError(c, domain.ErrInvalidInput)
	}
	permission, err := h.service.Create(c.Request().Context(), req.Code, req.Description)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(stdhttp.StatusCreated, permission)
}

func (h *PermissionsHandler) List(c echo.Context) error {
	permissions, err := h.service.List(c.Request().Context())
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(stdhttp.StatusOK, permissions)
}

type UsersHandler struct{ service *application.UserService }

func NewUsersHandler(service *application.UserService) *UsersHandler {
	return &UsersHandler{service: service}
}

func (h *UsersHandler) AssignRole(c echo.Context) error {
	var req struct {
		Role string `json:"role"`
	}
	if err := c.Bind(&req); err != nil {
		return handleError(c, domain.ErrInvalidInput)
	}
	err := h.service.AssignRole(c.Request().Context(), c.Param("id"), req.Role)
	if err != nil {
		return handleError(c, err)
	}
	return c.NoContent(stdhttp.StatusNoContent)
}

func (h *UsersHandler) Get(c echo.Context) error {
	user, err := h.service.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(stdhttp.StatusOK, user.Profile())
}

func Health(c echo.Context) error {
	return c.JSON(stdhttp.StatusOK, map[string]string{"status": "ok"})
}
