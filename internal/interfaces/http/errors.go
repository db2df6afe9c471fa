package http

import (
	"errors"
	stdhttp "net/http"

	"github.com/labstack/echo/v4"
	"identity-service/internal/domain"
	"identity-service/internal/ports"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type errorKind struct {
	target error
	status int
	code   string
}

// Order matters only for errors that wrap more than one sentinel.
var errorKinds = []errorKind{
	{domain.ErrInvalidCredentials, stdhttp.StatusUnauthorized, "invalid_credentials"},
	{domain.ErrWrongTokenKind, stdhttp.StatusUnauthorized, "wrong_token_kind"},
	{domain.ErrInvalidToken, stdhttp.StatusUnauthorized, "invalid_token"},
	{domain.ErrUnauthenticated, stdhttp.StatusUnauthorized, "unauthenticated"},
	{domain.ErrForbidden, stdhttp.StatusForbidden, "forbidden"},
	{domain.ErrDuplicateEmail, stdhttp.StatusBadRequest, "duplicate_email"},
	{domain.ErrInvalidInput, stdhttp.StatusBadRequest, "invalid_input"},
	{domain.ErrNotFound, stdhttp.StatusNotFound, "not_found"},
	{domain.ErrAlreadyExists, stdhttp.StatusConflict, "already_exists"},
}

// errorCode maps err onto a status, a stable code and a client-safe message.
// Wrapped details never reach the client.
func errorCode(err error) (int, errorResponse) {
	for _, k := range errorKinds {
		if errors.Is(err, k.target) {
			return k.status, errorResponse{Error: k.target.Error(), Code: k.code}
		}
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := stdhttp.StatusText(he.Code)
		if s, ok := he.Message.(string); ok {
			msg = s
		}
		return he.Code, errorResponse{Error: msg, Code: codeForStatus(he.Code)}
	}
	return stdhttp.StatusInternalServerError, errorResponse{Error: "internal error", Code: "internal"}
}

func codeForStatus(status int) string {
	switch status {
	case stdhttp.StatusNotFound:
		return "not_found"
	case stdhttp.StatusMethodNotAllowed:
		return "method_not_allowed"
	case stdhttp.StatusTooManyRequests:
		return "rate_limited"
	case stdhttp.StatusUnauthorized:
		return "unauthenticated"
	case stdhttp.StatusForbidden:
		return "forbidden"
	}
	if status >= 500 {
		return "internal"
	}
	return "invalid_input"
}

func handleError(c echo.Context, err error) error {
	status, body := errorCode(err)
	return c.JSON(status, body)
}

// NewErrorHandler renders errors returned by handlers and middleware. It is a
// no-op once the response is committed.
func NewErrorHandler(logger ports.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		status, body := errorCode(err)
		if status >= stdhttp.StatusInternalServerError {
			logger.Error(c.Request().Context(), "request failed", "error", err, "path", c.Request().URL.Path)
		}
		if c.Request().Method == stdhttp.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, body)
		}
		if err != nil {
			logger.Error(c.Request().Context(), "write error response", "error", err)
		}
	}
}
