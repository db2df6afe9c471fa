package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestXRayMiddleware_OpensSegmentForHandler(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/me", nil), httptest.NewRecorder())

	var traced bool
	h := XRayMiddleware("identity-service")(func(c echo.Context) error {
		seg := xray.GetSegment(c.Request().Context())
		traced = seg != nil && seg.Name == "identity-service"
		return c.NoContent(http.StatusNoContent)
	})

	require.NoError(t, h(c))
	assert.True(t, traced)
	assert.Equal(t, http.StatusNoContent, c.Response().Status)
}

func TestXRayMiddleware_RendersHandlerError(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/roles", nil), httptest.NewRecorder())

	h := XRayMiddleware("identity-service")(func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusForbidden, "forbidden")
	})

	assert.Error(t, h(c))
	assert.Equal(t, http.StatusForbidden, c.Response().Status)
}
