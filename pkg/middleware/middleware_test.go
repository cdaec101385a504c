package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/sage/pkg/appctx"
	"github.com/Ramsey-B/sage/pkg/mdmerror"
)

func newEcho() *echo.Echo {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	e := echo.New()
	e.HTTPErrorHandler = Error(logger)
	e.Use(Context())
	return e
}

func TestError_MapsErrorKinds(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		kind    string
		message string
	}{
		{"configuration", mdmerror.Configuration("bad weight"), http.StatusUnprocessableEntity, "configuration", "configuration error: bad weight"},
		{"invalid transition", mdmerror.InvalidTransition("golden to golden MATCH"), http.StatusConflict, "invalid_transition", "invalid transition: golden to golden MATCH"},
		{"not found", mdmerror.NotFound("record x not found"), http.StatusNotFound, "not_found", "record x not found"},
		{"transient", mdmerror.Transient("store unavailable"), http.StatusServiceUnavailable, "transient", "store unavailable"},
		{"echo", echo.NewHTTPError(http.StatusMethodNotAllowed, "nope"), http.StatusMethodNotAllowed, "", "nope"},
		{"unclassified", errors.New("pq: connection reset"), http.StatusInternalServerError, "", "Internal Server Error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEcho()
			e.GET("/", func(c echo.Context) error { return tt.err })

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set(echo.HeaderXRequestID, "req-1")
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, "req-1", body.RequestID)
			assert.Equal(t, tt.kind, body.Kind)
			assert.Contains(t, body.Message, tt.message)
			if tt.status == http.StatusServiceUnavailable {
				assert.Equal(t, "5", rec.Header().Get("Retry-After"))
			}
		})
	}
}

func TestContext_SetsRequestMetadata(t *testing.T) {
	e := newEcho()
	var requestID, userID string
	e.GET("/", func(c echo.Context) error {
		requestID = appctx.GetRequestID(c.Request().Context())
		userID = appctx.GetUserID(c.Request().Context())
		return c.NoContent(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderUserID, "reviewer-7")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.NotEmpty(t, requestID)
	assert.Equal(t, requestID, rec.Header().Get(echo.HeaderXRequestID))
	assert.Equal(t, "reviewer-7", userID)
}

func TestLogger_PassesThroughErrors(t *testing.T) {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	e := newEcho()
	e.Use(Logger(logger))
	e.GET("/missing", func(c echo.Context) error {
		return mdmerror.NotFound("golden record %s not found", "g-1")
	})
	e.GET("/ok", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}
