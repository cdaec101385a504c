package middleware

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/sage/pkg/appctx"
	"github.com/Ramsey-B/sage/pkg/mdmerror"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

// RetryAfterSeconds is advertised on transient failures
const RetryAfterSeconds = 5

type ErrorResponse struct {
	Message   string         `json:"message"`
	Kind      string         `json:"kind,omitempty"`
	RequestID string         `json:"request_id"`
	TraceID   string         `json:"trace_id"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// Error renders handler errors as ErrorResponse. Linker error kinds keep
// their status code and message; anything unclassified is a 500 whose
// detail only reaches the log.
func Error(logger ectologger.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		ctx := c.Request().Context()

		resp := ErrorResponse{
			Message:   http.StatusText(http.StatusInternalServerError),
			Kind:      mdmerror.Kind(err),
			RequestID: appctx.GetRequestID(ctx),
			TraceID:   tracing.GetTraceID(ctx),
		}
		code := http.StatusInternalServerError

		var echoErr *echo.HTTPError
		switch {
		case httperror.IsHTTPError(err):
			httpErr := httperror.ToHTTPError(err)
			code = httperror.GetStatusCode(err)
			resp.Message = httpErr.Error()
			resp.Meta = httpErr.Meta
		case errors.As(err, &echoErr):
			code = echoErr.Code
			if msg, ok := echoErr.Message.(string); ok {
				resp.Message = msg
			} else {
				resp.Message = http.StatusText(code)
			}
		}

		if code == mdmerror.StatusTransient {
			c.Response().Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds))
		}

		log := logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"status": code,
			"kind":   resp.Kind,
		})
		if code >= http.StatusInternalServerError {
			log.Error("Request failed")
		} else {
			log.Warn("Request rejected")
		}

		_ = c.JSON(code, resp)
	}
}
