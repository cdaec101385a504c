package middleware

import (
	"net/http"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/sage/pkg/appctx"
)

// Logger writes one line per request after the error handler has set the
// status. Server errors log at error level and client errors at warn.
func Logger(logger ectologger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}

			req, res := c.Request(), c.Response()
			ctx := req.Context()
			fields := appctx.Fields(ctx)
			fields["status"] = res.Status
			fields["route"] = c.Path()
			fields["uri"] = req.RequestURI
			fields["user_agent"] = req.UserAgent()
			fields["latency_ms"] = time.Since(start).Milliseconds()
			fields["bytes_in"] = req.ContentLength
			fields["bytes_out"] = res.Size

			log := logger.WithContext(ctx).WithFields(fields)
			switch {
			case res.Status >= http.StatusInternalServerError:
				log.Error("Request failed")
			case res.Status >= http.StatusBadRequest:
				log.Warn("Request rejected")
			default:
				log.Info("Request")
			}
			return nil
		}
	}
}
