// Package routes assembles the HTTP surface
package routes

import (
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Ramsey-B/sage/pkg/graph"
	"github.com/Ramsey-B/sage/pkg/middleware"
	"github.com/Ramsey-B/sage/pkg/operations"
	graphroutes "github.com/Ramsey-B/sage/pkg/routes/graph"
	"github.com/Ramsey-B/sage/pkg/routes/health"
	opsroutes "github.com/Ramsey-B/sage/pkg/routes/operations"
	rulesroutes "github.com/Ramsey-B/sage/pkg/routes/rules"
	"github.com/Ramsey-B/sage/pkg/rules"
)

// Dependencies are the services the HTTP surface exposes. Graph is optional.
type Dependencies struct {
	Operations *operations.Operations
	Holder     *rules.Holder
	Health     *health.Checker
	Graph      *graph.QueryService
}

// NewServer builds the echo server with the shared middleware stack
func NewServer(serviceName string, deps Dependencies, logger ectologger.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(logger)

	e.Use(echomw.Recover())
	e.Use(otelecho.Middleware(serviceName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))

	deps.Health.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	opsroutes.NewHandler(deps.Operations).Register(e.Group("/operations"))
	rulesroutes.NewHandler(deps.Holder).Register(e.Group("/rules"))
	if deps.Graph != nil {
		graphroutes.NewHandler(deps.Graph).Register(e.Group("/graph"))
	}

	return e
}
