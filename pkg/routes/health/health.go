// Package health reports dependency status for probes and operators
package health

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

const checkTimeout = 2 * time.Second

// Check pings one dependency
type Check func(ctx context.Context) error

// Status values reported per check and overall
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

type registered struct {
	check    Check
	optional bool
}

// Checker aggregates dependency checks. A failing critical check makes the
// service unhealthy and not ready; a failing optional check only degrades it.
type Checker struct {
	mu        sync.RWMutex
	checks    map[string]registered
	details   map[string]func() any
	version   string
	startTime time.Time
	ready     atomic.Bool
}

func NewChecker(version string) *Checker {
	return &Checker{
		checks:    make(map[string]registered),
		details:   make(map[string]func() any),
		version:   version,
		startTime: time.Now(),
	}
}

// AddCheck registers a critical dependency. Nil checks are ignored.
func (c *Checker) AddCheck(name string, check Check) {
	c.add(name, check, false)
}

// AddOptionalCheck registers a dependency the service can run without
func (c *Checker) AddOptionalCheck(name string, check Check) {
	c.add(name, check, true)
}

func (c *Checker) add(name string, check Check, optional bool) {
	if check == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = registered{check: check, optional: optional}
}

// AddDetail adds a value computed on every report, such as the active rule set version
func (c *Checker) AddDetail(name string, fn func() any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.details[name] = fn
}

func (c *Checker) SetReady(ready bool) {
	c.ready.Store(ready)
}

func (c *Checker) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", c.Health)
	e.GET("/health/live", c.Live)
	e.GET("/health/ready", c.Ready)
}

// Report is the /health response
type Report struct {
	Status     string                  `json:"status"`
	Version    string                  `json:"version"`
	Uptime     string                  `json:"uptime"`
	Checks     map[string]*CheckResult `json:"checks"`
	Details    map[string]any          `json:"details,omitempty"`
	ReportedAt time.Time               `json:"reported_at"`
}

type CheckResult struct {
	Status   string `json:"status"`
	Optional bool   `json:"optional,omitempty"`
	Message  string `json:"message,omitempty"`
	Latency  string `json:"latency,omitempty"`
}

// Run executes every check concurrently, each bounded by checkTimeout
func (c *Checker) Run(ctx context.Context) *Report {
	c.mu.RLock()
	checks := make(map[string]registered, len(c.checks))
	for name, r := range c.checks {
		checks[name] = r
	}
	details := make(map[string]any, len(c.details))
	for name, fn := range c.details {
		details[name] = fn()
	}
	c.mu.RUnlock()

	report := &Report{
		Status:     StatusHealthy,
		Version:    c.version,
		Uptime:     time.Since(c.startTime).Round(time.Second).String(),
		Checks:     make(map[string]*CheckResult, len(checks)),
		ReportedAt: time.Now().UTC(),
	}
	if len(details) > 0 {
		report.Details = details
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for name, r := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := runCheck(ctx, r)
			mu.Lock()
			defer mu.Unlock()
			report.Checks[name] = result
		}()
	}
	wg.Wait()

	for _, result := range report.Checks {
		switch {
		case result.Status == StatusHealthy:
		case result.Optional:
			if report.Status == StatusHealthy {
				report.Status = StatusDegraded
			}
		default:
			report.Status = StatusUnhealthy
		}
	}
	return report
}

func runCheck(ctx context.Context, r registered) *CheckResult {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	start := time.Now()
	if err := r.check(ctx); err != nil {
		return &CheckResult{Status: StatusUnhealthy, Optional: r.optional, Message: err.Error()}
	}
	return &CheckResult{Status: StatusHealthy, Optional: r.optional, Latency: time.Since(start).String()}
}

// Health reports every check; 503 only when a critical check fails
func (c *Checker) Health(ctx echo.Context) error {
	report := c.Run(ctx.Request().Context())
	code := http.StatusOK
	if report.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	return ctx.JSON(code, report)
}

func (c *Checker) Live(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]string{"status": "alive"})
}

// Ready requires startup to have finished and every critical check to pass
func (c *Checker) Ready(ctx echo.Context) error {
	if !c.ready.Load() {
		return ctx.JSON(http.StatusServiceUnavailable, map[string]string{"status": "starting"})
	}
	if report := c.Run(ctx.Request().Context()); report.Status == StatusUnhealthy {
		return ctx.JSON(http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
	}
	return ctx.JSON(http.StatusOK, map[string]string{"status": "ready"})
}
