package operations

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/sage/pkg/mdmerror"
	ops "github.com/Ramsey-B/sage/pkg/operations"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

const maxBodyBytes = 1 << 20

// Handler exposes the operation table over HTTP
type Handler struct {
	operations *ops.Operations
}

// NewHandler creates a new operations handler
func NewHandler(operations *ops.Operations) *Handler {
	return &Handler{operations: operations}
}

// Register registers the operation routes
func (h *Handler) Register(g *echo.Group) {
	g.GET("", h.List)
	g.POST("/:name", h.Invoke)
}

// List returns the available operation names
func (h *Handler) List(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string][]string{"operations": h.operations.Names()})
}

// Invoke runs the named operation with the JSON request body as parameters
func (h *Handler) Invoke(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "operations_handler.Invoke")
	defer span.End()

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodyBytes))
	if err != nil {
		return mdmerror.BadRequest("invalid request body")
	}
	if len(body) > 0 && !json.Valid(body) {
		return mdmerror.BadRequest("request body must be JSON")
	}

	result, err := h.operations.Invoke(ctx, c.Param("name"), body)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}
