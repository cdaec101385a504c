package graph

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	graphpkg "github.com/Ramsey-B/sage/pkg/graph"
	"github.com/Ramsey-B/sage/pkg/mdmerror"
)

// Handler handles graph query API endpoints
type Handler struct {
	queryService *graphpkg.QueryService
}

// NewHandler creates a new graph handler
func NewHandler(queryService *graphpkg.QueryService) *Handler {
	return &Handler{queryService: queryService}
}

// Register registers the graph routes
func (h *Handler) Register(g *echo.Group) {
	g.GET("/goldens/:id/links", h.LinkedRecords)
	g.GET("/goldens/:id/duplicates", h.DuplicateCluster)
}

// LinkedRecords returns the records linked to a golden record
func (h *Handler) LinkedRecords(c echo.Context) error {
	linked, err := h.queryService.LinkedRecords(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mdmerror.Transient("%v", err)
	}
	return c.JSON(http.StatusOK, linked)
}

// DuplicateCluster returns the golden records transitively flagged as
// possible duplicates of a golden record
func (h *Handler) DuplicateCluster(c echo.Context) error {
	maxHops := 0
	if raw := c.QueryParam("maxHops"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 10 {
			return mdmerror.BadRequest("maxHops must be between 1 and 10")
		}
		maxHops = n
	}

	ids, err := h.queryService.DuplicateCluster(c.Request().Context(), c.Param("id"), maxHops)
	if err != nil {
		return mdmerror.Transient("%v", err)
	}
	return c.JSON(http.StatusOK, map[string]any{"goldenId": c.Param("id"), "duplicates": ids})
}
