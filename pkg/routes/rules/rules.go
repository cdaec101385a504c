package rules

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/sage/pkg/mdmerror"
	rulespkg "github.com/Ramsey-B/sage/pkg/rules"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

// RuleSetResponse describes a compiled rule set
type RuleSetResponse struct {
	Version                string         `json:"version"`
	EIDSystem              string         `json:"eidSystem,omitempty"`
	MatchThreshold         float64        `json:"matchThreshold"`
	PossibleMatchThreshold float64        `json:"possibleMatchThreshold"`
	Rules                  []RuleResponse `json:"rules"`
	Warnings               []string       `json:"warnings,omitempty"`
}

// RuleResponse describes one compiled rule
type RuleResponse struct {
	Name     string  `json:"name"`
	Matcher  string  `json:"matcher"`
	Weight   float64 `json:"weight"`
	Field    string  `json:"appliesTo"`
	Blocking bool    `json:"blocking"`
}

// Handler serves the active rule set and validates candidate documents
type Handler struct {
	holder *rulespkg.Holder
}

// NewHandler creates a new rules handler
func NewHandler(holder *rulespkg.Holder) *Handler {
	return &Handler{holder: holder}
}

// Register registers the rule routes
func (h *Handler) Register(g *echo.Group) {
	g.GET("", h.Current)
	g.POST("/validate", h.Validate)
}

// Current returns the active rule set
func (h *Handler) Current(c echo.Context) error {
	rs, err := h.holder.Current()
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, Describe(rs))
}

// Validate compiles a JSON or YAML rule set document without activating it
func (h *Handler) Validate(c echo.Context) error {
	_, span := tracing.StartSpan(c.Request().Context(), "rules_handler.Validate")
	defer span.End()

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, 1<<20))
	if err != nil {
		return mdmerror.BadRequest("invalid request body")
	}

	doc, err := rulespkg.ParseDocument(body)
	if err != nil {
		return err
	}
	rs, err := rulespkg.Compile(doc, h.holder.Registry())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, Describe(rs))
}

// Describe converts a compiled rule set to its response form
func Describe(rs *rulespkg.RuleSet) RuleSetResponse {
	out := RuleSetResponse{
		Version:                rs.Version,
		EIDSystem:              rs.EIDSystem,
		MatchThreshold:         rs.MatchThreshold,
		PossibleMatchThreshold: rs.PossibleMatchThreshold,
		Rules:                  make([]RuleResponse, len(rs.Rules)),
		Warnings:               rs.Warnings,
	}
	for i, rule := range rs.Rules {
		out.Rules[i] = RuleResponse{
			Name:     rule.Name,
			Matcher:  rule.MatcherName,
			Weight:   rule.Weight,
			Field:    rule.Field,
			Blocking: rule.Blocking,
		}
	}
	return out
}
