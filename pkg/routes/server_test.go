package routes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/sage/pkg/matching"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/operations"
	"github.com/Ramsey-B/sage/pkg/processor"
	"github.com/Ramsey-B/sage/pkg/routes/health"
	"github.com/Ramsey-B/sage/pkg/rules"
	"github.com/Ramsey-B/sage/pkg/store/memory"
)

const exactRules = `{
  "version": "7",
  "matchThreshold": 1,
  "possibleMatchThreshold": 0.5,
  "rules": [{"name": "family", "matcher": "exact", "weight": 1, "appliesTo": "name[0].family"}]
}`

func newTestServer(t *testing.T) (*echo.Echo, *memory.Store, *health.Checker) {
	t.Helper()
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	holder := rules.NewHolder(matching.DefaultRegistry(), logger)
	_, err := holder.LoadBytes(context.Background(), []byte(exactRules))
	require.NoError(t, err)

	s := memory.New()
	core := processor.Wire(s.Stores(), holder, logger)
	checker := health.NewChecker("test")

	e := NewServer("sage-test", Dependencies{
		Operations: operations.New(core, s, "", logger),
		Holder:     holder,
		Health:     checker,
	}, logger)
	return e, s, checker
}

func do(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestServer_Operations(t *testing.T) {
	e, s, _ := newTestServer(t)
	s.PutRecord(&models.Record{
		ID:           "A",
		ResourceType: models.ResourceTypePatient,
		Resource:     map[string]any{"resourceType": "Patient", "id": "A", "name": []any{map[string]any{"family": "Doe"}}},
	})

	rec := do(e, http.MethodGet, "/operations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), operations.OpUpdateLink)

	rec = do(e, http.MethodPost, "/operations/processRecord", `{"recordId": "A"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result processor.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.NotEmpty(t, result.Resolution.GoldenID)

	t.Run("error statuses follow the error kind", func(t *testing.T) {
		tests := []struct {
			path string
			body string
			code int
		}{
			{"/operations/updateLink", `{"sourceId": "A", "goldenId": "A", "matchResult": "MATCH"}`, http.StatusBadRequest},
			{"/operations/updateLink", `{"sourceId": "A", "goldenId": "` + result.Resolution.GoldenID + `", "matchResult": "POSSIBLE_DUPLICATE"}`, http.StatusConflict},
			{"/operations/linksForGolden", `{"goldenId": "nope"}`, http.StatusNotFound},
			{"/operations/reloadRules", `{}`, http.StatusUnprocessableEntity},
			{"/operations/nope", `{}`, http.StatusNotFound},
			{"/operations/updateLink", `not json`, http.StatusBadRequest},
		}
		for _, tt := range tests {
			rec := do(e, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.code, rec.Code, "%s %s: %s", tt.path, tt.body, rec.Body.String())
			assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
		}
	})
}

func TestServer_Rules(t *testing.T) {
	e, _, _ := newTestServer(t)

	rec := do(e, http.MethodGet, "/rules", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"version":"7"`)

	rec = do(e, http.MethodPost, "/rules/validate", "matchThreshold: 1\npossibleMatchThreshold: 0.5\nrules:\n  - {name: a, matcher: soundex, weight: 1, appliesTo: x}\n")
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(e, http.MethodPost, "/rules/validate", `{"matchThreshold": 1, "possibleMatchThreshold": 0.5, "rules": [{"name": "a", "matcher": "telepathy", "weight": 1, "appliesTo": "x"}]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(e, http.MethodGet, "/rules", "")
	assert.Contains(t, rec.Body.String(), `"version":"7"`, "validation never activates a rule set")
}

func TestServer_HealthAndMetrics(t *testing.T) {
	e, _, checker := newTestServer(t)

	rec := do(e, http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	checker.SetReady(true)
	rec = do(e, http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	checker.AddCheck("database", func(context.Context) error { return nil })
	rec = do(e, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	checker.AddCheck("redis", func(context.Context) error { return errors.New("connection refused") })
	rec = do(e, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
	rec = do(e, http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "a failing critical check fails readiness")

	rec = do(e, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sage_")
}
