package app

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/sage/config"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/pipeline"
)

const testRules = `
version: "1"
matchThreshold: 1.0
possibleMatchThreshold: 0.5
rules:
  - {name: given, matcher: exact, weight: 0.5, appliesTo: "name[0].given[0]"}
  - {name: family, matcher: exact, weight: 0.5, appliesTo: "name[0].family", blocking: true}
`

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testRules), 0o600))

	return &config.Config{
		AppName:                       "sage",
		Version:                       "test",
		Port:                          0,
		StartupMaxAttempts:            1,
		HttpServerReadTimeoutSeconds:  5,
		HttpServerWriteTimeoutSeconds: 5,
		HttpServerIdleTimeoutSeconds:  5,
		ReadHeaderTimeoutSeconds:      5,
		RulesPath:                     path,
		Store:                         config.StoreMemory,
		PipelineEnabled:               true,
		ConcurrentConsumers:           2,
		PipelineQueueSize:             10,
		PipelineRecordTimeout:         5 * time.Second,
		PipelineMaxRetries:            1,
		PipelineInitialBackoff:        time.Millisecond,
		PipelineMaxBackoff:            time.Millisecond,
		PipelineBackoffMultiplier:     2,
		TracingProtocol:               "grpc",
	}
}

func patient(id, given, family string) *models.Record {
	return &models.Record{
		ID:           id,
		ResourceType: models.ResourceTypePatient,
		Resource: map[string]any{
			"resourceType": "Patient",
			"id":           id,
			"name":         []any{map[string]any{"given": []any{given}, "family": family}},
		},
	}
}

func TestApp_MemoryLifecycle(t *testing.T) {
	ctx := context.Background()
	a := New(testConfig(t), testLogger())
	require.NoError(t, a.Start(ctx))
	base := "http://" + a.Addr()

	resp, err := http.Get(base + "/health/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/health")
	require.NoError(t, err)
	var report map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	resp.Body.Close()
	assert.Equal(t, "healthy", report["status"])
	assert.Equal(t, map[string]any{"rules_version": "1", "pipeline_enabled": true}, report["details"])

	for _, id := range []string{"a", "b"} {
		require.NoError(t, a.Stores.Records.Put(ctx, patient(id, "Jane", "Doe")))
		require.NoError(t, a.Pipeline.Submit(ctx, id))
		flushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		require.NoError(t, a.Pipeline.Flush(flushCtx))
		cancel()
	}

	linksA, err := a.Stores.Links.FindBySource(ctx, "a")
	require.NoError(t, err)
	require.Len(t, linksA, 1)

	resp, err = http.Post(base+"/operations/linksForSource", "application/json", strings.NewReader(`{"sourceId": "b"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var linksB []models.Link
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&linksB))
	require.Len(t, linksB, 1)
	assert.Equal(t, linksA[0].GoldenID, linksB[0].GoldenID)
	assert.Equal(t, models.MatchResultMatch, linksB[0].MatchResult)

	dlqResp, err := http.Post(base+"/operations/deadLetters", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer dlqResp.Body.Close()
	require.Equal(t, http.StatusOK, dlqResp.StatusCode)
	var letters []pipeline.DeadLetter
	require.NoError(t, json.NewDecoder(dlqResp.Body).Decode(&letters))
	assert.Empty(t, letters)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(stopCtx))
	assert.ErrorIs(t, a.Pipeline.Submit(ctx, "c"), pipeline.ErrStopped)
}

func TestApp_BadRulesFailStartup(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.RulesPath, []byte(`{"matchThreshold": 0.1, "possibleMatchThreshold": 0.9, "rules": []}`), 0o600))

	a := New(cfg, testLogger())
	err := a.Start(context.Background())
	require.Error(t, err)
	assert.Empty(t, a.Addr(), "the HTTP server never starts without a rule set")
	require.NoError(t, a.Stop(context.Background()))
}

func TestApp_DisabledPipelineSkipsConsumer(t *testing.T) {
	cfg := testConfig(t)
	cfg.PipelineEnabled = false
	cfg.KafkaConsumerEnabled = true

	a := New(cfg, testLogger())
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() { _ = a.Stop(context.Background()) })

	assert.Nil(t, a.consumer)
	assert.ErrorIs(t, a.Pipeline.Submit(context.Background(), "a"), pipeline.ErrDisabled)
}
