// Package testhelpers starts throwaway infrastructure containers for
// integration tests. Every helper skips the calling test under -short.
package testhelpers

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Endpoint is a started container and where to reach it
type Endpoint struct {
	Container testcontainers.Container
	Host      string
	Port      string
}

// Postgres starts PostgreSQL and returns its DSN
func Postgres(t *testing.T) string {
	t.Helper()
	ep := start(t, testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "sage",
			"POSTGRES_PASSWORD": "sage",
			"POSTGRES_DB":       "sage",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}, "5432/tcp")
	return fmt.Sprintf("postgres://sage:sage@%s:%s/sage?sslmode=disable", ep.Host, ep.Port)
}

// Redis starts Redis and returns its endpoint
func Redis(t *testing.T) Endpoint {
	t.Helper()
	return start(t, testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor: wait.ForLog("Ready to accept connections").
			WithStartupTimeout(30 * time.Second),
	}, "6379/tcp")
}

// Memgraph starts Memgraph and returns its Bolt endpoint
func Memgraph(t *testing.T) Endpoint {
	t.Helper()
	return start(t, testcontainers.ContainerRequest{
		Image:        "memgraph/memgraph:2.14.0",
		ExposedPorts: []string{"7687/tcp"},
		Cmd:          []string{"--telemetry-enabled=false"},
		WaitingFor: wait.ForListeningPort("7687/tcp").
			WithStartupTimeout(60 * time.Second),
	}, "7687/tcp")
}

func start(t *testing.T, req testcontainers.ContainerRequest, port nat.Port) Endpoint {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("failed to start %s: %v", req.Image, err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get container host: %v", err)
	}
	mapped, err := container.MappedPort(ctx, port)
	if err != nil {
		t.Fatalf("failed to get container port: %v", err)
	}
	return Endpoint{Container: container, Host: host, Port: mapped.Port()}
}

// MigrationsDir returns the absolute path of the Postgres migrations
func MigrationsDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "db", "pg")
}
