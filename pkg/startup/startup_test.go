package startup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type recorder struct {
	events []string
}

func (r *recorder) dep(name string, requires ...string) *Func {
	return &Func{
		Name:     name,
		Requires: requires,
		OnStart: func(context.Context) error {
			r.events = append(r.events, "start:"+name)
			return nil
		},
		OnStop: func(context.Context) error {
			r.events = append(r.events, "stop:"+name)
			return nil
		},
	}
}

func TestStartup_DependencyOrder(t *testing.T) {
	rec := &recorder{}
	s := NewStartup(testLogger(), 1)
	s.AddDependency(rec.dep("http", "pipeline"))
	s.AddDependency(rec.dep("pipeline", "postgres", "redis"))
	s.AddDependency(rec.dep("postgres"))
	s.AddDependency(rec.dep("redis"))

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, []string{"start:postgres", "start:redis", "start:pipeline", "start:http"}, rec.events)
	assert.Equal(t, StatusStarted, s.Status("http"))

	rec.events = nil
	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, []string{"stop:http", "stop:pipeline", "stop:redis", "stop:postgres"}, rec.events)
	assert.Equal(t, StatusStopped, s.Status("postgres"))
}

func TestStartup_RetriesFailedDependency(t *testing.T) {
	rec := &recorder{}
	s := NewStartup(testLogger(), 3)
	s.backoffUnit = time.Millisecond

	failures := 2
	flaky := rec.dep("kafka", "postgres")
	flaky.OnStart = func(context.Context) error {
		if failures > 0 {
			failures--
			return errors.New("broker unavailable")
		}
		rec.events = append(rec.events, "start:kafka")
		return nil
	}
	s.AddDependency(rec.dep("postgres"))
	s.AddDependency(flaky)

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, []string{"start:postgres", "start:kafka"}, rec.events, "started dependencies are not restarted")
}

func TestStartup_GivesUp(t *testing.T) {
	s := NewStartup(testLogger(), 2)
	s.backoffUnit = time.Millisecond
	s.AddDependency(&Func{Name: "graph", OnStart: func(context.Context) error { return errors.New("refused") }})

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.Contains(t, err.Error(), "graph: refused")
	assert.Equal(t, StatusFailed, s.Status("graph"))
}

func TestStartup_InvalidGraph(t *testing.T) {
	t.Run("unknown dependency", func(t *testing.T) {
		s := NewStartup(testLogger(), 1)
		s.AddDependency(&Func{Name: "http", Requires: []string{"missing"}})
		assert.ErrorContains(t, s.Start(context.Background()), `"missing"`)
	})

	t.Run("cycle", func(t *testing.T) {
		s := NewStartup(testLogger(), 1)
		s.AddDependency(&Func{Name: "a", Requires: []string{"b"}})
		s.AddDependency(&Func{Name: "b", Requires: []string{"a"}})
		assert.ErrorContains(t, s.Start(context.Background()), "cycle")
	})
}

func TestStartup_StopContinuesAfterError(t *testing.T) {
	rec := &recorder{}
	s := NewStartup(testLogger(), 1)
	broken := rec.dep("consumer")
	broken.OnStop = func(context.Context) error { return errors.New("stuck") }
	s.AddDependency(rec.dep("store"))
	s.AddDependency(broken)

	require.NoError(t, s.Start(context.Background()))
	rec.events = nil

	err := s.Stop(context.Background())
	assert.ErrorContains(t, err, "consumer: stuck")
	assert.Equal(t, []string{"stop:store"}, rec.events)
}
