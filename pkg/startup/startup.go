// Package startup brings service dependencies up in dependency order,
// retrying the whole sequence with a fibonacci backoff until every
// dependency is started or the attempts run out.
package startup

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Gobusters/ectologger"
)

type Dependency interface {
	GetName() string
	DependsOn() []string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type Status int

const (
	StatusPending Status = iota
	StatusStarted
	StatusStopped
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusStarted:
		return "started"
	case StatusStopped:
		return "stopped"
	case StatusFailed:
		return "failed"
	default:
		return "pending"
	}
}

type Startup struct {
	dependencies map[string]Dependency
	order        []string
	started      []string
	statuses     map[string]Status
	logger       ectologger.Logger
	maxAttempts  int
	backoffUnit  time.Duration
}

func NewStartup(logger ectologger.Logger, maxAttempts int) *Startup {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Startup{
		dependencies: make(map[string]Dependency),
		statuses:     make(map[string]Status),
		logger:       logger,
		maxAttempts:  maxAttempts,
		backoffUnit:  time.Second,
	}
}

// AddDependency registers a dependency. Registration order breaks ties
// between dependencies that do not depend on each other.
func (s *Startup) AddDependency(dependency Dependency) {
	name := dependency.GetName()
	if _, ok := s.dependencies[name]; !ok {
		s.order = append(s.order, name)
	}
	s.dependencies[name] = dependency
}

// Status returns the current status of a dependency
func (s *Startup) Status(name string) Status {
	return s.statuses[name]
}

// Start starts every dependency. A failed attempt keeps the dependencies
// that did start and retries the rest after 1s, 1s, 2s, 3s, 5s...
func (s *Startup) Start(ctx context.Context) error {
	if err := s.validate(); err != nil {
		return err
	}

	var lastErr error
	a, b := 1, 1
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		log := s.logger.WithContext(ctx).WithField("attempt", attempt)
		log.Infof("Beginning startup attempt %d", attempt)

		lastErr = nil
		for _, name := range s.order {
			if err := s.startDependency(ctx, name); err != nil {
				log.WithError(err).Errorf("Startup dependency '%s' attempt %d failed", name, attempt)
				lastErr = err
				break
			}
		}
		if lastErr == nil {
			return nil
		}
		if attempt == s.maxAttempts {
			break
		}

		wait := time.Duration(a) * s.backoffUnit
		log.Infof("Retrying in %s (attempt %d/%d)", wait, attempt, s.maxAttempts)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		a, b = b, a+b
	}

	return fmt.Errorf("startup failed after %d attempts: %w", s.maxAttempts, lastErr)
}

// validate rejects unknown dependency names and cycles before anything starts
func (s *Startup) validate() error {
	const (
		unvisited = iota
		visiting
		visited
	)
	state := make(map[string]int, len(s.dependencies))

	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		dependency, ok := s.dependencies[name]
		if !ok {
			return fmt.Errorf("dependency %q required by %q is not registered", name, path[len(path)-1])
		}
		switch state[name] {
		case visiting:
			return fmt.Errorf("dependency cycle: %v -> %s", path, name)
		case visited:
			return nil
		}
		state[name] = visiting
		for _, dep := range dependency.DependsOn() {
			if err := visit(dep, append(path, name)); err != nil {
				return err
			}
		}
		state[name] = visited
		return nil
	}

	names := append([]string(nil), s.order...)
	sort.Strings(names)
	for _, name := range names {
		if err := visit(name, []string{"startup"}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Startup) startDependency(ctx context.Context, name string) error {
	if s.statuses[name] == StatusStarted {
		return nil
	}
	dependency := s.dependencies[name]

	for _, dep := range dependency.DependsOn() {
		if err := s.startDependency(ctx, dep); err != nil {
			return err
		}
	}

	log := s.logger.WithContext(ctx).WithField("dependency", name)
	log.Infof("Starting dependency '%s'", name)
	s.statuses[name] = StatusPending
	if err := dependency.Start(ctx); err != nil {
		s.statuses[name] = StatusFailed
		log.WithError(err).Errorf("Failed to start dependency '%s'", name)
		return fmt.Errorf("%s: %w", name, err)
	}
	s.statuses[name] = StatusStarted
	s.started = append(s.started, name)
	return nil
}

// Stop stops started dependencies in reverse start order, so nothing is
// stopped while a dependent is still running. Every dependency is stopped
// even if one fails; the first error is returned.
func (s *Startup) Stop(ctx context.Context) error {
	var firstErr error
	for i := len(s.started) - 1; i >= 0; i-- {
		name := s.started[i]
		if s.statuses[name] != StatusStarted {
			continue
		}

		log := s.logger.WithContext(ctx).WithField("dependency", name)
		log.Infof("Stopping dependency '%s'", name)
		if err := s.dependencies[name].Stop(ctx); err != nil {
			log.WithError(err).Errorf("Failed to stop dependency '%s'", name)
			s.statuses[name] = StatusFailed
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", name, err)
			}
			continue
		}
		s.statuses[name] = StatusStopped
		log.Infof("Dependency '%s' stopped", name)
	}
	s.started = nil
	return firstErr
}
