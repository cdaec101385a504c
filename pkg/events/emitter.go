// Package events publishes link decisions for downstream consumers
package events

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sage/pkg/kafka"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

// Publisher sends link events to the event topic
type Publisher interface {
	PublishLinkEvents(ctx context.Context, events ...*kafka.LinkEvent) error
}

// Emitter turns committed link changes into events. It is registered as a
// link observer, so it only ever sees committed changes.
type Emitter struct {
	publisher Publisher
	logger    ectologger.Logger
}

// NewEmitter creates a new event emitter
func NewEmitter(publisher Publisher, logger ectologger.Logger) *Emitter {
	return &Emitter{
		publisher: publisher,
		logger:    logger,
	}
}

// LinkChanged publishes one event per change. Publishing failures are logged;
// the link decision itself is already committed.
func (e *Emitter) LinkChanged(ctx context.Context, change models.LinkChange) {
	if err := e.EmitLinkChange(ctx, change); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"source_id": change.Current.SourceID,
			"golden_id": change.Current.GoldenID,
		}).Error("Failed to emit link event")
	}
}

// EmitLinkChange publishes the event for a single link change
func (e *Emitter) EmitLinkChange(ctx context.Context, change models.LinkChange) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitLinkChange")
	defer span.End()

	return e.publisher.PublishLinkEvents(ctx, NewLinkEvent(change))
}
