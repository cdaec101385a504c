package events

import (
	"github.com/Ramsey-B/sage/pkg/kafka"
	"github.com/Ramsey-B/sage/pkg/models"
)

// EventType defines the type of event
type EventType string

const (
	// A link between a record and a golden record was created
	EventTypeLinkCreated EventType = "link.created"
	// An existing link changed its match result, source or score
	EventTypeLinkUpdated EventType = "link.updated"
	// Two golden records were flagged as possible duplicates
	EventTypeDuplicateFlagged EventType = "duplicate.flagged"
)

// SchemaVersion is the current event schema version
const SchemaVersion = "1.0"

// TypeOf classifies a link change
func TypeOf(change models.LinkChange) EventType {
	current := change.Current
	flagged := current.MatchResult == models.MatchResultPossibleDuplicate
	if flagged && (change.Created() || change.Previous.MatchResult != models.MatchResultPossibleDuplicate) {
		return EventTypeDuplicateFlagged
	}
	if change.Created() {
		return EventTypeLinkCreated
	}
	return EventTypeLinkUpdated
}

// NewLinkEvent builds the wire event for a link change
func NewLinkEvent(change models.LinkChange) *kafka.LinkEvent {
	link := change.Current
	event := &kafka.LinkEvent{
		EventType:     string(TypeOf(change)),
		SchemaVersion: SchemaVersion,
		LinkID:        link.ID,
		SourceID:      link.SourceID,
		GoldenID:      link.GoldenID,
		ResourceType:  string(link.ResourceType),
		MatchResult:   string(link.MatchResult),
		LinkSource:    string(link.LinkSource),
		Score:         link.Score,
		Version:       link.Version,
		Timestamp:     link.UpdatedAt.UTC(),
	}
	if change.Previous != nil {
		event.PreviousMatch = string(change.Previous.MatchResult)
	}
	return event
}
