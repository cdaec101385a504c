package models

import "time"

// MatchResult is the classification of a pair of records
type MatchResult string

const (
	MatchResultMatch             MatchResult = "MATCH"
	MatchResultPossibleMatch     MatchResult = "POSSIBLE_MATCH"
	MatchResultNoMatch           MatchResult = "NO_MATCH"
	MatchResultPossibleDuplicate MatchResult = "POSSIBLE_DUPLICATE" // golden-to-golden only
)

// IsValid reports whether the match result is a known value
func (m MatchResult) IsValid() bool {
	switch m {
	case MatchResultMatch, MatchResultPossibleMatch, MatchResultNoMatch, MatchResultPossibleDuplicate:
		return true
	}
	return false
}

// LinkSource records who made a link decision
type LinkSource string

const (
	LinkSourceAuto   LinkSource = "AUTO"
	LinkSourceManual LinkSource = "MANUAL"
)

// IsValid reports whether the link source is a known value
func (s LinkSource) IsValid() bool {
	return s == LinkSourceAuto || s == LinkSourceManual
}

// Link is a persisted decision between a source record and a golden record.
// For golden-to-golden links SourceID holds the golden with the smaller id.
type Link struct {
	ID           string       `json:"id" db:"id"`
	SourceID     string       `json:"sourceId" db:"source_id"`
	GoldenID     string       `json:"goldenId" db:"golden_id"`
	ResourceType ResourceType `json:"resourceType" db:"resource_type"`
	MatchResult  MatchResult  `json:"matchResult" db:"match_result"`
	LinkSource   LinkSource   `json:"linkSource" db:"link_source"`
	Score        float64      `json:"score" db:"score"`
	Version      int          `json:"version" db:"version"`
	CreatedAt    time.Time    `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time    `json:"updatedAt" db:"updated_at"`
}

// SameDecision reports whether two links carry the same decision content
func (l *Link) SameDecision(other *Link) bool {
	return l.MatchResult == other.MatchResult &&
		l.LinkSource == other.LinkSource &&
		l.Score == other.Score
}

// IsManual reports whether the link was set by a reviewer
func (l *Link) IsManual() bool {
	return l.LinkSource == LinkSourceManual
}

// LinkChange describes a link write that changed stored content
type LinkChange struct {
	Previous *Link `json:"previous,omitempty"`
	Current  *Link `json:"current"`
}

// Created reports whether the change inserted a new link
func (c LinkChange) Created() bool {
	return c.Previous == nil
}
