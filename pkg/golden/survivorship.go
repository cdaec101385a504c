package golden

import (
	"github.com/Ramsey-B/sage/pkg/fingerprint"
	"github.com/Ramsey-B/sage/pkg/models"
)

// DefaultCollectFields are multi-valued resource fields whose entries are
// unioned into the golden record rather than filled once
var DefaultCollectFields = []string{"identifier", "name", "telecom", "address"}

// reserved fields belong to the golden record itself
var reserved = map[string]bool{"id": true, "resourceType": true, "meta": true}

// Survivorship folds a matched incoming record into its golden record
type Survivorship struct {
	collect map[string]bool
}

func NewSurvivorship(collectFields []string) *Survivorship {
	s := &Survivorship{collect: make(map[string]bool, len(collectFields))}
	for _, field := range collectFields {
		s.collect[field] = true
	}
	return s
}

// Merge copies the record's EIDs and field values into the golden record.
// Filled golden fields are never overwritten; collected fields gain the
// entries they lack. It reports whether the golden record changed.
func (s *Survivorship) Merge(golden, record *models.Record, eids []string) bool {
	changed := false
	for _, eid := range eids {
		if !golden.HasEID(eid) {
			golden.EIDs = append(golden.EIDs, eid)
			changed = true
		}
	}

	if golden.Resource == nil {
		golden.Resource = map[string]any{}
	}
	incoming := record.Clone().Resource
	for field, value := range incoming {
		if reserved[field] || isEmpty(value) {
			continue
		}
		existing := golden.Resource[field]
		switch {
		case isEmpty(existing):
			golden.Resource[field] = value
			changed = true
		case s.collect[field]:
			if merged, ok := collectAll(existing, value); ok {
				golden.Resource[field] = merged
				changed = true
			}
		}
	}
	return changed
}

// collectAll appends the entries of value missing from existing
func collectAll(existing, value any) ([]any, bool) {
	current, ok := existing.([]any)
	if !ok {
		current = []any{existing}
	}
	additions, ok := value.([]any)
	if !ok {
		additions = []any{value}
	}

	seen := make(map[string]bool, len(current))
	for _, v := range current {
		seen[fingerprint.Of(v)] = true
	}

	merged := append([]any(nil), current...)
	for _, v := range additions {
		key := fingerprint.Of(v)
		if seen[key] || isEmpty(v) {
			continue
		}
		seen[key] = true
		merged = append(merged, v)
	}
	return merged, len(merged) > len(current)
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	switch val := v.(type) {
	case string:
		return val == ""
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	default:
		return false
	}
}
