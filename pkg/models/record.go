package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ResourceType identifies the kind of person-like record being linked
type ResourceType string

const (
	ResourceTypePatient      ResourceType = "Patient"
	ResourceTypePractitioner ResourceType = "Practitioner"
)

// ResourceTypes lists every resource type the linker accepts
var ResourceTypes = []ResourceType{ResourceTypePatient, ResourceTypePractitioner}

// IsValid reports whether the resource type can be linked
func (t ResourceType) IsValid() bool {
	switch t {
	case ResourceTypePatient, ResourceTypePractitioner:
		return true
	}
	return false
}

// Record is a snapshot of an incoming or golden person-like record.
// Resource holds the FHIR-shaped document that rule field paths address.
type Record struct {
	ID           string         `json:"id" db:"id"`
	ResourceType ResourceType   `json:"resourceType" db:"resource_type"`
	Golden       bool           `json:"golden" db:"golden"`
	EIDs         []string       `json:"eids,omitempty" db:"-"`
	Resource     map[string]any `json:"resource" db:"-"`
	CreatedAt    time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time      `json:"updatedAt" db:"updated_at"`
}

// HasEID reports whether the record is tagged with the enterprise identifier
func (r *Record) HasEID(eid string) bool {
	for _, existing := range r.EIDs {
		if existing == eid {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so stores never share mutable state with callers
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	clone.EIDs = append([]string(nil), r.EIDs...)
	if r.Resource != nil {
		clone.Resource = cloneValue(r.Resource).(map[string]any)
	}
	return &clone
}

func cloneValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for k, val := range typed {
			out[k] = cloneValue(val)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, val := range typed {
			out[i] = cloneValue(val)
		}
		return out
	default:
		return v
	}
}

// ParseRecord reads a FHIR-shaped JSON resource into an incoming record.
// The resource must carry both resourceType and id.
func ParseRecord(data []byte) (*Record, error) {
	var resource map[string]any
	if err := json.Unmarshal(data, &resource); err != nil {
		return nil, fmt.Errorf("failed to parse resource: %w", err)
	}

	resourceType, _ := resource["resourceType"].(string)
	if !ResourceType(resourceType).IsValid() {
		return nil, fmt.Errorf("unsupported resource type %q", resourceType)
	}

	id, _ := resource["id"].(string)
	if id == "" {
		return nil, fmt.Errorf("resource is missing an id")
	}

	return &Record{
		ID:           id,
		ResourceType: ResourceType(resourceType),
		Resource:     resource,
	}, nil
}
