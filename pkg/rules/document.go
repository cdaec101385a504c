// Package rules loads, validates and evaluates weighted field-matcher rule sets
package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/Ramsey-B/sage/pkg/mdmerror"
)

// Document is the rule set as written by operators, in JSON or YAML
type Document struct {
	Version                string         `json:"version" yaml:"version"`
	EIDSystem              string         `json:"eidSystem" yaml:"eidSystem"`
	MatchThreshold         *float64       `json:"matchThreshold" yaml:"matchThreshold" validate:"required,gte=0"`
	PossibleMatchThreshold *float64       `json:"possibleMatchThreshold" yaml:"possibleMatchThreshold" validate:"required,gte=0"`
	Rules                  []RuleDocument `json:"rules" yaml:"rules" validate:"required,min=1,dive"`
}

// RuleDocument is one weighted matcher applied to one field path
type RuleDocument struct {
	Name          string         `json:"name" yaml:"name" validate:"required"`
	Matcher       string         `json:"matcher" yaml:"matcher" validate:"required"`
	Weight        float64        `json:"weight" yaml:"weight" validate:"gt=0,lte=100"`
	AppliesTo     string         `json:"appliesTo" yaml:"appliesTo" validate:"required"`
	Normalizers   []string       `json:"normalizers,omitempty" yaml:"normalizers,omitempty"`
	Params        map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
	Blocking      bool           `json:"blocking,omitempty" yaml:"blocking,omitempty"`
	ResourceTypes []string       `json:"resourceTypes,omitempty" yaml:"resourceTypes,omitempty" validate:"dive,oneof=Patient Practitioner"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ParseDocument decodes a JSON or YAML rule set and checks its structure.
// Every failure is a configuration error.
func ParseDocument(data []byte) (*Document, error) {
	var doc Document

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, mdmerror.Configuration("rule set document is empty")
	}

	if trimmed[0] == '{' {
		decoder := json.NewDecoder(bytes.NewReader(trimmed))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&doc); err != nil {
			return nil, mdmerror.Configuration("failed to parse rule set JSON: %v", err)
		}
	} else {
		decoder := yaml.NewDecoder(bytes.NewReader(trimmed))
		decoder.KnownFields(true)
		if err := decoder.Decode(&doc); err != nil {
			return nil, mdmerror.Configuration("failed to parse rule set YAML: %v", err)
		}
	}

	if err := validate.Struct(&doc); err != nil {
		return nil, mdmerror.Configuration("invalid rule set: %v", err)
	}

	if *doc.PossibleMatchThreshold > *doc.MatchThreshold {
		return nil, mdmerror.Configuration("possibleMatchThreshold %v must not exceed matchThreshold %v",
			*doc.PossibleMatchThreshold, *doc.MatchThreshold)
	}

	return &doc, nil
}

// ReadDocument reads and parses a rule set file
func ReadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, mdmerror.Configuration("failed to read rule set %s: %v", path, err)
	}
	return ParseDocument(data)
}

// Float64 returns a pointer to v, for building documents in code
func Float64(v float64) *float64 {
	return &v
}

func (d *Document) String() string {
	return fmt.Sprintf("ruleset(version=%s rules=%d match=%v possible=%v)",
		d.Version, len(d.Rules), *d.MatchThreshold, *d.PossibleMatchThreshold)
}
