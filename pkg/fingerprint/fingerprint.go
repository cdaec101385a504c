// Package fingerprint hashes FHIR-shaped JSON values independent of map
// key order
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// RecordExclusions are resource fields that change without changing what
// a record says about its subject
var RecordExclusions = map[string]bool{"meta": true, "text": true}

// Of returns the SHA256 of the canonical form of a JSON value
func Of(value any) string {
	return OfWithExclusions(value, nil)
}

// OfWithExclusions hashes a value, skipping the given dot-notation paths.
// Excluding a path excludes everything below it.
func OfWithExclusions(value any, exclude map[string]bool) string {
	var b strings.Builder
	canonicalize(&b, value, exclude, "")
	hash := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(hash[:])
}

// Resource fingerprints a resource body, ignoring RecordExclusions
func Resource(resource map[string]any) string {
	return OfWithExclusions(resource, RecordExclusions)
}

// FromJSON fingerprints raw JSON
func FromJSON(data json.RawMessage) (string, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return "", err
	}
	return Of(v), nil
}

func canonicalize(b *strings.Builder, value any, exclude map[string]bool, path string) {
	switch v := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			if !excluded(join(path, k), exclude) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)

		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			key, _ := json.Marshal(k)
			b.Write(key)
			b.WriteByte(':')
			canonicalize(b, v[k], exclude, join(path, k))
		}
		b.WriteByte('}')
	case []any:
		// array elements share their parent's path
		b.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				b.WriteByte(',')
			}
			canonicalize(b, item, exclude, path)
		}
		b.WriteByte(']')
	default:
		encoded, _ := json.Marshal(v)
		b.Write(encoded)
	}
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func excluded(path string, exclude map[string]bool) bool {
	if len(exclude) == 0 {
		return false
	}
	if exclude[path] {
		return true
	}
	for prefix := range exclude {
		if strings.HasPrefix(path, prefix+".") {
			return true
		}
	}
	return false
}
