package fingerprint

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOf_KeyOrderIndependent(t *testing.T) {
	var a, b map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{"family": "Doe", "given": ["Jane", "Q"], "period": {"start": "2001", "end": null}}`), &a))
	require.NoError(t, json.Unmarshal([]byte(`{"period": {"end": null, "start": "2001"}, "given": ["Jane", "Q"], "family": "Doe"}`), &b))

	assert.Equal(t, Of(a), Of(b))
	assert.Len(t, Of(a), 64)
}

func TestOf_ArrayOrderMatters(t *testing.T) {
	assert.NotEqual(t,
		Of(map[string]any{"given": []any{"Jane", "Q"}}),
		Of(map[string]any{"given": []any{"Q", "Jane"}}))
}

func TestResource_IgnoresMeta(t *testing.T) {
	before := map[string]any{
		"resourceType": "Patient",
		"birthDate":    "1980-01-01",
		"meta":         map[string]any{"versionId": "1", "lastUpdated": "2024-01-01T00:00:00Z"},
	}
	after := map[string]any{
		"resourceType": "Patient",
		"birthDate":    "1980-01-01",
		"meta":         map[string]any{"versionId": "2", "lastUpdated": "2024-02-01T00:00:00Z"},
	}
	assert.Equal(t, Resource(before), Resource(after))

	after["birthDate"] = "1980-01-02"
	assert.NotEqual(t, Resource(before), Resource(after))
}

func TestOfWithExclusions_NestedPath(t *testing.T) {
	a := map[string]any{"address": map[string]any{"city": "Boston", "period": map[string]any{"start": "2001"}}}
	b := map[string]any{"address": map[string]any{"city": "Boston", "period": map[string]any{"start": "2019"}}}

	exclude := map[string]bool{"address.period": true}
	assert.Equal(t, OfWithExclusions(a, exclude), OfWithExclusions(b, exclude))
	assert.NotEqual(t, Of(a), Of(b))
}

func TestFromJSON(t *testing.T) {
	fp, err := FromJSON(json.RawMessage(`{"b": 1, "a": [true, "x"]}`))
	require.NoError(t, err)
	assert.Equal(t, Of(map[string]any{"a": []any{true, "x"}, "b": float64(1)}), fp)

	_, err = FromJSON(json.RawMessage(`{`))
	assert.Error(t, err)
}
