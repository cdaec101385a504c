package normalizers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizers(t *testing.T) {
	tests := []struct {
		normalizer string
		input      string
		want       string
	}{
		{"nname", "  José  O'Neil Jr.", "jose oneil"},
		{"fold_accents", "Zoë Ångström", "Zoe Angstrom"},
		{"nphone", "+1 (617) 555-0100", "6175550100"},
		{"nphone", "020 7946 0018", "02079460018"},
		{"nemail", " Jane.Doe@Example.COM ", "jane.doe@example.com"},
		{"naddress", "12  North Main Street", "12 n main st"},
		{"naddress", "4 Southgate Rd., Apt 2", "4 southgate rd apt 2"},
		{"collapse_whitespace", " a \t b\n c ", "a b c"},
		{"gender", " F ", "female"},
		{"gender", "Nonbinary", "nonbinary"},
		{"date", "1980-01-02T10:00:00Z", "1980-01-02"},
		{"date", "1980-01", "1980-01"},
		{"postal_code", "02139-4307", "02139"},
		{"postal_code", "sw1a 1aa", "SW1A1AA"},
		{"unknown_normalizer", "Kept", "Kept"},
	}

	for _, tt := range tests {
		t.Run(tt.normalizer+"/"+tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, Apply(tt.input, tt.normalizer))
		})
	}
}

func TestApplyChain(t *testing.T) {
	assert.Equal(t, "JOSE", ApplyChain("  josé ", "trim", "fold_accents", "uppercase"))
	assert.Equal(t, "value", ApplyChain("value"))
}

func TestRegister(t *testing.T) {
	Register("reverse_test", func(s string) string {
		r := []rune(s)
		for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
			r[i], r[j] = r[j], r[i]
		}
		return string(r)
	})
	fn, ok := Get("reverse_test")
	assert.True(t, ok)
	assert.Equal(t, "cba", fn("abc"))
}
