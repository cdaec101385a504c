// Package normalizers provides named string normalizers applied to field
// values before they reach a matcher
package normalizers

import (
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalizer is a function that normalizes a string value
type Normalizer func(string) string

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Normalizer)
)

func init() {
	Register("lowercase", Lowercase)
	Register("uppercase", Uppercase)
	Register("trim", Trim)
	Register("collapse_whitespace", CollapseWhitespace)
	Register("fold_accents", FoldAccents)
	Register("nphone", NormalizePhone)
	Register("nemail", NormalizeEmail)
	Register("naddress", NormalizeAddress)
	Register("remove_whitespace", RemoveWhitespace)
	Register("remove_punctuation", RemovePunctuation)
	Register("nname", NormalizeName)
	Register("digits_only", DigitsOnly)
	Register("alphanumeric", Alphanumeric)
	Register("gender", NormalizeGender)
	Register("date", NormalizeDate)
	Register("postal_code", NormalizePostalCode)
}

// Register adds a normalizer to the registry
func Register(name string, fn Normalizer) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = fn
}

// Get retrieves a normalizer by name
func Get(name string) (Normalizer, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	fn, ok := registry[name]
	return fn, ok
}

// Apply applies a named normalizer to a value. Unknown names leave the value unchanged.
func Apply(value, normalizer string) string {
	fn, ok := Get(normalizer)
	if !ok {
		return value
	}
	return fn(value)
}

// ApplyChain applies multiple normalizers in sequence
func ApplyChain(value string, normalizers ...string) string {
	result := value
	for _, name := range normalizers {
		result = Apply(result, name)
	}
	return result
}

// Lowercase converts string to lowercase
func Lowercase(s string) string {
	return strings.ToLower(s)
}

// Uppercase converts string to uppercase
func Uppercase(s string) string {
	return strings.ToUpper(s)
}

// Trim removes leading and trailing whitespace
func Trim(s string) string {
	return strings.TrimSpace(s)
}

// CollapseWhitespace trims and reduces every whitespace run to a single space
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// FoldAccents strips combining marks so "José" and "Jose" compare equal
func FoldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return folded
}

// NormalizePhone keeps the digits of a phone number and drops a leading
// North American country code
func NormalizePhone(s string) string {
	digits := DigitsOnly(s)
	if len(digits) == 11 && digits[0] == '1' {
		return digits[1:]
	}
	return digits
}

// NormalizeEmail normalizes an email address (lowercase, trim)
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// RemoveWhitespace removes all whitespace characters
func RemoveWhitespace(s string) string {
	var result strings.Builder
	for _, r := range s {
		if !unicode.IsSpace(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// RemovePunctuation removes all punctuation characters
func RemovePunctuation(s string) string {
	var result strings.Builder
	for _, r := range s {
		if !unicode.IsPunct(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// NormalizeName normalizes a person's name for matching
// - Lowercase and fold accents
// - Remove common suffixes (Jr., Sr., III, etc.)
// - Remove punctuation and extra whitespace
func NormalizeName(s string) string {
	s = strings.ToLower(FoldAccents(s))

	suffixes := []string{" jr.", " jr", " sr.", " sr", " iii", " ii", " iv", " phd", " md", " dds"}
	for _, suffix := range suffixes {
		if strings.HasSuffix(s, suffix) {
			s = s[:len(s)-len(suffix)]
		}
	}

	var result strings.Builder
	prevSpace := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			result.WriteRune(r)
			prevSpace = false
		} else if unicode.IsSpace(r) {
			if !prevSpace {
				result.WriteRune(' ')
				prevSpace = true
			}
		}
	}

	return strings.TrimSpace(result.String())
}

// DigitsOnly keeps only digit characters
func DigitsOnly(s string) string {
	var result strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// Alphanumeric keeps only alphanumeric characters
func Alphanumeric(s string) string {
	var result strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// addressWords maps address words onto their USPS abbreviation
var addressWords = map[string]string{
	"street": "st", "avenue": "ave", "boulevard": "blvd", "drive": "dr",
	"road": "rd", "lane": "ln", "court": "ct", "circle": "cir",
	"place": "pl", "apartment": "apt", "suite": "ste",
	"north": "n", "south": "s", "east": "e", "west": "w",
}

// NormalizeAddress lowercases an address line, drops punctuation and
// abbreviates whole words the way USPS does
func NormalizeAddress(s string) string {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return unicode.IsSpace(r) || r == ',' || r == '.'
	})
	for i, w := range words {
		if abbr, ok := addressWords[w]; ok {
			words[i] = abbr
		}
	}
	return strings.Join(words, " ")
}

// genders maps common spellings onto FHIR administrative gender codes
var genders = map[string]string{
	"m": "male", "male": "male", "man": "male",
	"f": "female", "female": "female", "woman": "female",
	"o": "other", "other": "other",
	"u": "unknown", "unk": "unknown", "unknown": "unknown",
}

// NormalizeGender maps a gender value onto male, female, other or unknown.
// Unrecognized values are lowercased and trimmed.
func NormalizeGender(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if code, ok := genders[s]; ok {
		return code
	}
	return s
}

// NormalizeDate truncates a FHIR date or dateTime to its date part
func NormalizeDate(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, 'T'); i >= 0 {
		s = s[:i]
	}
	return s
}

// NormalizePostalCode uppercases and strips spaces. US ZIP+4 codes are
// reduced to the five digit ZIP.
func NormalizePostalCode(s string) string {
	s = strings.ToUpper(RemoveWhitespace(s))
	if len(s) == 10 && s[5] == '-' && DigitsOnly(s) == s[:5]+s[6:] {
		return s[:5]
	}
	return s
}
