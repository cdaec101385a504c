package matching

import (
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/agnivade/levenshtein"
)

// Scorer provides the string and value comparison algorithms matchers are built on.
// Every method is a pure function of its arguments.
type Scorer struct{}

// NewScorer creates a new Scorer
func NewScorer() *Scorer {
	return &Scorer{}
}

// ExactMatch returns 1.0 for exact match, 0.0 otherwise
func (s *Scorer) ExactMatch(a, b string, caseSensitive bool) float64 {
	if !caseSensitive {
		a = strings.ToLower(a)
		b = strings.ToLower(b)
	}
	if a == b {
		return 1.0
	}
	return 0.0
}

// JaroWinkler calculates the Jaro-Winkler similarity between two strings
// Returns a value between 0.0 (no similarity) and 1.0 (exact match)
func (s *Scorer) JaroWinkler(a, b string) float64 {
	if a == b {
		return 1.0
	}

	ra, rb := []rune(a), []rune(b)
	jaro := jaro(ra, rb)

	// Winkler boost for a common prefix of up to four runes
	prefixLen := 0
	for i := 0; i < len(ra) && i < len(rb) && i < 4; i++ {
		if ra[i] != rb[i] {
			break
		}
		prefixLen++
	}

	return jaro + float64(prefixLen)*0.1*(1.0-jaro)
}

func jaro(a, b []rune) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	matchDist := max(len(a), len(b))/2 - 1
	if matchDist < 0 {
		matchDist = 0
	}

	aMatches := make([]bool, len(a))
	bMatches := make([]bool, len(b))

	matches := 0
	for i := range a {
		start := max(0, i-matchDist)
		end := min(len(b), i+matchDist+1)

		for j := start; j < end; j++ {
			if bMatches[j] || a[i] != b[j] {
				continue
			}
			aMatches[i] = true
			bMatches[j] = true
			matches++
			break
		}
	}

	if matches == 0 {
		return 0.0
	}

	transpositions := 0
	k := 0
	for i := range a {
		if !aMatches[i] {
			continue
		}
		for !bMatches[k] {
			k++
		}
		if a[i] != b[k] {
			transpositions++
		}
		k++
	}

	m := float64(matches)
	t := float64(transpositions) / 2

	return (m/float64(len(a)) + m/float64(len(b)) + (m-t)/m) / 3
}

// Levenshtein returns an edit-distance similarity between 0.0 and 1.0
func (s *Scorer) Levenshtein(a, b string) float64 {
	maxLen := max(len([]rune(a)), len([]rune(b)))
	if maxLen == 0 {
		return 1.0
	}
	distance := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(distance)/float64(maxLen)
}

// Soundex calculates the Soundex encoding of a string
func (s *Scorer) Soundex(str string) string {
	var letters []rune
	for _, r := range strings.ToUpper(str) {
		if r >= 'A' && r <= 'Z' {
			letters = append(letters, r)
		}
	}
	if len(letters) == 0 {
		return ""
	}

	result := []byte{byte(letters[0])}
	prevCode := soundexCode(letters[0])

	for _, char := range letters[1:] {
		if len(result) == 4 {
			break
		}
		code := soundexCode(char)
		if code != '0' && code != prevCode {
			result = append(result, code)
		}
		// H and W do not separate letters with the same code
		if char != 'H' && char != 'W' {
			prevCode = code
		}
	}

	for len(result) < 4 {
		result = append(result, '0')
	}

	return string(result)
}

func soundexCode(char rune) byte {
	switch char {
	case 'B', 'F', 'P', 'V':
		return '1'
	case 'C', 'G', 'J', 'K', 'Q', 'S', 'X', 'Z':
		return '2'
	case 'D', 'T':
		return '3'
	case 'L':
		return '4'
	case 'M', 'N':
		return '5'
	case 'R':
		return '6'
	default:
		return '0'
	}
}

// Metaphone calculates a simplified Metaphone encoding
func (s *Scorer) Metaphone(str string) string {
	var letters strings.Builder
	for _, char := range strings.ToUpper(str) {
		if char >= 'A' && char <= 'Z' {
			letters.WriteRune(char)
		}
	}
	word := letters.String()
	if word == "" {
		return ""
	}

	// Initial letter exceptions
	switch {
	case strings.HasPrefix(word, "KN"), strings.HasPrefix(word, "GN"), strings.HasPrefix(word, "PN"), strings.HasPrefix(word, "WR"):
		word = word[1:]
	case strings.HasPrefix(word, "X"):
		word = "S" + word[1:]
	case strings.HasPrefix(word, "WH"):
		word = "W" + word[2:]
	}

	var metaphone strings.Builder
	prevCode := byte(0)

	for i := 0; i < len(word) && metaphone.Len() < 6; i++ {
		code := metaphoneCode(word[i], i, word)
		if code != 0 && code != prevCode {
			metaphone.WriteByte(code)
		}
		prevCode = code
	}

	return metaphone.String()
}

func metaphoneCode(char byte, pos int, word string) byte {
	next := byte(0)
	if pos+1 < len(word) {
		next = word[pos+1]
	}

	switch char {
	case 'A', 'E', 'I', 'O', 'U':
		if pos == 0 {
			return char
		}
		return 0
	case 'B':
		if pos == len(word)-1 && pos > 0 && word[pos-1] == 'M' {
			return 0
		}
		return 'B'
	case 'C':
		if next == 'H' {
			return 'X'
		}
		if next == 'I' || next == 'E' || next == 'Y' {
			return 'S'
		}
		return 'K'
	case 'D':
		return 'T'
	case 'G':
		if next == 'H' {
			return 0
		}
		if next == 'I' || next == 'E' || next == 'Y' {
			return 'J'
		}
		return 'K'
	case 'H':
		return 0
	case 'K':
		if pos > 0 && word[pos-1] == 'C' {
			return 0
		}
		return 'K'
	case 'P':
		if next == 'H' {
			return 'F'
		}
		return 'P'
	case 'Q':
		return 'K'
	case 'S':
		if next == 'H' {
			return 'X'
		}
		return 'S'
	case 'T':
		if next == 'H' {
			return '0'
		}
		return 'T'
	case 'V':
		return 'F'
	case 'W', 'Y':
		if strings.ContainsRune("AEIOU", rune(next)) {
			return char
		}
		return 0
	case 'X':
		return 'S'
	case 'Z':
		return 'S'
	default:
		return char
	}
}

// DateProximity calculates a proximity score for two dates
// Returns 1.0 for exact match, decreasing linearly to 0.0 at maxDaysDiff
func (s *Scorer) DateProximity(a, b time.Time, maxDaysDiff int) float64 {
	if a.IsZero() || b.IsZero() {
		return 0.0
	}

	daysDiff := math.Abs(a.Sub(b).Hours() / 24)
	if daysDiff == 0 {
		return 1.0
	}
	if maxDaysDiff <= 0 || daysDiff >= float64(maxDaysDiff) {
		return 0.0
	}

	return 1.0 - (daysDiff / float64(maxDaysDiff))
}

// TokenDice returns the Dice coefficient of the two token multisets,
// ignoring token order
func (s *Scorer) TokenDice(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	counts := make(map[string]int, len(a))
	for _, token := range a {
		counts[token]++
	}

	shared := 0
	for _, token := range b {
		if counts[token] > 0 {
			counts[token]--
			shared++
		}
	}

	return 2 * float64(shared) / float64(len(a)+len(b))
}

// Tokenize splits a value into lowercase word tokens
func Tokenize(value string) []string {
	return strings.FieldsFunc(strings.ToLower(value), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
