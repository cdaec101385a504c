package matching

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Ramsey-B/sage/pkg/normalizers"
)

// Values is the flattened list of strings a field path produced for one record.
// Single-valued fields carry one element; missing fields carry none.
type Values []string

// Present returns the non-blank values
func (v Values) Present() Values {
	out := make(Values, 0, len(v))
	for _, value := range v {
		if strings.TrimSpace(value) != "" {
			out = append(out, value)
		}
	}
	return out
}

// Matcher compares the values of one field on two records.
// Score is total: a missing value on either side scores 0.0.
type Matcher interface {
	Score(a, b Values) float64
}

// KeyedMatcher is a matcher that scores 0.0 for every pair sharing no blocking key
type KeyedMatcher interface {
	Matcher
	BlockingKeys(v Values) []string
}

// MatcherFunc adapts a function to the Matcher interface
type MatcherFunc func(a, b Values) float64

func (f MatcherFunc) Score(a, b Values) float64 {
	return f(a, b)
}

// Params are the per-rule matcher options from the rule set document
type Params map[string]any

// Float returns a numeric parameter or the default
func (p Params) Float(key string, def float64) (float64, error) {
	raw, ok := p[key]
	if !ok || raw == nil {
		return def, nil
	}
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("param %q must be a number, got %T", key, raw)
	}
}

// Bool returns a boolean parameter or the default
func (p Params) Bool(key string, def bool) (bool, error) {
	raw, ok := p[key]
	if !ok || raw == nil {
		return def, nil
	}
	v, ok := raw.(bool)
	if !ok {
		return false, fmt.Errorf("param %q must be a boolean, got %T", key, raw)
	}
	return v, nil
}

// Factory builds a matcher from its rule params
type Factory func(params Params) (Matcher, error)

// Registry maps matcher names to factories. Names are case-insensitive.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry holding every built-in matcher
func DefaultRegistry() *Registry {
	r := NewRegistry()
	scorer := NewScorer()

	r.Register("exact", exactFactory(scorer))
	r.Register("string", normalizedFactory(scorer))
	r.Register("normalized", normalizedFactory(scorer))
	r.Register("metaphone", phoneticFactory(scorer.Metaphone))
	r.Register("soundex", phoneticFactory(scorer.Soundex))
	r.Register("jaro_winkler", similarityFactory(scorer.JaroWinkler))
	r.Register("levenshtein", similarityFactory(scorer.Levenshtein))
	r.Register("date", dateFactory(scorer))
	r.Register("identifier", overlapFactory())
	r.Register("list_overlap", overlapFactory())
	r.Register("name_any_order", nameAnyOrderFactory(scorer))

	return r
}

// Register adds or replaces a matcher factory
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToLower(name)] = factory
}

// Has reports whether a matcher name is known
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[strings.ToLower(name)]
	return ok
}

// Names returns the registered matcher names in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build constructs the named matcher with its params
func (r *Registry) Build(name string, params Params) (Matcher, error) {
	r.mu.RLock()
	factory, ok := r.factories[strings.ToLower(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown matcher %q", name)
	}
	return factory(params)
}

// bestPair returns the highest pairwise score across both value lists
func bestPair(a, b Values, score func(x, y string) float64) float64 {
	a, b = a.Present(), b.Present()
	best := 0.0
	for _, x := range a {
		for _, y := range b {
			s := clamp(score(x, y))
			if s > best {
				best = s
			}
			if best == 1.0 {
				return best
			}
		}
	}
	return best
}

func clamp(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func distinctKeys(v Values, key func(string) string) []string {
	seen := make(map[string]struct{}, len(v))
	keys := make([]string, 0, len(v))
	for _, value := range v.Present() {
		k := key(value)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}

type keyedMatcher struct {
	score func(a, b Values) float64
	key   func(string) string
}

func (m keyedMatcher) Score(a, b Values) float64 {
	return m.score(a, b)
}

func (m keyedMatcher) BlockingKeys(v Values) []string {
	return distinctKeys(v, m.key)
}

func exactFactory(scorer *Scorer) Factory {
	return func(params Params) (Matcher, error) {
		caseSensitive, err := params.Bool("caseSensitive", true)
		if err != nil {
			return nil, err
		}
		key := func(s string) string { return s }
		if !caseSensitive {
			key = strings.ToLower
		}
		return keyedMatcher{
			score: func(a, b Values) float64 {
				return bestPair(a, b, func(x, y string) float64 { return scorer.ExactMatch(x, y, caseSensitive) })
			},
			key: key,
		}, nil
	}
}

// normalizeText folds case, accents and whitespace
func normalizeText(s string) string {
	return normalizers.CollapseWhitespace(strings.ToLower(normalizers.FoldAccents(s)))
}

func normalizedFactory(scorer *Scorer) Factory {
	return func(Params) (Matcher, error) {
		return keyedMatcher{
			score: func(a, b Values) float64 {
				return bestPair(a, b, func(x, y string) float64 {
					return scorer.ExactMatch(normalizeText(x), normalizeText(y), true)
				})
			},
			key: normalizeText,
		}, nil
	}
}

func phoneticFactory(encode func(string) string) Factory {
	return func(Params) (Matcher, error) {
		return keyedMatcher{
			score: func(a, b Values) float64 {
				return bestPair(a, b, func(x, y string) float64 {
					cx, cy := encode(normalizers.FoldAccents(x)), encode(normalizers.FoldAccents(y))
					if cx == "" || cx != cy {
						return 0.0
					}
					return 1.0
				})
			},
			key: func(s string) string { return encode(normalizers.FoldAccents(s)) },
		}, nil
	}
}

func similarityFactory(similarity func(a, b string) float64) Factory {
	return func(params Params) (Matcher, error) {
		floor, err := params.Float("minSimilarity", 0)
		if err != nil {
			return nil, err
		}
		if floor < 0 || floor > 1 {
			return nil, fmt.Errorf("minSimilarity must be within [0,1], got %v", floor)
		}
		return MatcherFunc(func(a, b Values) float64 {
			return bestPair(a, b, func(x, y string) float64 {
				s := similarity(normalizeText(x), normalizeText(y))
				if s < floor {
					return 0.0
				}
				return s
			})
		}), nil
	}
}

func overlapFactory() Factory {
	return func(Params) (Matcher, error) {
		return keyedMatcher{
			score: func(a, b Values) float64 {
				return bestPair(a, b, func(x, y string) float64 {
					if strings.TrimSpace(x) == strings.TrimSpace(y) {
						return 1.0
					}
					return 0.0
				})
			},
			key: strings.TrimSpace,
		}, nil
	}
}

func nameAnyOrderFactory(scorer *Scorer) Factory {
	return func(Params) (Matcher, error) {
		return MatcherFunc(func(a, b Values) float64 {
			var ta, tb []string
			for _, v := range a.Present() {
				ta = append(ta, Tokenize(normalizers.FoldAccents(v))...)
			}
			for _, v := range b.Present() {
				tb = append(tb, Tokenize(normalizers.FoldAccents(v))...)
			}
			return clamp(scorer.TokenDice(ta, tb))
		}), nil
	}
}
