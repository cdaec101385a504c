package matching

import (
	"fmt"
	"strings"
	"time"
)

type datePrecision int

const (
	precisionYear datePrecision = iota
	precisionMonth
	precisionDay
)

// DefaultDateWindowDays is the decay window used when a date rule sets none
const DefaultDateWindowDays = 365

// parseDate accepts FHIR date and dateTime values: YYYY, YYYY-MM, YYYY-MM-DD or RFC3339
func parseDate(value string) (time.Time, datePrecision, bool) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(time.DateOnly, value); err == nil {
		return t, precisionDay, true
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		y, m, d := t.UTC().Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), precisionDay, true
	}
	if t, err := time.Parse("2006-01", value); err == nil {
		return t, precisionMonth, true
	}
	if t, err := time.Parse("2006", value); err == nil {
		return t, precisionYear, true
	}
	return time.Time{}, 0, false
}

func truncateDate(t time.Time, p datePrecision) time.Time {
	switch p {
	case precisionYear:
		return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	case precisionMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return t
	}
}

// DateScore compares two date strings at the coarser of their precisions.
// Unparseable values score 0.0.
func (s *Scorer) DateScore(a, b string, windowDays int) float64 {
	ta, pa, okA := parseDate(a)
	tb, pb, okB := parseDate(b)
	if !okA || !okB {
		return 0.0
	}

	p := min(pa, pb)
	ta, tb = truncateDate(ta, p), truncateDate(tb, p)
	if ta.Equal(tb) {
		return 1.0
	}
	return s.DateProximity(ta, tb, windowDays)
}

func dateFactory(scorer *Scorer) Factory {
	return func(params Params) (Matcher, error) {
		window, err := params.Float("windowDays", DefaultDateWindowDays)
		if err != nil {
			return nil, err
		}
		if window < 0 {
			return nil, fmt.Errorf("windowDays must not be negative, got %v", window)
		}
		windowDays := int(window)
		return MatcherFunc(func(a, b Values) float64 {
			return bestPair(a, b, func(x, y string) float64 {
				return scorer.DateScore(x, y, windowDays)
			})
		}), nil
	}
}
