package aggregate

import (
	"math"
	"sort"
	"strings"

	"erasmusjourney/internal/forms"
)

// Accumulator sums the values that were actually supplied so averages ignore
// submissions that left a field out.
type Accumulator struct {
	Sum   float64
	Count int
}

// Add parses v leniently and records it when it is a positive number.
// Absent, non-numeric and non-positive values are treated as not supplied.
func (a *Accumulator) Add(v any) bool {
	f, ok := forms.ParseNumber(v)
	if !ok || f <= 0 {
		return false
	}
	a.Sum += f
	a.Count++
	return true
}

// Average is Sum/Count, or 0 for an empty accumulator.
func (a Accumulator) Average() float64 {
	if a.Count == 0 {
		return 0
	}
	return a.Sum / float64(a.Count)
}

// stringSet de-duplicates case-insensitively and keeps the first spelling seen.
type stringSet map[string]string

func (s stringSet) add(value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	key := strings.ToLower(value)
	if _, ok := s[key]; !ok {
		s[key] = value
	}
}

func (s stringSet) sorted() []string {
	out := make([]string, 0, len(s))
	for _, v := range s {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i]) < strings.ToLower(out[j])
	})
	return out
}

func locationKey(city, country string) string {
	return strings.ToLower(strings.TrimSpace(city)) + "|" + strings.ToLower(strings.TrimSpace(country))
}

// round2 keeps currency values readable in JSON.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
