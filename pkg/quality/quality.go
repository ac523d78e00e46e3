// Package quality scores fetched records and arbitrates between competing sources.
// Everything here is pure: no I/O and no shared state.
package quality

import (
	"math"
	"sort"
	"strings"
)

// Weights of the four sub-scores. They sum to 1.
const (
	WeightCompleteness = 0.25
	WeightReliability  = 0.30
	WeightConsistency  = 0.20
	WeightValidation   = 0.25
)

// Inputs are the sub-scores of a record, each in [0,1].
type Inputs struct {
	Completeness float64 `json:"completeness"`
	Reliability  float64 `json:"reliability"`
	Consistency  float64 `json:"consistency"`
	Validation   float64 `json:"validation"`
}

// Scored is anything the arbiter can rank.
type Scored interface {
	QualityInputs() Inputs
	// Usable is true for successful or partial results.
	Usable() bool
	SourceName() string
}

// Score is the weighted sum of in's sub-scores. Sub-scores outside [0,1] are clamped.
func Score(in Inputs) float64 {
	return WeightCompleteness*clamp(in.Completeness) +
		WeightReliability*clamp(in.Reliability) +
		WeightConsistency*clamp(in.Consistency) +
		WeightValidation*clamp(in.Validation)
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Rank returns a copy of records sorted by descending score. Ties keep their input order.
func Rank[T Scored](records []T) []T {
	type scored struct {
		r     T
		score float64
	}
	tmp := make([]scored, len(records))
	for i, r := range records {
		tmp[i] = scored{r: r, score: Score(r.QualityInputs())}
	}
	sort.SliceStable(tmp, func(a, b int) bool { return tmp[a].score > tmp[b].score })
	out := make([]T, len(tmp))
	for i, t := range tmp {
		out[i] = t.r
	}
	return out
}

// FilterByMinQuality keeps records scoring at least min, in input order.
func FilterByMinQuality[T Scored](records []T, min float64) []T {
	var out []T
	for _, r := range records {
		if Score(r.QualityInputs()) >= min {
			out = append(out, r)
		}
	}
	return out
}

// Best returns the top-ranked usable record scoring at least min. ok is false when none qualifies.
func Best[T Scored](records []T, min float64) (best T, ok bool) {
	var usable []T
	for _, r := range records {
		if r.Usable() {
			usable = append(usable, r)
		}
	}
	ranked := Rank(FilterByMinQuality(usable, min))
	if len(ranked) == 0 {
		return best, false
	}
	return ranked[0], true
}

// Summary is a read-only reduction over a batch of records.
type Summary struct {
	Total   int      `json:"total"`
	Usable  int      `json:"usable"`
	Average float64  `json:"average"`
	Min     float64  `json:"min"`
	Max     float64  `json:"max"`
	Sources []string `json:"sources"`
}

// Evaluate summarises records. Score statistics cover every record; Sources is sorted and distinct.
func Evaluate[T Scored](records []T) Summary {
	s := Summary{Total: len(records)}
	if len(records) == 0 {
		return s
	}
	seen := map[string]bool{}
	s.Min = math.Inf(1)
	s.Max = math.Inf(-1)
	var sum float64
	for _, r := range records {
		if r.Usable() {
			s.Usable++
		}
		sc := Score(r.QualityInputs())
		sum += sc
		s.Min = math.Min(s.Min, sc)
		s.Max = math.Max(s.Max, sc)
		if name := r.SourceName(); name != "" && !seen[name] {
			seen[name] = true
			s.Sources = append(s.Sources, name)
		}
	}
	s.Average = sum / float64(len(records))
	sort.Strings(s.Sources)
	return s
}

// Completeness is the share of expected fields that were filled.
func Completeness(filled, expected int) float64 {
	if expected <= 0 {
		if filled > 0 {
			return 1
		}
		return 0
	}
	return clamp(float64(filled) / float64(expected))
}

// reliability of known sources, keyed by lower-case name
var reliability = map[string]float64{
	"brenda":    0.90,
	"sabio-rk":  0.85,
	"biomodels": 0.85,
	"expasy":    0.85,
	"reactome":  0.80,
	"kegg":      0.80,
	"local":     0.70,
	"heuristic": 0.30,
}

// DefaultReliability applies to sources missing from the table.
const DefaultReliability = 0.5

// SourceReliability returns the prior trust placed in a named source.
func SourceReliability(name string) float64 {
	if v, ok := reliability[strings.ToLower(strings.TrimSpace(name))]; ok {
		return v
	}
	return DefaultReliability
}
