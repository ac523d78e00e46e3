// Package kinetics holds the domain model shared by the inference engine, the parameter
// store and the enrichment pipeline.
package kinetics

import (
	"strings"
	"time"
)

// Regime is the firing behaviour of a transition in the Petri-net simulation.
type Regime string

const (
	RegimeInstantaneous Regime = "instantaneous"
	RegimeDelayed       Regime = "delayed"
	RegimeStochastic    Regime = "stochastic"
	RegimeContinuous    Regime = "continuous"
	RegimeUnknown       Regime = "unknown"
)

// ParseRegime maps a free-form regime attribute to a Regime. The Petri-net names
// "immediate" and "timed" are accepted as aliases.
func ParseRegime(s string) Regime {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "instantaneous", "immediate":
		return RegimeInstantaneous
	case "delayed", "timed":
		return RegimeDelayed
	case "stochastic":
		return RegimeStochastic
	case "continuous":
		return RegimeContinuous
	default:
		return RegimeUnknown
	}
}

// Semantics describes qualitative biological behaviour, independent of the regime.
type Semantics string

const (
	SemanticsBurst              Semantics = "burst"
	SemanticsDeterministicDelay Semantics = "deterministic-delay"
	SemanticsMassAction         Semantics = "mass-action"
	SemanticsEnzymeKinetics     Semantics = "enzyme-kinetics"
	SemanticsRegulation         Semantics = "regulation"
	SemanticsTransport          Semantics = "transport"
	SemanticsUnknown            Semantics = "unknown"
)

// Arc is a weighted connection between a reaction and a place holding a quantity.
type Arc struct {
	Weight   float64 `json:"weight"`
	Quantity float64 `json:"quantity"`
}

// Capability flags the optional attributes a ReactionRecord carries.
type Capability uint8

const (
	HasRegime Capability = 1 << iota
	HasRateExpression
	HasDelay
	HasPriority
)

// ReactionRecord is the read-only view of a transition handed to the core.
type ReactionRecord struct {
	// ID is the transition id inside the model.
	ID string `json:"id"`
	// ReactionID is a database reaction identifier such as a KEGG R number.
	ReactionID string `json:"reaction_id,omitempty"`
	Label      string `json:"label,omitempty"`
	ECNumber   string `json:"ec_number,omitempty"`
	EnzymeName string `json:"enzyme_name,omitempty"`
	Organism   string `json:"organism,omitempty"`

	Regime         string   `json:"regime,omitempty"`
	RateExpression string   `json:"rate_expression,omitempty"`
	Delay          *float64 `json:"delay,omitempty"`
	Priority       *int     `json:"priority,omitempty"`

	Inputs  []Arc `json:"inputs,omitempty"`
	Outputs []Arc `json:"outputs,omitempty"`
}

// Capabilities reports which optional attributes are present.
func (r ReactionRecord) Capabilities() Capability {
	var c Capability
	if strings.TrimSpace(r.Regime) != "" {
		c |= HasRegime
	}
	if strings.TrimSpace(r.RateExpression) != "" {
		c |= HasRateExpression
	}
	if r.Delay != nil {
		c |= HasDelay
	}
	if r.Priority != nil {
		c |= HasPriority
	}
	return c
}

// Has reports whether all flags in f are set.
func (c Capability) Has(f Capability) bool { return c&f == f }

// Text returns the label and enzyme name joined, used for keyword matching.
func (r ReactionRecord) Text() string {
	return strings.TrimSpace(r.Label + " " + r.EnzymeName)
}

// InstantaneousParams apply to immediately firing transitions.
type InstantaneousParams struct {
	Priority int     `json:"priority"`
	Weight   float64 `json:"weight"`
}

// DelayedParams apply to deterministic-delay transitions.
type DelayedParams struct {
	Delay    float64 `json:"delay"`
	TimeUnit string  `json:"time_unit"`
}

// StochasticParams apply to exponentially distributed firing.
type StochasticParams struct {
	Lambda         float64  `json:"lambda"`
	ForwardRate    *float64 `json:"forward_rate,omitempty"`
	ReverseRate    *float64 `json:"reverse_rate,omitempty"`
	RateExpression string   `json:"rate_expression,omitempty"`
}

// ContinuousParams are Michaelis-Menten enzyme kinetics.
type ContinuousParams struct {
	Vmax        float64  `json:"vmax"`
	Km          float64  `json:"km"`
	Kcat        *float64 `json:"kcat,omitempty"`
	Ki          *float64 `json:"ki,omitempty"`
	Hill        *float64 `json:"hill,omitempty"`
	Temperature float64  `json:"temperature"`
	PH          float64  `json:"ph"`
}

// ParameterSet is a tagged union: exactly one variant pointer matching Regime is set.
type ParameterSet struct {
	Regime     Regime    `json:"regime"`
	Semantics  Semantics `json:"semantics"`
	ECNumber   string    `json:"ec_number,omitempty"`
	ReactionID string    `json:"reaction_id,omitempty"`
	EnzymeName string    `json:"enzyme_name,omitempty"`
	Organism   string    `json:"organism,omitempty"`
	Confidence float64   `json:"confidence"`
	Source     string    `json:"source"`
	Notes      []string  `json:"notes,omitempty"`
	Reference  string    `json:"reference,omitempty"`

	Instantaneous *InstantaneousParams `json:"instantaneous,omitempty"`
	Delayed       *DelayedParams       `json:"delayed,omitempty"`
	Stochastic    *StochasticParams    `json:"stochastic,omitempty"`
	Continuous    *ContinuousParams    `json:"continuous,omitempty"`
}

// AddNote appends an audit note.
func (p *ParameterSet) AddNote(note string) {
	p.Notes = append(p.Notes, note)
}

// SetConfidence stores c clamped to [0,1].
func (p *ParameterSet) SetConfidence(c float64) {
	p.Confidence = Clamp01(c)
}

// NotesText joins the audit trail into a single line.
func (p ParameterSet) NotesText() string {
	return strings.Join(p.Notes, "; ")
}

// Clone returns a deep copy so callers can adjust a set without aliasing.
func (p ParameterSet) Clone() ParameterSet {
	out := p
	out.Notes = append([]string(nil), p.Notes...)
	if p.Instantaneous != nil {
		v := *p.Instantaneous
		out.Instantaneous = &v
	}
	if p.Delayed != nil {
		v := *p.Delayed
		out.Delayed = &v
	}
	if p.Stochastic != nil {
		v := *p.Stochastic
		v.ForwardRate = cloneFloat(p.Stochastic.ForwardRate)
		v.ReverseRate = cloneFloat(p.Stochastic.ReverseRate)
		out.Stochastic = &v
	}
	if p.Continuous != nil {
		v := *p.Continuous
		v.Kcat = cloneFloat(p.Continuous.Kcat)
		v.Ki = cloneFloat(p.Continuous.Ki)
		v.Hill = cloneFloat(p.Continuous.Hill)
		out.Continuous = &v
	}
	return out
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// Clamp01 bounds c to [0,1].
func Clamp01(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// InferenceMetadata records how a result was produced.
type InferenceMetadata struct {
	Regime     Regime    `json:"regime"`
	Semantics  Semantics `json:"semantics"`
	CacheHit   bool      `json:"cache_hit"`
	StoreMatch bool      `json:"store_match"`
}

// InferenceResult is produced once per inference call and not modified afterwards.
type InferenceResult struct {
	TransitionID string            `json:"transition_id"`
	Parameters   ParameterSet      `json:"parameters"`
	Alternatives []ParameterSet    `json:"alternatives,omitempty"`
	Metadata     InferenceMetadata `json:"metadata"`
}

// Provenance records which source contributed a value and how good it was.
type Provenance struct {
	Source        string        `json:"source"`
	URL           string        `json:"url,omitempty"`
	QualityScore  float64       `json:"quality_score"`
	FieldsFilled  []string      `json:"fields_filled,omitempty"`
	FetchDuration time.Duration `json:"fetch_duration"`
	FetchedAt     time.Time     `json:"fetched_at"`
}
