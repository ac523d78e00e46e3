package inference

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/japaniel/kinenrich/pkg/kinetics"
)

func TestDetectRegime(t *testing.T) {
	cases := []struct {
		name string
		rec  kinetics.ReactionRecord
		want kinetics.Regime
	}{
		{"explicit wins", kinetics.ReactionRecord{Regime: "Stochastic", Delay: kinetics.Float(3)}, kinetics.RegimeStochastic},
		{"petri-net alias", kinetics.ReactionRecord{Regime: "timed"}, kinetics.RegimeDelayed},
		{"unrecognised explicit falls through", kinetics.ReactionRecord{Regime: "fancy", Priority: kinetics.Int(1)}, kinetics.RegimeInstantaneous},
		{"rate expression", kinetics.ReactionRecord{RateExpression: "Vmax*S/(Km+S)", Delay: kinetics.Float(1)}, kinetics.RegimeContinuous},
		{"delay", kinetics.ReactionRecord{Delay: kinetics.Float(0)}, kinetics.RegimeDelayed},
		{"priority", kinetics.ReactionRecord{Priority: kinetics.Int(5)}, kinetics.RegimeInstantaneous},
		{"nothing", kinetics.ReactionRecord{Label: "hexokinase"}, kinetics.RegimeUnknown},
		{"blank attributes", kinetics.ReactionRecord{Regime: "  ", RateExpression: " "}, kinetics.RegimeUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DetectRegime(tc.rec))
		})
	}
}

// The fallback order checks delay before priority.
func TestDetectRegimeDelayBeforePriority(t *testing.T) {
	rec := kinetics.ReactionRecord{Priority: kinetics.Int(10), Delay: kinetics.Float(2.5)}
	assert.Equal(t, kinetics.RegimeDelayed, DetectRegime(rec))

	rec.Regime = "instantaneous"
	assert.Equal(t, kinetics.RegimeInstantaneous, DetectRegime(rec))
}

func TestInferSemantics(t *testing.T) {
	cases := []struct {
		label  string
		regime kinetics.Regime
		want   kinetics.Semantics
	}{
		{"Inhibition of PFK by ATP", kinetics.RegimeContinuous, kinetics.SemanticsRegulation},
		{"Glucose TRANSPORT", kinetics.RegimeDelayed, kinetics.SemanticsTransport},
		{"Calcium pulse", kinetics.RegimeContinuous, kinetics.SemanticsBurst},
		{"Gene expression of lacZ", kinetics.RegimeContinuous, kinetics.SemanticsMassAction},
		// regulation is checked before gene/expression
		{"regulation of gene expression", kinetics.RegimeStochastic, kinetics.SemanticsRegulation},
		{"", kinetics.RegimeInstantaneous, kinetics.SemanticsBurst},
		{"", kinetics.RegimeDelayed, kinetics.SemanticsDeterministicDelay},
		{"", kinetics.RegimeStochastic, kinetics.SemanticsMassAction},
		{"", kinetics.RegimeContinuous, kinetics.SemanticsEnzymeKinetics},
		{"", kinetics.RegimeUnknown, kinetics.SemanticsUnknown},
	}
	for _, tc := range cases {
		got := InferSemantics(kinetics.ReactionRecord{Label: tc.label}, tc.regime)
		assert.Equal(t, tc.want, got, "label %q regime %s", tc.label, tc.regime)
	}

	// only the label is scanned
	rec := kinetics.ReactionRecord{Label: "hexose uptake step", EnzymeName: "glucose importer"}
	assert.Equal(t, kinetics.SemanticsEnzymeKinetics, InferSemantics(rec, kinetics.RegimeContinuous))
}
