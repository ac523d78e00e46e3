package inference

import (
	"strings"

	"github.com/japaniel/kinenrich/pkg/kinetics"
)

// DetectRegime classifies a reaction. An explicit, recognised regime attribute wins.
// Otherwise the attributes present decide, in this order: a rate expression means
// continuous, a delay means delayed, a priority means instantaneous. Anything else is unknown.
func DetectRegime(rec kinetics.ReactionRecord) kinetics.Regime {
	caps := rec.Capabilities()
	if caps.Has(kinetics.HasRegime) {
		if r := kinetics.ParseRegime(rec.Regime); r != kinetics.RegimeUnknown {
			return r
		}
	}
	switch {
	case caps.Has(kinetics.HasRateExpression):
		return kinetics.RegimeContinuous
	case caps.Has(kinetics.HasDelay):
		return kinetics.RegimeDelayed
	case caps.Has(kinetics.HasPriority):
		return kinetics.RegimeInstantaneous
	}
	return kinetics.RegimeUnknown
}

type semanticRule struct {
	keywords  []string
	semantics kinetics.Semantics
}

// checked in order, first hit wins
var semanticRules = []semanticRule{
	{[]string{"regulation", "activation", "inhibition"}, kinetics.SemanticsRegulation},
	{[]string{"transport", "import", "export"}, kinetics.SemanticsTransport},
	{[]string{"burst", "pulse"}, kinetics.SemanticsBurst},
	{[]string{"gene", "expression"}, kinetics.SemanticsMassAction},
}

// InferSemantics keyword-scans the reaction label, falling back to the regime's usual
// behaviour. The enzyme name is not scanned.
func InferSemantics(rec kinetics.ReactionRecord, regime kinetics.Regime) kinetics.Semantics {
	text := strings.ToLower(rec.Label)
	for _, rule := range semanticRules {
		if containsAny(text, rule.keywords...) {
			return rule.semantics
		}
	}
	switch regime {
	case kinetics.RegimeInstantaneous:
		return kinetics.SemanticsBurst
	case kinetics.RegimeDelayed:
		return kinetics.SemanticsDeterministicDelay
	case kinetics.RegimeStochastic:
		return kinetics.SemanticsMassAction
	case kinetics.RegimeContinuous:
		return kinetics.SemanticsEnzymeKinetics
	}
	return kinetics.SemanticsUnknown
}

func containsAny(text string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}
