package inference

import (
	"fmt"
	"math"

	"github.com/japaniel/kinenrich/pkg/kinetics"
)

// MaxBalanceConfidence caps the confidence the balance bonus can reach.
const MaxBalanceConfidence = 0.85

// SourceStoichiometry labels heuristic parameters refined by stoichiometry.
const SourceStoichiometry = "Heuristic + Stoichiometry"

// Stoichiometry summarises a reaction's arcs.
type Stoichiometry struct {
	Substrates   int
	Products     int
	InputWeight  float64
	OutputWeight float64
	// BalanceRatio is min(in, out) / max(in, out, 1) over total arc weights.
	BalanceRatio float64
	// Locality is the mean quantity on input places. Meaningless without inputs.
	Locality float64
}

// AnalyzeStoichiometry computes the arc summary used to refine rate parameters.
func AnalyzeStoichiometry(rec kinetics.ReactionRecord) Stoichiometry {
	st := Stoichiometry{Substrates: len(rec.Inputs), Products: len(rec.Outputs)}
	var quantity float64
	for _, a := range rec.Inputs {
		st.InputWeight += a.Weight
		quantity += a.Quantity
	}
	for _, a := range rec.Outputs {
		st.OutputWeight += a.Weight
	}
	st.BalanceRatio = math.Min(st.InputWeight, st.OutputWeight) / math.Max(math.Max(st.InputWeight, st.OutputWeight), 1)
	if st.Substrates > 0 {
		st.Locality = quantity / float64(st.Substrates)
	}
	return st
}

// refine applies the stoichiometry rules to continuous and stochastic parameters,
// appending one note per adjustment. Other regimes are left alone.
func refine(p *kinetics.ParameterSet, st Stoichiometry) {
	adjusted := false
	note := func(format string, args ...interface{}) {
		p.AddNote(fmt.Sprintf(format, args...))
		adjusted = true
	}
	switch {
	case p.Continuous != nil:
		c := p.Continuous
		if st.Substrates > 2 {
			c.Vmax *= 0.7
			note("Stoichiometry: %d substrates, Vmax x0.7", st.Substrates)
		}
		if st.InputWeight > 2 {
			c.Km *= st.InputWeight / 2
			note("Stoichiometry: input weight %g, Km x%g", st.InputWeight, st.InputWeight/2)
		}
		if balanceBonus(p, st) {
			note("Stoichiometry: balanced reaction (ratio %.2f), confidence raised to %.2f", st.BalanceRatio, p.Confidence)
		}
		if st.Substrates > 0 {
			if st.Locality > 10 {
				c.Vmax *= 1.3
				note("Stoichiometry: high substrate availability (%.1f), Vmax x1.3", st.Locality)
			} else if st.Locality < 1 {
				c.Vmax *= 0.7
				note("Stoichiometry: low substrate availability (%.1f), Vmax x0.7", st.Locality)
			}
		}
	case p.Stochastic != nil:
		s := p.Stochastic
		if st.Substrates > 1 {
			f := math.Pow(0.5, float64(st.Substrates-1))
			s.Lambda *= f
			note("Stoichiometry: %d substrates, lambda x%g", st.Substrates, f)
		}
		if st.InputWeight > 1 {
			s.Lambda /= st.InputWeight
			note("Stoichiometry: input weight %g, lambda /%g", st.InputWeight, st.InputWeight)
		}
		if balanceBonus(p, st) {
			note("Stoichiometry: balanced reaction (ratio %.2f), confidence raised to %.2f", st.BalanceRatio, p.Confidence)
		}
		if st.Substrates > 0 {
			if st.Locality > 10 {
				s.Lambda *= 1.5
				note("Stoichiometry: high substrate availability (%.1f), lambda x1.5", st.Locality)
			} else if st.Locality < 1 {
				s.Lambda *= 0.5
				note("Stoichiometry: low substrate availability (%.1f), lambda x0.5", st.Locality)
			}
		}
	}
	if adjusted {
		p.Source = SourceStoichiometry
	}
}

// balanceBonus raises confidence by 0.10 up to MaxBalanceConfidence. It never lowers it.
func balanceBonus(p *kinetics.ParameterSet, st Stoichiometry) bool {
	if st.BalanceRatio <= 0.8 {
		return false
	}
	boosted := math.Min(p.Confidence+0.10, MaxBalanceConfidence)
	if boosted <= p.Confidence {
		return false
	}
	p.SetConfidence(boosted)
	return true
}
