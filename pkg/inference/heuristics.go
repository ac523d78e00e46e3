package inference

import (
	"fmt"
	"strings"

	"github.com/japaniel/kinenrich/pkg/kinetics"
)

// Physiological defaults for enzyme kinetics.
const (
	DefaultTemperature = 37.0
	DefaultPH          = 7.4
)

// SourceHeuristic labels parameters derived without any database evidence.
const SourceHeuristic = "Heuristic"

// baseParameters runs the regime-specific heuristic. regime must be known.
func baseParameters(rec kinetics.ReactionRecord, regime kinetics.Regime, sem kinetics.Semantics) kinetics.ParameterSet {
	p := kinetics.ParameterSet{
		Regime:     regime,
		Semantics:  sem,
		ECNumber:   kinetics.NormalizeEC(rec.ECNumber),
		ReactionID: strings.TrimSpace(rec.ReactionID),
		EnzymeName: strings.TrimSpace(rec.EnzymeName),
		Source:     SourceHeuristic,
	}
	text := strings.ToLower(rec.Text())
	switch regime {
	case kinetics.RegimeInstantaneous:
		instantaneous(&p, sem)
	case kinetics.RegimeDelayed:
		delayed(&p, text, sem)
	case kinetics.RegimeStochastic:
		stochastic(&p, text)
	case kinetics.RegimeContinuous:
		continuous(&p, rec)
	}
	return p
}

func instantaneous(p *kinetics.ParameterSet, sem kinetics.Semantics) {
	priority, conf, why := 50, 0.60, "default"
	switch {
	case sem == kinetics.SemanticsRegulation:
		priority, conf, why = 90, 0.80, "regulatory event"
	case sem == kinetics.SemanticsTransport:
		priority, conf, why = 30, 0.70, "transport event"
	case p.ECNumber != "":
		priority, conf, why = 60, 0.75, "enzymatic event"
	}
	p.Instantaneous = &kinetics.InstantaneousParams{Priority: priority, Weight: 1.0}
	p.SetConfidence(conf)
	p.AddNote(fmt.Sprintf("Instantaneous heuristic: priority %d (%s)", priority, why))
}

func delayed(p *kinetics.ParameterSet, text string, sem kinetics.Semantics) {
	delay, conf, why := 5.0, 0.50, "generic delay"
	switch {
	case containsAny(text, "transcription", "mrna"):
		delay, conf, why = 10, 0.70, "transcription"
	case containsAny(text, "translation", "protein"):
		delay, conf, why = 5, 0.70, "translation"
	case sem == kinetics.SemanticsTransport || containsAny(text, "transport"):
		delay, conf, why = 2, 0.65, "transport"
	}
	p.Delayed = &kinetics.DelayedParams{Delay: delay, TimeUnit: "min"}
	p.SetConfidence(conf)
	p.AddNote(fmt.Sprintf("Delayed heuristic: %.0f min (%s)", delay, why))
}

type rateRule struct {
	keywords []string
	lambda   float64
	conf     float64
	why      string
}

var stochasticRules = []rateRule{
	{[]string{"expression", "gene", "transcription"}, 0.01, 0.65, "gene expression"},
	{[]string{"degradation", "decay"}, 0.001, 0.65, "degradation"},
	// unbinding before binding, "unbinding" contains "binding"
	{[]string{"dissociation", "unbinding"}, 0.01, 0.55, "dissociation"},
	{[]string{"binding", "association"}, 0.1, 0.55, "binding"},
	{[]string{"phosphorylation", "kinase"}, 0.05, 0.60, "phosphorylation"},
}

func stochastic(p *kinetics.ParameterSet, text string) {
	lambda, conf, why := 0.05, 0.45, "generic rate"
	for _, r := range stochasticRules {
		if containsAny(text, r.keywords...) {
			lambda, conf, why = r.lambda, r.conf, r.why
			break
		}
	}
	p.Stochastic = &kinetics.StochasticParams{Lambda: lambda}
	p.SetConfidence(conf)
	p.AddNote(fmt.Sprintf("Stochastic heuristic: lambda %g (%s)", lambda, why))
}

type enzymeDefaults struct {
	vmax, km, kcat float64
	name           string
}

// typical magnitudes per top-level EC class
var classDefaults = map[int]enzymeDefaults{
	1: {50, 0.5, 20, "oxidoreductase"},
	2: {100, 0.1, 50, "transferase"},
	3: {200, 1.0, 100, "hydrolase"},
	4: {80, 0.3, 30, "lyase"},
	5: {150, 0.2, 80, "isomerase"},
	6: {30, 0.05, 10, "ligase"},
}

type prefixDefaults struct {
	prefix string
	enzymeDefaults
}

// gene symbol prefixes, longest first where they overlap
var genePrefixes = []prefixDefaults{
	{"GAPDH", enzymeDefaults{180, 0.05, 90, "glyceraldehyde-3-phosphate dehydrogenase-like"}},
	{"G6PD", enzymeDefaults{90, 0.05, 40, "glucose-6-phosphate dehydrogenase-like"}},
	{"ALDO", enzymeDefaults{60, 0.02, 15, "aldolase-like"}},
	{"PFK", enzymeDefaults{120, 0.05, 100, "phosphofructokinase-like"}},
	{"PGK", enzymeDefaults{200, 0.3, 120, "phosphoglycerate kinase-like"}},
	{"GCK", enzymeDefaults{80, 8.0, 60, "glucokinase-like"}},
	{"LDH", enzymeDefaults{250, 0.2, 200, "lactate dehydrogenase-like"}},
	{"IDH", enzymeDefaults{70, 0.1, 30, "isocitrate dehydrogenase-like"}},
	{"HK", enzymeDefaults{150, 0.1, 60, "hexokinase-like"}},
	{"PK", enzymeDefaults{200, 0.3, 150, "pyruvate kinase-like"}},
	{"CS", enzymeDefaults{60, 0.01, 50, "citrate synthase-like"}},
}

// enzyme family keywords in the reaction text
var familyKeywords = []struct {
	keyword string
	enzymeDefaults
}{
	{"phosphatase", enzymeDefaults{150, 0.5, 80, "phosphatase"}},
	{"dehydrogenase", enzymeDefaults{80, 0.2, 40, "dehydrogenase"}},
	{"kinase", enzymeDefaults{100, 0.1, 50, "kinase"}},
	{"synthase", enzymeDefaults{40, 0.05, 15, "synthase"}},
	{"synthetase", enzymeDefaults{30, 0.05, 10, "synthetase"}},
	{"protease", enzymeDefaults{200, 1.0, 100, "protease"}},
	{"isomerase", enzymeDefaults{150, 0.2, 80, "isomerase"}},
	{"transferase", enzymeDefaults{100, 0.1, 50, "transferase"}},
	{"oxidase", enzymeDefaults{50, 0.5, 20, "oxidase"}},
	{"reductase", enzymeDefaults{50, 0.5, 20, "reductase"}},
}

var genericDefaults = enzymeDefaults{100.0, 0.1, 10.0, "generic"}

func lookupEnzyme(rec kinetics.ReactionRecord) (enzymeDefaults, string) {
	if class := kinetics.ECClass(rec.ECNumber); class != 0 {
		return classDefaults[class], fmt.Sprintf("EC class %d", class)
	}
	for _, token := range strings.FieldsFunc(strings.ToUpper(rec.Text()), isSymbolSeparator) {
		for _, g := range genePrefixes {
			if strings.HasPrefix(token, g.prefix) {
				return g.enzymeDefaults, "gene symbol " + token
			}
		}
	}
	text := strings.ToLower(rec.Text())
	for _, f := range familyKeywords {
		if strings.Contains(text, f.keyword) {
			return f.enzymeDefaults, "enzyme family " + f.keyword
		}
	}
	return genericDefaults, "no identifying information"
}

// ContinuousDefaults returns the Km and Vmax the continuous heuristic assumes for rec and
// what they were looked up by.
func ContinuousDefaults(rec kinetics.ReactionRecord) (km, vmax float64, basis string) {
	d, why := lookupEnzyme(rec)
	return d.km, d.vmax, why
}

func isSymbolSeparator(r rune) bool {
	return !(r >= 'A' && r <= 'Z' || r >= '0' && r <= '9')
}

func continuous(p *kinetics.ParameterSet, rec kinetics.ReactionRecord) {
	d, why := lookupEnzyme(rec)
	p.Continuous = &kinetics.ContinuousParams{
		Vmax:        d.vmax,
		Km:          d.km,
		Kcat:        kinetics.Float(d.kcat),
		Temperature: DefaultTemperature,
		PH:          DefaultPH,
	}
	switch {
	case kinetics.IsFullEC(rec.ECNumber):
		p.SetConfidence(0.70)
	case kinetics.ECSegments(rec.ECNumber) != nil:
		p.SetConfidence(0.60)
	default:
		p.SetConfidence(0.50)
	}
	p.AddNote(fmt.Sprintf("Continuous heuristic: %s defaults from %s (Vmax %g, Km %g, Kcat %g)",
		d.name, why, d.vmax, d.km, d.kcat))
}
