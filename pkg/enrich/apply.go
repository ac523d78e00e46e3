package enrich

import (
	"context"
	"fmt"

	"github.com/japaniel/kinenrich/pkg/kinetics"
	"github.com/japaniel/kinenrich/pkg/source"
)

// ApplyResult reports what an applier changed on the target.
type ApplyResult struct {
	Success         bool     `json:"success"`
	ObjectsModified int      `json:"objects_modified"`
	Changes         []string `json:"changes,omitempty"`
	Errors          []string `json:"errors,omitempty"`
	Warnings        []string `json:"warnings,omitempty"`
	// ParameterID is set when the applier persisted a parameter set.
	ParameterID *int64 `json:"parameter_id,omitempty"`
}

// Applier writes an accepted result onto a target. A returned error is a storage or
// programming failure and aborts the enrichment; a rejected result is reported through
// ApplyResult.Success.
type Applier interface {
	Apply(ctx context.Context, target Target, winner source.Result) (ApplyResult, error)
}

// ApplierFunc adapts a function to Applier.
type ApplierFunc func(ctx context.Context, target Target, winner source.Result) (ApplyResult, error)

func (f ApplierFunc) Apply(ctx context.Context, target Target, winner source.Result) (ApplyResult, error) {
	return f(ctx, target, winner)
}

// ParameterWriter persists parameter sets.
type ParameterWriter interface {
	Store(ctx context.Context, p kinetics.ParameterSet) (int64, error)
}

// PairDefaults supplies typical Km and Vmax values for a reaction.
type PairDefaults func(rec kinetics.ReactionRecord) (km, vmax float64, basis string)

// KineticsApplier stores a winning kinetics result as a continuous parameter set whose
// confidence is the result's quality score. A result with only one of Km and Vmax is
// completed from Defaults, or rejected when Defaults is nil.
type KineticsApplier struct {
	Store    ParameterWriter
	Defaults PairDefaults
}

func (a KineticsApplier) Apply(ctx context.Context, target Target, winner source.Result) (ApplyResult, error) {
	k := winner.Kinetics
	if k == nil || (k.Km == nil && k.Vmax == nil) {
		return ApplyResult{Errors: []string{"result carries neither Km nor Vmax"}}, nil
	}
	organism := k.Organism
	if organism == "" {
		organism = target.Organism
	}
	ec := k.ECNumber
	if ec == "" {
		ec = target.ECNumber
	}
	cont := &kinetics.ContinuousParams{
		Kcat:        k.Kcat,
		Ki:          k.Ki,
		Temperature: 37,
		PH:          7.4,
	}
	var filled []string
	if k.Km == nil || k.Vmax == nil {
		if a.Defaults == nil {
			return ApplyResult{Errors: []string{"incomplete Michaelis-Menten pair and no defaults to complete it"}}, nil
		}
		km, vmax, basis := a.Defaults(kinetics.ReactionRecord{
			ID:         target.TransitionID,
			ReactionID: target.ReactionID,
			Label:      target.EnzymeName,
			ECNumber:   ec,
			EnzymeName: target.EnzymeName,
		})
		if k.Km == nil {
			k = withKm(k, km)
			filled = append(filled, fmt.Sprintf("Km %g not measured, default from %s", km, basis))
		} else {
			k = withVmax(k, vmax)
			filled = append(filled, fmt.Sprintf("Vmax %g not measured, default from %s", vmax, basis))
		}
	}
	cont.Km = *k.Km
	cont.Vmax = *k.Vmax
	set := kinetics.ParameterSet{
		Regime:     kinetics.RegimeContinuous,
		Semantics:  kinetics.SemanticsEnzymeKinetics,
		ECNumber:   kinetics.NormalizeEC(ec),
		ReactionID: target.ReactionID,
		EnzymeName: target.EnzymeName,
		Organism:   organism,
		Source:     winner.Source,
		Reference:  winner.URL,
		Continuous: cont,
	}
	set.SetConfidence(winner.Score())
	set.AddNote(fmt.Sprintf("Fetched from %s (%d measurements)", winner.Source, k.Samples))
	for _, w := range winner.Warnings {
		set.AddNote(w)
	}
	for _, f := range filled {
		set.AddNote(f)
	}

	id, err := a.Store.Store(ctx, set)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("store kinetics for %s: %w", target.TransitionID, err)
	}
	res := ApplyResult{Success: true, ObjectsModified: 1, ParameterID: &id}
	for _, f := range winner.FieldsFilled {
		res.Changes = append(res.Changes, "set "+f)
	}
	res.Warnings = append(res.Warnings, filled...)
	return res, nil
}

// withKm and withVmax copy k so the winner's data is left untouched.
func withKm(k *source.KineticData, v float64) *source.KineticData {
	c := *k
	c.Km = &v
	return &c
}

func withVmax(k *source.KineticData, v float64) *source.KineticData {
	c := *k
	c.Vmax = &v
	return &c
}

// AnnotationApplier accepts annotation results without modifying anything; the
// provenance row is the record of what was found.
var AnnotationApplier = ApplierFunc(func(ctx context.Context, target Target, winner source.Result) (ApplyResult, error) {
	if winner.Annotation == nil {
		return ApplyResult{Errors: []string{"result carries no annotation"}}, nil
	}
	return ApplyResult{Success: true, Changes: []string{"annotation: " + winner.Annotation.Title}}, nil
})
