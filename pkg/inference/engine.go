// Package inference derives kinetic parameters for reactions that have none: it detects
// the kinetic regime, applies regime-specific heuristics, refines them from stoichiometry
// and, when enabled, prefers parameters already known to the parameter store.
package inference

import (
	"context"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/japaniel/kinenrich/pkg/kinetics"
	"github.com/japaniel/kinenrich/pkg/logging"
	"github.com/japaniel/kinenrich/pkg/paramstore"
)

// DefaultSessionCacheSize bounds the per-engine result cache when Options leave it unset.
const DefaultSessionCacheSize = 512

// ParameterStore is the part of the parameter store the engine consults.
type ParameterStore interface {
	Match(ctx context.Context, q paramstore.MatchQuery) (*paramstore.Match, error)
	Store(ctx context.Context, p kinetics.ParameterSet) (int64, error)
}

// Options configure an Engine.
type Options struct {
	// UseBackgroundFetch consults the store before settling on heuristics.
	UseBackgroundFetch bool
	// PersistHeuristics writes heuristic results to the store.
	PersistHeuristics bool
	// Organism is used when neither the call nor the reaction names one.
	Organism string
	// MinConfidence rejects stored parameters below this confidence.
	MinConfidence    float64
	SessionCacheSize int
	Logger           *logging.Logger
}

type sessionKey struct {
	regime     kinetics.Regime
	identifier string
	organism   string
}

// Engine infers parameters. Its session cache is private to the engine and is not
// shared between engines.
type Engine struct {
	store ParameterStore
	opts  Options
	log   *logging.Logger
	cache *lru.Cache[sessionKey, kinetics.InferenceResult]
}

// NewEngine builds an engine. store may be nil for heuristics-only operation.
func NewEngine(store ParameterStore, opts Options) (*Engine, error) {
	size := opts.SessionCacheSize
	if size <= 0 {
		size = DefaultSessionCacheSize
	}
	cache, err := lru.New[sessionKey, kinetics.InferenceResult](size)
	if err != nil {
		return nil, err
	}
	return &Engine{
		store: store,
		opts:  opts,
		log:   logging.OrNop(opts.Logger).With("component", "inference"),
		cache: cache,
	}, nil
}

// Infer derives parameters for rec. organism overrides the reaction's own organism; when
// both are empty the engine default applies. With useCache the session cache is read
// first; it is refreshed either way. Infer never fails: missing data lowers confidence,
// an undetectable regime yields confidence 0.
func (e *Engine) Infer(ctx context.Context, rec kinetics.ReactionRecord, organism string, useCache bool) kinetics.InferenceResult {
	organism = e.organismFor(rec, organism)
	regime := DetectRegime(rec)
	if regime == kinetics.RegimeUnknown {
		e.log.Warn("cannot determine kinetic regime", "transition", rec.ID, "label", rec.Label)
		p := kinetics.ParameterSet{
			Regime:     kinetics.RegimeUnknown,
			Semantics:  kinetics.SemanticsUnknown,
			ECNumber:   kinetics.NormalizeEC(rec.ECNumber),
			ReactionID: rec.ReactionID,
			EnzymeName: rec.EnzymeName,
			Organism:   organism,
			Confidence: 0,
			Source:     SourceHeuristic,
		}
		p.AddNote("Regime could not be determined; no parameters inferred")
		return kinetics.InferenceResult{
			TransitionID: rec.ID,
			Parameters:   p,
			Metadata:     kinetics.InferenceMetadata{Regime: kinetics.RegimeUnknown, Semantics: kinetics.SemanticsUnknown},
		}
	}

	key, cacheable := cacheKey(rec, regime, organism)
	if useCache && cacheable {
		if hit, ok := e.cache.Get(key); ok {
			e.log.Debug("session cache hit", "transition", rec.ID, "identifier", key.identifier)
			return copyResult(hit, rec.ID, true)
		}
	}

	sem := InferSemantics(rec, regime)
	heuristic := baseParameters(rec, regime, sem)
	heuristic.Organism = organism
	refine(&heuristic, AnalyzeStoichiometry(rec))

	result := kinetics.InferenceResult{
		TransitionID: rec.ID,
		Parameters:   heuristic,
		Metadata:     kinetics.InferenceMetadata{Regime: regime, Semantics: sem},
	}

	if e.store != nil && e.opts.UseBackgroundFetch {
		m, err := e.store.Match(ctx, paramstore.MatchQuery{
			Regime:        regime,
			ECNumber:      heuristic.ECNumber,
			ReactionID:    heuristic.ReactionID,
			Organism:      organism,
			MinConfidence: e.opts.MinConfidence,
		})
		switch {
		case err != nil:
			e.log.Warn("parameter store lookup failed, using heuristics", "transition", rec.ID, "error", err)
		case m != nil:
			result.Parameters = m.Parameters
			result.Alternatives = []kinetics.ParameterSet{heuristic}
			result.Metadata.StoreMatch = true
			e.log.Debug("using stored parameters", "transition", rec.ID, "parameter_id", m.ParameterID, "via", m.Via)
		}
	}

	if !result.Metadata.StoreMatch && e.store != nil && e.opts.PersistHeuristics {
		if _, err := e.store.Store(ctx, heuristic); err != nil {
			e.log.Warn("failed to persist heuristic parameters", "transition", rec.ID, "error", err)
		}
	}

	if cacheable {
		e.cache.Add(key, result)
	}
	return copyResult(result, rec.ID, false)
}

// InferAll infers every reaction with the engine's cache enabled.
func (e *Engine) InferAll(ctx context.Context, recs []kinetics.ReactionRecord, organism string) []kinetics.InferenceResult {
	out := make([]kinetics.InferenceResult, 0, len(recs))
	for _, rec := range recs {
		out = append(out, e.Infer(ctx, rec, organism, true))
	}
	return out
}

// CacheLen reports the number of session cache entries.
func (e *Engine) CacheLen() int { return e.cache.Len() }

// ResetCache drops the session cache.
func (e *Engine) ResetCache() { e.cache.Purge() }

func (e *Engine) organismFor(rec kinetics.ReactionRecord, organism string) string {
	for _, o := range []string{organism, rec.Organism, e.opts.Organism} {
		if o = strings.TrimSpace(o); o != "" {
			return o
		}
	}
	return ""
}

// cacheKey keys by EC number, else reaction id. Reactions with neither share nothing
// identifying and are not cached.
func cacheKey(rec kinetics.ReactionRecord, regime kinetics.Regime, organism string) (sessionKey, bool) {
	k := sessionKey{regime: regime, organism: strings.ToLower(organism)}
	switch {
	case kinetics.NormalizeEC(rec.ECNumber) != "":
		k.identifier = "ec:" + kinetics.NormalizeEC(rec.ECNumber)
	case strings.TrimSpace(rec.ReactionID) != "":
		k.identifier = "reaction:" + strings.TrimSpace(rec.ReactionID)
	default:
		k.identifier = "generic"
		return k, false
	}
	return k, true
}

// copyResult copies r for transition id so callers never share slices with the cache.
func copyResult(r kinetics.InferenceResult, id string, hit bool) kinetics.InferenceResult {
	out := kinetics.InferenceResult{
		TransitionID: id,
		Parameters:   r.Parameters.Clone(),
		Metadata:     r.Metadata,
	}
	for _, alt := range r.Alternatives {
		out.Alternatives = append(out.Alternatives, alt.Clone())
	}
	out.Metadata.CacheHit = hit
	return out
}
