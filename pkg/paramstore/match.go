package paramstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/japaniel/kinenrich/pkg/db"
	"github.com/japaniel/kinenrich/pkg/kinetics"
)

// KeyKind says which identifier a query key carries.
type KeyKind string

const (
	KindEC       KeyKind = "ec"
	KindReaction KeyKind = "reaction"
	KindGeneric  KeyKind = "generic"
)

// MinMatchConfidence is the floor a direct or cross-species match must reach.
const MinMatchConfidence = 0.5

// crossSpeciesCandidates bounds how many rows are weighed when borrowing across organisms.
const crossSpeciesCandidates = 5

// MatchQuery identifies the parameters a caller is looking for.
type MatchQuery struct {
	Regime     kinetics.Regime
	ECNumber   string
	ReactionID string
	Organism   string
	// MinConfidence raises the match floor above MinMatchConfidence.
	MinConfidence float64
}

func (q MatchQuery) floor() float64 {
	if q.MinConfidence > MinMatchConfidence {
		return q.MinConfidence
	}
	return MinMatchConfidence
}

// QueryKey is the structured query cache key.
type QueryKey struct {
	Regime     kinetics.Regime
	Kind       KeyKind
	Identifier string
	Organism   string
}

// Key derives the cache key: an EC number wins over a reaction id.
func (q MatchQuery) Key() QueryKey {
	k := QueryKey{Regime: q.Regime, Kind: KindGeneric, Organism: normalizeOrganism(q.Organism)}
	if ec := kinetics.NormalizeEC(q.ECNumber); ec != "" {
		k.Kind, k.Identifier = KindEC, ec
	} else if id := strings.TrimSpace(q.ReactionID); id != "" {
		k.Kind, k.Identifier = KindReaction, id
	}
	return k
}

func (k QueryKey) row() db.QueryCacheKey {
	return db.QueryCacheKey{Regime: string(k.Regime), Kind: string(k.Kind), Identifier: k.Identifier, Organism: k.Organism}
}

// MatchVia names the cascade step that produced a match.
type MatchVia string

const (
	ViaCache        MatchVia = "cache"
	ViaDirect       MatchVia = "direct"
	ViaCrossSpecies MatchVia = "cross-species"
)

// Match is a stored parameter set selected for a query.
type Match struct {
	ParameterID int64
	Parameters  kinetics.ParameterSet
	Via         MatchVia
	// Compatibility is the organism factor applied to a cross-species match, 1 otherwise.
	Compatibility float64
}

// Match runs the lookup cascade: query cache, then a same-organism row with confidence of
// at least the query's floor, then the best of a few rows from other organisms discounted
// by organism compatibility. It returns nil when nothing qualifies. Generic queries (no EC
// number and no reaction id) never match.
func (s *Store) Match(ctx context.Context, q MatchQuery) (*Match, error) {
	key := q.Key()
	if key.Kind == KindGeneric || q.Regime == "" || q.Regime == kinetics.RegimeUnknown {
		return nil, nil
	}
	var m *Match
	err := s.WithWriteTx(ctx, func(tx *sql.Tx) error {
		var err error
		m, err = s.matchTx(tx, q, key)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("match %s %s: %w", key.Kind, key.Identifier, err)
	}
	if m == nil {
		s.log.Debug("no stored match", "regime", key.Regime, "kind", key.Kind, "identifier", key.Identifier, "organism", key.Organism)
	}
	return m, nil
}

func (s *Store) matchTx(tx *sql.Tx, q MatchQuery, key QueryKey) (*Match, error) {
	floor := q.floor()
	entry, err := db.GetQueryCache(tx, key.row())
	switch {
	case err == nil && entry.Confidence < floor:
		// cached answer too weak for this query; look again
	case err == nil:
		if err := db.IncrementQueryCacheHit(tx, key.row()); err != nil {
			return nil, err
		}
		row, err := db.GetParameter(tx, entry.ParameterID)
		if err == nil {
			set, err := fromRow(row)
			if err != nil {
				return nil, err
			}
			if err := db.TouchParameter(tx, row.ID, s.now()); err != nil {
				return nil, err
			}
			m := &Match{ParameterID: row.ID, Parameters: set.Parameters, Via: ViaCache, Compatibility: 1}
			if entry.Confidence < row.Confidence {
				// cached from a cross-species borrow; keep the discounted confidence
				m.Compatibility = entry.Confidence / row.Confidence
				m.Parameters.AddNote(fmt.Sprintf("Cross-species match from %s (cached, confidence %.2f)",
					displayOrganism(row.Organism), entry.Confidence))
				m.Parameters.SetConfidence(entry.Confidence)
			}
			return m, nil
		}
		if !errors.Is(err, db.ErrNotFound) {
			return nil, err
		}
	case !errors.Is(err, db.ErrNotFound):
		return nil, err
	}

	filter := Filter{Regime: q.Regime, MinConfidence: floor, Limit: 1, Organism: strings.TrimSpace(q.Organism)}
	if key.Kind == KindEC {
		filter.ECNumber = key.Identifier
	} else {
		filter.ReactionID = key.Identifier
	}

	var m *Match
	var alternatives []int64
	if filter.Organism != "" {
		direct, err := s.query(tx, filter)
		if err != nil {
			return nil, err
		}
		if len(direct) > 0 {
			m = &Match{ParameterID: direct[0].Row.ID, Parameters: direct[0].Parameters, Via: ViaDirect, Compatibility: 1}
		}
	}

	if m == nil {
		filter.Organism = ""
		filter.MinConfidence = 0
		filter.Limit = crossSpeciesCandidates
		candidates, err := s.query(tx, filter)
		if err != nil {
			return nil, err
		}
		class := kinetics.ECPrefix(key.Identifier, 1)
		if key.Kind != KindEC {
			class = ""
		}
		best := -1.0
		for _, c := range candidates {
			compat, err := s.compatibilityOn(tx, c.Row.Organism, q.Organism, class)
			if err != nil {
				return nil, err
			}
			adjusted := c.Row.Confidence * compat
			if adjusted < floor {
				continue
			}
			if adjusted > best {
				if m != nil {
					alternatives = append(alternatives, m.ParameterID)
				}
				best = adjusted
				set := c.Parameters.Clone()
				set.AddNote(fmt.Sprintf("Cross-species match from %s (compatibility %.2f, confidence %.2f -> %.2f)",
					displayOrganism(c.Row.Organism), compat, c.Row.Confidence, adjusted))
				set.SetConfidence(adjusted)
				m = &Match{ParameterID: c.Row.ID, Parameters: set, Via: ViaCrossSpecies, Compatibility: compat}
			} else {
				alternatives = append(alternatives, c.Row.ID)
			}
		}
	}
	if m == nil {
		return nil, nil
	}

	if err := db.UpsertQueryCache(tx, db.QueryCacheEntry{
		Key:            key.row(),
		ParameterID:    m.ParameterID,
		AlternativeIDs: alternatives,
		Confidence:     m.Parameters.Confidence,
		UpdatedAt:      s.now(),
	}); err != nil {
		return nil, err
	}
	if err := db.TouchParameter(tx, m.ParameterID, s.now()); err != nil {
		return nil, err
	}
	return m, nil
}

func displayOrganism(o string) string {
	if strings.TrimSpace(o) == "" {
		return "unspecified organism"
	}
	return o
}
