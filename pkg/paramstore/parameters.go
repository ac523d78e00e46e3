package paramstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/japaniel/kinenrich/pkg/db"
	"github.com/japaniel/kinenrich/pkg/kinetics"
)

// StoredSet is a ParameterSet together with its storage bookkeeping.
type StoredSet struct {
	Row        db.StoredParameter
	Parameters kinetics.ParameterSet
}

// Store inserts p as a new row and returns its id. It never updates in place.
func (s *Store) Store(ctx context.Context, p kinetics.ParameterSet) (int64, error) {
	row, err := toRow(p)
	if err != nil {
		return 0, err
	}
	row.ImportedAt = s.now()
	var id int64
	err = s.WithWriteTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = db.InsertParameter(tx, row)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.log.Debug("stored parameters", "id", id, "regime", p.Regime, "ec", p.ECNumber, "source", p.Source)
	return id, nil
}

// Get loads one stored parameter set.
func (s *Store) Get(ctx context.Context, id int64) (StoredSet, error) {
	row, err := db.GetParameter(s.db, id)
	if err != nil {
		return StoredSet{}, err
	}
	return fromRow(row)
}

// Filter selects stored parameter sets. Zero-valued fields do not filter.
type Filter struct {
	Regime        kinetics.Regime
	ECNumber      string
	ReactionID    string
	Organism      string
	MinConfidence float64
	Limit         int
}

// Query returns matching sets ordered by confidence, then usage count, best first.
func (s *Store) Query(ctx context.Context, f Filter) ([]StoredSet, error) {
	if f.MinConfidence < 0 || f.MinConfidence > 1 {
		return nil, fmt.Errorf("min confidence %v: %w", f.MinConfidence, ErrInvalidConfidence)
	}
	return s.query(s.db, f)
}

func (s *Store) query(exec db.DBExecutor, f Filter) ([]StoredSet, error) {
	regime := ""
	if f.Regime != "" && f.Regime != kinetics.RegimeUnknown {
		regime = string(f.Regime)
	}
	rows, err := db.QueryParameters(exec, db.ParameterFilter{
		Regime:        regime,
		ECNumber:      kinetics.NormalizeEC(f.ECNumber),
		ReactionID:    f.ReactionID,
		Organism:      strings.TrimSpace(f.Organism),
		MinConfidence: f.MinConfidence,
		Limit:         f.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("query parameters: %w", err)
	}
	out := make([]StoredSet, 0, len(rows))
	for _, r := range rows {
		set, err := fromRow(r)
		if err != nil {
			return nil, err
		}
		out = append(out, set)
	}
	return out, nil
}

// RecordUsage increments a row's usage counter and refreshes last_used.
func (s *Store) RecordUsage(ctx context.Context, id int64) error {
	return s.WithWriteTx(ctx, func(tx *sql.Tx) error {
		return db.TouchParameter(tx, id, s.now())
	})
}

// SetRating stores a 1-5 user rating on a row.
func (s *Store) SetRating(ctx context.Context, id int64, rating int) error {
	if rating < 1 || rating > 5 {
		return fmt.Errorf("rating %d: %w", rating, ErrInvalidRating)
	}
	return s.WithWriteTx(ctx, func(tx *sql.Tx) error {
		return db.SetParameterRating(tx, id, rating)
	})
}

func validateSet(p kinetics.ParameterSet) error {
	if p.Confidence < 0 || p.Confidence > 1 {
		return fmt.Errorf("confidence %v: %w", p.Confidence, ErrInvalidConfidence)
	}
	var ok bool
	switch p.Regime {
	case kinetics.RegimeInstantaneous:
		ok = p.Instantaneous != nil
	case kinetics.RegimeDelayed:
		ok = p.Delayed != nil && p.Delayed.Delay >= 0
	case kinetics.RegimeStochastic:
		ok = p.Stochastic != nil && p.Stochastic.Lambda > 0
	case kinetics.RegimeContinuous:
		ok = p.Continuous != nil && p.Continuous.Vmax >= 0 && p.Continuous.Km >= 0
	default:
		return fmt.Errorf("regime %q cannot be stored: %w", p.Regime, ErrInvalidRecord)
	}
	if !ok {
		return fmt.Errorf("%s parameters missing or out of range: %w", p.Regime, ErrInvalidRecord)
	}
	return nil
}

func toRow(p kinetics.ParameterSet) (db.StoredParameter, error) {
	if err := validateSet(p); err != nil {
		return db.StoredParameter{}, err
	}
	var variant interface{}
	switch p.Regime {
	case kinetics.RegimeInstantaneous:
		variant = p.Instantaneous
	case kinetics.RegimeDelayed:
		variant = p.Delayed
	case kinetics.RegimeStochastic:
		variant = p.Stochastic
	case kinetics.RegimeContinuous:
		variant = p.Continuous
	}
	data, err := json.Marshal(variant)
	if err != nil {
		return db.StoredParameter{}, fmt.Errorf("encode parameters: %w", err)
	}
	return db.StoredParameter{
		Regime:     string(p.Regime),
		Semantics:  string(p.Semantics),
		ECNumber:   kinetics.NormalizeEC(p.ECNumber),
		ReactionID: p.ReactionID,
		EnzymeName: p.EnzymeName,
		Organism:   strings.TrimSpace(p.Organism),
		Parameters: string(data),
		Confidence: p.Confidence,
		Source:     p.Source,
		Notes:      strings.Join(p.Notes, "\n"),
		Reference:  p.Reference,
	}, nil
}

func fromRow(r db.StoredParameter) (StoredSet, error) {
	p := kinetics.ParameterSet{
		Regime:     kinetics.Regime(r.Regime),
		Semantics:  kinetics.Semantics(r.Semantics),
		ECNumber:   r.ECNumber,
		ReactionID: r.ReactionID,
		EnzymeName: r.EnzymeName,
		Organism:   r.Organism,
		Confidence: r.Confidence,
		Source:     r.Source,
		Reference:  r.Reference,
	}
	if r.Notes != "" {
		p.Notes = strings.Split(r.Notes, "\n")
	}
	var target interface{}
	switch p.Regime {
	case kinetics.RegimeInstantaneous:
		p.Instantaneous = &kinetics.InstantaneousParams{}
		target = p.Instantaneous
	case kinetics.RegimeDelayed:
		p.Delayed = &kinetics.DelayedParams{}
		target = p.Delayed
	case kinetics.RegimeStochastic:
		p.Stochastic = &kinetics.StochasticParams{}
		target = p.Stochastic
	case kinetics.RegimeContinuous:
		p.Continuous = &kinetics.ContinuousParams{}
		target = p.Continuous
	default:
		return StoredSet{}, fmt.Errorf("row %d has regime %q: %w", r.ID, r.Regime, ErrInvalidRecord)
	}
	if err := json.Unmarshal([]byte(r.Parameters), target); err != nil {
		return StoredSet{}, fmt.Errorf("decode parameters of row %d: %w", r.ID, err)
	}
	return StoredSet{Row: r, Parameters: p}, nil
}
