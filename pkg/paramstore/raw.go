package paramstore

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/japaniel/kinenrich/pkg/db"
	"github.com/japaniel/kinenrich/pkg/kinetics"
)

// canonical parameter type names keyed by their lower-case form
var parameterTypes = map[string]string{
	"km":   "Km",
	"kcat": "Kcat",
	"ki":   "Ki",
	"vmax": "Vmax",
}

// CanonicalParameterType returns the canonical spelling of a raw parameter type, or "".
func CanonicalParameterType(t string) string {
	return parameterTypes[strings.ToLower(strings.TrimSpace(t))]
}

// ValidateRawRecord returns the normalized form of r, or an error wrapping ErrInvalidRecord
// or ErrInvalidConfidence.
func (s *Store) ValidateRawRecord(r db.RawRecord) (db.RawRecord, error) {
	return s.validateRaw(r)
}

func (s *Store) validateRaw(r db.RawRecord) (db.RawRecord, error) {
	r.ECNumber = kinetics.NormalizeEC(r.ECNumber)
	if r.ECNumber == "" {
		return r, fmt.Errorf("raw record without EC number: %w", ErrInvalidRecord)
	}
	t := CanonicalParameterType(r.ParameterType)
	if t == "" {
		return r, fmt.Errorf("raw record parameter type %q: %w", r.ParameterType, ErrInvalidRecord)
	}
	r.ParameterType = t
	if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) || r.Value <= 0 {
		return r, fmt.Errorf("raw record value %v: %w", r.Value, ErrInvalidRecord)
	}
	if r.QualityScore < 0 || r.QualityScore > 1 {
		return r, fmt.Errorf("raw record quality %v: %w", r.QualityScore, ErrInvalidConfidence)
	}
	r.Substrate = strings.TrimSpace(r.Substrate)
	r.Organism = strings.TrimSpace(r.Organism)
	r.Literature = strings.TrimSpace(r.Literature)
	if r.FetchedAt.IsZero() {
		r.FetchedAt = s.now()
	}
	return r, nil
}

// InsertRawRecords validates every record, then inserts the batch in one transaction.
// Duplicates of stored rows (same EC, type, substrate, organism, value and literature) are
// skipped. It returns the number of new rows. On any failure nothing of the batch persists.
func (s *Store) InsertRawRecords(ctx context.Context, records []db.RawRecord) (int, error) {
	clean := make([]db.RawRecord, 0, len(records))
	for i, r := range records {
		v, err := s.validateRaw(r)
		if err != nil {
			return 0, fmt.Errorf("record %d: %w", i, err)
		}
		clean = append(clean, v)
	}
	var inserted int
	err := s.WithWriteTx(ctx, func(tx *sql.Tx) error {
		var err error
		inserted, err = s.insertRawTx(tx, clean)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.log.Debug("inserted raw records", "offered", len(records), "inserted", inserted)
	return inserted, nil
}

// InsertRawRecordsTx is InsertRawRecords for callers that already hold a write transaction
// from WithWriteTx.
func (s *Store) InsertRawRecordsTx(tx *sql.Tx, records []db.RawRecord) (int, error) {
	clean := make([]db.RawRecord, 0, len(records))
	for i, r := range records {
		v, err := s.validateRaw(r)
		if err != nil {
			return 0, fmt.Errorf("record %d: %w", i, err)
		}
		clean = append(clean, v)
	}
	return s.insertRawTx(tx, clean)
}

func (s *Store) insertRawTx(tx *sql.Tx, records []db.RawRecord) (int, error) {
	inserted := 0
	for i, r := range records {
		if s.rawInsertHook != nil {
			if err := s.rawInsertHook(i); err != nil {
				return 0, err
			}
		}
		ok, err := db.InsertRawRecord(tx, r)
		if err != nil {
			return 0, err
		}
		if ok {
			inserted++
		}
	}
	return inserted, nil
}

// RawRecords lists raw records. Empty organism or substrate (or "all") do not filter.
func (s *Store) RawRecords(ctx context.Context, ec, paramType, organism, substrate string) ([]db.RawRecord, error) {
	if paramType != "" {
		if t := CanonicalParameterType(paramType); t != "" {
			paramType = t
		}
	}
	return db.ListRawRecords(s.db, db.RawFilter{
		ECNumber:      kinetics.NormalizeEC(ec),
		ParameterType: paramType,
		Organism:      strings.TrimSpace(organism),
		Substrate:     strings.TrimSpace(substrate),
	})
}

// ComputeStatistics aggregates the matching raw records and caches the result keyed by
// (EC, type, organism, substrate), where an empty organism or substrate is stored as "all".
// It returns nil when no raw record matches.
func (s *Store) ComputeStatistics(ctx context.Context, ec, paramType, organism, substrate string) (*db.Statistics, error) {
	ec = kinetics.NormalizeEC(ec)
	t := CanonicalParameterType(paramType)
	if ec == "" || t == "" {
		return nil, fmt.Errorf("statistics for %q/%q: %w", ec, paramType, ErrInvalidRecord)
	}
	organism = orAll(organism)
	substrate = orAll(substrate)

	var out *db.Statistics
	err := s.WithWriteTx(ctx, func(tx *sql.Tx) error {
		values, err := db.RawValues(tx, db.RawFilter{ECNumber: ec, ParameterType: t, Organism: organism, Substrate: substrate})
		if err != nil {
			return fmt.Errorf("read raw values: %w", err)
		}
		if len(values) == 0 {
			return nil
		}
		st := Describe(values)
		st.ECNumber, st.ParameterType, st.Organism, st.Substrate = ec, t, organism, substrate
		st.UpdatedAt = s.now()
		if err := db.UpsertStatistics(tx, st); err != nil {
			return fmt.Errorf("cache statistics: %w", err)
		}
		out = &st
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CachedStatistics returns a previously computed aggregate without recomputing it.
func (s *Store) CachedStatistics(ctx context.Context, ec, paramType, organism, substrate string) (*db.Statistics, error) {
	st, err := db.GetStatistics(s.db, kinetics.NormalizeEC(ec), CanonicalParameterType(paramType), orAll(organism), orAll(substrate))
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func orAll(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return db.AllValues
	}
	return v
}

// Describe computes count, mean, median, sample standard deviation, range and the 95%
// confidence interval of the mean. values must be non-empty. With one value the deviation
// is 0 and the interval collapses to the mean.
func Describe(values []float64) db.Statistics {
	n := len(values)
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(n)

	var median float64
	if n%2 == 1 {
		median = sorted[n/2]
	} else {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}

	var sd float64
	if n > 1 {
		var ss float64
		for _, v := range sorted {
			d := v - mean
			ss += d * d
		}
		sd = math.Sqrt(ss / float64(n-1))
	}
	margin := 1.96 * sd / math.Sqrt(float64(n))

	return db.Statistics{
		Count:   n,
		Mean:    mean,
		Median:  median,
		StdDev:  sd,
		Min:     sorted[0],
		Max:     sorted[n-1],
		CILower: mean - margin,
		CIUpper: mean + margin,
	}
}
