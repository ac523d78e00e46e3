package paramstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/japaniel/kinenrich/pkg/db"
)

// Summary describes the raw record cache.
type Summary struct {
	TotalRecords      int            `json:"total_records"`
	ByParameterType   map[string]int `json:"by_parameter_type"`
	UniqueECNumbers   int            `json:"unique_ec_numbers"`
	UniqueOrganisms   int            `json:"unique_organisms"`
	AverageQuality    float64        `json:"average_quality"`
	CachedStatistics  int            `json:"cached_statistics_count"`
	StoredParameters  int            `json:"stored_parameters"`
	QueryCacheEntries int            `json:"query_cache_entries"`
}

// Summary reports counts over the raw records and caches.
func (s *Store) Summary(ctx context.Context) (Summary, error) {
	raw, err := db.SummarizeRawRecords(s.db)
	if err != nil {
		return Summary{}, fmt.Errorf("summarize raw records: %w", err)
	}
	out := Summary{
		TotalRecords:    raw.Total,
		ByParameterType: raw.ByParameterType,
		UniqueECNumbers: raw.UniqueECNumbers,
		UniqueOrganisms: raw.UniqueOrganisms,
		AverageQuality:  raw.AverageQuality,
	}
	for table, dst := range map[string]*int{
		"aggregated_statistics": &out.CachedStatistics,
		"kinetic_parameters":    &out.StoredParameters,
		"query_cache":           &out.QueryCacheEntries,
	} {
		n, err := db.CountRows(s.db, table)
		if err != nil {
			return Summary{}, fmt.Errorf("count %s: %w", table, err)
		}
		*dst = n
	}
	return out, nil
}

// RecordApplication persists the provenance of an applied enrichment result.
func (s *Store) RecordApplication(ctx context.Context, a db.Application) error {
	if a.QualityScore < 0 || a.QualityScore > 1 {
		return fmt.Errorf("application quality %v: %w", a.QualityScore, ErrInvalidConfidence)
	}
	if a.AppliedAt.IsZero() {
		a.AppliedAt = s.now()
	}
	return s.WithWriteTx(ctx, func(tx *sql.Tx) error {
		return db.InsertApplication(tx, a)
	})
}

// Applications lists provenance rows for a transition, or all of them for "".
func (s *Store) Applications(ctx context.Context, transitionID string) ([]db.Application, error) {
	return db.ListApplications(s.db, transitionID)
}

// Scope selects what Clear removes.
type Scope string

const (
	ScopeAll          Scope = "all"
	ScopeParameters   Scope = "parameters"
	ScopeRawRecords   Scope = "raw"
	ScopeStatistics   Scope = "statistics"
	ScopeQueryCache   Scope = "query-cache"
	ScopeApplications Scope = "applications"
)

var scopeTables = map[Scope][]string{
	// query_cache rows go with their parameters via the foreign key, clear them first anyway
	ScopeParameters:   {"query_cache", "kinetic_parameters"},
	ScopeRawRecords:   {"aggregated_statistics", "raw_source_records"},
	ScopeStatistics:   {"aggregated_statistics"},
	ScopeQueryCache:   {"query_cache"},
	ScopeApplications: {"enrichment_applications"},
	ScopeAll: {"query_cache", "enrichment_applications", "kinetic_parameters",
		"aggregated_statistics", "raw_source_records"},
}

// Clear wipes the cache tables named by scope ("" means all) and returns the number of
// deleted rows. The compatibility reference table is never cleared.
func (s *Store) Clear(ctx context.Context, scope Scope) (int64, error) {
	if scope == "" {
		scope = ScopeAll
	}
	tables, ok := scopeTables[Scope(strings.ToLower(string(scope)))]
	if !ok {
		return 0, fmt.Errorf("unknown clear scope %q", scope)
	}
	var total int64
	err := s.WithWriteTx(ctx, func(tx *sql.Tx) error {
		for _, t := range tables {
			n, err := db.ClearTable(tx, t)
			if err != nil {
				return fmt.Errorf("clear %s: %w", t, err)
			}
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.log.Info("cleared store", "scope", scope, "rows", total)
	return total, nil
}

// RetentionPolicy bounds the store's growth. Zero fields disable that bound.
type RetentionPolicy struct {
	// MaxAge drops parameters not used (or, if never used, imported) within this window and
	// raw records fetched before it.
	MaxAge time.Duration
	// MaxRows keeps only this many most recently used parameter rows.
	MaxRows int
}

// PruneReport counts what Prune removed.
type PruneReport struct {
	Parameters int64 `json:"parameters"`
	RawRecords int64 `json:"raw_records"`
	Statistics int64 `json:"statistics"`
}

// Prune applies policy in one transaction. Statistics whose raw records are gone are dropped.
func (s *Store) Prune(ctx context.Context, policy RetentionPolicy) (PruneReport, error) {
	if policy.MaxAge < 0 || policy.MaxRows < 0 {
		return PruneReport{}, fmt.Errorf("negative retention policy: %w", ErrInvalidRecord)
	}
	var rep PruneReport
	err := s.WithWriteTx(ctx, func(tx *sql.Tx) error {
		if policy.MaxAge > 0 {
			cutoff := s.now().Add(-policy.MaxAge)
			n, err := db.DeleteParametersUnusedSince(tx, cutoff)
			if err != nil {
				return fmt.Errorf("prune parameters by age: %w", err)
			}
			rep.Parameters += n
			if rep.RawRecords, err = db.DeleteRawRecordsBefore(tx, cutoff); err != nil {
				return fmt.Errorf("prune raw records: %w", err)
			}
		}
		if policy.MaxRows > 0 {
			n, err := db.DeleteParametersBeyond(tx, policy.MaxRows)
			if err != nil {
				return fmt.Errorf("prune parameters by count: %w", err)
			}
			rep.Parameters += n
		}
		var err error
		if rep.Statistics, err = db.DeleteOrphanStatistics(tx); err != nil {
			return fmt.Errorf("prune statistics: %w", err)
		}
		return nil
	})
	if err != nil {
		return PruneReport{}, err
	}
	s.log.Info("pruned store", "parameters", rep.Parameters, "raw_records", rep.RawRecords, "statistics", rep.Statistics)
	return rep, nil
}
