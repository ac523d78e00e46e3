package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DBExecutor is an interface that allows methods to accept either *sql.DB or *sql.Tx
type DBExecutor interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// ErrNotFound is returned when a row addressed by key does not exist.
var ErrNotFound = errors.New("not found")

// isUniqueConstraintErr returns true when the error indicates a unique/constraint violation
func isUniqueConstraintErr(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "unique") || strings.Contains(s, "constraint failed")
}

const parameterColumns = `id, regime, semantics, ec_number, reaction_id, enzyme_name, organism, parameters,
	confidence, source, notes, reference, imported_at, last_used, usage_count, user_rating`

// InsertParameter always inserts a new row and returns its id.
func InsertParameter(db DBExecutor, p StoredParameter) (int64, error) {
	if strings.TrimSpace(p.Regime) == "" {
		return 0, fmt.Errorf("regime must be non-empty")
	}
	res, err := db.Exec(`INSERT INTO kinetic_parameters
		(regime, semantics, ec_number, reaction_id, enzyme_name, organism, parameters, confidence, source, notes, reference, imported_at, usage_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		p.Regime, p.Semantics, p.ECNumber, p.ReactionID, p.EnzymeName, p.Organism, p.Parameters,
		p.Confidence, p.Source, p.Notes, p.Reference, p.ImportedAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("insert parameter: %w", err)
	}
	return res.LastInsertId()
}

// GetParameter loads a stored parameter by id.
func GetParameter(db DBExecutor, id int64) (StoredParameter, error) {
	row := db.QueryRow(`SELECT `+parameterColumns+` FROM kinetic_parameters WHERE id = ?`, id)
	p, err := scanParameter(row)
	if err == sql.ErrNoRows {
		return StoredParameter{}, fmt.Errorf("parameter %d: %w", id, ErrNotFound)
	}
	return p, err
}

// ParameterFilter narrows QueryParameters. Empty fields are ignored.
type ParameterFilter struct {
	Regime        string
	ECNumber      string
	ReactionID    string
	Organism      string
	MinConfidence float64
	Limit         int
}

// QueryParameters returns rows ordered by confidence then usage, best first.
func QueryParameters(db DBExecutor, f ParameterFilter) ([]StoredParameter, error) {
	var where []string
	var args []interface{}
	if f.Regime != "" {
		where = append(where, "regime = ?")
		args = append(args, f.Regime)
	}
	if f.ECNumber != "" {
		where = append(where, "ec_number = ?")
		args = append(args, f.ECNumber)
	}
	if f.ReactionID != "" {
		where = append(where, "reaction_id = ?")
		args = append(args, f.ReactionID)
	}
	if f.Organism != "" {
		where = append(where, "organism = ? COLLATE NOCASE")
		args = append(args, f.Organism)
	}
	where = append(where, "confidence >= ?")
	args = append(args, f.MinConfidence)

	q := `SELECT ` + parameterColumns + ` FROM kinetic_parameters WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY confidence DESC, usage_count DESC, id ASC`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StoredParameter
	for rows.Next() {
		p, err := scanParameter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanParameter(r rowScanner) (StoredParameter, error) {
	var p StoredParameter
	var lastUsed sql.NullTime
	var rating sql.NullInt64
	if err := r.Scan(&p.ID, &p.Regime, &p.Semantics, &p.ECNumber, &p.ReactionID, &p.EnzymeName, &p.Organism,
		&p.Parameters, &p.Confidence, &p.Source, &p.Notes, &p.Reference, &p.ImportedAt, &lastUsed,
		&p.UsageCount, &rating); err != nil {
		return StoredParameter{}, err
	}
	if lastUsed.Valid {
		t := lastUsed.Time
		p.LastUsed = &t
	}
	if rating.Valid {
		v := int(rating.Int64)
		p.UserRating = &v
	}
	return p, nil
}

// TouchParameter increments the usage counter and stamps last_used.
func TouchParameter(db DBExecutor, id int64, at time.Time) error {
	res, err := db.Exec(`UPDATE kinetic_parameters SET usage_count = usage_count + 1, last_used = ? WHERE id = ?`, at.UTC(), id)
	if err != nil {
		return err
	}
	return expectOneRow(res, fmt.Sprintf("parameter %d", id))
}

// SetParameterRating stores a 1-5 user rating.
func SetParameterRating(db DBExecutor, id int64, rating int) error {
	if rating < 1 || rating > 5 {
		return fmt.Errorf("rating must be between 1 and 5, got %d", rating)
	}
	res, err := db.Exec(`UPDATE kinetic_parameters SET user_rating = ? WHERE id = ?`, rating, id)
	if err != nil {
		return err
	}
	return expectOneRow(res, fmt.Sprintf("parameter %d", id))
}

func expectOneRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

// InsertRawRecord inserts r unless an identical (EC, type, substrate, organism, value,
// literature) row exists. Reports whether a row was added.
func InsertRawRecord(db DBExecutor, r RawRecord) (bool, error) {
	res, err := db.Exec(`INSERT INTO raw_source_records
		(source, ec_number, parameter_type, value, unit, substrate, organism, literature, commentary, quality_score, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ec_number, parameter_type, substrate, organism, value, literature) DO NOTHING`,
		r.Source, r.ECNumber, r.ParameterType, r.Value, r.Unit, r.Substrate, r.Organism, r.Literature,
		r.Commentary, r.QualityScore, r.FetchedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("insert raw record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RawFilter narrows raw record reads. Empty Organism/Substrate (or "all") match every row.
type RawFilter struct {
	ECNumber      string
	ParameterType string
	Organism      string
	Substrate     string
}

func (f RawFilter) clause() (string, []interface{}) {
	where := []string{"1 = 1"}
	var args []interface{}
	if f.ECNumber != "" {
		where = append(where, "ec_number = ?")
		args = append(args, f.ECNumber)
	}
	if f.ParameterType != "" {
		where = append(where, "parameter_type = ? COLLATE NOCASE")
		args = append(args, f.ParameterType)
	}
	if f.Organism != "" && f.Organism != AllValues {
		where = append(where, "organism = ? COLLATE NOCASE")
		args = append(args, f.Organism)
	}
	if f.Substrate != "" && f.Substrate != AllValues {
		where = append(where, "substrate = ? COLLATE NOCASE")
		args = append(args, f.Substrate)
	}
	return strings.Join(where, " AND "), args
}

// AllValues is the organism/substrate placeholder meaning "no restriction".
const AllValues = "all"

// ListRawRecords returns matching raw records in insertion order.
func ListRawRecords(db DBExecutor, f RawFilter) ([]RawRecord, error) {
	where, args := f.clause()
	rows, err := db.Query(`SELECT id, source, ec_number, parameter_type, value, unit, substrate, organism,
		literature, commentary, quality_score, fetched_at FROM raw_source_records WHERE `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RawRecord
	for rows.Next() {
		var r RawRecord
		if err := rows.Scan(&r.ID, &r.Source, &r.ECNumber, &r.ParameterType, &r.Value, &r.Unit, &r.Substrate,
			&r.Organism, &r.Literature, &r.Commentary, &r.QualityScore, &r.FetchedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// RawValues returns only the numeric values of matching raw records.
func RawValues(db DBExecutor, f RawFilter) ([]float64, error) {
	where, args := f.clause()
	rows, err := db.Query(`SELECT value FROM raw_source_records WHERE `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// UpsertStatistics writes s keyed by its 4-tuple.
func UpsertStatistics(db DBExecutor, s Statistics) error {
	_, err := db.Exec(`INSERT INTO aggregated_statistics
		(ec_number, parameter_type, organism, substrate, count, mean, median, std_dev, min_value, max_value, ci_lower, ci_upper, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ec_number, parameter_type, organism, substrate) DO UPDATE SET
		  count = excluded.count, mean = excluded.mean, median = excluded.median, std_dev = excluded.std_dev,
		  min_value = excluded.min_value, max_value = excluded.max_value,
		  ci_lower = excluded.ci_lower, ci_upper = excluded.ci_upper, updated_at = excluded.updated_at`,
		s.ECNumber, s.ParameterType, s.Organism, s.Substrate, s.Count, s.Mean, s.Median, s.StdDev,
		s.Min, s.Max, s.CILower, s.CIUpper, s.UpdatedAt.UTC())
	return err
}

// GetStatistics reads a cached aggregate.
func GetStatistics(db DBExecutor, ec, paramType, organism, substrate string) (Statistics, error) {
	var s Statistics
	err := db.QueryRow(`SELECT ec_number, parameter_type, organism, substrate, count, mean, median, std_dev,
		min_value, max_value, ci_lower, ci_upper, updated_at FROM aggregated_statistics
		WHERE ec_number = ? AND parameter_type = ? AND organism = ? AND substrate = ?`,
		ec, paramType, organism, substrate).Scan(&s.ECNumber, &s.ParameterType, &s.Organism, &s.Substrate,
		&s.Count, &s.Mean, &s.Median, &s.StdDev, &s.Min, &s.Max, &s.CILower, &s.CIUpper, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return Statistics{}, fmt.Errorf("statistics %s/%s: %w", ec, paramType, ErrNotFound)
	}
	return s, err
}

// GetCompatibility reads one compatibility row by exact key.
func GetCompatibility(db DBExecutor, source, target, enzymeClass string) (Compatibility, error) {
	var c Compatibility
	err := db.QueryRow(`SELECT source_organism, target_organism, enzyme_class, score, rationale
		FROM organism_compatibility
		WHERE source_organism = ? COLLATE NOCASE AND target_organism = ? COLLATE NOCASE AND enzyme_class = ?`,
		source, target, enzymeClass).Scan(&c.SourceOrganism, &c.TargetOrganism, &c.EnzymeClass, &c.Score, &c.Rationale)
	if err == sql.ErrNoRows {
		return Compatibility{}, ErrNotFound
	}
	return c, err
}

// UpsertCompatibility inserts or replaces a compatibility row.
func UpsertCompatibility(db DBExecutor, c Compatibility) error {
	if c.Score < 0 || c.Score > 1 {
		return fmt.Errorf("compatibility score must be between 0 and 1, got %v", c.Score)
	}
	_, err := db.Exec(`INSERT INTO organism_compatibility (source_organism, target_organism, enzyme_class, score, rationale)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source_organism, target_organism, enzyme_class) DO UPDATE SET
		  score = excluded.score, rationale = excluded.rationale`,
		c.SourceOrganism, c.TargetOrganism, c.EnzymeClass, c.Score, c.Rationale)
	return err
}

// GetQueryCache reads a query cache row.
func GetQueryCache(db DBExecutor, k QueryCacheKey) (QueryCacheEntry, error) {
	e := QueryCacheEntry{Key: k}
	var alts string
	err := db.QueryRow(`SELECT parameter_id, alternative_ids, confidence, updated_at, hit_count FROM query_cache
		WHERE regime = ? AND id_kind = ? AND identifier = ? AND organism = ?`,
		k.Regime, k.Kind, k.Identifier, k.Organism).Scan(&e.ParameterID, &alts, &e.Confidence, &e.UpdatedAt, &e.HitCount)
	if err == sql.ErrNoRows {
		return QueryCacheEntry{}, ErrNotFound
	}
	if err != nil {
		return QueryCacheEntry{}, err
	}
	e.AlternativeIDs = parseIDList(alts)
	return e, nil
}

// UpsertQueryCache records the recommended parameter for a query. The hit counter is kept.
func UpsertQueryCache(db DBExecutor, e QueryCacheEntry) error {
	_, err := db.Exec(`INSERT INTO query_cache (regime, id_kind, identifier, organism, parameter_id, alternative_ids, confidence, updated_at, hit_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(regime, id_kind, identifier, organism) DO UPDATE SET
		  parameter_id = excluded.parameter_id, alternative_ids = excluded.alternative_ids,
		  confidence = excluded.confidence, updated_at = excluded.updated_at`,
		e.Key.Regime, e.Key.Kind, e.Key.Identifier, e.Key.Organism, e.ParameterID,
		formatIDList(e.AlternativeIDs), e.Confidence, e.UpdatedAt.UTC())
	return err
}

// IncrementQueryCacheHit bumps the hit counter of a cache row.
func IncrementQueryCacheHit(db DBExecutor, k QueryCacheKey) error {
	_, err := db.Exec(`UPDATE query_cache SET hit_count = hit_count + 1
		WHERE regime = ? AND id_kind = ? AND identifier = ? AND organism = ?`,
		k.Regime, k.Kind, k.Identifier, k.Organism)
	return err
}

func formatIDList(ids []int64) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	return strings.Join(parts, ",")
}

func parseIDList(s string) []int64 {
	if s == "" {
		return nil
	}
	var out []int64
	for _, p := range strings.Split(s, ",") {
		if id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64); err == nil {
			out = append(out, id)
		}
	}
	return out
}

// InsertApplication records enrichment provenance.
func InsertApplication(db DBExecutor, a Application) error {
	if strings.TrimSpace(a.ID) == "" {
		return fmt.Errorf("application id must be non-empty")
	}
	_, err := db.Exec(`INSERT INTO enrichment_applications
		(id, transition_id, category, source, url, quality_score, fields_filled, fetch_duration_ms, parameter_id, applied_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.TransitionID, a.Category, a.Source, a.URL, a.QualityScore, strings.Join(a.FieldsFilled, ","),
		a.FetchDuration.Milliseconds(), nullableInt64Ptr(a.ParameterID), a.AppliedAt.UTC())
	if err != nil && isUniqueConstraintErr(err) {
		return fmt.Errorf("application %s already recorded: %w", a.ID, err)
	}
	return err
}

// ListApplications returns provenance rows for a transition, newest first. An empty
// transition id lists everything.
func ListApplications(db DBExecutor, transitionID string) ([]Application, error) {
	q := `SELECT id, transition_id, category, source, url, quality_score, fields_filled, fetch_duration_ms, parameter_id, applied_at
		FROM enrichment_applications`
	var args []interface{}
	if transitionID != "" {
		q += ` WHERE transition_id = ?`
		args = append(args, transitionID)
	}
	q += ` ORDER BY applied_at DESC, id`
	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Application
	for rows.Next() {
		var a Application
		var fields string
		var ms int64
		var paramID sql.NullInt64
		if err := rows.Scan(&a.ID, &a.TransitionID, &a.Category, &a.Source, &a.URL, &a.QualityScore,
			&fields, &ms, &paramID, &a.AppliedAt); err != nil {
			return nil, err
		}
		if fields != "" {
			a.FieldsFilled = strings.Split(fields, ",")
		}
		a.FetchDuration = time.Duration(ms) * time.Millisecond
		if paramID.Valid {
			id := paramID.Int64
			a.ParameterID = &id
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// nullableInt64Ptr returns nil for a nil pointer else the value.
func nullableInt64Ptr(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

// CountRows returns the number of rows in one of the known tables.
func CountRows(db DBExecutor, table string) (int, error) {
	switch table {
	case "kinetic_parameters", "raw_source_records", "aggregated_statistics", "query_cache",
		"organism_compatibility", "enrichment_applications":
	default:
		return 0, fmt.Errorf("unknown table %q", table)
	}
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n)
	return n, err
}

// RawSummary aggregates the raw record table.
type RawSummary struct {
	Total           int
	ByParameterType map[string]int
	UniqueECNumbers int
	UniqueOrganisms int
	AverageQuality  float64
}

// SummarizeRawRecords computes counts and averages over raw_source_records.
func SummarizeRawRecords(db DBExecutor) (RawSummary, error) {
	s := RawSummary{ByParameterType: map[string]int{}}
	var avg sql.NullFloat64
	err := db.QueryRow(`SELECT COUNT(*), COUNT(DISTINCT ec_number), COUNT(DISTINCT organism), AVG(quality_score)
		FROM raw_source_records`).Scan(&s.Total, &s.UniqueECNumbers, &s.UniqueOrganisms, &avg)
	if err != nil {
		return s, err
	}
	s.AverageQuality = avg.Float64

	rows, err := db.Query(`SELECT parameter_type, COUNT(*) FROM raw_source_records GROUP BY parameter_type`)
	if err != nil {
		return s, err
	}
	defer rows.Close()
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return s, err
		}
		s.ByParameterType[t] = n
	}
	return s, rows.Err()
}

// ClearTable deletes every row of one of the cache tables.
func ClearTable(db DBExecutor, table string) (int64, error) {
	switch table {
	case "kinetic_parameters", "raw_source_records", "aggregated_statistics", "query_cache", "enrichment_applications":
	default:
		return 0, fmt.Errorf("table %q cannot be cleared", table)
	}
	res, err := db.Exec(`DELETE FROM ` + table)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteParametersUnusedSince removes parameters whose last use (or import, if never used)
// is before cutoff.
func DeleteParametersUnusedSince(db DBExecutor, cutoff time.Time) (int64, error) {
	res, err := db.Exec(`DELETE FROM kinetic_parameters WHERE COALESCE(last_used, imported_at) < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteParametersBeyond keeps the maxRows most recently used parameters and deletes the rest.
func DeleteParametersBeyond(db DBExecutor, maxRows int) (int64, error) {
	res, err := db.Exec(`DELETE FROM kinetic_parameters WHERE id NOT IN (
		SELECT id FROM kinetic_parameters ORDER BY COALESCE(last_used, imported_at) DESC, id DESC LIMIT ?)`, maxRows)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteRawRecordsBefore removes raw records fetched before cutoff.
func DeleteRawRecordsBefore(db DBExecutor, cutoff time.Time) (int64, error) {
	res, err := db.Exec(`DELETE FROM raw_source_records WHERE fetched_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteOrphanStatistics drops aggregates whose (EC, type) no longer has raw records.
func DeleteOrphanStatistics(db DBExecutor) (int64, error) {
	res, err := db.Exec(`DELETE FROM aggregated_statistics WHERE NOT EXISTS (
		SELECT 1 FROM raw_source_records r
		WHERE r.ec_number = aggregated_statistics.ec_number AND r.parameter_type = aggregated_statistics.parameter_type)`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SeedCompatibility inserts c only when no row with the same key exists, so user
// edits survive re-seeding.
func SeedCompatibility(db DBExecutor, c Compatibility) error {
	_, err := db.Exec(`INSERT INTO organism_compatibility (source_organism, target_organism, enzyme_class, score, rationale)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source_organism, target_organism, enzyme_class) DO NOTHING`,
		c.SourceOrganism, c.TargetOrganism, c.EnzymeClass, c.Score, c.Rationale)
	return err
}
