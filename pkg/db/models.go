package db

import "time"

// StoredParameter is a persisted kinetic parameter set plus bookkeeping.
type StoredParameter struct {
	ID         int64
	Regime     string
	Semantics  string
	ECNumber   string
	ReactionID string
	EnzymeName string
	Organism   string
	// Parameters holds the JSON encoding of the regime-specific variant.
	Parameters string
	Confidence float64
	Source     string
	Notes      string
	Reference  string
	ImportedAt time.Time
	LastUsed   *time.Time
	UsageCount int
	UserRating *int
}

// RawRecord is a single measured value pulled from an external source (e.g. a BRENDA row).
type RawRecord struct {
	ID            int64
	Source        string
	ECNumber      string
	ParameterType string
	Value         float64
	Unit          string
	Substrate     string
	Organism      string
	Literature    string
	Commentary    string
	QualityScore  float64
	FetchedAt     time.Time
}

// Statistics is the cached aggregate over raw records for one (EC, type, organism, substrate).
type Statistics struct {
	ECNumber      string
	ParameterType string
	Organism      string
	Substrate     string
	Count         int
	Mean          float64
	Median        float64
	StdDev        float64
	Min           float64
	Max           float64
	CILower       float64
	CIUpper       float64
	UpdatedAt     time.Time
}

// Compatibility scores how well parameters transfer between organisms.
type Compatibility struct {
	SourceOrganism string
	TargetOrganism string
	EnzymeClass    string
	Score          float64
	Rationale      string
}

// QueryCacheKey is the structured key of a query cache row.
type QueryCacheKey struct {
	Regime     string
	Kind       string
	Identifier string
	Organism   string
}

// QueryCacheEntry points a query at its recommended stored parameter.
type QueryCacheEntry struct {
	Key            QueryCacheKey
	ParameterID    int64
	AlternativeIDs []int64
	Confidence     float64
	UpdatedAt      time.Time
	HitCount       int
}

// Application is the provenance row written when an enrichment result is applied.
type Application struct {
	ID            string
	TransitionID  string
	Category      string
	Source        string
	URL           string
	QualityScore  float64
	FieldsFilled  []string
	FetchDuration time.Duration
	ParameterID   *int64
	AppliedAt     time.Time
}
