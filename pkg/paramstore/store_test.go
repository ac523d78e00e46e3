package paramstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/japaniel/kinenrich/pkg/db"
	"github.com/japaniel/kinenrich/pkg/kinetics"
)

func newTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	s, err := Open(":memory:", opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func hexokinase(organism string, conf float64) kinetics.ParameterSet {
	return kinetics.ParameterSet{
		Regime:     kinetics.RegimeContinuous,
		Semantics:  kinetics.SemanticsEnzymeKinetics,
		ECNumber:   "2.7.1.1",
		EnzymeName: "hexokinase",
		Organism:   organism,
		Confidence: conf,
		Source:     "BRENDA",
		Notes:      []string{"measured", "curated"},
		Continuous: &kinetics.ContinuousParams{Vmax: 120, Km: 0.15, Kcat: kinetics.Float(45), Temperature: 37, PH: 7.4},
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{})

	id, err := s.Store(ctx, hexokinase("Homo sapiens", 0.8))
	require.NoError(t, err)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, hexokinase("Homo sapiens", 0.8), got.Parameters)
	assert.Equal(t, 0, got.Row.UsageCount)
	assert.False(t, got.Row.ImportedAt.IsZero())

	_, err = s.Get(ctx, id+100)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStoreRejectsInvalidSets(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{})

	_, err := s.Store(ctx, hexokinase("Homo sapiens", 1.5))
	assert.True(t, errors.Is(err, ErrInvalidConfidence))

	bad := hexokinase("Homo sapiens", 0.5)
	bad.Continuous = nil
	_, err = s.Store(ctx, bad)
	assert.True(t, errors.Is(err, ErrInvalidRecord))

	unknown := kinetics.ParameterSet{Regime: kinetics.RegimeUnknown}
	_, err = s.Store(ctx, unknown)
	assert.True(t, errors.Is(err, ErrInvalidRecord))

	rows, err := s.Query(ctx, Filter{})
	require.NoError(t, err)
	assert.Empty(t, rows, "nothing is written when validation fails")

	_, err = s.Query(ctx, Filter{MinConfidence: 2})
	assert.True(t, errors.Is(err, ErrInvalidConfidence))
}

func TestQueryOrderingAndBookkeeping(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{})

	low, err := s.Store(ctx, hexokinase("Homo sapiens", 0.55))
	require.NoError(t, err)
	high, err := s.Store(ctx, hexokinase("Homo sapiens", 0.9))
	require.NoError(t, err)
	used, err := s.Store(ctx, hexokinase("Homo sapiens", 0.9))
	require.NoError(t, err)
	require.NoError(t, s.RecordUsage(ctx, used))

	rows, err := s.Query(ctx, Filter{Regime: kinetics.RegimeContinuous, ECNumber: "EC:2.7.1.1"})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []int64{used, high, low}, []int64{rows[0].Row.ID, rows[1].Row.ID, rows[2].Row.ID})

	rows, err = s.Query(ctx, Filter{MinConfidence: 0.6, Limit: 5})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	assert.True(t, errors.Is(s.SetRating(ctx, low, 0), ErrInvalidRating))
	assert.True(t, errors.Is(s.SetRating(ctx, low, 6), ErrInvalidRating))
	require.NoError(t, s.SetRating(ctx, low, 5))
	got, err := s.Get(ctx, low)
	require.NoError(t, err)
	require.NotNil(t, got.Row.UserRating)
	assert.Equal(t, 5, *got.Row.UserRating)

	assert.True(t, errors.Is(s.RecordUsage(ctx, 9999), ErrNotFound))
}

func glucoseKm(value float64) db.RawRecord {
	return db.RawRecord{
		Source: "BRENDA", ECNumber: "2.7.1.1", ParameterType: "Km", Value: value, Unit: "mM",
		Substrate: "D-glucose", Organism: "Homo sapiens", Literature: "PubMed:12345678", QualityScore: 0.9,
	}
}

func TestInsertRawRecordsSkipsDuplicates(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{})

	n, err := s.InsertRawRecords(ctx, []db.RawRecord{glucoseKm(0.15)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.InsertRawRecords(ctx, []db.RawRecord{glucoseKm(0.15)})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = s.InsertRawRecords(ctx, []db.RawRecord{glucoseKm(0.18)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	variants := []func(r *db.RawRecord){
		func(r *db.RawRecord) { r.ECNumber = "2.7.1.2" },
		func(r *db.RawRecord) { r.ParameterType = "Kcat" },
		func(r *db.RawRecord) { r.Substrate = "D-fructose" },
		func(r *db.RawRecord) { r.Organism = "Mus musculus" },
		func(r *db.RawRecord) { r.Literature = "PubMed:87654321" },
	}
	for i, mutate := range variants {
		r := glucoseKm(0.15)
		mutate(&r)
		n, err := s.InsertRawRecords(ctx, []db.RawRecord{r})
		require.NoError(t, err)
		assert.Equal(t, 1, n, "variant %d differs in one key field", i)
	}

	all, err := s.RawRecords(ctx, "", "", "", "")
	require.NoError(t, err)
	assert.Len(t, all, 2+len(variants))

	// duplicates within one batch are skipped too
	n, err = s.InsertRawRecords(ctx, []db.RawRecord{glucoseKm(0.3), glucoseKm(0.3)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestInsertRawRecordsValidatesBeforeWriting(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{})

	bad := []db.RawRecord{
		glucoseKm(0.15),
		{ECNumber: "", ParameterType: "Km", Value: 1},
		glucoseKm(0.2),
	}
	_, err := s.InsertRawRecords(ctx, bad)
	assert.True(t, errors.Is(err, ErrInvalidRecord))

	cases := []db.RawRecord{
		{ECNumber: "1.1.1.1", ParameterType: "Kd", Value: 1},
		{ECNumber: "1.1.1.1", ParameterType: "Km", Value: -1},
		{ECNumber: "1.1.1.1", ParameterType: "Km", Value: 1, QualityScore: 1.2},
	}
	for _, c := range cases {
		_, err := s.InsertRawRecords(ctx, []db.RawRecord{c})
		assert.Error(t, err)
	}

	sum, err := s.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.TotalRecords)

	// parameter type spelling is normalised
	n, err := s.InsertRawRecords(ctx, []db.RawRecord{{ECNumber: "1.1.1.1", ParameterType: "kcat", Value: 3}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	recs, err := s.RawRecords(ctx, "1.1.1.1", "KCAT", "", "")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Kcat", recs[0].ParameterType)
	assert.False(t, recs[0].FetchedAt.IsZero())
}

func TestInsertRawRecordsIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{})

	_, err := s.InsertRawRecords(ctx, []db.RawRecord{glucoseKm(0.01)})
	require.NoError(t, err)

	batch := []db.RawRecord{glucoseKm(0.1), glucoseKm(0.2), glucoseKm(0.3), glucoseKm(0.4), glucoseKm(0.5)}
	boom := errors.New("disk full")
	s.rawInsertHook = func(i int) error {
		if i == 2 {
			return boom
		}
		return nil
	}
	n, err := s.InsertRawRecords(ctx, batch)
	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, 0, n)

	sum, err := s.Summary(ctx)
	require.NoError(t, err)
	recs, err := s.RawRecords(ctx, "2.7.1.1", "Km", "", "")
	require.NoError(t, err)
	assert.Equal(t, 1, sum.TotalRecords, "failed batch leaves only the earlier row")
	assert.Len(t, recs, sum.TotalRecords)

	s.rawInsertHook = nil
	n, err = s.InsertRawRecords(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	sum, err = s.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, sum.TotalRecords)
}

func TestComputeStatistics(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{})

	_, err := s.InsertRawRecords(ctx, []db.RawRecord{glucoseKm(0.15), glucoseKm(0.18), glucoseKm(0.52)})
	require.NoError(t, err)

	st, err := s.ComputeStatistics(ctx, "2.7.1.1", "Km", "", "")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, 3, st.Count)
	assert.InDelta(t, 0.2833, st.Mean, 1e-4)
	assert.Equal(t, 0.18, st.Median)
	assert.Equal(t, 0.15, st.Min)
	assert.Equal(t, 0.52, st.Max)
	assert.Greater(t, st.StdDev, 0.0)
	assert.Less(t, st.CILower, st.Mean)
	assert.Greater(t, st.CIUpper, st.Mean)
	assert.Equal(t, db.AllValues, st.Organism)
	assert.Equal(t, db.AllValues, st.Substrate)

	cached, err := s.CachedStatistics(ctx, "2.7.1.1", "km", "", "")
	require.NoError(t, err)
	assert.Equal(t, st.Count, cached.Count)
	assert.InDelta(t, st.Mean, cached.Mean, 1e-12)

	none, err := s.ComputeStatistics(ctx, "9.9.9.9", "Km", "", "")
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = s.ComputeStatistics(ctx, "2.7.1.1", "Kd", "", "")
	assert.True(t, errors.Is(err, ErrInvalidRecord))

	sum, err := s.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.CachedStatistics)
}

func TestDescribeSingleValue(t *testing.T) {
	st := Describe([]float64{0.4})
	assert.Equal(t, 1, st.Count)
	assert.Equal(t, 0.0, st.StdDev)
	assert.Equal(t, 0.4, st.CILower)
	assert.Equal(t, 0.4, st.CIUpper)

	even := Describe([]float64{4, 1, 3, 2})
	assert.Equal(t, 2.5, even.Median)
	assert.Equal(t, 1.0, even.Min)
	assert.Equal(t, 4.0, even.Max)
}

func TestSummary(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{})

	r := glucoseKm(0.2)
	r.Organism = "Mus musculus"
	r.QualityScore = 0.5
	k := glucoseKm(3)
	k.ParameterType = "Kcat"
	k.ECNumber = "1.1.1.1"
	k.QualityScore = 0.7
	_, err := s.InsertRawRecords(ctx, []db.RawRecord{glucoseKm(0.15), r, k})
	require.NoError(t, err)

	sum, err := s.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.TotalRecords)
	assert.Equal(t, map[string]int{"Km": 2, "Kcat": 1}, sum.ByParameterType)
	assert.Equal(t, 2, sum.UniqueECNumbers)
	assert.Equal(t, 2, sum.UniqueOrganisms)
	assert.InDelta(t, 0.7, sum.AverageQuality, 1e-9)
	assert.Equal(t, 0, sum.CachedStatistics)
}

func TestCompatibility(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{})

	score, err := s.Compatibility(ctx, "Unknown Organism A", "Unknown Organism B", "")
	require.NoError(t, err)
	assert.Equal(t, 0.3, score)

	score, err = s.Compatibility(ctx, "Homo sapiens", "homo  SAPIENS", "1")
	require.NoError(t, err)
	assert.Equal(t, 1.0, score)

	score, err = s.Compatibility(ctx, "Mus musculus", "Homo sapiens", "")
	require.NoError(t, err)
	assert.Equal(t, 0.85, score, "seeds are symmetric")

	score, err = s.Compatibility(ctx, "Homo sapiens", "Saccharomyces cerevisiae", "2")
	require.NoError(t, err)
	assert.Equal(t, 0.6, score, "class-specific entry wins")

	score, err = s.Compatibility(ctx, "Homo sapiens", "Saccharomyces cerevisiae", "1")
	require.NoError(t, err)
	assert.Equal(t, 0.5, score, "falls back to the class-agnostic entry")

	require.NoError(t, s.SetCompatibility(ctx, db.Compatibility{SourceOrganism: "Unknown Organism A", TargetOrganism: "Unknown Organism B", Score: 0.7}))
	score, err = s.Compatibility(ctx, "Unknown Organism A", "Unknown Organism B", "3")
	require.NoError(t, err)
	assert.Equal(t, 0.7, score)

	score, err = s.Compatibility(ctx, "Unknown Organism B", "Unknown Organism A", "")
	require.NoError(t, err)
	assert.Equal(t, 0.7, score, "user entries apply in both directions")

	assert.True(t, errors.Is(s.SetCompatibility(ctx, db.Compatibility{SourceOrganism: "a", TargetOrganism: "b", Score: 2}), ErrInvalidConfidence))
}

func TestCompatibilitySeedIsInjected(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{CompatibilitySeed: []db.Compatibility{}, FallbackCompatibility: 0.2})
	score, err := s.Compatibility(ctx, "Homo sapiens", "Mus musculus", "")
	require.NoError(t, err)
	assert.Equal(t, 0.2, score)
}

func TestCompatibilitySeedKeepsUserEdits(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.db")

	s, err := Open(path, Options{})
	require.NoError(t, err)
	require.NoError(t, s.SetCompatibility(ctx, db.Compatibility{SourceOrganism: "Homo sapiens", TargetOrganism: "Mus musculus", Score: 0.95}))
	require.NoError(t, s.Close())

	s, err = Open(path, Options{})
	require.NoError(t, err)
	defer s.Close()
	score, err := s.Compatibility(ctx, "Homo sapiens", "Mus musculus", "")
	require.NoError(t, err)
	assert.Equal(t, 0.95, score)
	score, err = s.Compatibility(ctx, "Mus musculus", "Homo sapiens", "")
	require.NoError(t, err)
	assert.Equal(t, 0.95, score)
}

func TestMatchCascade(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{})

	id, err := s.Store(ctx, hexokinase("Homo sapiens", 0.7))
	require.NoError(t, err)

	q := MatchQuery{Regime: kinetics.RegimeContinuous, ECNumber: "2.7.1.1", Organism: "Homo sapiens"}
	m, err := s.Match(ctx, q)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, ViaDirect, m.Via)
	assert.Equal(t, id, m.ParameterID)
	assert.Equal(t, 0.7, m.Parameters.Confidence)

	m, err = s.Match(ctx, q)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, ViaCache, m.Via)

	entry, err := db.GetQueryCache(s.DB(), q.Key().row())
	require.NoError(t, err)
	assert.Equal(t, 1, entry.HitCount)
	assert.Equal(t, id, entry.ParameterID)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Row.UsageCount)

	// cross-species: 0.7 * 0.85
	mouse := MatchQuery{Regime: kinetics.RegimeContinuous, ECNumber: "2.7.1.1", Organism: "Mus musculus"}
	m, err = s.Match(ctx, mouse)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, ViaCrossSpecies, m.Via)
	assert.InDelta(t, 0.595, m.Parameters.Confidence, 1e-9)
	assert.Contains(t, m.Parameters.NotesText(), "Cross-species match from Homo sapiens")
	assert.Equal(t, "Homo sapiens", m.Parameters.Organism)

	m, err = s.Match(ctx, mouse)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, ViaCache, m.Via)
	assert.InDelta(t, 0.595, m.Parameters.Confidence, 1e-9, "cached borrow keeps the discount")

	// 0.7 * 0.6 falls below the floor
	yeast := MatchQuery{Regime: kinetics.RegimeContinuous, ECNumber: "2.7.1.1", Organism: "Saccharomyces cerevisiae"}
	m, err = s.Match(ctx, yeast)
	require.NoError(t, err)
	assert.Nil(t, m)

	m, err = s.Match(ctx, MatchQuery{Regime: kinetics.RegimeContinuous, Organism: "Homo sapiens"})
	require.NoError(t, err)
	assert.Nil(t, m, "generic queries never match")

	m, err = s.Match(ctx, MatchQuery{Regime: kinetics.RegimeStochastic, ECNumber: "2.7.1.1", Organism: "Homo sapiens"})
	require.NoError(t, err)
	assert.Nil(t, m, "regime is part of the key")
}

func TestMatchIgnoresLowConfidenceAndUsesReactionID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{})

	weak := hexokinase("Homo sapiens", 0.4)
	_, err := s.Store(ctx, weak)
	require.NoError(t, err)
	m, err := s.Match(ctx, MatchQuery{Regime: kinetics.RegimeContinuous, ECNumber: "2.7.1.1", Organism: "Homo sapiens"})
	require.NoError(t, err)
	assert.Nil(t, m)

	byReaction := kinetics.ParameterSet{
		Regime: kinetics.RegimeStochastic, Semantics: kinetics.SemanticsMassAction, ReactionID: "R00299",
		Organism: "Homo sapiens", Confidence: 0.6, Source: "Heuristic",
		Stochastic: &kinetics.StochasticParams{Lambda: 0.05},
	}
	id, err := s.Store(ctx, byReaction)
	require.NoError(t, err)
	m, err = s.Match(ctx, MatchQuery{Regime: kinetics.RegimeStochastic, ReactionID: "R00299", Organism: "homo sapiens"})
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, id, m.ParameterID)
	assert.Equal(t, KindReaction, MatchQuery{ReactionID: "R00299"}.Key().Kind)

	// the cached 0.6 answer does not satisfy a stricter caller
	m, err = s.Match(ctx, MatchQuery{Regime: kinetics.RegimeStochastic, ReactionID: "R00299", Organism: "Homo sapiens", MinConfidence: 0.7})
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestClearAndPrune(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := newTestStore(t, Options{Now: func() time.Time { return now }})

	old, err := s.Store(ctx, hexokinase("Homo sapiens", 0.7))
	require.NoError(t, err)
	oldRaw := glucoseKm(0.1)
	oldRaw.FetchedAt = now
	_, err = s.InsertRawRecords(ctx, []db.RawRecord{oldRaw})
	require.NoError(t, err)
	_, err = s.ComputeStatistics(ctx, "2.7.1.1", "Km", "", "")
	require.NoError(t, err)

	now = now.Add(60 * 24 * time.Hour)
	fresh, err := s.Store(ctx, hexokinase("Homo sapiens", 0.7))
	require.NoError(t, err)

	rep, err := s.Prune(ctx, RetentionPolicy{MaxAge: 30 * 24 * time.Hour})
	require.NoError(t, err)
	assert.Equal(t, PruneReport{Parameters: 1, RawRecords: 1, Statistics: 1}, rep)
	_, err = s.Get(ctx, old)
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = s.Get(ctx, fresh)
	assert.NoError(t, err)

	_, err = s.Prune(ctx, RetentionPolicy{MaxRows: -1})
	assert.Error(t, err)

	_, err = s.Store(ctx, hexokinase("Mus musculus", 0.7))
	require.NoError(t, err)
	n, err := s.Clear(ctx, ScopeParameters)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = s.Clear(ctx, "everything")
	assert.Error(t, err)

	_, err = s.Clear(ctx, "")
	require.NoError(t, err)
	score, err := s.Compatibility(ctx, "Homo sapiens", "Mus musculus", "")
	require.NoError(t, err)
	assert.Equal(t, 0.85, score, "compatibility survives a full clear")
}

func TestApplications(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{})

	id, err := s.Store(ctx, hexokinase("Homo sapiens", 0.7))
	require.NoError(t, err)
	require.NoError(t, s.RecordApplication(ctx, db.Application{
		ID: "a1", TransitionID: "T1", Category: "kinetics", Source: "BRENDA", QualityScore: 0.9,
		FieldsFilled: []string{"km"}, ParameterID: &id,
	}))
	assert.True(t, errors.Is(s.RecordApplication(ctx, db.Application{ID: "a2", QualityScore: 3}), ErrInvalidConfidence))

	apps, err := s.Applications(ctx, "T1")
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.False(t, apps[0].AppliedAt.IsZero())
}
