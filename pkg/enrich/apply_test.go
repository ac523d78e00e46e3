package enrich

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/japaniel/kinenrich/pkg/db"
	"github.com/japaniel/kinenrich/pkg/inference"
	"github.com/japaniel/kinenrich/pkg/kinetics"
	"github.com/japaniel/kinenrich/pkg/paramstore"
	"github.com/japaniel/kinenrich/pkg/source"
)

func seedVmaxOnly(t *testing.T, store *paramstore.Store) {
	t.Helper()
	var recs []db.RawRecord
	for _, v := range []float64{110, 115, 120, 125, 130} {
		recs = append(recs, db.RawRecord{Source: "BRENDA", ECNumber: "2.7.1.1", ParameterType: "Vmax", Value: v, Organism: "Homo sapiens"})
	}
	n, err := store.InsertRawRecords(context.Background(), recs)
	require.NoError(t, err)
	require.Equal(t, 5, n)
}

func TestKineticsApplierCompletesPairFromDefaults(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	seedVmaxOnly(t, store)

	p := newPipeline(t, Options{Provenance: store})
	p.Register(source.NewStoreFetcher(store))
	p.SetApplier(source.CategoryKinetics, KineticsApplier{Store: store, Defaults: inference.ContinuousDefaults})
	out, err := p.Enrich(ctx, hexokinase, Request{Categories: []source.Category{source.CategoryKinetics}, MinQualityScore: 0.5})
	require.NoError(t, err)
	co, ok := out.Category(source.CategoryKinetics)
	require.True(t, ok)
	require.True(t, co.Success, co.Warnings)
	assert.Contains(t, co.Applied.Warnings, "Km 0.1 not measured, default from EC class 2")

	engine, err := inference.NewEngine(store, inference.Options{UseBackgroundFetch: true})
	require.NoError(t, err)
	res := engine.Infer(ctx, kinetics.ReactionRecord{
		ID:             "T1",
		ECNumber:       "2.7.1.1",
		RateExpression: "michaelis_menten(S, vmax, km)",
	}, "Homo sapiens", false)
	require.True(t, res.Metadata.StoreMatch)
	require.NotNil(t, res.Parameters.Continuous)
	assert.Equal(t, source.StoreFetcherName, res.Parameters.Source)
	assert.InDelta(t, 0.1, res.Parameters.Continuous.Km, 1e-9)
	assert.InDelta(t, 120, res.Parameters.Continuous.Vmax, 1e-9)
	assert.Contains(t, res.Parameters.NotesText(), "Km 0.1 not measured")
}

func TestKineticsApplierRejectsIncompletePairWithoutDefaults(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	seedVmaxOnly(t, store)

	p := newPipeline(t, Options{Provenance: store})
	p.Register(source.NewStoreFetcher(store))
	p.SetApplier(source.CategoryKinetics, KineticsApplier{Store: store})
	out, err := p.Enrich(ctx, hexokinase, Request{Categories: []source.Category{source.CategoryKinetics}, MinQualityScore: 0.5})
	require.NoError(t, err)
	co, ok := out.Category(source.CategoryKinetics)
	require.True(t, ok)
	assert.False(t, co.Success)

	sum, err := store.Summary(ctx)
	require.NoError(t, err)
	assert.Zero(t, sum.StoredParameters)
}
