package quality

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rec struct {
	name   string
	usable bool
	in     Inputs
}

func (r rec) QualityInputs() Inputs { return r.in }
func (r rec) Usable() bool          { return r.usable }
func (r rec) SourceName() string    { return r.name }

func flat(name string, v float64) rec {
	return rec{name: name, usable: true, in: Inputs{Completeness: v, Reliability: v, Consistency: v, Validation: v}}
}

func TestScoreExample(t *testing.T) {
	got := Score(Inputs{Completeness: 1, Reliability: 0.85, Consistency: 1, Validation: 1})
	assert.InDelta(t, 0.955, got, 1e-12)
}

func TestScoreIsWeightedSum(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		in := Inputs{Completeness: r.Float64(), Reliability: r.Float64(), Consistency: r.Float64(), Validation: r.Float64()}
		want := 0.25*in.Completeness + 0.30*in.Reliability + 0.20*in.Consistency + 0.25*in.Validation
		assert.Equal(t, want, Score(in))
	}
}

func TestScoreClampsInputs(t *testing.T) {
	assert.Equal(t, 1.0, Score(Inputs{Completeness: 3, Reliability: 2, Consistency: 9, Validation: 1.5}))
	assert.Equal(t, 0.0, Score(Inputs{Completeness: -1, Reliability: -2}))
}

func TestRankIsStablePermutation(t *testing.T) {
	assert.Empty(t, Rank([]rec{}))

	one := []rec{flat("a", 0.4)}
	assert.Equal(t, one, Rank(one))

	in := []rec{flat("a", 0.5), flat("b", 0.9), flat("c", 0.5), flat("d", 0.1), flat("e", 0.9)}
	out := Rank(in)
	require.Len(t, out, len(in))
	names := make([]string, len(out))
	for i, r := range out {
		names[i] = r.name
	}
	assert.Equal(t, []string{"b", "e", "a", "c", "d"}, names)
	assert.ElementsMatch(t, in, out)
	assert.Equal(t, "a", in[0].name, "input is not reordered")
}

func TestBest(t *testing.T) {
	records := []rec{
		{name: "failed", usable: false, in: Inputs{1, 1, 1, 1}},
		flat("low", 0.3),
		flat("mid", 0.7),
		flat("high", 0.8),
	}
	best, ok := Best(records, 0.5)
	require.True(t, ok)
	assert.Equal(t, "high", best.name, "unusable records never win")

	_, ok = Best(records, 0.95)
	assert.False(t, ok)

	_, ok = Best([]rec(nil), 0)
	assert.False(t, ok)
}

func TestFilterAndEvaluate(t *testing.T) {
	records := []rec{flat("KEGG", 0.2), flat("BRENDA", 0.6), {name: "BRENDA", in: Inputs{Validation: 1}}}
	kept := FilterByMinQuality(records, 0.5)
	require.Len(t, kept, 1)
	assert.Equal(t, "BRENDA", kept[0].name)

	s := Evaluate(records)
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 2, s.Usable)
	assert.InDelta(t, 0.2, s.Min, 1e-12)
	assert.InDelta(t, 0.6, s.Max, 1e-12)
	assert.InDelta(t, (0.2+0.6+0.25)/3, s.Average, 1e-12)
	assert.Equal(t, []string{"BRENDA", "KEGG"}, s.Sources)

	assert.Equal(t, Summary{}, Evaluate([]rec{}))
}

func TestCompletenessAndReliability(t *testing.T) {
	assert.Equal(t, 0.5, Completeness(2, 4))
	assert.Equal(t, 1.0, Completeness(5, 4))
	assert.Equal(t, 0.0, Completeness(0, 0))
	assert.Equal(t, 0.9, SourceReliability(" brenda "))
	assert.Equal(t, DefaultReliability, SourceReliability("somewhere"))
}
