package source

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/japaniel/kinenrich/pkg/db"
	"github.com/japaniel/kinenrich/pkg/kinetics"
	"github.com/japaniel/kinenrich/pkg/quality"
)

// StatisticsSource aggregates locally cached raw records.
type StatisticsSource interface {
	ComputeStatistics(ctx context.Context, ec, paramType, organism, substrate string) (*db.Statistics, error)
}

// StoreFetcherName is the source name of StoreFetcher results.
const StoreFetcherName = "local"

// StoreFetcher answers kinetics queries from raw records imported into the parameter store.
type StoreFetcher struct {
	stats StatisticsSource
}

// NewStoreFetcher wraps a statistics source.
func NewStoreFetcher(stats StatisticsSource) *StoreFetcher {
	return &StoreFetcher{stats: stats}
}

func (f *StoreFetcher) Name() string { return StoreFetcherName }

func (f *StoreFetcher) Supports(c Category) bool { return c == CategoryKinetics }

func (f *StoreFetcher) Available(ctx context.Context) bool { return f.stats != nil }

// expected kinetic fields; Ki is optional
var coreKineticTypes = []string{"Km", "Kcat", "Vmax"}

// Fetch summarises the raw records of an EC number. When the organism has no records
// the statistics over all organisms are used and the result is marked partial.
func (f *StoreFetcher) Fetch(ctx context.Context, id Identifier, c Category) (Result, error) {
	start := time.Now()
	if !f.Supports(c) || id.Kind != IDEC {
		return Unsupported(f.Name(), id, c), nil
	}
	ec := kinetics.NormalizeEC(id.Value)
	res := Result{Source: f.Name(), Category: c, Identifier: id, FetchedAt: start}

	organism := strings.TrimSpace(id.Organism)
	data, spreads, err := f.collect(ctx, ec, organism)
	if err != nil {
		return Result{}, err
	}
	fallback := false
	if data.Samples == 0 && organism != "" {
		if data, spreads, err = f.collect(ctx, ec, ""); err != nil {
			return Result{}, err
		}
		fallback = true
	}
	res.Duration = time.Since(start)
	if data.Samples == 0 {
		res.Status = StatusNotFound
		return res, nil
	}
	data.ECNumber = ec
	if !fallback {
		data.Organism = organism
	}
	res.Kinetics = &data
	for _, name := range []string{"km", "kcat", "vmax", "ki"} {
		if data.value(name) != nil {
			res.FieldsFilled = append(res.FieldsFilled, name)
		}
	}

	core := 0
	for _, t := range coreKineticTypes {
		if data.value(strings.ToLower(t)) != nil {
			core++
		}
	}
	res.Status = StatusSuccess
	if core < len(coreKineticTypes) || fallback {
		res.Status = StatusPartial
	}

	consistency := 1.0
	if len(spreads) > 0 {
		var cv float64
		for _, s := range spreads {
			cv += s
		}
		consistency = 1 - math.Min(cv/float64(len(spreads)), 1)
	}
	if fallback {
		consistency *= 0.8
		res.Warnings = append(res.Warnings, fmt.Sprintf("no records for %s, using all organisms", organism))
	}
	res.Quality = quality.Inputs{
		Completeness: quality.Completeness(core, len(coreKineticTypes)),
		Reliability:  quality.SourceReliability(StoreFetcherName),
		Consistency:  consistency,
		Validation:   math.Min(float64(data.Samples)/5, 1),
	}
	return res, nil
}

// collect returns the mean of every parameter type plus each type's coefficient of variation.
func (f *StoreFetcher) collect(ctx context.Context, ec, organism string) (KineticData, []float64, error) {
	var data KineticData
	var spreads []float64
	for _, t := range []string{"Km", "Kcat", "Vmax", "Ki"} {
		st, err := f.stats.ComputeStatistics(ctx, ec, t, organism, "")
		if err != nil {
			return KineticData{}, nil, fmt.Errorf("statistics %s %s: %w", ec, t, err)
		}
		if st == nil {
			continue
		}
		mean := st.Mean
		data.set(strings.ToLower(t), &mean)
		data.Samples += st.Count
		if st.Count > 1 && st.Mean > 0 {
			spreads = append(spreads, st.StdDev/st.Mean)
		}
	}
	return data, spreads, nil
}

func (d *KineticData) set(name string, v *float64) {
	switch name {
	case "km":
		d.Km = v
	case "kcat":
		d.Kcat = v
	case "vmax":
		d.Vmax = v
	case "ki":
		d.Ki = v
	}
}

func (d KineticData) value(name string) *float64 {
	switch name {
	case "km":
		return d.Km
	case "kcat":
		return d.Kcat
	case "vmax":
		return d.Vmax
	case "ki":
		return d.Ki
	}
	return nil
}
