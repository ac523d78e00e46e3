package enrich

import (
	"errors"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Totals are the running fetch counters of a Pipeline.
type Totals struct {
	Attempted int64 `json:"attempted"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
}

type metrics struct {
	attempted atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64

	attemptedVec *prometheus.CounterVec
	succeededVec *prometheus.CounterVec
	failedVec    *prometheus.CounterVec
	categoryFail *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	labels := []string{"source", "category"}
	m := &metrics{
		attemptedVec: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kinenrich",
			Subsystem: "enrich",
			Name:      "fetches_attempted_total",
			Help:      "Fetches started, by source and category.",
		}, labels),
		succeededVec: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kinenrich",
			Subsystem: "enrich",
			Name:      "fetches_succeeded_total",
			Help:      "Fetches that returned usable data.",
		}, labels),
		failedVec: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kinenrich",
			Subsystem: "enrich",
			Name:      "fetches_failed_total",
			Help:      "Fetches that errored, panicked, timed out or returned no usable data.",
		}, labels),
		categoryFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kinenrich",
			Subsystem: "enrich",
			Name:      "category_failures_total",
			Help:      "Categories left without an accepted result.",
		}, []string{"category"}),
	}
	if reg == nil {
		return m, nil
	}
	// pipelines sharing a registry share its counters
	for _, c := range []**prometheus.CounterVec{&m.attemptedVec, &m.succeededVec, &m.failedVec, &m.categoryFail} {
		if err := reg.Register(*c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
					*c = existing
					continue
				}
			}
			return nil, err
		}
	}
	return m, nil
}

func (m *metrics) attempt(src, category string) {
	m.attempted.Add(1)
	m.attemptedVec.WithLabelValues(src, category).Inc()
}

func (m *metrics) outcome(src, category string, usable bool) {
	if usable {
		m.succeeded.Add(1)
		m.succeededVec.WithLabelValues(src, category).Inc()
		return
	}
	m.failed.Add(1)
	m.failedVec.WithLabelValues(src, category).Inc()
}

func (m *metrics) totals() Totals {
	return Totals{
		Attempted: m.attempted.Load(),
		Succeeded: m.succeeded.Load(),
		Failed:    m.failed.Load(),
	}
}
