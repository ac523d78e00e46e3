// Package enrich fills missing data on a reaction from the registered external sources,
// keeping the best result per category and recording where it came from.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/japaniel/kinenrich/pkg/db"
	"github.com/japaniel/kinenrich/pkg/kinetics"
	"github.com/japaniel/kinenrich/pkg/logging"
	"github.com/japaniel/kinenrich/pkg/quality"
	"github.com/japaniel/kinenrich/pkg/source"
)

const (
	DefaultFetchTimeout         = 30 * time.Second
	DefaultMaxConcurrentFetches = 4
	DefaultWorkers              = 2
)

// ErrInvalidRequest is returned for requests that cannot be run.
var ErrInvalidRequest = errors.New("invalid enrichment request")

// ProvenanceStore persists the provenance of applied results.
type ProvenanceStore interface {
	RecordApplication(ctx context.Context, a db.Application) error
}

// Target identifies the reaction being enriched.
type Target struct {
	TransitionID string `json:"transition_id"`
	ECNumber     string `json:"ec_number,omitempty"`
	ReactionID   string `json:"reaction_id,omitempty"`
	EnzymeName   string `json:"enzyme_name,omitempty"`
	Organism     string `json:"organism,omitempty"`
}

// TargetFromRecord builds a Target; organism overrides the record's hint when set.
func TargetFromRecord(rec kinetics.ReactionRecord, organism string) Target {
	if strings.TrimSpace(organism) == "" {
		organism = rec.Organism
	}
	name := rec.EnzymeName
	if name == "" {
		name = rec.Label
	}
	return Target{
		TransitionID: rec.ID,
		ECNumber:     kinetics.NormalizeEC(rec.ECNumber),
		ReactionID:   strings.TrimSpace(rec.ReactionID),
		EnzymeName:   strings.TrimSpace(name),
		Organism:     strings.TrimSpace(organism),
	}
}

// Identifier picks the most specific lookup key: EC number, then reaction id, then name.
func (t Target) Identifier() source.Identifier {
	switch {
	case t.ECNumber != "":
		return source.Identifier{Kind: source.IDEC, Value: t.ECNumber, Organism: t.Organism}
	case t.ReactionID != "":
		return source.Identifier{Kind: source.IDReaction, Value: t.ReactionID, Organism: t.Organism}
	default:
		return source.Identifier{Kind: source.IDName, Value: t.EnzymeName, Organism: t.Organism}
	}
}

// Request selects what to enrich. Empty Categories means every category.
type Request struct {
	Categories      []source.Category `json:"categories,omitempty"`
	Allow           []string          `json:"allow,omitempty"`
	Deny            []string          `json:"deny,omitempty"`
	MinQualityScore float64           `json:"min_quality_score"`
}

// Attempt summarises one fetcher's answer within a category.
type Attempt struct {
	Source   string        `json:"source"`
	Status   source.Status `json:"status"`
	Score    float64       `json:"score"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// CategoryOutcome is the result of one category.
type CategoryOutcome struct {
	Category   source.Category      `json:"category"`
	Success    bool                 `json:"success"`
	Winner     *source.Result       `json:"winner,omitempty"`
	Provenance *kinetics.Provenance `json:"provenance,omitempty"`
	Applied    *ApplyResult         `json:"applied,omitempty"`
	Attempts   []Attempt            `json:"attempts,omitempty"`
	Warnings   []string             `json:"warnings,omitempty"`
}

// Outcome is the result of one Enrich call. Categories follow the request order.
type Outcome struct {
	Target     Target            `json:"target"`
	Categories []CategoryOutcome `json:"categories"`
	Duration   time.Duration     `json:"duration"`
}

// Category returns the outcome of c.
func (o Outcome) Category(c source.Category) (CategoryOutcome, bool) {
	for _, co := range o.Categories {
		if co.Category == c {
			return co, true
		}
	}
	return CategoryOutcome{}, false
}

// Succeeded counts categories that got an accepted result.
func (o Outcome) Succeeded() int {
	n := 0
	for _, co := range o.Categories {
		if co.Success {
			n++
		}
	}
	return n
}

// Options configure a Pipeline. The zero value is usable.
type Options struct {
	Logger *logging.Logger
	// Provenance receives one row per applied result; nil skips recording.
	Provenance ProvenanceStore
	// Registerer receives the pipeline counters; nil keeps them private.
	Registerer           prometheus.Registerer
	FetchTimeout         time.Duration
	MaxConcurrentFetches int
	// Workers and QueueSize size the pool behind EnrichAsync.
	Workers   int
	QueueSize int
	Now       func() time.Time
}

// Pipeline runs enrichment requests against the registered fetchers.
type Pipeline struct {
	log         *logging.Logger
	provenance  ProvenanceStore
	timeout     time.Duration
	concurrency int
	now         func() time.Time
	metrics     *metrics

	mu       sync.RWMutex
	fetchers []source.Fetcher
	appliers map[source.Category]Applier

	pool       *WorkerPool
	poolCancel context.CancelFunc
}

// NewPipeline builds a pipeline and starts its async worker pool. Call Close when done.
func NewPipeline(opts Options) (*Pipeline, error) {
	m, err := newMetrics(opts.Registerer)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	p := &Pipeline{
		log:         logging.OrNop(opts.Logger),
		provenance:  opts.Provenance,
		timeout:     opts.FetchTimeout,
		concurrency: opts.MaxConcurrentFetches,
		now:         opts.Now,
		metrics:     m,
		appliers:    make(map[source.Category]Applier),
	}
	if p.timeout <= 0 {
		p.timeout = DefaultFetchTimeout
	}
	if p.concurrency <= 0 {
		p.concurrency = DefaultMaxConcurrentFetches
	}
	if p.now == nil {
		p.now = time.Now
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.pool = NewWorkerPool(workers, opts.QueueSize)
	p.pool.Start(ctx)
	p.poolCancel = cancel
	return p, nil
}

// Register adds fetchers. Registration order breaks score ties.
func (p *Pipeline) Register(fetchers ...source.Fetcher) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fetchers = append(p.fetchers, fetchers...)
}

// SetApplier installs the applier for a category, replacing any previous one.
func (p *Pipeline) SetApplier(c source.Category, a Applier) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.appliers[c] = a
}

// Totals returns the running fetch counters.
func (p *Pipeline) Totals() Totals { return p.metrics.totals() }

// Close waits for queued async runs to finish and stops the pool.
func (p *Pipeline) Close() {
	p.pool.Close()
	p.poolCancel()
}

// Enrich runs every requested category. Source failures and categories without an
// acceptable result are reported in the outcome. The error is non-nil only for an invalid
// request, a failing applier or a failure to record provenance.
func (p *Pipeline) Enrich(ctx context.Context, target Target, req Request) (Outcome, error) {
	start := time.Now()
	out := Outcome{Target: target}
	if req.MinQualityScore < 0 || req.MinQualityScore > 1 {
		return out, fmt.Errorf("min quality score %v: %w", req.MinQualityScore, ErrInvalidRequest)
	}
	categories := req.Categories
	if len(categories) == 0 {
		categories = source.Categories
	}
	for _, c := range categories {
		if _, ok := source.ParseCategory(string(c)); !ok {
			return out, fmt.Errorf("category %q: %w", c, ErrInvalidRequest)
		}
	}

	log := p.log.With("transition", target.TransitionID)
	for _, c := range categories {
		co, err := p.enrichCategory(ctx, log, target, req, c)
		out.Categories = append(out.Categories, co)
		if err != nil {
			out.Duration = time.Since(start)
			return out, err
		}
	}
	out.Duration = time.Since(start)
	log.Info("enrichment finished", "categories", len(out.Categories), "succeeded", out.Succeeded(), "duration", out.Duration)
	return out, nil
}

// EnrichAsync runs Enrich on the pipeline's worker pool and reports through done.
func (p *Pipeline) EnrichAsync(ctx context.Context, target Target, req Request, done func(Outcome, error)) error {
	return p.pool.Submit(func(poolCtx context.Context) {
		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(poolCtx, cancel)
		defer stop()
		out, err := p.Enrich(runCtx, target, req)
		if done != nil {
			done(out, err)
		}
	})
}

func (p *Pipeline) enrichCategory(ctx context.Context, log *logging.Logger, target Target, req Request, c source.Category) (CategoryOutcome, error) {
	co := CategoryOutcome{Category: c}
	fetchers := p.eligible(ctx, c, req)
	if len(fetchers) == 0 {
		co.Warnings = append(co.Warnings, fmt.Sprintf("no available source for %s", c))
		p.metrics.categoryFail.WithLabelValues(string(c)).Inc()
		return co, nil
	}

	results := p.fetchAll(ctx, log, fetchers, target.Identifier(), c)
	for _, r := range results {
		a := Attempt{Source: r.Source, Status: r.Status, Duration: r.Duration}
		if r.Usable() {
			a.Score = r.Score()
		}
		if len(r.Errors) > 0 {
			a.Error = strings.Join(r.Errors, "; ")
			co.Warnings = append(co.Warnings, fmt.Sprintf("%s: %s", r.Source, a.Error))
		}
		co.Attempts = append(co.Attempts, a)
	}

	winner, ok := quality.Best(results, req.MinQualityScore)
	if !ok {
		co.Warnings = append(co.Warnings, fmt.Sprintf("no result for %s met minimum quality %.2f", c, req.MinQualityScore))
		p.metrics.categoryFail.WithLabelValues(string(c)).Inc()
		log.Debug("category not enriched", "category", c, "attempts", len(results))
		return co, nil
	}
	co.Winner = &winner
	score := winner.Score()
	co.Provenance = &kinetics.Provenance{
		Source:        winner.Source,
		URL:           winner.URL,
		QualityScore:  score,
		FieldsFilled:  winner.FieldsFilled,
		FetchDuration: winner.Duration,
		FetchedAt:     winner.FetchedAt,
	}

	var parameterID *int64
	applier := p.applier(c)
	if applier == nil {
		co.Warnings = append(co.Warnings, fmt.Sprintf("no applier for %s; result not applied", c))
	} else {
		res, err := applier.Apply(ctx, target, winner)
		if err != nil {
			return co, fmt.Errorf("apply %s from %s: %w", c, winner.Source, err)
		}
		co.Applied = &res
		co.Warnings = append(co.Warnings, res.Warnings...)
		if !res.Success {
			co.Warnings = append(co.Warnings, res.Errors...)
			p.metrics.categoryFail.WithLabelValues(string(c)).Inc()
			return co, nil
		}
		parameterID = res.ParameterID
	}

	if p.provenance != nil {
		app := db.Application{
			ID:            uuid.NewString(),
			TransitionID:  target.TransitionID,
			Category:      string(c),
			Source:        winner.Source,
			URL:           winner.URL,
			QualityScore:  kinetics.Clamp01(score),
			FieldsFilled:  winner.FieldsFilled,
			FetchDuration: winner.Duration,
			ParameterID:   parameterID,
			AppliedAt:     p.now(),
		}
		if err := p.provenance.RecordApplication(ctx, app); err != nil {
			return co, fmt.Errorf("record provenance for %s: %w", c, err)
		}
	}
	co.Success = true
	log.Info("category enriched", "category", c, "source", winner.Source, "score", score)
	return co, nil
}

func (p *Pipeline) applier(c source.Category) Applier {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.appliers[c]
}

// eligible lists registered fetchers that pass the allow/deny lists, support c and are
// available, in registration order.
func (p *Pipeline) eligible(ctx context.Context, c source.Category, req Request) []source.Fetcher {
	p.mu.RLock()
	registered := append([]source.Fetcher(nil), p.fetchers...)
	p.mu.RUnlock()

	allow := nameSet(req.Allow)
	deny := nameSet(req.Deny)
	var out []source.Fetcher
	for _, f := range registered {
		name := strings.ToLower(f.Name())
		if len(allow) > 0 && !allow[name] {
			continue
		}
		if deny[name] || !f.Supports(c) {
			continue
		}
		if !p.available(ctx, f) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func (p *Pipeline) available(ctx context.Context, f source.Fetcher) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Warn("fetcher availability check panicked", "source", f.Name(), "panic", r)
			ok = false
		}
	}()
	return f.Available(ctx)
}

func nameSet(names []string) map[string]bool {
	if len(names) == 0 {
		return nil
	}
	out := make(map[string]bool, len(names))
	for _, n := range names {
		if n = strings.ToLower(strings.TrimSpace(n)); n != "" {
			out[n] = true
		}
	}
	return out
}

// fetchAll queries every fetcher concurrently. The result slice is in fetcher order and
// always has one entry per fetcher.
func (p *Pipeline) fetchAll(ctx context.Context, log *logging.Logger, fetchers []source.Fetcher, id source.Identifier, c source.Category) []source.Result {
	results := make([]source.Result, len(fetchers))
	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, f := range fetchers {
		g.Go(func() error {
			p.metrics.attempt(f.Name(), string(c))
			res := p.fetchOne(ctx, f, id, c)
			p.metrics.outcome(f.Name(), string(c), res.Usable())
			if !res.Usable() {
				log.Warn("source returned no usable data", "source", f.Name(), "category", c, "status", res.Status, "errors", res.Errors)
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}

type fetchReply struct {
	res source.Result
	err error
}

// fetchOne runs a single fetch under the per-fetch timeout and turns errors, panics and
// timeouts into a failed result.
func (p *Pipeline) fetchOne(ctx context.Context, f source.Fetcher, id source.Identifier, c source.Category) source.Result {
	start := time.Now()
	fctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	reply := make(chan fetchReply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				reply <- fetchReply{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		res, err := f.Fetch(fctx, id, c)
		reply <- fetchReply{res: res, err: err}
	}()

	failed := source.Result{Source: f.Name(), Category: c, Identifier: id, FetchedAt: start}
	select {
	case r := <-reply:
		if r.err != nil {
			failed.Status = source.StatusFailed
			if errors.Is(r.err, context.DeadlineExceeded) {
				failed.Status = source.StatusTimeout
			}
			failed.Errors = []string{r.err.Error()}
			failed.Duration = time.Since(start)
			return failed
		}
		res := r.res
		if res.Source == "" {
			res.Source = f.Name()
		}
		if res.Category == "" {
			res.Category = c
		}
		if res.Duration == 0 {
			res.Duration = time.Since(start)
		}
		return res
	case <-fctx.Done():
		failed.Status = source.StatusTimeout
		if ctx.Err() != nil {
			failed.Status = source.StatusFailed
		}
		failed.Errors = []string{fmt.Sprintf("fetch aborted after %s: %v", time.Since(start).Round(time.Millisecond), fctx.Err())}
		failed.Duration = time.Since(start)
		return failed
	}
}
