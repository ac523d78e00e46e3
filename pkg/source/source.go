// Package source defines the contract between the enrichment pipeline and the external
// databases it pulls from, plus the fetchers kinenrich ships with.
package source

import (
	"context"
	"strings"
	"time"

	"github.com/japaniel/kinenrich/pkg/quality"
)

// Category is a kind of data a fetcher can fill in.
type Category string

const (
	CategoryConcentration Category = "concentration"
	CategoryKinetics      Category = "kinetics"
	CategoryInteraction   Category = "interaction"
	CategoryAnnotation    Category = "annotation"
)

// Categories lists every category in a stable order.
var Categories = []Category{CategoryConcentration, CategoryKinetics, CategoryInteraction, CategoryAnnotation}

// ParseCategory maps a name to a Category. ok is false for unknown names.
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Categories {
		if c == known {
			return c, true
		}
	}
	return "", false
}

// Status is the outcome of one fetch.
type Status string

const (
	StatusSuccess     Status = "success"
	StatusPartial     Status = "partial"
	StatusFailed      Status = "failed"
	StatusTimeout     Status = "timeout"
	StatusNotFound    Status = "not_found"
	StatusRateLimited Status = "rate_limited"
	// StatusUnsupported means the fetcher cannot answer this kind of identifier at all.
	StatusUnsupported Status = "unsupported"
)

// IDKind says what an identifier names.
type IDKind string

const (
	IDEC       IDKind = "ec"
	IDReaction IDKind = "reaction"
	IDName     IDKind = "name"
)

// Identifier is what a fetch looks up.
type Identifier struct {
	Kind     IDKind
	Value    string
	Organism string
}

// KineticData is a kinetics category payload. Values are nil when unknown.
type KineticData struct {
	ECNumber string   `json:"ec_number"`
	Organism string   `json:"organism,omitempty"`
	Km       *float64 `json:"km,omitempty"`
	Kcat     *float64 `json:"kcat,omitempty"`
	Vmax     *float64 `json:"vmax,omitempty"`
	Ki       *float64 `json:"ki,omitempty"`
	// Samples is the number of measurements behind the values.
	Samples int `json:"samples"`
}

// Annotation is an annotation category payload.
type Annotation struct {
	Title    string `json:"title"`
	Byline   string `json:"byline,omitempty"`
	SiteName string `json:"site_name,omitempty"`
	Excerpt  string `json:"excerpt,omitempty"`
	Text     string `json:"text,omitempty"`
}

// Result is one fetcher's answer for one category.
type Result struct {
	Source     string         `json:"source"`
	Category   Category       `json:"category"`
	Status     Status         `json:"status"`
	Identifier Identifier     `json:"identifier"`
	URL        string         `json:"url,omitempty"`
	Quality    quality.Inputs `json:"quality"`
	// FieldsFilled names the payload fields that carry data.
	FieldsFilled []string      `json:"fields_filled,omitempty"`
	Errors       []string      `json:"errors,omitempty"`
	Warnings     []string      `json:"warnings,omitempty"`
	Duration     time.Duration `json:"duration"`
	FetchedAt    time.Time     `json:"fetched_at"`

	Kinetics   *KineticData `json:"kinetics,omitempty"`
	Annotation *Annotation  `json:"annotation,omitempty"`
}

func (r Result) QualityInputs() quality.Inputs { return r.Quality }
func (r Result) SourceName() string            { return r.Source }

// Usable reports whether the result carries data worth scoring.
func (r Result) Usable() bool {
	return r.Status == StatusSuccess || r.Status == StatusPartial
}

// Score is the quality score of the result.
func (r Result) Score() float64 { return quality.Score(r.Quality) }

// Fetcher is implemented by every external data source.
type Fetcher interface {
	Name() string
	Supports(c Category) bool
	// Available reports whether the source can be queried right now.
	Available(ctx context.Context) bool
	// Fetch reports expected outcomes (missing data, HTTP errors, timeouts) through
	// Result.Status. A returned error means the fetcher itself broke.
	Fetch(ctx context.Context, id Identifier, c Category) (Result, error)
}

// Unsupported builds the result for an identifier kind a fetcher cannot handle.
func Unsupported(source string, id Identifier, c Category) Result {
	return Result{
		Source:     source,
		Category:   c,
		Status:     StatusUnsupported,
		Identifier: id,
		Errors:     []string{"lookup by " + string(id.Kind) + " is not supported"},
		FetchedAt:  time.Now(),
	}
}
