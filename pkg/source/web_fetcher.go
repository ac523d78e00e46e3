package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"

	"github.com/japaniel/kinenrich/pkg/kinetics"
	"github.com/japaniel/kinenrich/pkg/quality"
)

// DefaultAnnotationURL is the ExPASy ENZYME entry page; %s takes the EC number.
const DefaultAnnotationURL = "https://enzyme.expasy.org/EC/%s"

// MaxBodySize caps downloaded pages.
const MaxBodySize = 10 * 1024 * 1024

// WebFetcherOptions configure a WebFetcher.
type WebFetcherOptions struct {
	Name        string
	URLTemplate string
	Client      *http.Client
	UserAgent   string
}

// WebFetcher fills the annotation category from an enzyme entry web page, extracting the
// readable text with go-readability.
type WebFetcher struct {
	name     string
	template string
	client   *http.Client
	agent    string
}

// NewWebFetcher builds a WebFetcher; zero options select ExPASy and a 30s client.
func NewWebFetcher(opts WebFetcherOptions) *WebFetcher {
	f := &WebFetcher{
		name:     opts.Name,
		template: opts.URLTemplate,
		client:   opts.Client,
		agent:    opts.UserAgent,
	}
	if f.name == "" {
		f.name = "ExPASy"
	}
	if f.template == "" {
		f.template = DefaultAnnotationURL
	}
	if f.client == nil {
		f.client = &http.Client{Timeout: 30 * time.Second}
	}
	if f.agent == "" {
		f.agent = "kinenrich/0.1 (+https://github.com/japaniel/kinenrich)"
	}
	return f
}

func (f *WebFetcher) Name() string { return f.name }

func (f *WebFetcher) Supports(c Category) bool { return c == CategoryAnnotation }

func (f *WebFetcher) Available(ctx context.Context) bool {
	return strings.Contains(f.template, "%s")
}

// Fetch downloads and extracts the entry page of a full EC number. Name lookups are unsupported.
func (f *WebFetcher) Fetch(ctx context.Context, id Identifier, c Category) (Result, error) {
	if !f.Supports(c) || id.Kind != IDEC {
		return Unsupported(f.Name(), id, c), nil
	}
	start := time.Now()
	ec := kinetics.NormalizeEC(id.Value)
	res := Result{Source: f.Name(), Category: c, Identifier: id, FetchedAt: start}
	if !kinetics.IsFullEC(ec) {
		res.Status = StatusNotFound
		res.Errors = []string{fmt.Sprintf("%q is not a complete EC number", id.Value)}
		return res, nil
	}
	res.URL = fmt.Sprintf(f.template, ec)

	body, status, err := f.download(ctx, res.URL)
	if err != nil {
		res.Status = status
		res.Errors = append(res.Errors, err.Error())
		res.Duration = time.Since(start)
		return res, nil
	}

	pageURL, _ := url.Parse(res.URL)
	article, err := readability.FromReader(bytes.NewReader(SanitizeMarkup(body)), pageURL)
	if err != nil {
		res.Status = StatusFailed
		res.Errors = append(res.Errors, fmt.Sprintf("extract article: %v", err))
		res.Duration = time.Since(start)
		return res, nil
	}
	ann := &Annotation{
		Title:    strings.TrimSpace(article.Title),
		Byline:   strings.TrimSpace(article.Byline),
		SiteName: strings.TrimSpace(article.SiteName),
		Excerpt:  strings.TrimSpace(article.Excerpt),
		Text:     strings.TrimSpace(article.TextContent),
	}
	res.Duration = time.Since(start)
	if ann.Title == "" && ann.Text == "" {
		res.Status = StatusNotFound
		return res, nil
	}
	res.Annotation = ann
	for _, field := range []struct{ name, value string }{
		{"excerpt", ann.Excerpt}, {"text", ann.Text}, {"title", ann.Title},
	} {
		if field.value != "" {
			res.FieldsFilled = append(res.FieldsFilled, field.name)
		}
	}

	res.Status = StatusSuccess
	if len(res.FieldsFilled) < 3 {
		res.Status = StatusPartial
	}
	consistency := 0.7
	if strings.Contains(ann.Title+" "+ann.Text, ec) {
		consistency = 1
	}
	validation := 0.5
	if len(ann.Text) >= 200 {
		validation = 1
	}
	res.Quality = quality.Inputs{
		Completeness: quality.Completeness(len(res.FieldsFilled), 3),
		Reliability:  quality.SourceReliability(f.name),
		Consistency:  consistency,
		Validation:   validation,
	}
	return res, nil
}

// download returns the page body, or the status describing why it could not.
func (f *WebFetcher) download(ctx context.Context, u string) ([]byte, Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, StatusFailed, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.agent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, StatusTimeout, fmt.Errorf("fetch %s: %w", u, err)
		}
		return nil, StatusFailed, fmt.Errorf("fetch %s: %w", u, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, StatusNotFound, fmt.Errorf("fetch %s: status %d", u, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, StatusRateLimited, fmt.Errorf("fetch %s: status %d", u, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, StatusFailed, fmt.Errorf("fetch %s: status %d", u, resp.StatusCode)
	}

	if resp.ContentLength > MaxBodySize {
		return nil, StatusFailed, fmt.Errorf("content-length %d exceeds limit of %d bytes", resp.ContentLength, MaxBodySize)
	}
	// read one byte past the limit to tell a full page from a truncated one
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize+1))
	if err != nil {
		return nil, StatusFailed, fmt.Errorf("read body: %w", err)
	}
	if len(body) > MaxBodySize {
		return nil, StatusFailed, fmt.Errorf("response body exceeded %d bytes", MaxBodySize)
	}
	return body, StatusSuccess, nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

var (
	// (?s) lets dot match newlines, (?i) ignores case
	reScript   = regexp.MustCompile(`(?si)<script\b[^>]*>.*?</script>`)
	reStyle    = regexp.MustCompile(`(?si)<style\b[^>]*>.*?</style>`)
	reNoscript = regexp.MustCompile(`(?si)<noscript\b[^>]*>.*?</noscript>`)
)

// SanitizeMarkup strips script, style and noscript blocks so they never reach the
// extracted text.
func SanitizeMarkup(content []byte) []byte {
	cleaned := reScript.ReplaceAll(content, nil)
	cleaned = reStyle.ReplaceAll(cleaned, nil)
	return reNoscript.ReplaceAll(cleaned, nil)
}
