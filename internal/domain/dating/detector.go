// Package dating establishes the year a page's prices were written in.
//
// Detection runs a fixed chain and stops at the first hit: publication
// meta tags, JSON-LD structured data, date-shaped URL segments, and finally
// the current calendar year. Malformed structured data is skipped.
package dating

import (
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/antchfx/htmlquery"
	"github.com/bytedance/sonic"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// EarliestYear is the first year with CPI data.
const EarliestYear = 1913

// Source names where a year came from.
type Source string

const (
	SourceMeta     Source = "meta"
	SourceJSONLD   Source = "json-ld"
	SourceURL      Source = "url"
	SourceOverride Source = "override"
	SourceDefault  Source = "default"
)

// Result is a detected year and its origin.
type Result struct {
	Year   int    `json:"year"`
	Source Source `json:"source"`
}

var yearPattern = regexp.MustCompile(`\b(\d{4})\b`)

var metaQueries = []string{
	`//meta[@property='article:published_time']`,
	`//meta[@property='og:published_time']`,
	`//meta[@name='datePublished']`,
	`//meta[@itemprop='datePublished']`,
	`//meta[@name='date']`,
	`//meta[@name='publication_date']`,
}

var jsonLDFields = []string{"datePublished", "dateCreated", "publishDate"}

var urlPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/(\d{4})/\d{2}/\d{2}/`),
	regexp.MustCompile(`/(\d{4})-\d{2}-\d{2}`),
	regexp.MustCompile(`/(\d{4})/\d{2}/`),
	regexp.MustCompile(`/(\d{4})/`),
	regexp.MustCompile(`[?&]year=(\d{4})`),
}

// Options configures a Detector.
type Options struct {
	Min    int // defaults to EarliestYear
	Max    int // defaults to the current year
	Now    func() time.Time
	Logger *zap.Logger
}

// Detector runs the detection chain.
type Detector struct {
	min    int
	max    int
	now    func() time.Time
	logger *zap.Logger
}

// NewDetector creates a detector.
func NewDetector(opts Options) *Detector {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Min == 0 {
		opts.Min = EarliestYear
	}
	if opts.Max == 0 {
		opts.Max = opts.Now().Year()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Detector{min: opts.Min, max: opts.Max, now: opts.Now, logger: opts.Logger}
}

// Valid reports whether year falls in the accepted range.
func (d *Detector) Valid(year int) bool {
	return year >= d.min && year <= d.max
}

// Detect returns the page year for doc loaded from pageURL. Either may be
// empty.
func (d *Detector) Detect(doc *html.Node, pageURL string) Result {
	if doc != nil {
		if y, ok := d.FromMeta(doc); ok {
			return Result{Year: y, Source: SourceMeta}
		}
		if y, ok := d.FromJSONLD(doc); ok {
			return Result{Year: y, Source: SourceJSONLD}
		}
	}
	if y, ok := d.FromURL(pageURL); ok {
		return Result{Year: y, Source: SourceURL}
	}
	return Result{Year: d.now().Year(), Source: SourceDefault}
}

// FromMeta reads publication meta tags.
func (d *Detector) FromMeta(doc *html.Node) (int, bool) {
	for _, q := range metaQueries {
		for _, n := range htmlquery.Find(doc, q) {
			content := htmlquery.SelectAttr(n, "content")
			if content == "" {
				content = htmlquery.SelectAttr(n, "value")
			}
			if y, ok := d.firstYear(content); ok {
				return y, true
			}
		}
	}
	return 0, false
}

// FromJSONLD reads date fields from structured data blocks, including
// arrays and @graph containers.
func (d *Detector) FromJSONLD(doc *html.Node) (int, bool) {
	for _, n := range htmlquery.Find(doc, `//script[@type='application/ld+json']`) {
		var data any
		if err := sonic.UnmarshalString(htmlquery.InnerText(n), &data); err != nil {
			d.logger.Debug("Skipping malformed JSON-LD", zap.Error(err))
			continue
		}
		if y, ok := d.walkJSONLD(data, 0); ok {
			return y, true
		}
	}
	return 0, false
}

func (d *Detector) walkJSONLD(v any, depth int) (int, bool) {
	if depth > 8 {
		return 0, false
	}
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if y, ok := d.walkJSONLD(item, depth+1); ok {
				return y, true
			}
		}
	case map[string]any:
		for _, field := range jsonLDFields {
			if s, ok := t[field].(string); ok {
				if y, ok := d.firstYear(s); ok {
					return y, true
				}
			}
		}
		if graph, ok := t["@graph"]; ok {
			return d.walkJSONLD(graph, depth+1)
		}
	}
	return 0, false
}

// FromURL matches date-shaped path segments and a year query parameter.
func (d *Detector) FromURL(raw string) (int, bool) {
	if raw == "" {
		return 0, false
	}
	target := raw
	if u, err := url.Parse(raw); err == nil {
		target = u.Path + raw
	}
	for _, re := range urlPatterns {
		m := re.FindStringSubmatch(target)
		if m == nil {
			continue
		}
		if y, err := strconv.Atoi(m[1]); err == nil && d.Valid(y) {
			return y, true
		}
	}
	return 0, false
}

func (d *Detector) firstYear(s string) (int, bool) {
	for _, m := range yearPattern.FindAllStringSubmatch(s, -1) {
		if y, err := strconv.Atoi(m[1]); err == nil && d.Valid(y) {
			return y, true
		}
	}
	return 0, false
}
