package pipeline

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/GriffinCanCode/InflationLens/internal/domain/annotator"
	"github.com/GriffinCanCode/InflationLens/internal/domain/batcher"
	"github.com/GriffinCanCode/InflationLens/internal/domain/dating"
	"github.com/GriffinCanCode/InflationLens/internal/domain/document"
	"github.com/GriffinCanCode/InflationLens/internal/domain/inflation"
	"github.com/GriffinCanCode/InflationLens/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/InflationLens/internal/shared/types"
	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

var (
	ErrPageClosed    = errors.New("page is closed")
	ErrEmptySelector = errors.New("mutation selector required")
)

// PageOptions configures a Page.
type PageOptions struct {
	ID         string
	URL        string
	Calculator *inflation.Calculator
	Detected   dating.Result
	Override   *int
	Enabled    bool
	Swap       bool
	MaxNodes   int
	Scheduler  batcher.Scheduler
	Sanitizer  *document.Sanitizer
	Notifier   Notifier
	Metrics    *monitoring.Metrics
	Logger     *zap.Logger
}

// Page owns the pipeline for one document: its state, annotator and
// mutation batcher. Every pass runs under the page lock, so passes are
// strictly sequential.
type Page struct {
	id        string
	url       string
	createdAt time.Time

	doc  *html.Node
	body *html.Node

	calc      *inflation.Calculator
	annotator *annotator.Annotator
	batcher   *batcher.Batcher
	sanitizer *document.Sanitizer
	notifier  Notifier
	metrics   *monitoring.Metrics
	logger    *zap.Logger

	mu     sync.Mutex
	state  State
	closed bool
}

// NewPage wraps a parsed document. The page is inert until Start.
func NewPage(doc *html.Node, opts PageOptions) *Page {
	if opts.Calculator == nil {
		opts.Calculator = inflation.New(nil)
	}
	if opts.Notifier == nil {
		opts.Notifier = nopNotifier{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	logger := opts.Logger.With(zap.String("page_id", opts.ID))

	p := &Page{
		id:        opts.ID,
		url:       opts.URL,
		createdAt: time.Now(),
		doc:       doc,
		body:      document.Body(doc),
		calc:      opts.Calculator,
		sanitizer: opts.Sanitizer,
		notifier:  opts.Notifier,
		metrics:   opts.Metrics,
		logger:    logger,
		state: State{
			Enabled:      opts.Enabled,
			YearOverride: opts.Override,
			DetectedYear: opts.Detected.Year,
			YearSource:   opts.Detected.Source,
			SwapMode:     opts.Swap,
		},
	}
	p.annotator = annotator.New(opts.Calculator, annotator.Options{
		MaxNodes: opts.MaxNodes,
		Logger:   logger.Named("annotator"),
	})
	p.batcher = batcher.New(p.handleBatch, batcher.Options{
		Scheduler: opts.Scheduler,
		Attached:  func(n *html.Node) bool { return document.Contains(p.doc, n) },
		Locker:    &p.mu,
		Logger:    logger.Named("batcher"),
		OnFlush: func(s batcher.FlushStats) {
			p.metrics.RecordBatch(s.Received, s.Dropped, s.Err, s.Duration)
			if s.Received > s.Dropped {
				p.publishActive()
			}
		},
	})
	return p
}

// ID returns the page identifier.
func (p *Page) ID() string { return p.id }

// URL returns the page's source URL, if any.
func (p *Page) URL() string { return p.url }

// CreatedAt returns when the page was opened.
func (p *Page) CreatedAt() time.Time { return p.createdAt }

// Start runs the initial pass and begins observing mutations when the
// page is enabled.
func (p *Page) Start() types.Stats {
	p.mu.Lock()
	if p.closed || !p.state.Enabled {
		stats := p.statsLocked()
		p.mu.Unlock()
		p.notifier.Publish(p.id, stats)
		return stats
	}
	p.batcher.Start()
	stats := p.passLocked(p.body, TriggerInitial)
	p.mu.Unlock()

	p.notifier.Publish(p.id, stats)
	return stats
}

// State returns a copy of the pipeline state.
func (p *Page) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.state
	if s.YearOverride != nil {
		y := *s.YearOverride
		s.YearOverride = &y
	}
	return s
}

// Stats returns the current stats without running a pass.
func (p *Page) Stats() types.Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statsLocked()
}

// ToggleEnabled turns the pipeline on or off. Disabling disconnects the
// batcher, reverts every marker and resets the running total.
func (p *Page) ToggleEnabled(enabled bool) (types.Stats, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return types.Stats{}, ErrPageClosed
	}
	if p.state.Enabled == enabled {
		stats := p.statsLocked()
		p.mu.Unlock()
		return stats, nil
	}

	p.state.Enabled = enabled
	var stats types.Stats
	if enabled {
		p.batcher.Start()
		stats = p.passLocked(p.body, TriggerRerun)
	} else {
		p.batcher.Stop()
		reverted := p.annotator.Revert(p.body)
		p.state.RunningTotal = 0
		p.logger.Debug("Pipeline disabled", zap.Int("reverted", reverted))
		stats = p.statsLocked()
	}
	p.mu.Unlock()

	p.notifier.Publish(p.id, stats)
	return stats, nil
}

// UpdateYear overrides the year prices are read as; nil returns to the
// detected year. An out-of-range year is rejected and the last good year
// stays in effect.
func (p *Page) UpdateYear(year *int) (types.Stats, error) {
	if year != nil {
		if err := validateOverride(p.calc, *year); err != nil {
			return p.Stats(), err
		}
		y := *year
		year = &y
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return types.Stats{}, ErrPageClosed
	}
	p.state.YearOverride = year

	stats := p.statsLocked()
	if p.state.Enabled {
		p.annotator.Revert(p.body)
		p.state.RunningTotal = 0
		stats = p.passLocked(p.body, TriggerRerun)
	}
	p.mu.Unlock()

	p.notifier.Publish(p.id, stats)
	return stats, nil
}

// ToggleSwapDisplay switches existing markers between showing the original
// and the adjusted price. No scan is performed.
func (p *Page) ToggleSwapDisplay(enabled bool) (types.Stats, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return types.Stats{}, ErrPageClosed
	}
	p.state.SwapMode = enabled
	p.annotator.SetDisplayMode(p.body, annotator.ModeFor(enabled))
	stats := p.statsLocked()
	p.mu.Unlock()

	p.notifier.Publish(p.id, stats)
	return stats, nil
}

// Handle dispatches a protocol command.
func (p *Page) Handle(cmd types.Command) (types.Stats, error) {
	stats, err := p.handle(cmd)
	p.metrics.RecordCommand(string(cmd.Action), err)
	return stats, err
}

func (p *Page) handle(cmd types.Command) (types.Stats, error) {
	if err := cmd.Validate(); err != nil {
		return types.Stats{}, err
	}
	switch cmd.Action {
	case types.ActionToggleEnabled:
		return p.ToggleEnabled(*cmd.Enabled)
	case types.ActionUpdateYear:
		return p.UpdateYear(cmd.Year)
	case types.ActionToggleSwapDisplay:
		return p.ToggleSwapDisplay(*cmd.Enabled)
	default:
		return p.Stats(), nil
	}
}

// Mutate applies a DOM change: HTML appended to, or removal of, every
// element matching the selector. Inserted nodes reach the annotator through
// the mutation batcher.
func (p *Page) Mutate(req types.MutationRequest) (types.MutationResponse, error) {
	var resp types.MutationResponse
	if req.Selector == "" {
		return resp, ErrEmptySelector
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return resp, ErrPageClosed
	}

	targets := goquery.NewDocumentFromNode(p.doc).Find(req.Selector)
	resp.Matched = targets.Length()

	if req.Remove {
		resp.Removed = resp.Matched
		targets.Remove()
		p.mu.Unlock()
		return resp, nil
	}

	markup := req.HTML
	if p.sanitizer != nil {
		markup = p.sanitizer.Sanitize(markup)
	}

	var records []batcher.Record
	var parseErr error
	targets.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		target := s.Get(0)
		nodes, err := document.ParseFragment(markup, target)
		if err != nil {
			parseErr = err
			return false
		}
		for _, n := range nodes {
			target.AppendChild(n)
		}
		resp.Added += len(nodes)
		records = append(records, batcher.Record{Target: target, Added: nodes})
		return true
	})
	p.mu.Unlock()

	if parseErr != nil {
		return resp, fmt.Errorf("mutation: %w", parseErr)
	}
	p.batcher.Observe(records...)
	return resp, nil
}

// Render serializes the current document.
func (p *Page) Render() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return document.Render(p.doc)
}

// Close stops observing. The document is left as is.
func (p *Page) Close() {
	p.batcher.Stop()
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

// handleBatch annotates the attached nodes of one flushed batch. The
// batcher holds p.mu around the call.
func (p *Page) handleBatch(nodes []*html.Node) error {
	if p.closed || !p.state.Enabled {
		return nil
	}

	timer := monitoring.NewTimer(p.metrics, string(TriggerMutation))
	year := p.state.ActiveYear()
	mode := annotator.ModeFor(p.state.SwapMode)

	var res annotator.Result
	for _, n := range nodes {
		r := p.annotator.Annotate(n, year, mode)
		res.Count += r.Count
		res.Visited += r.Visited
		res.Truncated = res.Truncated || r.Truncated
	}
	p.state.RunningTotal += res.Count
	timer.Stop(res.Count, res.Truncated)

	p.logger.Debug("Mutation batch annotated",
		zap.Int("nodes", len(nodes)),
		zap.Int("count", res.Count))
	return nil
}

// publishActive pushes the current stats unless the page is closed or
// disabled.
func (p *Page) publishActive() {
	p.mu.Lock()
	if p.closed || !p.state.Enabled {
		p.mu.Unlock()
		return
	}
	stats := p.statsLocked()
	p.mu.Unlock()
	p.notifier.Publish(p.id, stats)
}

// passLocked annotates root and returns fresh stats. Caller holds p.mu.
func (p *Page) passLocked(root *html.Node, trigger Trigger) types.Stats {
	timer := monitoring.NewTimer(p.metrics, string(trigger))
	year := p.state.ActiveYear()
	res := p.annotator.Annotate(root, year, annotator.ModeFor(p.state.SwapMode))
	p.state.RunningTotal += res.Count
	duration := timer.Stop(res.Count, res.Truncated)

	p.logger.Debug("Annotation pass complete",
		zap.String("trigger", string(trigger)),
		zap.Int("year", year),
		zap.Int("count", res.Count),
		zap.Int("visited", res.Visited),
		zap.Duration("duration", duration))
	return p.statsLocked()
}

// validateOverride range-checks a user year. Without CPI data every
// conversion is a no-op, so any year is accepted and only recorded.
func validateOverride(calc *inflation.Calculator, year int) error {
	if !calc.Available() {
		return nil
	}
	return calc.ValidateYear(year)
}

func (p *Page) statsLocked() types.Stats {
	return p.state.stats(p.calc.CurrentYear())
}
