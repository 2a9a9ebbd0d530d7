package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/GriffinCanCode/InflationLens/internal/domain/batcher"
	"github.com/GriffinCanCode/InflationLens/internal/domain/cpi"
	"github.com/GriffinCanCode/InflationLens/internal/domain/dating"
	"github.com/GriffinCanCode/InflationLens/internal/domain/document"
	"github.com/GriffinCanCode/InflationLens/internal/domain/inflation"
	"github.com/GriffinCanCode/InflationLens/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/InflationLens/internal/shared/id"
	"github.com/GriffinCanCode/InflationLens/internal/shared/types"
	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
)

var (
	ErrPageNotFound = errors.New("page not found")
	ErrTooManyPages = errors.New("too many open pages")
	ErrNoContent    = errors.New("page requires html or url")
	ErrNoFetcher    = errors.New("url fetching is not configured")
)

// Fetcher retrieves a remote document.
type Fetcher interface {
	Get(ctx context.Context, url string) ([]byte, string, error)
}

// TableProvider supplies the CPI table. *cpi.Loader implements it.
type TableProvider interface {
	Load(ctx context.Context) (*cpi.Table, error)
}

// Config holds pipeline defaults applied to every new page.
type Config struct {
	Enabled         bool
	Swap            bool
	MaxNodes        int
	MaxPages        int
	FrameInterval   time.Duration
	DisabledDomains []string
	SanitizeInput   bool
}

// DefaultConfig returns the defaults used when no configuration is given.
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		MaxNodes:      250000,
		MaxPages:      1000,
		FrameInterval: batcher.DefaultFrameInterval,
	}
}

// ManagerOptions wires a Manager's collaborators.
type ManagerOptions struct {
	Config    Config
	Tables    TableProvider
	Fetcher   Fetcher
	Notifier  Notifier
	Metrics   *monitoring.Metrics
	Logger    *zap.Logger
	Now       func() time.Time
	Scheduler batcher.Scheduler
}

// Manager owns every open page context.
type Manager struct {
	cfg       Config
	tables    TableProvider
	fetcher   Fetcher
	notifier  Notifier
	metrics   *monitoring.Metrics
	logger    *zap.Logger
	now       func() time.Time
	scheduler batcher.Scheduler
	sanitizer *document.Sanitizer

	mu    sync.RWMutex
	pages map[string]*Page
}

// NewManager creates a page manager.
func NewManager(opts ManagerOptions) *Manager {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Tables == nil {
		opts.Tables = cpi.NewLoader(cpi.Embedded(), opts.Logger)
	}
	if opts.Notifier == nil {
		opts.Notifier = nopNotifier{}
	}
	if opts.Scheduler == nil {
		interval := opts.Config.FrameInterval
		if interval <= 0 {
			interval = batcher.DefaultFrameInterval
		}
		opts.Scheduler = batcher.FrameScheduler{Interval: interval}
	}

	m := &Manager{
		cfg:       opts.Config,
		tables:    opts.Tables,
		fetcher:   opts.Fetcher,
		notifier:  opts.Notifier,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		now:       opts.Now,
		scheduler: opts.Scheduler,
		pages:     make(map[string]*Page),
	}
	if opts.Config.SanitizeInput {
		m.sanitizer = document.NewSanitizer()
	}
	return m
}

// Calculator returns a calculator over the current CPI table. When the
// table cannot be loaded the calculator is in no-op mode.
func (m *Manager) Calculator(ctx context.Context) *inflation.Calculator {
	table, err := m.tables.Load(ctx)
	if err != nil {
		m.logger.Warn("CPI data unavailable, pages will not be annotated", zap.Error(err))
	}
	return inflation.New(table).WithClock(m.now)
}

// Open loads a document, detects its year and runs the initial pass.
func (m *Manager) Open(ctx context.Context, req types.OpenPageRequest) (*Page, error) {
	if req.HTML == "" && req.URL == "" {
		return nil, ErrNoContent
	}
	if m.Count() >= m.maxPages() {
		return nil, ErrTooManyPages
	}

	calc := m.Calculator(ctx)
	if req.Year != nil {
		if err := validateOverride(calc, *req.Year); err != nil {
			return nil, err
		}
	}

	raw, contentType, err := m.load(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := document.Validate(raw); err != nil {
		return nil, err
	}
	doc, err := document.Parse(raw, contentType)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	detector := dating.NewDetector(dating.Options{Now: m.now, Logger: m.logger.Named("dating")})
	detected := detector.Detect(doc, req.URL)

	enabled := m.cfg.Enabled && !m.DomainDisabled(req.URL)
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	swap := m.cfg.Swap
	if req.Swap != nil {
		swap = *req.Swap
	}

	pid := id.NewPageID().String()
	page := NewPage(doc, PageOptions{
		ID:         pid,
		URL:        req.URL,
		Calculator: calc,
		Detected:   detected,
		Override:   req.Year,
		Enabled:    enabled,
		Swap:       swap,
		MaxNodes:   m.cfg.MaxNodes,
		Scheduler:  m.scheduler,
		Sanitizer:  m.sanitizer,
		Notifier:   m.notifier,
		Metrics:    m.metrics,
		Logger:     m.logger,
	})

	m.mu.Lock()
	if len(m.pages) >= m.maxPages() {
		m.mu.Unlock()
		return nil, ErrTooManyPages
	}
	m.pages[pid] = page
	count := len(m.pages)
	m.mu.Unlock()

	m.metrics.RecordPageOpened(string(detected.Source))
	m.metrics.SetPagesActive(count)

	stats := page.Start()
	m.logger.Info("Page opened",
		zap.String("page_id", pid),
		zap.String("url", req.URL),
		zap.Int("year", detected.Year),
		zap.String("year_source", string(detected.Source)),
		zap.Bool("enabled", enabled),
		zap.Int("count", stats.Count))
	return page, nil
}

func (m *Manager) load(ctx context.Context, req types.OpenPageRequest) ([]byte, string, error) {
	if req.HTML != "" {
		return []byte(req.HTML), "text/html; charset=utf-8", nil
	}
	if m.fetcher == nil {
		return nil, "", ErrNoFetcher
	}
	body, contentType, err := m.fetcher.Get(ctx, req.URL)
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: %w", req.URL, err)
	}
	return body, contentType, nil
}

// Get returns an open page.
func (m *Manager) Get(pageID string) (*Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	page, ok := m.pages[pageID]
	if !ok {
		return nil, ErrPageNotFound
	}
	return page, nil
}

// List summarizes open pages, oldest first.
func (m *Manager) List() []types.PageSummary {
	m.mu.RLock()
	pages := make([]*Page, 0, len(m.pages))
	for _, p := range m.pages {
		pages = append(pages, p)
	}
	m.mu.RUnlock()

	sort.Slice(pages, func(i, j int) bool {
		if !pages[i].CreatedAt().Equal(pages[j].CreatedAt()) {
			return pages[i].CreatedAt().Before(pages[j].CreatedAt())
		}
		return pages[i].ID() < pages[j].ID()
	})

	out := make([]types.PageSummary, 0, len(pages))
	for _, p := range pages {
		out = append(out, types.PageSummary{
			ID:        p.ID(),
			URL:       p.URL(),
			CreatedAt: p.CreatedAt(),
			Stats:     p.Stats(),
		})
	}
	return out
}

// Close tears down one page, the equivalent of navigating away.
func (m *Manager) Close(pageID string) error {
	m.mu.Lock()
	page, ok := m.pages[pageID]
	if ok {
		delete(m.pages, pageID)
	}
	count := len(m.pages)
	m.mu.Unlock()

	if !ok {
		return ErrPageNotFound
	}
	page.Close()
	m.pageClosed(pageID)
	m.metrics.SetPagesActive(count)
	m.logger.Debug("Page closed", zap.String("page_id", pageID))
	return nil
}

// CloseAll tears down every page.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	pages := m.pages
	m.pages = make(map[string]*Page)
	m.mu.Unlock()

	for pid, p := range pages {
		p.Close()
		m.pageClosed(pid)
	}
	m.metrics.SetPagesActive(0)
}

func (m *Manager) pageClosed(pageID string) {
	if pc, ok := m.notifier.(PageCloser); ok {
		pc.PageClosed(pageID)
	}
}

// Count returns the number of open pages.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pages)
}

// DomainDisabled reports whether pageURL matches a disabled-domain pattern.
// Patterns are doublestar globs matched against the host and against
// host+path, so "*.example.com" and "example.com/blog/**" both work.
func (m *Manager) DomainDisabled(pageURL string) bool {
	if pageURL == "" || len(m.cfg.DisabledDomains) == 0 {
		return false
	}
	u, err := url.Parse(pageURL)
	if err != nil || u.Hostname() == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	full := host + u.EscapedPath()

	for _, pattern := range m.cfg.DisabledDomains {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		if pattern == "" {
			continue
		}
		if ok, _ := doublestar.Match(pattern, host); ok {
			return true
		}
		if ok, _ := doublestar.Match(pattern, full); ok {
			return true
		}
	}
	return false
}

func (m *Manager) maxPages() int {
	if m.cfg.MaxPages <= 0 {
		return DefaultConfig().MaxPages
	}
	return m.cfg.MaxPages
}
