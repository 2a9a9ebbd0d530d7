package cpi

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// LoadObserver is notified after every load attempt that performed I/O.
type LoadObserver func(source string, years int, err error, duration time.Duration)

// Loader fetches a dataset once and caches the decoded table.
type Loader struct {
	source   Source
	logger   *zap.Logger
	observer LoadObserver

	group singleflight.Group

	mu    sync.RWMutex
	table *Table
}

// LoaderOption customizes a Loader.
type LoaderOption func(*Loader)

// WithObserver registers a callback for load attempts.
func WithObserver(fn LoadObserver) LoaderOption {
	return func(l *Loader) { l.observer = fn }
}

// NewLoader creates a loader for source. A nil logger disables logging.
func NewLoader(source Source, logger *zap.Logger, opts ...LoaderOption) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Loader{source: source, logger: logger}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load returns the cached table, fetching it on first use. On failure it
// returns an empty table together with the error; failures are not cached.
func (l *Loader) Load(ctx context.Context) (*Table, error) {
	if table, ok := l.Cached(); ok {
		return table, nil
	}

	v, err, _ := l.group.Do("load", func() (interface{}, error) {
		if table, ok := l.Cached(); ok {
			return table, nil
		}
		return l.fetch(ctx)
	})
	if err != nil {
		return Empty(), err
	}
	return v.(*Table), nil
}

// Cached returns the table if a previous load succeeded.
func (l *Loader) Cached() (*Table, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.table, l.table != nil
}

// Source returns the configured source.
func (l *Loader) Source() Source {
	return l.source
}

func (l *Loader) fetch(ctx context.Context) (*Table, error) {
	start := time.Now()
	table, err := l.decode(ctx)
	if l.observer != nil {
		years := 0
		if table != nil {
			years = table.Len()
		}
		l.observer(l.source.String(), years, err, time.Since(start))
	}
	if err != nil {
		l.logger.Warn("CPI data unavailable, conversions disabled",
			zap.String("source", l.source.String()),
			zap.Error(err))
		return nil, err
	}

	l.mu.Lock()
	l.table = table
	l.mu.Unlock()

	first, _ := table.Earliest()
	last, _ := table.Latest()
	l.logger.Info("CPI data loaded",
		zap.String("source", l.source.String()),
		zap.Int("years", table.Len()),
		zap.Int("earliest", first),
		zap.Int("latest", last),
		zap.Duration("duration", time.Since(start)))
	return table, nil
}

func (l *Loader) decode(ctx context.Context) (*Table, error) {
	raw, format, err := l.source.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return Decode(raw, format)
}
