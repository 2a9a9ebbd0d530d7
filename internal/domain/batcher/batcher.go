// Package batcher coalesces DOM insertions into single annotation passes.
//
// Observe may be called many times within a frame; the first call schedules
// one flush and later calls only append. When the flush runs, nodes that
// were detached in the meantime are dropped and the rest reach the handler
// in one call. A failing or panicking handler is logged and the batcher
// keeps observing.
//
// When Options.Locker is set, the flush holds it around both the
// attachment check and the handler, so a flush is one critical section
// with the code that edits the tree.
package batcher

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// Record describes one observed mutation.
type Record struct {
	Target *html.Node
	Added  []*html.Node
}

// Handler processes a flushed batch.
type Handler func(nodes []*html.Node) error

// FlushStats describes one completed flush.
type FlushStats struct {
	Received int
	Dropped  int
	Duration time.Duration
	Err      error
}

// Options configures a Batcher.
type Options struct {
	Scheduler Scheduler
	// Attached reports whether a node is still part of the document.
	Attached func(*html.Node) bool
	// Locker guards the tree the nodes live in. The handler runs with it
	// held.
	Locker sync.Locker
	Logger *zap.Logger
	// OnFlush is called after each flush that reached the handler.
	OnFlush func(FlushStats)
}

// Batcher is a collect-then-flush mailbox with at most one pending flush.
type Batcher struct {
	handler   Handler
	scheduler Scheduler
	attached  func(*html.Node) bool
	locker    sync.Locker
	logger    *zap.Logger
	onFlush   func(FlushStats)

	mu         sync.Mutex
	pending    []*html.Node
	running    bool
	scheduled  bool
	generation uint64
	cancel     func()
}

// New creates a stopped batcher.
func New(handler Handler, opts Options) *Batcher {
	if opts.Scheduler == nil {
		opts.Scheduler = FrameScheduler{}
	}
	if opts.Attached == nil {
		opts.Attached = IsAttached
	}
	if opts.Locker == nil {
		opts.Locker = nopLocker{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Batcher{
		handler:   handler,
		scheduler: opts.Scheduler,
		attached:  opts.Attached,
		locker:    opts.Locker,
		logger:    opts.Logger,
		onFlush:   opts.OnFlush,
	}
}

// Start begins accepting records.
func (b *Batcher) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = true
}

// Stop disconnects the batcher and discards pending work. A flush that is
// already running completes; a scheduled one is canceled.
func (b *Batcher) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = false
	b.generation++
	b.pending = nil
	b.scheduled = false
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
}

// Running reports whether the batcher is observing.
func (b *Batcher) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// Pending returns the number of nodes awaiting the next flush.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Observe queues the element and text nodes added by records.
func (b *Batcher) Observe(records ...Record) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return
	}

	for _, r := range records {
		for _, n := range r.Added {
			if n != nil && (n.Type == html.ElementNode || n.Type == html.TextNode) {
				b.pending = append(b.pending, n)
			}
		}
	}

	if len(b.pending) == 0 || b.scheduled {
		return
	}
	b.scheduled = true
	gen := b.generation
	b.cancel = b.scheduler.Schedule(func() { b.flush(gen) })
}

func (b *Batcher) flush(gen uint64) {
	b.mu.Lock()
	if gen != b.generation || !b.running {
		b.mu.Unlock()
		return
	}
	nodes := b.pending
	b.pending = nil
	b.scheduled = false
	b.cancel = nil
	b.mu.Unlock()

	stats, ok := b.process(gen, nodes)
	if !ok {
		return
	}
	if stats.Err != nil {
		b.logger.Error("Mutation batch failed",
			zap.Int("nodes", stats.Received-stats.Dropped),
			zap.Error(stats.Err))
	}
	if b.onFlush != nil {
		b.onFlush(stats)
	}
}

// process filters and hands off one batch while holding the tree lock. It
// reports false when the batcher was stopped while waiting for the lock.
func (b *Batcher) process(gen uint64, nodes []*html.Node) (FlushStats, bool) {
	b.locker.Lock()
	defer b.locker.Unlock()

	if b.stale(gen) {
		return FlushStats{}, false
	}
	stats := FlushStats{Received: len(nodes)}

	live := nodes[:0]
	for _, n := range nodes {
		if b.attached(n) {
			live = append(live, n)
		}
	}
	stats.Dropped = len(nodes) - len(live)
	if len(live) == 0 {
		return stats, true
	}

	start := time.Now()
	stats.Err = b.run(live)
	stats.Duration = time.Since(start)
	return stats, true
}

// stale reports whether Stop ran after the flush for gen was taken.
func (b *Batcher) stale(gen uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return gen != b.generation || !b.running
}

func (b *Batcher) run(nodes []*html.Node) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("batch handler panic: %v", r)
		}
	}()
	return b.handler(nodes)
}

type nopLocker struct{}

func (nopLocker) Lock()   {}
func (nopLocker) Unlock() {}

// IsAttached reports whether n is still reachable from a document root.
func IsAttached(n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p.Type == html.DocumentNode {
			return true
		}
	}
	return false
}
