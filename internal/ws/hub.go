package ws

import (
	"sync"

	"github.com/GriffinCanCode/InflationLens/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/InflationLens/internal/shared/id"
	"github.com/GriffinCanCode/InflationLens/internal/shared/types"
	"go.uber.org/zap"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 32

// Subscription receives stats notifications for one page. C is closed
// when the subscription ends.
type Subscription struct {
	ID     id.SubscriberID
	PageID string
	C      <-chan types.Notification

	ch   chan types.Notification
	once sync.Once
}

func (s *Subscription) close() {
	s.once.Do(func() { close(s.ch) })
}

// Hub fans stats out to stream subscribers. It is the pipeline's Notifier.
type Hub struct {
	buffer  int
	metrics *monitoring.Metrics
	logger  *zap.Logger

	mu   sync.RWMutex
	subs map[string]map[id.SubscriberID]*Subscription
}

// NewHub creates a hub.
func NewHub(metrics *monitoring.Metrics, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		buffer:  DefaultBuffer,
		metrics: metrics,
		logger:  logger,
		subs:    make(map[string]map[id.SubscriberID]*Subscription),
	}
}

// Subscribe registers a subscriber for pageID.
func (h *Hub) Subscribe(pageID string) *Subscription {
	ch := make(chan types.Notification, h.buffer)
	sub := &Subscription{ID: id.NewSubscriberID(), PageID: pageID, C: ch, ch: ch}

	h.mu.Lock()
	if h.subs[pageID] == nil {
		h.subs[pageID] = make(map[id.SubscriberID]*Subscription)
	}
	h.subs[pageID][sub.ID] = sub
	h.mu.Unlock()
	return sub
}

// Unsubscribe removes sub and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	if page := h.subs[sub.PageID]; page != nil {
		delete(page, sub.ID)
		if len(page) == 0 {
			delete(h.subs, sub.PageID)
		}
	}
	h.mu.Unlock()
	sub.close()
}

// Publish implements pipeline.Notifier. It never blocks: a subscriber whose
// queue is full misses the update, and the next one supersedes it anyway.
func (h *Hub) Publish(pageID string, stats types.Stats) {
	n := types.Notification{Action: types.ActionUpdateStats, PageID: pageID, Stats: &stats}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs[pageID] {
		select {
		case sub.ch <- n:
		default:
			h.logger.Debug("Subscriber queue full, dropping stats",
				zap.String("page_id", pageID),
				zap.String("subscriber_id", string(sub.ID)))
		}
	}
}

// PageClosed ends every subscription for pageID.
func (h *Hub) PageClosed(pageID string) {
	h.mu.Lock()
	page := h.subs[pageID]
	delete(h.subs, pageID)
	h.mu.Unlock()

	for _, sub := range page {
		sub.close()
	}
}

// Subscribers returns the subscriber count for pageID.
func (h *Hub) Subscribers(pageID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[pageID])
}
