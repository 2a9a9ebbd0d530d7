// Package digest fingerprints document contents so unchanged inputs can be
// skipped.
package digest

import (
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Sum returns a short hex fingerprint of data.
func Sum(data []byte) string {
	return strconv.FormatUint(xxhash.Sum64(data), 16)
}

// Tracker remembers the last fingerprint seen per key.
type Tracker struct {
	mu   sync.Mutex
	seen map[string]uint64
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{seen: make(map[string]uint64)}
}

// Changed records data under key and reports whether it differs from what
// was recorded before. The first call for a key always reports true.
func (t *Tracker) Changed(key string, data []byte) bool {
	sum := xxhash.Sum64(data)
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, ok := t.seen[key]
	t.seen[key] = sum
	return !ok || prev != sum
}

// Forget drops the fingerprint for key.
func (t *Tracker) Forget(key string) {
	t.mu.Lock()
	delete(t.seen, key)
	t.mu.Unlock()
}

// Len returns the number of tracked keys.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.seen)
}
