// Package id provides ID generation for pages, subscribers and requests.
//
// Page and subscriber IDs are prefixed ULIDs: sortable by creation time and
// readable in logs (page_01J..., sub_01J...). Request IDs are UUIDs so they
// interoperate with proxies and clients that already send X-Request-ID.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// PageID identifies an open page context.
type PageID string

// SubscriberID identifies a stats stream subscriber.
type SubscriberID string

// RequestID identifies an API request.
type RequestID string

const (
	PagePrefix       = "page"
	SubscriberPrefix = "sub"
)

// Generator generates ULIDs with optional prefixes.
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the shared generator.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand. IDs from one
// generator sort in creation order, even within a millisecond.
func NewGenerator() *Generator {
	return &Generator{entropy: ulid.Monotonic(rand.Reader, 0)}
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source,
// for deterministic tests.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID.
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string.
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewPageID generates a page ID.
func NewPageID() PageID {
	return PageID(Default().GenerateWithPrefix(PagePrefix))
}

// NewSubscriberID generates a subscriber ID.
func NewSubscriberID() SubscriberID {
	return SubscriberID(Default().GenerateWithPrefix(SubscriberPrefix))
}

// NewRequestID generates a request ID.
func NewRequestID() RequestID {
	return RequestID(uuid.NewString())
}

func (id PageID) String() string       { return string(id) }
func (id SubscriberID) String() string { return string(id) }
func (id RequestID) String() string    { return string(id) }

// ValidPageID reports whether s is a well-formed page ID.
func ValidPageID(s string) bool {
	prefix, rest, ok := strings.Cut(s, "_")
	if !ok || prefix != PagePrefix {
		return false
	}
	_, err := ulid.Parse(rest)
	return err == nil
}

// ValidRequestID reports whether s is a UUID.
func ValidRequestID(s string) bool {
	return uuid.Validate(s) == nil
}

// Timestamp extracts the creation time from a prefixed ULID.
func Timestamp(s string) (time.Time, error) {
	if _, rest, ok := strings.Cut(s, "_"); ok {
		s = rest
	}
	parsed, err := ulid.Parse(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
