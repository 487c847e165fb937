// Package id provides centralized ID generation for the realtime layer.
//
// Stream and subscriber identifiers are prefixed ULIDs:
//   - Lexicographic sortability: ids order by creation time in logs and snapshots
//   - Prefixed types: stream_*, sub_* make log lines readable
//   - Type safety: separate types prevent passing a subscriber id as a stream id
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ============================================================================
// Type-Safe ID Wrappers
// ============================================================================

// StreamID identifies a logical stream multiplexed over the shared connection
type StreamID string

// SubscriberID identifies one feature's callback registration
type SubscriberID string

const (
	StreamPrefix     = "stream"
	SubscriberPrefix = "sub"
)

// ============================================================================
// ULID Generator
// ============================================================================

// Generator generates monotonic ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex // Protects entropy reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the process-wide generator
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand with monotonic
// entropy, so ids minted within the same millisecond still sort and differ.
func NewGenerator() *Generator {
	return &Generator{
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// NewGeneratorWithEntropy creates a generator with custom entropy source
// Useful for testing with deterministic entropy
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{
		entropy: entropy,
	}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewStreamID generates a provisional client-side stream id
func (g *Generator) NewStreamID() StreamID {
	return StreamID(g.GenerateWithPrefix(StreamPrefix))
}

// NewSubscriberID generates a subscriber handle id
func (g *Generator) NewSubscriberID() SubscriberID {
	return SubscriberID(g.GenerateWithPrefix(SubscriberPrefix))
}

// NewStreamID generates a stream id from the default generator
func NewStreamID() StreamID {
	return Default().NewStreamID()
}

// NewSubscriberID generates a subscriber id from the default generator
func NewSubscriberID() SubscriberID {
	return Default().NewSubscriberID()
}

func (id StreamID) String() string     { return string(id) }
func (id SubscriberID) String() string { return string(id) }

// ============================================================================
// Parsing
// ============================================================================

// Timestamp extracts the creation time from a prefixed or bare ULID.
// Server-issued ids that are not ULIDs return an error.
func Timestamp(s string) (time.Time, error) {
	if i := strings.LastIndexByte(s, '_'); i >= 0 {
		s = s[i+1:]
	}
	parsed, err := ulid.Parse(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
