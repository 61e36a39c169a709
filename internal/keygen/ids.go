package keygen

import (
	"sync"

	"github.com/google/uuid"
)

// UUIDv7Generator generates time-sortable UUIDv7 entity IDs.
//
// UUIDv7 embeds a timestamp in the most significant bits, making IDs
// sortable by creation time. Also used as the run ID of migrations.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// CreateKey creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) CreateKey() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined keys for testing.
//
// Thread-safety: FixedGenerator is safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu   sync.Mutex
	keys []string
	idx  int
}

// NewFixedGenerator creates a generator that returns keys in order.
//
// Example:
//
//	gen := NewFixedGenerator("k1", "k2")
//	gen.CreateKey() // "k1"
//	gen.CreateKey() // "k2"
//	gen.CreateKey() // panic: all keys exhausted
func NewFixedGenerator(keys ...string) *FixedGenerator {
	return &FixedGenerator{keys: keys}
}

// CreateKey returns the next predetermined key.
//
// Panics if all keys have been consumed, which points at a test that pushed
// more children than it planned for.
func (g *FixedGenerator) CreateKey() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.keys) {
		panic("FixedGenerator: all keys exhausted")
	}
	key := g.keys[g.idx]
	g.idx++
	return key
}
