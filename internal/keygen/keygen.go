// Package keygen mints identifiers for the path database.
//
// Push keys are 20 characters: 8 characters of millisecond wall-clock time
// followed by 12 characters of random tie-breaker, all drawn from an
// alphabet whose characters are in ASCII order. Keys therefore sort
// chronologically as plain strings, and successive keys from one Generator
// are strictly increasing even when the clock stalls or steps backwards.
package keygen

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"lukechampine.com/frand"
)

// Alphabet holds the 64 key characters in ascending ASCII order.
const Alphabet = "-0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ_abcdefghijklmnopqrstuvwxyz"

const (
	timeChars = 8
	randChars = 12

	// KeyLength is the length of every push key.
	KeyLength = timeChars + randChars
)

// KeySource produces ordered unique child keys.
type KeySource interface {
	CreateKey() string
}

// Generator produces push keys.
//
// Thread-safety: Generator is safe for concurrent use via internal mutex.
type Generator struct {
	mu       sync.Mutex
	now      func() time.Time
	lastTime int64
	lastRand [randChars]byte
}

// Option configures a Generator.
type Option func(*Generator)

// WithClock overrides the wall clock. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		g.now = now
	}
}

// New creates a Generator reading time.Now.
func New(opts ...Option) *Generator {
	g := &Generator{now: time.Now, lastTime: -1}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CreateKey returns a key strictly greater than every key this Generator
// returned before.
//
// A new millisecond draws a fresh random suffix (72 bits). Within the same
// millisecond, or when the clock has gone backwards, the previous time part
// is reused and the suffix is incremented by one.
func (g *Generator) CreateKey() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.now().UnixMilli()
	if ms > g.lastTime {
		g.lastTime = ms
		g.randomize()
	} else if !g.increment() {
		// Suffix space for this millisecond is exhausted; borrow the next one.
		g.lastTime++
		g.randomize()
	}

	var b [KeyLength]byte
	t := g.lastTime
	for i := timeChars - 1; i >= 0; i-- {
		b[i] = Alphabet[t%64]
		t /= 64
	}
	for i, r := range g.lastRand {
		b[timeChars+i] = Alphabet[r]
	}
	return string(b[:])
}

func (g *Generator) randomize() {
	for i := range g.lastRand {
		g.lastRand[i] = byte(frand.Intn(64))
	}
}

// increment adds one to the suffix, returning false on overflow.
func (g *Generator) increment() bool {
	for i := randChars - 1; i >= 0; i-- {
		if g.lastRand[i] < 63 {
			g.lastRand[i]++
			return true
		}
		g.lastRand[i] = 0
	}
	return false
}

// KeyTime decodes the millisecond timestamp embedded in a push key.
func KeyTime(key string) (time.Time, error) {
	if len(key) != KeyLength {
		return time.Time{}, fmt.Errorf("key %q: want %d characters, got %d", key, KeyLength, len(key))
	}
	var ms int64
	for i := 0; i < timeChars; i++ {
		v := strings.IndexByte(Alphabet, key[i])
		if v < 0 {
			return time.Time{}, fmt.Errorf("key %q: invalid character %q", key, key[i])
		}
		ms = ms*64 + int64(v)
	}
	return time.UnixMilli(ms), nil
}
