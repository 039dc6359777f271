// Package id provides identifier generation for guest sessions and for
// correlation keys on the binding channel.
//
// Two families of identifiers live here:
//   - ULIDs with a type prefix (sess_*) for controller-side objects.
//     They sort by creation time, which keeps session listings stable.
//   - Sequence keys (binding30000000, bidi30000001, ...) for outstanding
//     requests on a binding. The counter starts far above anything the host
//     side hands out so guest and host keys never collide.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
)

// SessionID identifies a guest session hosted by the controller
type SessionID string

// SessionPrefix marks session ids
const SessionPrefix = "sess"

// CorrelationSeed is the first value handed out by a Sequence created
// without an explicit seed.
const CorrelationSeed uint64 = 30_000_000

// ============================================================================
// ULID Generator
// ============================================================================

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex // Protects entropy reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a new ULID generator
func NewGenerator() *Generator {
	return &Generator{
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// NewGeneratorWithEntropy creates a generator with custom entropy source.
// Useful for testing with deterministic entropy.
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

// GenerateString creates a new ULID as a string
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.GenerateString())
}

// NewSessionID generates a new session ID
func NewSessionID() SessionID {
	return SessionID(Default().GenerateWithPrefix(SessionPrefix))
}

func (id SessionID) String() string { return string(id) }

// ParseSessionID validates a prefixed session id
func ParseSessionID(s string) (SessionID, error) {
	raw, ok := strings.CutPrefix(s, SessionPrefix+"_")
	if !ok {
		return "", fmt.Errorf("invalid session id %q: missing %s_ prefix", s, SessionPrefix)
	}
	if _, err := ulid.Parse(raw); err != nil {
		return "", fmt.Errorf("invalid session id %q: %w", s, err)
	}
	return SessionID(s), nil
}

// IsValid checks if an ID string is a valid ULID
func IsValid(id string) bool {
	_, err := ulid.Parse(id)
	return err == nil
}

// Parse parses a ULID string
func Parse(id string) (ulid.ULID, error) {
	return ulid.Parse(id)
}

// Timestamp extracts the timestamp from a ULID
func Timestamp(id string) (time.Time, error) {
	parsed, err := Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}

// ============================================================================
// Correlation Sequence
// ============================================================================

// Sequence hands out monotonically increasing correlation keys.
// Safe for concurrent use.
type Sequence struct {
	next atomic.Uint64
}

// NewSequence creates a sequence whose first value is seed.
// A zero seed selects CorrelationSeed.
func NewSequence(seed uint64) *Sequence {
	if seed == 0 {
		seed = CorrelationSeed
	}
	s := &Sequence{}
	s.next.Store(seed)
	return s
}

// Next returns prefix followed by the next counter value.
func (s *Sequence) Next(prefix string) string {
	n := s.next.Add(1) - 1
	return prefix + strconv.FormatUint(n, 10)
}

// Peek returns the value the next call to Next will use.
func (s *Sequence) Peek() uint64 {
	return s.next.Load()
}
