// Package idkey generates document identifiers and one-time sealing secrets.
package idkey

import (
	"crypto/rand"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/consent-keeper/internal/errs"
)

// Params
const (
	KeyLen         = 32
	KeyAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789!@#$%^&*()"
	idSuffixLen    = 8
	base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// SecureRandomSource supplies cryptographic-strength random bytes.
type SecureRandomSource = io.Reader

// IDStyle selects the identifier format.
type IDStyle string

// Supported id styles.
const (
	// StyleBase36 is base36(unix millis) followed by 8 random base36 characters.
	StyleBase36 IDStyle = "base36"
	// StyleUUIDv7 is an RFC 9562 version 7 UUID.
	StyleUUIDv7 IDStyle = "uuidv7"
)

// ParseIDStyle maps a config value to an IDStyle; empty means StyleBase36.
func ParseIDStyle(s string) (IDStyle, error) {
	switch IDStyle(strings.ToLower(strings.TrimSpace(s))) {
	case "", StyleBase36:
		return StyleBase36, nil
	case StyleUUIDv7:
		return StyleUUIDv7, nil
	default:
		return "", fmt.Errorf("validation: unknown id style %q", s)
	}
}

// Generator produces ids and keys. Safe for concurrent use.
type Generator struct {
	rnd   SecureRandomSource
	now   func() time.Time
	style IDStyle
	uuids *uuid.Gen

	mu         sync.Mutex
	lastMillis int64
}

// Option configures a Generator.
type Option func(*Generator)

// WithRandom overrides the CSPRNG (tests, hardware sources).
func WithRandom(r SecureRandomSource) Option { return func(g *Generator) { g.rnd = r } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(g *Generator) { g.now = now } }

// WithStyle selects the id format.
func WithStyle(s IDStyle) Option { return func(g *Generator) { g.style = s } }

// New constructs a Generator backed by crypto/rand unless overridden.
func New(opts ...Option) *Generator {
	g := &Generator{rnd: rand.Reader, now: time.Now, style: StyleBase36}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	g.uuids = uuid.NewGenWithOptions(
		uuid.WithRandomReader(g.rnd),
		uuid.WithEpochFunc(g.now),
	)
	return g
}

// GenerateID returns a new document identifier. Uniqueness is probabilistic:
// two calls in the same millisecond collide only if their random suffixes do.
func (g *Generator) GenerateID() (string, error) {
	if g.style == StyleUUIDv7 {
		id, err := g.uuids.NewV7()
		if err != nil {
			return "", fmt.Errorf("%w: %v", errs.ErrGeneration, err)
		}
		return id.String(), nil
	}

	suffix, err := g.pick(base36Alphabet, idSuffixLen)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(g.millis(), 36) + suffix, nil
}

// GenerateKey returns a KeyLen-character secret drawn uniformly from KeyAlphabet.
func (g *Generator) GenerateKey() (string, error) {
	return g.pick(KeyAlphabet, KeyLen)
}

// millis is the current unix time in ms, never lower than a previous result.
func (g *Generator) millis() int64 {
	ms := g.now().UnixMilli()
	g.mu.Lock()
	defer g.mu.Unlock()
	if ms < g.lastMillis {
		ms = g.lastMillis
	}
	g.lastMillis = ms
	return ms
}

// pick draws n characters from alphabet by rejection sampling so that every
// character is equally likely.
func (g *Generator) pick(alphabet string, n int) (string, error) {
	limit := 256 - 256%len(alphabet)
	out := make([]byte, 0, n)
	buf := make([]byte, n*2)
	for len(out) < n {
		if _, err := io.ReadFull(g.rnd, buf); err != nil {
			return "", fmt.Errorf("%w: %v", errs.ErrGeneration, err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}
