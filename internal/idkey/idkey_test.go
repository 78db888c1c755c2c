package idkey

import (
	"bytes"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/and161185/consent-keeper/internal/errs"
)

var idShape = regexp.MustCompile(`^[0-9a-z]{16,}$`)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy pool gone") }

func TestGenerateID_ShapeAndUniqueness(t *testing.T) {
	t.Parallel()
	g := New()
	const n = 5000
	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		id, err := g.GenerateID()
		require.NoError(t, err)
		require.Regexp(t, idShape, id)
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
}

func TestGenerateID_TimePrefixNonDecreasing(t *testing.T) {
	t.Parallel()
	now := time.UnixMilli(1_760_000_000_000)
	g := New(WithClock(func() time.Time { return now }))

	first, err := g.GenerateID()
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(first, "mgj6k3cw"), first)

	now = now.Add(-time.Hour) // clock stepped backwards
	second, err := g.GenerateID()
	require.NoError(t, err)
	require.Equal(t, first[:8], second[:8])
}

func TestGenerateID_UUIDv7(t *testing.T) {
	t.Parallel()
	g := New(WithStyle(StyleUUIDv7))
	id, err := g.GenerateID()
	require.NoError(t, err)
	require.Regexp(t, `^[0-9a-f]{8}-[0-9a-f]{4}-7[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`, id)
}

func TestGenerateKey(t *testing.T) {
	t.Parallel()
	g := New()
	a, err := g.GenerateKey()
	require.NoError(t, err)
	require.Len(t, a, KeyLen)
	for _, c := range a {
		require.True(t, strings.ContainsRune(KeyAlphabet, c), "char %q outside alphabet", c)
	}
	b, err := g.GenerateKey()
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestGenerateKey_RejectsBiasedBytes(t *testing.T) {
	t.Parallel()
	// 216 is the first byte rejected for a 72-character alphabet.
	src := bytes.NewReader(append(bytes.Repeat([]byte{255, 216}, KeyLen), bytes.Repeat([]byte{0}, KeyLen*2)...))
	g := New(WithRandom(src))
	k, err := g.GenerateKey()
	require.NoError(t, err)
	require.Equal(t, strings.Repeat("A", KeyLen), k)
}

func TestGeneration_FailsWithoutEntropy(t *testing.T) {
	t.Parallel()
	g := New(WithRandom(failingReader{}))
	_, err := g.GenerateKey()
	require.ErrorIs(t, err, errs.ErrGeneration)
	_, err = g.GenerateID()
	require.ErrorIs(t, err, errs.ErrGeneration)

	u := New(WithRandom(failingReader{}), WithStyle(StyleUUIDv7))
	_, err = u.GenerateID()
	require.ErrorIs(t, err, errs.ErrGeneration)
}

func TestParseIDStyle(t *testing.T) {
	t.Parallel()
	s, err := ParseIDStyle("")
	require.NoError(t, err)
	require.Equal(t, StyleBase36, s)
	s, err = ParseIDStyle("UUIDv7")
	require.NoError(t, err)
	require.Equal(t, StyleUUIDv7, s)
	_, err = ParseIDStyle("snowflake")
	require.Error(t, err)
}
