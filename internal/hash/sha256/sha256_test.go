package sha256

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestHasherHashDeterministic ensures repeated hashing yields the same digest.
func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Hash([]byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", got)

	again, err := h.Hash([]byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, got, again)
}

// TestHashPartsSeparatesFields guards against ambiguous concatenation.
func TestHashPartsSeparatesFields(t *testing.T) {
	t.Parallel()

	h := New()
	a, err := h.HashParts("https://example.com/a", "bc", "1")
	require.NoError(t, err)
	b, err := h.HashParts("https://example.com/ab", "c", "1")
	require.NoError(t, err)
	require.NotEqual(t, a, b)
	require.Len(t, a, 64)
}
