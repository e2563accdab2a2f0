// Package sha256 derives stable digests for cache keys.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// keySeparator cannot appear in URLs or analyzer ids, so joined parts never collide.
const keySeparator = "\x00"

// Hasher implements evaluation.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// HashParts joins parts with a separator and hashes the result.
func (h *Hasher) HashParts(parts ...string) (string, error) {
	return h.Hash([]byte(strings.Join(parts, keySeparator)))
}
