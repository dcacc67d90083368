// Package sha256 fingerprints serialized artifact lists.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements discovery.Hasher with hex-encoded SHA-256 digests.
type Hasher struct{}

// New returns a Hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex digest of data.
func (*Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
