// Package sha256 digests archived SERP snapshots.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/JakeFAU/serp-visibility-crawler/internal/crawler"
)

var _ crawler.Hasher = (*Hasher)(nil)

// Hasher returns lower-case hex SHA-256 digests.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash digests a snapshot body. It never fails.
func (*Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
