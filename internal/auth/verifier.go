package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"golang.org/x/sync/semaphore"
)

// MaxConcurrentHashes caps simultaneous Argon2id verifications. Each one
// holds 64 MiB, so a flood of well-formed but wrong keys is refused past
// this point instead of queueing.
const MaxConcurrentHashes = 4

// KeyVerifier checks presented bearer keys against one configured hash.
// Keys that verified once are remembered by digest so steady traffic
// skips the Argon2id cost.
type KeyVerifier struct {
	hash string

	mu       sync.RWMutex
	verified map[[sha256.Size]byte]struct{}

	hashing *semaphore.Weighted
	verify  func(key, encodedHash string) (bool, error)
}

// NewKeyVerifier returns a verifier for encodedHash.
func NewKeyVerifier(encodedHash string) (*KeyVerifier, error) {
	if err := ValidateHash(encodedHash); err != nil {
		return nil, err
	}
	return &KeyVerifier{
		hash:     encodedHash,
		verified: make(map[[sha256.Size]byte]struct{}),
		hashing:  semaphore.NewWeighted(MaxConcurrentHashes),
		verify:   VerifyKey,
	}, nil
}

// Verify reports whether key is the configured service key.
// Keys that are not shaped like a generated key never reach Argon2id.
func (v *KeyVerifier) Verify(key string) bool {
	if !ValidateKeyFormat(key) {
		return false
	}
	digest := sha256.Sum256([]byte(key))

	v.mu.RLock()
	_, ok := v.verified[digest]
	v.mu.RUnlock()
	if ok {
		return true
	}

	if !v.hashing.TryAcquire(1) {
		return false
	}
	match, err := v.verify(key, v.hash)
	v.hashing.Release(1)
	if err != nil || !match {
		return false
	}

	v.mu.Lock()
	v.verified[digest] = struct{}{}
	v.mu.Unlock()
	return true
}

// Fingerprint returns a short non-reversible label for key, safe to log.
func Fingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:4])
}
