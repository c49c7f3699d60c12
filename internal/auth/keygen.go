package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
)

// Service key format: lsk_{env}_{secret}
// Example: lsk_live_4f8d2e1b9c7a5f3d2e1b9c7a5f3d2e1b
const KeySecretLen = 32 // hex encoded 16 bytes

// Environment indicators for the key prefix.
const (
	EnvLive = "live"
	EnvTest = "test"
)

var keyFormatRegex = regexp.MustCompile(`^lsk_(live|test)_[a-f0-9]{32}$`)

// GeneratedKey holds a new service key and its storable hash.
type GeneratedKey struct {
	Plaintext string // shown once
	Hash      string // value for SERVICE_KEY_HASH
}

// GenerateServiceKey creates a random service key for env.
// Unknown environments default to live.
func GenerateServiceKey(env string) (*GeneratedKey, error) {
	if env != EnvLive && env != EnvTest {
		env = EnvLive
	}

	secret := make([]byte, KeySecretLen/2)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}
	plaintext := fmt.Sprintf("lsk_%s_%s", env, hex.EncodeToString(secret))

	hash, err := HashKey(plaintext)
	if err != nil {
		return nil, fmt.Errorf("hash key: %w", err)
	}

	return &GeneratedKey{Plaintext: plaintext, Hash: hash}, nil
}

// ValidateKeyFormat checks if key looks like a generated service key.
func ValidateKeyFormat(key string) bool {
	return keyFormatRegex.MatchString(key)
}
