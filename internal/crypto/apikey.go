// Package crypto issues agent API keys and derives the digests they are
// stored and looked up by.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeyPrefix marks agentmarket API keys.
	KeyPrefix = "am_"
	// keyBytes is the entropy of a generated key.
	keyBytes = 32
	// pepperIterations stretches the configured pepper once at startup.
	pepperIterations = 100_000
	// digestKeyLen is the blake2b MAC key length.
	digestKeyLen = 32
)

// pepperSalt is fixed: the pepper itself is the secret, the salt only
// separates this use from any other derivation of the same secret.
var pepperSalt = []byte("agentmarket/api-key-digest/v1")

// KeyHasher generates API keys and computes keyed BLAKE2b digests of them.
// The digest is deterministic for a given pepper so it can be indexed.
type KeyHasher struct {
	key []byte
}

// NewKeyHasher derives the digest key from pepper.
func NewKeyHasher(pepper string) (*KeyHasher, error) {
	if strings.TrimSpace(pepper) == "" {
		return nil, errors.New("crypto: api key pepper must not be empty")
	}
	key := pbkdf2.Key([]byte(pepper), pepperSalt, pepperIterations, digestKeyLen, sha256.New)
	return &KeyHasher{key: key}, nil
}

// NewKey returns a fresh random API key.
func (h *KeyHasher) NewKey() (string, error) {
	buf := make([]byte, keyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("crypto: generate api key: %w", err)
	}
	return KeyPrefix + hex.EncodeToString(buf), nil
}

// Digest returns the hex-encoded keyed digest of apiKey.
func (h *KeyHasher) Digest(apiKey string) string {
	mac, err := blake2b.New256(h.key)
	if err != nil {
		// Only fails for keys longer than 64 bytes.
		panic(fmt.Sprintf("crypto: blake2b: %v", err))
	}
	mac.Write([]byte(apiKey))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether apiKey matches digest in constant time.
func (h *KeyHasher) Verify(apiKey, digest string) bool {
	return subtle.ConstantTimeCompare([]byte(h.Digest(apiKey)), []byte(digest)) == 1
}

// Redact shortens a key for logs.
func Redact(apiKey string) string {
	if len(apiKey) <= len(KeyPrefix)+4 {
		return "****"
	}
	return apiKey[:len(KeyPrefix)+4] + "****"
}
