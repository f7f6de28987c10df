package security

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"

	"golang.org/x/crypto/pbkdf2"
)

const (
	opaqueTokenBytes = 32

	// Deterministic KDF parameters for stored token hashes. No per-record
	// salt: the input is already 256 bits of entropy and lookup by hash
	// requires a stable value.
	tokenKDFIterations = 29000
	tokenKDFKeyLength  = 64
)

// NewOpaqueToken returns a single-use token: 32 random bytes, URL-safe
// base64. The raw value is handed to the partner once and only its hash is
// ever stored.
func NewOpaqueToken() (string, error) {
	b := make([]byte, opaqueTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashOpaqueToken derives the storage hash of a presented token. The
// derivation is deterministic so the hash doubles as a lookup key; storage
// compromise still does not yield a usable token.
func HashOpaqueToken(token string) string {
	key := pbkdf2.Key([]byte(token), nil, tokenKDFIterations, tokenKDFKeyLength, sha512.New)
	return hex.EncodeToString(key)
}

// TokenHashEqual compares two token hashes in constant time.
func TokenHashEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
