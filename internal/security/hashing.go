package security

import (
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/pbkdf2"
)

// legacyPrefix marks password hashes produced by the previous stack
// (passlib modular crypt format, pbkdf2-sha512).
const legacyPrefix = "$pbkdf2-sha512$"

// Hasher hashes and verifies passwords using bcrypt. Callers must not log or
// persist plaintext passwords.
type Hasher struct {
	Cost int
}

// NewHasher returns a Hasher with the given bcrypt cost (4–31). Cost 12 is a
// reasonable default for interactive login.
func NewHasher(cost int) *Hasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &Hasher{Cost: cost}
}

// Hash produces a bcrypt hash of password suitable for storage.
func (h *Hasher) Hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), h.Cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// VerifyAndUpgrade verifies password against stored and reports whether the
// stored hash should be replaced. It accepts bcrypt hashes as well as legacy
// pbkdf2-sha512 hashes; a successful verification against anything weaker
// than the configured bcrypt cost returns a fresh hash to persist.
//
// A malformed or empty stored hash verifies as false; such records behave as
// if no password were set.
func (h *Hasher) VerifyAndUpgrade(password, stored string) (bool, string) {
	if password == "" || stored == "" {
		return false, ""
	}
	if strings.HasPrefix(stored, legacyPrefix) {
		if !verifyLegacyPBKDF2(password, stored) {
			return false, ""
		}
		upgraded, err := h.Hash(password)
		if err != nil {
			// Keep the legacy hash rather than locking the account out.
			return true, ""
		}
		return true, upgraded
	}
	if err := bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)); err != nil {
		return false, ""
	}
	cost, err := bcrypt.Cost([]byte(stored))
	if err == nil && cost < h.Cost {
		if upgraded, err := h.Hash(password); err == nil {
			return true, upgraded
		}
	}
	return true, ""
}

// verifyLegacyPBKDF2 checks password against a passlib-style
// "$pbkdf2-sha512$rounds$salt$checksum" hash. Salt and checksum use
// passlib's adapted base64 alphabet ("." instead of "+", no padding).
func verifyLegacyPBKDF2(password, stored string) bool {
	parts := strings.Split(stored, "$")
	if len(parts) != 5 || parts[0] != "" || parts[1] != "pbkdf2-sha512" {
		return false
	}
	rounds, err := strconv.Atoi(parts[2])
	if err != nil || rounds < 1 {
		return false
	}
	salt, err := decodeAB64(parts[3])
	if err != nil {
		return false
	}
	want, err := decodeAB64(parts[4])
	if err != nil || len(want) == 0 {
		return false
	}
	got := pbkdf2.Key([]byte(password), salt, rounds, len(want), sha512.New)
	return subtle.ConstantTimeCompare(got, want) == 1
}

func decodeAB64(s string) ([]byte, error) {
	return base64.RawStdEncoding.DecodeString(strings.ReplaceAll(s, ".", "+"))
}
