// Package crypto holds the primitives every credential in the system is built
// on: opaque random tokens, digest storage, constant-time comparison and
// password hashing. Raw token values never touch the store; only digests do.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// tokenEntropyBytes is the minimum entropy for bearer credentials.
const tokenEntropyBytes = 32

// NewToken returns a URL-safe random token with 32 bytes of entropy.
func NewToken() (string, error) {
	buf := make([]byte, tokenEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("crypto: read entropy: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashToken returns the hex-encoded sha256 digest of a raw token. Stores keep
// this digest, never the raw value.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// SecureCompare reports whether two strings are equal without leaking timing
// information about the position of the first mismatch.
func SecureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// MatchesToken hashes raw and compares it against a stored digest.
func MatchesToken(storedHash, raw string) bool {
	return SecureCompare(storedHash, HashToken(raw))
}

// HashPassword hashes a plaintext password using bcrypt.
func HashPassword(password string) (string, error) {
	if len(password) == 0 {
		return "", errors.New("crypto: password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares a plaintext password with a stored bcrypt hash.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return errors.New("crypto: password hash is empty")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}
