package crypto

import (
	"encoding/base64"
	"testing"
)

func TestNewTokenEntropy(t *testing.T) {
	a, err := NewToken()
	if err != nil {
		t.Fatalf("NewToken: %v", err)
	}
	b, err := NewToken()
	if err != nil {
		t.Fatalf("NewToken: %v", err)
	}
	if a == b {
		t.Fatal("two tokens should never collide")
	}
	raw, err := base64.RawURLEncoding.DecodeString(a)
	if err != nil {
		t.Fatalf("token is not url-safe base64: %v", err)
	}
	if len(raw) < 32 {
		t.Fatalf("expected at least 32 bytes of entropy, got %d", len(raw))
	}
}

func TestHashTokenRoundTrip(t *testing.T) {
	raw, err := NewToken()
	if err != nil {
		t.Fatalf("NewToken: %v", err)
	}
	hash := HashToken(raw)
	if hash == raw {
		t.Fatal("digest must differ from raw token")
	}
	if !MatchesToken(hash, raw) {
		t.Fatal("digest should match its own token")
	}
	if MatchesToken(hash, raw+"x") {
		t.Fatal("digest matched a tampered token")
	}
}

func TestSecureCompare(t *testing.T) {
	if !SecureCompare("abc", "abc") {
		t.Fatal("equal strings should compare equal")
	}
	if SecureCompare("abc", "abd") {
		t.Fatal("unequal strings compared equal")
	}
	if SecureCompare("abc", "abcd") {
		t.Fatal("length mismatch compared equal")
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := VerifyPassword(hash, "correct horse battery staple"); err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if err := VerifyPassword(hash, "wrong"); err == nil {
		t.Fatal("expected mismatch error")
	}
	if _, err := HashPassword(""); err == nil {
		t.Fatal("empty password must be rejected")
	}
}
