package internal

import (
	"encoding/base64"
	"testing"
)

func TestNewRefreshTokenEntropy(t *testing.T) {
	token, err := NewRefreshToken()
	if err != nil {
		t.Fatalf("new refresh token: %v", err)
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(raw) != 32 {
		t.Fatalf("expected 32 bytes of entropy, got %d", len(raw))
	}

	other, err := NewRefreshToken()
	if err != nil {
		t.Fatalf("new refresh token: %v", err)
	}
	if token == other {
		t.Fatal("expected distinct refresh tokens")
	}
}

func TestHashRefreshTokenIsKeyed(t *testing.T) {
	token := "token-value"
	a := HashRefreshToken([]byte("key-a-key-a-key-a-key-a-key-a-32"), token)
	b := HashRefreshToken([]byte("key-b-key-b-key-b-key-b-key-b-32"), token)
	if a == b {
		t.Fatal("expected different keys to produce different hashes")
	}
	if a != HashRefreshToken([]byte("key-a-key-a-key-a-key-a-key-a-32"), token) {
		t.Fatal("expected hash to be deterministic for the same key")
	}
	if HashRefreshToken(nil, token) != HashToken(token) {
		t.Fatal("expected empty key to fall back to sha256")
	}
}

func TestOpaqueTokenLength(t *testing.T) {
	token, err := NewOpaqueToken()
	if err != nil {
		t.Fatalf("new opaque token: %v", err)
	}
	if len(token) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(token))
	}
}

func TestEqualHash(t *testing.T) {
	h := HashToken("123456")
	if !EqualHash(h, HashToken("123456")) {
		t.Fatal("expected equal hashes to match")
	}
	if EqualHash(h, HashToken("654321")) {
		t.Fatal("expected different hashes to differ")
	}
	if EqualHash("", "") {
		t.Fatal("expected empty hashes never to match")
	}
}

func TestNewOTPDigits(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := NewOTP(6)
		if err != nil {
			t.Fatalf("new otp: %v", err)
		}
		if len(code) != 6 {
			t.Fatalf("expected 6 digits, got %q", code)
		}
		for _, c := range code {
			if c < '0' || c > '9' {
				t.Fatalf("expected numeric code, got %q", code)
			}
		}
	}
	if _, err := NewOTP(4); err == nil {
		t.Fatal("expected too few digits to fail")
	}
}
