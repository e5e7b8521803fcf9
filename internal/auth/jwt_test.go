package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

var testSecret = []byte("test-secret")

func TestMintVerifyRoundTrip(t *testing.T) {
	token, err := Mint(testSecret, "alice", time.Hour)
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}

	v := &JWTVerifier{Secret: testSecret}
	sub, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if sub != "alice" {
		t.Errorf("expected sub 'alice', got %q", sub)
	}
}

func TestVerifyExpiredToken(t *testing.T) {
	token, err := Mint(testSecret, "alice", -time.Minute)
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}

	v := &JWTVerifier{Secret: testSecret}
	if _, err := v.Verify(token); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("expected ErrExpiredToken, got %v", err)
	}
}

func TestVerifyTamperedSignature(t *testing.T) {
	token, err := Mint(testSecret, "alice", time.Hour)
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}

	v := &JWTVerifier{Secret: testSecret}

	// Flip a character in the signature.
	parts := strings.Split(token, ".")
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)
	if _, err := v.Verify(tampered); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for tampered signature, got %v", err)
	}

	// Token signed with a different secret.
	other, err := Mint([]byte("other-secret"), "alice", time.Hour)
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}
	if _, err := v.Verify(other); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for wrong secret, got %v", err)
	}
}

func TestVerifyMalformedTokens(t *testing.T) {
	v := &JWTVerifier{Secret: testSecret}
	for _, token := range []string{"", "abc", "a.b", "a.b.c.d", "!!.!!.!!"} {
		if _, err := v.Verify(token); err == nil {
			t.Errorf("expected error for malformed token %q", token)
		}
	}
}
