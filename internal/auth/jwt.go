package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Verifier validates a bearer credential and yields the owner id. The request
// handler trusts only this value, never a client-supplied owner id.
type Verifier interface {
	Verify(token string) (string, error)
}

var (
	ErrInvalidToken = errors.New("auth: invalid token")
	ErrExpiredToken = errors.New("auth: token expired")
)

// JWTVerifier validates HS256 JWTs. The payload is minimal: sub (owner id)
// and exp (unix seconds).
type JWTVerifier struct {
	Secret []byte
}

type claims struct {
	Sub string `json:"sub"`
	Exp int64  `json:"exp"`
}

type header struct {
	Alg string `json:"alg"`
	Typ string `json:"typ,omitempty"`
}

// Verify checks the token's signature and expiry and returns the sub claim.
func (v *JWTVerifier) Verify(token string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", ErrInvalidToken
	}

	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return "", ErrInvalidToken
	}
	mac := hmac.New(sha256.New, v.Secret)
	mac.Write([]byte(parts[0] + "." + parts[1]))
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return "", ErrInvalidToken
	}

	headRaw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", ErrInvalidToken
	}
	var h header
	if err := json.Unmarshal(headRaw, &h); err != nil || h.Alg != "HS256" {
		return "", ErrInvalidToken
	}

	payloadRaw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", ErrInvalidToken
	}
	var c claims
	if err := json.Unmarshal(payloadRaw, &c); err != nil {
		return "", ErrInvalidToken
	}
	if c.Sub == "" {
		return "", ErrInvalidToken
	}
	if c.Exp != 0 && time.Now().Unix() >= c.Exp {
		return "", ErrExpiredToken
	}
	return c.Sub, nil
}

// Mint issues an HS256 token for userID with the given ttl. Used by tests and
// local tooling; production tokens come from the external identity provider.
func Mint(secret []byte, userID string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("auth: user id required")
	}
	headRaw, _ := json.Marshal(header{Alg: "HS256", Typ: "JWT"})
	payloadRaw, _ := json.Marshal(claims{Sub: userID, Exp: time.Now().Add(ttl).Unix()})
	signing := base64.RawURLEncoding.EncodeToString(headRaw) + "." + base64.RawURLEncoding.EncodeToString(payloadRaw)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(signing))
	return signing + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), nil
}
