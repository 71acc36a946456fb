// Package doordash is the outbound integration with the DoorDash Drive API.
//
// It signs a short-lived HS256 token for every call (TokenSigner), wraps the
// quote/create/status/cancel/store-search endpoints with local validation
// (Client), and normalizes every failure into the taxonomy in errors.go.
// Nothing here caches tokens or retries requests; delivery state lives
// entirely on DoorDash's side.
package doordash

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tbourn/go-delivery-relay/internal/config"
)

// DefaultTokenExpiration is the token lifetime in minutes used when callers
// pass a non-positive value.
const DefaultTokenExpiration = 5

// tokenAudience is the fixed "aud" claim expected by the Drive API.
const tokenAudience = "doordash"

type tokenHeader struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

// tokenClaims is serialized in field order; the Drive API does not care about
// key order but fixed output keeps signatures reproducible in tests.
type tokenClaims struct {
	Aud string `json:"aud"`
	Iss string `json:"iss"`
	Kid string `json:"kid"`
	Iat int64  `json:"iat"`
	Exp int64  `json:"exp"`
}

// TokenSigner produces signed bearer tokens for the Drive API. It holds only
// immutable credentials and a clock, so one instance is safe for concurrent use.
type TokenSigner struct {
	creds config.Credentials
	now   func() time.Time
}

// NewTokenSigner returns a signer for creds. A nil clock means time.Now.
func NewTokenSigner(creds config.Credentials, now func() time.Time) *TokenSigner {
	if now == nil {
		now = time.Now
	}
	return &TokenSigner{creds: creds, now: now}
}

// ValidateCredentials reports whether developer id, key id and signing secret
// are all non-empty.
func (s *TokenSigner) ValidateCredentials() bool {
	return len(s.creds.Missing()) == 0
}

// GenerateToken returns header.payload.signature, each part base64url encoded
// without padding, valid for expirationMinutes from now.
//
// The token is a standard HS256 JWT keyed by the raw signing secret bytes.
// Expiry is enforced by DoorDash; nothing here checks it.
func (s *TokenSigner) GenerateToken(expirationMinutes int) (string, error) {
	if missing := s.creds.Missing(); len(missing) > 0 {
		return "", &ConfigurationError{Missing: missing}
	}
	if expirationMinutes <= 0 {
		expirationMinutes = DefaultTokenExpiration
	}

	iat := s.now().Unix()
	header, err := json.Marshal(tokenHeader{Alg: "HS256", Typ: "JWT"})
	if err != nil {
		return "", fmt.Errorf("encode token header: %w", err)
	}
	payload, err := json.Marshal(tokenClaims{
		Aud: tokenAudience,
		Iss: s.creds.DeveloperID,
		Kid: s.creds.KeyID,
		Iat: iat,
		Exp: iat + int64(expirationMinutes)*60,
	})
	if err != nil {
		return "", fmt.Errorf("encode token payload: %w", err)
	}

	signingInput := base64URL(header) + "." + base64URL(payload)
	return signingInput + "." + base64URL(sign(s.creds.SigningSecret, signingInput)), nil
}

func sign(secret, input string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(input))
	return mac.Sum(nil)
}

func base64URL(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}
