// Package auth verifies the session token a caller presents to the relay.
//
// The relay only needs to know that a caller is signed in and who they are.
// Sessions are HS256 JWTs issued by the app's identity provider and carried
// as "Authorization: Bearer <token>". Anything short of a valid, unexpired
// token signed with the shared secret yields ErrUnauthenticated.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tbourn/go-delivery-relay/internal/config"
)

// ErrUnauthenticated is returned for every rejected credential. The cause is
// wrapped for logs but never shown to the caller.
var ErrUnauthenticated = errors.New("unauthenticated")

// Identity is the signed-in caller.
type Identity struct {
	UserID string
	Email  string
}

// IdentityVerifier resolves an Authorization header to an Identity.
type IdentityVerifier interface {
	Verify(ctx context.Context, authorization string) (*Identity, error)
}

// Claims is the session token payload.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
}

// JWTVerifier checks HS256 session tokens against a shared secret.
type JWTVerifier struct {
	secret   []byte
	audience string
	issuer   string
	now      func() time.Time
}

// NewJWTVerifier builds a verifier from cfg. An empty secret is allowed and
// rejects every token.
func NewJWTVerifier(cfg config.AuthConfig) *JWTVerifier {
	return &JWTVerifier{
		secret:   []byte(cfg.JWTSecret),
		audience: strings.TrimSpace(cfg.JWTAudience),
		issuer:   strings.TrimSpace(cfg.JWTIssuer),
		now:      time.Now,
	}
}

// Verify implements IdentityVerifier.
func (v *JWTVerifier) Verify(_ context.Context, authorization string) (*Identity, error) {
	if len(v.secret) == 0 {
		return nil, fmt.Errorf("%w: verifier has no secret", ErrUnauthenticated)
	}
	raw, found := strings.CutPrefix(strings.TrimSpace(authorization), "Bearer ")
	raw = strings.TrimSpace(raw)
	if !found || raw == "" {
		return nil, fmt.Errorf("%w: missing bearer token", ErrUnauthenticated)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}
	return &Identity{UserID: claims.Subject, Email: claims.Email}, nil
}

// IssueToken signs a session token for userID. The relay never issues
// sessions itself; this exists for local tooling and tests.
func IssueToken(cfg config.AuthConfig, userID, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    cfg.JWTIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email: email,
	}
	if cfg.JWTAudience != "" {
		claims.Audience = jwt.ClaimStrings{cfg.JWTAudience}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}
