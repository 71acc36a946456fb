// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file resolves the caller's identity from the Authorization header.
// ResolveIdentity never rejects: it only annotates the context so the rate
// limiter, idempotency lookup and access logs can key on the user. Routes
// that must be authenticated add RequireIdentity.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-delivery-relay/internal/auth"
)

const (
	// ctxKeyUserID holds the verified user id (string).
	ctxKeyUserID = "userID"
	// ctxKeyIdentity holds the verified *auth.Identity.
	ctxKeyIdentity = "identity"
	// ctxKeyAuthChecked marks that verification already ran for this request.
	ctxKeyAuthChecked = "auth.checked"
)

// ResolveIdentity verifies the Authorization header, if any, and stores the
// resulting identity in the context. Failures are left for handlers to act on.
func ResolveIdentity(v auth.IdentityVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		resolve(c, v)
		c.Next()
	}
}

// RequireIdentity aborts with 401 unless the request carries a valid session.
// It reuses an identity already resolved by ResolveIdentity.
func RequireIdentity(v auth.IdentityVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := resolve(c, v); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "unauthorized",
				"message":    "Unauthorized",
			})
			return
		}
		c.Next()
	}
}

// IdentityFrom returns the identity resolved for this request.
func IdentityFrom(c *gin.Context) (*auth.Identity, bool) {
	v, ok := c.Get(ctxKeyIdentity)
	if !ok {
		return nil, false
	}
	id, ok := v.(*auth.Identity)
	return id, ok && id != nil
}

// resolve runs the verifier at most once per request.
func resolve(c *gin.Context, v auth.IdentityVerifier) (*auth.Identity, bool) {
	if c.GetBool(ctxKeyAuthChecked) {
		return IdentityFrom(c)
	}
	c.Set(ctxKeyAuthChecked, true)

	header := c.GetHeader("Authorization")
	if v == nil || header == "" {
		return nil, false
	}
	id, err := v.Verify(c.Request.Context(), header)
	if err != nil || id == nil {
		LoggerFrom(c).Debug().Err(err).Msg("session rejected")
		return nil, false
	}
	c.Set(ctxKeyIdentity, id)
	c.Set(ctxKeyUserID, id.UserID)
	return id, true
}
