// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements Idempotency-Key support for side-effecting relay
// actions. For identified callers it validates the header, stashes the key,
// and asks a lookup whether a stored result exists for the body's action.
// Handlers stay in charge of serving the stored response; the middleware only
// annotates the request so the rate limiter lets replays through.
package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	// HeaderIdempotencyKey is the request header carrying the client's key.
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderIdempotentReplay is set to "true" on responses served from a
	// stored result.
	HeaderIdempotentReplay = "Idempotent-Replay"
)

// Context keys used internally to stash idempotency state.
const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay" // bool: true when a stored result exists
	ctxKeyRateBypass = "rate.bypass" // bool: true to skip rate limiting
)

// defaultKeyPattern accepts RFC 7230 token characters plus a few safe extras.
var defaultKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// GetIdempotencyKey returns the validated key stashed by IdempotencyValidator.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// IsReplay reports whether a stored result exists for this request's key.
func IsReplay(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyIdemReplay)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// MarkReplay flags the request as served from a stored result.
func MarkReplay(c *gin.Context) {
	c.Set(ctxKeyIdemReplay, true)
}

// IdempotencyOptions configures header validation.
type IdempotencyOptions struct {
	// MaxLen caps the accepted key length. Values <= 0 default to 200.
	MaxLen int
	// Pattern restricts allowed characters; nil uses defaultKeyPattern.
	Pattern *regexp.Regexp
	// Actions lists the body actions that replay. Requests for any other
	// action never reach the lookup. Empty means every action.
	Actions []string
}

// IdempotencyLookup reports whether a still-valid stored result exists for
// (userID, action, key). TTL is enforced by the implementation. Errors are
// treated as a miss.
type IdempotencyLookup func(ctx context.Context, userID, action, key string, now time.Time) (exists bool, err error)

// IdempotencyValidator validates the Idempotency-Key header when present.
//
//   - header absent or caller anonymous: no-op, so the handler's
//     authentication check answers first
//   - header invalid: 400 {"error", "code":"bad_idempotency_key"}
//   - replayable action and lookup hits: replay and rate-bypass flags set
//
// Place ResolveIdentity first.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = defaultKeyPattern
	}
	actions := make(map[string]struct{}, len(opts.Actions))
	for _, a := range opts.Actions {
		actions[a] = struct{}{}
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		uid := userIDFromCtx(c)
		if key == "" || uid == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "Invalid Idempotency-Key header",
				"code":    "bad_idempotency_key",
				"message": "invalid Idempotency-Key",
			})
			return
		}
		c.Set(ctxKeyIdemKey, key)

		if lookup == nil {
			c.Next()
			return
		}
		action := peekAction(c)
		if _, ok := actions[action]; len(actions) > 0 && !ok {
			c.Next()
			return
		}
		if action != "" {
			exists, err := lookup(c.Request.Context(), uid, action, key, time.Now().UTC())
			if err != nil {
				LoggerFrom(c).Warn().Err(err).Msg("idempotency lookup failed")
			} else if exists {
				c.Set(ctxKeyIdemReplay, true)
				c.Set(ctxKeyRateBypass, true)
				idemReplays.Inc()
			}
		}

		c.Next()
	}
}

// peekAction reads the JSON body's "action" field and restores the body for
// the handler. Unreadable or non-JSON bodies read as "".
func peekAction(c *gin.Context) string {
	if c.Request.Body == nil {
		return ""
	}
	raw, err := io.ReadAll(c.Request.Body)
	c.Request.Body = io.NopCloser(bytes.NewReader(raw))
	if err != nil {
		return ""
	}
	var v struct {
		Action string `json:"action"`
	}
	if json.Unmarshal(raw, &v) != nil {
		return ""
	}
	return v.Action
}

// userIDFromCtx returns the verified user id, or "" for anonymous requests.
func userIDFromCtx(c *gin.Context) string {
	if v, ok := c.Get(ctxKeyUserID); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
