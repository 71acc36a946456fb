package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHelpers_GetIdempotencyKey_IsReplay_UserIDFromCtx(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)

	if k, ok := GetIdempotencyKey(c); k != "" || ok {
		t.Fatalf("expected empty key when not set")
	}
	if IsReplay(c) {
		t.Fatalf("expected IsReplay=false by default")
	}

	c.Set(ctxKeyIdemKey, 123)
	if _, ok := GetIdempotencyKey(c); ok {
		t.Fatalf("expected GetIdempotencyKey to be absent for non-string value")
	}
	c.Set(ctxKeyIdemReplay, true)
	if !IsReplay(c) {
		t.Fatalf("expected IsReplay=true")
	}
	c.Set(ctxKeyIdemReplay, "yes")
	if IsReplay(c) {
		t.Fatalf("expected IsReplay=false for non-bool")
	}
	MarkReplay(c)
	if !IsReplay(c) {
		t.Fatalf("expected IsReplay=true after MarkReplay")
	}

	if got := userIDFromCtx(c); got != "" {
		t.Fatalf("anonymous request should have no user, got %q", got)
	}
	c.Set(ctxKeyUserID, "u1")
	if got := userIDFromCtx(c); got != "u1" {
		t.Fatalf("userIDFromCtx = %q", got)
	}
	c.Set(ctxKeyUserID, 42)
	if got := userIDFromCtx(c); got != "" {
		t.Fatalf("wrong-type user id should read as empty, got %q", got)
	}
}

func TestIdempotencyValidator_NoHeader_NoLookupCalled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	called := false
	lookup := func(context.Context, string, string, string, time.Time) (bool, error) {
		called = true
		return false, nil
	}
	r.Use(func(c *gin.Context) { c.Set(ctxKeyUserID, "u1"); c.Next() })
	r.Use(IdempotencyValidator(IdempotencyOptions{}, lookup))
	r.POST("/delivery", func(c *gin.Context) {
		if _, ok := GetIdempotencyKey(c); ok {
			t.Fatalf("key should not be present when header missing")
		}
		c.Status(http.StatusOK)
	})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/delivery", nil))

	if w.Code != http.StatusOK || called {
		t.Fatalf("code=%d lookupCalled=%v", w.Code, called)
	}
}

func TestIdempotencyValidator_InvalidKeys(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		name string
		opts IdempotencyOptions
		key  string
	}{
		{"too long", IdempotencyOptions{MaxLen: 5}, "abcdef"},
		{"custom pattern", IdempotencyOptions{Pattern: regexp.MustCompile(`^[0-9]+$`)}, "abc123"},
		{"default pattern", IdempotencyOptions{}, "has space"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			r.Use(func(c *gin.Context) { c.Set(ctxKeyUserID, "u1"); c.Next() })
			r.Use(IdempotencyValidator(tc.opts, nil))
			r.POST("/delivery", func(c *gin.Context) { c.Status(http.StatusOK) })

			req := httptest.NewRequest(http.MethodPost, "/delivery", nil)
			req.Header.Set(HeaderIdempotencyKey, tc.key)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", w.Code)
			}
			var body map[string]any
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid json: %v", err)
			}
			if body["code"] != "bad_idempotency_key" || body["error"] == nil {
				t.Fatalf("unexpected body: %v", body)
			}
		})
	}
}

func TestIdempotencyValidator_AnonymousPassesThrough(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(IdempotencyValidator(IdempotencyOptions{}, func(context.Context, string, string, string, time.Time) (bool, error) {
		t.Fatalf("lookup must not run without a user")
		return false, nil
	}))
	r.POST("/delivery", func(c *gin.Context) {
		if _, ok := GetIdempotencyKey(c); ok {
			t.Fatalf("key stashed for anonymous caller")
		}
		if IsReplay(c) || IsRateBypass(c) {
			t.Fatalf("anonymous request flagged as replay")
		}
		c.Status(http.StatusUnauthorized)
	})

	// Even a malformed key is left for the handler's auth check to reject.
	for _, key := range []string{"abc-123", "bad key!"} {
		req := httptest.NewRequest(http.MethodPost, "/delivery", nil)
		req.Header.Set(HeaderIdempotencyKey, key)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("key %q: expected 401 from handler, got %d", key, w.Code)
		}
	}
}

func TestIdempotencyValidator_Lookup_MissHitAndError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	run := func(t *testing.T, result bool, err error, wantReplay bool) {
		t.Helper()
		r := gin.New()
		r.Use(func(c *gin.Context) { c.Set(ctxKeyUserID, "u9"); c.Next() })
		r.Use(IdempotencyValidator(IdempotencyOptions{Actions: []string{"createDelivery"}},
			func(_ context.Context, userID, action, key string, now time.Time) (bool, error) {
				if userID != "u9" || action != "createDelivery" || key != "k-9" || now.IsZero() {
					t.Fatalf("lookup args: uid=%q action=%q key=%q now=%v", userID, action, key, now)
				}
				return result, err
			}))
		r.POST("/delivery", func(c *gin.Context) {
			if IsReplay(c) != wantReplay || IsRateBypass(c) != wantReplay {
				t.Fatalf("replay=%v bypass=%v; want %v", IsReplay(c), IsRateBypass(c), wantReplay)
			}
			c.Status(http.StatusOK)
		})

		req := httptest.NewRequest(http.MethodPost, "/delivery", strings.NewReader(`{"action":"createDelivery"}`))
		req.Header.Set(HeaderIdempotencyKey, "k-9")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
	}

	t.Run("miss", func(t *testing.T) { run(t, false, nil, false) })
	t.Run("error is a miss", func(t *testing.T) { run(t, true, errors.New("db down"), false) })
	t.Run("hit", func(t *testing.T) {
		before := testutil.ToFloat64(idemReplays)
		run(t, true, nil, true)
		if got := testutil.ToFloat64(idemReplays); got != before+1 {
			t.Fatalf("replay counter = %v; want %v", got, before+1)
		}
	})
}

func TestIdempotencyValidator_OtherActionsNeverBypass(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set(ctxKeyUserID, "u9"); c.Next() })
	r.Use(IdempotencyValidator(IdempotencyOptions{Actions: []string{"createDelivery"}},
		func(context.Context, string, string, string, time.Time) (bool, error) {
			t.Fatalf("lookup must only run for replayable actions")
			return true, nil
		}))
	r.POST("/delivery", func(c *gin.Context) {
		if IsReplay(c) || IsRateBypass(c) {
			t.Fatalf("status request flagged as replay")
		}
		// The handler still sees the full body.
		raw, _ := io.ReadAll(c.Request.Body)
		c.String(http.StatusOK, string(raw))
	})

	const body = `{"action":"getDeliveryStatus","deliveryId":"d1"}`
	for _, b := range []string{body, `not json`} {
		req := httptest.NewRequest(http.MethodPost, "/delivery", strings.NewReader(b))
		req.Header.Set(HeaderIdempotencyKey, "k-9")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK || w.Body.String() != b {
			t.Fatalf("body %q: %d %q", b, w.Code, w.Body.String())
		}
	}
}
