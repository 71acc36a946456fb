package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-delivery-relay/internal/auth"
	"github.com/tbourn/go-delivery-relay/internal/config"
	"github.com/tbourn/go-delivery-relay/internal/doordash"
	"github.com/tbourn/go-delivery-relay/internal/http/middleware"
	"github.com/tbourn/go-delivery-relay/internal/repo"
)

// --- gateway fake: counts upstream calls, never touches the network ---
type stubGateway struct {
	missing []string
	creates int32
	delay   time.Duration
}

func (g *stubGateway) Environment() string          { return "sandbox" }
func (g *stubGateway) MissingCredentials() []string { return g.missing }

func (g *stubGateway) GetDeliveryQuote(context.Context, doordash.QuoteRequest) (json.RawMessage, error) {
	return json.RawMessage(`{"id":"quote_1","fee":799}`), nil
}

func (g *stubGateway) CreateDelivery(_ context.Context, quoteID string, _ doordash.OrderDetails) (json.RawMessage, error) {
	n := atomic.AddInt32(&g.creates, 1)
	time.Sleep(g.delay)
	if n > 1 {
		return json.RawMessage(`{"external_delivery_id":"delivery_second","status":"created"}`), nil
	}
	return json.RawMessage(`{"external_delivery_id":"delivery_first","status":"created"}`), nil
}

func (g *stubGateway) GetDeliveryStatus(_ context.Context, id string) (json.RawMessage, error) {
	return json.RawMessage(`{"id":"` + id + `","status":"delivered"}`), nil
}

func (g *stubGateway) CancelDelivery(_ context.Context, id, _ string) (json.RawMessage, error) {
	return json.RawMessage(`{"id":"` + id + `","status":"cancelled"}`), nil
}

func (g *stubGateway) SearchStores(context.Context, float64, float64, float64) json.RawMessage {
	return json.RawMessage(`[]`)
}

var testAuth = config.AuthConfig{JWTSecret: "router-test-secret"}

// --- test DB helper (pure-Go sqlite, no CGO), one database per test ---
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func testConfig() config.Config {
	return config.Config{
		APIBasePath:    "/api/v1",
		RateRPS:        100,
		RateBurst:      10,
		IdempotencyTTL: time.Hour,
		Auth:           testAuth,
		Security:       config.SecurityConfig{EnableHSTS: false},
		OTEL:           config.OTELConfig{ServiceName: "test-svc"},
	}
}

func newRouter(t *testing.T, gw *stubGateway, cfg config.Config) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, newTestDB(t), gw, auth.NewJWTVerifier(cfg.Auth), cfg)
	return r
}

func bearer(t *testing.T, userID string) string {
	t.Helper()
	tok, err := auth.IssueToken(testAuth, userID, "", time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return "Bearer " + tok
}

func postRelay(r http.Handler, authz, idemKey, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/delivery", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	if idemKey != "" {
		req.Header.Set(middleware.HeaderIdempotencyKey, idemKey)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterRoutes_Health_Metrics_Fallbacks(t *testing.T) {
	r := newRouter(t, &stubGateway{}, testConfig())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("ACAO = %q; want *", got)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header")
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "http_requests_total") {
		t.Fatalf("GET /metrics = %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown route = %d; want 404", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/health", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health = %d; want 405", w.Code)
	}
}

func TestRegisterRoutes_Preflight(t *testing.T) {
	r := newRouter(t, &stubGateway{}, testConfig())

	// Browser preflight is answered by the CORS middleware.
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/delivery", nil)
	req.Header.Set("Origin", "http://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "authorization, content-type")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("preflight = %d; want 200", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("preflight ACAO = %q", got)
	}
	allow := strings.ToLower(w.Header().Get("Access-Control-Allow-Headers"))
	for _, h := range []string{"authorization", "x-client-info", "apikey", "content-type"} {
		if !strings.Contains(allow, h) {
			t.Fatalf("allow-headers %q missing %q", allow, h)
		}
	}

	// A bare OPTIONS reaches the route itself.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/v1/delivery", nil))
	if w.Code != http.StatusOK || w.Body.Len() != 0 {
		t.Fatalf("bare OPTIONS = %d body=%q", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("bare OPTIONS ACAO = %q", got)
	}
}

func TestRegisterRoutes_CORSAllowlistEcho(t *testing.T) {
	cfg := testConfig()
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://example.com"}}
	r := newRouter(t, &stubGateway{}, cfg)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://example.com")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}
}

func TestRelay_EndToEnd(t *testing.T) {
	r := newRouter(t, &stubGateway{}, testConfig())
	authz := bearer(t, "user-1")

	w := postRelay(r, authz, "", `{"action":"getDeliveryStatus","deliveryId":"delivery_9"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"delivered"`) {
		t.Fatalf("body = %s", w.Body.String())
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("ACAO = %q", got)
	}

	if w := postRelay(r, "", "", `{"action":"getDeliveryStatus"}`); w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous = %d; want 401", w.Code)
	}
	if w := postRelay(r, authz, "", `{"action":"teleport"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("unknown action = %d; want 400", w.Code)
	}
}

func TestRelay_MissingCredentials(t *testing.T) {
	gw := &stubGateway{missing: []string{config.EnvDoorDashSigningSecret}}
	r := newRouter(t, gw, testConfig())

	// No Authorization header: configuration is reported before identity.
	w := postRelay(r, "", "", `{"action":"getDeliveryStatus"}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d; want 500", w.Code)
	}
	var body struct {
		Code              string   `json:"code"`
		MissingVariables  []string `json:"missing_variables"`
		RequiredVariables []string `json:"required_variables"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if body.Code != "configuration_error" {
		t.Fatalf("code = %q", body.Code)
	}
	if len(body.MissingVariables) != 1 || body.MissingVariables[0] != config.EnvDoorDashSigningSecret {
		t.Fatalf("missing = %v", body.MissingVariables)
	}
	if len(body.RequiredVariables) != 3 {
		t.Fatalf("required = %v", body.RequiredVariables)
	}
}

func TestRelay_IdempotentReplayAndHistory(t *testing.T) {
	gw := &stubGateway{}
	r := newRouter(t, gw, testConfig())
	authz := bearer(t, "user-1")
	const body = `{"action":"createDelivery","quoteId":"quote_1","orderDetails":{"pickup_address":"a","dropoff_address":"b","order_value":1500}}`

	first := postRelay(r, authz, "create-abc-1", body)
	if first.Code != http.StatusOK {
		t.Fatalf("first = %d body=%s", first.Code, first.Body.String())
	}
	if first.Header().Get(middleware.HeaderIdempotentReplay) != "" {
		t.Fatalf("first call must not be a replay")
	}

	second := postRelay(r, authz, "create-abc-1", body)
	if second.Code != http.StatusOK {
		t.Fatalf("second = %d", second.Code)
	}
	if second.Header().Get(middleware.HeaderIdempotentReplay) != "true" {
		t.Fatalf("expected replay header")
	}
	if second.Body.String() != first.Body.String() {
		t.Fatalf("replayed body = %s; want %s", second.Body.String(), first.Body.String())
	}
	if n := atomic.LoadInt32(&gw.creates); n != 1 {
		t.Fatalf("upstream creates = %d; want 1", n)
	}

	// Another user with the same key is not served the stored result.
	if w := postRelay(r, bearer(t, "user-2"), "create-abc-1", body); w.Header().Get(middleware.HeaderIdempotentReplay) != "" {
		t.Fatalf("replay leaked across users")
	}

	// History shows the single executed call for user-1.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/deliveries/calls", nil)
	req.Header.Set("Authorization", authz)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("history = %d body=%s", w.Code, w.Body.String())
	}
	var list struct {
		Calls []struct {
			Action             string `json:"action"`
			ExternalDeliveryID string `json:"external_delivery_id"`
		} `json:"calls"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(list.Calls) != 1 || list.Calls[0].Action != "createDelivery" || list.Calls[0].ExternalDeliveryID != "delivery_first" {
		t.Fatalf("calls = %+v", list.Calls)
	}
}

func TestRelay_StoredKeyDoesNotBypassRateLimitForOtherActions(t *testing.T) {
	cfg := testConfig()
	cfg.RateRPS = 0.0001
	cfg.RateBurst = 1
	r := newRouter(t, &stubGateway{}, cfg)
	authz := bearer(t, "user-1")
	const create = `{"action":"createDelivery","quoteId":"quote_1","orderDetails":{"pickup_address":"a","dropoff_address":"b","order_value":1500}}`

	if w := postRelay(r, authz, "k1", create); w.Code != http.StatusOK {
		t.Fatalf("create = %d body=%s", w.Code, w.Body.String())
	}

	// The bucket is empty; reusing the stored key for another action is limited.
	for i := 0; i < 3; i++ {
		w := postRelay(r, authz, "k1", `{"action":"getDeliveryStatus","deliveryId":"delivery_9"}`)
		if w.Code != http.StatusTooManyRequests {
			t.Fatalf("status call %d = %d; want 429", i, w.Code)
		}
		if w.Header().Get(middleware.HeaderIdempotentReplay) != "" {
			t.Fatalf("status call %d marked as replay", i)
		}
	}

	// A genuine replay of the create still passes.
	w := postRelay(r, authz, "k1", create)
	if w.Code != http.StatusOK || w.Header().Get(middleware.HeaderIdempotentReplay) != "true" {
		t.Fatalf("replay = %d header=%q", w.Code, w.Header().Get(middleware.HeaderIdempotentReplay))
	}
}

func TestRelay_ConcurrentCreatesWithSameKeyCallUpstreamOnce(t *testing.T) {
	// File-backed WAL database so concurrent readers never block the claim.
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		t.Cleanup(func() { _ = sqlDB.Close() })
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	gw := &stubGateway{delay: 100 * time.Millisecond}
	cfg := testConfig()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, db, gw, auth.NewJWTVerifier(cfg.Auth), cfg)
	authz := bearer(t, "user-1")
	const create = `{"action":"createDelivery","quoteId":"quote_1","orderDetails":{"pickup_address":"a","dropoff_address":"b","order_value":1500}}`

	results := make(chan *httptest.ResponseRecorder, 2)
	for i := 0; i < 2; i++ {
		go func() { results <- postRelay(r, authz, "same-key", create) }()
	}
	for i := 0; i < 2; i++ {
		if w := <-results; w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "delivery_first") {
			t.Fatalf("response %d = %d body=%s", i, w.Code, w.Body.String())
		}
	}
	if n := atomic.LoadInt32(&gw.creates); n != 1 {
		t.Fatalf("upstream creates = %d; want 1", n)
	}
}

func TestRelay_AnonymousWithMalformedKeyIsUnauthorized(t *testing.T) {
	r := newRouter(t, &stubGateway{}, testConfig())

	w := postRelay(r, "", "bad key!", `{"action":"createDelivery"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d body=%s; want 401", w.Code, w.Body.String())
	}

	// Identified callers still get the key validated.
	w = postRelay(r, bearer(t, "user-1"), "bad key!", `{"action":"createDelivery"}`)
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "bad_idempotency_key") {
		t.Fatalf("status = %d body=%s; want 400 bad_idempotency_key", w.Code, w.Body.String())
	}
}

func TestHistory_RequiresIdentity(t *testing.T) {
	r := newRouter(t, &stubGateway{}, testConfig())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/deliveries/calls", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous history = %d; want 401", w.Code)
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	// tiny cap to trigger MaxBytesReader
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		_, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB")) // 12 bytes
	r.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	groupWithPrefix(r, "/").GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	groupWithPrefix(r, "").GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })
	groupWithPrefix(r, "/api").GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for path, want := range map[string]string{"/one": "one", "/two": "two", "/api/ping": "pong"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK || rec.Body.String() != want {
			t.Fatalf("GET %s got %d %q", path, rec.Code, rec.Body.String())
		}
	}
}
