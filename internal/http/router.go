// Package httpapi wires the Gin transport to the relay's handlers, services
// and middleware. Cross-cutting concerns (tracing, correlation ids, redacted
// access logs, recovery, metrics, CORS, security headers) are global; caller
// identity, idempotency and rate limiting are mounted per route group so the
// relay can reject a misconfigured deployment before verifying anyone.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-delivery-relay/internal/auth"
	"github.com/tbourn/go-delivery-relay/internal/config"
	"github.com/tbourn/go-delivery-relay/internal/domain"
	"github.com/tbourn/go-delivery-relay/internal/http/docs"
	"github.com/tbourn/go-delivery-relay/internal/http/handlers"
	"github.com/tbourn/go-delivery-relay/internal/http/middleware"
	"github.com/tbourn/go-delivery-relay/internal/repo"
	"github.com/tbourn/go-delivery-relay/internal/services"
)

// relayCallRepoShim adapts the repo free functions to services.RelayCallRepo.
type relayCallRepoShim struct{}

func (relayCallRepoShim) CreateRelayCall(ctx context.Context, db *gorm.DB, call *domain.RelayCall) (*domain.RelayCall, error) {
	return repo.CreateRelayCall(ctx, db, call)
}

func (relayCallRepoShim) GetRelayCall(ctx context.Context, db *gorm.DB, id, userID string) (*domain.RelayCall, error) {
	return repo.GetRelayCall(ctx, db, id, userID)
}

func (relayCallRepoShim) CountRelayCalls(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	return repo.CountRelayCalls(ctx, db, userID)
}

func (relayCallRepoShim) ListRelayCallsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.RelayCall, error) {
	return repo.ListRelayCallsPage(ctx, db, userID, offset, limit)
}

func (relayCallRepoShim) RelayCallsStats(ctx context.Context, db *gorm.DB, userID string) (int64, *time.Time, error) {
	return repo.RelayCallsStats(ctx, db, userID)
}

// Headers browsers may send to the relay.
var relayAllowHeaders = []string{
	"Authorization",
	"X-Client-Info",
	"Apikey",
	"Content-Type",
	middleware.HeaderIdempotencyKey,
}

// RegisterRoutes attaches middleware and endpoints to r.
//
// Global order:
//  1. OpenTelemetry
//  2. RequestID
//  3. RedactingLogger
//  4. Recovery
//  5. Body size limit, gzip
//  6. Metrics
//  7. CORS, security headers
//
// Relay route: credentials gate, identity, idempotency, rate limit, handler.
// History routes: identity, required identity, rate limit, handler.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, gw handlers.DeliveryGateway, verifier auth.IdentityVerifier, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(1 << 20))
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	corsCfg := cors.Config{
		AllowMethods:              []string{http.MethodPost, http.MethodOptions, http.MethodGet},
		AllowHeaders:              relayAllowHeaders,
		ExposeHeaders:             []string{"X-Request-ID", middleware.HeaderIdempotentReplay},
		AllowCredentials:          false,
		MaxAge:                    12 * time.Hour,
		OptionsResponseStatusCode: http.StatusOK,
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// ACAO: * on every response, including those without an Origin header.
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		corsCfg.AllowAllOrigins = true
	} else {
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		corsCfg.AllowOrigins = cfg.CORS.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      true,
		EnablePolicy: true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = cfg.APIBasePath
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← repo/db
	auditSvc := services.NewAuditService(db, relayCallRepoShim{})
	idemSvc := services.NewIdempotencyService(db, cfg.IdempotencyTTL)
	h := handlers.New(gw, verifier, auditSvc, idemSvc)

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	identity := middleware.ResolveIdentity(verifier)
	idem := middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{MaxLen: 200, Actions: []string{handlers.ActionCreateDelivery}},
		func(ctx context.Context, userID, action, key string, _ time.Time) (bool, error) {
			_, _, found, err := idemSvc.Lookup(ctx, userID, action, key)
			if errors.Is(err, services.ErrReplayInProgress) {
				return false, nil
			}
			return found, err
		},
	)

	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		api.OPTIONS("/delivery", h.Preflight)
		api.POST("/delivery", h.RequireCredentials, identity, idem, rl.Handler(), h.Relay)

		calls := api.Group("/deliveries/calls", identity, middleware.RequireIdentity(verifier), rl.Handler())
		calls.GET("", h.ListCalls)
		calls.GET("/:id", h.GetCall)
	}
}

// limitBody caps request bodies at maxBytes; larger bodies fail to decode.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
