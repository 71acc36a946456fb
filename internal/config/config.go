// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database paths, rate limiting, the
// DoorDash Drive credentials, inbound auth, and observability.
//
// Configuration is read once at process start and passed explicitly to the
// components that need it; nothing else in the tree reads the environment.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment variable names for the DoorDash Drive credentials.
const (
	EnvDoorDashDeveloperID   = "DOORDASH_DEVELOPER_ID"
	EnvDoorDashKeyID         = "DOORDASH_KEY_ID"
	EnvDoorDashSigningSecret = "DOORDASH_SIGNING_SECRET"
)

// DefaultDoorDashBaseURL is the Drive API host. Sandbox and production share
// it; the account behind the credentials decides which one is used.
const DefaultDoorDashBaseURL = "https://openapi.doordash.com"

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-delivery-relay")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// Credentials identify this application to the DoorDash Drive API.
type Credentials struct {
	DeveloperID   string
	KeyID         string
	SigningSecret string
}

// Missing returns the environment variable names of the empty credential
// fields, in declaration order. An empty result means the set is complete.
func (c Credentials) Missing() []string {
	var out []string
	if strings.TrimSpace(c.DeveloperID) == "" {
		out = append(out, EnvDoorDashDeveloperID)
	}
	if strings.TrimSpace(c.KeyID) == "" {
		out = append(out, EnvDoorDashKeyID)
	}
	if strings.TrimSpace(c.SigningSecret) == "" {
		out = append(out, EnvDoorDashSigningSecret)
	}
	return out
}

// RequiredVariables lists every credential variable the relay needs.
func RequiredVariables() []string {
	return []string{EnvDoorDashDeveloperID, EnvDoorDashKeyID, EnvDoorDashSigningSecret}
}

// DoorDashConfig groups the outbound delivery API settings.
type DoorDashConfig struct {
	Credentials Credentials
	Environment string        // sandbox|production (informational)
	BaseURL     string        // DOORDASH_BASE_URL
	ClientName  string        // sent as User-Agent
	HTTPTimeout time.Duration // DOORDASH_HTTP_TIMEOUT
	TokenTTL    time.Duration // lifetime of each signed token
}

// AuthConfig configures verification of inbound caller sessions.
type AuthConfig struct {
	JWTSecret   string // AUTH_JWT_SECRET
	JWTAudience string // AUTH_JWT_AUDIENCE (optional)
	JWTIssuer   string // AUTH_JWT_ISSUER (optional)
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// App
	DBPath string // SQLite path for the relay audit trail

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Delivery API and inbound auth
	DoorDash DoorDashConfig
	Auth     AuthConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
//
// Missing DoorDash credentials are not a load error: the relay reports them
// per request so operators see exactly which variables are absent.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 45*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// App
		DBPath: getenv("DB_PATH", "relay.db"),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// DoorDash Drive
		DoorDash: DoorDashConfig{
			Credentials: Credentials{
				DeveloperID:   strings.TrimSpace(os.Getenv(EnvDoorDashDeveloperID)),
				KeyID:         strings.TrimSpace(os.Getenv(EnvDoorDashKeyID)),
				SigningSecret: strings.TrimSpace(os.Getenv(EnvDoorDashSigningSecret)),
			},
			Environment: strings.ToLower(getenv("DOORDASH_ENVIRONMENT", "sandbox")),
			BaseURL:     strings.TrimRight(getenv("DOORDASH_BASE_URL", DefaultDoorDashBaseURL), "/"),
			ClientName:  getenv("DOORDASH_CLIENT_NAME", "go-delivery-relay/1.0"),
			HTTPTimeout: getdur("DOORDASH_HTTP_TIMEOUT", 30*time.Second),
			TokenTTL:    getdur("DOORDASH_TOKEN_TTL", 5*time.Minute),
		},

		// Inbound auth
		Auth: AuthConfig{
			JWTSecret:   getenv("AUTH_JWT_SECRET", ""),
			JWTAudience: getenv("AUTH_JWT_AUDIENCE", ""),
			JWTIssuer:   getenv("AUTH_JWT_ISSUER", ""),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-delivery-relay"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.DoorDash.Environment == "prod" {
		cfg.DoorDash.Environment = "production"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	switch cfg.DoorDash.Environment {
	case "sandbox", "production":
	default:
		return cfg, errors.New("DOORDASH_ENVIRONMENT must be one of: sandbox, production")
	}
	if !strings.HasPrefix(cfg.DoorDash.BaseURL, "http://") && !strings.HasPrefix(cfg.DoorDash.BaseURL, "https://") {
		return cfg, errors.New("DOORDASH_BASE_URL must be an http(s) URL")
	}
	if cfg.DoorDash.HTTPTimeout <= 0 {
		return cfg, errors.New("DOORDASH_HTTP_TIMEOUT must be > 0")
	}
	if cfg.DoorDash.TokenTTL < time.Minute {
		return cfg, errors.New("DOORDASH_TOKEN_TTL must be at least 1m")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
