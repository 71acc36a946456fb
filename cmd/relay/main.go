package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-delivery-relay/internal/auth"
	"github.com/tbourn/go-delivery-relay/internal/config"
	"github.com/tbourn/go-delivery-relay/internal/doordash"
	httpapi "github.com/tbourn/go-delivery-relay/internal/http"
	"github.com/tbourn/go-delivery-relay/internal/observability"
	"github.com/tbourn/go-delivery-relay/internal/repo"
	"github.com/tbourn/go-delivery-relay/internal/services"
	"github.com/tbourn/go-delivery-relay/internal/sysutil"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

const (
	purgeInterval   = 10 * time.Minute
	shutdownTimeout = 10 * time.Second
)

func main() {
	// .env is optional; real deployments set the environment directly.
	if !sysutil.IsTruthy(os.Getenv("SKIP_DOTENV")) {
		_ = godotenv.Load()
	}

	cmd := "serve"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "token":
		os.Exit(runToken(os.Args[2:]))
	case "version":
		fmt.Printf("relay version %s (commit: %s)\n", version, commit)
		os.Exit(exitSuccess)
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`relay - authenticated DoorDash Drive relay

Usage:
  relay [command]

Commands:
  serve      Start the HTTP relay (default)
  validate   Validate configuration and report missing DoorDash credentials
  token      Issue a session token: relay token <user-id> [email]
  version    Print version information

Environment Variables:
  DOORDASH_DEVELOPER_ID     Drive developer id (required at request time)
  DOORDASH_KEY_ID           Drive key id (required at request time)
  DOORDASH_SIGNING_SECRET   Drive signing secret (required at request time)
  DOORDASH_ENVIRONMENT      sandbox|production (default: "sandbox")
  AUTH_JWT_SECRET           HS256 secret for caller session tokens
  PORT                      HTTP port (default: "8080")
  DB_PATH                   SQLite file for the audit trail (default: "relay.db")
  LOG_LEVEL, LOG_PRETTY     Logging
  OTEL_ENABLED              Export traces over OTLP/gRPC (default: "false")`)
}

func runServe() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}
	service := sysutil.FirstNonEmpty(cfg.OTEL.ServiceName, "go-delivery-relay")
	sysutil.ConfigureLogger(os.Stdout, cfg.LogLevel, service, cfg.LogPretty)

	if missing := cfg.DoorDash.Credentials.Missing(); len(missing) > 0 {
		log.Warn().Strs("missing_variables", missing).Msg("DoorDash credentials incomplete; relay requests will fail with configuration_error")
	}
	if cfg.Auth.JWTSecret == "" {
		log.Warn().Msg("AUTH_JWT_SECRET not set; every caller will be rejected")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(rootCtx, cfg.OTEL, version, cfg.DoorDash.Environment)
	if err != nil {
		log.Error().Err(err).Msg("otel setup failed")
		return exitRuntimeError
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownOTel(ctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Error().Err(err).Str("path", cfg.DBPath).Msg("open database")
		return exitRuntimeError
	}
	defer closeDB(db)
	if err := repo.AutoMigrate(db); err != nil {
		log.Error().Err(err).Msg("migrate database")
		return exitRuntimeError
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	gw := doordash.NewClient(cfg.DoorDash)
	httpapi.RegisterRoutes(r, db, gw, auth.NewJWTVerifier(cfg.Auth), cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		purgeIdempotency(rootCtx, services.NewIdempotencyService(db, cfg.IdempotencyTTL), purgeInterval)
	}()

	serveErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("environment", cfg.DoorDash.Environment).
			Str("version", version).
			Msg("relay listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	code := exitSuccess
	select {
	case <-rootCtx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			log.Error().Err(err).Msg("http server failed")
			code = exitRuntimeError
		}
	}
	stop()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	wg.Wait()
	log.Info().Msg("relay stopped")
	return code
}

// closeDB releases the pool behind db.
func closeDB(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Warn().Err(err).Msg("database close")
	}
}

// purgeIdempotency deletes expired replay records until ctx ends.
func purgeIdempotency(ctx context.Context, svc *services.IdempotencyService, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := svc.Purge(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("idempotency purge failed")
				continue
			}
			if n > 0 {
				log.Debug().Int64("deleted", n).Msg("idempotency purge")
			}
		}
	}
}

func runValidate() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}
	if missing := cfg.DoorDash.Credentials.Missing(); len(missing) > 0 {
		fmt.Fprintf(os.Stderr, "missing DoorDash configuration: %v\n", missing)
		return exitInvalidConfig
	}
	signer := doordash.NewTokenSigner(cfg.DoorDash.Credentials, nil)
	if _, err := signer.GenerateToken(doordash.DefaultTokenExpiration); err != nil {
		fmt.Fprintf(os.Stderr, "sign test token: %v\n", err)
		return exitInvalidConfig
	}
	fmt.Printf("configuration valid (environment=%s)\n", cfg.DoorDash.Environment)
	return exitSuccess
}

func runToken(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: relay token <user-id> [email]")
		return exitRuntimeError
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}
	if cfg.Auth.JWTSecret == "" {
		fmt.Fprintln(os.Stderr, "AUTH_JWT_SECRET must be set")
		return exitInvalidConfig
	}
	email := ""
	if len(args) > 1 {
		email = args[1]
	}
	tok, err := auth.IssueToken(cfg.Auth, args[0], email, time.Hour)
	if err != nil {
		fmt.Fprintf(os.Stderr, "issue token: %v\n", err)
		return exitRuntimeError
	}
	fmt.Println(tok)
	return exitSuccess
}
