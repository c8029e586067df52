package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"avatar-api/internal/config"
	"avatar-api/internal/db"
	apihttp "avatar-api/internal/http"
	"avatar-api/internal/oauth"
	"avatar-api/internal/repository"
	"avatar-api/internal/service"
	"avatar-api/internal/telemetry"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}
	secret, insecure := cfg.ResolveSecret()
	if insecure {
		logger.Warn("USING INSECURE DEFAULT HMAC SECRET: every auth token is forgeable, set HMAC_SECRET")
	}

	if cfg.AutoMigrate {
		if err := runMigrations(cfg.DatabaseURL); err != nil {
			logger.Fatal("db migrate", zap.Error(err))
		}
	}

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer pool.Close()

	// Sin redis cada request resuelve la identidad directo en Postgres.
	cache := service.NewNoopIdentityCache()
	if cfg.RedisURL != "" {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		redisClient, err := db.NewRedisClient(pingCtx, cfg.RedisURL)
		cancel()
		if err != nil {
			logger.Warn("redis unavailable, identity cache disabled", zap.Error(err))
		} else {
			defer redisClient.Close()
			cache = service.NewRedisIdentityCache(redisClient, logger, cfg.IdentityCacheTTL)
		}
	}

	if cfg.FacebookAppID == "" || cfg.FacebookAppSecret == "" {
		logger.Warn("facebook app credentials not configured, facebook logins will fail")
	}
	if cfg.GoogleClientID == "" {
		logger.Warn("google client id not configured, id token audience is not checked")
	}
	httpClient := &http.Client{Timeout: cfg.ProviderTimeout}
	verifiers := oauth.NewRegistry(logger, cfg.ProviderTimeout,
		oauth.NewGoogle(cfg.GoogleTokenInfoURL, cfg.GoogleClientID, httpClient),
		oauth.NewFacebook(cfg.FacebookGraphURL, cfg.FacebookAppID, cfg.FacebookAppSecret, httpClient),
	)

	userRepo := repository.NewPgUserRepository(pool)
	identitySvc := service.NewIdentityService(logger, userRepo, cache)
	signatureSvc := service.NewSignatureService(secret, cfg.SignatureMaxAge)
	authSvc := service.NewAuthService(logger, verifiers, identitySvc, signatureSvc)

	metricsReg := telemetry.NewMetricsRegistry()
	authHandler := apihttp.NewAuthHandler(logger, authSvc)
	dbCheck := func(ctx context.Context) error { return db.Ping(ctx, pool) }
	router := apihttp.NewRouter(logger, authHandler, apihttp.SignatureGate(logger, authSvc), metricsReg, dbCheck)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           apihttp.WithCORS(router, cfg.CORSOrigins),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", zap.Error(err))
		}
	}()

	logger.Info("starting server",
		zap.String("port", cfg.HTTPPort),
		zap.Bool("signature_expiry", signatureSvc.Expiring()),
	)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}
}

func runMigrations(databaseURL string) error {
	m, err := db.NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer m.Close()
	return m.Up()
}
