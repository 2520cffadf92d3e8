// Package main is the entry point for the lot ledger API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"lotledger/internal/app"
	"lotledger/internal/config"
	"lotledger/internal/domain/auth"
	v1 "lotledger/internal/infrastructure/http/v1"
	"lotledger/internal/infrastructure/http/v1/handlers"
	"lotledger/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Development: cfg.IsDevelopment(),
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.SetDefault(log)

	if err := cfg.Validate(); err != nil {
		log.Fatalw("invalid configuration", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Info("starting lotledger server")

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatalw("failed to initialize services", "error", err)
	}
	defer a.Close()

	// Catalog item cache follows NOTIFY invalidations
	a.Items.Start(ctx)

	// --- JWT Service ---
	jwtSecret := cfg.JWTSecret
	if jwtSecret == "" {
		log.Warn("JWT_SECRET not set, using development secret")
		jwtSecret = auth.DevSecret
	}
	jwtConfig := auth.DefaultJWTConfig(jwtSecret)
	jwtConfig.Issuer = cfg.JWTIssuer
	jwtService := auth.NewJWTService(jwtConfig)

	checks := map[string]handlers.Pinger{}
	if a.Redis != nil {
		checks["redis"] = handlers.RedisPinger(func(ctx context.Context) error {
			return a.Redis.Ping(ctx).Err()
		})
	}

	// --- Router ---
	router := v1.NewRouter(v1.RouterConfig{
		Pool:           a.Pool,
		HealthChecks:   checks,
		Logger:         log,
		JWTValidator:   jwtService,
		Lots:           a.Lots,
		Movements:      a.Movements,
		Products:       a.Guard,
		Reconciler:     a.Reconciler,
		OperationGuard: a.OperationGuard,
		DebugMode:      cfg.IsDevelopment(),
	})

	// --- HTTP Server ---
	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("server starting", "port", cfg.Port, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("server failed", "error", err)
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	// Give outstanding requests 30 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server forced to shutdown", "error", err)
	}

	log.Info("server stopped")
}
