package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"bananaclash/internal/app"
	"bananaclash/internal/config"
	"bananaclash/internal/handlers"
	"bananaclash/internal/logger"
	"bananaclash/internal/security"
	"bananaclash/internal/service"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// A missing .env is fine; real deployments use the environment
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.New(cfg.Env, cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	rt, err := app.Open(cfg, log)
	if err != nil {
		return err
	}
	defer rt.Close()

	secret := cfg.IdentitySecret
	if secret == "" {
		secret = randomSecret()
		log.Warn().Msg("IDENTITY_SECRET not set; identities will not survive a restart")
	}
	identities, err := service.NewIdentityService(secret, cfg.IdentityDuration)
	if err != nil {
		return err
	}
	csrfKey, err := identities.DeriveKey("csrf")
	if err != nil {
		return err
	}
	csrf := security.NewCSRFGenerator(csrfKey)

	limiter := security.NewRateLimiter(cfg.RateLimit, time.Minute)
	defer limiter.Stop()

	registry := handlers.NewRegistry(rt.NewClient, cfg.ClientIdleTime, log)
	defer registry.Close()

	gameHandler := handlers.NewGameHandler(registry, identities, csrf, cfg.PublicBaseURL)
	middleware := handlers.NewMiddleware(identities, csrf, limiter)

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           handlers.NewRouter(gameHandler, middleware, log),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Str("policy", string(rt.Settings.AdvancePolicy)).Msg("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Server shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func randomSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic("crypto/rand failure: " + err.Error())
	}
	return hex.EncodeToString(buf)
}
