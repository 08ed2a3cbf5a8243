// Command server starts the MultiCam session orchestration HTTP service.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"multicam-live/internal/api"
	"multicam-live/internal/auth"
	"multicam-live/internal/auth/oauth"
	"multicam-live/internal/config"
	"multicam-live/internal/observability/logging"
	"multicam-live/internal/serverutil"
	"multicam-live/internal/session"
	"multicam-live/internal/wowza"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, err := wowza.NewClient(wowza.Config{
		BaseURL: cfg.WowzaBaseURL,
		Token:   cfg.WowzaToken,
		Logger:  logging.WithComponent(logger, "wowza"),
	})
	if err != nil {
		return fmt.Errorf("configure streaming provider: %w", err)
	}

	var mirror session.Mirror
	if cfg.RedisAddr != "" {
		redisMirror, err := session.NewRedisMirror(ctx, session.RedisMirrorConfig{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return fmt.Errorf("connect session mirror: %w", err)
		}
		defer func() {
			if err := redisMirror.Close(); err != nil {
				logger.Error("failed to close session mirror", "error", err)
			}
		}()
		mirror = redisMirror
		logger.Info("session mirror enabled", "addr", cfg.RedisAddr)
	}

	registry, err := session.NewRegistry(session.Config{
		Provider:     provider,
		Mirror:       mirror,
		Logger:       logging.WithComponent(logger, "sessions"),
		PollInterval: cfg.SessionPollInterval,
		PollAttempts: cfg.SessionPollAttempts,
	})
	if err != nil {
		return fmt.Errorf("configure session registry: %w", err)
	}

	exchange, err := oauth.NewExchange(cfg.OAuth,
		oauth.WithLogger(logging.WithComponent(logger, "oauth")))
	if err != nil {
		return fmt.Errorf("configure oauth exchange: %w", err)
	}

	tokenOpts := []auth.TokenOption{}
	if cfg.TokenDSN != "" {
		store, err := auth.NewPostgresTokenStore(ctx, cfg.TokenDSN)
		if err != nil {
			return fmt.Errorf("connect token store: %w", err)
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := store.Close(closeCtx); err != nil {
				logger.Error("failed to close token store", "error", err)
			}
		}()
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate token store: %w", err)
		}
		tokenOpts = append(tokenOpts, auth.WithTokenStore(store))
		logger.Info("refresh tokens persisted to postgres")
	}
	tokens, err := auth.NewTokenManager(cfg.VaultSecret, tokenOpts...)
	if err != nil {
		return fmt.Errorf("configure token vault: %w", err)
	}

	stopPurger := startTokenPurgeWorker(ctx, logging.WithComponent(logger, "token_purger"), tokens, cfg.TokenPurgeInterval)
	defer stopPurger()

	handler := api.NewHandler(registry, exchange, tokens, logger)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("server listening", "addr", cfg.Addr)
	err = serverutil.Run(ctx, serverutil.Config{
		Server:          httpServer,
		ShutdownTimeout: cfg.ShutdownTimeout,
	})
	if err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}
