package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"binledger/internal/auth"
	"binledger/internal/cli"
	apphttp "binledger/internal/http"
	applog "binledger/internal/log"
	"binledger/internal/metrics"
)

func main() {
	cli.LoadEnvFile()
	cfg, logger := cli.LoadAndValidateConfig()
	logger = logger.WithComponent(applog.ComponentApp)

	logger.Info("Starting binledger",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"amqp_enabled", cfg.AMQPURL != "",
		"github_enabled", cfg.GitHubEnabled())

	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		cli.Fatal(logger, "Invalid session configuration", err)
	}
	var github *auth.GitHubProvider
	if cfg.GitHubEnabled() {
		github = auth.NewGitHubProvider(cfg.GitHubClientID, cfg.GitHubClientSecret, cfg.GitHubCallbackURL)
	}

	m := metrics.New()
	res := cli.InitBackend(context.Background(), logger, cfg, m)
	b := res.Backend

	srv := apphttp.NewServer(apphttp.Options{
		Addr:           ":" + cfg.Port,
		CORSOrigins:    cfg.CORSOrigins,
		CookieSecure:   cfg.CookieSecure,
		AuthRateLimit:  cfg.AuthRateLimit,
		TrustedProxies: cfg.TrustedProxies,
	}, apphttp.Deps{
		Ledger:   b.Ledger,
		Identity: b.Identity,
		Store:    b.Raw,
		Tokens:   tokens,
		GitHub:   github,
		Metrics:  m,
		Logger:   logger,
	})
	srv.MaxHeaderBytes = 1 << 16

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", applog.FieldError, err)
		}
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", applog.FieldError, err)
		}
	})

	logger.Info("Server listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		_ = res.Cleanup()
		cli.Fatal(logger, "Server error", err)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
