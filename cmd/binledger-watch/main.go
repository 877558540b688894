// Command binledger-watch signs in as one account, keeps its live ledger
// view and logs the totals whenever the ledger changes. Changes written by
// other processes sharing the database arrive through AMQP.
package main

import (
	"context"
	"time"

	"binledger/internal/cli"
	"binledger/internal/core"
	applog "binledger/internal/log"
	"binledger/internal/services"
	"binledger/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	cfg, logger := cli.LoadAndValidateConfig()
	logger = logger.WithComponent(applog.ComponentWatch)
	if err := cfg.ValidateWatch(); err != nil {
		cli.Fatal(logger, "Watcher configuration invalid", err)
	}

	res := cli.InitBackend(context.Background(), logger, cfg, nil)
	b := res.Backend

	acct, err := b.Identity.Login(context.Background(), cfg.WatchUsername, cfg.WatchPassword)
	if err != nil {
		_ = res.Cleanup()
		cli.Fatal(logger, "Sign in failed", err)
	}
	logger.Info("Signed in", applog.FieldAccountID, acct.ID, applog.FieldUsername, acct.Username)

	session := services.NewSession(context.Background(), b.Ledger, b.Auth,
		func(v services.View) { logView(logger, v) },
		func(err error) { logger.Error("Live view failed", applog.FieldError, err) })

	ctx, done := cli.GracefulShutdown(logger, 10*time.Second, func(context.Context) {
		session.Close()
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", applog.FieldError, err)
		}
	})

	if err := session.Attach(acct.ID); err != nil {
		_ = res.Cleanup()
		cli.Fatal(logger, "Failed to watch ledger", err)
	}

	var consumer worker.ChangeConsumer
	if b.AMQP != nil {
		consumer = b.AMQP
	} else {
		logger.Warn("AMQP disabled, relying on periodic resync only", "interval", cfg.WatchInterval)
	}
	relay := worker.NewRelay(b.Store)
	if err := relay.Run(ctx, consumer, acct.ID, cfg.WatchInterval); err != nil {
		session.Close()
		_ = res.Cleanup()
		cli.Fatal(logger, "Change relay stopped", err)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Watcher stopped")
}

func logView(logger *applog.Logger, v services.View) {
	args := []any{
		applog.FieldAccountID, v.AccountID,
		"version", v.Version,
		"active", len(v.Active),
		"recycled", len(v.Recycled),
		"total", core.FormatAmount(v.Totals.Total),
	}
	for _, c := range core.Cards() {
		args = append(args, string(c), core.FormatAmount(v.Totals.PerCard[c]))
	}
	logger.Info("Ledger updated", args...)
}
