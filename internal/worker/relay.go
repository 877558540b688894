// Package worker relays ledger change messages from other processes into the
// local store's subscriptions.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"binledger/internal/amqp"
	"binledger/internal/cache"
	"binledger/internal/core"
	"binledger/internal/docstore"
	applog "binledger/internal/log"

	"golang.org/x/sync/errgroup"
)

// ChangeConsumer delivers change messages for one account, or every account
// when accountID is empty, until ctx is done.
type ChangeConsumer interface {
	ConsumeChanges(ctx context.Context, accountID string, handler func(context.Context, *amqp.ChangeMessage) error) error
}

// Relay turns change messages into Touch calls so subscribers re-read
// collections written by another process sharing the same database.
type Relay struct {
	store docstore.Toucher
	seen  *cache.LRUCache[struct{}]
}

func NewRelay(store docstore.Toucher) *Relay {
	return &Relay{
		store: store,
		seen:  cache.NewLRUCache[struct{}](1024, time.Hour),
	}
}

// HandleChange processes a single change message from AMQP. Redelivered
// messages are acknowledged without touching the store again.
func (r *Relay) HandleChange(ctx context.Context, msg *amqp.ChangeMessage) error {
	if msg.MessageID != "" {
		if _, dup := r.seen.Get(msg.MessageID); dup {
			slog.DebugContext(ctx, "Skipping duplicate change message", "message_id", msg.MessageID)
			return nil
		}
	}

	collections := collectionsFor(msg.AccountID, msg.Sets)
	if err := r.store.Touch(ctx, collections...); err != nil {
		return fmt.Errorf("touch collections: %w", err)
	}
	if msg.MessageID != "" {
		r.seen.Set(msg.MessageID, struct{}{})
	}

	slog.InfoContext(ctx, "Relayed ledger change",
		applog.FieldAccountID, msg.AccountID,
		applog.FieldOperation, msg.Operation,
		applog.FieldCount, len(msg.IDs),
		"message_id", msg.MessageID)
	return nil
}

// Resync touches both collections of accountID. It is the backup for
// change messages lost while the consumer was disconnected.
func (r *Relay) Resync(ctx context.Context, accountID string) error {
	if err := r.store.Touch(ctx, collectionsFor(accountID, nil)...); err != nil {
		return fmt.Errorf("resync %s: %w", accountID, err)
	}
	return nil
}

// Run consumes changes for accountID and resyncs it every interval until
// ctx is done or the consumer fails for good. A nil consumer leaves only
// the periodic resync.
func (r *Relay) Run(ctx context.Context, consumer ChangeConsumer, accountID string, interval time.Duration) error {
	g, ctx := errgroup.WithContext(ctx)

	if consumer != nil {
		g.Go(func() error {
			return consumer.ConsumeChanges(ctx, accountID, r.HandleChange)
		})
	}

	if interval > 0 && accountID != "" {
		g.Go(func() error {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
					if err := r.Resync(ctx, accountID); err != nil {
						slog.WarnContext(ctx, "Periodic resync failed",
							applog.FieldAccountID, accountID,
							applog.FieldError, err)
					}
				}
			}
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// collectionsFor maps ledger sets to the account's collections. No sets
// means both.
func collectionsFor(accountID string, sets []core.LedgerSet) []docstore.Path {
	if len(sets) == 0 {
		sets = []core.LedgerSet{core.SetActive, core.SetRecycled}
	}
	out := make([]docstore.Path, 0, len(sets))
	for _, set := range sets {
		switch set {
		case core.SetActive:
			out = append(out, docstore.Expenses(accountID))
		case core.SetRecycled:
			out = append(out, docstore.RecycleBin(accountID))
		}
	}
	return out
}
