package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"binledger/internal/core"
	"binledger/internal/docstore"
	applog "binledger/internal/log"
)

// View is the complete ledger of one account at one moment. A new View is
// built from scratch for every change; nothing is patched in place.
type View struct {
	AccountID string         `json:"accountId"`
	Active    []core.Expense `json:"active"`
	Recycled  []core.Expense `json:"recycled"`
	Totals    core.Totals    `json:"totals"`
	Version   uint64         `json:"version"`
}

// Watch delivers a View of accountID once both sets have been read and
// again after every change to either set. Both sets of a View are read
// between the same two commits, so an atomic move never shows an expense
// twice or not at all. onView and onError are never called concurrently.
// The returned function stops the watch; it is safe to call more than
// once, also from inside onView.
func (s *LedgerService) Watch(ctx context.Context, accountID string, onView func(View), onError func(error)) (docstore.Unsubscribe, error) {
	if onView == nil {
		return nil, errors.New("watch: nil view callback")
	}
	w := &watch{
		ctx:       ctx,
		store:     s.store,
		accountID: accountID,
		onView:    onView,
		onError:   onError,
	}

	// Either subscription only signals a change; the View is re-read whole.
	refresh := func(docstore.Snapshot) { w.refresh() }
	unsubActive, err := s.store.Subscribe(ctx, docstore.Expenses(accountID), refresh, w.fail)
	if err != nil {
		return nil, storeError("watch active expenses", err)
	}
	unsubRecycled, err := s.store.Subscribe(ctx, docstore.RecycleBin(accountID), refresh, w.fail)
	if err != nil {
		unsubActive()
		return nil, storeError("watch recycled expenses", err)
	}

	s.metrics.LiveViewOpened()
	slog.DebugContext(ctx, "Ledger watch started", applog.FieldAccountID, accountID)

	var once sync.Once
	return func() {
		once.Do(func() {
			w.stop()
			unsubActive()
			unsubRecycled()
			s.metrics.LiveViewClosed()
		})
	}, nil
}

type watch struct {
	ctx       context.Context
	store     docstore.Store
	accountID string
	onView    func(View)
	onError   func(error)

	mu      sync.Mutex
	version uint64
	stopped atomic.Bool
}

// refresh reads both sets in one store read and emits the resulting View.
// Reads happen under mu, so Views are delivered in commit order.
func (w *watch) refresh() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped.Load() {
		return
	}
	snaps, err := w.store.ListAll(w.ctx, docstore.Expenses(w.accountID), docstore.RecycleBin(w.accountID))
	if err != nil {
		if w.ctx.Err() == nil && w.onError != nil {
			w.onError(storeError("watch ledger", err))
		}
		return
	}
	if w.stopped.Load() {
		return
	}

	w.version++
	active := expensesFromSnapshot(w.ctx, snaps[0])
	w.onView(View{
		AccountID: w.accountID,
		Active:    active,
		Recycled:  expensesFromSnapshot(w.ctx, snaps[1]),
		Totals:    core.ComputeTotals(active),
		Version:   w.version,
	})
}

func (w *watch) fail(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped.Load() || w.onError == nil {
		return
	}
	w.onError(storeError("watch ledger", err))
}

// stop must not take the lock: onView may stop the watch while refresh holds it.
func (w *watch) stop() {
	w.stopped.Store(true)
}
