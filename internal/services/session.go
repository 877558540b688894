package services

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"binledger/internal/authprovider"
	"binledger/internal/docstore"
	applog "binledger/internal/log"
)

// Session follows the signed-in account of an authentication provider and
// keeps one live ledger View for it. When the account changes the old
// subscription is cancelled before the new one starts, so a View never
// mixes two accounts. The View is only ever replaced, never mutated.
type Session struct {
	ledger  *LedgerService
	onView  func(View)
	onError func(error)
	ctx     context.Context

	mu         sync.Mutex
	accountID  string
	unwatch    docstore.Unsubscribe
	unregister func()
	closed     bool

	view atomic.Pointer[View]
}

// NewSession listens to auth for account changes until Close. onView and
// onError may be nil.
func NewSession(ctx context.Context, ledger *LedgerService, auth authprovider.Provider, onView func(View), onError func(error)) *Session {
	s := &Session{
		ledger:  ledger,
		onView:  onView,
		onError: onError,
		ctx:     context.WithoutCancel(ctx),
	}
	s.unregister = auth.OnAccountChanged(s.handle)
	return s
}

func (s *Session) handle(ev authprovider.AccountEvent) {
	switch ev.Kind {
	case authprovider.EventSignedOut:
		s.Attach("")
	case authprovider.EventSignedIn, authprovider.EventLinked:
		if ev.Account != nil {
			s.Attach(ev.Account.ID)
		}
	}
}

// Attach points the session at accountID; an empty id detaches it.
// Attaching the current account again is a no-op.
func (s *Session) Attach(accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || accountID == s.accountID {
		return nil
	}

	s.teardownLocked()
	if accountID == "" {
		return nil
	}

	s.accountID = accountID
	ctx := docstore.WithActor(s.ctx, accountID)
	unwatch, err := s.ledger.Watch(ctx, accountID, func(v View) { s.publish(accountID, v) }, s.onError)
	if err != nil {
		s.accountID = ""
		slog.ErrorContext(ctx, "Failed to watch ledger", applog.FieldAccountID, accountID, applog.FieldError, err)
		return err
	}
	s.unwatch = unwatch
	slog.InfoContext(ctx, "Session attached", applog.FieldAccountID, accountID)
	return nil
}

func (s *Session) teardownLocked() {
	if s.unwatch != nil {
		s.unwatch()
		s.unwatch = nil
	}
	s.accountID = ""
	s.view.Store(nil)
}

// publish drops views of an account the session already left.
func (s *Session) publish(accountID string, v View) {
	s.mu.Lock()
	current := s.accountID
	s.mu.Unlock()
	if current != accountID {
		return
	}
	s.view.Store(&v)
	if s.onView != nil {
		s.onView(v)
	}
}

// AccountID returns the attached account, or "".
func (s *Session) AccountID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accountID
}

// View returns the latest delivered view.
func (s *Session) View() (View, bool) {
	v := s.view.Load()
	if v == nil {
		return View{}, false
	}
	return *v, true
}

func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.teardownLocked()
	s.unregister()
}
