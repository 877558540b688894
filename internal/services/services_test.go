package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"binledger/internal/authprovider/local"
	"binledger/internal/cache"
	"binledger/internal/core"
	"binledger/internal/docstore"
	"binledger/internal/docstore/memory"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

const testDomain = "users.test"

type fixture struct {
	raw      *memory.Store
	store    docstore.Store
	auth     *local.Provider
	identity *IdentityService
	ledger   *LedgerService
	notes    *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	raw := memory.New()
	t.Cleanup(func() { raw.Close() })

	store := docstore.NewGuard(raw)
	auth := local.New(store, local.Options{BcryptCost: bcrypt.MinCost, MinPasswordLength: 6})
	notes := &recordingNotifier{}
	return &fixture{
		raw:   raw,
		store: store,
		auth:  auth,
		identity: NewIdentityService(store, auth, IdentityConfig{
			CredentialDomain: testDomain,
			CardNames:        map[core.Card]string{core.Card1: "Visa"},
		}, cache.NewLRUCache[core.Profile](16, time.Minute), nil),
		ledger: NewLedgerService(store, notes, nil),
		notes:  notes,
	}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []core.ChangeEvent
	err    error
}

func (n *recordingNotifier) NotifyChange(_ context.Context, ev core.ChangeEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return n.err
}

func (n *recordingNotifier) Events() []core.ChangeEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]core.ChangeEvent(nil), n.events...)
}

func actor(id string) context.Context {
	return docstore.WithActor(context.Background(), id)
}

func draft(amount string, card core.Card, desc string) core.Draft {
	return core.Draft{
		Amount:      decimal.RequireFromString(amount),
		Date:        core.NewDate(2024, 3, 15),
		Description: desc,
		Card:        card,
	}
}
