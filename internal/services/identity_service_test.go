package services

import (
	"context"
	"errors"
	"testing"

	"binledger/internal/apperror"
	"binledger/internal/authprovider"
	"binledger/internal/core"
	"binledger/internal/docstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	acct, err := f.identity.RegisterUsername(ctx, nil, "Alice", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", acct.Username)
	assert.Equal(t, "alice@"+testDomain, acct.CredentialEmail)
	assert.False(t, acct.IsAnonymous)

	for _, name := range []string{"Alice", "alice", " ALICE "} {
		got, err := f.identity.Login(ctx, name, "secret1")
		require.NoError(t, err, name)
		assert.Equal(t, acct.ID, got.ID)
		assert.Equal(t, "Alice", got.Username)
	}

	_, err = f.identity.Login(ctx, "alice", "wrong-pass")
	assert.ErrorIs(t, err, apperror.ErrInvalidCredential)

	_, err = f.identity.Login(ctx, "bob", "secret1")
	assert.ErrorIs(t, err, apperror.ErrUsernameNotFound)
}

func TestRegisterIsCaseInsensitive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.identity.RegisterUsername(ctx, nil, "Alice", "secret1")
	require.NoError(t, err)

	_, err = f.identity.RegisterUsername(ctx, nil, "alice", "secret2")
	assert.ErrorIs(t, err, apperror.ErrUsernameTaken)
	assert.ErrorIs(t, err, apperror.ErrIdentity)
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		username string
		password string
	}{
		{"empty username", "", "secret1"},
		{"short username", "ab", "secret1"},
		{"bad characters", "al ice", "secret1"},
		{"short password", "alice", "123"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := f.raw.Commits()
			_, err := f.identity.RegisterUsername(ctx, nil, tt.username, tt.password)
			assert.ErrorIs(t, err, apperror.ErrValidation)
			assert.Equal(t, before, f.raw.Commits())
		})
	}
}

func TestRegisterUpgradesAnonymousAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	guest, err := f.identity.LoginAnonymous(ctx)
	require.NoError(t, err)
	assert.True(t, guest.IsAnonymous)
	assert.Equal(t, core.GuestLabel(guest.ID), guest.Username)

	e, err := f.ledger.Add(actor(guest.ID), guest.ID, draft("9.99", core.Card1, "Before signup"))
	require.NoError(t, err)

	acct, err := f.identity.RegisterUsername(ctx, &guest, "carol", "secret1")
	require.NoError(t, err)
	assert.Equal(t, guest.ID, acct.ID)

	again, err := f.identity.Login(ctx, "carol", "secret1")
	require.NoError(t, err)
	active, err := f.ledger.Active(actor(again.ID), again.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, e.ID, active[0].ID)

	profile, err := f.identity.Profile(actor(acct.ID), acct.ID)
	require.NoError(t, err)
	assert.Equal(t, "carol", profile.CustomUsername)

	_, err = f.identity.RegisterUsername(ctx, &acct, "carol2", "secret1")
	assert.ErrorIs(t, err, apperror.ErrIdentityConflict)
}

func TestChangeUsernameNoOpMakesNoWrites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	acct, err := f.identity.RegisterUsername(ctx, nil, "Dave", "secret1")
	require.NoError(t, err)

	before := f.raw.Commits()
	for _, name := range []string{"Dave", "dave", "DAVE"} {
		_, err := f.identity.ChangeUsername(ctx, acct, name, "secret1")
		assert.ErrorIs(t, err, apperror.ErrNoOpChange, name)
	}
	assert.Equal(t, before, f.raw.Commits())
}

func TestChangeUsername(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	acct, err := f.identity.RegisterUsername(ctx, nil, "erin", "secret1")
	require.NoError(t, err)
	_, err = f.identity.RegisterUsername(ctx, nil, "frank", "secret1")
	require.NoError(t, err)

	_, err = f.identity.ChangeUsername(ctx, acct, "Frank", "secret1")
	assert.ErrorIs(t, err, apperror.ErrUsernameTaken)

	_, err = f.identity.ChangeUsername(ctx, acct, "erin2", "bad-pass")
	assert.ErrorIs(t, err, apperror.ErrInvalidCredential)

	renamed, err := f.identity.ChangeUsername(ctx, acct, "Erin2", "secret1")
	require.NoError(t, err)
	assert.Equal(t, acct.ID, renamed.ID)
	assert.Equal(t, "Erin2", renamed.Username)

	_, err = f.identity.Login(ctx, "erin", "secret1")
	assert.ErrorIs(t, err, apperror.ErrUsernameNotFound)

	got, err := f.identity.Login(ctx, "erin2", "secret1")
	require.NoError(t, err)
	assert.Equal(t, acct.ID, got.ID)
	assert.Equal(t, "Erin2", got.Username)

	_, ok, err := f.raw.Read(ctx, docstore.UsernameChangePath(acct.ID))
	require.NoError(t, err)
	assert.False(t, ok, "marker removed after finalize")

	profile, err := f.identity.Profile(actor(acct.ID), acct.ID)
	require.NoError(t, err)
	assert.Equal(t, "Erin2", profile.CustomUsername)
}

// failingEmailProvider fails every ChangeEmail without applying it.
type failingEmailProvider struct {
	authprovider.Provider
}

func (p *failingEmailProvider) ChangeEmail(context.Context, authprovider.Handle, string) error {
	return errors.New("provider timeout")
}

func TestChangeUsernameRollsBackWhenEmailChangeFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	acct, err := f.identity.RegisterUsername(ctx, nil, "gina", "secret1")
	require.NoError(t, err)

	f.identity.auth = &failingEmailProvider{Provider: f.auth}
	_, err = f.identity.ChangeUsername(ctx, acct, "gina2", "secret1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, apperror.ErrPartialCommit)

	_, ok, _ := f.raw.Read(ctx, docstore.UsernamePath("gina2"))
	assert.False(t, ok, "reservation released")
	_, ok, _ = f.raw.Read(ctx, docstore.UsernameChangePath(acct.ID))
	assert.False(t, ok, "marker removed")

	f.identity.auth = f.auth
	got, err := f.identity.Login(ctx, "gina", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "gina", got.Username)
}

func TestLoginFinishesInterruptedChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	acct, err := f.identity.RegisterUsername(ctx, nil, "hank", "secret1")
	require.NoError(t, err)

	// The credential email moves, then the finalize batch fails.
	f.raw.SetFault(func(op docstore.Op, p docstore.Path) error {
		if op == docstore.OpDelete && p == docstore.UsernamePath("hank") {
			return docstore.ErrUnavailable
		}
		return nil
	})
	_, err = f.identity.ChangeUsername(ctx, acct, "hank2", "secret1")
	assert.ErrorIs(t, err, apperror.ErrPartialCommit)
	f.raw.SetFault(nil)

	_, ok, _ := f.raw.Read(ctx, docstore.UsernameChangePath(acct.ID))
	require.True(t, ok, "marker survives the interruption")

	got, err := f.identity.Login(ctx, "hank", "secret1")
	require.NoError(t, err)
	assert.Equal(t, acct.ID, got.ID)
	assert.Equal(t, "hank2", got.Username)

	_, ok, _ = f.raw.Read(ctx, docstore.UsernameChangePath(acct.ID))
	assert.False(t, ok)
	_, err = f.identity.Login(ctx, "hank", "secret1")
	assert.ErrorIs(t, err, apperror.ErrUsernameNotFound)
	got, err = f.identity.Login(ctx, "HANK2", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "hank2", got.Username)
}

func TestLoginRollsBackChangeThatNeverMovedTheEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	acct, err := f.identity.RegisterUsername(ctx, nil, "ivy", "secret1")
	require.NoError(t, err)

	// Reservation committed, then the process died before touching the provider.
	change := core.UsernameChange{
		OperationID: "op-1",
		OldUsername: "ivy",
		NewUsername: "ivy2",
		OldEmail:    acct.CredentialEmail,
		NewEmail:    core.CredentialEmail("ivy2", testDomain),
	}
	require.NoError(t, f.identity.reserve(actor(acct.ID), acct.ID, change))

	got, err := f.identity.Login(ctx, "ivy2", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "ivy", got.Username)

	_, ok, _ := f.raw.Read(ctx, docstore.UsernamePath("ivy2"))
	assert.False(t, ok)
	doc, ok, _ := f.raw.Read(ctx, docstore.UsernamePath("ivy"))
	require.True(t, ok)
	rec := core.UsernameRecordFromDocument(doc)
	assert.Empty(t, rec.PendingUsername)
	assert.Empty(t, rec.PendingEmail)
}

func TestChangeUsernameGuestIsConflict(t *testing.T) {
	f := newFixture(t)
	guest, err := f.identity.LoginAnonymous(context.Background())
	require.NoError(t, err)

	_, err = f.identity.ChangeUsername(context.Background(), guest, "someone", "secret1")
	assert.ErrorIs(t, err, apperror.ErrIdentityConflict)
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	acct, err := f.identity.RegisterUsername(ctx, nil, "jack", "secret1")
	require.NoError(t, err)

	assert.ErrorIs(t, f.identity.ChangePassword(ctx, acct, "nope-nope", "secret2"), apperror.ErrInvalidCredential)
	assert.ErrorIs(t, f.identity.ChangePassword(ctx, acct, "secret1", "12"), apperror.ErrValidation)
	require.NoError(t, f.identity.ChangePassword(ctx, acct, "secret1", "secret2"))

	_, err = f.identity.Login(ctx, "jack", "secret2")
	assert.NoError(t, err)
}

func TestProfileCardNames(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	acct, err := f.identity.RegisterUsername(ctx, nil, "kate", "secret1")
	require.NoError(t, err)
	actx := actor(acct.ID)

	p, err := f.identity.Profile(actx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, "Visa", p.CardName(core.Card1), "configured default")
	assert.Equal(t, "Card 2", p.CardName(core.Card2))

	p, err = f.identity.SetCardNames(actx, acct.ID, map[core.Card]string{core.Card2: " Amex "})
	require.NoError(t, err)
	assert.Equal(t, "Amex", p.CardName(core.Card2))
	assert.Equal(t, "Visa", p.CardName(core.Card1))

	_, err = f.identity.SetCardNames(actx, acct.ID, map[core.Card]string{core.Card("card9"): "x"})
	assert.ErrorIs(t, err, apperror.ErrValidation)

	_, err = f.identity.SetCardNames(actor("someone-else"), acct.ID, map[core.Card]string{core.Card1: "Mine"})
	assert.ErrorIs(t, err, apperror.ErrPermissionDenied)
}

func TestLoginExternal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.identity.LoginExternal(ctx, "github", "42", "octo@example.com", "octo")
	require.NoError(t, err)
	assert.Equal(t, "octo", first.Username)

	again, err := f.identity.LoginExternal(ctx, "github", "42", "octo@example.com", "renamed")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "octo", again.Username, "stored display name wins")
}

func TestAccountLookup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	guest, err := f.identity.LoginAnonymous(ctx)
	require.NoError(t, err)
	got, err := f.identity.Account(ctx, guest.ID)
	require.NoError(t, err)
	assert.True(t, got.IsAnonymous)
	assert.Equal(t, guest.Username, got.Username)

	_, err = f.identity.Account(ctx, "missing")
	assert.ErrorIs(t, err, apperror.ErrUnauthenticated)
}
