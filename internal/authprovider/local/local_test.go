package local

import (
	"context"
	"testing"

	"binledger/internal/authprovider"
	"binledger/internal/docstore"
	"binledger/internal/docstore/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestProvider(t *testing.T) (*Provider, *memory.Store) {
	t.Helper()
	store := memory.New()
	t.Cleanup(func() { store.Close() })
	return New(docstore.NewGuard(store), Options{BcryptCost: bcrypt.MinCost, MinPasswordLength: 6}), store
}

func TestCreateAccountAndSignIn(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestProvider(t)

	created, err := p.CreateAccount(ctx, "Alice@Users.Local", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "alice@users.local", created.Email)
	assert.False(t, created.Anonymous)

	signedIn, err := p.SignIn(ctx, "alice@users.local", "secret1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, signedIn.ID)

	_, err = p.SignIn(ctx, "alice@users.local", "wrong-password")
	assert.ErrorIs(t, err, authprovider.ErrInvalidCredential)

	_, err = p.SignIn(ctx, "nobody@users.local", "secret1")
	assert.ErrorIs(t, err, authprovider.ErrInvalidCredential)
}

func TestCreateAccountRejectsDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestProvider(t)

	_, err := p.CreateAccount(ctx, "bob@users.local", "secret1")
	require.NoError(t, err)

	_, err = p.CreateAccount(ctx, "BOB@users.local", "secret2")
	assert.ErrorIs(t, err, authprovider.ErrEmailInUse)
}

func TestPasswordRules(t *testing.T) {
	p, _ := newTestProvider(t)

	assert.ErrorIs(t, p.ValidatePassword("12345"), authprovider.ErrWeakPassword)
	assert.NoError(t, p.ValidatePassword("123456"))

	long := make([]byte, 73)
	for i := range long {
		long[i] = 'a'
	}
	assert.ErrorIs(t, p.ValidatePassword(string(long)), authprovider.ErrWeakPassword)
}

func TestLinkCredentialKeepsAccountID(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestProvider(t)

	anon, err := p.SignInAnonymous(ctx)
	require.NoError(t, err)
	assert.True(t, anon.Anonymous)

	linked, err := p.LinkCredential(ctx, anon, "carol@users.local", "secret1")
	require.NoError(t, err)
	assert.Equal(t, anon.ID, linked.ID)
	assert.False(t, linked.Anonymous)

	_, err = p.LinkCredential(ctx, linked, "carol2@users.local", "secret1")
	assert.ErrorIs(t, err, authprovider.ErrAlreadyLinked)

	again, err := p.SignIn(ctx, "carol@users.local", "secret1")
	require.NoError(t, err)
	assert.Equal(t, anon.ID, again.ID)
}

func TestReauthenticate(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestProvider(t)

	h, err := p.CreateAccount(ctx, "dave@users.local", "secret1")
	require.NoError(t, err)

	ok, err := p.Reauthenticate(ctx, h, "secret1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.Reauthenticate(ctx, h, "nope-nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestChangeEmailMovesIndex(t *testing.T) {
	ctx := context.Background()
	p, store := newTestProvider(t)

	h, err := p.CreateAccount(ctx, "erin@users.local", "secret1")
	require.NoError(t, err)
	other, err := p.CreateAccount(ctx, "frank@users.local", "secret1")
	require.NoError(t, err)

	assert.ErrorIs(t, p.ChangeEmail(ctx, h, "frank@users.local"), authprovider.ErrEmailInUse)

	require.NoError(t, p.ChangeEmail(ctx, h, "erin2@users.local"))

	_, err = p.SignIn(ctx, "erin@users.local", "secret1")
	assert.ErrorIs(t, err, authprovider.ErrInvalidCredential)
	moved, err := p.SignIn(ctx, "erin2@users.local", "secret1")
	require.NoError(t, err)
	assert.Equal(t, h.ID, moved.ID)

	_, ok, err := store.Read(ctx, docstore.AuthEmails().Child("erin@users.local"))
	require.NoError(t, err)
	assert.False(t, ok)

	still, err := p.SignIn(ctx, "frank@users.local", "secret1")
	require.NoError(t, err)
	assert.Equal(t, other.ID, still.ID)
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestProvider(t)

	h, err := p.CreateAccount(ctx, "gina@users.local", "secret1")
	require.NoError(t, err)

	assert.ErrorIs(t, p.ChangePassword(ctx, h, "123"), authprovider.ErrWeakPassword)
	require.NoError(t, p.ChangePassword(ctx, h, "secret2"))

	_, err = p.SignIn(ctx, "gina@users.local", "secret1")
	assert.ErrorIs(t, err, authprovider.ErrInvalidCredential)
	_, err = p.SignIn(ctx, "gina@users.local", "secret2")
	assert.NoError(t, err)
}

func TestSignInExternalReusesAccount(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestProvider(t)

	first, err := p.SignInExternal(ctx, "github", "42", "octo@example.com")
	require.NoError(t, err)
	second, err := p.SignInExternal(ctx, "github", "42", "octo@example.com")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "github", second.Method)

	_, err = p.SignInExternal(ctx, "github", "", "")
	assert.ErrorIs(t, err, authprovider.ErrInvalidCredential)
}

func TestAccountEvents(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestProvider(t)

	var events []authprovider.AccountEvent
	unregister := p.OnAccountChanged(func(ev authprovider.AccountEvent) {
		events = append(events, ev)
	})

	h, err := p.SignInAnonymous(ctx)
	require.NoError(t, err)
	require.NoError(t, p.SignOut(ctx, h))

	require.Len(t, events, 2)
	assert.Equal(t, authprovider.EventSignedIn, events[0].Kind)
	assert.Equal(t, h.ID, events[0].Account.ID)
	assert.Equal(t, authprovider.EventSignedOut, events[1].Kind)
	assert.Nil(t, events[1].Account)

	unregister()
	unregister()
	_, err = p.SignInAnonymous(ctx)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestLookup(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestProvider(t)

	_, err := p.Lookup(ctx, "missing")
	assert.ErrorIs(t, err, authprovider.ErrNoAccount)

	h, err := p.CreateAccount(ctx, "hank@users.local", "secret1")
	require.NoError(t, err)
	got, err := p.Lookup(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, h.Email, got.Email)
}
