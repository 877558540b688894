package services

import (
	"context"
	"testing"

	"binledger/internal/core"
	"binledger/internal/docstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionFollowsSignedInAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	views := make(chan View, 32)
	session := NewSession(ctx, f.ledger, f.auth, func(v View) { views <- v }, nil)
	defer session.Close()

	_, ok := session.View()
	assert.False(t, ok, "no view before sign-in")

	alice, err := f.identity.RegisterUsername(ctx, nil, "alice", "secret1")
	require.NoError(t, err)
	_, err = f.ledger.Add(actor(alice.ID), alice.ID, draft("30", core.Card1, "a"))
	require.NoError(t, err)

	v := waitForView(t, views, func(v View) bool { return v.AccountID == alice.ID && len(v.Active) == 1 })
	assert.Equal(t, alice.ID, session.AccountID())

	bob, err := f.identity.RegisterUsername(ctx, nil, "bob", "secret1")
	require.NoError(t, err)
	v = waitForView(t, views, func(v View) bool { return v.AccountID == bob.ID })
	assert.Empty(t, v.Active, "bob's view never contains alice's expenses")
	assert.Equal(t, 0, f.raw.Subscribers(docstore.Expenses(alice.ID)))

	require.NoError(t, f.identity.Logout(ctx, bob))
	assert.Equal(t, "", session.AccountID())
	_, ok = session.View()
	assert.False(t, ok)
	assert.Equal(t, 0, f.raw.Subscribers(docstore.Expenses(bob.ID)))
}

func TestSessionClose(t *testing.T) {
	f := newFixture(t)
	session := NewSession(context.Background(), f.ledger, f.auth, nil, nil)
	require.NoError(t, session.Attach("acct"))
	assert.Equal(t, 1, f.raw.Subscribers(docstore.Expenses("acct")))

	session.Close()
	session.Close()
	assert.Equal(t, 0, f.raw.Subscribers(docstore.Expenses("acct")))
	assert.NoError(t, session.Attach("other"))
	assert.Equal(t, 0, f.raw.Subscribers(docstore.Expenses("other")))
}
