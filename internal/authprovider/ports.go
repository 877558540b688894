// Package authprovider defines the authentication collaborator: it owns
// credentials (email and password, anonymous, external OAuth identities)
// and knows nothing about usernames or expenses.
package authprovider

import (
	"context"
	"errors"
)

var (
	ErrEmailInUse        = errors.New("auth: email already in use")
	ErrInvalidCredential = errors.New("auth: invalid credential")
	ErrWeakPassword      = errors.New("auth: password does not meet requirements")
	ErrAlreadyLinked     = errors.New("auth: account already has a permanent credential")
	ErrNoAccount         = errors.New("auth: no such account")
)

// Sign-in methods recorded on a Handle.
const (
	MethodPassword  = "password"
	MethodAnonymous = "anonymous"
)

// Handle is an authenticated account as the provider knows it.
type Handle struct {
	ID        string
	Email     string
	Anonymous bool
	Method    string
}

type EventKind string

const (
	EventSignedIn     EventKind = "signed_in"
	EventSignedOut    EventKind = "signed_out"
	EventLinked       EventKind = "linked"
	EventEmailChanged EventKind = "email_changed"
)

// AccountEvent reports a change of the signed-in account. Account is nil
// after a sign-out.
type AccountEvent struct {
	Kind    EventKind
	Account *Handle
}

type Provider interface {
	// ValidatePassword checks a new password against the provider's rules.
	ValidatePassword(password string) error
	CreateAccount(ctx context.Context, email, password string) (Handle, error)
	SignIn(ctx context.Context, email, password string) (Handle, error)
	SignInAnonymous(ctx context.Context) (Handle, error)
	// SignInExternal signs in with an identity asserted by an OAuth provider,
	// creating the account on first use.
	SignInExternal(ctx context.Context, provider, subject, email string) (Handle, error)
	// LinkCredential upgrades an anonymous account to email and password,
	// keeping its id.
	LinkCredential(ctx context.Context, account Handle, email, password string) (Handle, error)
	Reauthenticate(ctx context.Context, account Handle, password string) (bool, error)
	ChangeEmail(ctx context.Context, account Handle, newEmail string) error
	ChangePassword(ctx context.Context, account Handle, newPassword string) error
	SignOut(ctx context.Context, account Handle) error
	// Lookup returns the current state of an account by id.
	Lookup(ctx context.Context, accountID string) (Handle, error)
	OnAccountChanged(listener func(AccountEvent)) (unregister func())
}
