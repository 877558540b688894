// Package local is an authentication provider that keeps its credentials
// in the document store, under auth/providers, with bcrypt password hashes.
package local

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"binledger/internal/authprovider"
	"binledger/internal/core"
	"binledger/internal/docstore"

	"golang.org/x/crypto/bcrypt"
)

var _ authprovider.Provider = (*Provider)(nil)

const (
	fieldEmail        = "email"
	fieldPasswordHash = "passwordHash"
	fieldAnonymous    = "anonymous"
	fieldMethod       = "method"
	fieldCreatedAt    = "createdAt"
	fieldAccountID    = "accountId"
)

type Options struct {
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost        int
	MinPasswordLength int
}

type Provider struct {
	store     docstore.Store
	passwords passwords

	mu        sync.Mutex
	listeners map[int]func(authprovider.AccountEvent)
	nextID    int
}

func New(store docstore.Store, opts Options) *Provider {
	cost := opts.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	minLength := opts.MinPasswordLength
	if minLength <= 0 {
		minLength = 6
	}
	return &Provider{
		store:     store,
		passwords: passwords{cost: cost, minLength: minLength},
		listeners: make(map[int]func(authprovider.AccountEvent)),
	}
}

func (p *Provider) ValidatePassword(password string) error {
	return p.passwords.validate(password)
}

func (p *Provider) CreateAccount(ctx context.Context, email, password string) (authprovider.Handle, error) {
	ctx = docstore.WithSystem(ctx)
	email = normalizeEmail(email)
	hash, err := p.passwords.hash(password)
	if err != nil {
		return authprovider.Handle{}, err
	}

	h := authprovider.Handle{
		ID:     p.store.NewID(),
		Email:  email,
		Method: authprovider.MethodPassword,
	}
	err = p.store.Batch().
		Write(docstore.AuthEmails().Child(email), docstore.Document{fieldAccountID: h.ID}, docstore.MustNotExist).
		Write(docstore.AuthAccounts().Child(h.ID), accountFields(h, hash), docstore.MustNotExist).
		Commit(ctx)
	if err != nil {
		return authprovider.Handle{}, emailConflict(err)
	}

	p.emit(authprovider.EventSignedIn, &h)
	return h, nil
}

func (p *Provider) SignIn(ctx context.Context, email, password string) (authprovider.Handle, error) {
	ctx = docstore.WithSystem(ctx)
	email = normalizeEmail(email)

	id, err := p.accountForEmail(ctx, email)
	if err != nil {
		return authprovider.Handle{}, err
	}
	h, hash, err := p.load(ctx, id)
	if errors.Is(err, authprovider.ErrNoAccount) {
		return authprovider.Handle{}, authprovider.ErrInvalidCredential
	}
	if err != nil {
		return authprovider.Handle{}, err
	}
	if err := p.passwords.verify(hash, password); err != nil {
		return authprovider.Handle{}, err
	}

	p.emit(authprovider.EventSignedIn, &h)
	return h, nil
}

func (p *Provider) SignInAnonymous(ctx context.Context) (authprovider.Handle, error) {
	ctx = docstore.WithSystem(ctx)
	h := authprovider.Handle{
		ID:        p.store.NewID(),
		Anonymous: true,
		Method:    authprovider.MethodAnonymous,
	}
	err := p.store.Batch().
		Write(docstore.AuthAccounts().Child(h.ID), accountFields(h, ""), docstore.MustNotExist).
		Commit(ctx)
	if err != nil {
		return authprovider.Handle{}, err
	}
	p.emit(authprovider.EventSignedIn, &h)
	return h, nil
}

func (p *Provider) SignInExternal(ctx context.Context, provider, subject, email string) (authprovider.Handle, error) {
	ctx = docstore.WithSystem(ctx)
	if provider == "" || subject == "" {
		return authprovider.Handle{}, authprovider.ErrInvalidCredential
	}
	key := docstore.AuthExternal().Child(provider + ":" + subject)

	doc, ok, err := p.store.Read(ctx, key)
	if err != nil {
		return authprovider.Handle{}, err
	}
	if ok {
		h, _, err := p.load(ctx, core.StringField(doc, fieldAccountID))
		if err != nil {
			return authprovider.Handle{}, err
		}
		p.emit(authprovider.EventSignedIn, &h)
		return h, nil
	}

	// External accounts keep the asserted email for display only; they are
	// not reachable through SignIn, so the email index is left alone.
	h := authprovider.Handle{
		ID:     p.store.NewID(),
		Email:  normalizeEmail(email),
		Method: provider,
	}
	err = p.store.Batch().
		Write(key, docstore.Document{fieldAccountID: h.ID}, docstore.MustNotExist).
		Write(docstore.AuthAccounts().Child(h.ID), accountFields(h, ""), docstore.MustNotExist).
		Commit(ctx)
	if err != nil {
		return authprovider.Handle{}, err
	}
	p.emit(authprovider.EventSignedIn, &h)
	return h, nil
}

func (p *Provider) LinkCredential(ctx context.Context, account authprovider.Handle, email, password string) (authprovider.Handle, error) {
	ctx = docstore.WithSystem(ctx)
	current, _, err := p.load(ctx, account.ID)
	if err != nil {
		return authprovider.Handle{}, err
	}
	if !current.Anonymous {
		return authprovider.Handle{}, authprovider.ErrAlreadyLinked
	}

	hash, err := p.passwords.hash(password)
	if err != nil {
		return authprovider.Handle{}, err
	}
	linked := authprovider.Handle{
		ID:     current.ID,
		Email:  normalizeEmail(email),
		Method: authprovider.MethodPassword,
	}
	err = p.store.Batch().
		Write(docstore.AuthEmails().Child(linked.Email), docstore.Document{fieldAccountID: linked.ID}, docstore.MustNotExist).
		Write(docstore.AuthAccounts().Child(linked.ID), accountFields(linked, hash), docstore.MustExist).
		Commit(ctx)
	if err != nil {
		return authprovider.Handle{}, emailConflict(err)
	}

	p.emit(authprovider.EventLinked, &linked)
	return linked, nil
}

func (p *Provider) Reauthenticate(ctx context.Context, account authprovider.Handle, password string) (bool, error) {
	ctx = docstore.WithSystem(ctx)
	_, hash, err := p.load(ctx, account.ID)
	if err != nil {
		return false, err
	}
	err = p.passwords.verify(hash, password)
	if errors.Is(err, authprovider.ErrInvalidCredential) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (p *Provider) ChangeEmail(ctx context.Context, account authprovider.Handle, newEmail string) error {
	ctx = docstore.WithSystem(ctx)
	current, _, err := p.load(ctx, account.ID)
	if err != nil {
		return err
	}
	if current.Anonymous || current.Method != authprovider.MethodPassword {
		return fmt.Errorf("%w: account has no email credential", authprovider.ErrInvalidCredential)
	}
	newEmail = normalizeEmail(newEmail)
	if newEmail == current.Email {
		return nil
	}

	err = p.store.Batch().
		Write(docstore.AuthEmails().Child(newEmail), docstore.Document{fieldAccountID: current.ID}, docstore.MustNotExist).
		Delete(docstore.AuthEmails().Child(current.Email)).
		WriteMerge(docstore.AuthAccounts().Child(current.ID), docstore.Document{fieldEmail: newEmail}, docstore.MustExist).
		Commit(ctx)
	if err != nil {
		return emailConflict(err)
	}

	current.Email = newEmail
	p.emit(authprovider.EventEmailChanged, &current)
	return nil
}

func (p *Provider) ChangePassword(ctx context.Context, account authprovider.Handle, newPassword string) error {
	ctx = docstore.WithSystem(ctx)
	current, _, err := p.load(ctx, account.ID)
	if err != nil {
		return err
	}
	if current.Method != authprovider.MethodPassword {
		return fmt.Errorf("%w: account has no password credential", authprovider.ErrInvalidCredential)
	}
	hash, err := p.passwords.hash(newPassword)
	if err != nil {
		return err
	}
	return p.store.Batch().
		WriteMerge(docstore.AuthAccounts().Child(current.ID), docstore.Document{fieldPasswordHash: hash}, docstore.MustExist).
		Commit(ctx)
}

func (p *Provider) SignOut(_ context.Context, _ authprovider.Handle) error {
	p.emit(authprovider.EventSignedOut, nil)
	return nil
}

func (p *Provider) Lookup(ctx context.Context, accountID string) (authprovider.Handle, error) {
	h, _, err := p.load(docstore.WithSystem(ctx), accountID)
	return h, err
}

func (p *Provider) OnAccountChanged(listener func(authprovider.AccountEvent)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = listener
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.listeners, id)
			p.mu.Unlock()
		})
	}
}

func (p *Provider) emit(kind authprovider.EventKind, h *authprovider.Handle) {
	p.mu.Lock()
	listeners := make([]func(authprovider.AccountEvent), 0, len(p.listeners))
	for _, l := range p.listeners {
		listeners = append(listeners, l)
	}
	p.mu.Unlock()

	var account *authprovider.Handle
	if h != nil {
		cp := *h
		account = &cp
	}
	for _, l := range listeners {
		l(authprovider.AccountEvent{Kind: kind, Account: account})
	}
}

func (p *Provider) accountForEmail(ctx context.Context, email string) (string, error) {
	if email == "" {
		return "", authprovider.ErrInvalidCredential
	}
	doc, ok, err := p.store.Read(ctx, docstore.AuthEmails().Child(email))
	if err != nil {
		return "", err
	}
	if !ok {
		return "", authprovider.ErrInvalidCredential
	}
	return core.StringField(doc, fieldAccountID), nil
}

func (p *Provider) load(ctx context.Context, id string) (authprovider.Handle, string, error) {
	if id == "" {
		return authprovider.Handle{}, "", authprovider.ErrNoAccount
	}
	doc, ok, err := p.store.Read(ctx, docstore.AuthAccounts().Child(id))
	if err != nil {
		return authprovider.Handle{}, "", err
	}
	if !ok {
		return authprovider.Handle{}, "", fmt.Errorf("%w: %s", authprovider.ErrNoAccount, id)
	}
	anonymous, _ := doc[fieldAnonymous].(bool)
	h := authprovider.Handle{
		ID:        id,
		Email:     core.StringField(doc, fieldEmail),
		Anonymous: anonymous,
		Method:    core.StringField(doc, fieldMethod),
	}
	return h, core.StringField(doc, fieldPasswordHash), nil
}

func accountFields(h authprovider.Handle, hash string) docstore.Document {
	return docstore.Document{
		fieldEmail:        h.Email,
		fieldPasswordHash: hash,
		fieldAnonymous:    h.Anonymous,
		fieldMethod:       h.Method,
		fieldCreatedAt:    docstore.ServerTimestamp,
	}
}

func emailConflict(err error) error {
	if errors.Is(err, docstore.ErrAlreadyExists) {
		return authprovider.ErrEmailInUse
	}
	return err
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
