package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"binledger/internal/apperror"
	"binledger/internal/authprovider"
	"binledger/internal/cache"
	"binledger/internal/core"
	"binledger/internal/docstore"
	applog "binledger/internal/log"
	"binledger/internal/metrics"

	"github.com/google/uuid"
)

const (
	DefaultCredentialDomain = "users.binledger.local"
	maxCardNameLength       = 40
)

// IdentityConfig carries the settings the identity service would otherwise
// read from process-wide state.
type IdentityConfig struct {
	// CredentialDomain is appended to usernames to form credential emails.
	CredentialDomain string
	// CardNames are the display names of cards the account has not named.
	CardNames map[core.Card]string
}

// IdentityService maps usernames to authentication credentials. Usernames
// are unique ignoring case; the usernames/{lowercase} document is the lock.
type IdentityService struct {
	store    docstore.Store
	auth     authprovider.Provider
	cfg      IdentityConfig
	profiles cache.Cache[core.Profile]
	metrics  *metrics.Metrics
	now      func() time.Time
	newOpID  func() string
}

func NewIdentityService(store docstore.Store, auth authprovider.Provider, cfg IdentityConfig, profiles cache.Cache[core.Profile], m *metrics.Metrics) *IdentityService {
	if cfg.CredentialDomain == "" {
		cfg.CredentialDomain = DefaultCredentialDomain
	}
	if profiles == nil {
		profiles = cache.NewLRUCache[core.Profile](1000, 10*time.Minute)
	}
	return &IdentityService{
		store:    store,
		auth:     auth,
		cfg:      cfg,
		profiles: profiles,
		metrics:  m,
		now:      time.Now,
		newOpID:  uuid.NewString,
	}
}

// RegisterUsername gives current (an anonymous account, or nil for a fresh
// sign-up) a username and password. An anonymous account keeps its id, and
// with it every expense it already recorded.
func (s *IdentityService) RegisterUsername(ctx context.Context, current *core.Account, username, password string) (acct core.Account, err error) {
	defer func() { s.metrics.ObserveIdentity("register", err) }()

	username = strings.TrimSpace(username)
	if err := core.ValidateUsername(username); err != nil {
		return core.Account{}, err
	}
	if err := s.auth.ValidatePassword(password); err != nil {
		return core.Account{}, apperror.ValidationFailed("password", err.Error())
	}
	if current != nil && !current.IsAnonymous {
		return core.Account{}, apperror.IdentityConflict("account already has a username")
	}

	key := core.NormalizeUsername(username)
	if _, exists, err := s.readRecord(ctx, key); err != nil {
		return core.Account{}, err
	} else if exists {
		return core.Account{}, apperror.UsernameTaken(username)
	}

	email := core.CredentialEmail(username, s.cfg.CredentialDomain)
	var h authprovider.Handle
	if current != nil {
		h, err = s.auth.LinkCredential(ctx, authprovider.Handle{ID: current.ID, Anonymous: true}, email, password)
	} else {
		h, err = s.auth.CreateAccount(ctx, email, password)
	}
	if errors.Is(err, authprovider.ErrEmailInUse) {
		return core.Account{}, apperror.UsernameTaken(username)
	}
	if err != nil {
		return core.Account{}, providerError("create credential", err)
	}

	actx := docstore.WithActor(ctx, h.ID)
	record := core.UsernameRecord{AccountID: h.ID, CredentialEmail: h.Email, Username: username}
	err = s.store.Batch().
		Write(docstore.UsernamePath(key), core.UsernameRecordFields(record), docstore.MustNotExist).
		WriteMerge(docstore.ProfilePath(h.ID), docstore.Document{core.FieldCustomUsername: username}).
		Commit(actx)
	if errors.Is(err, docstore.ErrAlreadyExists) {
		slog.WarnContext(ctx, "Username claimed concurrently after credential creation",
			applog.FieldAccountID, h.ID, applog.FieldUsername, username)
		return core.Account{}, apperror.UsernameTaken(username)
	}
	if err != nil {
		return core.Account{}, storeError("register username", err)
	}
	s.profiles.Delete(h.ID)

	slog.InfoContext(ctx, "Username registered",
		applog.FieldAccountID, h.ID,
		applog.FieldUsername, username,
		"upgraded", current != nil)
	return core.Account{ID: h.ID, CredentialEmail: h.Email, Username: username}, nil
}

// Login signs in by username. A username change left unfinished by a crash
// is resolved here, whichever of the two names is used.
func (s *IdentityService) Login(ctx context.Context, username, password string) (acct core.Account, err error) {
	defer func() { s.metrics.ObserveIdentity("login", err) }()

	key := core.NormalizeUsername(username)
	if key == "" {
		return core.Account{}, apperror.ValidationFailed("username", "username is required")
	}
	rec, exists, err := s.readRecord(ctx, key)
	if err != nil {
		return core.Account{}, err
	}
	if !exists {
		return core.Account{}, apperror.UsernameNotFound(username)
	}

	if rec.Pending || rec.PendingUsername != "" {
		return s.loginPending(ctx, rec, password)
	}

	h, err := s.auth.SignIn(ctx, rec.CredentialEmail, password)
	if err != nil {
		return core.Account{}, providerError("sign in", err)
	}
	if h.ID != rec.AccountID {
		return core.Account{}, apperror.IdentityConflict("username record points at another account")
	}

	slog.InfoContext(ctx, "User logged in", applog.FieldAccountID, h.ID, applog.FieldUsername, rec.Username)
	return core.Account{ID: h.ID, CredentialEmail: h.Email, Username: rec.Username}, nil
}

// loginPending signs in through either side of an unfinished change and
// then finishes it: forward when the credential already carries the new
// email, backward otherwise.
func (s *IdentityService) loginPending(ctx context.Context, rec core.UsernameRecord, password string) (core.Account, error) {
	change := changeFromRecord(rec)

	h, err := s.signInAny(ctx, password, change.NewEmail, change.OldEmail)
	if err != nil {
		return core.Account{}, providerError("sign in", err)
	}
	if h.ID != rec.AccountID {
		return core.Account{}, apperror.IdentityConflict("username record points at another account")
	}

	actx := docstore.WithActor(ctx, h.ID)
	if marker, ok, err := s.readMarker(actx, h.ID); err != nil {
		return core.Account{}, err
	} else if ok {
		change = marker
	}

	username := change.OldUsername
	if h.Email == change.NewEmail {
		err = s.finalize(actx, h.ID, change)
		username = change.NewUsername
	} else {
		err = s.rollback(actx, h.ID, change)
	}
	if err != nil {
		return core.Account{}, storeError("resolve username change", err)
	}

	slog.InfoContext(ctx, "Resolved unfinished username change",
		applog.FieldAccountID, h.ID,
		applog.FieldOperationID, change.OperationID,
		applog.FieldUsername, username,
		"completed", username == change.NewUsername)
	return core.Account{ID: h.ID, CredentialEmail: h.Email, Username: username}, nil
}

func (s *IdentityService) signInAny(ctx context.Context, password string, emails ...string) (authprovider.Handle, error) {
	err := error(authprovider.ErrInvalidCredential)
	tried := make(map[string]bool, len(emails))
	for _, email := range emails {
		if email == "" || tried[email] {
			continue
		}
		tried[email] = true
		var h authprovider.Handle
		h, err = s.auth.SignIn(ctx, email, password)
		if err == nil {
			return h, nil
		}
		if !errors.Is(err, authprovider.ErrInvalidCredential) {
			return authprovider.Handle{}, err
		}
	}
	return authprovider.Handle{}, err
}

// LoginAnonymous starts a guest session. The guest can later keep its data
// by registering a username.
func (s *IdentityService) LoginAnonymous(ctx context.Context) (acct core.Account, err error) {
	defer func() { s.metrics.ObserveIdentity("login_anonymous", err) }()

	h, err := s.auth.SignInAnonymous(ctx)
	if err != nil {
		return core.Account{}, providerError("anonymous sign in", err)
	}
	label := core.GuestLabel(h.ID)
	actx := docstore.WithActor(ctx, h.ID)
	if err := s.store.WriteMerge(actx, docstore.ProfilePath(h.ID), docstore.Document{core.FieldCustomUsername: label}); err != nil {
		return core.Account{}, storeError("create guest profile", err)
	}

	slog.InfoContext(ctx, "Guest logged in", applog.FieldAccountID, h.ID)
	return core.Account{ID: h.ID, IsAnonymous: true, Username: label}, nil
}

// LoginExternal signs in with an identity asserted by an OAuth provider.
// Such accounts have a display name but no username record.
func (s *IdentityService) LoginExternal(ctx context.Context, provider, subject, email, displayName string) (acct core.Account, err error) {
	defer func() { s.metrics.ObserveIdentity("login_external", err) }()

	h, err := s.auth.SignInExternal(ctx, provider, subject, email)
	if err != nil {
		return core.Account{}, providerError("external sign in", err)
	}
	profile, err := s.Profile(docstore.WithActor(ctx, h.ID), h.ID)
	if err != nil {
		return core.Account{}, err
	}
	name := profile.CustomUsername
	if name == "" {
		name = strings.TrimSpace(displayName)
		if name == "" {
			name = core.GuestLabel(h.ID)
		}
		err := s.store.WriteMerge(docstore.WithActor(ctx, h.ID), docstore.ProfilePath(h.ID),
			docstore.Document{core.FieldCustomUsername: name})
		if err != nil {
			return core.Account{}, storeError("create external profile", err)
		}
		s.profiles.Delete(h.ID)
	}

	slog.InfoContext(ctx, "User logged in", applog.FieldAccountID, h.ID, "provider", provider)
	return core.Account{ID: h.ID, CredentialEmail: h.Email, Username: name}, nil
}

// ChangeUsername renames account after confirming its current password.
//
// The change spans the store and the authentication provider, which cannot
// share a transaction. A marker document records the change before the
// credential email moves, so an interruption is resolved by the next Login.
func (s *IdentityService) ChangeUsername(ctx context.Context, account core.Account, newUsername, currentPassword string) (acct core.Account, err error) {
	defer func() { s.metrics.ObserveIdentity("change_username", err) }()

	if account.IsAnonymous {
		return core.Account{}, apperror.IdentityConflict("guest accounts have no username to change")
	}
	newUsername = strings.TrimSpace(newUsername)
	if core.NormalizeUsername(newUsername) == core.NormalizeUsername(account.Username) {
		return core.Account{}, apperror.NoOpChange(newUsername)
	}
	if err := core.ValidateUsername(newUsername); err != nil {
		return core.Account{}, err
	}

	actx := docstore.WithActor(ctx, account.ID)
	oldKey, newKey := core.NormalizeUsername(account.Username), core.NormalizeUsername(newUsername)

	existing, taken, err := s.readRecord(ctx, newKey)
	if err != nil {
		return core.Account{}, err
	}
	resuming := taken && existing.Pending && existing.AccountID == account.ID
	if taken && !resuming {
		return core.Account{}, apperror.UsernameTaken(newUsername)
	}

	h, err := s.auth.Lookup(ctx, account.ID)
	if err != nil {
		return core.Account{}, providerError("look up account", err)
	}
	ok, err := s.auth.Reauthenticate(ctx, h, currentPassword)
	if err != nil {
		return core.Account{}, providerError("reauthenticate", err)
	}
	if !ok {
		return core.Account{}, apperror.InvalidCredential(nil)
	}

	if resuming {
		return s.resumeChange(actx, h, existing)
	}

	old, exists, err := s.readRecord(ctx, oldKey)
	if err != nil {
		return core.Account{}, err
	}
	if !exists || old.AccountID != account.ID {
		return core.Account{}, apperror.IdentityConflict("account has no username record")
	}
	if old.PendingUsername != "" {
		return core.Account{}, apperror.IdentityConflict("another username change is still pending; log in again to resolve it")
	}

	change := core.UsernameChange{
		OperationID: s.newOpID(),
		OldUsername: old.Username,
		NewUsername: newUsername,
		OldEmail:    h.Email,
		NewEmail:    core.CredentialEmail(newUsername, s.cfg.CredentialDomain),
		StartedAt:   s.now().UTC(),
	}

	if err := s.reserve(actx, account.ID, change); err != nil {
		if errors.Is(err, docstore.ErrAlreadyExists) {
			return core.Account{}, apperror.UsernameTaken(newUsername)
		}
		return core.Account{}, storeError("reserve username", err)
	}

	if err := s.auth.ChangeEmail(ctx, h, change.NewEmail); err != nil {
		if rbErr := s.rollback(actx, account.ID, change); rbErr != nil {
			slog.ErrorContext(ctx, "Username change rollback failed",
				applog.FieldAccountID, account.ID,
				applog.FieldOperationID, change.OperationID,
				applog.FieldError, rbErr)
			return core.Account{}, apperror.PartialCommit("username change could not be rolled back", errors.Join(err, rbErr))
		}
		if errors.Is(err, authprovider.ErrEmailInUse) {
			return core.Account{}, apperror.UsernameTaken(newUsername)
		}
		return core.Account{}, providerError("change credential email", err)
	}

	if err := s.finalize(actx, account.ID, change); err != nil {
		slog.ErrorContext(ctx, "Username change left pending",
			applog.FieldAccountID, account.ID,
			applog.FieldOperationID, change.OperationID,
			applog.FieldError, err)
		return core.Account{}, apperror.PartialCommit("username change is pending and will complete on next login", err)
	}

	slog.InfoContext(ctx, "Username changed",
		applog.FieldAccountID, account.ID,
		applog.FieldOperationID, change.OperationID,
		"old_username", change.OldUsername,
		applog.FieldUsername, change.NewUsername)
	return core.Account{ID: account.ID, CredentialEmail: change.NewEmail, Username: change.NewUsername}, nil
}

// resumeChange completes a change whose reservation already exists.
func (s *IdentityService) resumeChange(ctx context.Context, h authprovider.Handle, reservation core.UsernameRecord) (core.Account, error) {
	change := changeFromRecord(reservation)
	if marker, ok, err := s.readMarker(ctx, h.ID); err != nil {
		return core.Account{}, err
	} else if ok {
		change = marker
	}

	if h.Email != change.NewEmail {
		if err := s.auth.ChangeEmail(ctx, h, change.NewEmail); err != nil {
			return core.Account{}, providerError("change credential email", err)
		}
	}
	if err := s.finalize(ctx, h.ID, change); err != nil {
		return core.Account{}, apperror.PartialCommit("username change is pending and will complete on next login", err)
	}
	slog.InfoContext(ctx, "Resumed username change",
		applog.FieldAccountID, h.ID,
		applog.FieldOperationID, change.OperationID,
		applog.FieldUsername, change.NewUsername)
	return core.Account{ID: h.ID, CredentialEmail: change.NewEmail, Username: change.NewUsername}, nil
}

// reserve claims the new name, marks the old record and writes the marker,
// all in one batch.
func (s *IdentityService) reserve(ctx context.Context, accountID string, c core.UsernameChange) error {
	reservation := core.UsernameRecord{
		AccountID:       accountID,
		CredentialEmail: c.NewEmail,
		Username:        c.NewUsername,
		Pending:         true,
		PendingUsername: c.OldUsername,
		PendingEmail:    c.OldEmail,
	}
	return s.store.Batch().
		Write(docstore.UsernamePath(core.NormalizeUsername(c.NewUsername)), core.UsernameRecordFields(reservation), docstore.MustNotExist).
		WriteMerge(docstore.UsernamePath(core.NormalizeUsername(c.OldUsername)), docstore.Document{
			core.FieldPendingUsername: c.NewUsername,
			core.FieldPendingEmail:    c.NewEmail,
		}, docstore.MustExist).
		Write(docstore.UsernameChangePath(accountID), core.UsernameChangeFields(c)).
		Commit(ctx)
}

// finalize makes the new name permanent. Running it twice is harmless.
func (s *IdentityService) finalize(ctx context.Context, accountID string, c core.UsernameChange) error {
	record := core.UsernameRecord{AccountID: accountID, CredentialEmail: c.NewEmail, Username: c.NewUsername}
	err := s.store.Batch().
		Write(docstore.UsernamePath(core.NormalizeUsername(c.NewUsername)), core.UsernameRecordFields(record)).
		WriteMerge(docstore.ProfilePath(accountID), docstore.Document{core.FieldCustomUsername: c.NewUsername}).
		Delete(docstore.UsernamePath(core.NormalizeUsername(c.OldUsername))).
		Delete(docstore.UsernameChangePath(accountID)).
		Commit(ctx)
	if err == nil {
		s.profiles.Delete(accountID)
	}
	return err
}

// rollback restores the old name. The old record is rewritten whole so the
// pending fields disappear.
func (s *IdentityService) rollback(ctx context.Context, accountID string, c core.UsernameChange) error {
	record := core.UsernameRecord{AccountID: accountID, CredentialEmail: c.OldEmail, Username: c.OldUsername}
	return s.store.Batch().
		Write(docstore.UsernamePath(core.NormalizeUsername(c.OldUsername)), core.UsernameRecordFields(record)).
		Delete(docstore.UsernamePath(core.NormalizeUsername(c.NewUsername))).
		Delete(docstore.UsernameChangePath(accountID)).
		Commit(ctx)
}

// changeFromRecord rebuilds a change from either of its username records,
// for when the marker cannot be read.
func changeFromRecord(rec core.UsernameRecord) core.UsernameChange {
	if rec.Pending {
		return core.UsernameChange{
			OldUsername: rec.PendingUsername,
			OldEmail:    rec.PendingEmail,
			NewUsername: rec.Username,
			NewEmail:    rec.CredentialEmail,
		}
	}
	return core.UsernameChange{
		OldUsername: rec.Username,
		OldEmail:    rec.CredentialEmail,
		NewUsername: rec.PendingUsername,
		NewEmail:    rec.PendingEmail,
	}
}

// ChangePassword replaces the password after confirming the current one.
func (s *IdentityService) ChangePassword(ctx context.Context, account core.Account, currentPassword, newPassword string) (err error) {
	defer func() { s.metrics.ObserveIdentity("change_password", err) }()

	if account.IsAnonymous {
		return apperror.IdentityConflict("guest accounts have no password")
	}
	if err := s.auth.ValidatePassword(newPassword); err != nil {
		return apperror.ValidationFailed("newPassword", err.Error())
	}
	h, err := s.auth.Lookup(ctx, account.ID)
	if err != nil {
		return providerError("look up account", err)
	}
	ok, err := s.auth.Reauthenticate(ctx, h, currentPassword)
	if err != nil {
		return providerError("reauthenticate", err)
	}
	if !ok {
		return apperror.InvalidCredential(nil)
	}
	if err := s.auth.ChangePassword(ctx, h, newPassword); err != nil {
		return providerError("change password", err)
	}
	slog.InfoContext(ctx, "Password changed", applog.FieldAccountID, account.ID)
	return nil
}

// Account returns the current state of accountID for an authenticated
// session.
func (s *IdentityService) Account(ctx context.Context, accountID string) (core.Account, error) {
	h, err := s.auth.Lookup(ctx, accountID)
	if err != nil {
		return core.Account{}, providerError("look up account", err)
	}
	profile, err := s.Profile(docstore.WithActor(ctx, accountID), accountID)
	if err != nil {
		return core.Account{}, err
	}
	name := profile.CustomUsername
	if name == "" && h.Anonymous {
		name = core.GuestLabel(h.ID)
	}
	return core.Account{ID: h.ID, IsAnonymous: h.Anonymous, CredentialEmail: h.Email, Username: name}, nil
}

// Profile returns the settings of accountID with unnamed cards filled from
// the configured defaults.
func (s *IdentityService) Profile(ctx context.Context, accountID string) (core.Profile, error) {
	if p, ok := s.profiles.Get(accountID); ok {
		return p, nil
	}
	doc, _, err := s.store.Read(ctx, docstore.ProfilePath(accountID))
	if err != nil {
		return core.Profile{}, storeError("read profile", err)
	}
	p := core.ProfileFromDocument(doc).WithDefaults(s.cfg.CardNames)
	s.profiles.Set(accountID, p)
	return p, nil
}

// SetCardNames renames cards. An empty name restores the default.
func (s *IdentityService) SetCardNames(ctx context.Context, accountID string, names map[core.Card]string) (core.Profile, error) {
	update := make(map[string]any, len(names))
	for c, name := range names {
		if !c.Valid() {
			return core.Profile{}, apperror.ValidationFailed("cardNames", fmt.Sprintf("unknown card %q", c))
		}
		name = strings.TrimSpace(name)
		if len(name) > maxCardNameLength {
			return core.Profile{}, apperror.ValidationFailed("cardNames",
				fmt.Sprintf("card name too long (max %d characters)", maxCardNameLength))
		}
		update[string(c)] = name
	}
	if len(update) == 0 {
		return s.Profile(ctx, accountID)
	}

	err := s.store.WriteMerge(ctx, docstore.ProfilePath(accountID), docstore.Document{core.FieldCardNames: update})
	s.profiles.Delete(accountID)
	if err != nil {
		return core.Profile{}, storeError("update card names", err)
	}
	slog.InfoContext(ctx, "Card names updated", applog.FieldAccountID, accountID, applog.FieldCount, len(update))
	return s.Profile(ctx, accountID)
}

func (s *IdentityService) Logout(ctx context.Context, account core.Account) error {
	s.profiles.Delete(account.ID)
	if err := s.auth.SignOut(ctx, authprovider.Handle{ID: account.ID, Email: account.CredentialEmail, Anonymous: account.IsAnonymous}); err != nil {
		return providerError("sign out", err)
	}
	slog.InfoContext(ctx, "User logged out", applog.FieldAccountID, account.ID)
	return nil
}

func (s *IdentityService) readRecord(ctx context.Context, key string) (core.UsernameRecord, bool, error) {
	doc, ok, err := s.store.Read(ctx, docstore.UsernamePath(key))
	if err != nil {
		return core.UsernameRecord{}, false, storeError("read username", err)
	}
	if !ok {
		return core.UsernameRecord{}, false, nil
	}
	return core.UsernameRecordFromDocument(doc), true, nil
}

func (s *IdentityService) readMarker(ctx context.Context, accountID string) (core.UsernameChange, bool, error) {
	doc, ok, err := s.store.Read(ctx, docstore.UsernameChangePath(accountID))
	if err != nil {
		return core.UsernameChange{}, false, storeError("read username change marker", err)
	}
	if !ok {
		return core.UsernameChange{}, false, nil
	}
	return core.UsernameChangeFromDocument(doc), true, nil
}
