package core

import (
	"fmt"
	"strings"
	"time"

	"binledger/internal/apperror"
)

const (
	minUsernameLength = 3
	maxUsernameLength = 32
	guestPrefix       = "Guest"
)

type (
	// Account is the authenticated principal as the services see it.
	Account struct {
		ID              string `json:"id"`
		IsAnonymous     bool   `json:"isAnonymous"`
		CredentialEmail string `json:"credentialEmail,omitempty"`
		Username        string `json:"username"`
	}

	// UsernameRecord is stored at usernames/{lowercase}. Its existence is the
	// uniqueness lock for the name. A record with Pending set is a
	// reservation made by an unfinished username change; a record with
	// PendingUsername set is the old name of such a change.
	UsernameRecord struct {
		AccountID       string
		CredentialEmail string
		Username        string
		Pending         bool
		PendingUsername string
		PendingEmail    string
	}

	// Profile is the per-account settings document.
	Profile struct {
		CustomUsername string          `json:"customUsername"`
		CardNames      map[Card]string `json:"cardNames"`
	}

	// UsernameChange marks an in-flight username change so that a crash
	// between steps can be resumed or rolled back on the next login.
	UsernameChange struct {
		OperationID string
		OldUsername string
		NewUsername string
		OldEmail    string
		NewEmail    string
		StartedAt   time.Time
	}
)

// NormalizeUsername returns the case-folded key a username is stored under.
func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func ValidateUsername(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return apperror.ValidationFailed("username", "username is required")
	}
	if len(s) < minUsernameLength || len(s) > maxUsernameLength {
		return apperror.ValidationFailed("username",
			fmt.Sprintf("username must be between %d and %d characters", minUsernameLength, maxUsernameLength))
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
		default:
			return apperror.ValidationFailed("username", "username may only contain letters, digits, '.', '_' and '-'")
		}
	}
	return nil
}

// CredentialEmail synthesizes the email the authentication provider knows
// the account by.
func CredentialEmail(username, domain string) string {
	return NormalizeUsername(username) + "@" + strings.ToLower(domain)
}

// GuestLabel is the display name of an anonymous account.
func GuestLabel(accountID string) string {
	if len(accountID) > 6 {
		return guestPrefix + "-" + accountID[len(accountID)-6:]
	}
	if accountID == "" {
		return guestPrefix
	}
	return guestPrefix + "-" + accountID
}

// CardName returns the display name of a card, falling back to its default label.
func (p Profile) CardName(c Card) string {
	if name := strings.TrimSpace(p.CardNames[c]); name != "" {
		return name
	}
	return c.DefaultLabel()
}

// WithDefaults fills unnamed cards from defaults.
func (p Profile) WithDefaults(defaults map[Card]string) Profile {
	names := make(map[Card]string, len(Cards()))
	for _, c := range Cards() {
		switch {
		case strings.TrimSpace(p.CardNames[c]) != "":
			names[c] = p.CardNames[c]
		case strings.TrimSpace(defaults[c]) != "":
			names[c] = defaults[c]
		default:
			names[c] = c.DefaultLabel()
		}
	}
	p.CardNames = names
	return p
}
