// Package auth issues and verifies the session tokens of the HTTP API and
// runs the GitHub OAuth sign-in flow.
//
// A session token is an HS256 JWT whose subject is the account id. It is
// carried either in the "session" HttpOnly cookie or as a Bearer token.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "binledger"

var ErrInvalidToken = errors.New("auth: invalid token")

type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenService(secret string, ttl time.Duration) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	if ttl <= 0 {
		return nil, errors.New("auth: token TTL must be positive")
	}
	return &TokenService{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

type claims struct {
	jwt.RegisteredClaims
	Anonymous bool `json:"anon,omitempty"`
}

// Session is what a valid token asserts.
type Session struct {
	AccountID string
	Anonymous bool
	ExpiresAt time.Time
}

func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Generate signs a token for accountID valid for the configured TTL.
func (s *TokenService) Generate(accountID string, anonymous bool) (string, error) {
	return s.GenerateWithDuration(accountID, anonymous, s.ttl)
}

func (s *TokenService) GenerateWithDuration(accountID string, anonymous bool, d time.Duration) (string, error) {
	if accountID == "" {
		return "", errors.New("auth: empty subject")
	}
	now := s.now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(d)),
			Issuer:    issuer,
		},
		Anonymous: anonymous,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// Validate verifies signature, algorithm, issuer and expiry.
func (s *TokenService) Validate(tokenStr string) (Session, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Session{}, fmt.Errorf("%w: token expired", ErrInvalidToken)
		}
		return Session{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return Session{}, fmt.Errorf("%w: invalid claims", ErrInvalidToken)
	}
	if c.Subject == "" {
		return Session{}, fmt.Errorf("%w: token has no subject", ErrInvalidToken)
	}

	return Session{
		AccountID: c.Subject,
		Anonymous: c.Anonymous,
		ExpiresAt: c.ExpiresAt.Time,
	}, nil
}
