package local

import (
	"errors"
	"fmt"

	"binledger/internal/authprovider"

	"golang.org/x/crypto/bcrypt"
)

// maxPasswordBytes is bcrypt's input limit; longer inputs would be truncated.
const maxPasswordBytes = 72

// passwords hashes and verifies with bcrypt at a configurable cost, so
// tests can run at the minimum cost.
type passwords struct {
	cost      int
	minLength int
}

func (p passwords) validate(plaintext string) error {
	if len(plaintext) < p.minLength {
		return fmt.Errorf("%w: must be at least %d characters", authprovider.ErrWeakPassword, p.minLength)
	}
	if len(plaintext) > maxPasswordBytes {
		return fmt.Errorf("%w: must be %d bytes or fewer", authprovider.ErrWeakPassword, maxPasswordBytes)
	}
	return nil
}

func (p passwords) hash(plaintext string) (string, error) {
	if err := p.validate(plaintext); err != nil {
		return "", err
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}
	return string(hashed), nil
}

// verify returns ErrInvalidCredential on mismatch.
func (p passwords) verify(hash, plaintext string) error {
	if hash == "" {
		return authprovider.ErrInvalidCredential
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return authprovider.ErrInvalidCredential
		}
		return fmt.Errorf("auth: comparing password hash: %w", err)
	}
	return nil
}
