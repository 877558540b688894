package services

import (
	"errors"
	"fmt"

	"binledger/internal/apperror"
	"binledger/internal/authprovider"
	"binledger/internal/docstore"
)

// storeError translates a document store failure into the error taxonomy.
// Errors that already carry a taxonomy kind pass through unchanged.
func storeError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case apperror.Code(err) != "internal_error":
		return err
	case errors.Is(err, docstore.ErrUnavailable):
		return apperror.StoreUnavailable(op, err)
	case errors.Is(err, docstore.ErrPermissionDenied):
		return apperror.PermissionDenied(op, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// providerError translates an authentication provider failure.
func providerError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, authprovider.ErrInvalidCredential):
		return apperror.InvalidCredential(err)
	case errors.Is(err, authprovider.ErrWeakPassword):
		return apperror.ValidationFailed("password", err.Error())
	case errors.Is(err, authprovider.ErrAlreadyLinked):
		return apperror.IdentityConflict("account already has a permanent credential")
	case errors.Is(err, authprovider.ErrNoAccount):
		return apperror.Unauthenticated()
	default:
		return storeError(op, err)
	}
}
