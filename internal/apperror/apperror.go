// Package apperror defines the error taxonomy shared by the identity and
// ledger services. Callers match on the sentinel values with errors.Is; the
// concrete *AppError carries a human-readable message and, for validation
// failures, the offending field.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrValidation    = errors.New("validation error")
	ErrInvalidAmount = fmt.Errorf("%w: invalid amount", ErrValidation)

	ErrIdentity          = errors.New("identity error")
	ErrUsernameTaken     = fmt.Errorf("%w: username taken", ErrIdentity)
	ErrUsernameNotFound  = fmt.Errorf("%w: username not found", ErrIdentity)
	ErrInvalidCredential = fmt.Errorf("%w: invalid credential", ErrIdentity)
	ErrIdentityConflict  = fmt.Errorf("%w: identity conflict", ErrIdentity)
	ErrNoOpChange        = fmt.Errorf("%w: no-op change", ErrIdentity)

	ErrNotFound         = errors.New("not found")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrPermissionDenied = errors.New("permission denied")
	ErrPartialCommit    = errors.New("partial commit")
	ErrUnauthenticated  = errors.New("unauthenticated")
)

type AppError struct {
	Err     error  // sentinel kind
	Cause   error  // underlying collaborator error, may be nil
	Message string // human-readable message
	Field   string // optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

// Unwrap exposes both the kind and the cause so errors.Is matches either.
func (e *AppError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

// Code returns a stable machine-readable name for the error kind.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrUsernameTaken):
		return "username_taken"
	case errors.Is(err, ErrUsernameNotFound):
		return "username_not_found"
	case errors.Is(err, ErrInvalidCredential):
		return "invalid_credential"
	case errors.Is(err, ErrIdentityConflict):
		return "identity_conflict"
	case errors.Is(err, ErrNoOpChange):
		return "no_op_change"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrPartialCommit):
		return "partial_commit"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	default:
		return "internal_error"
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{Err: ErrValidation, Message: message, Field: field}
}

func InvalidAmount(value string) *AppError {
	return &AppError{
		Err:     ErrInvalidAmount,
		Message: fmt.Sprintf("amount %q must be a number greater than zero", value),
		Field:   "amount",
	}
}

func UsernameTaken(username string) *AppError {
	return &AppError{
		Err:     ErrUsernameTaken,
		Message: fmt.Sprintf("username %q is already taken", username),
		Field:   "username",
	}
}

func UsernameNotFound(username string) *AppError {
	return &AppError{
		Err:     ErrUsernameNotFound,
		Message: fmt.Sprintf("username %q is not registered", username),
		Field:   "username",
	}
}

func InvalidCredential(cause error) *AppError {
	return &AppError{Err: ErrInvalidCredential, Cause: cause, Message: "invalid username or password", Field: "password"}
}

func IdentityConflict(message string) *AppError {
	return &AppError{Err: ErrIdentityConflict, Message: message}
}

func NoOpChange(username string) *AppError {
	return &AppError{
		Err:     ErrNoOpChange,
		Message: fmt.Sprintf("username is already %q", username),
		Field:   "username",
	}
}

func NotFound(resource, id string) *AppError {
	return &AppError{Err: ErrNotFound, Message: fmt.Sprintf("%s not found with id %s", resource, id)}
}

func StoreUnavailable(op string, cause error) *AppError {
	return &AppError{Err: ErrStoreUnavailable, Cause: cause, Message: fmt.Sprintf("%s: document store unavailable", op)}
}

func PermissionDenied(op string, cause error) *AppError {
	return &AppError{Err: ErrPermissionDenied, Cause: cause, Message: fmt.Sprintf("%s: permission denied", op)}
}

// PartialCommit reports a multi-step write that stopped midway. The message
// should tell the caller how the inconsistency will be resolved.
func PartialCommit(message string, cause error) *AppError {
	return &AppError{Err: ErrPartialCommit, Cause: cause, Message: message}
}

func Unauthenticated() *AppError {
	return &AppError{Err: ErrUnauthenticated, Message: "sign in required"}
}
