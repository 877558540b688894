package apperror

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorsIs(t *testing.T) {
	storeErr := errors.New("connection reset")

	tests := []struct {
		name      string
		err       error
		target    error
		wantMatch bool
	}{
		{"InvalidAmount is a validation error", InvalidAmount("-1"), ErrValidation, true},
		{"InvalidAmount matches its own kind", InvalidAmount("abc"), ErrInvalidAmount, true},
		{"UsernameTaken is an identity error", UsernameTaken("alice"), ErrIdentity, true},
		{"NoOpChange is an identity error", NoOpChange("alice"), ErrIdentity, true},
		{"UsernameTaken is not NoOpChange", UsernameTaken("alice"), ErrNoOpChange, false},
		{"NotFound is not validation", NotFound("expense", "x"), ErrValidation, false},
		{"StoreUnavailable matches kind", StoreUnavailable("add", storeErr), ErrStoreUnavailable, true},
		{"StoreUnavailable matches cause", StoreUnavailable("add", storeErr), storeErr, true},
		{"wrapped PermissionDenied", fmt.Errorf("restore: %w", PermissionDenied("restore", nil)), ErrPermissionDenied, true},
		{"InvalidCredential keeps cause", InvalidCredential(storeErr), storeErr, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errors.Is(tt.err, tt.target); got != tt.wantMatch {
				t.Errorf("errors.Is(%v, %v) = %v, want %v", tt.err, tt.target, got, tt.wantMatch)
			}
		})
	}
}

func TestCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{InvalidAmount("0"), "invalid_amount"},
		{ValidationFailed("date", "date is required"), "validation_error"},
		{UsernameTaken("bob"), "username_taken"},
		{UsernameNotFound("bob"), "username_not_found"},
		{InvalidCredential(nil), "invalid_credential"},
		{IdentityConflict("already permanent"), "identity_conflict"},
		{NoOpChange("bob"), "no_op_change"},
		{NotFound("expense", "1"), "not_found"},
		{PermissionDenied("read", nil), "permission_denied"},
		{PartialCommit("half done", nil), "partial_commit"},
		{StoreUnavailable("read", nil), "store_unavailable"},
		{Unauthenticated(), "unauthenticated"},
		{errors.New("boom"), "internal_error"},
	}
	for _, tt := range tests {
		if got := Code(tt.err); got != tt.want {
			t.Errorf("Code(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestValidationFailedField(t *testing.T) {
	err := ValidationFailed("card", "unknown card")
	if err.Field != "card" {
		t.Errorf("Field = %q, want %q", err.Field, "card")
	}
	if err.Error() != "unknown card" {
		t.Errorf("Error() = %q, want %q", err.Error(), "unknown card")
	}
}
