package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrReauthenticationRequired means no cached or refreshable token exists
	// and the deployment's grant needs an interactive user-code flow that
	// cannot be started headlessly.
	ErrReauthenticationRequired = errors.New("reauthentication required: no refresh token and no interactive flow available")

	// ErrInvalidVerifier means the code verifier submitted at exchange time
	// does not match the one issued with the user code.
	ErrInvalidVerifier = errors.New("code verifier does not match the active user-code session")

	// ErrNoDeviceSession means a user-code operation was attempted with no
	// active session.
	ErrNoDeviceSession = errors.New("no active user-code session")

	// ErrUserCodeExpired means the user code reached its deadline before the
	// user authorized it.
	ErrUserCodeExpired = errors.New("user code expired before authorization")

	// ErrUserCodeDenied means the user rejected the authorization request.
	ErrUserCodeDenied = errors.New("user denied the authorization request")
)

// GrantError reports a rejected token-endpoint call for a specific grant.
type GrantError struct {
	Grant  string
	Status int
	Reason string
}

func (e *GrantError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s grant rejected with status %d", e.Grant, e.Status)
	}
	return fmt.Sprintf("%s grant rejected with status %d: %s", e.Grant, e.Status, e.Reason)
}
