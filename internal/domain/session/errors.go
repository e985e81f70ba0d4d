package session

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCredentials is matched by every login failure.
	ErrInvalidCredentials = errors.New("identifiants invalides")
	// ErrSessionExpired is matched by every refresh failure.
	ErrSessionExpired = errors.New("session expired")
)

// AuthenticationError reports a failed login. The session is left unchanged.
// Rejected credentials and unreachable backends both produce it; Cause tells them apart.
type AuthenticationError struct {
	Message string
	Cause   error
}

// NewAuthenticationError wraps cause with the user-facing login failure message.
func NewAuthenticationError(cause error) *AuthenticationError {
	return &AuthenticationError{Message: ErrInvalidCredentials.Error(), Cause: cause}
}

func (e *AuthenticationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap exposes the cause for errors.As.
func (e *AuthenticationError) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, ErrInvalidCredentials) match.
func (e *AuthenticationError) Is(target error) bool { return target == ErrInvalidCredentials }

// SessionExpiredError reports an unrecoverable refresh. The session has been reset.
type SessionExpiredError struct {
	Cause error
}

func (e *SessionExpiredError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", ErrSessionExpired.Error(), e.Cause)
	}
	return ErrSessionExpired.Error()
}

// Unwrap exposes the cause for errors.As.
func (e *SessionExpiredError) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, ErrSessionExpired) match.
func (e *SessionExpiredError) Is(target error) bool { return target == ErrSessionExpired }
