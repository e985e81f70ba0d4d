// Package ports defines interfaces (hexagonal ports) consumed by the session service.
// Implementations live in internal/adapters; orchestration in internal/service.
package ports

import (
	"context"
	"errors"

	domainsession "github.com/target/dicom-portal/internal/domain/session"
)

// ErrStorageKeyNotFound is returned by ClientStorage.Get for absent keys.
var ErrStorageKeyNotFound = errors.New("storage key not found")

// AuthAPI is the backend's session-issuing surface.
// Implementations carry cookies between calls the way a browser would.
type AuthAPI interface {
	// Login exchanges credentials for a user and token pair (POST /auth/login).
	Login(ctx context.Context, creds domainsession.Credentials) (domainsession.AuthResult, error)

	// Refresh exchanges the long-lived session cookie for a fresh token pair (POST /auth/refresh).
	// csrfToken is sent as X-CSRF-Token when non-empty.
	Refresh(ctx context.Context, csrfToken string) (domainsession.AuthResult, error)

	// Logout revokes the server-side session (POST /auth/logout).
	Logout(ctx context.Context, csrfToken string) error

	// RecoverCSRFToken reads the CSRF token from the readable csrf cookie, if one survives.
	RecoverCSRFToken() (string, bool)

	// ForgetCookies drops every cookie held for the backend, in memory and persisted.
	ForgetCookies(ctx context.Context) error
}

// ClientStorage is durable key/value storage owned by the front end,
// the equivalent of a browser's local storage.
type ClientStorage interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}
