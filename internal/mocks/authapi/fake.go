// Package authapi contains a hand-written, stateful stand-in for the backend's /auth endpoints.
// It keeps a cookie-like session the way a browser would, which generated mocks cannot.
package authapi

import (
	"context"
	"errors"
	"fmt"
	"sync"

	domainsession "github.com/target/dicom-portal/internal/domain/session"
	"github.com/target/dicom-portal/internal/ports"
)

var _ ports.AuthAPI = (*FakeAuthAPI)(nil)

// ErrRejected is returned when the fake backend answers with a non-2xx status.
var ErrRejected = errors.New("rejected by backend")

type account struct {
	password string
	user     domainsession.User
}

// FakeAuthAPI simulates the session-issuing endpoints plus the browser cookie jar.
type FakeAuthAPI struct {
	mu       sync.Mutex
	accounts map[string]*account
	// cookieUser is the account the refresh cookie belongs to; empty when no cookie.
	cookieUser string
	csrfCookie string
	issued     int

	refreshErr error
	calls      Calls

	// LoginErr and LogoutErr force failures; set them before the fake is shared.
	LoginErr  error
	LogoutErr error
	// RefreshGate, when set, blocks Refresh until it receives or the context ends.
	RefreshGate chan struct{}
}

// Calls records how the fake was used.
type Calls struct {
	Login           int
	Refresh         int
	Logout          int
	Forget          int
	LastRefreshCSRF string
	LastLogoutCSRF  string
}

// NewFakeAuthAPI creates an empty fake backend.
func NewFakeAuthAPI() *FakeAuthAPI {
	return &FakeAuthAPI{accounts: map[string]*account{}}
}

// AddUser registers an account.
func (f *FakeAuthAPI) AddUser(email, password string, user domainsession.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if user.Email == "" {
		user.Email = email
	}
	f.accounts[email] = &account{password: password, user: user}
}

// SetRole changes an account's role server-side, as an admin demotion would.
func (f *FakeAuthAPI) SetRole(email string, role domainsession.Role) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.accounts[email]; ok {
		a.user.Role = role
	}
}

// SeedCookie simulates a browser that still holds a session cookie for email.
func (f *FakeAuthAPI) SeedCookie(email, csrf string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cookieUser = email
	f.csrfCookie = csrf
}

// SetRefreshErr makes every following Refresh fail with err; nil restores normal behaviour.
func (f *FakeAuthAPI) SetRefreshErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshErr = err
}

// Calls returns a copy of the call log.
func (f *FakeAuthAPI) Calls() Calls {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// HasSessionCookie reports whether a refresh cookie is held.
func (f *FakeAuthAPI) HasSessionCookie() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cookieUser != ""
}

func (f *FakeAuthAPI) Login(_ context.Context, creds domainsession.Credentials) (domainsession.AuthResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls.Login++
	if f.LoginErr != nil {
		return domainsession.AuthResult{}, f.LoginErr
	}
	a, ok := f.accounts[creds.Email]
	if !ok || a.password != creds.Password {
		return domainsession.AuthResult{}, fmt.Errorf("login: %w", ErrRejected)
	}
	f.cookieUser = creds.Email
	return f.issueLocked(a.user, true), nil
}

func (f *FakeAuthAPI) Refresh(ctx context.Context, csrfToken string) (domainsession.AuthResult, error) {
	f.mu.Lock()
	f.calls.Refresh++
	f.calls.LastRefreshCSRF = csrfToken
	gate := f.RefreshGate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return domainsession.AuthResult{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refreshErr != nil {
		return domainsession.AuthResult{}, f.refreshErr
	}
	a, ok := f.accounts[f.cookieUser]
	if f.cookieUser == "" || !ok {
		return domainsession.AuthResult{}, fmt.Errorf("refresh: %w", ErrRejected)
	}
	return f.issueLocked(a.user, f.csrfCookie == ""), nil
}

func (f *FakeAuthAPI) Logout(_ context.Context, csrfToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls.Logout++
	f.calls.LastLogoutCSRF = csrfToken
	if f.LogoutErr != nil {
		return f.LogoutErr
	}
	f.cookieUser = ""
	f.csrfCookie = ""
	return nil
}

func (f *FakeAuthAPI) RecoverCSRFToken() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.csrfCookie, f.csrfCookie != ""
}

func (f *FakeAuthAPI) ForgetCookies(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls.Forget++
	f.cookieUser = ""
	f.csrfCookie = ""
	return nil
}

// issueLocked mints a token pair; the csrf cookie is reused unless rotate is set,
// matching a backend that keeps the existing csrf cookie on refresh.
func (f *FakeAuthAPI) issueLocked(user domainsession.User, rotate bool) domainsession.AuthResult {
	f.issued++
	if rotate || f.csrfCookie == "" {
		f.csrfCookie = fmt.Sprintf("csrf-%d", f.issued)
	}
	return domainsession.AuthResult{
		User:        user,
		AccessToken: fmt.Sprintf("access-%d", f.issued),
		CSRFToken:   f.csrfCookie,
	}
}
