// Package session contains the domain types for the portal's client-side session:
// who is signed in, with which credentials, and which top-level screen is selected.
// It is pure and free of transport and storage concerns.
package session

import (
	"strings"
	"time"
)

// Role represents a portal account role as issued by the backend.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// View identifies the selected top-level screen.
// The string form is what gets persisted to client storage.
type View string

const (
	ViewLogin          View = "LOGIN"
	ViewUserDashboard  View = "USER_DASHBOARD"
	ViewAdminDashboard View = "ADMIN_DASHBOARD"
)

// ParseView converts a stored or submitted value into a View.
// Anything outside the three known values is reported as absent.
func ParseView(s string) (View, bool) {
	switch v := View(strings.TrimSpace(s)); v {
	case ViewLogin, ViewUserDashboard, ViewAdminDashboard:
		return v, true
	default:
		return "", false
	}
}

// String implements fmt.Stringer.
func (v View) String() string { return string(v) }

// DefaultViewFor returns the landing screen for a role.
func DefaultViewFor(role Role) View {
	if role == RoleAdmin {
		return ViewAdminDashboard
	}
	return ViewUserDashboard
}

// User is the signed-in account as seen by the front end.
type User struct {
	ID             int64
	Username       string
	Role           Role
	Name           string
	Email          string
	GroupID        *int64
	GroupName      string
	Status         string
	ExpirationDate *time.Time
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool { return u != nil && u.Role == RoleAdmin }

// Credentials is the login form payload.
type Credentials struct {
	Email    string
	Password string
}

// AuthResult is what the session-issuing endpoints return on success.
// AccessToken and CSRFToken are issued together.
type AuthResult struct {
	User        User
	AccessToken string
	CSRFToken   string
}

// Session is an immutable snapshot of the authentication state.
// Consumers read snapshots; only the session store produces them.
type Session struct {
	User        *User
	AccessToken string
	CSRFToken   string
	View        View
	IsLoading   bool
}

// Initial returns the state the application starts in, before the startup refresh resolves.
func Initial() Session {
	return Session{View: ViewLogin, IsLoading: true}
}

// LoggedOut returns the reset state used after logout or a failed refresh.
func LoggedOut() Session {
	return Session{View: ViewLogin}
}

// Authenticated reports whether a user is present.
func (s Session) Authenticated() bool { return s.User != nil }

// HasCredentials reports whether both tokens are held.
func (s Session) HasCredentials() bool { return s.AccessToken != "" && s.CSRFToken != "" }

// Clone returns a deep copy so callers cannot mutate shared state through the User pointer.
func (s Session) Clone() Session {
	if s.User == nil {
		return s
	}
	u := *s.User
	if s.User.GroupID != nil {
		id := *s.User.GroupID
		u.GroupID = &id
	}
	if s.User.ExpirationDate != nil {
		d := *s.User.ExpirationDate
		u.ExpirationDate = &d
	}
	s.User = &u
	return s
}
