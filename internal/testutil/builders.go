// Package testutil provides testing utilities and helpers for the portal front end.
package testutil

import (
	domainsession "github.com/target/dicom-portal/internal/domain/session"
)

// UserBuilder provides a fluent interface for building domain users in tests.
type UserBuilder struct {
	user domainsession.User
}

// NewUser creates a UserBuilder with sensible defaults (an active, ungrouped user).
func NewUser() *UserBuilder {
	return &UserBuilder{user: domainsession.User{
		ID:       1,
		Username: "user@example.com",
		Email:    "user@example.com",
		Name:     "Test User",
		Role:     domainsession.RoleUser,
		Status:   "active",
	}}
}

// WithID sets the user ID.
func (b *UserBuilder) WithID(id int64) *UserBuilder {
	b.user.ID = id
	return b
}

// WithEmail sets both the email and the username.
func (b *UserBuilder) WithEmail(email string) *UserBuilder {
	b.user.Email = email
	b.user.Username = email
	return b
}

// WithName sets the display name.
func (b *UserBuilder) WithName(name string) *UserBuilder {
	b.user.Name = name
	return b
}

// AsAdmin sets the admin role.
func (b *UserBuilder) AsAdmin() *UserBuilder {
	b.user.Role = domainsession.RoleAdmin
	return b
}

// WithGroup sets the group ID and name.
func (b *UserBuilder) WithGroup(id int64, name string) *UserBuilder {
	b.user.GroupID = Int64Ptr(id)
	b.user.GroupName = name
	return b
}

// Build returns the user.
func (b *UserBuilder) Build() domainsession.User {
	return b.user
}

// SessionFor returns an authenticated, settled session for user on view.
func SessionFor(user domainsession.User, view domainsession.View) domainsession.Session {
	return domainsession.Session{
		User:        &user,
		AccessToken: "access-test",
		CSRFToken:   "csrf-test",
		View:        view,
	}
}
