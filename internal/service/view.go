package service

import (
	domainsession "github.com/target/dicom-portal/internal/domain/session"
)

// ViewResolution records which rule picked the post-refresh view.
type ViewResolution int

const (
	// ViewResolvedDefault: nothing usable was saved (absent or LOGIN); the role default applies.
	ViewResolvedDefault ViewResolution = iota
	// ViewResolvedRestored: the saved view is compatible with the role and is kept.
	ViewResolvedRestored
	// ViewResolvedDowngraded: the saved view needs a role the user no longer holds.
	ViewResolvedDowngraded
)

func (r ViewResolution) String() string {
	switch r {
	case ViewResolvedRestored:
		return "restored"
	case ViewResolvedDowngraded:
		return "downgraded"
	default:
		return "default"
	}
}

// ResolveView picks the view to show after a successful refresh.
// saved is the persisted view, or "" when absent or unparseable.
//
// USER_DASHBOARD is honored for every role; ADMIN_DASHBOARD only for admins.
func ResolveView(saved domainsession.View, role domainsession.Role) (domainsession.View, ViewResolution) {
	switch {
	case saved == "" || saved == domainsession.ViewLogin:
		return domainsession.DefaultViewFor(role), ViewResolvedDefault
	case saved == domainsession.ViewAdminDashboard && role == domainsession.RoleAdmin:
		return domainsession.ViewAdminDashboard, ViewResolvedRestored
	case saved == domainsession.ViewUserDashboard:
		return domainsession.ViewUserDashboard, ViewResolvedRestored
	default:
		return domainsession.DefaultViewFor(role), ViewResolvedDowngraded
	}
}
