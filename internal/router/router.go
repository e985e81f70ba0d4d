// Package router derives the screen to mount from a session snapshot.
// It holds no state; callers evaluate Route after every session change.
package router

import domainsession "github.com/target/dicom-portal/internal/domain/session"

// Screen is one of the mountable top-level screens.
type Screen int

const (
	ScreenLoading Screen = iota
	ScreenLogin
	ScreenUserDashboard
	ScreenAdminDashboard
)

func (s Screen) String() string {
	switch s {
	case ScreenLoading:
		return "loading"
	case ScreenLogin:
		return "login"
	case ScreenUserDashboard:
		return "user_dashboard"
	case ScreenAdminDashboard:
		return "admin_dashboard"
	default:
		return "unknown"
	}
}

// Route picks the screen for s. Loading takes precedence over everything, an absent
// user always gets Login, and the admin dashboard requires the admin role.
func Route(s domainsession.Session) Screen {
	switch {
	case s.IsLoading:
		return ScreenLoading
	case s.User == nil:
		return ScreenLogin
	case s.View == domainsession.ViewAdminDashboard && s.User.IsAdmin():
		return ScreenAdminDashboard
	default:
		return ScreenUserDashboard
	}
}
