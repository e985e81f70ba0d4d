package httpx

import (
	"github.com/target/dicom-portal/internal/adapters/portalapi"
	domainsession "github.com/target/dicom-portal/internal/domain/session"
	"github.com/target/dicom-portal/internal/router"
)

// PageData is the common data every screen template receives.
type PageData struct {
	Title     string
	Screen    string
	CSRFToken string
	User      *domainsession.User
	View      domainsession.View
	// Error is an inline, user-facing message.
	Error string
	// Notice confirms the last form action.
	Notice string
}

// LoginPageData backs login.tmpl.
type LoginPageData struct {
	PageData
	Email string
}

// UserDashboardData backs user_dashboard.tmpl.
type UserDashboardData struct {
	PageData
	Query    string
	Patients []portalapi.Patient
}

// AdminDashboardData backs admin_dashboard.tmpl. A nil pointer means the panel failed to load.
type AdminDashboardData struct {
	PageData
	Users  []domainsession.User
	Groups []portalapi.Group
	Stats  *portalapi.Stats
	Health *portalapi.Health
}

var screenTitles = map[router.Screen]string{
	router.ScreenLoading:        "Chargement",
	router.ScreenLogin:          "Connexion",
	router.ScreenUserDashboard:  "Patients",
	router.ScreenAdminDashboard: "Administration",
}

func newPageData(screen router.Screen, snap domainsession.Session, csrf string) PageData {
	return PageData{
		Title:     screenTitles[screen],
		Screen:    screen.String(),
		CSRFToken: csrf,
		User:      snap.User,
		View:      snap.View,
	}
}
