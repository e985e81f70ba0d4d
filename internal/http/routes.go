// Package httpx is the local UI server: it renders the screen the router picks
// for the current session and exposes a small JSON surface for scripts.
package httpx

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Session    SessionService
	Resources  DashboardResources
	Metadata   MetadataService
	TemplateFS fs.FS

	CookieDomain string
	// LoginRate and LoginBurst bound login submissions. Zero disables throttling.
	LoginRate  float64
	LoginBurst int
	// MaxBodyBytes caps request bodies, DICOM uploads included. Zero disables the cap.
	MaxBodyBytes int64

	IsDev  bool         // Re-parse templates on every request
	Logger *slog.Logger // Logger for template and HTTP errors (optional)
}

// NewRouter creates the UI server's handler. State-changing routes sit behind
// the double-submit CSRF middleware.
func NewRouter(services RouterServices) (http.Handler, error) {
	if services.Session == nil {
		return nil, errors.New("session service is required")
	}
	if services.Resources == nil || services.Metadata == nil {
		return nil, errors.New("resources and metadata services are required")
	}
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}

	renderer, err := NewTemplateRenderer(TemplateRendererConfig{
		TemplateFS: services.TemplateFS,
		DevMode:    services.IsDev,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build template renderer: %w", err)
	}

	screens := &ScreenHandlers{
		Session:   services.Session,
		Resources: services.Resources,
		Renderer:  renderer,
		Logger:    logger,
	}
	api := &APIHandlers{
		Session:   services.Session,
		Resources: services.Resources,
		Metadata:  services.Metadata,
		Logger:    logger,
	}

	var limiter *rate.Limiter
	if services.LoginRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(services.LoginRate), max(services.LoginBurst, 1))
	}
	signedIn := RequireSession(services.Session)
	adminOnly := func(h http.HandlerFunc) http.Handler {
		return signedIn(RequireAdmin(services.Session)(h))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", healthHandler)
	mux.HandleFunc("HEAD /healthz", healthHandler)

	mux.HandleFunc("GET /{$}", screens.Index)
	mux.Handle("POST /login", LoginThrottle(limiter, logger)(http.HandlerFunc(screens.Login)))
	mux.HandleFunc("POST /logout", screens.Logout)
	mux.HandleFunc("POST /view", screens.SetView)
	mux.Handle("POST /patients/export", signedIn(http.HandlerFunc(screens.Export)))
	mux.Handle("POST /patients/import", signedIn(http.HandlerFunc(screens.ImportPatient)))
	mux.Handle("POST /patients/{id}", signedIn(http.HandlerFunc(screens.UpdatePatient)))
	mux.Handle("POST /patients/{id}/delete", signedIn(http.HandlerFunc(screens.DeletePatient)))
	mux.Handle("POST /profile", signedIn(http.HandlerFunc(screens.UpdateProfile)))

	mux.Handle("POST /admin/users", adminOnly(screens.CreateUser))
	mux.Handle("POST /admin/users/{id}/status", adminOnly(screens.SetUserStatus))
	mux.Handle("POST /admin/users/{id}/delete", adminOnly(screens.DeleteUser))
	mux.Handle("POST /admin/groups", adminOnly(screens.CreateGroup))
	mux.Handle("POST /admin/groups/{id}", adminOnly(screens.UpdateGroup))
	mux.Handle("POST /admin/groups/{id}/delete", adminOnly(screens.DeleteGroup))

	mux.HandleFunc("GET /api/session", api.SessionInfo)
	mux.Handle("GET /api/patients/{id}/images", signedIn(http.HandlerFunc(api.PatientImages)))
	mux.Handle("GET /instances/{id}/metadata", signedIn(http.HandlerFunc(api.InstanceMetadata)))

	protected := CSRFProtection(CSRFConfig{CookieDomain: services.CookieDomain})(mux)
	return LimitBody(services.MaxBodyBytes)(protected), nil
}
