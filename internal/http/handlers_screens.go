package httpx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/target/dicom-portal/internal/adapters/portalapi"
	domainsession "github.com/target/dicom-portal/internal/domain/session"
	"github.com/target/dicom-portal/internal/router"
	"golang.org/x/sync/errgroup"
)

const msgServiceUnavailable = "Le service est momentanément indisponible."

// ScreenHandlers renders the top-level screen chosen by the router and
// handles the forms those screens submit.
type ScreenHandlers struct {
	Session   SessionService
	Resources DashboardResources
	Renderer  *TemplateRenderer
	Logger    *slog.Logger
}

// Index renders whatever screen the current session routes to.
func (h *ScreenHandlers) Index(w http.ResponseWriter, r *http.Request) {
	h.renderCurrent(w, r, http.StatusOK, notices[r.URL.Query().Get("notice")], "")
}

// renderCurrent loads and renders the routed screen with an optional notice or error.
func (h *ScreenHandlers) renderCurrent(w http.ResponseWriter, r *http.Request, status int, notice, errMsg string) {
	snap := h.Session.Snapshot()
	screen := router.Route(snap)
	page := newPageData(screen, snap, GetCSRFToken(r))
	page.Notice = notice
	page.Error = errMsg

	switch screen {
	case router.ScreenLoading:
		h.render(w, status, screen, page)
	case router.ScreenLogin:
		h.render(w, status, screen, LoginPageData{PageData: page})
	case router.ScreenUserDashboard:
		h.render(w, status, screen, h.loadUserDashboard(r.Context(), page, r.URL.Query().Get("q")))
	case router.ScreenAdminDashboard:
		h.render(w, status, screen, h.loadAdminDashboard(r.Context(), page))
	default:
		http.NotFound(w, r)
	}
}

// Login submits the login form. A rejected login re-renders the form inline.
func (h *ScreenHandlers) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_form", Err: err})
		return
	}
	creds := domainsession.Credentials{
		Email:    strings.TrimSpace(r.PostFormValue("email")),
		Password: r.PostFormValue("password"),
	}

	err := h.Session.Login(r.Context(), creds)
	if err == nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	page := newPageData(router.ScreenLogin, h.Session.Snapshot(), GetCSRFToken(r))
	var authErr *domainsession.AuthenticationError
	if errors.As(err, &authErr) {
		page.Error = authErr.Message
	} else {
		page.Error = msgServiceUnavailable
	}
	h.render(w, http.StatusUnauthorized, router.ScreenLogin, LoginPageData{PageData: page, Email: creds.Email})
}

// Logout always succeeds locally and returns to the login screen.
func (h *ScreenHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	h.Session.Logout(r.Context())
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

type setViewRequest struct {
	View string `json:"view"`
}

// SetView selects a top-level screen. Accepts a form field or a JSON body.
func (h *ScreenHandlers) SetView(w http.ResponseWriter, r *http.Request) {
	wantsJSON := strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")

	var raw string
	if wantsJSON {
		var req setViewRequest
		if !DecodeJSON(w, r, &req) {
			return
		}
		raw = req.View
	} else {
		if err := r.ParseForm(); err != nil {
			WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_form", Err: err})
			return
		}
		raw = r.PostFormValue("view")
	}

	view, ok := domainsession.ParseView(raw)
	if !ok {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "invalid_view",
			Err:     fmt.Errorf("unknown view %q", raw),
		})
		return
	}
	if err := h.Session.SetView(r.Context(), view); err != nil {
		h.Logger.ErrorContext(r.Context(), "set view failed", "view", view, "error", err)
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "set_view_failed", Err: err})
		return
	}

	if wantsJSON {
		WriteJSON(w, http.StatusOK, newSessionResponse(h.Session.Snapshot()))
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// Export streams the ZIP archive for the selected patients.
func (h *ScreenHandlers) Export(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_form", Err: err})
		return
	}
	ids, err := parseIDs(r.PostForm["patient_id"])
	if err != nil || len(ids) == 0 {
		if err == nil {
			err = errors.New("select at least one patient")
		}
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_patient_ids", Err: err})
		return
	}

	out := &attachmentWriter{w: w, filename: "patients_export.zip"}
	n, err := h.Resources.ExportPatients(r.Context(), ids, out)
	if err != nil {
		h.Logger.ErrorContext(r.Context(), "export failed", "patients", len(ids), "error", err)
		if !out.started {
			writeUpstreamError(w, err)
		}
		return
	}
	h.Logger.InfoContext(r.Context(), "export streamed", "patients", len(ids), "bytes", n)
}

func (h *ScreenHandlers) loadUserDashboard(ctx context.Context, page PageData, query string) UserDashboardData {
	data := UserDashboardData{PageData: page, Query: strings.TrimSpace(query)}
	err := h.withSession(ctx, func(ctx context.Context) error {
		var err error
		if data.Query != "" {
			data.Patients, err = h.Resources.SearchPatients(ctx, data.Query)
		} else {
			data.Patients, err = h.Resources.ListPatients(ctx)
		}
		return err
	})
	if err != nil {
		h.Logger.WarnContext(ctx, "load patients failed", "error", err)
		if data.Error == "" {
			data.Error = userMessage(err)
		}
	}
	return data
}

// loadAdminDashboard fetches every panel concurrently. A failing panel is left
// empty and reported; the others still render.
func (h *ScreenHandlers) loadAdminDashboard(ctx context.Context, page PageData) AdminDashboardData {
	data := AdminDashboardData{PageData: page}
	err := h.withSession(ctx, func(ctx context.Context) error {
		var g errgroup.Group
		g.Go(func() error {
			users, err := h.Resources.ListUsers(ctx)
			data.Users = users
			return err
		})
		g.Go(func() error {
			groups, err := h.Resources.ListGroups(ctx)
			data.Groups = groups
			return err
		})
		g.Go(func() error {
			stats, err := h.Resources.Stats(ctx)
			if err == nil {
				data.Stats = &stats
			}
			return err
		})
		g.Go(func() error {
			health, err := h.Resources.Health(ctx)
			if err == nil {
				data.Health = &health
			}
			return err
		})
		return g.Wait()
	})
	if err != nil {
		h.Logger.WarnContext(ctx, "load admin dashboard failed", "error", err)
		if data.Error == "" {
			data.Error = userMessage(err)
		}
	}
	return data
}

// withSession runs fn, and when the backend rejects the access token, renews
// the session silently and tries once more.
func (h *ScreenHandlers) withSession(ctx context.Context, fn func(context.Context) error) error {
	err := fn(ctx)
	if !isUnauthorized(err) {
		return err
	}
	if snap := h.Session.Refresh(ctx, false); !snap.Authenticated() {
		return err
	}
	return fn(ctx)
}

func (h *ScreenHandlers) render(w http.ResponseWriter, status int, screen router.Screen, data any) {
	if err := h.Renderer.Render(w, status, screen.String(), data); err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// isUnauthorized reports a rejected access token. A wrong current password on
// the profile form is also a 401 but says nothing about the session.
func isUnauthorized(err error) bool {
	var apiErr *portalapi.APIError
	return errors.As(err, &apiErr) &&
		apiErr.StatusCode == http.StatusUnauthorized &&
		apiErr.Code != portalapi.CodeInvalidPassword
}

func userMessage(err error) string {
	var (
		apiErr  *portalapi.APIError
		formErr formError
	)
	switch {
	case errors.As(err, &formErr):
		return string(formErr)
	case errors.Is(err, portalapi.ErrNoAccessToken), isUnauthorized(err):
		return "Votre session a expiré. Veuillez vous reconnecter."
	case !errors.As(err, &apiErr) || apiErr.StatusCode >= http.StatusInternalServerError:
		return msgServiceUnavailable
	case apiErr.StatusCode == http.StatusForbidden:
		return "Accès refusé."
	case apiErr.StatusCode == http.StatusUnprocessableEntity:
		return "Les données saisies sont invalides."
	case apiErr.Detail != "" && apiErr.Detail != http.StatusText(apiErr.StatusCode):
		// The backend words its own 4xx details for end users.
		return apiErr.Detail
	default:
		return "La demande a été refusée."
	}
}

func parseIDs(raw []string) ([]int64, error) {
	ids := make([]int64, 0, len(raw))
	for _, v := range raw {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid patient id %q", v)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// attachmentWriter sets download headers on the first write, so an upstream
// failure before any byte arrives can still be reported as an error status.
type attachmentWriter struct {
	w        http.ResponseWriter
	filename string
	started  bool
}

func (a *attachmentWriter) Write(p []byte) (int, error) {
	if !a.started {
		a.started = true
		a.w.Header().Set("Content-Type", "application/zip")
		a.w.Header().Set("Content-Disposition", `attachment; filename="`+a.filename+`"`)
		a.w.WriteHeader(http.StatusOK)
	}
	return a.w.Write(p)
}
