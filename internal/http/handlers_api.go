package httpx

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/target/dicom-portal/internal/adapters/portalapi"
	domainsession "github.com/target/dicom-portal/internal/domain/session"
	"github.com/target/dicom-portal/internal/router"
	"github.com/target/dicom-portal/internal/service"
)

const healthResponse = `{"status":"ok"}`

// APIHandlers serves the JSON endpoints of the UI server.
type APIHandlers struct {
	Session   SessionService
	Resources DashboardResources
	Metadata  MetadataService
	Logger    *slog.Logger
}

type userResponse struct {
	ID             int64              `json:"id"`
	Username       string             `json:"username"`
	Role           domainsession.Role `json:"role"`
	Name           string             `json:"name"`
	Email          string             `json:"email"`
	GroupID        *int64             `json:"group_id,omitempty"`
	GroupName      string             `json:"group_name,omitempty"`
	Status         string             `json:"status,omitempty"`
	ExpirationDate *time.Time         `json:"expiration_date,omitempty"`
}

// sessionResponse never carries tokens.
type sessionResponse struct {
	Screen    string             `json:"screen"`
	View      domainsession.View `json:"view"`
	IsLoading bool               `json:"is_loading"`
	User      *userResponse      `json:"user"`
}

func newSessionResponse(snap domainsession.Session) sessionResponse {
	resp := sessionResponse{
		Screen:    router.Route(snap).String(),
		View:      snap.View,
		IsLoading: snap.IsLoading,
	}
	if u := snap.User; u != nil {
		resp.User = &userResponse{
			ID:             u.ID,
			Username:       u.Username,
			Role:           u.Role,
			Name:           u.Name,
			Email:          u.Email,
			GroupID:        u.GroupID,
			GroupName:      u.GroupName,
			Status:         u.Status,
			ExpirationDate: u.ExpirationDate,
		}
	}
	return resp
}

// SessionInfo reports the routed screen and signed-in user.
func (h *APIHandlers) SessionInfo(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, newSessionResponse(h.Session.Snapshot()))
}

// PatientImages lists the stored instances of one patient.
func (h *APIHandlers) PatientImages(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "invalid_patient_id",
			Err:     errors.New("patient id must be a positive integer"),
		})
		return
	}
	images, err := h.Resources.ListPatientImages(r.Context(), id)
	if err != nil {
		h.Logger.WarnContext(r.Context(), "list patient images failed", "patient_id", id, "error", err)
		writeUpstreamError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, images)
}

// InstanceMetadata applies the optional ?expr= JMESPath expression to an instance's metadata.
func (h *APIHandlers) InstanceMetadata(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	expr := r.URL.Query().Get("expr")

	result, err := h.Metadata.Inspect(r.Context(), id, expr)
	if err != nil {
		if errors.Is(err, service.ErrInvalidExpression) {
			WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_expression", Err: err})
			return
		}
		h.Logger.WarnContext(r.Context(), "inspect metadata failed", "instance_id", id, "error", err)
		writeUpstreamError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"instance_id": id, "expr": expr, "result": result})
}

// writeUpstreamError maps backend failures onto UI server responses.
func writeUpstreamError(w http.ResponseWriter, err error) {
	var apiErr *portalapi.APIError
	switch {
	case errors.Is(err, portalapi.ErrNoAccessToken):
		WriteError(w, ErrorParams{Code: http.StatusUnauthorized, ErrCode: "authentication_required", Err: err})
	case errors.As(err, &apiErr):
		code := apiErr.StatusCode
		if code >= http.StatusInternalServerError {
			code = http.StatusBadGateway
		}
		errCode := apiErr.Code
		if errCode == "" {
			errCode = "upstream_error"
		}
		WriteError(w, ErrorParams{Code: code, ErrCode: errCode, Err: errors.New(apiErr.Detail)})
	default:
		WriteError(w, ErrorParams{Code: http.StatusBadGateway, ErrCode: "upstream_unavailable", Err: err})
	}
}

// healthHandler returns a simple 200 OK status for readiness/liveness checks.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	_, _ = io.WriteString(w, healthResponse)
}
