package httpx

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/target/dicom-portal/internal/adapters/portalapi"
	domainsession "github.com/target/dicom-portal/internal/domain/session"
)

// notices confirm a form action on the screen it redirects back to.
var notices = map[string]string{
	"patient_imported": "Patient importé.",
	"patient_updated":  "Patient mis à jour.",
	"patient_deleted":  "Patient supprimé.",
	"profile_updated":  "Profil mis à jour.",
	"user_created":     "Utilisateur créé.",
	"user_updated":     "Statut de l'utilisateur mis à jour.",
	"user_deleted":     "Utilisateur supprimé.",
	"group_created":    "Groupe créé.",
	"group_updated":    "Groupe mis à jour.",
	"group_deleted":    "Groupe supprimé.",
}

// formError is a submission rejected before reaching the backend. Its text is
// shown to the user as-is.
type formError string

func (e formError) Error() string { return string(e) }

const (
	errMissingPatientFields = formError("L'identifiant, le prénom et le nom sont obligatoires.")
	errMissingDicomFiles    = formError("Ajoutez au moins un fichier DICOM.")
	errNoChanges            = formError("Aucune modification à enregistrer.")
	errInvalidID            = formError("Identifiant invalide.")
	errInvalidDate          = formError("Date invalide, format attendu AAAA-MM-JJ.")
)

// ImportPatient creates a patient from the multipart import form and uploads its DICOM files.
func (h *ScreenHandlers) ImportPatient(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(formMemory); err != nil {
		h.reject(w, r, formError("Formulaire d'import invalide."))
		return
	}
	in := portalapi.NewPatient{
		ExternalID: formString(r, "external_id"),
		FirstName:  formString(r, "first_name"),
		LastName:   formString(r, "last_name"),
		Condition:  optionalString(r, "condition"),
	}
	if in.ExternalID == "" || in.FirstName == "" || in.LastName == "" {
		h.reject(w, r, errMissingPatientFields)
		return
	}
	var err error
	if in.DateOfBirth, err = optionalDate(r, "date_of_birth"); err != nil {
		h.reject(w, r, err)
		return
	}
	if in.LastVisit, err = optionalDate(r, "last_visit"); err != nil {
		h.reject(w, r, err)
		return
	}

	headers := r.MultipartForm.File["dicom_files"]
	if len(headers) == 0 {
		h.reject(w, r, errMissingDicomFiles)
		return
	}
	files := make([]portalapi.DicomUpload, 0, len(headers))
	for _, fh := range headers {
		files = append(files, portalapi.DicomUpload{
			Name: fh.Filename,
			Open: func() (io.ReadCloser, error) { return fh.Open() },
		})
	}

	h.submit(w, r, "patient_imported", func(ctx context.Context) error {
		_, err := h.Resources.ImportPatient(ctx, in, files)
		return err
	})
}

// UpdatePatient applies the non-empty fields of the edit form.
func (h *ScreenHandlers) UpdatePatient(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	changes := portalapi.PatientChanges{
		ExternalID: optionalString(r, "external_id"),
		FirstName:  optionalString(r, "first_name"),
		LastName:   optionalString(r, "last_name"),
		Condition:  optionalString(r, "condition"),
	}
	var err error
	if changes.DateOfBirth, err = optionalDate(r, "date_of_birth"); err != nil {
		h.reject(w, r, err)
		return
	}
	if changes.LastVisit, err = optionalDate(r, "last_visit"); err != nil {
		h.reject(w, r, err)
		return
	}
	if changes == (portalapi.PatientChanges{}) {
		h.reject(w, r, errNoChanges)
		return
	}

	h.submit(w, r, "patient_updated", func(ctx context.Context) error {
		_, err := h.Resources.UpdatePatient(ctx, id, changes)
		return err
	})
}

func (h *ScreenHandlers) DeletePatient(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	h.submit(w, r, "patient_deleted", func(ctx context.Context) error {
		return h.Resources.DeletePatient(ctx, id)
	})
}

// UpdateProfile changes the signed-in user's own details, then refreshes the
// session so the header shows them.
func (h *ScreenHandlers) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	changes := portalapi.ProfileChanges{
		CurrentPassword: r.PostFormValue("current_password"),
		FullName:        optionalString(r, "full_name"),
		Email:           optionalString(r, "email"),
	}
	if pw := r.PostFormValue("new_password"); pw != "" {
		changes.NewPassword = &pw
	}
	if changes.CurrentPassword == "" {
		h.reject(w, r, formError("Le mot de passe actuel est obligatoire."))
		return
	}
	if changes.FullName == nil && changes.Email == nil && changes.NewPassword == nil {
		h.reject(w, r, errNoChanges)
		return
	}

	h.submit(w, r, "profile_updated", func(ctx context.Context) error {
		if _, err := h.Resources.UpdateProfile(ctx, changes); err != nil {
			return err
		}
		h.Session.Refresh(ctx, false)
		return nil
	})
}

// CreateUser handles the admin "new user" form.
func (h *ScreenHandlers) CreateUser(w http.ResponseWriter, r *http.Request) {
	in := portalapi.NewUser{
		Email:    formString(r, "email"),
		FullName: formString(r, "full_name"),
		Password: r.PostFormValue("password"),
	}
	if in.Email == "" || in.FullName == "" || in.Password == "" {
		h.reject(w, r, formError("L'e-mail, le nom et le mot de passe sont obligatoires."))
		return
	}
	switch role := formString(r, "role"); role {
	case "":
	case string(domainsession.RoleUser), string(domainsession.RoleAdmin):
		in.Role = role
	default:
		h.reject(w, r, formError("Rôle inconnu."))
		return
	}
	var err error
	if in.ExpirationDate, err = optionalDate(r, "expiration_date"); err != nil {
		h.reject(w, r, err)
		return
	}
	if raw := formString(r, "group_id"); raw != "" {
		gid, err := parseID(raw)
		if err != nil {
			h.reject(w, r, err)
			return
		}
		in.GroupID = &gid
	}

	h.submit(w, r, "user_created", func(ctx context.Context) error {
		_, err := h.Resources.CreateUser(ctx, in)
		return err
	})
}

// SetUserStatus activates or deactivates an account.
func (h *ScreenHandlers) SetUserStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	status := formString(r, "status")
	if status != portalapi.UserStatusActive && status != portalapi.UserStatusInactive {
		h.reject(w, r, formError("Statut inconnu."))
		return
	}
	h.submit(w, r, "user_updated", func(ctx context.Context) error {
		_, err := h.Resources.SetUserStatus(ctx, id, status)
		return err
	})
}

func (h *ScreenHandlers) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if me := h.Session.Snapshot().User; me != nil && me.ID == id {
		h.reject(w, r, formError("Vous ne pouvez pas supprimer votre propre compte."))
		return
	}
	h.submit(w, r, "user_deleted", func(ctx context.Context) error {
		return h.Resources.DeleteUser(ctx, id)
	})
}

// CreateGroup handles the admin "new group" form. Unchecked permissions are false.
func (h *ScreenHandlers) CreateGroup(w http.ResponseWriter, r *http.Request) {
	in := portalapi.NewGroup{
		Name:            formString(r, "name"),
		Description:     optionalString(r, "description"),
		CanEditPatients: formChecked(r, "can_edit_patients"),
		CanExportData:   formChecked(r, "can_export_data"),
		CanManageUsers:  formChecked(r, "can_manage_users"),
		CanViewImages:   formChecked(r, "can_view_images"),
	}
	if in.Name == "" {
		h.reject(w, r, formError("Le nom du groupe est obligatoire."))
		return
	}
	h.submit(w, r, "group_created", func(ctx context.Context) error {
		_, err := h.Resources.CreateGroup(ctx, in)
		return err
	})
}

// UpdateGroup saves a group row's permission checkboxes, plus its name and
// description when filled in.
func (h *ScreenHandlers) UpdateGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	changes := portalapi.GroupChanges{
		Name:            optionalString(r, "name"),
		Description:     optionalString(r, "description"),
		CanEditPatients: ptrTo(formChecked(r, "can_edit_patients")),
		CanExportData:   ptrTo(formChecked(r, "can_export_data")),
		CanManageUsers:  ptrTo(formChecked(r, "can_manage_users")),
		CanViewImages:   ptrTo(formChecked(r, "can_view_images")),
	}
	h.submit(w, r, "group_updated", func(ctx context.Context) error {
		_, err := h.Resources.UpdateGroup(ctx, id, changes)
		return err
	})
}

func (h *ScreenHandlers) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	h.submit(w, r, "group_deleted", func(ctx context.Context) error {
		return h.Resources.DeleteGroup(ctx, id)
	})
}

// submit runs a backend write for a screen form. Success redirects back to the
// screen with a notice; failure re-renders it with the reason.
func (h *ScreenHandlers) submit(w http.ResponseWriter, r *http.Request, notice string, fn func(context.Context) error) {
	ctx := r.Context()
	if err := h.withSession(ctx, fn); err != nil {
		h.Logger.WarnContext(ctx, "form action failed", "path", r.URL.Path, "error", err)
		h.renderCurrent(w, r, formStatus(err), "", userMessage(err))
		return
	}
	h.Logger.InfoContext(ctx, "form action succeeded", "path", r.URL.Path, "notice", notice)
	http.Redirect(w, r, "/?notice="+notice, http.StatusSeeOther)
}

func (h *ScreenHandlers) reject(w http.ResponseWriter, r *http.Request, err error) {
	h.renderCurrent(w, r, http.StatusBadRequest, "", userMessage(err))
}

func (h *ScreenHandlers) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := parseID(r.PathValue("id"))
	if err != nil {
		h.reject(w, r, err)
		return 0, false
	}
	return id, true
}

func formStatus(err error) int {
	var (
		apiErr  *portalapi.APIError
		formErr formError
	)
	switch {
	case errors.As(err, &formErr):
		return http.StatusBadRequest
	case errors.Is(err, portalapi.ErrNoAccessToken):
		return http.StatusUnauthorized
	case errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError:
		return apiErr.StatusCode
	default:
		return http.StatusBadGateway
	}
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, errInvalidID
	}
	return id, nil
}

func formString(r *http.Request, key string) string {
	return strings.TrimSpace(r.PostFormValue(key))
}

// optionalString returns nil for a blank field.
func optionalString(r *http.Request, key string) *string {
	v := formString(r, key)
	if v == "" {
		return nil
	}
	return &v
}

func optionalDate(r *http.Request, key string) (*string, error) {
	v := optionalString(r, key)
	if v == nil {
		return nil, nil
	}
	if _, err := time.Parse(portalapi.DateLayout, *v); err != nil {
		return nil, errInvalidDate
	}
	return v, nil
}

func formChecked(r *http.Request, key string) bool {
	switch r.PostFormValue(key) {
	case "on", "true", "1":
		return true
	default:
		return false
	}
}

func ptrTo[T any](v T) *T { return &v }
