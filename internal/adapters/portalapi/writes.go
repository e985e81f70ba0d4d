package portalapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	domainsession "github.com/target/dicom-portal/internal/domain/session"
)

// Field names of the POST /patients/import multipart form.
const (
	importPatientField = "patient"
	importFilesField   = "dicom_files"
)

func userPath(id int64) string    { return "/users/" + strconv.FormatInt(id, 10) }
func groupPath(id int64) string   { return "/groups/" + strconv.FormatInt(id, 10) }
func patientPath(id int64) string { return "/patients/" + strconv.FormatInt(id, 10) }

// CreateUser is admin-only. A taken email comes back as an *APIError with code DUPLICATE_EMAIL.
func (r *Resources) CreateUser(ctx context.Context, in NewUser) (domainsession.User, error) {
	in.Email = strings.TrimSpace(in.Email)
	in.FullName = strings.TrimSpace(in.FullName)
	if in.Email == "" || in.FullName == "" || in.Password == "" {
		return domainsession.User{}, errors.New("email, full name and password are required")
	}
	var out userDTO
	if err := r.req.do(ctx, request{method: http.MethodPost, path: "/users", body: in}, &out); err != nil {
		return domainsession.User{}, err
	}
	return out.toDomain(), nil
}

func (r *Resources) UpdateUser(ctx context.Context, id int64, changes UserChanges) (domainsession.User, error) {
	var out userDTO
	if err := r.req.do(ctx, request{method: http.MethodPut, path: userPath(id), body: changes}, &out); err != nil {
		return domainsession.User{}, err
	}
	return out.toDomain(), nil
}

// SetUserStatus activates or deactivates an account.
func (r *Resources) SetUserStatus(ctx context.Context, id int64, status string) (domainsession.User, error) {
	switch status {
	case UserStatusActive, UserStatusInactive:
	default:
		return domainsession.User{}, fmt.Errorf("unknown user status %q", status)
	}
	return r.UpdateUser(ctx, id, UserChanges{Status: &status})
}

// DeleteUser removes an account. The backend refuses to delete the caller (CANNOT_DELETE_SELF).
func (r *Resources) DeleteUser(ctx context.Context, id int64) error {
	return r.req.do(ctx, request{method: http.MethodDelete, path: userPath(id)}, nil)
}

// UpdateProfile changes the signed-in user's own name, email or password.
func (r *Resources) UpdateProfile(ctx context.Context, changes ProfileChanges) (domainsession.User, error) {
	if changes.CurrentPassword == "" {
		return domainsession.User{}, errors.New("current password is required")
	}
	var out userDTO
	if err := r.req.do(ctx, request{method: http.MethodPut, path: "/users/me/profile", body: changes}, &out); err != nil {
		return domainsession.User{}, err
	}
	return out.toDomain(), nil
}

func (r *Resources) CreateGroup(ctx context.Context, in NewGroup) (Group, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return Group{}, errors.New("group name is required")
	}
	var out Group
	err := r.req.do(ctx, request{method: http.MethodPost, path: "/groups", body: in}, &out)
	return out, err
}

func (r *Resources) UpdateGroup(ctx context.Context, id int64, changes GroupChanges) (Group, error) {
	var out Group
	err := r.req.do(ctx, request{method: http.MethodPut, path: groupPath(id), body: changes}, &out)
	return out, err
}

// DeleteGroup fails with GROUP_HAS_USERS while members remain.
func (r *Resources) DeleteGroup(ctx context.Context, id int64) error {
	return r.req.do(ctx, request{method: http.MethodDelete, path: groupPath(id)}, nil)
}

// ImportPatient creates a patient and uploads its DICOM files in one multipart
// request. The body is streamed, so files are never held in memory whole.
func (r *Resources) ImportPatient(ctx context.Context, in NewPatient, files []DicomUpload) (Patient, error) {
	in.ExternalID = strings.TrimSpace(in.ExternalID)
	if in.ExternalID == "" || strings.TrimSpace(in.FirstName) == "" || strings.TrimSpace(in.LastName) == "" {
		return Patient{}, errors.New("external id, first name and last name are required")
	}
	if len(files) == 0 {
		return Patient{}, errors.New("at least one DICOM file is required")
	}
	meta, err := json.Marshal(in)
	if err != nil {
		return Patient{}, fmt.Errorf("encode patient: %w", err)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeImportForm(mw, meta, files))
	}()
	// Unblocks the writer when the request ends before the body is drained.
	defer pr.Close()

	var out Patient
	err = r.req.do(ctx, request{
		method:      http.MethodPost,
		path:        "/patients/import",
		raw:         pr,
		contentType: mw.FormDataContentType(),
	}, &out)
	return out, err
}

func writeImportForm(mw *multipart.Writer, meta []byte, files []DicomUpload) error {
	if err := mw.WriteField(importPatientField, string(meta)); err != nil {
		return err
	}
	for _, f := range files {
		if err := copyUpload(mw, f); err != nil {
			return err
		}
	}
	return mw.Close()
}

func copyUpload(mw *multipart.Writer, f DicomUpload) error {
	src, err := f.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer src.Close()

	part, err := mw.CreateFormFile(importFilesField, filepath.Base(f.Name))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, src); err != nil {
		return fmt.Errorf("upload %s: %w", f.Name, err)
	}
	return nil
}

func (r *Resources) UpdatePatient(ctx context.Context, id int64, changes PatientChanges) (Patient, error) {
	var out Patient
	err := r.req.do(ctx, request{method: http.MethodPut, path: patientPath(id), body: changes}, &out)
	return out, err
}

// DeletePatient removes the record and, server-side, its archived study.
func (r *Resources) DeletePatient(ctx context.Context, id int64) error {
	return r.req.do(ctx, request{method: http.MethodDelete, path: patientPath(id)}, nil)
}
