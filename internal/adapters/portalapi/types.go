package portalapi

import (
	"io"
	"strings"
	"time"

	domainsession "github.com/target/dicom-portal/internal/domain/session"
)

// Cookie names set by the backend's /auth endpoints.
const (
	RefreshCookieName = "refresh_token"
	CSRFCookieName    = "csrf_token"
	// CSRFHeader carries the double-submit token on state-changing requests.
	CSRFHeader = "X-CSRF-Token"
)

// DateLayout is the backend's date format (expiration dates, birth dates, visits).
const DateLayout = "2006-01-02"

// CodeInvalidPassword marks a 401 caused by a wrong current password rather
// than an expired session.
const CodeInvalidPassword = "INVALID_PASSWORD"

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	AccessToken string  `json:"access_token"`
	TokenType   string  `json:"token_type"`
	User        userDTO `json:"user"`
	CSRFToken   string  `json:"csrf_token"`
}

type userDTO struct {
	ID             int64   `json:"id"`
	Email          string  `json:"email"`
	FullName       string  `json:"full_name"`
	Role           string  `json:"role"`
	Status         string  `json:"status"`
	ExpirationDate *string `json:"expiration_date"`
	GroupID        *int64  `json:"group_id"`
	Group          *Group  `json:"group"`
}

// Group is a permission group as listed by /groups.
type Group struct {
	ID              int64   `json:"id"`
	Name            string  `json:"name"`
	Description     *string `json:"description"`
	CanEditPatients bool    `json:"can_edit_patients"`
	CanExportData   bool    `json:"can_export_data"`
	CanManageUsers  bool    `json:"can_manage_users"`
	CanViewImages   bool    `json:"can_view_images"`
}

// Patient is a patient record as listed by /patients.
type Patient struct {
	ID               int64   `json:"id"`
	ExternalID       string  `json:"external_id"`
	FirstName        string  `json:"first_name"`
	LastName         string  `json:"last_name"`
	Condition        *string `json:"condition"`
	DateOfBirth      *string `json:"date_of_birth"`
	LastVisit        *string `json:"last_visit"`
	DicomStudyUID    *string `json:"dicom_study_uid"`
	OrthancPatientID *string `json:"orthanc_patient_id"`
	HasImages        bool    `json:"has_images"`
	ImageCount       int     `json:"image_count"`
}

// FullName returns "First Last".
func (p Patient) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// DicomImage references one stored instance of a patient.
type DicomImage struct {
	ID          string  `json:"id"`
	URL         string  `json:"url"`
	Description *string `json:"description"`
	Date        *string `json:"date"`
}

// Stats is the /stats summary shown on the admin dashboard.
type Stats struct {
	TotalPatients  int `json:"total_patients"`
	TotalInstances int `json:"total_instances"`
	TotalUsers     int `json:"total_users"`
	ActiveUsers    int `json:"active_users"`
}

// Health is the /health check result.
type Health struct {
	Status string `json:"status"`
}

type exportRequest struct {
	PatientIDs []int64 `json:"patient_ids"`
}

// User statuses accepted by PUT /users/{id}.
const (
	UserStatusActive   = "active"
	UserStatusInactive = "inactive"
)

// NewUser is the body of POST /users. Role and Status default server-side.
type NewUser struct {
	Email          string  `json:"email"`
	FullName       string  `json:"full_name"`
	Password       string  `json:"password"`
	Role           string  `json:"role,omitempty"`
	Status         string  `json:"status,omitempty"`
	ExpirationDate *string `json:"expiration_date,omitempty"`
	GroupID        *int64  `json:"group_id,omitempty"`
}

// UserChanges is a partial update; nil fields are left as they are.
type UserChanges struct {
	Email          *string `json:"email,omitempty"`
	FullName       *string `json:"full_name,omitempty"`
	Role           *string `json:"role,omitempty"`
	Status         *string `json:"status,omitempty"`
	ExpirationDate *string `json:"expiration_date,omitempty"`
	GroupID        *int64  `json:"group_id,omitempty"`
	Password       *string `json:"password,omitempty"`
}

// ProfileChanges is the body of PUT /users/me/profile. CurrentPassword is always required.
type ProfileChanges struct {
	CurrentPassword string  `json:"current_password"`
	FullName        *string `json:"full_name,omitempty"`
	Email           *string `json:"email,omitempty"`
	NewPassword     *string `json:"new_password,omitempty"`
}

// NewGroup is the body of POST /groups.
type NewGroup struct {
	Name            string  `json:"name"`
	Description     *string `json:"description,omitempty"`
	CanEditPatients bool    `json:"can_edit_patients"`
	CanExportData   bool    `json:"can_export_data"`
	CanManageUsers  bool    `json:"can_manage_users"`
	CanViewImages   bool    `json:"can_view_images"`
}

// GroupChanges is a partial update of a group.
type GroupChanges struct {
	Name            *string `json:"name,omitempty"`
	Description     *string `json:"description,omitempty"`
	CanEditPatients *bool   `json:"can_edit_patients,omitempty"`
	CanExportData   *bool   `json:"can_export_data,omitempty"`
	CanManageUsers  *bool   `json:"can_manage_users,omitempty"`
	CanViewImages   *bool   `json:"can_view_images,omitempty"`
}

// NewPatient is the "patient" part of POST /patients/import.
type NewPatient struct {
	ExternalID       string  `json:"external_id"`
	FirstName        string  `json:"first_name"`
	LastName         string  `json:"last_name"`
	Condition        *string `json:"condition,omitempty"`
	DateOfBirth      *string `json:"date_of_birth,omitempty"`
	LastVisit        *string `json:"last_visit,omitempty"`
	DicomStudyUID    *string `json:"dicom_study_uid,omitempty"`
	OrthancPatientID *string `json:"orthanc_patient_id,omitempty"`
}

// PatientChanges is a partial update of a patient record.
type PatientChanges struct {
	ExternalID  *string `json:"external_id,omitempty"`
	FirstName   *string `json:"first_name,omitempty"`
	LastName    *string `json:"last_name,omitempty"`
	Condition   *string `json:"condition,omitempty"`
	DateOfBirth *string `json:"date_of_birth,omitempty"`
	LastVisit   *string `json:"last_visit,omitempty"`
}

// DicomUpload is one file attached to a patient import. Open is called each time
// the request body is built, so a retried import re-reads the file from the start.
type DicomUpload struct {
	Name string
	Open func() (io.ReadCloser, error)
}

func (u userDTO) toDomain() domainsession.User {
	out := domainsession.User{
		ID:       u.ID,
		Username: u.Email,
		Role:     domainsession.Role(strings.ToLower(strings.TrimSpace(u.Role))),
		Name:     u.FullName,
		Email:    u.Email,
		Status:   u.Status,
	}
	if u.GroupID != nil {
		id := *u.GroupID
		out.GroupID = &id
	}
	if u.Group != nil {
		out.GroupName = u.Group.Name
	}
	if u.ExpirationDate != nil {
		if d, err := time.Parse(DateLayout, *u.ExpirationDate); err == nil {
			out.ExpirationDate = &d
		}
	}
	return out
}

func (r authResponse) toDomain() domainsession.AuthResult {
	return domainsession.AuthResult{
		User:        r.User.toDomain(),
		AccessToken: r.AccessToken,
		CSRFToken:   r.CSRFToken,
	}
}
