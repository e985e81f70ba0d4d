package httpx

import (
	"context"
	"io"

	"github.com/target/dicom-portal/internal/adapters/portalapi"
	domainsession "github.com/target/dicom-portal/internal/domain/session"
	"github.com/target/dicom-portal/internal/service"
)

// SessionService is the slice of the session store the screens drive.
type SessionService interface {
	Snapshot() domainsession.Session
	Login(ctx context.Context, creds domainsession.Credentials) error
	Refresh(ctx context.Context, showLoading bool) domainsession.Session
	Logout(ctx context.Context)
	SetView(ctx context.Context, view domainsession.View) error
}

// DashboardResources covers the backend calls behind the dashboards and their forms.
type DashboardResources interface {
	ListPatients(ctx context.Context) ([]portalapi.Patient, error)
	SearchPatients(ctx context.Context, query string) ([]portalapi.Patient, error)
	ListPatientImages(ctx context.Context, patientID int64) ([]portalapi.DicomImage, error)
	ExportPatients(ctx context.Context, patientIDs []int64, w io.Writer) (int64, error)
	ListUsers(ctx context.Context) ([]domainsession.User, error)
	ListGroups(ctx context.Context) ([]portalapi.Group, error)
	Stats(ctx context.Context) (portalapi.Stats, error)
	Health(ctx context.Context) (portalapi.Health, error)

	ImportPatient(ctx context.Context, in portalapi.NewPatient, files []portalapi.DicomUpload) (portalapi.Patient, error)
	UpdatePatient(ctx context.Context, id int64, changes portalapi.PatientChanges) (portalapi.Patient, error)
	DeletePatient(ctx context.Context, id int64) error
	UpdateProfile(ctx context.Context, changes portalapi.ProfileChanges) (domainsession.User, error)

	CreateUser(ctx context.Context, in portalapi.NewUser) (domainsession.User, error)
	SetUserStatus(ctx context.Context, id int64, status string) (domainsession.User, error)
	DeleteUser(ctx context.Context, id int64) error
	CreateGroup(ctx context.Context, in portalapi.NewGroup) (portalapi.Group, error)
	UpdateGroup(ctx context.Context, id int64, changes portalapi.GroupChanges) (portalapi.Group, error)
	DeleteGroup(ctx context.Context, id int64) error
}

// MetadataService evaluates expressions against instance metadata.
type MetadataService interface {
	Inspect(ctx context.Context, instanceID, expr string) (any, error)
}

// Compile-time interface assertions to ensure concrete services satisfy their UI interfaces.
var (
	_ SessionService     = (*service.SessionStore)(nil)
	_ DashboardResources = (*portalapi.Resources)(nil)
	_ MetadataService    = (*service.MetadataInspector)(nil)
)
