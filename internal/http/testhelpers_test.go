package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	portal "github.com/target/dicom-portal"
	"github.com/target/dicom-portal/internal/adapters/clientstore"
	"github.com/target/dicom-portal/internal/adapters/portalapi"
	domainsession "github.com/target/dicom-portal/internal/domain/session"
	"github.com/target/dicom-portal/internal/mocks/authapi"
	"github.com/target/dicom-portal/internal/service"
	"github.com/target/dicom-portal/internal/testutil"
)

func ptr[T any](v T) *T { return &v }

// stubResources records calls and serves canned dashboard data.
type stubResources struct {
	mu sync.Mutex

	patients    []portalapi.Patient
	users       []domainsession.User
	groups      []portalapi.Group
	stats       portalapi.Stats
	images      []portalapi.DicomImage
	archive     string
	listErrs    []error // consumed one per ListPatients call
	statsErr    error
	exportErr   error
	searches    []string
	exportedIDs []int64
	listCalls   int

	writeErrs []error // consumed one per write call
	writes    []string
	imported  map[string]string // file name -> content of the last import
	lastUser  portalapi.NewUser
	lastGroup portalapi.GroupChanges
	lastEdit  portalapi.PatientChanges
}

// write logs a write call and pops the next queued error.
func (s *stubResources) write(entry string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, entry)
	if len(s.writeErrs) == 0 {
		return nil
	}
	err := s.writeErrs[0]
	s.writeErrs = s.writeErrs[1:]
	return err
}

func (s *stubResources) writeLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.writes...)
}

func newStubResources() *stubResources {
	return &stubResources{
		patients: []portalapi.Patient{
			{ID: 1, ExternalID: "P-001", FirstName: "Jane", LastName: "Doe", Condition: ptr("Fracture"), HasImages: true, ImageCount: 3},
			{ID: 2, ExternalID: "P-002", FirstName: "John", LastName: "Roe"},
		},
		users: []domainsession.User{
			testutil.NewUser().WithID(10).WithEmail("ada@x").WithName("Ada Lovelace").AsAdmin().Build(),
			testutil.NewUser().WithID(11).WithEmail("bob@x").WithName("Bob Martin").WithGroup(3, "Radiology").Build(),
		},
		groups: []portalapi.Group{{ID: 3, Name: "Radiology", CanViewImages: true}},
		stats:  portalapi.Stats{TotalPatients: 1234, TotalInstances: 56789, TotalUsers: 12, ActiveUsers: 9},
		images: []portalapi.DicomImage{{ID: "inst-1", URL: "/wado/inst-1"}},
	}
}

func (s *stubResources) ListPatients(context.Context) ([]portalapi.Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	if len(s.listErrs) > 0 {
		err := s.listErrs[0]
		s.listErrs = s.listErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return s.patients, nil
}

func (s *stubResources) SearchPatients(_ context.Context, q string) ([]portalapi.Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searches = append(s.searches, q)
	return s.patients[:1], nil
}

func (s *stubResources) ListPatientImages(context.Context, int64) ([]portalapi.DicomImage, error) {
	return s.images, nil
}

func (s *stubResources) ExportPatients(_ context.Context, ids []int64, w io.Writer) (int64, error) {
	s.mu.Lock()
	s.exportedIDs = append(s.exportedIDs, ids...)
	err, archive := s.exportErr, s.archive
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}
	n, werr := io.WriteString(w, archive)
	return int64(n), werr
}

func (s *stubResources) ListUsers(context.Context) ([]domainsession.User, error) { return s.users, nil }

func (s *stubResources) ListGroups(context.Context) ([]portalapi.Group, error) { return s.groups, nil }

func (s *stubResources) Stats(context.Context) (portalapi.Stats, error) {
	if s.statsErr != nil {
		return portalapi.Stats{}, s.statsErr
	}
	return s.stats, nil
}

func (s *stubResources) Health(context.Context) (portalapi.Health, error) {
	return portalapi.Health{Status: "ok"}, nil
}

func (s *stubResources) ImportPatient(_ context.Context, in portalapi.NewPatient, files []portalapi.DicomUpload) (portalapi.Patient, error) {
	got := map[string]string{}
	for _, f := range files {
		rc, err := f.Open()
		if err != nil {
			return portalapi.Patient{}, err
		}
		raw, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return portalapi.Patient{}, err
		}
		got[f.Name] = string(raw)
	}
	if err := s.write("import " + in.ExternalID); err != nil {
		return portalapi.Patient{}, err
	}
	s.mu.Lock()
	s.imported = got
	s.mu.Unlock()
	return portalapi.Patient{ID: 99, ExternalID: in.ExternalID, FirstName: in.FirstName, LastName: in.LastName}, nil
}

func (s *stubResources) UpdatePatient(_ context.Context, id int64, changes portalapi.PatientChanges) (portalapi.Patient, error) {
	if err := s.write(fmt.Sprintf("update patient %d", id)); err != nil {
		return portalapi.Patient{}, err
	}
	s.mu.Lock()
	s.lastEdit = changes
	s.mu.Unlock()
	return portalapi.Patient{ID: id}, nil
}

func (s *stubResources) DeletePatient(_ context.Context, id int64) error {
	return s.write(fmt.Sprintf("delete patient %d", id))
}

func (s *stubResources) UpdateProfile(_ context.Context, changes portalapi.ProfileChanges) (domainsession.User, error) {
	if err := s.write("update profile"); err != nil {
		return domainsession.User{}, err
	}
	return domainsession.User{Name: *changes.FullName}, nil
}

func (s *stubResources) CreateUser(_ context.Context, in portalapi.NewUser) (domainsession.User, error) {
	if err := s.write("create user " + in.Email); err != nil {
		return domainsession.User{}, err
	}
	s.mu.Lock()
	s.lastUser = in
	s.mu.Unlock()
	return domainsession.User{ID: 50, Email: in.Email}, nil
}

func (s *stubResources) SetUserStatus(_ context.Context, id int64, status string) (domainsession.User, error) {
	if err := s.write(fmt.Sprintf("status user %d %s", id, status)); err != nil {
		return domainsession.User{}, err
	}
	return domainsession.User{ID: id, Status: status}, nil
}

func (s *stubResources) DeleteUser(_ context.Context, id int64) error {
	return s.write(fmt.Sprintf("delete user %d", id))
}

func (s *stubResources) CreateGroup(_ context.Context, in portalapi.NewGroup) (portalapi.Group, error) {
	if err := s.write("create group " + in.Name); err != nil {
		return portalapi.Group{}, err
	}
	return portalapi.Group{ID: 8, Name: in.Name}, nil
}

func (s *stubResources) UpdateGroup(_ context.Context, id int64, changes portalapi.GroupChanges) (portalapi.Group, error) {
	if err := s.write(fmt.Sprintf("update group %d", id)); err != nil {
		return portalapi.Group{}, err
	}
	s.mu.Lock()
	s.lastGroup = changes
	s.mu.Unlock()
	return portalapi.Group{ID: id}, nil
}

func (s *stubResources) DeleteGroup(_ context.Context, id int64) error {
	return s.write(fmt.Sprintf("delete group %d", id))
}

type stubMetadataSource struct{}

func (stubMetadataSource) InstanceMetadata(_ context.Context, id string) (json.RawMessage, error) {
	if id == "missing" {
		return nil, &portalapi.APIError{StatusCode: http.StatusNotFound, Code: "not_found", Detail: "instance not found"}
	}
	return json.RawMessage(`{"00080060": {"vr": "CS", "Value": ["CT"]}}`), nil
}

type harness struct {
	t         *testing.T
	srv       *httptest.Server
	client    *http.Client
	store     *service.SessionStore
	api       *authapi.FakeAuthAPI
	storage   *clientstore.Memory
	resources *stubResources
}

type harnessOption func(*RouterServices)

func withLoginRate(rate float64, burst int) harnessOption {
	return func(s *RouterServices) {
		s.LoginRate = rate
		s.LoginBurst = burst
	}
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	api := authapi.NewFakeAuthAPI()
	api.AddUser("admin@x", "pw", testutil.NewUser().WithID(1).WithEmail("admin@x").WithName("Ada Admin").AsAdmin().Build())
	api.AddUser("user@x", "pw", testutil.NewUser().WithID(2).WithEmail("user@x").WithName("Uma User").Build())

	storage := clientstore.NewMemory()
	store, err := service.NewSessionStore(service.SessionStoreOptions{
		API:     api,
		Storage: storage,
		Logger:  logger,
		Renewal: service.RenewalPolicy{Disabled: true},
	})
	require.NoError(t, err)
	t.Cleanup(store.Close)

	inspector, err := service.NewMetadataInspector(stubMetadataSource{})
	require.NoError(t, err)
	templates, err := fs.Sub(portal.TemplateFS, portal.TemplateDir)
	require.NoError(t, err)

	resources := newStubResources()
	services := RouterServices{
		Session:    store,
		Resources:  resources,
		Metadata:   inspector,
		TemplateFS: templates,
		Logger:     logger,
	}
	for _, opt := range opts {
		opt(&services)
	}
	handler, err := NewRouter(services)
	require.NoError(t, err)

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &harness{
		t:         t,
		srv:       srv,
		client:    &http.Client{Jar: jar},
		store:     store,
		api:       api,
		storage:   storage,
		resources: resources,
	}
}

// started runs the startup refresh so the login screen is reachable.
func (h *harness) started() *harness {
	h.store.Start(context.Background())
	return h
}

func (h *harness) csrfToken() string {
	h.t.Helper()
	u, err := url.Parse(h.srv.URL)
	require.NoError(h.t, err)
	for _, c := range h.client.Jar.Cookies(u) {
		if c.Name == DefaultCSRFCookieName {
			return c.Value
		}
	}
	resp, body := h.get("/healthz", "")
	require.Equal(h.t, http.StatusOK, resp.StatusCode, body)
	for _, c := range h.client.Jar.Cookies(u) {
		if c.Name == DefaultCSRFCookieName {
			return c.Value
		}
	}
	h.t.Fatal("no csrf cookie issued")
	return ""
}

func (h *harness) get(path, accept string) (*http.Response, string) {
	h.t.Helper()
	req, err := http.NewRequest(http.MethodGet, h.srv.URL+path, nil)
	require.NoError(h.t, err)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	return h.do(req)
}

func (h *harness) postForm(path string, form url.Values) (*http.Response, string) {
	h.t.Helper()
	if form == nil {
		form = url.Values{}
	}
	form.Set("csrf_token", h.csrfToken())
	req, err := http.NewRequest(http.MethodPost, h.srv.URL+path, strings.NewReader(form.Encode()))
	require.NoError(h.t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return h.do(req)
}

// postMultipart sends fields and files (name -> content) as multipart/form-data,
// the way the import form does.
func (h *harness) postMultipart(path string, fields url.Values, files map[string]string, withCSRF bool) (*http.Response, string) {
	h.t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if withCSRF {
		require.NoError(h.t, mw.WriteField("csrf_token", h.csrfToken()))
	}
	for k, vs := range fields {
		for _, v := range vs {
			require.NoError(h.t, mw.WriteField(k, v))
		}
	}
	for name, content := range files {
		part, err := mw.CreateFormFile("dicom_files", name)
		require.NoError(h.t, err)
		_, err = io.WriteString(part, content)
		require.NoError(h.t, err)
	}
	require.NoError(h.t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, h.srv.URL+path, &body)
	require.NoError(h.t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return h.do(req)
}

func (h *harness) do(req *http.Request) (*http.Response, string) {
	h.t.Helper()
	resp, err := h.client.Do(req)
	require.NoError(h.t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(h.t, err)
	return resp, string(body)
}

func (h *harness) login(email string) string {
	h.t.Helper()
	resp, body := h.postForm("/login", url.Values{"email": {email}, "password": {"pw"}})
	require.Equal(h.t, http.StatusOK, resp.StatusCode, body)
	return body
}

func screenOf(body string) string {
	const marker = `data-screen="`
	i := strings.Index(body, marker)
	if i < 0 {
		return ""
	}
	rest := body[i+len(marker):]
	return rest[:strings.IndexByte(rest, '"')]
}

func errNoTokenForTest() error { return fmt.Errorf("list: %w", portalapi.ErrNoAccessToken) }

func apiErr(status int, code string) error {
	return &portalapi.APIError{StatusCode: status, Code: code, Detail: http.StatusText(status)}
}

func assertErr(msg string) error { return errors.New(msg) }
