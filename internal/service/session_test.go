package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/dicom-portal/internal/adapters/clientstore"
	domainsession "github.com/target/dicom-portal/internal/domain/session"
	"github.com/target/dicom-portal/internal/mocks"
	"github.com/target/dicom-portal/internal/mocks/authapi"
	"github.com/target/dicom-portal/internal/ports"
	"go.uber.org/mock/gomock"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type countingSink struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *countingSink) Count(name string, _ int64, tags map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = map[string]int{}
	}
	c.counts[name+"|"+tags["result"]]++
}

func (c *countingSink) Timing(string, time.Duration, map[string]string) {}

func (c *countingSink) get(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[key]
}

func newTestStore(t *testing.T, api ports.AuthAPI, storage ports.ClientStorage) *SessionStore {
	t.Helper()
	s, err := NewSessionStore(SessionStoreOptions{
		API:     api,
		Storage: storage,
		Logger:  quietLogger(),
		Renewal: RenewalPolicy{Disabled: true},
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func adminUser() domainsession.User {
	return domainsession.User{ID: 1, Role: domainsession.RoleAdmin, Name: "Ada Admin"}
}

func plainUser() domainsession.User {
	return domainsession.User{ID: 2, Role: domainsession.RoleUser, Name: "Uma User"}
}

func newFake() *authapi.FakeAuthAPI {
	f := authapi.NewFakeAuthAPI()
	f.AddUser("admin@x", "pw", adminUser())
	f.AddUser("user@x", "pw", plainUser())
	return f
}

func savedView(t *testing.T, storage ports.ClientStorage) (string, bool) {
	t.Helper()
	v, err := storage.Get(context.Background(), DefaultViewKey)
	if errors.Is(err, ports.ErrStorageKeyNotFound) {
		return "", false
	}
	require.NoError(t, err)
	return v, true
}

func assertLoggedOut(t *testing.T, s domainsession.Session) {
	t.Helper()
	assert.Nil(t, s.User)
	assert.Empty(t, s.AccessToken)
	assert.Empty(t, s.CSRFToken)
	assert.Equal(t, domainsession.ViewLogin, s.View)
}

func TestNewSessionStore_RequiresDependencies(t *testing.T) {
	_, err := NewSessionStore(SessionStoreOptions{Storage: clientstore.NewMemory()})
	require.Error(t, err)
	_, err = NewSessionStore(SessionStoreOptions{API: newFake()})
	require.Error(t, err)
}

func TestSessionStore_InitialState(t *testing.T) {
	s := newTestStore(t, newFake(), clientstore.NewMemory())
	snap := s.Snapshot()
	assert.True(t, snap.IsLoading)
	assert.Nil(t, snap.User)
	assert.Equal(t, domainsession.ViewLogin, snap.View)
}

func TestSessionStore_StartWithoutSession(t *testing.T) {
	api := newFake()
	storage := clientstore.NewMemory()
	s := newTestStore(t, api, storage)

	snap := s.Start(context.Background())

	assert.False(t, snap.IsLoading)
	assertLoggedOut(t, snap)
	_, ok := savedView(t, storage)
	assert.False(t, ok)
	assert.Equal(t, 1, api.Calls().Refresh)
}

func TestSessionStore_StartRunsOnce(t *testing.T) {
	api := newFake()
	api.SeedCookie("user@x", "csrf-seed")
	s := newTestStore(t, api, clientstore.NewMemory())

	first := s.Start(context.Background())
	second := s.Start(context.Background())

	assert.Equal(t, first, second)
	assert.Equal(t, 1, api.Calls().Refresh)
}

func TestSessionStore_RefreshRestoresView(t *testing.T) {
	tests := []struct {
		name      string
		account   string
		saved     string
		wantView  domainsession.View
		wantSaved string
	}{
		{"admin restores admin dashboard", "admin@x", "ADMIN_DASHBOARD", domainsession.ViewAdminDashboard, "ADMIN_DASHBOARD"},
		{"demoted user falls back to user dashboard", "user@x", "ADMIN_DASHBOARD", domainsession.ViewUserDashboard, "ADMIN_DASHBOARD"},
		{"admin keeps user dashboard", "admin@x", "USER_DASHBOARD", domainsession.ViewUserDashboard, "USER_DASHBOARD"},
		{"absent view lands on role default", "admin@x", "", domainsession.ViewAdminDashboard, "ADMIN_DASHBOARD"},
		{"saved login view lands on role default", "user@x", "LOGIN", domainsession.ViewUserDashboard, "USER_DASHBOARD"},
		{"garbage view is treated as absent", "user@x", "SETTINGS", domainsession.ViewUserDashboard, "USER_DASHBOARD"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			api := newFake()
			api.SeedCookie(tt.account, "csrf-seed")
			storage := clientstore.NewMemory()
			if tt.saved != "" {
				require.NoError(t, storage.Set(ctx, DefaultViewKey, tt.saved))
			}
			s := newTestStore(t, api, storage)

			snap := s.Start(ctx)

			assert.False(t, snap.IsLoading)
			require.NotNil(t, snap.User)
			assert.Equal(t, tt.wantView, snap.View)
			assert.NotEmpty(t, snap.AccessToken)
			assert.NotEmpty(t, snap.CSRFToken)
			got, _ := savedView(t, storage)
			assert.Equal(t, tt.wantSaved, got)
		})
	}
}

func TestSessionStore_RefreshRecoversCSRFFromCookie(t *testing.T) {
	api := newFake()
	api.SeedCookie("user@x", "csrf-seed")
	s := newTestStore(t, api, clientstore.NewMemory())

	s.Start(context.Background())

	assert.Equal(t, "csrf-seed", api.Calls().LastRefreshCSRF)
}

func TestSessionStore_RefreshUsesInMemoryCSRF(t *testing.T) {
	ctx := context.Background()
	api := newFake()
	s := newTestStore(t, api, clientstore.NewMemory())
	require.NoError(t, s.Login(ctx, domainsession.Credentials{Email: "user@x", Password: "pw"}))
	csrf := s.CSRFToken()

	snap := s.Refresh(ctx, false)

	assert.Equal(t, csrf, api.Calls().LastRefreshCSRF)
	assert.Equal(t, csrf, snap.CSRFToken)
	assert.NotEqual(t, "", snap.AccessToken)
}

func TestSessionStore_RefreshWithoutLoadingLeavesFlag(t *testing.T) {
	ctx := context.Background()
	api := newFake()
	s := newTestStore(t, api, clientstore.NewMemory())
	s.Start(ctx)
	require.NoError(t, s.Login(ctx, domainsession.Credentials{Email: "user@x", Password: "pw"}))

	snap := s.Refresh(ctx, false)

	assert.False(t, snap.IsLoading)
	assert.True(t, snap.Authenticated())
}

func TestSessionStore_FailedRefreshClearsCredentials(t *testing.T) {
	ctx := context.Background()
	api := newFake()
	storage := clientstore.NewMemory()
	s := newTestStore(t, api, storage)
	require.NoError(t, s.Login(ctx, domainsession.Credentials{Email: "admin@x", Password: "pw"}))
	require.NoError(t, s.SetView(ctx, domainsession.ViewAdminDashboard))

	api.SetRefreshErr(authapi.ErrRejected)
	snap := s.Refresh(ctx, true)

	assert.False(t, snap.IsLoading)
	assertLoggedOut(t, snap)
	assertLoggedOut(t, s.Snapshot())
	_, ok := savedView(t, storage)
	assert.False(t, ok, "expired session must clear the saved view")
}

func TestSessionStore_LoginLandsOnRoleDefault(t *testing.T) {
	ctx := context.Background()
	storage := clientstore.NewMemory()
	require.NoError(t, storage.Set(ctx, DefaultViewKey, "ADMIN_DASHBOARD"))
	s := newTestStore(t, newFake(), storage)
	s.Start(ctx)

	require.NoError(t, s.Login(ctx, domainsession.Credentials{Email: "user@x", Password: "pw"}))

	snap := s.Snapshot()
	require.NotNil(t, snap.User)
	assert.Equal(t, domainsession.RoleUser, snap.User.Role)
	assert.Equal(t, domainsession.ViewUserDashboard, snap.View)
	assert.NotEmpty(t, snap.AccessToken)
	assert.NotEmpty(t, snap.CSRFToken)
}

func TestSessionStore_LoginDoesNotPersistView(t *testing.T) {
	ctx := context.Background()
	storage := clientstore.NewMemory()
	s := newTestStore(t, newFake(), storage)

	require.NoError(t, s.Login(ctx, domainsession.Credentials{Email: "admin@x", Password: "pw"}))

	_, ok := savedView(t, storage)
	assert.False(t, ok)
}

func TestSessionStore_ReloadAfterReloginUsesNewRoleDefault(t *testing.T) {
	ctx := context.Background()
	api := newFake()
	storage := clientstore.NewMemory()

	first := newTestStore(t, api, storage)
	first.Start(ctx)
	require.NoError(t, first.Login(ctx, domainsession.Credentials{Email: "user@x", Password: "pw"}))
	require.NoError(t, first.SetView(ctx, domainsession.ViewUserDashboard))

	// Sign in as someone else without logging out.
	require.NoError(t, first.Login(ctx, domainsession.Credentials{Email: "admin@x", Password: "pw"}))
	assert.Equal(t, domainsession.ViewAdminDashboard, first.Snapshot().View)
	_, ok := savedView(t, storage)
	assert.False(t, ok, "login must drop the previous account's saved view")

	reloaded := newTestStore(t, api, storage)
	snap := reloaded.Start(ctx)
	require.NotNil(t, snap.User)
	assert.Equal(t, domainsession.RoleAdmin, snap.User.Role)
	assert.Equal(t, domainsession.ViewAdminDashboard, snap.View)
}

func TestSessionStore_LoginFailureLeavesSessionUnchanged(t *testing.T) {
	ctx := context.Background()
	api := newFake()
	s := newTestStore(t, api, clientstore.NewMemory())
	s.Start(ctx)
	before := s.Snapshot()

	err := s.Login(ctx, domainsession.Credentials{Email: "user@x", Password: "wrong"})

	require.Error(t, err)
	var authErr *domainsession.AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.ErrorIs(t, err, domainsession.ErrInvalidCredentials)
	assert.ErrorIs(t, err, authapi.ErrRejected)
	assert.Equal(t, before, s.Snapshot())
}

func TestSessionStore_LoginRejectsIncompleteResponse(t *testing.T) {
	ctrl := gomock.NewController(t)
	api := mocks.NewMockAuthAPI(ctrl)
	tests := []struct {
		name string
		res  domainsession.AuthResult
	}{
		{"missing access token", domainsession.AuthResult{User: plainUser(), CSRFToken: "c"}},
		{"missing csrf token", domainsession.AuthResult{User: plainUser(), AccessToken: "a"}},
		{"unknown role", domainsession.AuthResult{User: domainsession.User{ID: 3, Role: "auditor"}, AccessToken: "a", CSRFToken: "c"}},
	}
	s := newTestStore(t, api, clientstore.NewMemory())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api.EXPECT().Login(gomock.Any(), gomock.Any()).Return(tt.res, nil)

			err := s.Login(context.Background(), domainsession.Credentials{Email: "x", Password: "y"})

			require.ErrorIs(t, err, domainsession.ErrInvalidCredentials)
			assert.Nil(t, s.Snapshot().User)
		})
	}
}

func TestSessionStore_LoginThenLogout(t *testing.T) {
	ctx := context.Background()
	api := newFake()
	storage := clientstore.NewMemory()
	s := newTestStore(t, api, storage)
	s.Start(ctx)

	require.NoError(t, s.Login(ctx, domainsession.Credentials{Email: "admin@x", Password: "pw"}))
	assert.Equal(t, domainsession.ViewAdminDashboard, s.Snapshot().View)
	csrf := s.CSRFToken()
	require.NoError(t, s.SetView(ctx, domainsession.ViewUserDashboard))

	s.Logout(ctx)

	assertLoggedOut(t, s.Snapshot())
	calls := api.Calls()
	assert.Equal(t, 1, calls.Logout)
	assert.Equal(t, csrf, calls.LastLogoutCSRF)
	assert.Equal(t, 1, calls.Forget)
	assert.False(t, api.HasSessionCookie())
	_, ok := savedView(t, storage)
	assert.False(t, ok)
}

func TestSessionStore_LogoutIsTotal(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, s *SessionStore, api *authapi.FakeAuthAPI)
	}{
		{"from initial state", func(*testing.T, *SessionStore, *authapi.FakeAuthAPI) {}},
		{"from logged out", func(t *testing.T, s *SessionStore, _ *authapi.FakeAuthAPI) {
			s.Start(context.Background())
		}},
		{"server logout fails", func(t *testing.T, s *SessionStore, api *authapi.FakeAuthAPI) {
			api.LogoutErr = errors.New("network down")
			require.NoError(t, s.Login(context.Background(), domainsession.Credentials{Email: "user@x", Password: "pw"}))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFake()
			s := newTestStore(t, api, clientstore.NewMemory())
			tt.setup(t, s, api)

			s.Logout(context.Background())

			snap := s.Snapshot()
			assertLoggedOut(t, snap)
			assert.False(t, snap.IsLoading)
			assert.False(t, api.HasSessionCookie(), "cookies are forgotten even when the server call fails")
		})
	}
}

func TestSessionStore_LogoutWithCanceledContext(t *testing.T) {
	api := newFake()
	s := newTestStore(t, api, clientstore.NewMemory())
	require.NoError(t, s.Login(context.Background(), domainsession.Credentials{Email: "user@x", Password: "pw"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Logout(ctx)

	assertLoggedOut(t, s.Snapshot())
	assert.Equal(t, 1, api.Calls().Logout)
}

func TestSessionStore_SetView(t *testing.T) {
	ctx := context.Background()
	storage := clientstore.NewMemory()
	s := newTestStore(t, newFake(), storage)

	require.NoError(t, s.SetView(ctx, domainsession.ViewAdminDashboard))
	assert.Equal(t, domainsession.ViewAdminDashboard, s.Snapshot().View)
	got, _ := savedView(t, storage)
	assert.Equal(t, "ADMIN_DASHBOARD", got)

	err := s.SetView(ctx, domainsession.View("REPORTS"))
	require.Error(t, err)
	assert.Equal(t, domainsession.ViewAdminDashboard, s.Snapshot().View)
}

func TestSessionStore_SetViewStorageFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	storage := mocks.NewMockClientStorage(ctrl)
	storage.EXPECT().Set(gomock.Any(), DefaultViewKey, "USER_DASHBOARD").Return(errors.New("disk full"))
	s := newTestStore(t, newFake(), storage)

	err := s.SetView(context.Background(), domainsession.ViewUserDashboard)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, domainsession.ViewLogin, s.Snapshot().View, "view must not change when it cannot be saved")
}

func TestSessionStore_CustomViewKey(t *testing.T) {
	ctx := context.Background()
	storage := clientstore.NewMemory()
	s, err := NewSessionStore(SessionStoreOptions{
		API:     newFake(),
		Storage: storage,
		Logger:  quietLogger(),
		ViewKey: "other.view",
		Renewal: RenewalPolicy{Disabled: true},
	})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SetView(ctx, domainsession.ViewUserDashboard))

	v, err := storage.Get(ctx, "other.view")
	require.NoError(t, err)
	assert.Equal(t, "USER_DASHBOARD", v)
}

func TestSessionStore_StaleRefreshDiscardedAfterLogin(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	api := mocks.NewMockAuthAPI(ctrl)
	s := newTestStore(t, api, clientstore.NewMemory())

	release := make(chan struct{})
	entered := make(chan struct{})
	api.EXPECT().RecoverCSRFToken().Return("csrf-old", true)
	api.EXPECT().Refresh(gomock.Any(), "csrf-old").DoAndReturn(
		func(context.Context, string) (domainsession.AuthResult, error) {
			close(entered)
			<-release
			return domainsession.AuthResult{User: plainUser(), AccessToken: "stale-access", CSRFToken: "stale-csrf"}, nil
		})
	api.EXPECT().Login(gomock.Any(), gomock.Any()).Return(
		domainsession.AuthResult{User: adminUser(), AccessToken: "fresh-access", CSRFToken: "fresh-csrf"}, nil)

	done := make(chan domainsession.Session)
	go func() { done <- s.Refresh(ctx, true) }()
	<-entered

	require.NoError(t, s.Login(ctx, domainsession.Credentials{Email: "admin@x", Password: "pw"}))
	close(release)
	<-done

	snap := s.Snapshot()
	assert.Equal(t, "fresh-access", snap.AccessToken)
	assert.Equal(t, "fresh-csrf", snap.CSRFToken)
	assert.Equal(t, domainsession.ViewAdminDashboard, snap.View)
	assert.False(t, snap.IsLoading)
}

func TestSessionStore_StaleRefreshFailureDoesNotUndoLogin(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	api := mocks.NewMockAuthAPI(ctrl)
	s := newTestStore(t, api, clientstore.NewMemory())

	release := make(chan struct{})
	entered := make(chan struct{})
	api.EXPECT().RecoverCSRFToken().Return("", false)
	api.EXPECT().Refresh(gomock.Any(), "").DoAndReturn(
		func(context.Context, string) (domainsession.AuthResult, error) {
			close(entered)
			<-release
			return domainsession.AuthResult{}, errors.New("401")
		})
	api.EXPECT().Login(gomock.Any(), gomock.Any()).Return(
		domainsession.AuthResult{User: plainUser(), AccessToken: "a", CSRFToken: "c"}, nil)

	done := make(chan domainsession.Session)
	go func() { done <- s.Refresh(ctx, true) }()
	<-entered
	require.NoError(t, s.Login(ctx, domainsession.Credentials{Email: "user@x", Password: "pw"}))
	close(release)
	<-done

	snap := s.Snapshot()
	assert.True(t, snap.Authenticated())
	assert.Equal(t, "a", snap.AccessToken)
	assert.False(t, snap.IsLoading)
}

func TestSessionStore_ConcurrentRefreshSharesRequest(t *testing.T) {
	ctx := context.Background()
	api := newFake()
	api.SeedCookie("user@x", "csrf-seed")
	gate := make(chan struct{})
	api.RefreshGate = gate
	s := newTestStore(t, api, clientstore.NewMemory())

	const callers = 5
	results := make([]domainsession.Session, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = s.Refresh(ctx, true)
		}(i)
	}
	require.Eventually(t, func() bool { return api.Calls().Refresh == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, 1, api.Calls().Refresh)
	for _, r := range results {
		assert.Equal(t, results[0].AccessToken, r.AccessToken)
		assert.True(t, r.Authenticated())
	}
}

func TestSessionStore_CanceledRefreshKeepsSession(t *testing.T) {
	api := newFake()
	storage := clientstore.NewMemory()
	s := newTestStore(t, api, storage)
	require.NoError(t, s.Login(context.Background(), domainsession.Credentials{Email: "admin@x", Password: "pw"}))
	require.NoError(t, s.SetView(context.Background(), domainsession.ViewAdminDashboard))
	token := s.AccessToken()

	api.RefreshGate = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan domainsession.Session)
	go func() { done <- s.Refresh(ctx, true) }()
	require.Eventually(t, func() bool { return api.Calls().Refresh == 1 }, time.Second, time.Millisecond)
	cancel()
	snap := <-done

	assert.True(t, snap.Authenticated())
	assert.Equal(t, token, snap.AccessToken)
	assert.False(t, snap.IsLoading)
	got, _ := savedView(t, storage)
	assert.Equal(t, "ADMIN_DASHBOARD", got)
}

func TestSessionStore_EmitsMetrics(t *testing.T) {
	ctx := context.Background()
	sink := &countingSink{}
	api := newFake()
	s, err := NewSessionStore(SessionStoreOptions{
		API:     api,
		Storage: clientstore.NewMemory(),
		Logger:  quietLogger(),
		Metrics: sink,
		Renewal: RenewalPolicy{Disabled: true},
	})
	require.NoError(t, err)
	defer s.Close()

	s.Start(ctx)
	_ = s.Login(ctx, domainsession.Credentials{Email: "user@x", Password: "nope"})
	require.NoError(t, s.Login(ctx, domainsession.Credentials{Email: "user@x", Password: "pw"}))
	s.Refresh(ctx, false)
	s.Logout(ctx)

	assert.Equal(t, 1, sink.get("session.refresh|error"))
	assert.Equal(t, 1, sink.get("session.refresh|success"))
	assert.Equal(t, 1, sink.get("session.login|error"))
	assert.Equal(t, 1, sink.get("session.login|success"))
	assert.Equal(t, 1, sink.get("session.logout|success"))
}
