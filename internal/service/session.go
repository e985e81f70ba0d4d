package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	domainsession "github.com/target/dicom-portal/internal/domain/session"
	"github.com/target/dicom-portal/internal/observability/metrics"
	"github.com/target/dicom-portal/internal/observability/statsd"
	"github.com/target/dicom-portal/internal/ports"
	"golang.org/x/sync/singleflight"
)

// DefaultViewKey is the client storage key holding the selected view.
const DefaultViewKey = "portal.view"

const defaultLogoutTimeout = 5 * time.Second

// SessionStoreOptions groups dependencies for SessionStore.
type SessionStoreOptions struct {
	API     ports.AuthAPI
	Storage ports.ClientStorage
	Logger  *slog.Logger
	Metrics statsd.Sink

	// ViewKey overrides DefaultViewKey.
	ViewKey string
	// Renewal controls the background token renewal task. The zero value derives
	// the interval from the access token expiry.
	Renewal RenewalPolicy
	// LogoutTimeout bounds the best-effort server-side logout call.
	LogoutTimeout time.Duration
}

// SessionStore owns the authentication state and the selected view.
// It is the only writer of Session; everything else reads snapshots.
type SessionStore struct {
	api           ports.AuthAPI
	storage       ports.ClientStorage
	logger        *slog.Logger
	metrics       statsd.Sink
	viewKey       string
	logoutTimeout time.Duration

	mu    sync.RWMutex
	state domainsession.Session
	// epoch advances on every login and logout commit; a refresh started under an
	// older epoch is discarded instead of committed.
	epoch uint64

	refreshes singleflight.Group
	startOnce sync.Once
	startSnap domainsession.Session

	renewal renewalTask
}

// NewSessionStore constructs a SessionStore in its initial state (LOGIN, loading).
func NewSessionStore(opts SessionStoreOptions) (*SessionStore, error) {
	if opts.API == nil {
		return nil, errors.New("API is required")
	}
	if opts.Storage == nil {
		return nil, errors.New("Storage is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	viewKey := opts.ViewKey
	if viewKey == "" {
		viewKey = DefaultViewKey
	}
	logoutTimeout := opts.LogoutTimeout
	if logoutTimeout <= 0 {
		logoutTimeout = defaultLogoutTimeout
	}

	s := &SessionStore{
		api:           opts.API,
		storage:       opts.Storage,
		logger:        logger.With("component", "session_store"),
		metrics:       opts.Metrics,
		viewKey:       viewKey,
		logoutTimeout: logoutTimeout,
		state:         domainsession.Initial(),
	}
	s.renewal.policy = opts.Renewal.normalized()
	return s, nil
}

// Snapshot returns a copy of the current session.
func (s *SessionStore) Snapshot() domainsession.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// AccessToken returns the in-memory bearer token, or "" when signed out.
func (s *SessionStore) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.AccessToken
}

// CSRFToken returns the in-memory CSRF token, or "" when signed out.
func (s *SessionStore) CSRFToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.CSRFToken
}

// Start runs the startup session restoration exactly once per store.
// Later calls return the snapshot produced by the first one.
func (s *SessionStore) Start(ctx context.Context) domainsession.Session {
	s.startOnce.Do(func() {
		s.startSnap = s.Refresh(ctx, true)
	})
	return s.startSnap.Clone()
}

// Login authenticates with the backend and lands on the role's default view.
// A previously saved view is dropped, so the next reload also resolves to the
// role default. On failure the session is unchanged and an *AuthenticationError
// is returned.
func (s *SessionStore) Login(ctx context.Context, creds domainsession.Credentials) error {
	started := time.Now()
	res, err := s.api.Login(ctx, creds)
	if err == nil {
		err = validateAuthResult(res)
	}
	if err != nil {
		s.emit(metrics.OpLogin, metrics.ResultError, time.Since(started), err)
		s.logger.InfoContext(ctx, "login failed", "error", err)
		return domainsession.NewAuthenticationError(err)
	}

	user := res.User
	view := domainsession.DefaultViewFor(user.Role)

	s.mu.Lock()
	s.epoch++
	s.state = domainsession.Session{
		User:        &user,
		AccessToken: res.AccessToken,
		CSRFToken:   res.CSRFToken,
		View:        view,
		IsLoading:   s.state.IsLoading,
	}
	s.mu.Unlock()

	s.clearView(ctx)
	s.emit(metrics.OpLogin, metrics.ResultSuccess, time.Since(started), nil)
	s.logger.InfoContext(ctx, "login succeeded", "user_id", user.ID, "role", user.Role, "view", view)
	s.startRenewal(res.AccessToken)
	return nil
}

// Refresh renews the token pair from the session cookie and restores the saved view.
// It never fails: on error the session is reset to logged out. The returned snapshot
// reflects the state after the call. Concurrent calls share one request.
func (s *SessionStore) Refresh(ctx context.Context, showLoading bool) domainsession.Session {
	v, _, _ := s.refreshes.Do("refresh", func() (any, error) {
		return s.refresh(ctx, showLoading), nil
	})
	snap, ok := v.(domainsession.Session)
	if !ok {
		return s.Snapshot()
	}
	return snap.Clone()
}

func (s *SessionStore) refresh(ctx context.Context, showLoading bool) domainsession.Session {
	started := time.Now()

	s.mu.Lock()
	epoch := s.epoch
	csrf := s.state.CSRFToken
	if showLoading {
		s.state.IsLoading = true
	}
	s.mu.Unlock()

	if csrf == "" {
		if recovered, ok := s.api.RecoverCSRFToken(); ok {
			csrf = recovered
		}
	}

	res, err := s.api.Refresh(ctx, csrf)
	if err == nil {
		err = validateAuthResult(res)
	}
	if err != nil && errors.Is(err, context.Canceled) && ctx.Err() != nil {
		// The caller went away (teardown, superseded renewal); that is not an expired session.
		s.mu.Lock()
		snap := s.discardLocked(showLoading)
		s.mu.Unlock()
		s.emit(metrics.OpRefresh, metrics.ResultDiscarded, time.Since(started), err)
		return snap
	}
	if err != nil {
		return s.expire(ctx, epoch, showLoading, started, err)
	}

	user := res.User
	target, rule := ResolveView(s.savedView(ctx), user.Role)

	s.mu.Lock()
	if s.epoch != epoch {
		snap := s.discardLocked(showLoading)
		s.mu.Unlock()
		s.emit(metrics.OpRefresh, metrics.ResultDiscarded, time.Since(started), nil)
		s.logger.DebugContext(ctx, "refresh result discarded; session changed while in flight")
		return snap
	}
	s.state = domainsession.Session{
		User:        &user,
		AccessToken: res.AccessToken,
		CSRFToken:   res.CSRFToken,
		View:        target,
	}
	snap := s.state.Clone()
	s.mu.Unlock()

	// A downgrade leaves the stored admin view alone; the next reload downgrades again.
	if rule != ViewResolvedDowngraded {
		s.persistView(ctx, target)
	}

	s.emit(metrics.OpRefresh, metrics.ResultSuccess, time.Since(started), nil)
	s.logger.InfoContext(ctx, "session restored",
		"user_id", user.ID, "role", user.Role, "view", target, "view_rule", rule.String())
	s.startRenewal(res.AccessToken)
	return snap
}

func (s *SessionStore) expire(
	ctx context.Context,
	epoch uint64,
	showLoading bool,
	started time.Time,
	cause error,
) domainsession.Session {
	s.mu.Lock()
	if s.epoch != epoch {
		snap := s.discardLocked(showLoading)
		s.mu.Unlock()
		s.emit(metrics.OpRefresh, metrics.ResultDiscarded, time.Since(started), nil)
		return snap
	}
	s.state = domainsession.LoggedOut()
	s.mu.Unlock()

	s.stopRenewal()
	s.clearView(ctx)

	expired := &domainsession.SessionExpiredError{Cause: cause}
	s.emit(metrics.OpRefresh, metrics.ResultError, time.Since(started), cause)
	s.logger.InfoContext(ctx, "session expired", "error", expired)
	return domainsession.LoggedOut()
}

// discardLocked drops a stale refresh result. The loading flag it raised is still lowered.
func (s *SessionStore) discardLocked(showLoading bool) domainsession.Session {
	if showLoading {
		s.state.IsLoading = false
	}
	return s.state.Clone()
}

// Logout resets the session locally, then makes a best-effort server-side logout.
// The local reset happens first and does not depend on the server call.
func (s *SessionStore) Logout(ctx context.Context) {
	s.mu.Lock()
	csrf := s.state.CSRFToken
	wasAuthenticated := s.state.Authenticated()
	s.epoch++
	s.state = domainsession.LoggedOut()
	s.mu.Unlock()

	s.stopRenewal()
	s.clearView(ctx)
	s.emit(metrics.OpLogout, metrics.ResultSuccess, 0, nil)
	s.logger.InfoContext(ctx, "logged out", "had_session", wasAuthenticated)

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.logoutTimeout)
	defer cancel()
	if err := s.api.Logout(callCtx, csrf); err != nil {
		s.logger.WarnContext(ctx, "server logout failed", "error", err)
	}
	if err := s.api.ForgetCookies(callCtx); err != nil {
		s.logger.WarnContext(ctx, "forget session cookies failed", "error", err)
	}
}

// SetView selects a top-level screen and persists it. The in-memory view only
// changes once the write succeeds, so a failed call leaves the session as it was.
// Role compatibility is not checked here; the router downgrades at render time
// and refresh corrects it on reload.
func (s *SessionStore) SetView(ctx context.Context, view domainsession.View) error {
	if _, ok := domainsession.ParseView(string(view)); !ok {
		return fmt.Errorf("unknown view %q", view)
	}

	if err := s.storage.Set(ctx, s.viewKey, string(view)); err != nil {
		s.logger.WarnContext(ctx, "persist view failed", "view", view, "error", err)
		return fmt.Errorf("persist view: %w", err)
	}

	s.mu.Lock()
	s.state.View = view
	s.mu.Unlock()
	return nil
}

// Close stops the renewal task and waits for it to exit.
func (s *SessionStore) Close() {
	s.renewal.close()
}

func (s *SessionStore) savedView(ctx context.Context) domainsession.View {
	raw, err := s.storage.Get(ctx, s.viewKey)
	if err != nil {
		if !errors.Is(err, ports.ErrStorageKeyNotFound) {
			s.logger.WarnContext(ctx, "read saved view failed", "error", err)
		}
		return ""
	}
	view, ok := domainsession.ParseView(raw)
	if !ok {
		s.logger.DebugContext(ctx, "ignoring unrecognised saved view", "value", raw)
		return ""
	}
	return view
}

func (s *SessionStore) persistView(ctx context.Context, view domainsession.View) {
	if err := s.storage.Set(ctx, s.viewKey, string(view)); err != nil {
		s.logger.WarnContext(ctx, "persist view failed", "view", view, "error", err)
	}
}

func (s *SessionStore) clearView(ctx context.Context) {
	if err := s.storage.Delete(ctx, s.viewKey); err != nil {
		s.logger.WarnContext(ctx, "clear saved view failed", "error", err)
	}
}

func (s *SessionStore) emit(op, result string, d time.Duration, err error) {
	metrics.EmitSession(s.metrics, metrics.SessionMetric{Operation: op, Result: result, Duration: d, Err: err})
}

// validateAuthResult enforces that tokens are issued together with a known role.
func validateAuthResult(res domainsession.AuthResult) error {
	if res.AccessToken == "" || res.CSRFToken == "" {
		return errors.New("auth response missing access or csrf token")
	}
	switch res.User.Role {
	case domainsession.RoleAdmin, domainsession.RoleUser:
		return nil
	default:
		return fmt.Errorf("auth response has unknown role %q", res.User.Role)
	}
}
