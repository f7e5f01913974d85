package session

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/fieldserve/client-go/apierror"
	"github.com/fieldserve/client-go/internal/config"
	"github.com/fieldserve/client-go/internal/metrics"
	"github.com/fieldserve/client-go/internal/token"
	"github.com/fieldserve/client-go/internal/transport"
)

// Op identifies the auth operation currently in flight. Exactly one
// operation runs at a time; a second Login is rejected, while CheckAuth,
// CurrentUser and RefreshAccessToken collapse into the in-flight one.
type Op int

const (
	OpIdle Op = iota
	OpLoggingIn
	OpCheckingAuth
	OpRefreshing
	OpFetchingProfile
)

func (o Op) String() string {
	switch o {
	case OpIdle:
		return "idle"
	case OpLoggingIn:
		return "login"
	case OpCheckingAuth:
		return "auth check"
	case OpRefreshing:
		return "token refresh"
	case OpFetchingProfile:
		return "profile fetch"
	default:
		return "unknown"
	}
}

// User is the authenticated account's profile.
type User struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
}

// Credentials are login parameters.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Registration are account-creation parameters.
type Registration struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

type tokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

type registerResponse struct {
	tokenPair
	User *User `json:"user"`
}

// Manager owns authentication state. It is the transport's token source
// and its auth-failure hook: any 401 seen by the transport forces a full
// logout through ForceLogout.
type Manager struct {
	core    *transport.Core
	store   *FileStore
	logger  *slog.Logger
	leeway  time.Duration
	recheck time.Duration

	mu            sync.Mutex
	op            Op
	accessToken   string
	refreshToken  string
	user          *User
	authenticated bool
	lastCheck     time.Time
	refreshTimer  *time.Timer

	// refreshFn runs when the proactive timer fires. Replaced in tests.
	refreshFn func()
}

// NewManager restores any persisted session, wires the manager into the
// transport as token source and 401 hook, and arms the refresh timer when
// a live session was restored.
func NewManager(core *transport.Core, store *FileStore, cfg config.SessionConfig, logger *slog.Logger) (*Manager, error) {
	m := &Manager{
		core:    core,
		store:   store,
		logger:  logger,
		leeway:  cfg.RefreshLeeway,
		recheck: cfg.RecheckInterval,
	}
	m.refreshFn = func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := m.RefreshAccessToken(ctx); err != nil {
			m.logger.Warn("scheduled token refresh failed", "error", err)
		}
	}

	rec, err := store.Load()
	if err != nil {
		return nil, err
	}
	if rec != nil {
		m.mu.Lock()
		m.accessToken = rec.AccessToken
		m.refreshToken = rec.RefreshToken
		m.user = rec.User
		m.authenticated = rec.IsAuthenticated
		if m.authenticated && m.accessToken != "" {
			m.scheduleRefreshLocked()
		}
		m.mu.Unlock()
		logger.Info("session restored", "authenticated", rec.IsAuthenticated)
	}

	core.SetTokenSource(m)
	core.SetAuthFailureHook(m.ForceLogout)
	return m, nil
}

// Close cancels the refresh timer. The persisted session is left intact.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelTimerLocked()
	return nil
}

// AccessToken implements transport.TokenSource.
func (m *Manager) AccessToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accessToken
}

// IsAuthenticated reports whether a session is currently established.
func (m *Manager) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authenticated
}

// User returns the cached profile, nil when logged out.
func (m *Manager) User() *User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.user
}

// IsTokenExpired reports whether the current access token is absent,
// expired, or undecodable.
func (m *Manager) IsTokenExpired() bool {
	m.mu.Lock()
	tok := m.accessToken
	m.mu.Unlock()
	return tok == "" || token.IsExpired(tok)
}

// Login authenticates and establishes a session. A login while any other
// auth operation is in flight is rejected with AUTH_IN_PROGRESS. On any
// failure the session is fully cleared before the error is returned.
func (m *Manager) Login(ctx context.Context, creds Credentials) error {
	if err := m.begin(OpLoggingIn); err != nil {
		return err
	}
	defer m.end()

	var tp tokenPair
	err := m.core.Do(ctx, transport.Request{
		Method:       http.MethodPost,
		Path:         "/auth/login",
		Body:         creds,
		Handler:      apierror.AuthHandler(),
		NoAuth:       true,
		SkipAuthHook: true,
	}, &tp)
	if err != nil {
		metrics.AuthFailures.WithLabelValues("login").Inc()
		m.forceLogout("login failed")
		return err
	}

	m.installTokens(tp.AccessToken, tp.RefreshToken)

	user, err := m.fetchProfile(ctx)
	if err != nil {
		m.forceLogout("profile fetch after login failed")
		return err
	}

	m.mu.Lock()
	m.user = user
	m.authenticated = true
	m.lastCheck = time.Now()
	m.persistLocked()
	m.mu.Unlock()

	m.logger.Info("logged in", "email", creds.Email)
	return nil
}

// Register creates an account. When the backend returns tokens inline the
// session is established immediately; otherwise the caller is expected to
// follow up with Login.
func (m *Manager) Register(ctx context.Context, reg Registration) error {
	if err := m.begin(OpLoggingIn); err != nil {
		return err
	}
	defer m.end()

	var resp registerResponse
	err := m.core.Do(ctx, transport.Request{
		Method:       http.MethodPost,
		Path:         "/auth/register",
		Body:         reg,
		Handler:      apierror.AuthHandler(),
		NoAuth:       true,
		SkipAuthHook: true,
	}, &resp)
	if err != nil {
		m.forceLogout("registration failed")
		return err
	}

	if resp.AccessToken == "" {
		// No auto-login; account exists but the user must log in.
		return nil
	}

	m.installTokens(resp.AccessToken, resp.RefreshToken)

	user := resp.User
	if user == nil {
		if user, err = m.fetchProfile(ctx); err != nil {
			m.forceLogout("profile fetch after registration failed")
			return err
		}
	}

	m.mu.Lock()
	m.user = user
	m.authenticated = true
	m.lastCheck = time.Now()
	m.persistLocked()
	m.mu.Unlock()
	return nil
}

// Logout invalidates the session server-side on a best-effort basis, then
// unconditionally clears in-memory and persisted state and cancels any
// pending refresh timer.
func (m *Manager) Logout(ctx context.Context) error {
	err := m.core.Do(ctx, transport.Request{
		Method:       http.MethodPost,
		Path:         "/auth/logout",
		SkipAuthHook: true,
	}, nil)
	if err != nil {
		m.logger.Debug("server-side logout failed, clearing anyway", "error", err)
	}
	m.forceLogout("logout")
	return nil
}

// CurrentUser fetches the authenticated profile. Concurrent calls collapse
// into the in-flight operation and return the cached profile. A 401 forces
// a full logout.
func (m *Manager) CurrentUser(ctx context.Context) (*User, error) {
	m.mu.Lock()
	if m.op != OpIdle {
		u := m.user
		m.mu.Unlock()
		return u, nil
	}
	m.op = OpFetchingProfile
	m.mu.Unlock()
	defer m.end()

	user, err := m.fetchProfile(ctx)
	if err != nil {
		if apiErr, ok := apierror.From(err); ok && apiErr.Status == http.StatusUnauthorized {
			m.forceLogout("profile unauthorized")
		}
		return nil, err
	}

	m.mu.Lock()
	m.user = user
	m.authenticated = true
	m.persistLocked()
	m.mu.Unlock()
	return user, nil
}

// CheckAuth verifies the session. When already authenticated it no-ops
// within the re-check interval. An absent or expired access token triggers
// a refresh when a live refresh token exists, otherwise a logout.
func (m *Manager) CheckAuth(ctx context.Context) (bool, error) {
	m.mu.Lock()
	if m.op != OpIdle {
		auth := m.authenticated
		m.mu.Unlock()
		return auth, nil
	}
	if m.authenticated && time.Since(m.lastCheck) < m.recheck {
		m.mu.Unlock()
		return true, nil
	}
	access := m.accessToken
	refresh := m.refreshToken
	haveUser := m.user != nil
	m.op = OpCheckingAuth
	m.mu.Unlock()
	defer m.end()

	if access == "" || token.IsExpired(access) {
		if refresh == "" || token.IsExpired(refresh) {
			m.forceLogout("no live credentials")
			return false, nil
		}
		if err := m.refresh(ctx); err != nil {
			// refresh already forced the logout
			return false, nil
		}
		m.mu.Lock()
		m.lastCheck = time.Now()
		m.mu.Unlock()
		return true, nil
	}

	if !haveUser {
		user, err := m.fetchProfile(ctx)
		if err != nil {
			if apiErr, ok := apierror.From(err); ok && apiErr.Status == http.StatusUnauthorized {
				m.forceLogout("profile unauthorized")
				return false, nil
			}
			return false, err
		}
		m.mu.Lock()
		m.user = user
		m.mu.Unlock()
	}

	m.mu.Lock()
	m.authenticated = true
	m.lastCheck = time.Now()
	m.persistLocked()
	m.mu.Unlock()
	return true, nil
}

// refreshRetryDelay is how long a refresh that collapsed into another
// in-flight operation waits before retrying. Shortened in tests.
var refreshRetryDelay = time.Second

// RefreshAccessToken exchanges the refresh token for a new access token.
// Concurrent calls collapse into the in-flight operation; a collapsed call
// re-arms a short retry timer so a scheduled proactive refresh is deferred
// rather than lost. An expired refresh token or a failed exchange forces a
// logout; refresh failures are fatal for the session, never retried.
func (m *Manager) RefreshAccessToken(ctx context.Context) error {
	m.mu.Lock()
	if m.op != OpIdle {
		if m.refreshToken != "" {
			m.cancelTimerLocked()
			m.refreshTimer = time.AfterFunc(refreshRetryDelay, m.refreshFn)
		}
		m.mu.Unlock()
		return nil
	}
	m.op = OpRefreshing
	m.mu.Unlock()
	defer m.end()

	return m.refresh(ctx)
}

// ForceLogout clears the session without a server call. Installed as the
// transport's auth-failure hook, so any 401 anywhere tears the session down.
func (m *Manager) ForceLogout() {
	m.forceLogout("unauthorized response")
}

// refresh performs the token exchange. The caller holds the operation slot.
func (m *Manager) refresh(ctx context.Context) error {
	m.mu.Lock()
	rt := m.refreshToken
	m.mu.Unlock()

	if rt == "" || token.IsExpired(rt) {
		metrics.TokenRefreshes.WithLabelValues("expired").Inc()
		m.forceLogout("refresh token expired")
		return &apierror.Error{
			Message:   "Your session has expired. Please log in again.",
			Code:      apierror.HTTPCode(http.StatusUnauthorized),
			Status:    http.StatusUnauthorized,
			Retryable: false,
		}
	}

	var tp tokenPair
	err := m.core.Do(ctx, transport.Request{
		Method:       http.MethodPost,
		Path:         "/auth/refresh",
		Body:         map[string]string{"refresh_token": rt},
		Handler:      apierror.AuthHandler(),
		NoAuth:       true,
		SkipAuthHook: true,
	}, &tp)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues("failure").Inc()
		m.forceLogout("token refresh failed")
		return err
	}

	m.installTokens(tp.AccessToken, tp.RefreshToken)

	m.mu.Lock()
	m.authenticated = true
	m.persistLocked()
	m.mu.Unlock()

	metrics.TokenRefreshes.WithLabelValues("success").Inc()
	m.logger.Info("access token refreshed")
	return nil
}

func (m *Manager) fetchProfile(ctx context.Context) (*User, error) {
	var user User
	err := m.core.Do(ctx, transport.Request{
		Method:       http.MethodGet,
		Path:         "/auth/me",
		Handler:      apierror.AuthHandler(),
		SkipAuthHook: true,
	}, &user)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// installTokens stores new tokens, persists, and re-arms the refresh timer.
// An empty rotated refresh token keeps the previous one.
func (m *Manager) installTokens(access, refresh string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accessToken = access
	if refresh != "" {
		m.refreshToken = refresh
	}
	m.persistLocked()
	m.scheduleRefreshLocked()
}

// scheduleRefreshLocked arms the one-shot proactive refresh timer. Any
// previously armed timer is cancelled first; there is never more than one
// timer per session. A token inside the leeway window refreshes right away.
func (m *Manager) scheduleRefreshLocked() {
	m.cancelTimerLocked()

	ttl, ok := token.TimeUntilExpiry(m.accessToken)
	if !ok {
		return
	}
	delay := ttl - m.leeway
	if delay <= 0 {
		go m.refreshFn()
		return
	}
	m.refreshTimer = time.AfterFunc(delay, m.refreshFn)
	m.logger.Debug("refresh timer armed", "fires_in", delay)
}

func (m *Manager) cancelTimerLocked() {
	if m.refreshTimer != nil {
		m.refreshTimer.Stop()
		m.refreshTimer = nil
	}
}

// persistLocked writes the durable fields synchronously so the transport
// always reads a token consistent with what is on disk.
func (m *Manager) persistLocked() {
	rec := &Record{
		AccessToken:     m.accessToken,
		RefreshToken:    m.refreshToken,
		User:            m.user,
		IsAuthenticated: m.authenticated,
	}
	if ms, ok := token.ExpiryEpochMillis(m.accessToken); ok {
		rec.TokenExpiry = ms
	}
	if err := m.store.Save(rec); err != nil {
		m.logger.Warn("persisting session failed", "error", err)
	}
}

func (m *Manager) forceLogout(reason string) {
	m.mu.Lock()
	m.cancelTimerLocked()
	m.accessToken = ""
	m.refreshToken = ""
	m.user = nil
	m.authenticated = false
	m.lastCheck = time.Time{}
	m.mu.Unlock()

	if err := m.store.Clear(); err != nil {
		m.logger.Warn("clearing persisted session failed", "error", err)
	}
	m.logger.Info("session cleared", "reason", reason)
}

func (m *Manager) begin(op Op) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.op != OpIdle {
		return apierror.AuthInProgress(m.op.String())
	}
	m.op = op
	return nil
}

func (m *Manager) end() {
	m.mu.Lock()
	m.op = OpIdle
	m.mu.Unlock()
}
