package client

import (
	"context"

	"github.com/fieldserve/client-go/internal/session"
)

// Session types re-exported for callers of the auth service.
type (
	User         = session.User
	Credentials  = session.Credentials
	Registration = session.Registration
)

// AuthService exposes the session lifecycle. Auth operations are never
// retried: a failed login or refresh is an answer, and duplicating them
// would stack credential attempts.
type AuthService struct {
	c *Client
}

// Login authenticates and establishes a session, fetching the profile and
// arming the proactive refresh timer.
func (s *AuthService) Login(ctx context.Context, creds Credentials) error {
	return s.c.session.Login(ctx, creds)
}

// Register creates an account, auto-logging in when the backend returns
// tokens inline.
func (s *AuthService) Register(ctx context.Context, reg Registration) error {
	return s.c.session.Register(ctx, reg)
}

// Logout invalidates the session server-side on a best-effort basis and
// unconditionally clears local state.
func (s *AuthService) Logout(ctx context.Context) error {
	return s.c.session.Logout(ctx)
}

// CurrentUser fetches the authenticated profile.
func (s *AuthService) CurrentUser(ctx context.Context) (*User, error) {
	return s.c.session.CurrentUser(ctx)
}

// CheckAuth verifies the session, refreshing an expired access token when
// a live refresh token exists.
func (s *AuthService) CheckAuth(ctx context.Context) (bool, error) {
	return s.c.session.CheckAuth(ctx)
}

// RefreshAccessToken forces an immediate token refresh.
func (s *AuthService) RefreshAccessToken(ctx context.Context) error {
	return s.c.session.RefreshAccessToken(ctx)
}

// IsAuthenticated reports whether a session is established.
func (s *AuthService) IsAuthenticated() bool {
	return s.c.session.IsAuthenticated()
}

// IsTokenExpired reports whether the access token is absent or expired.
func (s *AuthService) IsTokenExpired() bool {
	return s.c.session.IsTokenExpired()
}

// User returns the cached profile without a network call.
func (s *AuthService) User() *User {
	return s.c.session.User()
}
