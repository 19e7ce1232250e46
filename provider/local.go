package provider

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	autherrors "github.com/dashieapp/dashie-auth/internal/errors"
	"github.com/dashieapp/dashie-auth/session"
)

const localSessionLifetime = 365 * 24 * time.Hour

// LocalIdentityAdapter is the degraded mode: when no real adapter can run it
// mints a pseudo-identity so the dashboard still works against local data.
// Nothing produced here is ever sent to a remote service.
type LocalIdentityAdapter struct {
	displayName string
	nowTime     func() time.Time
}

// LocalOption defines a function type to modify the adapter instance.
type LocalOption func(*LocalIdentityAdapter)

// WithLocalNowTime replaces the clock (primarily for testing).
func WithLocalNowTime(now func() time.Time) LocalOption {
	return func(a *LocalIdentityAdapter) {
		a.nowTime = now
	}
}

func NewLocalIdentityAdapter(displayName string, options ...LocalOption) *LocalIdentityAdapter {
	if displayName == "" {
		displayName = "Dashie Family"
	}
	a := &LocalIdentityAdapter{displayName: displayName, nowTime: time.Now}
	for _, opt := range options {
		opt(a)
	}
	return a
}

func (a *LocalIdentityAdapter) Kind() session.Provider {
	return session.ProviderLocal
}

// Init always succeeds; local identity is the floor every environment has.
func (a *LocalIdentityAdapter) Init(_ context.Context) error {
	return nil
}

func (a *LocalIdentityAdapter) SignIn(_ context.Context, _ SignInOptions) (*Result, error) {
	token, err := randomURLString(32)
	if err != nil {
		return nil, errors.Wrap(err, "[LocalIdentityAdapter.SignIn]")
	}
	now := a.nowTime()
	return &Result{Session: &session.Session{
		UserID:      "local-" + uuid.NewString(),
		Email:       "",
		DisplayName: a.displayName,
		Provider:    a.Kind(),
		AccessToken: token,
		TokenExpiry: now.Add(localSessionLifetime),
		CreatedAt:   now,
	}}, nil
}

func (a *LocalIdentityAdapter) SignOut(_ context.Context, _ *session.Session) error {
	return nil
}

func (a *LocalIdentityAdapter) CurrentUser(_ context.Context) (*Result, error) {
	return nil, autherrors.ErrNoSession
}

// Refresh re-stamps the expiry. The token is meaningless outside this
// process, so there is nothing to rotate against.
func (a *LocalIdentityAdapter) Refresh(_ context.Context, sess *session.Session) (*Result, error) {
	if sess == nil {
		return nil, autherrors.ErrNoSession
	}
	refreshed := *sess
	refreshed.TokenExpiry = a.nowTime().Add(localSessionLifetime)
	return &Result{Session: &refreshed}, nil
}

var _ Adapter = (*LocalIdentityAdapter)(nil)
