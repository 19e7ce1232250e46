package provider

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/dashieapp/dashie-auth/deviceflow"
	autherrors "github.com/dashieapp/dashie-auth/internal/errors"
	"github.com/dashieapp/dashie-auth/session"
)

// HybridDeviceFlowAdapter runs the device flow against the Dashie backend
// rather than the upstream provider: the backend mints the user code, a
// signed-in phone completes upstream consent on the device's behalf, and the
// poll that finds the ticket authorized receives the session material.
type HybridDeviceFlowAdapter struct {
	client     *deviceflow.Client
	deviceType string
	deviceName string
	nowTime    func() time.Time
}

// HybridOption defines a function type to modify the adapter instance.
type HybridOption func(*HybridDeviceFlowAdapter)

// WithHybridNowTime replaces the clock (primarily for testing).
func WithHybridNowTime(now func() time.Time) HybridOption {
	return func(a *HybridDeviceFlowAdapter) {
		a.nowTime = now
	}
}

// NewHybridDeviceFlowAdapter creates the hybrid adapter.
func NewHybridDeviceFlowAdapter(client *deviceflow.Client, deviceType, deviceName string, options ...HybridOption) (*HybridDeviceFlowAdapter, error) {
	if client == nil {
		return nil, errors.New("[NewHybridDeviceFlowAdapter] nil client")
	}
	if deviceType == "" {
		deviceType = "tv"
	}
	a := &HybridDeviceFlowAdapter{
		client:     client,
		deviceType: deviceType,
		deviceName: deviceName,
		nowTime:    time.Now,
	}
	for _, opt := range options {
		opt(a)
	}
	return a, nil
}

func (a *HybridDeviceFlowAdapter) Kind() session.Provider {
	return session.ProviderDeviceFlow
}

// Init probes the backend's health endpoint. When the backend is down the
// coordinator falls through to the plain upstream device flow.
func (a *HybridDeviceFlowAdapter) Init(ctx context.Context) error {
	if a.client.Reachable(ctx) {
		return nil
	}
	return errors.Wrap(autherrors.ErrAdapterUnavailable, "device flow backend unreachable")
}

// SignIn opens a ticket, surfaces the user code, then polls sequentially at
// the server-assigned interval until authorized, expired or cancelled. Polls
// never overlap; a slow response simply delays the next one.
func (a *HybridDeviceFlowAdapter) SignIn(ctx context.Context, opts SignInOptions) (*Result, error) {
	created, err := a.client.CreateDeviceCode(ctx, deviceflow.CreateRequest{
		DeviceType: a.deviceType,
		DeviceName: a.deviceName,
	})
	if err != nil {
		return nil, errors.Wrap(err, "[HybridDeviceFlowAdapter.SignIn] create")
	}

	if opts.OnUserCode != nil {
		uri := created.VerificationURIComplete
		if uri == "" {
			uri = created.VerificationURI
		}
		opts.OnUserCode(created.UserCode, uri)
	}

	interval := time.Duration(created.Interval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	deadline := a.nowTime().Add(time.Duration(created.ExpiresIn) * time.Second)

	timer := time.NewTimer(interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, autherrors.ErrSignInCancelled
		case <-timer.C:
		}

		if !a.nowTime().Before(deadline) {
			return nil, autherrors.ErrTicketExpired
		}

		resp, err := a.client.PollDeviceCode(ctx, created.DeviceCode)
		if err != nil {
			if ctx.Err() != nil {
				return nil, autherrors.ErrSignInCancelled
			}
			if autherrors.IsTransient(err) {
				// The ticket outlives a flaky network; keep polling until
				// the code expires.
				timer.Reset(interval)
				continue
			}
			return nil, errors.Wrap(err, "[HybridDeviceFlowAdapter.SignIn] poll")
		}

		switch resp.Status {
		case deviceflow.PollStatusPending:
			if resp.Interval > 0 {
				interval = time.Duration(resp.Interval) * time.Second
			}
			timer.Reset(interval)
		case deviceflow.PollStatusAuthorized:
			return a.sessionFromPayload(resp.Session)
		case deviceflow.PollStatusExpired:
			return nil, autherrors.ErrTicketExpired
		default:
			return nil, errors.Wrapf(autherrors.ErrTicketAlreadyConsumed, "poll status %q", resp.Status)
		}
	}
}

// SignOut drops nothing server-side; the backend's refresh token dies on its
// own schedule and the local session is cleared by the manager.
func (a *HybridDeviceFlowAdapter) SignOut(_ context.Context, _ *session.Session) error {
	return nil
}

func (a *HybridDeviceFlowAdapter) CurrentUser(_ context.Context) (*Result, error) {
	return nil, autherrors.ErrNoSession
}

// Refresh exchanges the backend refresh token for a fresh credential.
func (a *HybridDeviceFlowAdapter) Refresh(ctx context.Context, sess *session.Session) (*Result, error) {
	if sess == nil || sess.RefreshToken == "" {
		return nil, autherrors.ErrInvalidGrant
	}
	payload, err := a.client.RefreshCredential(ctx, sess.RefreshToken)
	if err != nil {
		return nil, errors.Wrap(err, "[HybridDeviceFlowAdapter.Refresh]")
	}
	return a.sessionFromPayload(payload)
}

func (a *HybridDeviceFlowAdapter) sessionFromPayload(payload *deviceflow.SessionPayload) (*Result, error) {
	if payload == nil {
		return nil, errors.New("[HybridDeviceFlowAdapter] authorized response missing session")
	}
	sess := &session.Session{
		UserID:       payload.User.UserID,
		Email:        payload.User.Email,
		DisplayName:  payload.User.DisplayName,
		PictureURL:   payload.User.PictureURL,
		Provider:     a.Kind(),
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		TokenExpiry:  payload.TokenExpiry,
		CreatedAt:    a.nowTime(),
	}
	if err := sess.Validate(); err != nil {
		return nil, errors.Wrap(err, "[HybridDeviceFlowAdapter] invalid session payload")
	}
	return &Result{Session: sess}, nil
}

var _ Adapter = (*HybridDeviceFlowAdapter)(nil)
