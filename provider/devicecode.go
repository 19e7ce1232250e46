package provider

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"

	autherrors "github.com/dashieapp/dashie-auth/internal/errors"
	"github.com/dashieapp/dashie-auth/session"
)

// DeviceCodeConfig carries the upstream provider settings for the standard
// OAuth device authorization grant.
type DeviceCodeConfig struct {
	ClientID      string
	ClientSecret  string
	DeviceAuthURL string
	TokenURL      string
	UserInfoURL   string
	Scopes        []string
}

// DeviceCodeAdapter runs the device authorization grant directly against the
// upstream identity provider. The device shows the provider's user code and
// polls the provider's token endpoint until the user approves on their phone.
type DeviceCodeAdapter struct {
	cfg        DeviceCodeConfig
	oauth      *oauth2.Config
	httpClient *http.Client
	nowTime    func() time.Time
}

func NewDeviceCodeAdapter(cfg DeviceCodeConfig) *DeviceCodeAdapter {
	return &DeviceCodeAdapter{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				DeviceAuthURL: cfg.DeviceAuthURL,
				TokenURL:      cfg.TokenURL,
			},
			Scopes: cfg.Scopes,
		},
		httpClient: &http.Client{Timeout: 10 * time.Second},
		nowTime:    time.Now,
	}
}

func (a *DeviceCodeAdapter) Kind() session.Provider {
	return session.ProviderDeviceFlow
}

func (a *DeviceCodeAdapter) Init(_ context.Context) error {
	if a.cfg.ClientID == "" || a.cfg.DeviceAuthURL == "" || a.cfg.TokenURL == "" {
		return errors.Wrap(autherrors.ErrAdapterUnavailable, "device code flow not configured")
	}
	return nil
}

// SignIn requests a device code, surfaces it to the caller through
// opts.OnUserCode, then blocks polling the token endpoint. Cancellation of
// ctx abandons the flow.
func (a *DeviceCodeAdapter) SignIn(ctx context.Context, opts SignInOptions) (*Result, error) {
	if err := a.Init(ctx); err != nil {
		return nil, err
	}

	deviceAuth, err := a.oauth.DeviceAuth(ctx)
	if err != nil {
		return nil, classifyOAuthError(err, "[DeviceCodeAdapter.SignIn] device auth")
	}

	if opts.OnUserCode != nil {
		uri := deviceAuth.VerificationURIComplete
		if uri == "" {
			uri = deviceAuth.VerificationURI
		}
		opts.OnUserCode(deviceAuth.UserCode, uri)
	}

	// DeviceAccessToken handles authorization_pending, slow_down and the
	// interval internally and returns once the user approves or the code
	// expires.
	tok, err := a.oauth.DeviceAccessToken(ctx, deviceAuth)
	if err != nil {
		if ctx.Err() != nil {
			return nil, autherrors.ErrSignInCancelled
		}
		return nil, classifyOAuthError(err, "[DeviceCodeAdapter.SignIn] token")
	}

	info, err := fetchUserInfo(ctx, a.httpClient, a.cfg.UserInfoURL, tok.AccessToken)
	if err != nil {
		return nil, errors.Wrap(err, "[DeviceCodeAdapter.SignIn]")
	}

	return &Result{Session: &session.Session{
		UserID:       info.Sub,
		Email:        info.Email,
		DisplayName:  info.Name,
		PictureURL:   info.Picture,
		Provider:     a.Kind(),
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenExpiry:  tok.Expiry,
		CreatedAt:    a.nowTime(),
	}}, nil
}

// SignOut has no provider-side state for the device grant.
func (a *DeviceCodeAdapter) SignOut(_ context.Context, _ *session.Session) error {
	return nil
}

func (a *DeviceCodeAdapter) CurrentUser(_ context.Context) (*Result, error) {
	return nil, autherrors.ErrNoSession
}

func (a *DeviceCodeAdapter) Refresh(ctx context.Context, sess *session.Session) (*Result, error) {
	if sess == nil || sess.RefreshToken == "" {
		return nil, autherrors.ErrInvalidGrant
	}

	src := a.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: sess.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, classifyOAuthError(err, "[DeviceCodeAdapter.Refresh]")
	}

	refreshed := *sess
	refreshed.AccessToken = tok.AccessToken
	refreshed.TokenExpiry = tok.Expiry
	if tok.RefreshToken != "" {
		refreshed.RefreshToken = tok.RefreshToken
	}
	return &Result{Session: &refreshed}, nil
}

var _ Adapter = (*DeviceCodeAdapter)(nil)
