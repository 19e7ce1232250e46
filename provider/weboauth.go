package provider

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"

	autherrors "github.com/dashieapp/dashie-auth/internal/errors"
	"github.com/dashieapp/dashie-auth/session"
)

// WebOAuthConfig carries the upstream provider endpoints for the plain web
// OAuth (authorization code + PKCE) flow.
type WebOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	RevokeURL    string
	Scopes       []string
}

// WebOAuthAdapter implements the redirect-based authorization code flow. Its
// SignIn only produces a redirect URL; the session materializes when the host
// shell hands the callback parameters back through CompleteCallback.
type WebOAuthAdapter struct {
	oauth       *oauth2.Config
	userInfoURL string
	revokeURL   string
	flowStates  FlowStateRepo
	httpClient  *http.Client
	nowTime     func() time.Time
}

// NewWebOAuthAdapter creates the web OAuth adapter.
func NewWebOAuthAdapter(cfg WebOAuthConfig, flowStates FlowStateRepo) *WebOAuthAdapter {
	return &WebOAuthAdapter{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
			Scopes: cfg.Scopes,
		},
		userInfoURL: cfg.UserInfoURL,
		revokeURL:   cfg.RevokeURL,
		flowStates:  flowStates,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		nowTime:     time.Now,
	}
}

func (a *WebOAuthAdapter) Kind() session.Provider {
	return session.ProviderWebOAuth
}

func (a *WebOAuthAdapter) Init(ctx context.Context) error {
	if a.oauth.ClientID == "" {
		return errors.Wrap(autherrors.ErrAdapterUnavailable, "no client ID configured")
	}
	return nil
}

// SignIn starts the redirect: state and PKCE verifier are stashed in the
// flow-state repo and the caller is told where to send the browser.
func (a *WebOAuthAdapter) SignIn(ctx context.Context, _ SignInOptions) (*Result, error) {
	state, err := randomURLString(16)
	if err != nil {
		return nil, errors.Wrap(err, "[WebOAuthAdapter.SignIn] state")
	}
	verifier := oauth2.GenerateVerifier()

	if err := a.flowStates.Upsert(state, &FlowState{
		CodeVerifier: verifier,
		CreatedAt:    a.nowTime(),
	}); err != nil {
		return nil, errors.Wrap(err, "[WebOAuthAdapter.SignIn] store flow state")
	}

	authURL := a.oauth.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.S256ChallengeOption(verifier),
	)
	return &Result{Redirected: true, RedirectURL: authURL}, nil
}

// CompleteCallback finishes the flow on the next page load: validates state,
// exchanges the code with the stored PKCE verifier, and builds the session
// from the provider's userinfo.
func (a *WebOAuthAdapter) CompleteCallback(ctx context.Context, params CallbackParams) (*Result, error) {
	if params.Error != "" {
		return nil, errors.Wrapf(autherrors.ErrUnauthorized, "provider returned %s: %s", params.Error, params.ErrorDescription)
	}
	if params.Code == "" || params.State == "" {
		return nil, errors.Wrap(autherrors.ErrUnauthorized, "missing code or state")
	}

	flowState, err := a.flowStates.Get(params.State)
	if err != nil || flowState == nil {
		return nil, errors.Wrap(autherrors.ErrUnauthorized, "unknown state parameter")
	}
	// State is single-use regardless of the exchange outcome.
	_ = a.flowStates.Delete(params.State)

	tok, err := a.oauth.Exchange(ctx, params.Code, oauth2.VerifierOption(flowState.CodeVerifier))
	if err != nil {
		return nil, classifyOAuthError(err, "[WebOAuthAdapter.CompleteCallback] exchange")
	}

	info, err := fetchUserInfo(ctx, a.httpClient, a.userInfoURL, tok.AccessToken)
	if err != nil {
		return nil, err
	}

	return &Result{Session: a.sessionFromToken(tok, info)}, nil
}

// SignOut revokes the access token with the provider. Best effort.
func (a *WebOAuthAdapter) SignOut(ctx context.Context, sess *session.Session) error {
	if a.revokeURL == "" || sess == nil {
		return nil
	}
	tok := sess.RefreshToken
	if tok == "" {
		tok = sess.AccessToken
	}

	form := url.Values{"token": {tok}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return errors.Wrap(err, "[WebOAuthAdapter.SignOut] build request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return autherrors.Transient(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("[WebOAuthAdapter.SignOut] revoke returned %d", resp.StatusCode)
	}
	return nil
}

// CurrentUser has no answer for a redirect flow; the stored session is the
// only record of a signed-in user.
func (a *WebOAuthAdapter) CurrentUser(ctx context.Context) (*Result, error) {
	return nil, autherrors.ErrNoSession
}

// Refresh exchanges the session's refresh token for a new access token.
func (a *WebOAuthAdapter) Refresh(ctx context.Context, sess *session.Session) (*Result, error) {
	if sess == nil || sess.RefreshToken == "" {
		return nil, autherrors.ErrInvalidGrant
	}

	src := a.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: sess.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, classifyOAuthError(err, "[WebOAuthAdapter.Refresh]")
	}

	refreshed := *sess
	refreshed.AccessToken = tok.AccessToken
	refreshed.TokenExpiry = tok.Expiry
	if tok.RefreshToken != "" {
		refreshed.RefreshToken = tok.RefreshToken
	}
	return &Result{Session: &refreshed}, nil
}

func (a *WebOAuthAdapter) sessionFromToken(tok *oauth2.Token, info *userInfo) *session.Session {
	return &session.Session{
		UserID:       info.Sub,
		Email:        info.Email,
		DisplayName:  info.Name,
		PictureURL:   info.Picture,
		Provider:     a.Kind(),
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenExpiry:  tok.Expiry,
		CreatedAt:    a.nowTime(),
	}
}

// classifyOAuthError maps oauth2 transport failures onto the taxonomy:
// invalid_grant and unauthorized_client are terminal, server-side failures
// are transient.
func classifyOAuthError(err error, context string) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		switch retrieveErr.ErrorCode {
		case "invalid_grant", "unauthorized_client", "access_denied":
			return errors.Wrap(autherrors.ErrInvalidGrant, context)
		}
		if retrieveErr.Response != nil && retrieveErr.Response.StatusCode >= 500 {
			return autherrors.Transient(errors.Wrap(err, context))
		}
		return errors.Wrap(err, context)
	}
	return autherrors.Transient(errors.Wrap(err, context))
}

func randomURLString(byteLength int) (string, error) {
	bytes := make([]byte, byteLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}

var (
	_ Adapter           = (*WebOAuthAdapter)(nil)
	_ CallbackCompleter = (*WebOAuthAdapter)(nil)
)
