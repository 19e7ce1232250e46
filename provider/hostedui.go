package provider

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"

	autherrors "github.com/dashieapp/dashie-auth/internal/errors"
	"github.com/dashieapp/dashie-auth/session"
)

// HostedUIConfig carries the hosted identity provider (OIDC) settings.
type HostedUIConfig struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	LogoutURL    string
	Scopes       []string
}

// HostedUIAdapter signs in through a hosted identity provider's own UI:
// discovery via OIDC, redirect to the hosted login page, and ID-token (plus
// nonce) verification on the way back.
type HostedUIAdapter struct {
	cfg        HostedUIConfig
	flowStates FlowStateRepo
	httpClient *http.Client
	nowTime    func() time.Time

	mu       sync.Mutex
	provider *oidc.Provider
	oauth    *oauth2.Config
}

// NewHostedUIAdapter creates the hosted-UI adapter. Discovery is deferred to
// Init so construction never touches the network.
func NewHostedUIAdapter(cfg HostedUIConfig, flowStates FlowStateRepo) *HostedUIAdapter {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}
	return &HostedUIAdapter{
		cfg:        cfg,
		flowStates: flowStates,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		nowTime:    time.Now,
	}
}

func (a *HostedUIAdapter) Kind() session.Provider {
	return session.ProviderHostedUI
}

// Init runs OIDC discovery against the configured issuer. An unreachable or
// unconfigured issuer makes the adapter unavailable, which the coordinator
// treats as "fall back," not as a user-facing failure.
func (a *HostedUIAdapter) Init(ctx context.Context) error {
	if a.cfg.IssuerURL == "" || a.cfg.ClientID == "" {
		return errors.Wrap(autherrors.ErrAdapterUnavailable, "hosted UI not configured")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.provider != nil {
		return nil
	}

	provider, err := oidc.NewProvider(ctx, a.cfg.IssuerURL)
	if err != nil {
		return errors.Wrap(autherrors.ErrAdapterUnavailable, err.Error())
	}
	a.provider = provider
	a.oauth = &oauth2.Config{
		ClientID:     a.cfg.ClientID,
		ClientSecret: a.cfg.ClientSecret,
		RedirectURL:  a.cfg.RedirectURI,
		Endpoint:     provider.Endpoint(),
		Scopes:       a.cfg.Scopes,
	}
	return nil
}

func (a *HostedUIAdapter) SignIn(ctx context.Context, _ SignInOptions) (*Result, error) {
	if err := a.Init(ctx); err != nil {
		return nil, err
	}

	state, err := randomURLString(16)
	if err != nil {
		return nil, errors.Wrap(err, "[HostedUIAdapter.SignIn] state")
	}
	nonce, err := randomURLString(16)
	if err != nil {
		return nil, errors.Wrap(err, "[HostedUIAdapter.SignIn] nonce")
	}
	verifier := oauth2.GenerateVerifier()

	if err := a.flowStates.Upsert(state, &FlowState{
		CodeVerifier: verifier,
		Nonce:        nonce,
		CreatedAt:    a.nowTime(),
	}); err != nil {
		return nil, errors.Wrap(err, "[HostedUIAdapter.SignIn] store flow state")
	}

	authURL := a.oauth.AuthCodeURL(state,
		oauth2.S256ChallengeOption(verifier),
		oidc.Nonce(nonce),
	)
	return &Result{Redirected: true, RedirectURL: authURL}, nil
}

// CompleteCallback exchanges the code and verifies the ID token's signature
// and nonce before trusting any claim in it.
func (a *HostedUIAdapter) CompleteCallback(ctx context.Context, params CallbackParams) (*Result, error) {
	if err := a.Init(ctx); err != nil {
		return nil, err
	}
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
	_ = a.flowStates.Delete(params.State)

	tok, err := a.oauth.Exchange(ctx, params.Code, oauth2.VerifierOption(flowState.CodeVerifier))
	if err != nil {
		return nil, classifyOAuthError(err, "[HostedUIAdapter.CompleteCallback] exchange")
	}

	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok {
		return nil, errors.Wrap(autherrors.ErrUnauthorized, "no ID token in response")
	}

	idToken, err := a.provider.Verifier(&oidc.Config{ClientID: a.cfg.ClientID}).Verify(ctx, rawIDToken)
	if err != nil {
		return nil, errors.Wrap(autherrors.ErrUnauthorized, "ID token verification failed")
	}

	var claims struct {
		Nonce   string `json:"nonce"`
		Sub     string `json:"sub"`
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, errors.Wrap(autherrors.ErrUnauthorized, "failed to extract claims")
	}
	if claims.Nonce != flowState.Nonce {
		return nil, errors.Wrap(autherrors.ErrUnauthorized, "invalid nonce")
	}
	if claims.Sub == "" {
		return nil, errors.Wrap(autherrors.ErrUnauthorized, "ID token missing sub")
	}

	return &Result{Session: &session.Session{
		UserID:       claims.Sub,
		Email:        claims.Email,
		DisplayName:  claims.Name,
		PictureURL:   claims.Picture,
		Provider:     a.Kind(),
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenExpiry:  tok.Expiry,
		CreatedAt:    a.nowTime(),
	}}, nil
}

// SignOut hits the hosted provider's logout endpoint when one is configured.
func (a *HostedUIAdapter) SignOut(ctx context.Context, sess *session.Session) error {
	if a.cfg.LogoutURL == "" {
		return nil
	}

	logoutURL := a.cfg.LogoutURL
	if strings.Contains(logoutURL, "?") {
		logoutURL += "&client_id=" + url.QueryEscape(a.cfg.ClientID)
	} else {
		logoutURL += "?client_id=" + url.QueryEscape(a.cfg.ClientID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, logoutURL, nil)
	if err != nil {
		return errors.Wrap(err, "[HostedUIAdapter.SignOut] build request")
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return autherrors.Transient(err)
	}
	defer resp.Body.Close()
	return nil
}

func (a *HostedUIAdapter) CurrentUser(ctx context.Context) (*Result, error) {
	return nil, autherrors.ErrNoSession
}

// Refresh exchanges the refresh token through the discovered token endpoint.
func (a *HostedUIAdapter) Refresh(ctx context.Context, sess *session.Session) (*Result, error) {
	if err := a.Init(ctx); err != nil {
		return nil, err
	}
	if sess == nil || sess.RefreshToken == "" {
		return nil, autherrors.ErrInvalidGrant
	}

	src := a.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: sess.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, classifyOAuthError(err, "[HostedUIAdapter.Refresh]")
	}

	refreshed := *sess
	refreshed.AccessToken = tok.AccessToken
	refreshed.TokenExpiry = tok.Expiry
	if tok.RefreshToken != "" {
		refreshed.RefreshToken = tok.RefreshToken
	}
	return &Result{Session: &refreshed}, nil
}

var (
	_ Adapter           = (*HostedUIAdapter)(nil)
	_ CallbackCompleter = (*HostedUIAdapter)(nil)
)
