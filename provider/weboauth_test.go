package provider_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	autherrors "github.com/dashieapp/dashie-auth/internal/errors"
	"github.com/dashieapp/dashie-auth/provider"
	"github.com/dashieapp/dashie-auth/session"
)

// fakeIdentityProvider stands in for the upstream OAuth provider's token and
// userinfo endpoints.
type fakeIdentityProvider struct {
	server       *httptest.Server
	lastExchange url.Values
}

func newFakeIdentityProvider(t *testing.T) *fakeIdentityProvider {
	t.Helper()
	p := &fakeIdentityProvider{}
	mux := http.NewServeMux()

	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		p.lastExchange = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "upstream-access",
			"token_type":    "Bearer",
			"refresh_token": "upstream-refresh",
			"expires_in":    3600,
		})
	})
	mux.HandleFunc("GET /userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer upstream-access" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"sub":     "user-1",
			"email":   "jane.doe@example.com",
			"name":    "Jane Doe",
			"picture": "https://example.com/jane.png",
		})
	})

	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

func newWebOAuthAdapter(t *testing.T, p *fakeIdentityProvider) *provider.WebOAuthAdapter {
	t.Helper()
	return provider.NewWebOAuthAdapter(provider.WebOAuthConfig{
		ClientID:     "dashie-client",
		ClientSecret: "dashie-secret",
		RedirectURI:  "http://localhost:3000/callback",
		AuthURL:      p.server.URL + "/authorize",
		TokenURL:     p.server.URL + "/token",
		UserInfoURL:  p.server.URL + "/userinfo",
		Scopes:       []string{"openid", "email", "profile"},
	}, provider.NewInMemoryFlowStateRepo())
}

func TestWebOAuthAdapter_SignIn(t *testing.T) {
	p := newFakeIdentityProvider(t)
	adapter := newWebOAuthAdapter(t, p)

	result, err := adapter.SignIn(context.Background(), provider.SignInOptions{})
	require.NoError(t, err)
	require.True(t, result.Redirected)
	require.Nil(t, result.Session)

	redirect, err := url.Parse(result.RedirectURL)
	require.NoError(t, err)
	q := redirect.Query()
	require.NotEmpty(t, q.Get("state"))
	require.NotEmpty(t, q.Get("code_challenge"))
	require.Equal(t, "S256", q.Get("code_challenge_method"))
	require.Equal(t, "dashie-client", q.Get("client_id"))

	t.Run("each sign-in gets fresh state", func(t *testing.T) {
		second, err := adapter.SignIn(context.Background(), provider.SignInOptions{})
		require.NoError(t, err)
		secondURL, err := url.Parse(second.RedirectURL)
		require.NoError(t, err)
		require.NotEqual(t, q.Get("state"), secondURL.Query().Get("state"))
	})
}

func TestWebOAuthAdapter_CompleteCallback(t *testing.T) {
	p := newFakeIdentityProvider(t)
	adapter := newWebOAuthAdapter(t, p)

	started, err := adapter.SignIn(context.Background(), provider.SignInOptions{})
	require.NoError(t, err)
	redirect, err := url.Parse(started.RedirectURL)
	require.NoError(t, err)
	state := redirect.Query().Get("state")

	result, err := adapter.CompleteCallback(context.Background(), provider.CallbackParams{
		Code:  "auth-code-1",
		State: state,
	})
	require.NoError(t, err)
	require.NotNil(t, result.Session)
	require.Equal(t, "user-1", result.Session.UserID)
	require.Equal(t, session.ProviderWebOAuth, result.Session.Provider)
	require.Equal(t, "upstream-access", result.Session.AccessToken)
	require.Equal(t, "upstream-refresh", result.Session.RefreshToken)
	require.NotEmpty(t, p.lastExchange.Get("code_verifier"), "exchange must carry the PKCE verifier")

	t.Run("state is single use", func(t *testing.T) {
		_, err := adapter.CompleteCallback(context.Background(), provider.CallbackParams{
			Code:  "auth-code-1",
			State: state,
		})
		require.ErrorIs(t, err, autherrors.ErrUnauthorized)
	})
}

func TestWebOAuthAdapter_CompleteCallback_Rejections(t *testing.T) {
	p := newFakeIdentityProvider(t)
	adapter := newWebOAuthAdapter(t, p)

	t.Run("unknown state", func(t *testing.T) {
		_, err := adapter.CompleteCallback(context.Background(), provider.CallbackParams{
			Code:  "auth-code-1",
			State: "forged-state",
		})
		require.ErrorIs(t, err, autherrors.ErrUnauthorized)
	})

	t.Run("provider error param", func(t *testing.T) {
		_, err := adapter.CompleteCallback(context.Background(), provider.CallbackParams{
			Error:            "access_denied",
			ErrorDescription: "user declined",
		})
		require.ErrorIs(t, err, autherrors.ErrUnauthorized)
	})

	t.Run("missing code", func(t *testing.T) {
		_, err := adapter.CompleteCallback(context.Background(), provider.CallbackParams{State: "s"})
		require.ErrorIs(t, err, autherrors.ErrUnauthorized)
	})
}

func TestWebOAuthAdapter_Init(t *testing.T) {
	t.Run("configured", func(t *testing.T) {
		p := newFakeIdentityProvider(t)
		require.NoError(t, newWebOAuthAdapter(t, p).Init(context.Background()))
	})

	t.Run("missing client id", func(t *testing.T) {
		adapter := provider.NewWebOAuthAdapter(provider.WebOAuthConfig{}, provider.NewInMemoryFlowStateRepo())
		err := adapter.Init(context.Background())
		require.ErrorIs(t, err, autherrors.ErrAdapterUnavailable)
	})
}
