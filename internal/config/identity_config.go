package config

import "strconv"

// IdentityConfig carries the upstream identity provider settings used by the
// client-side provider adapters.
type IdentityConfig interface {
	GetIdentityProviderBaseURL() string
	GetClientID() string
	GetClientSecret() string
	GetRedirectURI() string
	GetBypassAuth() bool
}

type Identity struct{}

var _ IdentityConfig = Identity{}

func (Identity) GetIdentityProviderBaseURL() string {
	return GetEnv("IDENTITY_PROVIDER_BASE_URL", "https://accounts.google.com")
}

func (Identity) GetClientID() string {
	return GetEnv("CLIENT_ID", "")
}

func (Identity) GetClientSecret() string {
	return GetEnv("CLIENT_SECRET", "")
}

func (Identity) GetRedirectURI() string {
	return GetEnv("REDIRECT_URI", "http://localhost:8080/callback")
}

// GetBypassAuth reports whether authentication is bypassed entirely.
// Local development only; never enable in production.
func (Identity) GetBypassAuth() bool {
	bypass, err := strconv.ParseBool(GetEnv("BYPASS_AUTH", "false"))
	if err != nil {
		return false
	}
	return bypass
}
