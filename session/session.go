package session

import (
	"time"

	"github.com/pkg/errors"
)

// Provider identifies the sign-in mechanism that produced a session.
type Provider string

const (
	ProviderNative     Provider = "native"
	ProviderWebOAuth   Provider = "web-oauth"
	ProviderDeviceFlow Provider = "device-flow"
	ProviderHostedUI   Provider = "hosted-ui"
	ProviderLocal      Provider = "local"
)

// Session is the client's record of a signed-in identity and its provider
// tokens. Exactly one session is current per running client; only the
// session manager mutates it. Refresh replaces AccessToken/TokenExpiry (and
// RefreshToken when the provider rotates it) in place.
type Session struct {
	UserID       string    `json:"userId"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"displayName"`
	PictureURL   string    `json:"pictureUrl,omitempty"`
	Provider     Provider  `json:"provider"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	TokenExpiry  time.Time `json:"tokenExpiry"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Validate checks the fields required for a session to be usable. Records
// received from storage or the network must pass here before anything trusts
// them.
func (s *Session) Validate() error {
	if s == nil {
		return errors.New("[Session.Validate] nil session")
	}
	if s.UserID == "" {
		return errors.New("[Session.Validate] missing userId")
	}
	if s.Provider == "" {
		return errors.New("[Session.Validate] missing provider")
	}
	switch s.Provider {
	case ProviderNative, ProviderWebOAuth, ProviderDeviceFlow, ProviderHostedUI, ProviderLocal:
	default:
		return errors.Errorf("[Session.Validate] unknown provider %q", s.Provider)
	}
	if s.AccessToken == "" {
		return errors.New("[Session.Validate] missing access token")
	}
	if s.TokenExpiry.IsZero() {
		return errors.New("[Session.Validate] missing token expiry")
	}
	return nil
}

// Expired reports whether the access token has lapsed. An expired session
// must never be handed to a data-fetching caller; it either refreshes or the
// user re-authenticates.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.TokenExpiry)
}

// User is the identity slice of a session exposed to UI collaborators, which
// never see tokens.
type User struct {
	UserID      string   `json:"userId"`
	Email       string   `json:"email"`
	DisplayName string   `json:"displayName"`
	PictureURL  string   `json:"pictureUrl,omitempty"`
	Provider    Provider `json:"provider"`
}

// User returns the token-free identity view of the session.
func (s *Session) User() User {
	return User{
		UserID:      s.UserID,
		Email:       s.Email,
		DisplayName: s.DisplayName,
		PictureURL:  s.PictureURL,
		Provider:    s.Provider,
	}
}
