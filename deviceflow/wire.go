package deviceflow

import (
	"time"

	"github.com/dashieapp/dashie-auth/session"
)

// Wire shapes shared by the backend handlers and the hybrid adapter's
// client. Field names follow the device-grant convention (snake case) on the
// flow endpoints and the session schema (camel case) for session material.

// CreateRequest opens a ticket for a requesting device.
type CreateRequest struct {
	DeviceType string `json:"device_type"`
	DeviceName string `json:"device_name,omitempty"`
}

// CreateResponse mirrors DeviceAuthorization on the wire; durations travel
// as whole seconds.
type CreateResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete"`
	ExpiresIn               int    `json:"expires_in"`
	Interval                int    `json:"interval"`
}

// PollRequest asks for the ticket's current state.
type PollRequest struct {
	DeviceCode string `json:"device_code"`
}

// PollResponse reports pending|authorized|expired|invalid. Session is set
// only on the single authorized response that consumed the ticket.
type PollResponse struct {
	Status   string          `json:"status"`
	Interval int             `json:"interval,omitempty"`
	Session  *SessionPayload `json:"session,omitempty"`
}

// Poll statuses on the wire.
const (
	PollStatusPending    = "pending"
	PollStatusAuthorized = "authorized"
	PollStatusExpired    = "expired"
	PollStatusInvalid    = "invalid"
)

// AuthorizeRequest is submitted by the authorizing device after upstream
// consent. Code accepts either the device code or the typed user code.
type AuthorizeRequest struct {
	Code   string          `json:"code"`
	Tokens *UpstreamTokens `json:"tokens"`
}

// AuthorizeResponse acknowledges the consent callback.
type AuthorizeResponse struct {
	Success bool `json:"success"`
}

// RefreshRequest exchanges a refresh token for a new credential.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// SessionPayload is the session material handed to a device.
type SessionPayload struct {
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken,omitempty"`
	TokenExpiry  time.Time    `json:"tokenExpiry"`
	User         session.User `json:"user"`
}

// NewSessionPayload converts a service credential to its wire form.
func NewSessionPayload(cred *Credential) *SessionPayload {
	if cred == nil {
		return nil
	}
	return &SessionPayload{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		TokenExpiry:  cred.TokenExpiry,
		User:         cred.User,
	}
}

// ErrorResponse is the JSON error body used by the backend.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}
