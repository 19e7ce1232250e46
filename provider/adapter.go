package provider

import (
	"context"

	"github.com/dashieapp/dashie-auth/session"
)

// Adapter wraps one concrete sign-in mechanism behind a uniform capability
// set so the session manager can treat all variants polymorphically.
// Adapters return structured results plus taxonomy errors. They never
// panic across this boundary and never retry on their own; retry and
// fallback policy live in the session manager.
type Adapter interface {
	// Kind identifies the provider variant sessions are tagged with.
	Kind() session.Provider

	// Init verifies the adapter can attempt a sign-in in this runtime,
	// returning ErrAdapterUnavailable when it cannot (missing bridge,
	// unreachable backend). Called once before first use, bounded by the
	// caller's context deadline.
	Init(ctx context.Context) error

	// SignIn runs the variant's flow. Redirect-based adapters return a
	// Redirected result immediately; polling adapters block until a
	// terminal state or ctx cancellation.
	SignIn(ctx context.Context, opts SignInOptions) (*Result, error)

	// SignOut revokes the session's tokens with the provider when
	// revocation is supported. Best effort; the caller logs failures and
	// clears local state regardless.
	SignOut(ctx context.Context, sess *session.Session) error

	// CurrentUser asks the provider for an already-signed-in identity
	// (native bridges can answer this without user interaction). Returns
	// ErrNoSession when there is none.
	CurrentUser(ctx context.Context) (*Result, error)

	// Refresh exchanges the session's refresh material for a new access
	// token. ErrInvalidGrant means the caller must re-authenticate.
	Refresh(ctx context.Context, sess *session.Session) (*Result, error)
}

// Result is the uniform outcome shape of adapter operations.
type Result struct {
	// Redirected is set by redirect-based adapters: the flow continues in
	// the user's browser and the session materializes on the next
	// Initialize via the callback params.
	Redirected  bool
	RedirectURL string

	// Session is set on fully completed operations.
	Session *session.Session
}

// SignInOptions captures generic knobs shared across adapters.
// Provider-specific logic can inspect Metadata for extra parameters.
type SignInOptions struct {
	// OnUserCode is invoked by device-flow adapters once a user code is
	// available, so the UI layer can render it (and a QR of the
	// verification URI) while polling continues.
	OnUserCode func(userCode, verificationURI string)

	Metadata map[string]string
}

// CallbackParams are the query parameters an OAuth redirect lands back with.
// The host shell captures them from the loaded URL and hands them to
// Initialize.
type CallbackParams struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// Empty reports whether the params carry neither a code nor an error.
func (p CallbackParams) Empty() bool {
	return p.Code == "" && p.Error == ""
}

// CallbackCompleter is implemented by redirect-based adapters that finish
// their flow on the next page load.
type CallbackCompleter interface {
	CompleteCallback(ctx context.Context, params CallbackParams) (*Result, error)
}
