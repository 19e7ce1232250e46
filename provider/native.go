package provider

import (
	"context"
	"time"

	"github.com/pkg/errors"

	autherrors "github.com/dashieapp/dashie-auth/internal/errors"
	"github.com/dashieapp/dashie-auth/session"
)

// BridgeAccount is the identity and token material the host platform's own
// sign-in facility hands back over the bridge.
type BridgeAccount struct {
	UserID       string
	Email        string
	DisplayName  string
	PictureURL   string
	AccessToken  string
	RefreshToken string
	TokenExpiry  time.Time
}

// Bridge is the host-side sign-in surface injected by the embedding platform
// (a native shell with its own account picker). Implementations translate
// host errors into the shared taxonomy: user dismissal maps to
// ErrSignInCancelled, revoked consent to ErrInvalidGrant.
type Bridge interface {
	Available() bool
	SignIn(ctx context.Context) (*BridgeAccount, error)
	CurrentAccount(ctx context.Context) (*BridgeAccount, error)
	SignOut(ctx context.Context) error
	RefreshTokens(ctx context.Context) (*BridgeAccount, error)
}

// NativeBridgeAdapter wraps a platform bridge as a provider adapter. It is
// the first choice wherever a bridge exists because the host keeps the
// tokens fresh itself.
type NativeBridgeAdapter struct {
	bridge  Bridge
	nowTime func() time.Time
}

func NewNativeBridgeAdapter(bridge Bridge) (*NativeBridgeAdapter, error) {
	if bridge == nil {
		return nil, errors.New("[NewNativeBridgeAdapter] nil bridge")
	}
	return &NativeBridgeAdapter{bridge: bridge, nowTime: time.Now}, nil
}

func (a *NativeBridgeAdapter) Kind() session.Provider {
	return session.ProviderNative
}

func (a *NativeBridgeAdapter) Init(_ context.Context) error {
	if !a.bridge.Available() {
		return errors.Wrap(autherrors.ErrAdapterUnavailable, "native bridge not present")
	}
	return nil
}

func (a *NativeBridgeAdapter) SignIn(ctx context.Context, _ SignInOptions) (*Result, error) {
	account, err := a.bridge.SignIn(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "[NativeBridgeAdapter.SignIn]")
	}
	return a.result(account)
}

func (a *NativeBridgeAdapter) SignOut(ctx context.Context, _ *session.Session) error {
	if err := a.bridge.SignOut(ctx); err != nil {
		return errors.Wrap(err, "[NativeBridgeAdapter.SignOut]")
	}
	return nil
}

// CurrentUser asks the host whether an account is already signed in, which
// lets a restart skip the account picker entirely.
func (a *NativeBridgeAdapter) CurrentUser(ctx context.Context) (*Result, error) {
	account, err := a.bridge.CurrentAccount(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "[NativeBridgeAdapter.CurrentUser]")
	}
	if account == nil {
		return nil, autherrors.ErrNoSession
	}
	return a.result(account)
}

func (a *NativeBridgeAdapter) Refresh(ctx context.Context, _ *session.Session) (*Result, error) {
	account, err := a.bridge.RefreshTokens(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "[NativeBridgeAdapter.Refresh]")
	}
	return a.result(account)
}

func (a *NativeBridgeAdapter) result(account *BridgeAccount) (*Result, error) {
	if account == nil {
		return nil, autherrors.ErrNoSession
	}
	sess := &session.Session{
		UserID:       account.UserID,
		Email:        account.Email,
		DisplayName:  account.DisplayName,
		PictureURL:   account.PictureURL,
		Provider:     a.Kind(),
		AccessToken:  account.AccessToken,
		RefreshToken: account.RefreshToken,
		TokenExpiry:  account.TokenExpiry,
		CreatedAt:    a.nowTime(),
	}
	if err := sess.Validate(); err != nil {
		return nil, errors.Wrap(err, "[NativeBridgeAdapter] invalid account from bridge")
	}
	return &Result{Session: sess}, nil
}

var _ Adapter = (*NativeBridgeAdapter)(nil)
