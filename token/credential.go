package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	autherrors "github.com/dashieapp/dashie-auth/internal/errors"
	"github.com/dashieapp/dashie-auth/session"
)

// Identity is the user profile a credential is minted for. It comes from the
// upstream provider's consent (the authorizing device) and is validated at
// that trust boundary before it reaches here.
type Identity struct {
	UserID      string
	Email       string
	DisplayName string
	PictureURL  string
}

// Issuer mints and verifies the session credentials the device authorization
// backend hands to requesting devices.
type Issuer struct {
	signer       Signer
	issuer       string
	accessExpiry time.Duration
	nowFunc      func() time.Time
}

// IssuerOption defines a function type to modify the Issuer instance.
type IssuerOption func(*Issuer)

// WithNowFunc sets the now time function (primarily for testing)
func WithNowFunc(now func() time.Time) IssuerOption {
	return func(i *Issuer) {
		i.nowFunc = now
	}
}

// WithAccessExpiry overrides the default one-hour credential lifetime.
func WithAccessExpiry(d time.Duration) IssuerOption {
	return func(i *Issuer) {
		i.accessExpiry = d
	}
}

func NewIssuer(signer Signer, issuerURL string, options ...IssuerOption) *Issuer {
	i := &Issuer{
		signer:       signer,
		issuer:       issuerURL,
		accessExpiry: time.Hour,
		nowFunc:      time.Now,
	}
	for _, opt := range options {
		opt(i)
	}
	return i
}

// AccessExpiry returns the lifetime of minted credentials.
func (i *Issuer) AccessExpiry() time.Duration {
	return i.accessExpiry
}

// Mint creates a signed session credential bound to the given identity.
func (i *Issuer) Mint(identity Identity) (accessToken string, expiry time.Time, err error) {
	if identity.UserID == "" {
		return "", time.Time{}, errors.New("[Issuer.Mint] missing user ID")
	}

	now := i.nowFunc()
	expiry = now.Add(i.accessExpiry)
	claims := jwt.MapClaims{
		"iss":      i.issuer,
		"sub":      identity.UserID,
		"email":    identity.Email,
		"name":     identity.DisplayName,
		"picture":  identity.PictureURL,
		"provider": string(session.ProviderDeviceFlow),
		"iat":      now.Unix(),
		"exp":      expiry.Unix(),
		"jti":      uuid.New().String(),
	}

	accessToken, err = i.signer.Sign(claims)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, "[Issuer.Mint] sign")
	}
	return accessToken, expiry, nil
}

// Verify parses a credential, checks its signature and expiry, and returns
// the identity it is bound to.
func (i *Issuer) Verify(rawToken string) (*Identity, error) {
	parsed, err := jwt.Parse(rawToken, i.signer.GetVerificationKey,
		jwt.WithValidMethods([]string{i.signer.GetSigningMethod().Alg()}),
		jwt.WithTimeFunc(i.nowFunc),
	)
	if err != nil || !parsed.Valid {
		return nil, errors.Wrap(autherrors.ErrUnauthorized, "invalid credential")
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.Wrap(autherrors.ErrUnauthorized, "error extracting claims")
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, errors.Wrap(autherrors.ErrUnauthorized, "credential missing sub")
	}
	email, _ := claims["email"].(string)
	name, _ := claims["name"].(string)
	picture, _ := claims["picture"].(string)

	return &Identity{
		UserID:      sub,
		Email:       email,
		DisplayName: name,
		PictureURL:  picture,
	}, nil
}
