package deviceflow

import (
	"context"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	autherrors "github.com/dashieapp/dashie-auth/internal/errors"
	"github.com/dashieapp/dashie-auth/session"
	"github.com/dashieapp/dashie-auth/token"
	"github.com/dashieapp/dashie-auth/token/refresh"
)

// Repos holds all repository dependencies for the Service
type Repos struct {
	Tickets Repo
	Grants  GrantRepo
}

// Service implements the server side of the hybrid device flow: ticket
// creation, status polling with exactly-once consumption, and the
// authorizing device's consent callback.
type Service struct {
	repos            Repos
	credentials      *token.Issuer
	refreshTokens    *refresh.Manager
	verificationURI  string
	codeTTL          time.Duration
	pollInterval     time.Duration
	deviceCodeLength int
	nowTime          func() time.Time
}

// ServiceOption defines a function type to modify the Service instance.
type ServiceOption func(*Service)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ServiceOption {
	return func(s *Service) {
		s.nowTime = nowFunc
	}
}

// WithTicketTTL overrides the default ticket lifetime and poll interval.
func WithTicketTTL(codeTTL, pollInterval time.Duration) ServiceOption {
	return func(s *Service) {
		s.codeTTL = codeTTL
		s.pollInterval = pollInterval
	}
}

// NewService initializes a new device-flow Service with required dependencies.
func NewService(
	repos Repos,
	credentials *token.Issuer,
	refreshTokens *refresh.Manager,
	verificationURI string,
	options ...ServiceOption,
) (*Service, error) {
	if repos.Tickets == nil {
		return nil, errors.New("[NewService] ticket repo is required")
	}
	if repos.Grants == nil {
		return nil, errors.New("[NewService] grant repo is required")
	}
	if credentials == nil {
		return nil, errors.New("[NewService] credential issuer is required")
	}
	if refreshTokens == nil {
		return nil, errors.New("[NewService] refresh token manager is required")
	}

	service := &Service{
		repos:            repos,
		credentials:      credentials,
		refreshTokens:    refreshTokens,
		verificationURI:  verificationURI,
		codeTTL:          10 * time.Minute,
		pollInterval:     5 * time.Second,
		deviceCodeLength: 32,
		nowTime:          time.Now,
	}

	for _, opt := range options {
		opt(service)
	}

	return service, nil
}

// DeviceAuthorization is what the requesting device receives after
// CreateDeviceCode: the secret to poll with and the code to show the user.
type DeviceAuthorization struct {
	DeviceCode              string
	UserCode                string
	VerificationURI         string
	VerificationURIComplete string
	ExpiresIn               time.Duration
	Interval                time.Duration
}

// CreateDeviceCode opens a new ticket for the requesting device.
func (s *Service) CreateDeviceCode(ctx context.Context, deviceType, deviceName string) (*DeviceAuthorization, error) {
	deviceCode, err := NewDeviceCode(s.deviceCodeLength)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.CreateDeviceCode] device code")
	}
	userCode, err := NewUserCode()
	if err != nil {
		return nil, errors.Wrap(err, "[Service.CreateDeviceCode] user code")
	}

	now := s.nowTime()
	ticket := &Ticket{
		DeviceCode: deviceCode,
		UserCode:   userCode,
		DeviceType: deviceType,
		DeviceName: deviceName,
		Status:     StatusPending,
		Interval:   s.pollInterval,
		ExpiresAt:  now.Add(s.codeTTL),
		CreatedAt:  now,
	}
	if err := s.repos.Tickets.Create(ctx, ticket); err != nil {
		return nil, errors.Wrap(err, "[Service.CreateDeviceCode] create ticket")
	}

	log.Info().
		Str("user_code", userCode).
		Str("device_type", deviceType).
		Msg("device code created")

	return &DeviceAuthorization{
		DeviceCode:              deviceCode,
		UserCode:                userCode,
		VerificationURI:         s.verificationURI,
		VerificationURIComplete: s.verificationURI + "?user_code=" + url.QueryEscape(userCode),
		ExpiresIn:               s.codeTTL,
		Interval:                s.pollInterval,
	}, nil
}

// Credential is the session material handed to the requesting device when
// its ticket is consumed.
type Credential struct {
	AccessToken  string
	RefreshToken string
	TokenExpiry  time.Time
	User         session.User
}

// PollResult is one poll's answer: the ticket status, and the credential
// when this poll consumed the ticket.
type PollResult struct {
	Status     Status
	Interval   time.Duration
	Credential *Credential
}

// PollDeviceCode reports the ticket's state to the requesting device. The
// poll that finds the ticket authorized consumes it via a check-and-set
// transition that succeeds for exactly one caller, and only that caller
// receives a credential. Later polls, and the losers of the race, get a
// replay error.
func (s *Service) PollDeviceCode(ctx context.Context, deviceCode string) (*PollResult, error) {
	ticket, err := s.repos.Tickets.GetByDeviceCode(ctx, deviceCode)
	if err != nil {
		return nil, err
	}

	switch {
	case ticket.Status == StatusConsumed:
		return nil, autherrors.ErrTicketAlreadyConsumed

	case ticket.Status == StatusExpired:
		return nil, autherrors.ErrTicketExpired

	case ticket.Expired(s.nowTime()):
		// The deadline passed before anyone observed it; move the ticket to
		// expired so the state and the clock agree. This also covers a
		// ticket that expired between authorized and this poll: no session
		// may be issued for it.
		if _, err := s.repos.Tickets.UpdateStatus(ctx, deviceCode, ticket.Status, StatusExpired, nil); err != nil && !errors.Is(err, ErrStatusConflict) {
			log.Warn().Err(err).Msg("failed to expire ticket")
		}
		return nil, autherrors.ErrTicketExpired

	case ticket.Status == StatusPending:
		return &PollResult{Status: StatusPending, Interval: ticket.Interval}, nil
	}

	// Authorized: consume exactly once.
	consumed, err := s.repos.Tickets.UpdateStatus(ctx, deviceCode, StatusAuthorized, StatusConsumed, nil)
	if err != nil {
		if errors.Is(err, ErrStatusConflict) {
			return nil, autherrors.ErrTicketAlreadyConsumed
		}
		return nil, errors.Wrap(err, "[Service.PollDeviceCode] consume")
	}

	credential, err := s.issueCredential(ctx, consumed)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.PollDeviceCode] issue credential")
	}

	log.Info().
		Str("user_code", consumed.UserCode).
		Str("user_id", consumed.BoundUserID).
		Msg("device code consumed")

	return &PollResult{Status: StatusAuthorized, Interval: consumed.Interval, Credential: credential}, nil
}

// UpstreamTokens is the payload the authorizing device submits after
// completing the upstream OAuth consent. It arrives from the network, so it
// is validated here before anything trusts it.
type UpstreamTokens struct {
	Provider     string    `json:"provider"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	TokenExpiry  time.Time `json:"tokenExpiry"`
	UserID       string    `json:"userId"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"displayName"`
	PictureURL   string    `json:"pictureUrl,omitempty"`
}

// Validate rejects malformed upstream payloads at the trust boundary.
func (u *UpstreamTokens) Validate() error {
	if u == nil {
		return errors.New("[UpstreamTokens.Validate] nil payload")
	}
	if u.UserID == "" {
		return errors.New("[UpstreamTokens.Validate] missing userId")
	}
	if u.AccessToken == "" {
		return errors.New("[UpstreamTokens.Validate] missing access token")
	}
	if u.TokenExpiry.IsZero() {
		return errors.New("[UpstreamTokens.Validate] missing token expiry")
	}
	return nil
}

// AuthorizeDeviceCode records the authorizing device's consent: the ticket
// (looked up by device code or by typed user code) moves pending→authorized
// and the upstream grant is stored keyed by the user, not the device. A
// second authorize for the same ticket (a double-submit or a network retry)
// loses the check-and-set and is rejected rather than silently
// re-succeeding.
func (s *Service) AuthorizeDeviceCode(ctx context.Context, codeOrUserCode string, upstream *UpstreamTokens) error {
	if err := upstream.Validate(); err != nil {
		return errors.Wrap(err, "[Service.AuthorizeDeviceCode] upstream tokens")
	}

	ticket, err := s.repos.Tickets.GetByDeviceCode(ctx, codeOrUserCode)
	if errors.Is(err, autherrors.ErrTicketNotFound) {
		ticket, err = s.repos.Tickets.GetByUserCode(ctx, codeOrUserCode)
	}
	if err != nil {
		return err
	}

	if ticket.Expired(s.nowTime()) || ticket.Status == StatusExpired {
		return autherrors.ErrTicketExpired
	}

	// The grant lands before the ticket flips: an authorized ticket must
	// always have a grant behind it or the consuming poll cannot mint a
	// credential. The upsert is keyed by user, so a retried authorize that
	// then loses the check-and-set leaves nothing inconsistent behind.
	if err := s.repos.Grants.Upsert(ctx, &UpstreamGrant{
		UserID:       upstream.UserID,
		Email:        upstream.Email,
		DisplayName:  upstream.DisplayName,
		PictureURL:   upstream.PictureURL,
		Provider:     upstream.Provider,
		AccessToken:  upstream.AccessToken,
		RefreshToken: upstream.RefreshToken,
		TokenExpiry:  upstream.TokenExpiry,
		UpdatedAt:    s.nowTime(),
	}); err != nil {
		return errors.Wrap(err, "[Service.AuthorizeDeviceCode] store grant")
	}

	if _, err := s.repos.Tickets.UpdateStatus(ctx, ticket.DeviceCode, StatusPending, StatusAuthorized, func(t *Ticket) {
		t.BoundUserID = upstream.UserID
	}); err != nil {
		if errors.Is(err, ErrStatusConflict) {
			return autherrors.ErrTicketAlreadyAuthorized
		}
		return errors.Wrap(err, "[Service.AuthorizeDeviceCode] authorize")
	}

	log.Info().
		Str("user_code", ticket.UserCode).
		Str("user_id", upstream.UserID).
		Msg("device code authorized")
	return nil
}

// RefreshCredential exchanges a refresh token for a fresh session
// credential, rotating the refresh token in the process.
func (s *Service) RefreshCredential(ctx context.Context, rawRefreshToken string) (*Credential, error) {
	userID, newRefreshToken, err := s.refreshTokens.Rotate(rawRefreshToken)
	if err != nil {
		return nil, err
	}

	grant, err := s.repos.Grants.GetByUserID(ctx, userID)
	if err != nil {
		return nil, autherrors.ErrInvalidGrant
	}

	accessToken, expiry, err := s.credentials.Mint(token.Identity{
		UserID:      grant.UserID,
		Email:       grant.Email,
		DisplayName: grant.DisplayName,
		PictureURL:  grant.PictureURL,
	})
	if err != nil {
		return nil, errors.Wrap(err, "[Service.RefreshCredential] mint")
	}

	return &Credential{
		AccessToken:  accessToken,
		RefreshToken: newRefreshToken,
		TokenExpiry:  expiry,
		User: session.User{
			UserID:      grant.UserID,
			Email:       grant.Email,
			DisplayName: grant.DisplayName,
			PictureURL:  grant.PictureURL,
			Provider:    session.ProviderDeviceFlow,
		},
	}, nil
}

// CleanupExpired removes tickets whose deadline passed before now. Driven by
// a ticker in cmd/server.
func (s *Service) CleanupExpired(ctx context.Context) (int, error) {
	return s.repos.Tickets.DeleteExpired(ctx, s.nowTime())
}

func (s *Service) issueCredential(ctx context.Context, ticket *Ticket) (*Credential, error) {
	grant, err := s.repos.Grants.GetByUserID(ctx, ticket.BoundUserID)
	if err != nil {
		return nil, errors.Wrap(err, "grant not found for authorized ticket")
	}

	accessToken, expiry, err := s.credentials.Mint(token.Identity{
		UserID:      grant.UserID,
		Email:       grant.Email,
		DisplayName: grant.DisplayName,
		PictureURL:  grant.PictureURL,
	})
	if err != nil {
		return nil, err
	}

	refreshToken, err := s.refreshTokens.Create(grant.UserID, ticket.DeviceCode)
	if err != nil {
		return nil, err
	}

	return &Credential{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenExpiry:  expiry,
		User: session.User{
			UserID:      grant.UserID,
			Email:       grant.Email,
			DisplayName: grant.DisplayName,
			PictureURL:  grant.PictureURL,
			Provider:    session.ProviderDeviceFlow,
		},
	}, nil
}
