package auth

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	autherrors "github.com/dashieapp/dashie-auth/internal/errors"
	"github.com/dashieapp/dashie-auth/provider"
	"github.com/dashieapp/dashie-auth/session"
)

const (
	defaultStepTimeout    = 10 * time.Second
	defaultRetryAttempts  = 3
	defaultRetryBaseDelay = 500 * time.Millisecond
)

// Outcome is what a sign-in attempt produced: either a redirect the host
// shell must follow (the session materializes on the next Initialize) or an
// authenticated user.
type Outcome struct {
	Redirected  bool
	RedirectURL string
	User        *session.User
}

// InitResult reports how startup resolved.
type InitResult struct {
	Authenticated bool
	User          *session.User
}

// Manager is the single source of truth for "is the user signed in, and with
// what token." It owns the current session exclusively; collaborators read
// identity through CurrentUser and tokens through AccessToken.
type Manager struct {
	coordinator *Coordinator
	store       session.Store
	env         Environment

	bypass         bool
	stepTimeout    time.Duration
	retryAttempts  int
	retryBaseDelay time.Duration
	nowTime        func() time.Time
	onChange       func(*session.User)

	mu        sync.Mutex
	current   *session.Session
	signingIn bool

	// refreshMu serializes Refresh. Refresh tokens rotate on use, so two
	// concurrent exchanges would have the loser replay a dead token and
	// read it as a revoked grant.
	refreshMu sync.Mutex
}

// ManagerOption defines a function type to modify the Manager instance.
type ManagerOption func(*Manager)

// WithNowTime replaces the clock (primarily for testing).
func WithNowTime(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowTime = now
	}
}

// WithStepTimeout bounds each individual adapter call made by the manager.
func WithStepTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.stepTimeout = d
	}
}

// WithRetryPolicy tunes the transient-failure retry loop.
func WithRetryPolicy(attempts int, baseDelay time.Duration) ManagerOption {
	return func(m *Manager) {
		m.retryAttempts = attempts
		m.retryBaseDelay = baseDelay
	}
}

// WithBypassAuth short-circuits startup into a local pseudo-session. Only
// the DEV environment wires this on.
func WithBypassAuth(bypass bool) ManagerOption {
	return func(m *Manager) {
		m.bypass = bypass
	}
}

// WithOnChange registers a callback invoked whenever the authenticated user
// changes (nil on sign-out). Called outside the manager's lock.
func WithOnChange(fn func(*session.User)) ManagerOption {
	return func(m *Manager) {
		m.onChange = fn
	}
}

// NewManager creates the session manager.
func NewManager(coordinator *Coordinator, store session.Store, env Environment, options ...ManagerOption) (*Manager, error) {
	if coordinator == nil {
		return nil, errors.New("[NewManager] nil coordinator")
	}
	if store == nil {
		return nil, errors.New("[NewManager] nil store")
	}
	m := &Manager{
		coordinator:    coordinator,
		store:          store,
		env:            env,
		stepTimeout:    defaultStepTimeout,
		retryAttempts:  defaultRetryAttempts,
		retryBaseDelay: defaultRetryBaseDelay,
		nowTime:        time.Now,
	}
	for _, opt := range options {
		opt(m)
	}
	return m, nil
}

// Initialize resolves the starting auth state, in order: bypass switch,
// stored session (refreshing it when expired), an in-flight redirect
// callback handed in by the host shell, otherwise unauthenticated. Each
// adapter call is bounded by the step timeout so startup never hangs.
func (m *Manager) Initialize(ctx context.Context, params provider.CallbackParams) (*InitResult, error) {
	if m.bypass {
		return m.initializeBypass(ctx)
	}

	if result := m.initializeFromStore(ctx); result != nil {
		return result, nil
	}

	if !params.Empty() {
		if result := m.initializeFromCallback(ctx, params); result != nil {
			return result, nil
		}
	}

	return &InitResult{Authenticated: false}, nil
}

func (m *Manager) initializeBypass(ctx context.Context) (*InitResult, error) {
	local := m.coordinator.adapters.Local
	stepCtx, cancel := context.WithTimeout(ctx, m.stepTimeout)
	defer cancel()

	result, err := local.SignIn(stepCtx, provider.SignInOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "[Manager.Initialize] bypass sign-in")
	}
	m.setSession(result.Session, true)
	log.Warn().Msg("auth bypass active, using local pseudo-identity")
	return &InitResult{Authenticated: true, User: userOf(result.Session)}, nil
}

func (m *Manager) initializeFromStore(ctx context.Context) *InitResult {
	stored, err := m.store.Load()
	if err != nil || stored == nil {
		if err != nil {
			log.Warn().Err(err).Msg("session store unreadable at startup")
		}
		return nil
	}

	if !stored.Expired(m.nowTime()) {
		m.setSession(stored, false)
		log.Info().Str("provider", string(stored.Provider)).Msg("restored stored session")
		return &InitResult{Authenticated: true, User: userOf(stored)}
	}

	if stored.RefreshToken == "" {
		log.Info().Msg("stored session expired with no refresh token")
		m.clearStore()
		return nil
	}

	m.mu.Lock()
	m.current = stored
	m.mu.Unlock()
	if _, err := m.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("stored session refresh failed at startup")
		m.mu.Lock()
		m.current = nil
		m.mu.Unlock()
		return nil
	}

	m.mu.Lock()
	current := m.current
	m.mu.Unlock()
	return &InitResult{Authenticated: true, User: userOf(current)}
}

// initializeFromCallback completes a redirect that landed back on the app.
// Candidates are tried in coordinator order; only redirect adapters
// implement completion.
func (m *Manager) initializeFromCallback(ctx context.Context, params provider.CallbackParams) *InitResult {
	for _, adapter := range m.coordinator.Candidates(m.env) {
		completer, ok := adapter.(provider.CallbackCompleter)
		if !ok {
			continue
		}

		stepCtx, cancel := context.WithTimeout(ctx, m.stepTimeout)
		result, err := completer.CompleteCallback(stepCtx, params)
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("adapter", string(adapter.Kind())).Msg("callback completion failed")
			continue
		}
		if result.Session != nil {
			m.setSession(result.Session, true)
			log.Info().Str("provider", string(result.Session.Provider)).Msg("completed in-flight sign-in callback")
			return &InitResult{Authenticated: true, User: userOf(result.Session)}
		}
	}
	return nil
}

// SignIn walks the coordinator's candidates until one succeeds. Adapters
// reporting ErrAdapterUnavailable are skipped silently; any other failure
// surfaces. A second concurrent call fails fast rather than queueing behind
// a device-flow poll loop.
func (m *Manager) SignIn(ctx context.Context, opts provider.SignInOptions) (*Outcome, error) {
	m.mu.Lock()
	if m.signingIn {
		m.mu.Unlock()
		return nil, autherrors.ErrSignInInProgress
	}
	m.signingIn = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.signingIn = false
		m.mu.Unlock()
	}()

	candidates := m.coordinator.Candidates(m.env)
	for _, adapter := range candidates {
		initCtx, cancel := context.WithTimeout(ctx, m.stepTimeout)
		err := adapter.Init(initCtx)
		cancel()
		if err != nil {
			if errors.Is(err, autherrors.ErrAdapterUnavailable) {
				log.Info().Str("adapter", string(adapter.Kind())).Msg("adapter unavailable, trying next candidate")
				continue
			}
			return nil, errors.Wrapf(err, "[Manager.SignIn] init %s", adapter.Kind())
		}

		// No step timeout here: polling adapters legitimately block for
		// minutes while the user completes consent on another device.
		result, err := adapter.SignIn(ctx, opts)
		if err != nil {
			if errors.Is(err, autherrors.ErrAdapterUnavailable) {
				continue
			}
			return nil, errors.Wrapf(err, "[Manager.SignIn] %s", adapter.Kind())
		}

		if result.Redirected {
			return &Outcome{Redirected: true, RedirectURL: result.RedirectURL}, nil
		}
		if result.Session != nil {
			m.setSession(result.Session, true)
			return &Outcome{User: userOf(result.Session)}, nil
		}
	}

	return nil, errors.Wrap(autherrors.ErrAdapterUnavailable, "[Manager.SignIn] no adapter could sign in")
}

// SignOut revokes with the provider on a best-effort basis, then clears the
// session from memory and the store unconditionally. After it returns no
// collaborator can reach a stale token through this manager.
func (m *Manager) SignOut(ctx context.Context) error {
	m.mu.Lock()
	current := m.current
	m.current = nil
	m.mu.Unlock()

	if current != nil {
		if adapter := m.coordinator.ForProvider(current.Provider); adapter != nil {
			stepCtx, cancel := context.WithTimeout(ctx, m.stepTimeout)
			if err := adapter.SignOut(stepCtx, current); err != nil {
				log.Warn().Err(err).Str("provider", string(current.Provider)).Msg("provider revocation failed")
			}
			cancel()
		}
	}

	m.clearStore()
	m.notify(nil)
	return nil
}

// Refresh exchanges the refresh token through the session's own adapter and
// returns the new access token. Transient failures are retried with bounded
// exponential backoff; ErrInvalidGrant clears the session because the
// provider has rejected our standing and only a fresh sign-in fixes that.
//
// Refresh is single-flight: concurrent callers queue, and a caller that
// queued behind a successful exchange gets that exchange's token instead of
// replaying the now-rotated refresh token.
func (m *Manager) Refresh(ctx context.Context) (string, error) {
	m.mu.Lock()
	entering := m.current
	m.mu.Unlock()
	if entering == nil {
		return "", autherrors.ErrNoSession
	}

	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	m.mu.Lock()
	current := m.current
	m.mu.Unlock()
	if current == nil {
		return "", autherrors.ErrNoSession
	}
	if current != entering && !current.Expired(m.nowTime()) {
		// The session was replaced while we waited for the lock: another
		// caller already refreshed it.
		return current.AccessToken, nil
	}

	adapter := m.coordinator.ForProvider(current.Provider)
	if adapter == nil {
		return "", errors.Wrapf(autherrors.ErrAdapterUnavailable, "[Manager.Refresh] no adapter for %s", current.Provider)
	}

	var result *provider.Result
	err := m.withRetry(ctx, func(attemptCtx context.Context) error {
		var attemptErr error
		result, attemptErr = adapter.Refresh(attemptCtx, current)
		return attemptErr
	})
	if err != nil {
		if errors.Is(err, autherrors.ErrInvalidGrant) || errors.Is(err, autherrors.ErrUnauthorized) {
			m.mu.Lock()
			stale := m.current != current
			if !stale {
				m.current = nil
			}
			m.mu.Unlock()
			if stale {
				// The session moved on while this exchange was in flight
				// (sign-out, or a fresh sign-in); the rejection belongs to
				// a session that no longer exists, so clear nothing.
				return "", errors.Wrap(autherrors.ErrSessionExpired, "[Manager.Refresh] re-authentication required")
			}
			log.Info().Str("provider", string(current.Provider)).Msg("refresh token rejected, clearing session")
			m.clearStore()
			m.notify(nil)
			return "", errors.Wrap(autherrors.ErrSessionExpired, "[Manager.Refresh] re-authentication required")
		}
		if autherrors.IsTransient(err) && !current.Expired(m.nowTime()) {
			// The cached token is still good; ride it out and let the next
			// caller retry.
			log.Warn().Err(err).Msg("transient refresh failure, keeping cached token")
			return current.AccessToken, nil
		}
		return "", errors.Wrap(err, "[Manager.Refresh]")
	}

	refreshed := *current
	refreshed.AccessToken = result.Session.AccessToken
	refreshed.TokenExpiry = result.Session.TokenExpiry
	if result.Session.RefreshToken != "" {
		refreshed.RefreshToken = result.Session.RefreshToken
	}
	m.setSession(&refreshed, false)
	return refreshed.AccessToken, nil
}

// CurrentUser returns the token-free identity view, or nil when signed out.
func (m *Manager) CurrentUser() *session.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	user := m.current.User()
	return &user
}

// AccessToken hands a non-expired token to data-fetching callers, refreshing
// first when the cached one has lapsed.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	current := m.current
	m.mu.Unlock()
	if current == nil {
		return "", autherrors.ErrNoSession
	}
	if !current.Expired(m.nowTime()) {
		return current.AccessToken, nil
	}
	return m.Refresh(ctx)
}

// withRetry runs fn up to the configured attempt cap, backing off between
// transient failures. Terminal errors return immediately.
func (m *Manager) withRetry(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error
	delay := m.retryBaseDelay
	for attempt := 0; attempt < m.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		attemptCtx, cancel := context.WithTimeout(ctx, m.stepTimeout)
		lastErr = fn(attemptCtx)
		cancel()
		if lastErr == nil {
			return nil
		}
		if !autherrors.IsTransient(lastErr) {
			return lastErr
		}
		log.Warn().Err(lastErr).Int("attempt", attempt+1).Msg("transient failure, will retry")
	}
	return lastErr
}

func (m *Manager) setSession(sess *session.Session, announce bool) {
	m.mu.Lock()
	m.current = sess
	m.mu.Unlock()

	if err := m.store.Save(sess); err != nil {
		log.Warn().Err(err).Msg("failed to persist session")
	}
	if announce {
		m.notify(userOf(sess))
	}
}

func (m *Manager) clearStore() {
	if err := m.store.Clear(); err != nil {
		log.Warn().Err(err).Msg("failed to clear session store")
	}
}

func (m *Manager) notify(user *session.User) {
	if m.onChange != nil {
		m.onChange(user)
	}
}

func userOf(sess *session.Session) *session.User {
	if sess == nil {
		return nil
	}
	user := sess.User()
	return &user
}
