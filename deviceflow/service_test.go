package deviceflow_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/dashieapp/dashie-auth/deviceflow"
	"github.com/dashieapp/dashie-auth/internal/config"
	autherrors "github.com/dashieapp/dashie-auth/internal/errors"
	"github.com/dashieapp/dashie-auth/session"
	"github.com/dashieapp/dashie-auth/token"
	"github.com/dashieapp/dashie-auth/token/refresh"
)

const (
	testSecret          = "test-credential-secret"
	testVerificationURI = "https://dashie.test/activate"
	testUserID          = "google-user-1"
	testUserEmail       = "jane.doe@example.com"
	testUserName        = "Jane Doe"
	testDeviceType      = "tv"
	testDeviceName      = "Living Room TV"
)

// testFixture holds all test dependencies
type testFixture struct {
	tickets *deviceflow.InMemoryRepo
	grants  *flakyGrantRepo
	service *deviceflow.Service
	now     time.Time
	mu      sync.Mutex
}

// flakyGrantRepo delegates to the real in-memory repo but can be told to
// fail Upsert, standing in for a grant store outage.
type flakyGrantRepo struct {
	*deviceflow.InMemoryGrantRepo
	mu        sync.Mutex
	upsertErr error
}

func (r *flakyGrantRepo) failUpserts(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upsertErr = err
}

func (r *flakyGrantRepo) Upsert(ctx context.Context, grant *deviceflow.UpstreamGrant) error {
	r.mu.Lock()
	err := r.upsertErr
	r.mu.Unlock()
	if err != nil {
		return err
	}
	return r.InMemoryGrantRepo.Upsert(ctx, grant)
}

func (f *testFixture) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *testFixture) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()

	f := &testFixture{
		tickets: deviceflow.NewInMemoryRepo(),
		grants:  &flakyGrantRepo{InMemoryGrantRepo: deviceflow.NewInMemoryGrantRepo()},
		now:     time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}

	signer, err := token.NewHMACSigner(testSecret)
	require.NoError(t, err)
	issuer := token.NewIssuer(signer, "https://dashie.test", token.WithNowFunc(f.Now))
	refreshTokens := refresh.NewManager(refresh.NewInMemoryRepo(), config.DeviceFlow{})

	service, err := deviceflow.NewService(
		deviceflow.Repos{Tickets: f.tickets, Grants: f.grants},
		issuer,
		refreshTokens,
		testVerificationURI,
		deviceflow.WithNowTime(f.Now),
		deviceflow.WithTicketTTL(10*time.Minute, 5*time.Second),
	)
	require.NoError(t, err)
	f.service = service
	return f
}

func testUpstreamTokens(f *testFixture) *deviceflow.UpstreamTokens {
	return &deviceflow.UpstreamTokens{
		Provider:    string(session.ProviderWebOAuth),
		AccessToken: "upstream-access-token",
		TokenExpiry: f.Now().Add(time.Hour),
		UserID:      testUserID,
		Email:       testUserEmail,
		DisplayName: testUserName,
	}
}

func TestService_CreateDeviceCode(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	authz, err := f.service.CreateDeviceCode(ctx, testDeviceType, testDeviceName)
	require.NoError(t, err)

	require.NotEmpty(t, authz.DeviceCode)
	require.Len(t, authz.UserCode, 9) // XXXX-XXXX
	require.Equal(t, "-", string(authz.UserCode[4]))
	require.Equal(t, testVerificationURI, authz.VerificationURI)
	require.Contains(t, authz.VerificationURIComplete, "user_code=")
	require.Equal(t, 10*time.Minute, authz.ExpiresIn)
	require.Equal(t, 5*time.Second, authz.Interval)

	t.Run("codes are unique per ticket", func(t *testing.T) {
		second, err := f.service.CreateDeviceCode(ctx, testDeviceType, "")
		require.NoError(t, err)
		require.NotEqual(t, authz.DeviceCode, second.DeviceCode)
		require.NotEqual(t, authz.UserCode, second.UserCode)
	})
}

func TestService_PollDeviceCode(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown device code", func(t *testing.T) {
		f := setupTestFixture(t)
		_, err := f.service.PollDeviceCode(ctx, "nope")
		require.ErrorIs(t, err, autherrors.ErrTicketNotFound)
	})

	t.Run("pending before authorization", func(t *testing.T) {
		f := setupTestFixture(t)
		authz, err := f.service.CreateDeviceCode(ctx, testDeviceType, "")
		require.NoError(t, err)

		result, err := f.service.PollDeviceCode(ctx, authz.DeviceCode)
		require.NoError(t, err)
		require.Equal(t, deviceflow.StatusPending, result.Status)
		require.Equal(t, 5*time.Second, result.Interval)
		require.Nil(t, result.Credential)
	})

	t.Run("consumed exactly once after authorization", func(t *testing.T) {
		f := setupTestFixture(t)
		authz, err := f.service.CreateDeviceCode(ctx, testDeviceType, "")
		require.NoError(t, err)

		require.NoError(t, f.service.AuthorizeDeviceCode(ctx, authz.DeviceCode, testUpstreamTokens(f)))

		result, err := f.service.PollDeviceCode(ctx, authz.DeviceCode)
		require.NoError(t, err)
		require.Equal(t, deviceflow.StatusAuthorized, result.Status)
		require.NotNil(t, result.Credential)
		require.NotEmpty(t, result.Credential.AccessToken)
		require.NotEmpty(t, result.Credential.RefreshToken)
		require.Equal(t, testUserID, result.Credential.User.UserID)
		require.Equal(t, session.ProviderDeviceFlow, result.Credential.User.Provider)

		// Replays must never see authorized again.
		_, err = f.service.PollDeviceCode(ctx, authz.DeviceCode)
		require.ErrorIs(t, err, autherrors.ErrTicketAlreadyConsumed)
	})

	t.Run("expired by clock", func(t *testing.T) {
		f := setupTestFixture(t)
		authz, err := f.service.CreateDeviceCode(ctx, testDeviceType, "")
		require.NoError(t, err)

		f.Advance(11 * time.Minute)
		_, err = f.service.PollDeviceCode(ctx, authz.DeviceCode)
		require.ErrorIs(t, err, autherrors.ErrTicketExpired)

		// And the stored status now agrees with the clock.
		_, err = f.service.PollDeviceCode(ctx, authz.DeviceCode)
		require.ErrorIs(t, err, autherrors.ErrTicketExpired)
	})

	t.Run("expired after authorization issues no session", func(t *testing.T) {
		f := setupTestFixture(t)
		authz, err := f.service.CreateDeviceCode(ctx, testDeviceType, "")
		require.NoError(t, err)

		require.NoError(t, f.service.AuthorizeDeviceCode(ctx, authz.DeviceCode, testUpstreamTokens(f)))
		f.Advance(11 * time.Minute)

		_, err = f.service.PollDeviceCode(ctx, authz.DeviceCode)
		require.ErrorIs(t, err, autherrors.ErrTicketExpired)
	})
}

func TestService_PollDeviceCode_ConcurrentConsumption(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	authz, err := f.service.CreateDeviceCode(ctx, testDeviceType, "")
	require.NoError(t, err)
	require.NoError(t, f.service.AuthorizeDeviceCode(ctx, authz.DeviceCode, testUpstreamTokens(f)))

	const pollers = 16
	var wg sync.WaitGroup
	credentials := make(chan *deviceflow.Credential, pollers)
	for i := 0; i < pollers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.service.PollDeviceCode(ctx, authz.DeviceCode)
			if err == nil && result.Credential != nil {
				credentials <- result.Credential
			}
		}()
	}
	wg.Wait()
	close(credentials)

	var issued int
	for range credentials {
		issued++
	}
	require.Equal(t, 1, issued, "exactly one poller may consume the ticket")
}

func TestService_AuthorizeDeviceCode(t *testing.T) {
	ctx := context.Background()

	t.Run("by typed user code with separators", func(t *testing.T) {
		f := setupTestFixture(t)
		authz, err := f.service.CreateDeviceCode(ctx, testDeviceType, "")
		require.NoError(t, err)

		// A human types lowercase with the display dash; the lookup must
		// still land.
		typed := " " + strings.ToLower(authz.UserCode) + " "
		require.NoError(t, f.service.AuthorizeDeviceCode(ctx, typed, testUpstreamTokens(f)))

		result, err := f.service.PollDeviceCode(ctx, authz.DeviceCode)
		require.NoError(t, err)
		require.Equal(t, deviceflow.StatusAuthorized, result.Status)
	})

	t.Run("double authorize rejected", func(t *testing.T) {
		f := setupTestFixture(t)
		authz, err := f.service.CreateDeviceCode(ctx, testDeviceType, "")
		require.NoError(t, err)

		require.NoError(t, f.service.AuthorizeDeviceCode(ctx, authz.DeviceCode, testUpstreamTokens(f)))
		err = f.service.AuthorizeDeviceCode(ctx, authz.DeviceCode, testUpstreamTokens(f))
		require.ErrorIs(t, err, autherrors.ErrTicketAlreadyAuthorized)
	})

	t.Run("expired ticket rejected", func(t *testing.T) {
		f := setupTestFixture(t)
		authz, err := f.service.CreateDeviceCode(ctx, testDeviceType, "")
		require.NoError(t, err)

		f.Advance(11 * time.Minute)
		err = f.service.AuthorizeDeviceCode(ctx, authz.DeviceCode, testUpstreamTokens(f))
		require.ErrorIs(t, err, autherrors.ErrTicketExpired)
	})

	t.Run("unknown code rejected", func(t *testing.T) {
		f := setupTestFixture(t)
		err := f.service.AuthorizeDeviceCode(ctx, "WWWW-WWWW", testUpstreamTokens(f))
		require.ErrorIs(t, err, autherrors.ErrTicketNotFound)
	})

	t.Run("grant store failure leaves the ticket pending", func(t *testing.T) {
		f := setupTestFixture(t)
		authz, err := f.service.CreateDeviceCode(ctx, testDeviceType, "")
		require.NoError(t, err)

		f.grants.failUpserts(pkgerrors.New("grant store down"))
		err = f.service.AuthorizeDeviceCode(ctx, authz.DeviceCode, testUpstreamTokens(f))
		require.Error(t, err)

		// The ticket must not flip to authorized without a grant behind
		// it, or the consuming poll would burn the code and fail to mint.
		result, err := f.service.PollDeviceCode(ctx, authz.DeviceCode)
		require.NoError(t, err)
		require.Equal(t, deviceflow.StatusPending, result.Status)

		// Once the store recovers, the same authorize goes through.
		f.grants.failUpserts(nil)
		require.NoError(t, f.service.AuthorizeDeviceCode(ctx, authz.DeviceCode, testUpstreamTokens(f)))

		result, err = f.service.PollDeviceCode(ctx, authz.DeviceCode)
		require.NoError(t, err)
		require.Equal(t, deviceflow.StatusAuthorized, result.Status)
		require.NotNil(t, result.Credential)
	})

	t.Run("malformed upstream payload rejected", func(t *testing.T) {
		f := setupTestFixture(t)
		authz, err := f.service.CreateDeviceCode(ctx, testDeviceType, "")
		require.NoError(t, err)

		upstream := testUpstreamTokens(f)
		upstream.UserID = ""
		err = f.service.AuthorizeDeviceCode(ctx, authz.DeviceCode, upstream)
		require.Error(t, err)
		require.Contains(t, err.Error(), "missing userId")
	})
}

func TestService_RefreshCredential(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	authz, err := f.service.CreateDeviceCode(ctx, testDeviceType, "")
	require.NoError(t, err)
	require.NoError(t, f.service.AuthorizeDeviceCode(ctx, authz.DeviceCode, testUpstreamTokens(f)))

	result, err := f.service.PollDeviceCode(ctx, authz.DeviceCode)
	require.NoError(t, err)
	firstRefresh := result.Credential.RefreshToken

	refreshed, err := f.service.RefreshCredential(ctx, firstRefresh)
	require.NoError(t, err)
	require.NotEmpty(t, refreshed.AccessToken)
	require.Equal(t, testUserID, refreshed.User.UserID)
	require.NotEqual(t, firstRefresh, refreshed.RefreshToken, "refresh token must rotate on use")

	t.Run("rotated-out token is an invalid grant", func(t *testing.T) {
		_, err := f.service.RefreshCredential(ctx, firstRefresh)
		require.ErrorIs(t, err, autherrors.ErrInvalidGrant)
	})

	t.Run("unknown token is an invalid grant", func(t *testing.T) {
		_, err := f.service.RefreshCredential(ctx, "no-such-token")
		require.ErrorIs(t, err, autherrors.ErrInvalidGrant)
	})
}

func TestService_CleanupExpired(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	_, err := f.service.CreateDeviceCode(ctx, testDeviceType, "")
	require.NoError(t, err)
	kept, err := f.service.CreateDeviceCode(ctx, testDeviceType, "")
	require.NoError(t, err)

	f.Advance(5 * time.Minute)
	removed, err := f.service.CleanupExpired(ctx)
	require.NoError(t, err)
	require.Zero(t, removed)

	f.Advance(6 * time.Minute)
	// Re-create one so a live ticket survives the sweep.
	fresh, err := f.service.CreateDeviceCode(ctx, testDeviceType, "")
	require.NoError(t, err)

	removed, err = f.service.CleanupExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	_, err = f.service.PollDeviceCode(ctx, kept.DeviceCode)
	require.ErrorIs(t, err, autherrors.ErrTicketNotFound)
	_, err = f.service.PollDeviceCode(ctx, fresh.DeviceCode)
	require.NoError(t, err)
}
