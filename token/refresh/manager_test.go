package refresh_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dashieapp/dashie-auth/internal/config"
	autherrors "github.com/dashieapp/dashie-auth/internal/errors"
	"github.com/dashieapp/dashie-auth/token/refresh"
)

func TestManager_Create(t *testing.T) {
	m := refresh.NewManager(refresh.NewInMemoryRepo(), config.DeviceFlow{})

	first, err := m.Create("user-1", "device-1")
	require.NoError(t, err)
	require.NotEmpty(t, first)

	t.Run("one token per user", func(t *testing.T) {
		second, err := m.Create("user-1", "device-2")
		require.NoError(t, err)
		require.NotEqual(t, first, second)

		_, _, err = m.Rotate(first)
		require.ErrorIs(t, err, autherrors.ErrInvalidGrant, "superseded token must be dead")
	})
}

func TestManager_Rotate(t *testing.T) {
	m := refresh.NewManager(refresh.NewInMemoryRepo(), config.DeviceFlow{})

	original, err := m.Create("user-1", "device-1")
	require.NoError(t, err)

	userID, rotated, err := m.Rotate(original)
	require.NoError(t, err)
	require.Equal(t, "user-1", userID)
	require.NotEqual(t, original, rotated)

	t.Run("used token cannot be replayed", func(t *testing.T) {
		_, _, err := m.Rotate(original)
		require.ErrorIs(t, err, autherrors.ErrInvalidGrant)
	})

	t.Run("rotated token works", func(t *testing.T) {
		userID, _, err := m.Rotate(rotated)
		require.NoError(t, err)
		require.Equal(t, "user-1", userID)
	})

	t.Run("unknown token", func(t *testing.T) {
		_, _, err := m.Rotate("never-issued")
		require.ErrorIs(t, err, autherrors.ErrInvalidGrant)
	})
}

func TestManager_Rotate_Expired(t *testing.T) {
	m := refresh.NewManager(refresh.NewInMemoryRepo(), config.DeviceFlow{})

	tok, err := m.Create("user-1", "device-1")
	require.NoError(t, err)

	originalNow := refresh.NowTimeFunc
	refresh.NowTimeFunc = func() time.Time {
		return time.Now().Add(config.DeviceFlow{}.GetRefreshTokenExpiry() + time.Hour)
	}
	defer func() { refresh.NowTimeFunc = originalNow }()

	_, _, err = m.Rotate(tok)
	require.ErrorIs(t, err, autherrors.ErrInvalidGrant)
}

func TestManager_Delete(t *testing.T) {
	m := refresh.NewManager(refresh.NewInMemoryRepo(), config.DeviceFlow{})

	tok, err := m.Create("user-1", "device-1")
	require.NoError(t, err)
	require.NoError(t, m.Delete(tok))

	_, _, err = m.Rotate(tok)
	require.ErrorIs(t, err, autherrors.ErrInvalidGrant)
}
