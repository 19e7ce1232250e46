package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dashieapp/dashie-auth/internal/config"
)

func TestDeviceFlow_EnvOverrides(t *testing.T) {
	c := config.DeviceFlow{}

	t.Run("defaults when unset", func(t *testing.T) {
		require.Equal(t, 10*time.Minute, c.GetDeviceCodeExpiry())
		require.Equal(t, 5*time.Second, c.GetPollInterval())
		require.Equal(t, 1*time.Hour, c.GetAccessTokenExpiry())
		require.Equal(t, 30*24*time.Hour, c.GetRefreshTokenExpiry())
	})

	t.Run("environment wins", func(t *testing.T) {
		t.Setenv("DEVICE_CODE_EXPIRY", "15m")
		t.Setenv("DEVICE_POLL_INTERVAL", "3s")
		t.Setenv("ACCESS_TOKEN_EXPIRY", "30m")
		t.Setenv("REFRESH_TOKEN_EXPIRY", "168h")

		require.Equal(t, 15*time.Minute, c.GetDeviceCodeExpiry())
		require.Equal(t, 3*time.Second, c.GetPollInterval())
		require.Equal(t, 30*time.Minute, c.GetAccessTokenExpiry())
		require.Equal(t, 7*24*time.Hour, c.GetRefreshTokenExpiry())
	})

	t.Run("garbage falls back to the default", func(t *testing.T) {
		t.Setenv("DEVICE_CODE_EXPIRY", "soon")
		require.Equal(t, 10*time.Minute, c.GetDeviceCodeExpiry())
	})

	t.Run("credential secret", func(t *testing.T) {
		t.Setenv("CREDENTIAL_SECRET", "prod-secret")
		require.Equal(t, "prod-secret", c.GetCredentialSecret())
	})
}
