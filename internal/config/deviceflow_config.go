package config

import "time"

// DeviceFlowConfig carries the server-side knobs for the hybrid device flow.
type DeviceFlowConfig interface {
	GetDeviceCodeExpiry() time.Duration
	GetPollInterval() time.Duration
	GetDeviceCodeLength() int
	GetCredentialSecret() string
	GetAccessTokenExpiry() time.Duration
	GetRefreshTokenExpiry() time.Duration
	GetRefreshTokenLength() int
}

type DeviceFlow struct{}

var _ DeviceFlowConfig = DeviceFlow{}

// GetDeviceCodeExpiry returns how long a ticket stays redeemable.
func (DeviceFlow) GetDeviceCodeExpiry() time.Duration {
	return getDurationEnv("DEVICE_CODE_EXPIRY", 10*time.Minute)
}

// GetPollInterval returns the minimum interval devices are told to poll at.
func (DeviceFlow) GetPollInterval() time.Duration {
	return getDurationEnv("DEVICE_POLL_INTERVAL", 5*time.Second)
}

func (DeviceFlow) GetDeviceCodeLength() int {
	return 32 // 32 bytes = 256 bits
}

// GetCredentialSecret returns the master secret the credential signing key is
// derived from. A generated secret on every boot would invalidate sessions
// across restarts, so this must be set in any real deployment.
func (DeviceFlow) GetCredentialSecret() string {
	return GetEnv("CREDENTIAL_SECRET", "dev-only-credential-secret")
}

func (DeviceFlow) GetAccessTokenExpiry() time.Duration {
	return getDurationEnv("ACCESS_TOKEN_EXPIRY", 1*time.Hour)
}

func (DeviceFlow) GetRefreshTokenExpiry() time.Duration {
	return getDurationEnv("REFRESH_TOKEN_EXPIRY", 30*24*time.Hour)
}

func (DeviceFlow) GetRefreshTokenLength() int {
	return 32 // 32 bytes = 256 bits
}

// getDurationEnv reads a Go duration string ("10m", "720h") from the
// environment, falling back to the default when unset or unparsable.
func getDurationEnv(envVar string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(GetEnv(envVar, ""))
	if err != nil {
		return defaultValue
	}
	return d
}
