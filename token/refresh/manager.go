package refresh

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	autherrors "github.com/dashieapp/dashie-auth/internal/errors"
	"github.com/dashieapp/dashie-auth/internal/config"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// Manager handles refresh token creation, validation, and rotation
type Manager struct {
	repo   Repo
	config config.DeviceFlowConfig
}

// NewManager creates a new refresh token manager
func NewManager(repo Repo, cfg config.DeviceFlowConfig) *Manager {
	return &Manager{
		repo:   repo,
		config: cfg,
	}
}

// Create generates a new refresh token and stores it. Both devices of a
// hybrid grant reference the same user, so a single refresh token exists per
// user; issuing a new one invalidates the previous.
func (m *Manager) Create(userID, deviceID string) (string, error) {
	if existingToken, err := m.repo.GetByUserID(userID); err == nil && existingToken != nil {
		if err := m.repo.Delete(existingToken.Token); err != nil {
			return "", fmt.Errorf("failed to delete existing refresh token: %w", err)
		}
	}

	tokenBytes := make([]byte, m.config.GetRefreshTokenLength())
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	tokenStr := hex.EncodeToString(tokenBytes)
	if err := m.repo.Upsert(&StoredRefreshToken{
		Token:    tokenStr,
		UserID:   userID,
		DeviceID: deviceID,
		Iat:      NowTimeFunc(),
	}); err != nil {
		return "", fmt.Errorf("failed to store refresh token: %w", err)
	}

	return tokenStr, nil
}

// Rotate validates a refresh token and replaces it with a new one, returning
// the bound user ID and the replacement token. Unknown or expired tokens are
// an invalid grant: terminal, the caller must re-authenticate rather than
// retry.
func (m *Manager) Rotate(rawToken string) (userID, newToken string, err error) {
	rt, err := m.repo.Get(rawToken)
	if err != nil || rt == nil {
		return "", "", autherrors.ErrInvalidGrant
	}

	if NowTimeFunc().Sub(rt.Iat) > m.config.GetRefreshTokenExpiry() {
		_ = m.repo.Delete(rawToken)
		return "", "", autherrors.ErrInvalidGrant
	}

	newToken, err = m.Create(rt.UserID, rt.DeviceID)
	if err != nil {
		return "", "", fmt.Errorf("[Manager.Rotate] create replacement: %w", err)
	}
	return rt.UserID, newToken, nil
}

// Delete removes a refresh token from storage
func (m *Manager) Delete(token string) error {
	return m.repo.Delete(token)
}
