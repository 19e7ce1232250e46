package refresh

import (
	"time"
)

// StoredRefreshToken represents the server-side storage of refresh token
// metadata. The client only receives the Token field (a random string); the
// rest is validation metadata keyed by it.
type StoredRefreshToken struct {
	Token    string    // The actual random token string (sent to client)
	UserID   string    // Server-side metadata
	DeviceID string    // Requesting device the token was issued to
	Iat      time.Time // Issued at time
}

// Repo manages server-side storage of refresh token metadata. Refresh tokens
// sent to clients are opaque random strings; this repo stores the associated
// metadata keyed by the token string.
type Repo interface {
	Upsert(refreshToken *StoredRefreshToken) error
	Delete(token string) error
	Get(token string) (*StoredRefreshToken, error)
	GetByUserID(userID string) (*StoredRefreshToken, error)
}
