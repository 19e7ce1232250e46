package deviceflow

import (
	"context"
	"errors"
	"time"
)

// ErrStatusConflict is returned by UpdateStatus when the ticket is not in
// the expected "from" state. A conflict means another caller won the
// transition; it must surface as a replay/ordering error, never as success.
var ErrStatusConflict = errors.New("ticket status conflict")

// Repo stores device authorization tickets. Implementations must make
// UpdateStatus an atomic check-and-set: the single-use consume guarantee of
// the whole flow rests on it.
type Repo interface {
	// Create stores a new ticket. The device code must be unused.
	Create(ctx context.Context, ticket *Ticket) error

	// GetByDeviceCode retrieves a ticket by its device code.
	GetByDeviceCode(ctx context.Context, deviceCode string) (*Ticket, error)

	// GetByUserCode retrieves a ticket by its normalized user code.
	GetByUserCode(ctx context.Context, userCode string) (*Ticket, error)

	// UpdateStatus transitions a ticket from one status to another
	// atomically, applying mutate (may be nil) to the ticket inside the same
	// transaction. Returns ErrStatusConflict when the ticket is not in the
	// "from" state, and the updated ticket on success.
	UpdateStatus(ctx context.Context, deviceCode string, from, to Status, mutate func(*Ticket)) (*Ticket, error)

	// DeleteExpired removes tickets whose deadline passed before cutoff,
	// returning how many were removed.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int, error)
}

// UpstreamGrant is the upstream provider's credential obtained by the
// authorizing device, stored keyed by user so both devices reference the
// same underlying grant.
type UpstreamGrant struct {
	UserID       string    `json:"userId"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"displayName"`
	PictureURL   string    `json:"pictureUrl,omitempty"`
	Provider     string    `json:"provider"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	TokenExpiry  time.Time `json:"tokenExpiry"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// GrantRepo stores upstream provider grants keyed by user.
type GrantRepo interface {
	Upsert(ctx context.Context, grant *UpstreamGrant) error
	GetByUserID(ctx context.Context, userID string) (*UpstreamGrant, error)
}
