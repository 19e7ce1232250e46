package deviceflow

import (
	"context"
	"sync"
	"time"

	autherrors "github.com/dashieapp/dashie-auth/internal/errors"
)

var (
	_ Repo      = (*InMemoryRepo)(nil)
	_ GrantRepo = (*InMemoryGrantRepo)(nil)
)

// InMemoryRepo is a thread-safe in-memory implementation of the ticket Repo.
// Suitable for a single-instance deployment and for tests; multi-instance
// deployments use the Redis repo.
type InMemoryRepo struct {
	mu        sync.Mutex
	tickets   map[string]*Ticket // deviceCode -> ticket
	userCodes map[string]string  // normalized userCode -> deviceCode
}

// NewInMemoryRepo creates a new in-memory ticket repository
func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{
		tickets:   make(map[string]*Ticket),
		userCodes: make(map[string]string),
	}
}

func (r *InMemoryRepo) Create(_ context.Context, ticket *Ticket) error {
	if ticket == nil || ticket.DeviceCode == "" {
		return autherrors.ErrInternal
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tickets[ticket.DeviceCode]; exists {
		return autherrors.ErrInternal
	}
	copied := *ticket
	r.tickets[ticket.DeviceCode] = &copied
	r.userCodes[NormalizeUserCode(ticket.UserCode)] = ticket.DeviceCode
	return nil
}

func (r *InMemoryRepo) GetByDeviceCode(_ context.Context, deviceCode string) (*Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ticket, ok := r.tickets[deviceCode]
	if !ok {
		return nil, autherrors.ErrTicketNotFound
	}
	copied := *ticket
	return &copied, nil
}

func (r *InMemoryRepo) GetByUserCode(ctx context.Context, userCode string) (*Ticket, error) {
	r.mu.Lock()
	deviceCode, ok := r.userCodes[NormalizeUserCode(userCode)]
	r.mu.Unlock()
	if !ok {
		return nil, autherrors.ErrTicketNotFound
	}
	return r.GetByDeviceCode(ctx, deviceCode)
}

// UpdateStatus performs the check-and-set under the repository lock, so two
// racing transitions cannot both succeed.
func (r *InMemoryRepo) UpdateStatus(_ context.Context, deviceCode string, from, to Status, mutate func(*Ticket)) (*Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ticket, ok := r.tickets[deviceCode]
	if !ok {
		return nil, autherrors.ErrTicketNotFound
	}
	if ticket.Status != from {
		return nil, ErrStatusConflict
	}

	ticket.Status = to
	if mutate != nil {
		mutate(ticket)
	}
	copied := *ticket
	return &copied, nil
}

func (r *InMemoryRepo) DeleteExpired(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for deviceCode, ticket := range r.tickets {
		if ticket.ExpiresAt.Before(cutoff) {
			delete(r.tickets, deviceCode)
			delete(r.userCodes, NormalizeUserCode(ticket.UserCode))
			removed++
		}
	}
	return removed, nil
}

// InMemoryGrantRepo is a thread-safe in-memory implementation of GrantRepo.
type InMemoryGrantRepo struct {
	mu     sync.RWMutex
	grants map[string]*UpstreamGrant
}

// NewInMemoryGrantRepo creates a new in-memory grant repository
func NewInMemoryGrantRepo() *InMemoryGrantRepo {
	return &InMemoryGrantRepo{
		grants: make(map[string]*UpstreamGrant),
	}
}

func (r *InMemoryGrantRepo) Upsert(_ context.Context, grant *UpstreamGrant) error {
	if grant == nil || grant.UserID == "" {
		return autherrors.ErrInternal
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *grant
	r.grants[grant.UserID] = &copied
	return nil
}

func (r *InMemoryGrantRepo) GetByUserID(_ context.Context, userID string) (*UpstreamGrant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	grant, ok := r.grants[userID]
	if !ok {
		return nil, autherrors.ErrNotFound
	}
	copied := *grant
	return &copied, nil
}
