package refresh

import (
	"errors"
	"sync"
)

var _ Repo = (*InMemoryRepo)(nil)

// InMemoryRepo is a thread-safe in-memory implementation of the Repo interface
type InMemoryRepo struct {
	lock    sync.RWMutex
	tokens  map[string]*StoredRefreshToken
	userIDs map[string]string // user ID to token
}

// NewInMemoryRepo creates a new in-memory refresh token repository
func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{
		tokens:  make(map[string]*StoredRefreshToken),
		userIDs: make(map[string]string),
	}
}

func (r *InMemoryRepo) Upsert(refreshToken *StoredRefreshToken) error {
	if refreshToken == nil || refreshToken.Token == "" {
		return errors.New("refresh token is required")
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	copied := *refreshToken
	r.tokens[refreshToken.Token] = &copied
	r.userIDs[refreshToken.UserID] = refreshToken.Token
	return nil
}

func (r *InMemoryRepo) Delete(token string) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	rt, ok := r.tokens[token]
	if !ok {
		return errors.New("not found")
	}
	delete(r.userIDs, rt.UserID)
	delete(r.tokens, token)
	return nil
}

func (r *InMemoryRepo) Get(token string) (*StoredRefreshToken, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	rt, ok := r.tokens[token]
	if !ok {
		return nil, errors.New("not found")
	}
	copied := *rt
	return &copied, nil
}

func (r *InMemoryRepo) GetByUserID(userID string) (*StoredRefreshToken, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	token, ok := r.userIDs[userID]
	if !ok {
		return nil, errors.New("not found")
	}
	copied := *r.tokens[token]
	return &copied, nil
}
