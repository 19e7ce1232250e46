package provider

import (
	"errors"
	"sync"
	"time"
)

// FlowState is the per-redirect bookkeeping a web OAuth flow needs to pick
// itself back up when the browser lands on the callback: the CSRF state key,
// the PKCE verifier, and the OIDC nonce.
type FlowState struct {
	CodeVerifier string
	Nonce        string
	CreatedAt    time.Time
}

// FlowStateRepo stores pending redirect flows keyed by state parameter.
type FlowStateRepo interface {
	Upsert(state string, flowState *FlowState) error
	Get(state string) (*FlowState, error)
	Delete(state string) error
}

// InMemoryFlowStateRepo is a thread-safe in-memory implementation of
// FlowStateRepo.
type InMemoryFlowStateRepo struct {
	mu     sync.RWMutex
	states map[string]*FlowState
}

// NewInMemoryFlowStateRepo creates a new in-memory flow state repository
func NewInMemoryFlowStateRepo() *InMemoryFlowStateRepo {
	return &InMemoryFlowStateRepo{
		states: make(map[string]*FlowState),
	}
}

// Upsert stores or updates a pending flow state
func (r *InMemoryFlowStateRepo) Upsert(state string, flowState *FlowState) error {
	if state == "" {
		return errors.New("state cannot be empty")
	}
	if flowState == nil {
		return errors.New("flowState cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Create a copy to prevent external modifications
	r.states[state] = &FlowState{
		CodeVerifier: flowState.CodeVerifier,
		Nonce:        flowState.Nonce,
		CreatedAt:    flowState.CreatedAt,
	}
	return nil
}

// Get retrieves a pending flow state by state parameter
func (r *InMemoryFlowStateRepo) Get(state string) (*FlowState, error) {
	if state == "" {
		return nil, errors.New("state cannot be empty")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	flowState, exists := r.states[state]
	if !exists {
		return nil, errors.New("state not found")
	}

	return &FlowState{
		CodeVerifier: flowState.CodeVerifier,
		Nonce:        flowState.Nonce,
		CreatedAt:    flowState.CreatedAt,
	}, nil
}

// Delete removes a pending flow state
func (r *InMemoryFlowStateRepo) Delete(state string) error {
	if state == "" {
		return errors.New("state cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.states, state)
	return nil
}

var _ FlowStateRepo = (*InMemoryFlowStateRepo)(nil)
