package storefakes

import (
	"sync"

	"github.com/dashieapp/dashie-auth/session"
)

var _ session.Store = (*FakeStore)(nil)

// FakeStore is an in-memory session.Store for tests. SaveErr/LoadErr/ClearErr
// can be set to simulate storage failures.
type FakeStore struct {
	lock     sync.RWMutex
	current  *session.Session
	SaveErr  error
	LoadErr  error
	ClearErr error

	SaveCalls  int
	ClearCalls int
}

func NewFakeStore() *FakeStore {
	return &FakeStore{}
}

func (fs *FakeStore) Save(sess *session.Session) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	fs.SaveCalls++
	if fs.SaveErr != nil {
		return fs.SaveErr
	}
	copied := *sess
	fs.current = &copied
	return nil
}

func (fs *FakeStore) Load() (*session.Session, error) {
	fs.lock.RLock()
	defer fs.lock.RUnlock()

	if fs.LoadErr != nil {
		return nil, fs.LoadErr
	}
	if fs.current == nil {
		return nil, nil
	}
	copied := *fs.current
	return &copied, nil
}

func (fs *FakeStore) Clear() error {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	fs.ClearCalls++
	if fs.ClearErr != nil {
		return fs.ClearErr
	}
	fs.current = nil
	return nil
}

// Stored returns the currently persisted session without copying semantics
// getting in the way of assertions.
func (fs *FakeStore) Stored() *session.Session {
	fs.lock.RLock()
	defer fs.lock.RUnlock()
	return fs.current
}
