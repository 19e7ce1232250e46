package auth_test

import (
	"context"
	"sync"

	"github.com/dashieapp/dashie-auth/provider"
	"github.com/dashieapp/dashie-auth/session"
)

// fakeAdapter is a scriptable provider.Adapter for manager and coordinator
// tests.
type fakeAdapter struct {
	kind session.Provider

	initErr    error
	signInFn   func(ctx context.Context, opts provider.SignInOptions) (*provider.Result, error)
	signOutErr error
	refreshFn  func(ctx context.Context, sess *session.Session) (*provider.Result, error)

	mu           sync.Mutex
	initCalls    int
	signInCalls  int
	signOutCalls int
	refreshCalls int
}

func (f *fakeAdapter) Kind() session.Provider { return f.kind }

func (f *fakeAdapter) Init(_ context.Context) error {
	f.mu.Lock()
	f.initCalls++
	f.mu.Unlock()
	return f.initErr
}

func (f *fakeAdapter) SignIn(ctx context.Context, opts provider.SignInOptions) (*provider.Result, error) {
	f.mu.Lock()
	f.signInCalls++
	f.mu.Unlock()
	return f.signInFn(ctx, opts)
}

func (f *fakeAdapter) SignOut(_ context.Context, _ *session.Session) error {
	f.mu.Lock()
	f.signOutCalls++
	f.mu.Unlock()
	return f.signOutErr
}

func (f *fakeAdapter) CurrentUser(_ context.Context) (*provider.Result, error) {
	return nil, nil
}

func (f *fakeAdapter) Refresh(ctx context.Context, sess *session.Session) (*provider.Result, error) {
	f.mu.Lock()
	f.refreshCalls++
	f.mu.Unlock()
	return f.refreshFn(ctx, sess)
}

func (f *fakeAdapter) calls() (init, signIn, signOut, refresh int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initCalls, f.signInCalls, f.signOutCalls, f.refreshCalls
}

// fakeCallbackAdapter additionally completes redirect callbacks.
type fakeCallbackAdapter struct {
	fakeAdapter
	completeFn func(ctx context.Context, params provider.CallbackParams) (*provider.Result, error)
}

func (f *fakeCallbackAdapter) CompleteCallback(ctx context.Context, params provider.CallbackParams) (*provider.Result, error) {
	return f.completeFn(ctx, params)
}

var (
	_ provider.Adapter           = (*fakeAdapter)(nil)
	_ provider.CallbackCompleter = (*fakeCallbackAdapter)(nil)
)
