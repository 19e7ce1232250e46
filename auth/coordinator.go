package auth

import (
	"github.com/pkg/errors"

	"github.com/dashieapp/dashie-auth/provider"
	"github.com/dashieapp/dashie-auth/session"
)

// Adapters holds one instance per adapter variant. Entries may be nil when
// the embedding shell cannot supply them (no native bridge, no backend URL);
// the coordinator simply skips nil candidates.
type Adapters struct {
	Native     provider.Adapter
	Hybrid     provider.Adapter
	DeviceFlow provider.Adapter
	HostedUI   provider.Adapter
	WebOAuth   provider.Adapter
	Local      provider.Adapter
}

// Coordinator turns an Environment into an ordered list of sign-in
// candidates. It is deterministic and side-effect free; availability probing,
// fallback and retries all happen in the manager.
type Coordinator struct {
	adapters Adapters
}

func NewCoordinator(adapters Adapters) (*Coordinator, error) {
	if adapters.Local == nil {
		return nil, errors.New("[NewCoordinator] local adapter is required as the fallback floor")
	}
	return &Coordinator{adapters: adapters}, nil
}

// Candidates returns the adapters to try, in order. A native bridge always
// wins. TV surfaces get the hybrid device flow with the plain upstream
// device flow behind it. An embedded webview that cannot redirect drops
// straight to local identity, a deliberate UX concession rather than an auth
// success. Everything else gets browser sign-in, hosted UI first when one is
// configured. Local identity closes every list.
func (c *Coordinator) Candidates(env Environment) []provider.Adapter {
	var candidates []provider.Adapter
	add := func(a provider.Adapter) {
		if a != nil {
			candidates = append(candidates, a)
		}
	}

	switch {
	case env.NativeBridge:
		add(c.adapters.Native)
	case env.TVClass():
		add(c.adapters.Hybrid)
		add(c.adapters.DeviceFlow)
	case env.EmbeddedWebView && !env.SupportsRedirect:
		// fall through to local only
	default:
		if env.HostedUIConfigured {
			add(c.adapters.HostedUI)
		}
		add(c.adapters.WebOAuth)
	}

	add(c.adapters.Local)
	return candidates
}

// ForProvider returns the adapter that produced a stored session, used to
// route Refresh and SignOut back to the right variant.
func (c *Coordinator) ForProvider(p session.Provider) provider.Adapter {
	switch p {
	case session.ProviderNative:
		return c.adapters.Native
	case session.ProviderDeviceFlow:
		if c.adapters.Hybrid != nil {
			return c.adapters.Hybrid
		}
		return c.adapters.DeviceFlow
	case session.ProviderHostedUI:
		return c.adapters.HostedUI
	case session.ProviderWebOAuth:
		return c.adapters.WebOAuth
	case session.ProviderLocal:
		return c.adapters.Local
	default:
		return nil
	}
}
