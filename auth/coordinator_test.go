package auth_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dashieapp/dashie-auth/auth"
	"github.com/dashieapp/dashie-auth/provider"
	"github.com/dashieapp/dashie-auth/session"
)

func fullAdapterSet() auth.Adapters {
	return auth.Adapters{
		Native:     &fakeAdapter{kind: session.ProviderNative},
		Hybrid:     &fakeAdapter{kind: session.ProviderDeviceFlow},
		DeviceFlow: &fakeAdapter{kind: session.ProviderDeviceFlow},
		HostedUI:   &fakeAdapter{kind: session.ProviderHostedUI},
		WebOAuth:   &fakeAdapter{kind: session.ProviderWebOAuth},
		Local:      &fakeAdapter{kind: session.ProviderLocal},
	}
}

func kindsOf(adapters []provider.Adapter) []session.Provider {
	kinds := make([]session.Provider, 0, len(adapters))
	for _, a := range adapters {
		kinds = append(kinds, a.Kind())
	}
	return kinds
}

func TestCoordinator_Candidates(t *testing.T) {
	adapters := fullAdapterSet()
	coordinator, err := auth.NewCoordinator(adapters)
	require.NoError(t, err)

	tests := []struct {
		name string
		env  auth.Environment
		want []provider.Adapter
	}{
		{
			name: "native bridge wins outright",
			env:  auth.Environment{NativeBridge: true, UserAgent: "Mozilla/5.0 (SMART-TV)"},
			want: []provider.Adapter{adapters.Native, adapters.Local},
		},
		{
			name: "TV surface gets hybrid then plain device flow",
			env:  auth.Environment{UserAgent: "Mozilla/5.0 (Linux; Android TV 12) AFTKA"},
			want: []provider.Adapter{adapters.Hybrid, adapters.DeviceFlow, adapters.Local},
		},
		{
			name: "webview without redirect drops to local only",
			env:  auth.Environment{EmbeddedWebView: true, SupportsRedirect: false},
			want: []provider.Adapter{adapters.Local},
		},
		{
			name: "browser default is web oauth",
			env:  auth.Environment{SupportsRedirect: true},
			want: []provider.Adapter{adapters.WebOAuth, adapters.Local},
		},
		{
			name: "hosted UI leads when configured",
			env:  auth.Environment{SupportsRedirect: true, HostedUIConfigured: true},
			want: []provider.Adapter{adapters.HostedUI, adapters.WebOAuth, adapters.Local},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := coordinator.Candidates(tt.env)
			require.Equal(t, kindsOf(tt.want), kindsOf(got))
		})
	}
}

func TestCoordinator_Candidates_SkipsNilAdapters(t *testing.T) {
	adapters := fullAdapterSet()
	adapters.Hybrid = nil
	coordinator, err := auth.NewCoordinator(adapters)
	require.NoError(t, err)

	got := coordinator.Candidates(auth.Environment{UserAgent: "Roku/DVP"})
	require.Equal(t,
		[]session.Provider{session.ProviderDeviceFlow, session.ProviderLocal},
		kindsOf(got))
}

func TestCoordinator_RequiresLocalAdapter(t *testing.T) {
	adapters := fullAdapterSet()
	adapters.Local = nil
	_, err := auth.NewCoordinator(adapters)
	require.Error(t, err)
}

func TestCoordinator_ForProvider(t *testing.T) {
	adapters := fullAdapterSet()
	coordinator, err := auth.NewCoordinator(adapters)
	require.NoError(t, err)

	require.Same(t, adapters.Native, coordinator.ForProvider(session.ProviderNative))
	require.Same(t, adapters.Hybrid, coordinator.ForProvider(session.ProviderDeviceFlow))
	require.Same(t, adapters.WebOAuth, coordinator.ForProvider(session.ProviderWebOAuth))
	require.Same(t, adapters.Local, coordinator.ForProvider(session.ProviderLocal))
	require.Nil(t, coordinator.ForProvider(session.Provider("unknown")))
}

func TestEnvironment_TVClass(t *testing.T) {
	tvAgents := []string{
		"Mozilla/5.0 (SMART-TV; Linux; Tizen 6.0)",
		"Mozilla/5.0 (Linux; Android 10; AFTKA Build)",
		"Mozilla/5.0 (Web0S; SmartTV)",
		"Roku/DVP-9.10",
	}
	for _, ua := range tvAgents {
		require.True(t, auth.Environment{UserAgent: ua}.TVClass(), ua)
	}

	require.False(t, auth.Environment{UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X)"}.TVClass())
	require.False(t, auth.Environment{}.TVClass())
}
