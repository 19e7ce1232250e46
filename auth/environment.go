package auth

import (
	"strings"
)

// Environment captures the host signals the coordinator selects an adapter
// from. The embedding shell fills it in once at startup; detection is cheap
// string inspection, never a network call.
type Environment struct {
	// NativeBridge reports that the host shell exposes its own sign-in
	// surface.
	NativeBridge bool
	// UserAgent is the host's user agent string, used for TV-class
	// detection.
	UserAgent string
	// EmbeddedWebView reports a webview that cannot follow OAuth redirects
	// out to the system browser.
	EmbeddedWebView bool
	// SupportsRedirect reports that the surface can leave for an external
	// login page and come back with callback parameters.
	SupportsRedirect bool
	// HostedUIConfigured reports that a hosted identity provider is set up.
	HostedUIConfigured bool
}

// tvAgentMarkers are substrings that identify leanback/TV-class surfaces,
// where typing a password is miserable and device flow wins.
var tvAgentMarkers = []string{
	"smart-tv",
	"smarttv",
	"googletv",
	"android tv",
	"appletv",
	"aft", // Fire TV device models
	"bravia",
	"tizen",
	"webos",
	"roku",
	"crkey",
}

// TVClass reports whether the user agent looks like a television surface.
func (e Environment) TVClass() bool {
	ua := strings.ToLower(e.UserAgent)
	for _, marker := range tvAgentMarkers {
		if strings.Contains(ua, marker) {
			return true
		}
	}
	return false
}
