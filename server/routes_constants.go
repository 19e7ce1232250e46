package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	// Device flow routes
	RouteDeviceCode      = "/device/code"
	RouteDeviceToken     = "/device/token"
	RouteDeviceAuthorize = "/device/authorize"

	// Session routes
	RouteAuthRefresh = "/auth/refresh"

	// Operational routes
	RouteHealthz = "/healthz"
)
