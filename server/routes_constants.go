package server

// Route path constants
const (
	RouteHealth = "/health"
	RouteState  = "/state"

	// Sign-in flow
	RouteSignIn   = "/auth/signin"
	RouteSignOut  = "/auth/signout"
	RouteCallback = "/callback"

	// Profile
	RouteProfile        = "/profile"
	RouteProfileRefresh = "/profile/refresh"

	// Host lifecycle
	RouteLifecycleUnload = "/lifecycle/unload"

	RouteMetrics = "/metrics"
)
