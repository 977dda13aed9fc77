package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	RouteAuthLogin    = "/auth/login"
	RouteAuthCallback = "/auth/callback"
	RouteAuthLogout   = "/auth/logout"
	RouteAuthSession  = "/auth/session"
	RouteAuthValidate = "/auth/validate"
	RouteHealth       = "/health"
)
