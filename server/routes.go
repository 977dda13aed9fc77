package server

import "net/http"

func (s *Server) initRoutes() {
	s.RegisterRouteFunc("GET "+RouteAuthLogin, s.chain(s.LoginHandler()))
	s.RegisterRouteFunc("GET "+RouteAuthCallback, s.chain(s.CallbackHandler()))
	s.RegisterRouteFunc("GET "+RouteAuthLogout, s.chain(s.LogoutHandler()))
	s.RegisterRouteFunc("GET "+RouteAuthSession, s.chain(s.SessionInfoHandler()))

	// Reachable only from the internal network by deployment policy; the
	// token itself carries no such restriction.
	s.RegisterRouteFunc("GET "+RouteAuthValidate, s.chain(s.ValidateHandler()))

	s.RegisterRouteFunc("GET "+RouteHealth, s.chain(s.HealthHandler()))

	// Preflight requests must reach the CORS middleware, so every auth
	// route also accepts OPTIONS.
	for _, route := range []string{RouteAuthLogin, RouteAuthCallback, RouteAuthLogout, RouteAuthSession, RouteAuthValidate} {
		s.RegisterRouteFunc("OPTIONS "+route, s.chain(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
	}
}

func (s *Server) chain(h http.HandlerFunc) http.HandlerFunc {
	return ChainMiddleware(h, s.APIMiddleware()...)
}
