package server

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/bionicpro/auth-service/auth"
	"github.com/bionicpro/auth-service/internal/config"
	"github.com/bionicpro/auth-service/kvstore"
)

// Server wires the session manager to the cookie-based HTTP surface.
type Server struct {
	env     string // Environment (e.g., "DEV", "production")
	mux     *http.ServeMux
	routes  []string
	config  config.Config
	manager *auth.SessionManager
	store   kvstore.Store
}

func New(cfg config.Config, manager *auth.SessionManager, store kvstore.Store) *Server {
	s := &Server{
		mux:     http.NewServeMux(),
		config:  cfg,
		manager: manager,
		store:   store,
	}
	s.env = cfg.GetEnv()

	s.initRoutes()
	s.logRoutes()

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)
		if len(parts) > 1 {
			log.Info().Str("method", parts[0]).Str("path", parts[1]).Msg("route registered")
		} else {
			log.Info().Str("path", parts[0]).Msg("route registered")
		}
	}
}

// Helper function to determine the scheme (http/https)
func getScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if scheme := r.Header.Get("X-Forwarded-Proto"); scheme != "" {
		return scheme
	}
	return "http"
}
