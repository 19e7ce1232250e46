package server

import (
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/dashieapp/dashie-auth/deviceflow"
	"github.com/dashieapp/dashie-auth/internal/config"
)

// Server is the HTTP surface of the device-flow backend.
type Server struct {
	env    string // Environment (e.g., "DEV", "PROD")
	mux    *http.ServeMux
	routes []string
	config config.Config
	flow   *deviceflow.Service
}

func New(config config.Config, flow *deviceflow.Service) (*Server, error) {
	if flow == nil {
		return nil, fmt.Errorf("[Server New] device-flow service is required")
	}

	s := &Server{
		mux:    http.NewServeMux(),
		config: config,
		flow:   flow,
	}
	s.env = config.GetEnv()

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
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
			logRoute(parts[0], parts[1])
		} else {
			logRoute("", parts[0])
		}
	}
}

func logRoute(method, path string) {
	log.Printf("[%-7s] %s\n", method, path)
}
