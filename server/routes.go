package server

import (
	"net/http"
)

func (s *Server) initRoutes() {
	s.RegisterRouteHandler("POST "+RouteDeviceCode, ChainMiddleware(s.CreateDeviceCode(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteDeviceToken, ChainMiddleware(s.PollDeviceCode(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteDeviceAuthorize, ChainMiddleware(s.AuthorizeDeviceCode(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteAuthRefresh, ChainMiddleware(s.RefreshCredential(), s.APIMiddleware()...))

	s.RegisterRouteFunc("GET "+RouteHealthz, s.Healthz())
}

func (s *Server) APIMiddleware() []func(http.HandlerFunc) http.HandlerFunc {
	return []func(http.HandlerFunc) http.HandlerFunc{
		s.LoggingMiddleware,
		s.RecoverMiddleware,
		s.CorsMiddleware,
	}
}
