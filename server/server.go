package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/nextphaseit/portal-identity/internal/config"
	"github.com/nextphaseit/portal-identity/internal/metrics"
	"github.com/nextphaseit/portal-identity/sessions"
	"github.com/nextphaseit/portal-identity/token"
	"github.com/rs/zerolog"
)

type Server struct {
	env            string // Environment (e.g., "DEV", "PROD")
	mux            *http.ServeMux
	handler        http.Handler
	routes         []string
	config         config.Config
	sessions       *sessions.Manager
	tokens         *token.Signer
	metrics        *metrics.Metrics
	providerLogout func(postLogoutRedirect string) string
	logger         zerolog.Logger
}

type Option func(*Server)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics instruments every request and serves /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithProviderLogout sets how the Entra end-session URL is built for Microsoft logouts.
func WithProviderLogout(logoutURL func(postLogoutRedirect string) string) Option {
	return func(s *Server) {
		s.providerLogout = logoutURL
	}
}

func New(cfg config.Config, manager *sessions.Manager, signer *token.Signer, options ...Option) (*Server, error) {
	if manager == nil || signer == nil {
		return nil, fmt.Errorf("[server.New] session manager and token signer are required")
	}
	s := &Server{
		env:      cfg.GetEnv(),
		mux:      http.NewServeMux(),
		config:   cfg,
		sessions: manager,
		tokens:   signer,
		logger:   zerolog.Nop(),
	}
	for _, opt := range options {
		opt(s)
	}

	s.initRoutes()
	s.handler = s.metrics.Middleware(s.mux)
	s.logRoutes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

const (
	green      = "\033[32m"
	blue       = "\033[34m"
	cyan       = "\033[36m"
	yellow     = "\033[33m"
	magenta    = "\033[35m"
	gray       = "\033[90m"
	resetColor = "\033[0m"
)

var methodColors = map[string]string{
	"GET":     green,
	"POST":    blue,
	"PUT":     cyan,
	"DELETE":  yellow,
	"PATCH":   magenta,
	"OPTIONS": gray,
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)
		if len(parts) > 1 {
			s.logRoute(parts[0], parts[1])
		} else {
			s.logRoute("", parts[0])
		}
	}
}

func (s *Server) logRoute(method, path string) {
	paddedMethod := fmt.Sprintf(" %-7s", method)
	color, ok := methodColors[method]
	if !ok {
		color = gray
	}
	s.logger.Debug().Msgf("[%s%s%s] %s", color, paddedMethod, resetColor, path)
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
