// Package server is the local agent's HTTP surface. The host shell reads the
// session snapshot, drives the sign-in flow and reports lifecycle events here.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/longanisha/Mahidol-Forum-sub000/authstate"
	"github.com/longanisha/Mahidol-Forum-sub000/internal/config"
	"github.com/longanisha/Mahidol-Forum-sub000/internal/logging"
	"github.com/longanisha/Mahidol-Forum-sub000/navigation"
	"github.com/longanisha/Mahidol-Forum-sub000/profiles"
	"github.com/longanisha/Mahidol-Forum-sub000/server/authflowrepo"
	"github.com/longanisha/Mahidol-Forum-sub000/sessions"
	"github.com/rs/zerolog"
)

const defaultFlowTTL = 10 * time.Minute

// Facade is the session consumer the handlers read from and act on.
type Facade interface {
	Snapshot() authstate.Snapshot
	SignOut(ctx context.Context)
	RefreshProfile(ctx context.Context, force bool) (*profiles.Profile, error)
	PatchProfile(ctx context.Context, patch profiles.Patch) bool
	SaveProfile(ctx context.Context, patch profiles.Patch) (*profiles.Profile, error)
	HandleUnload(ctx context.Context, ev navigation.UnloadEvent) (navigation.Outcome, error)
}

// SignInFlow is the provider side of the authorization code flow.
type SignInFlow interface {
	AuthCodeURL(state, verifier, nonce string) string
	SignIn(ctx context.Context, code, verifier, nonce string) (*sessions.Session, error)
}

type Server struct {
	env       string // Environment (e.g., "DEV", "PROD")
	mux       *http.ServeMux
	routes    []string
	config    config.Config
	facade    Facade
	signIn    SignInFlow
	authState authflowrepo.Repo
	metrics   http.Handler
	flowTTL   time.Duration
	nowTime   func() time.Time
	logger    zerolog.Logger
}

type Option func(*Server)

// WithSignInFlow enables /auth/signin and /callback.
func WithSignInFlow(flow SignInFlow, repo authflowrepo.Repo) Option {
	return func(s *Server) {
		s.signIn = flow
		s.authState = repo
	}
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

func WithFlowTTL(ttl time.Duration) Option {
	return func(s *Server) {
		s.flowTTL = ttl
	}
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(s *Server) {
		s.nowTime = nowFunc
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

func New(config config.Config, facade Facade, opts ...Option) (*Server, error) {
	if config == nil {
		return nil, fmt.Errorf("[Server New] config is nil")
	}
	if facade == nil {
		return nil, fmt.Errorf("[Server New] facade is nil")
	}

	s := &Server{
		mux:     http.NewServeMux(),
		config:  config,
		facade:  facade,
		flowTTL: defaultFlowTTL,
		nowTime: time.Now,
		logger:  logging.Component("server"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.signIn != nil && s.authState == nil {
		s.authState = authflowrepo.NewInMemoryRepo()
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
			s.logRoute(parts[0], parts[1], 0)
		} else {
			s.logRoute("", parts[0], 0)
		}
	}
}

func (s *Server) logRoute(method, path string, status int) {
	displayMethod := fmt.Sprintf(" %-7s", method)
	if color, ok := methodColors[method]; ok {
		displayMethod = color + displayMethod + ResetColor
	} else {
		displayMethod = Gray + displayMethod + ResetColor
	}
	event := s.logger.Debug()
	if status != 0 {
		event = event.Int("status", status)
	}
	event.Msgf("[%-19s] %s", displayMethod, path)
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
