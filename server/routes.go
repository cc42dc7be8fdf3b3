package server

func (s *Server) initRoutes() {
	s.RegisterRouteHandler("GET "+RouteHealth, ChainMiddleware(s.HealthHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteState, ChainMiddleware(s.StateHandler(), s.APIMiddleware()...))

	// SIGN IN / OUT
	if s.signIn != nil {
		s.RegisterRouteHandler("GET "+RouteSignIn, ChainMiddleware(s.SignInHandler(), s.BrowserMiddleware()...))
		s.RegisterRouteHandler("GET "+RouteCallback, ChainMiddleware(s.CallbackHandler(), s.BrowserMiddleware()...))
	}
	s.RegisterRouteHandler("POST "+RouteSignOut, ChainMiddleware(s.SignOutHandler(), s.APIMiddleware()...))

	// PROFILE
	s.RegisterRouteHandler("POST "+RouteProfileRefresh, ChainMiddleware(s.RefreshProfileHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("PATCH "+RouteProfile, ChainMiddleware(s.PatchProfileHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("PUT "+RouteProfile, ChainMiddleware(s.SaveProfileHandler(), s.APIMiddleware()...))

	s.RegisterRouteHandler("POST "+RouteLifecycleUnload, ChainMiddleware(s.UnloadHandler(), s.APIMiddleware()...))

	// Preflight for every API route
	s.RegisterRouteHandler("OPTIONS /", ChainMiddleware(s.NotFoundHandler(), s.CorsMiddleware))

	if s.metrics != nil {
		s.RegisterRouteHandler("GET "+RouteMetrics, s.metrics)
	}
}
