package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/avarelay/internal/middleware"
	"github.com/vyrodovalexey/avarelay/internal/observability"
	"github.com/vyrodovalexey/avarelay/internal/proxy"
)

// newEngine builds the relay routes. Paths are forwarded verbatim, so gin's
// trailing slash and path fixing redirects are disabled.
func (s *Server) newEngine() *gin.Engine {
	engine := gin.New()
	engine.RedirectTrailingSlash = false
	engine.RedirectFixedPath = false
	engine.HandleMethodNotAllowed = false
	engine.SetHTMLTemplate(helpTemplate)

	ws := proxy.NewWebSocketHandler(s.sessionsCtx, s.registry,
		proxy.WithWebSocketLogger(s.logger),
		proxy.WithWebSocketTracer(s.tracer),
	)

	breakerMW, breaker := middleware.CircuitBreakerFromConfig(&s.cfg.CircuitBreaker,
		middleware.WithCircuitBreakerLogger(s.logger),
		middleware.WithCircuitBreakerMetrics(s.metrics),
	)
	s.breaker = breaker

	engine.GET(s.cfg.Server.WebSocketPath, gin.WrapH(ws))
	engine.GET("/", s.serveHelp)
	engine.GET("/help", s.serveHelp)
	engine.NoRoute(gin.WrapH(breakerMW(s.forwarder)))

	return engine
}

// buildHandler wraps the engine in the net/http middleware chain. Recovery
// is outermost so that panics in any middleware are contained.
func (s *Server) buildHandler(engine http.Handler) http.Handler {
	rateLimit, limiter := middleware.RateLimitFromConfig(&s.cfg.RateLimit,
		middleware.WithRateLimiterLogger(s.logger),
		middleware.WithRateLimiterMetrics(s.metrics),
		middleware.WithRateLimiterIPExtractor(s.extractor),
	)
	s.rateLimiter = limiter

	return middleware.Chain(engine,
		middleware.Recovery(s.logger),
		middleware.RequestID(),
		observability.TracingMiddleware(s.tracer),
		middleware.Logging(s.logger, middleware.WithLoggingIPExtractor(s.extractor)),
		rateLimit,
	)
}
