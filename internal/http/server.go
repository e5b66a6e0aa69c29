package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"gigfin/internal/auth"
	"gigfin/internal/listing"
	"gigfin/internal/log"
	"gigfin/internal/middleware/ratelimit"
	"gigfin/internal/middleware/security"
	"gigfin/internal/middleware/trace"
	"gigfin/internal/services"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds the HTTP-facing settings.
type Config struct {
	Addr               string
	CookieSecure       bool
	CORSAllowedOrigins []string
	RateLimitPerMinute int
	DefaultPageSize    int
	// TrustedProxies extends the proxy ranges whose forwarded client
	// addresses are used for rate limiting and logging.
	TrustedProxies []string
	// Location is used for calendar days and timeframe boundaries.
	Location *time.Location
}

type Server struct {
	http.Server
	cfg      Config
	entries  *services.EntryService
	auth     *auth.Service
	ready    Pinger
	now      func() time.Time
	combined *listing.Collection[listing.LogRow]

	limiter  *ratelimit.Limiter
	detector *security.Detector
	tracer   *trace.Middleware

	shutdownOnce sync.Once
	logger       *log.Logger
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(cfg Config, entries *services.EntryService, authSvc *auth.Service, ready Pinger) *Server {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	logger := log.WithComponent(log.ComponentHTTP)
	detector := security.NewDetector()
	for _, cidr := range cfg.TrustedProxies {
		if err := detector.AddTrustedProxy(cidr); err != nil {
			logger.Warn("Ignoring trusted proxy", log.FieldError, err)
		}
	}

	s := &Server{
		cfg:      cfg,
		entries:  entries,
		auth:     authSvc,
		ready:    ready,
		combined: listing.New(listing.CombinedSpec, cfg.DefaultPageSize, cfg.Location),
		limiter: ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: cfg.RateLimitPerMinute,
			Methods:           ratelimit.MutatingMethods,
		}),
		detector: detector,
		tracer:   trace.NewMiddleware(detector.ExtractClientIP),
		logger:   logger,
	}
	s.now = func() time.Time { return time.Now().In(s.cfg.Location) }

	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(s.tracer.Middleware)
	r.Use(security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware)
	r.Use(s.detector.Middleware)
	r.Use(s.limiter.Middleware(s.detector.ExtractClientIP, func(w http.ResponseWriter, _ *http.Request) {
		TooManyRequestsError("rate limit exceeded, try again later").Write(w)
	}))
	if len(s.cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.cfg.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"Content-Disposition", "X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		NotFoundError("not found").Write(w)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		ErrorResponse(http.StatusMethodNotAllowed, "method not allowed").Write(w)
	})

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)

		// Reachable with a session still waiting for its second factor.
		r.Group(func(r chi.Router) {
			r.Use(s.requireSession(true))
			r.Post("/auth/2fa/verify", s.handleVerifyTwoFactor)
			r.Post("/auth/logout", s.handleLogout)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requireSession(false))

			r.Get("/auth/me", s.handleMe)
			r.Post("/auth/2fa/setup", s.handleTOTPSetup)
			r.Post("/auth/2fa/enable", s.handleTOTPEnable)
			r.Post("/auth/2fa/disable", s.handleTOTPDisable)
			r.Post("/auth/sessions/revoke-others", s.handleRevokeOtherSessions)

			incomes := s.incomeResource()
			r.Route("/"+incomes.name, incomes.routes)
			expenses := s.expenseResource()
			r.Route("/"+expenses.name, expenses.routes)
			odometers := s.odometerResource()
			r.Route("/"+odometers.name, odometers.routes)
			vehicles := s.vehicleProfileResource()
			r.Route("/"+vehicles.name, vehicles.routes)
			vendors := s.chargingVendorResource()
			r.Route("/"+vendors.name, vendors.routes)

			r.Get("/logs/combined", s.handleCombinedLog)
			r.Get("/activity", s.handleActivity)

			r.Route("/dashboard", func(r chi.Router) {
				r.Get("/summary", s.handleSummary)
				r.Get("/daily", s.handleDaily)
				r.Get("/monthly", s.handleMonthly)
				r.Get("/distribution", s.handleDistribution)
				r.Get("/driving-costs", s.handleDrivingCosts)
			})

			r.Get("/export/{kind}", s.handleExport)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready.Ping(ctx); err != nil {
			s.logger.WarnContext(r.Context(), "Readiness check failed", log.FieldError, err)
			ErrorResponse(http.StatusServiceUnavailable, "database unavailable").Write(w)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Metrics is a snapshot of the middleware counters.
type Metrics struct {
	Trace     trace.Metrics
	RateLimit ratelimit.Metrics
	Security  security.DetectionMetrics
}

func (s *Server) Metrics() Metrics {
	return Metrics{
		Trace:     s.tracer.GetMetrics(),
		RateLimit: s.limiter.GetMetrics(),
		Security:  s.detector.GetMetrics(),
	}
}

// Shutdown gracefully shuts down the server and its background routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	// Ensure shutdown logic runs only once
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})

	return shutdownErr
}
