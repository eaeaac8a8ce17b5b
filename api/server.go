/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Secure:     Security headers (unrolled/secure)
  5. CORS:       Cross-origin requests for frontend

RATE LIMITING:
  Submitting and deciding are write paths that contend on ledger rows; both
  sit behind an httprate limiter keyed by client IP.

ROUTE GROUPS:
  /api/employees/*      Employees, balances, submission, journal
  /api/requests/*       Request detail, decisions, cancellation
  /api/approvers/*      Approver queues
  /api/leave-types      Leave type reference data
  /api/allocations      Allocation provisioning
  /api/holidays         Holiday lists
  /api/scenarios/*      Demo scenarios
  /healthz              Liveness

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"
)

// RouterConfig tunes the middleware stack.
type RouterConfig struct {
	AllowedOrigins []string
	// WriteRateLimit is the number of submit/decide calls allowed per client
	// per minute. Zero disables the limiter.
	WriteRateLimit int
	// SSLRedirect enables HTTPS redirects and HSTS.
	SSLRedirect bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
		ReferrerPolicy:     "strict-origin-when-cross-origin",
		SSLRedirect:        cfg.SSLRedirect,
		SSLProxyHeaders:    map[string]string{"X-Forwarded-Proto": "https"},
		IsDevelopment:      !cfg.SSLRedirect,
	})

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(secureMiddleware.Handler)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	writeLimit := func(next http.Handler) http.Handler { return next }
	if cfg.WriteRateLimit > 0 {
		writeLimit = httprate.Limit(cfg.WriteRateLimit, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				writeError(w, http.StatusTooManyRequests, http.StatusText(http.StatusTooManyRequests), nil)
			}),
		)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Employee routes
		r.Route("/employees", func(r chi.Router) {
			r.Post("/", h.SaveEmployee)
			r.Post("/{id}/approvers", h.SaveApprover)
			r.Get("/{id}/balances", h.GetBalances)
			r.Get("/{id}/requests", h.ListRequests)
			r.With(writeLimit).Post("/{id}/requests", h.SubmitRequest)
			r.Get("/{id}/journal", h.GetJournal)
		})

		// Request workflow routes
		r.Route("/requests", func(r chi.Router) {
			r.Get("/{id}", h.GetRequest)
			r.With(writeLimit).Post("/{id}/approvals/{level}", h.DecideLevel)
			r.Post("/{id}/cancel", h.CancelRequest)
		})

		r.Get("/approvers/{id}/pending", h.ListPending)

		// Reference data routes
		r.Get("/leave-types", h.ListLeaveTypes)
		r.Post("/leave-types", h.SaveLeaveType)
		r.Post("/allocations", h.ProvisionAllocation)
		r.Get("/rollover", h.GetRollover)
		r.Post("/rollover/run", h.RunRollover)
		r.Get("/holidays", h.ListHolidays)
		r.Post("/holidays", h.CreateHoliday)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
