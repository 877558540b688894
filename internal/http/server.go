// Package http serves the JSON API of the ledger: sign-in and username
// management, the expense ledger and its recycle bin, and a server-sent
// event stream of live ledger views.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"binledger/internal/apperror"
	"binledger/internal/auth"
	"binledger/internal/docstore"
	applog "binledger/internal/log"
	"binledger/internal/metrics"
	"binledger/internal/middleware/ratelimit"
	"binledger/internal/middleware/security"
	"binledger/internal/middleware/trace"
	"binledger/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Deps are the collaborators the handlers call into.
type Deps struct {
	Ledger   *services.LedgerService
	Identity *services.IdentityService
	// Store is checked by /readyz.
	Store  docstore.Store
	Tokens *auth.TokenService
	// GitHub is nil when GitHub sign-in is not configured.
	GitHub  *auth.GitHubProvider
	Metrics *metrics.Metrics
	Logger  *applog.Logger
}

// Options tune the transport.
type Options struct {
	Addr           string
	CORSOrigins    []string
	CookieSecure   bool
	AuthRateLimit  int
	TrustedProxies []string
}

type Server struct {
	http.Server
	deps     Deps
	opts     Options
	limiter  *ratelimit.Limiter
	detector *security.Detector
	now      func() time.Time

	shutdownOnce sync.Once
}

func NewServer(opts Options, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = applog.New(applog.DefaultConfig())
	}
	s := &Server{
		deps:     deps,
		opts:     opts,
		limiter:  ratelimit.NewLimiter(ratelimit.Config{Requests: opts.AuthRateLimit, Window: time.Minute}),
		detector: security.NewDetector(),
		now:      time.Now,
	}
	for _, cidr := range opts.TrustedProxies {
		if err := s.detector.AddTrustedProxy(cidr); err != nil {
			deps.Logger.Warn("Ignoring invalid trusted proxy", "cidr", cidr, applog.FieldError, err)
		}
	}

	s.Server = http.Server{
		Addr:              opts.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	tracer := trace.NewMiddleware(s.detector.ExtractClientIP, s.deps.Metrics)
	r.Use(applog.Middleware(s.deps.Logger))
	r.Use(tracer.Middleware)
	r.Use(middleware.Recoverer)
	r.Use(security.Headers(security.DefaultHeadersConfig()))
	r.Use(s.detector.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.opts.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", trace.HeaderRequestID},
		ExposedHeaders:   []string{trace.HeaderRequestID, "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no such route", Code: "not_found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed", Code: "method_not_allowed"})
	})

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())

	limited := s.limiter.Middleware(s.detector.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "too many attempts, try again later", Code: "rate_limited"})
	})

	r.Route("/auth/github", func(r chi.Router) {
		r.Use(limited)
		r.Get("/login", s.handleGitHubLogin)
		r.Get("/callback", s.handleGitHubCallback)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(security.NoStore)

		r.Group(func(r chi.Router) {
			r.Use(limited)
			r.Use(auth.OptionalSession(s.deps.Tokens))
			r.Post("/auth/register", s.handleRegister)
			r.Post("/auth/login", s.handleLogin)
			r.Post("/auth/anonymous", s.handleAnonymous)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireSession(s.deps.Tokens, func(w http.ResponseWriter, r *http.Request, _ error) {
				writeError(w, r, apperror.Unauthenticated())
			}))
			r.Use(actorContext)

			r.Post("/auth/logout", s.handleLogout)
			r.With(limited).Post("/auth/username", s.handleChangeUsername)
			r.With(limited).Post("/auth/password", s.handleChangePassword)
			r.Get("/auth/me", s.handleMe)

			r.Get("/profile", s.handleProfile)
			r.Put("/profile/cards", s.handleSetCardNames)

			r.Get("/expenses", s.handleListExpenses)
			r.Post("/expenses", s.handleAddExpense)
			r.Put("/expenses/{id}", s.handleUpdateExpense)
			r.Delete("/expenses/{id}", s.handleDeleteExpense)
			r.Post("/expenses/delete", s.handleBatchDelete)

			r.Get("/bin", s.handleListBin)
			r.Post("/bin/{id}/restore", s.handleRestore)
			r.Post("/bin/restore", s.handleBatchRestore)
			r.Delete("/bin/{id}", s.handlePurge)
			r.Post("/bin/purge", s.handleBatchPurge)

			r.Get("/totals", s.handleTotals)
			r.Get("/ledger/stream", s.handleStream)
		})
	})

	return r
}

// actorContext scopes the store access of the request to the session
// account and tags the request log with it.
func actorContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, _ := auth.SessionFromContext(r.Context())
		ctx := docstore.WithActor(r.Context(), session.AccountID)
		trace.SetAccount(ctx, session.AccountID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports whether the document store answers reads.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if _, _, err := s.deps.Store.Read(docstore.WithSystem(ctx), docstore.UsernamePath("readyz")); err != nil {
		applog.FromContext(ctx).WithComponent(applog.ComponentHTTP).Warn("Readiness check failed", applog.FieldError, err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Shutdown stops the rate limiter and gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(s.limiter.Stop)
	return s.Server.Shutdown(ctx)
}
