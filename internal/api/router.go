package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	mw "github.com/scoreforge/scoreforge/internal/api/middleware"
	"github.com/scoreforge/scoreforge/internal/api/response"
	"github.com/scoreforge/scoreforge/internal/metrics"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit
	Metrics   *metrics.Metrics

	CORSOrigins    []string
	RequestTimeout time.Duration

	HealthHandler http.HandlerFunc

	CreateProject http.HandlerFunc
	ListProjects  http.HandlerFunc
	GetProject    http.HandlerFunc
	DeleteProject http.HandlerFunc

	IssueKey    http.HandlerFunc
	RotateKey   http.HandlerFunc
	RevokeKey   http.HandlerFunc
	DescribeKey http.HandlerFunc

	SubmitScore       http.HandlerFunc
	LegacySubmitScore http.HandlerFunc
	Leaderboard       http.HandlerFunc
	PlayerRank        http.HandlerFunc
	PlayerScore       http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RealIP)
	r.Use(mw.Logger(deps.Metrics))
	r.Use(mw.Recovery)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", mw.APIKeyHeader},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if deps.RequestTimeout > 0 {
		r.Use(chimw.Timeout(deps.RequestTimeout))
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
	})

	// Public
	r.Get("/health", orNotImplemented(deps.HealthHandler))
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}
	r.Get("/scores/leaderboard/{projectID}", orNotImplemented(deps.Leaderboard))
	r.Get("/scores/leaderboard/{projectID}/players/{username}", orNotImplemented(deps.PlayerRank))

	// Game clients
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.RequireAPIKey)
		r.Use(deps.RateLimit.Limit)

		r.Post("/projects/{projectID}/scores", orNotImplemented(deps.SubmitScore))
		r.Post("/scores/submit", orNotImplemented(deps.LegacySubmitScore))
	})

	// Dashboard
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)

		r.Post("/projects", orNotImplemented(deps.CreateProject))
		r.Get("/projects", orNotImplemented(deps.ListProjects))
		r.Get("/projects/{projectID}", orNotImplemented(deps.GetProject))
		r.Delete("/projects/{projectID}", orNotImplemented(deps.DeleteProject))

		r.Post("/projects/{projectID}/keys", orNotImplemented(deps.IssueKey))
		r.Get("/projects/{projectID}/keys", orNotImplemented(deps.DescribeKey))
		r.Delete("/projects/{projectID}/keys", orNotImplemented(deps.RevokeKey))
		r.Post("/projects/{projectID}/keys/rotate", orNotImplemented(deps.RotateKey))

		r.Get("/projects/{projectID}/scores/{username}", orNotImplemented(deps.PlayerScore))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented")
	}
}
