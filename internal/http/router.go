package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/iago/manga-studio-back/internal/http/handlers"
	"github.com/iago/manga-studio-back/internal/http/middleware"
	"github.com/rs/zerolog"
)

type RouterDependencies struct {
	API         *handlers.API
	Logger      zerolog.Logger
	RateLimiter *middleware.RateLimiter
	Auth        middleware.AuthConfig
	CORSOrigins []string
	// AssetsDir is served under /assets/ when assets are kept on local disk.
	AssetsDir string
}

func NewRouter(deps RouterDependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimiddleware.RealIP,
		middleware.Trace(deps.Logger),
		middleware.CORS(middleware.CORSConfig{AllowedOrigins: deps.CORSOrigins}),
		chimiddleware.Recoverer,
	)
	if deps.RateLimiter != nil {
		r.Use(deps.RateLimiter.Middleware)
	}
	r.Use(middleware.Auth(deps.Auth))

	r.Get("/healthz", deps.API.Health)
	if deps.AssetsDir != "" {
		r.Handle("/assets/*", http.StripPrefix("/assets/", http.FileServer(http.Dir(deps.AssetsDir))))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Route("/projects", func(r chi.Router) {
			r.Post("/", deps.API.CreateProject)
			r.Get("/", deps.API.ListProjects)
			r.Get("/{id}", deps.API.GetProject)
			r.Delete("/{id}", deps.API.DeleteProject)
			r.Get("/{id}/events", deps.API.ProjectEvents)
		})
		r.Get("/credits", deps.API.Credits)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeRouteError(w, r, http.StatusNotFound, "not_found", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeRouteError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	return r
}

func writeRouteError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write([]byte(`{"error":{"code":"` + code + `","message":"` + message + `"},"request_id":"` + middleware.GetRequestID(r.Context()) + `"}` + "\n"))
}
