package chi

import (
	"net/http"

	chirouter "github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kailas-cloud/librarian/internal/metrics"
)

// RouterOptions configures the middleware stack.
type RouterOptions struct {
	APIKeys           []string
	AllowedOrigins    []string
	RequestsPerMinute int
}

// NewRouter mounts the API on a chi router with the full middleware stack.
func NewRouter(s *Server, opts RouterOptions) http.Handler {
	r := chirouter.NewRouter()
	r.Use(JSONRecoverer(s.logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(WideEvent(s.logger))
	r.Use(CORS(opts.AllowedOrigins))
	r.Use(RateLimitByIP(opts.RequestsPerMinute))
	r.Use(BearerAuthMiddleware(opts.APIKeys))
	r.Use(metrics.Middleware())

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, CodeNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, CodeBadRequest, "method not allowed")
	})

	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)

	r.Route("/api/v1", func(r chirouter.Router) {
		r.Post("/recommend", s.Recommend)
		r.Get("/debug/search", s.DebugSearch)
		r.Post("/speech", s.SpeechPost)
		r.Get("/speech", s.SpeechGet)
		r.Get("/usage", s.GetUsage)
	})
	return r
}
