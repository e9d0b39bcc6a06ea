package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gocausal/app"
	"gocausal/internal"
)

// maxBodyBytes bounds request bodies carrying training data
const maxBodyBytes = 64 << 20

// Server exposes the effect service over HTTP
type Server struct {
	router   *chi.Mux
	service  *app.EffectService
	gatherer prometheus.Gatherer
	logger   *internal.Logger
}

// NewServer creates the HTTP server. Metrics are served from gatherer.
func NewServer(service *app.EffectService, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		service:  service,
		gatherer: gatherer,
		logger:   internal.DefaultLogger.WithComponent("api"),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupMiddleware configures HTTP middleware
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.requestLogger)
}

// setupRoutes configures the application routes
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	s.router.Route("/api/forests", func(r chi.Router) {
		r.Post("/", s.handleFit)
		r.Get("/", s.handleList)
		r.Get("/{id}", s.handleGet)
		r.Delete("/{id}", s.handleDelete)
		r.Post("/{id}/predict", s.handlePredict)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("%s %s %d %v [%s]", r.Method, r.URL.Path, ww.Status(), time.Since(start), middleware.GetReqID(r.Context()))
	})
}
