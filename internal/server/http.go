package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/joshp123/gohome-skyport/internal/core"
)

// HTTPServer serves health, metrics, dashboards and the service API.
type HTTPServer struct {
	Server *http.Server
}

func NewHTTPServer(addr string, handler http.Handler) *HTTPServer {
	return &HTTPServer{Server: &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
	}}
}

func (s *HTTPServer) ListenAndServe() error {
	return s.Server.ListenAndServe()
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.Server.Shutdown(ctx)
}

// Routes is everything the HTTP router serves.
type Routes struct {
	Plugins []core.Plugin
	Metrics *prometheus.Registry
	Log     logr.Logger
}

// NewRouter mounts the HTTP endpoints.
func NewRouter(routes Routes) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(routes.Log.WithName("http")))
	r.Use(instrument)

	r.Get("/health", HealthHandler(routes.Plugins))
	if routes.Metrics != nil {
		r.Handle("/metrics", MetricsHandler(routes.Metrics))
	}
	r.Handle("/dashboards/*", DashboardsHandler(core.DashboardsMap(routes.Plugins)))

	api := &serviceAPI{plugins: routes.Plugins}
	r.Route("/api/services", func(r chi.Router) {
		r.Get("/", api.list)
		r.Get("/{plugin}", api.describe)
		r.Post("/{plugin}/{service}", api.call)
	})
	return r
}

func requestLogger(log logr.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.V(1).Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
