package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"resonate/internal/delivery"
	"resonate/internal/logging"
	"resonate/internal/pipeline"
	"resonate/internal/queue"
	"resonate/internal/services"
)

const defaultMaxUploadBytes = 64 << 20

// StatusSource reports worker pool state.
type StatusSource interface {
	Status(ctx context.Context) pipeline.StatusSummary
}

// HealthChecker reports database health.
type HealthChecker interface {
	CheckHealth(ctx context.Context) (queue.DatabaseHealth, error)
}

// Options wires the router's dependencies. Status and Health are optional.
type Options struct {
	Service        *pipeline.Service
	Delivery       *delivery.Builder
	Status         StatusSource
	Health         HealthChecker
	Token          string
	MaxUploadBytes int64
	Logger         *slog.Logger
}

type server struct {
	svc       *pipeline.Service
	links     *delivery.Builder
	status    StatusSource
	health    HealthChecker
	maxUpload int64
	logger    *slog.Logger
}

// NewRouter builds the HTTP handler for the asset API and media delivery.
func NewRouter(opts Options) http.Handler {
	s := &server{
		svc:       opts.Service,
		links:     opts.Delivery,
		status:    opts.Status,
		health:    opts.Health,
		maxUpload: opts.MaxUploadBytes,
		logger:    logging.NewComponentLogger(opts.Logger, "api"),
	}
	if s.maxUpload <= 0 {
		s.maxUpload = defaultMaxUploadBytes
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestContext)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)

	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware(opts.Token))
		r.Get("/health", s.handleHealth)
		r.Get("/queue", s.handleQueue)
		r.Route("/assets", func(r chi.Router) {
			r.Post("/", s.handleCreateAsset)
			r.Get("/", s.handleListAssets)
			r.Route("/{assetID}", func(r chi.Router) {
				r.Get("/", s.handleGetAsset)
				r.Get("/failures", s.handleFailures)
				r.Post("/process", s.handleProcess)
				r.Post("/retry", s.handleRetry)
				r.Post("/publish", s.handleApply(s.svc.Publish))
				r.Post("/archive", s.handleApply(s.svc.Archive))
				r.Post("/restore", s.handleApply(s.svc.Restore))
			})
		})
	})
	r.Get(delivery.MediaPrefix+"{assetID}/{fileName}", s.handleMedia)
	return r
}

// requestContext copies chi's request id into the context field used by
// the logging package.
func requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			r = r.WithContext(services.WithRequestID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", ww.Status()),
			logging.Int("bytes", ww.BytesWritten()),
			logging.Duration("elapsed", time.Since(start)),
			logging.String(logging.FieldCorrelationID, middleware.GetReqID(r.Context())),
		)
	})
}
