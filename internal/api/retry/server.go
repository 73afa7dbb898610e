// Package retry exposes the operator-triggered retry.Service over HTTP with
// chi-based routing (request-id/recoverer middleware, structured per-request
// logging), mirroring the webhook API package.
package retry

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	appretry "github.com/ahrav/commit-quality-orchestrator/internal/app/retry"
	"github.com/ahrav/commit-quality-orchestrator/pkg/common/logger"
	"github.com/ahrav/commit-quality-orchestrator/pkg/common/otel"
	"github.com/ahrav/commit-quality-orchestrator/pkg/common/uuid"
)

// Server exposes the operator retry endpoint used to requeue a job an
// analyst has triaged off the failed_commits table.
type Server struct {
	svc    *appretry.Service
	logger *logger.Logger
	router *chi.Mux
}

// NewServer builds a Server wired to svc.
func NewServer(svc *appretry.Service, log *logger.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	s := &Server{svc: svc, logger: log, router: r}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	s.router.Route("/v1/jobs", func(r chi.Router) {
		r.Post("/{id}/retry", s.handleRetry)
	})
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return
	}

	if err := s.svc.RetryFailedCommit(r.Context(), jobID); err != nil {
		s.logger.Error(r.Context(), "operator retry failed", "job_id", jobID.String(), "error", err)
		http.Error(w, "failed to retry job", http.StatusConflict)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func requestLogger(log *logger.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				ctx := r.Context()
				log.Info(ctx, "request completed",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"duration", time.Since(start),
					"trace_id", otel.GetTraceID(ctx),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
