// Package webhook exposes WebhookIntake over HTTP with chi-based routing
// (request-id/recoverer middleware, structured per-request logging).
package webhook

import (
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	appwebhook "github.com/ahrav/commit-quality-orchestrator/internal/app/webhook"
	"github.com/ahrav/commit-quality-orchestrator/pkg/common/logger"
	"github.com/ahrav/commit-quality-orchestrator/pkg/common/otel"
)

// maxBodyBytes bounds how much of a delivery this handler will buffer before
// rejecting it, guarding against a misbehaving or malicious sender.
const maxBodyBytes = 1 << 20 // 1 MiB

// Server exposes the webhook delivery endpoint the analysis server calls
// back on.
type Server struct {
	intake *appwebhook.Intake
	logger *logger.Logger
	router *chi.Mux
}

// NewServer builds a Server wired to intake.
func NewServer(intake *appwebhook.Intake, log *logger.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	s := &Server{intake: intake, logger: log, router: r}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	s.router.Route("/v1/webhooks", func(r chi.Router) {
		r.Post("/analysis", s.handleAnalysisWebhook)
	})
}

// handleAnalysisWebhook always answers 200, including for deliveries that
// fail signature verification or don't correlate to a tracked job: the
// analysis server has no useful retry behavior for those cases, and
// returning anything else just trains it to keep redelivering. The one
// failure mode with a non-200 response is a body we couldn't even read.
func (s *Server) handleAnalysisWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.logger.Error(r.Context(), "reading webhook body failed", "error", err)
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	sharedSecret := r.Header.Get(appwebhook.HeaderSharedSecret)
	hmacSig := r.Header.Get(appwebhook.HeaderHMAC)

	if err := s.intake.Handle(r.Context(), body, sharedSecret, hmacSig); err != nil {
		s.logger.Error(r.Context(), "webhook intake failed", "error", err)
	}

	w.WriteHeader(http.StatusOK)
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
