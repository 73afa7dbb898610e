package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ahrav/commit-quality-orchestrator/internal/db"
	"github.com/ahrav/commit-quality-orchestrator/internal/domain/scanning"
	"github.com/ahrav/commit-quality-orchestrator/internal/infra/storage"
)

// WebhookStore implements scanning.WebhookRepository over Postgres.
type WebhookStore struct{ *Store }

// NewWebhookStore builds a WebhookStore over store's pool.
func NewWebhookStore(store *Store) *WebhookStore { return &WebhookStore{Store: store} }

// Save persists one inbound webhook delivery, orphan or not.
func (s *WebhookStore) Save(ctx context.Context, event *scanning.WebhookEvent) error {
	attrs := append(defaultDBAttributes, attribute.String("webhook_event.analysis_id", event.AnalysisID()))
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.webhook.save", attrs, func(ctx context.Context) error {
		var jobID pgtype.UUID
		if id := event.ScanJobID(); id != nil {
			jobID = toPgUUID(*id)
		}
		return s.q.CreateWebhookEvent(ctx, db.CreateWebhookEventParams{
			ID:             toPgUUID(event.ID()),
			AnalysisID:     event.AnalysisID(),
			Payload:        event.Payload(),
			SignatureValid: event.SignatureValid(),
			ScanJobID:      jobID,
			ReceivedAt:     toPgTimestamptz(event.ReceivedAt()),
		})
	})
}
