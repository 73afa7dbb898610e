package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const createWebhookEvent = `
INSERT INTO webhook_events (id, analysis_id, payload, signature_valid, scan_job_id, received_at)
VALUES ($1, $2, $3, $4, $5, $6)
`

type CreateWebhookEventParams struct {
	ID             pgtype.UUID
	AnalysisID     string
	Payload        []byte
	SignatureValid bool
	ScanJobID      pgtype.UUID
	ReceivedAt     pgtype.Timestamptz
}

func (q *Queries) CreateWebhookEvent(ctx context.Context, arg CreateWebhookEventParams) error {
	_, err := q.db.Exec(ctx, createWebhookEvent, arg.ID, arg.AnalysisID, arg.Payload, arg.SignatureValid, arg.ScanJobID, arg.ReceivedAt)
	return err
}
