package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ahrav/commit-quality-orchestrator/internal/domain/scanning"
	"github.com/ahrav/commit-quality-orchestrator/internal/infra/storage"
)

func TestWebhookStore_Save_Orphan(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	defer cleanup()
	s := NewStore(pool, storage.NoOpTracer())
	webhooks := NewWebhookStore(s)

	event := scanning.NewWebhookEvent("task-unknown", []byte(`{"taskId":"task-unknown"}`), true, nil)
	require.NoError(t, webhooks.Save(context.Background(), event))
}

func TestWebhookStore_Save_CorrelatedToJob(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	defer cleanup()
	s := NewStore(pool, storage.NoOpTracer())
	webhooks := NewWebhookStore(s)

	_, job := seedJob(t, s)
	jobID := job.ID()
	event := scanning.NewWebhookEvent("task-xyz", []byte(`{"taskId":"task-xyz"}`), true, &jobID)
	require.NoError(t, webhooks.Save(context.Background(), event))
}
