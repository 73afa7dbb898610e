package scanning

import (
	"time"

	"github.com/ahrav/commit-quality-orchestrator/pkg/common/uuid"
)

// InstanceLock is one held slot out of an analysis server's concurrency cap.
// Its shape (token, acquired-at, expires-at) is grounded on the Kubernetes
// Lease fields the cluster coordinator uses for leader election
// (LeaseDuration/RenewDeadline/RetryPeriod), translated into SQL columns
// since this lease expresses a counting semaphore over an external resource
// rather than single-owner cluster state.
type InstanceLock struct {
	token          string
	analysisServer string
	jobID          uuid.UUID
	acquiredAt     time.Time
	expiresAt      time.Time
}

// NewInstanceLock constructs a lease for jobID against analysisServer,
// valid until now+ttl unless renewed.
func NewInstanceLock(analysisServer string, jobID uuid.UUID, ttl time.Duration) *InstanceLock {
	now := time.Now().UTC()
	return &InstanceLock{
		token:          uuid.NewString(),
		analysisServer: analysisServer,
		jobID:          jobID,
		acquiredAt:     now,
		expiresAt:      now.Add(ttl),
	}
}

// ReconstructInstanceLock rebuilds an InstanceLock from persisted column
// values.
func ReconstructInstanceLock(token, analysisServer string, jobID uuid.UUID, acquiredAt, expiresAt time.Time) *InstanceLock {
	return &InstanceLock{token: token, analysisServer: analysisServer, jobID: jobID, acquiredAt: acquiredAt, expiresAt: expiresAt}
}

func (l *InstanceLock) Token() string             { return l.token }
func (l *InstanceLock) AnalysisServer() string    { return l.analysisServer }
func (l *InstanceLock) JobID() uuid.UUID          { return l.jobID }
func (l *InstanceLock) AcquiredAt() time.Time     { return l.acquiredAt }
func (l *InstanceLock) ExpiresAt() time.Time      { return l.expiresAt }
func (l *InstanceLock) Expired(asOf time.Time) bool { return asOf.After(l.expiresAt) }

// Renew extends the lease by ttl from now, matching how the external
// dispatcher keeps a long-running scan's lock alive past its initial TTL.
func (l *InstanceLock) Renew(ttl time.Duration) { l.expiresAt = time.Now().UTC().Add(ttl) }

// WebhookEvent is a durable record of one inbound webhook delivery, kept
// even when it doesn't correlate to a tracked ScanJob (an orphan) so
// deliveries are observable end to end.
type WebhookEvent struct {
	id             uuid.UUID
	analysisID     string
	payload        []byte
	signatureValid bool
	scanJobID      *uuid.UUID
	receivedAt     time.Time
}

// NewWebhookEvent constructs a WebhookEvent for an inbound delivery.
// scanJobID is nil when no RUNNING job could be correlated to analysisID.
func NewWebhookEvent(analysisID string, payload []byte, signatureValid bool, scanJobID *uuid.UUID) *WebhookEvent {
	return &WebhookEvent{
		id:             uuid.New(),
		analysisID:     analysisID,
		payload:        payload,
		signatureValid: signatureValid,
		scanJobID:      scanJobID,
		receivedAt:     time.Now().UTC(),
	}
}

// ReconstructWebhookEvent rebuilds a WebhookEvent from persisted column
// values.
func ReconstructWebhookEvent(id uuid.UUID, analysisID string, payload []byte, signatureValid bool, scanJobID *uuid.UUID, receivedAt time.Time) *WebhookEvent {
	return &WebhookEvent{id: id, analysisID: analysisID, payload: payload, signatureValid: signatureValid, scanJobID: scanJobID, receivedAt: receivedAt}
}

func (w *WebhookEvent) ID() uuid.UUID           { return w.id }
func (w *WebhookEvent) AnalysisID() string      { return w.analysisID }
func (w *WebhookEvent) Payload() []byte         { return w.payload }
func (w *WebhookEvent) SignatureValid() bool    { return w.signatureValid }
func (w *WebhookEvent) ScanJobID() *uuid.UUID   { return w.scanJobID }
func (w *WebhookEvent) ReceivedAt() time.Time   { return w.receivedAt }
func (w *WebhookEvent) IsOrphan() bool          { return w.scanJobID == nil }
