package db

import (
	"github.com/jackc/pgx/v5/pgtype"
)

type Project struct {
	ID               pgtype.UUID
	Name             string
	SourcePath       string
	TotalCommits     int32
	ProcessedCommits int32
	FailedCommits    int32
	Status           string
	ConfigOverride   string
	CreatedAt        pgtype.Timestamptz
	UpdatedAt        pgtype.Timestamptz
}

type ScanJob struct {
	ID             pgtype.UUID
	ProjectID      pgtype.UUID
	RepoSlug       string
	RepoUrl        string
	CommitSha      string
	Branch         string
	AnalysisServer string
	Status         string
	Attempts       int32
	SubmissionID   string
	LockToken      string
	LogPath        string
	FailureReason  string
	ConfigOverride string
	CreatedAt      pgtype.Timestamptz
	UpdatedAt      pgtype.Timestamptz
	QueuedAt       pgtype.Timestamptz
	StartedAt      pgtype.Timestamptz
	CompletedAt    pgtype.Timestamptz
}

type ScanResult struct {
	JobID     pgtype.UUID
	ProjectID pgtype.UUID
	RepoSlug  string
	CommitSha string
	Metrics   []byte
	FetchedAt pgtype.Timestamptz
}

type FailedCommit struct {
	JobID       pgtype.UUID
	ProjectID   pgtype.UUID
	RepoSlug    string
	CommitSha   string
	Reason      string
	LogPath     string
	FailedAt    pgtype.Timestamptz
	Disposition string
}

type InstanceLock struct {
	Token          string
	AnalysisServer string
	JobID          pgtype.UUID
	AcquiredAt     pgtype.Timestamptz
	ExpiresAt      pgtype.Timestamptz
}

type WebhookEvent struct {
	ID             pgtype.UUID
	AnalysisID     string
	Payload        []byte
	SignatureValid bool
	ScanJobID      pgtype.UUID
	ReceivedAt     pgtype.Timestamptz
}
