package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const countActiveInstanceLocks = `
SELECT count(*) FROM instance_locks WHERE analysis_server = $1 AND expires_at > $2
`

func (q *Queries) CountActiveInstanceLocks(ctx context.Context, analysisServer string, asOf pgtype.Timestamptz) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countActiveInstanceLocks, analysisServer, asOf).Scan(&n)
	return n, err
}

const createInstanceLock = `
INSERT INTO instance_locks (token, analysis_server, job_id, acquired_at, expires_at)
VALUES ($1, $2, $3, $4, $5)
`

type CreateInstanceLockParams struct {
	Token          string
	AnalysisServer string
	JobID          pgtype.UUID
	AcquiredAt     pgtype.Timestamptz
	ExpiresAt      pgtype.Timestamptz
}

func (q *Queries) CreateInstanceLock(ctx context.Context, arg CreateInstanceLockParams) error {
	_, err := q.db.Exec(ctx, createInstanceLock, arg.Token, arg.AnalysisServer, arg.JobID, arg.AcquiredAt, arg.ExpiresAt)
	return err
}

const renewInstanceLock = `
UPDATE instance_locks SET expires_at = $2 WHERE token = $1
`

func (q *Queries) RenewInstanceLock(ctx context.Context, token string, expiresAt pgtype.Timestamptz) (int64, error) {
	tag, err := q.db.Exec(ctx, renewInstanceLock, token, expiresAt)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const deleteInstanceLock = `
DELETE FROM instance_locks WHERE token = $1
`

func (q *Queries) DeleteInstanceLock(ctx context.Context, token string) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteInstanceLock, token)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const deleteExpiredInstanceLocks = `
DELETE FROM instance_locks WHERE expires_at <= $1
`

func (q *Queries) DeleteExpiredInstanceLocks(ctx context.Context, asOf pgtype.Timestamptz) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteExpiredInstanceLocks, asOf)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
