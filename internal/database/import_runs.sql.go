package database

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const upsertImportRun = `-- name: UpsertImportRun :exec
INSERT INTO import_runs (
    id, file_name, client_ip, user_agent, status, stage, dry_run, total_rows, processed_rows, inserted_rows,
    updated_rows, skipped_rows, error_rows, options, mapping, failure, error_report,
    outcomes, started_at, finished_at, duration_seconds
) VALUES (
    $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21
)
ON CONFLICT (id) DO UPDATE SET
    status           = EXCLUDED.status,
    stage            = EXCLUDED.stage,
    total_rows       = EXCLUDED.total_rows,
    processed_rows   = EXCLUDED.processed_rows,
    inserted_rows    = EXCLUDED.inserted_rows,
    updated_rows     = EXCLUDED.updated_rows,
    skipped_rows     = EXCLUDED.skipped_rows,
    error_rows       = EXCLUDED.error_rows,
    mapping          = EXCLUDED.mapping,
    failure          = EXCLUDED.failure,
    error_report     = EXCLUDED.error_report,
    outcomes         = EXCLUDED.outcomes,
    finished_at      = EXCLUDED.finished_at,
    duration_seconds = EXCLUDED.duration_seconds
`

type UpsertImportRunParams struct {
	ID              string
	FileName        string
	ClientIP        string
	UserAgent       string
	Status          string
	Stage           string
	DryRun          bool
	TotalRows       int32
	ProcessedRows   int32
	InsertedRows    int32
	UpdatedRows     int32
	SkippedRows     int32
	ErrorRows       int32
	Options         []byte
	Mapping         []byte
	Failure         []byte
	ErrorReport     []byte
	Outcomes        []byte
	StartedAt       pgtype.Timestamptz
	FinishedAt      pgtype.Timestamptz
	DurationSeconds float64
}

func (q *Queries) UpsertImportRun(ctx context.Context, arg UpsertImportRunParams) error {
	_, err := q.db.Exec(ctx, upsertImportRun,
		arg.ID,
		arg.FileName,
		arg.ClientIP,
		arg.UserAgent,
		arg.Status,
		arg.Stage,
		arg.DryRun,
		arg.TotalRows,
		arg.ProcessedRows,
		arg.InsertedRows,
		arg.UpdatedRows,
		arg.SkippedRows,
		arg.ErrorRows,
		arg.Options,
		arg.Mapping,
		arg.Failure,
		arg.ErrorReport,
		arg.Outcomes,
		arg.StartedAt,
		arg.FinishedAt,
		arg.DurationSeconds,
	)
	return err
}

const getImportRun = `-- name: GetImportRun :one
SELECT id, file_name, client_ip, user_agent, status, stage, dry_run, total_rows, processed_rows, inserted_rows,
    updated_rows, skipped_rows, error_rows, options, mapping, failure, error_report,
    outcomes, started_at, finished_at, duration_seconds
FROM import_runs
WHERE id = $1
`

func (q *Queries) GetImportRun(ctx context.Context, id string) (ImportRun, error) {
	row := q.db.QueryRow(ctx, getImportRun, id)
	var i ImportRun
	err := row.Scan(
		&i.ID,
		&i.FileName,
		&i.ClientIP,
		&i.UserAgent,
		&i.Status,
		&i.Stage,
		&i.DryRun,
		&i.TotalRows,
		&i.ProcessedRows,
		&i.InsertedRows,
		&i.UpdatedRows,
		&i.SkippedRows,
		&i.ErrorRows,
		&i.Options,
		&i.Mapping,
		&i.Failure,
		&i.ErrorReport,
		&i.Outcomes,
		&i.StartedAt,
		&i.FinishedAt,
		&i.DurationSeconds,
	)
	return i, err
}

const listImportRuns = `-- name: ListImportRuns :many
SELECT id, file_name, client_ip, user_agent, status, stage, dry_run, total_rows, processed_rows, inserted_rows,
    updated_rows, skipped_rows, error_rows, options, mapping, failure,
    started_at, finished_at, duration_seconds
FROM import_runs
ORDER BY started_at DESC
LIMIT $1
`

type ListImportRunsRow struct {
	ID              string
	FileName        string
	ClientIP        string
	UserAgent       string
	Status          string
	Stage           string
	DryRun          bool
	TotalRows       int32
	ProcessedRows   int32
	InsertedRows    int32
	UpdatedRows     int32
	SkippedRows     int32
	ErrorRows       int32
	Options         []byte
	Mapping         []byte
	Failure         []byte
	StartedAt       pgtype.Timestamptz
	FinishedAt      pgtype.Timestamptz
	DurationSeconds float64
}

func (q *Queries) ListImportRuns(ctx context.Context, limit int32) ([]ListImportRunsRow, error) {
	rows, err := q.db.Query(ctx, listImportRuns, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ListImportRunsRow
	for rows.Next() {
		var i ListImportRunsRow
		if err := rows.Scan(
			&i.ID,
			&i.FileName,
			&i.ClientIP,
			&i.UserAgent,
			&i.Status,
			&i.Stage,
			&i.DryRun,
			&i.TotalRows,
			&i.ProcessedRows,
			&i.InsertedRows,
			&i.UpdatedRows,
			&i.SkippedRows,
			&i.ErrorRows,
			&i.Options,
			&i.Mapping,
			&i.Failure,
			&i.StartedAt,
			&i.FinishedAt,
			&i.DurationSeconds,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const deleteImportRunsBefore = `-- name: DeleteImportRunsBefore :execrows
DELETE FROM import_runs
WHERE started_at < $1
  AND status <> 'running'
`

func (q *Queries) DeleteImportRunsBefore(ctx context.Context, before pgtype.Timestamptz) (int64, error) {
	result, err := q.db.Exec(ctx, deleteImportRunsBefore, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const markRunsInterrupted = `-- name: MarkRunsInterrupted :execrows
UPDATE import_runs
SET status = 'interrupted',
    finished_at = now(),
    duration_seconds = EXTRACT(EPOCH FROM now() - started_at)
WHERE status = 'running'
`

func (q *Queries) MarkRunsInterrupted(ctx context.Context) (int64, error) {
	result, err := q.db.Exec(ctx, markRunsInterrupted)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
