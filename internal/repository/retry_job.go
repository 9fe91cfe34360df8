package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/theminkantoso/2425II-INT6017-CS2-group-project/internal/envelope"
)

// RetryJob is one durable record of a job stuck at a stage, snapshotting
// enough of the envelope to resume exactly there. Rows are never
// hard-deleted; resolution is a soft flag.
type RetryJob struct {
	ID                 int64
	JobID              uuid.UUID
	Step               int
	ContentRef         string
	RawBytes           []byte
	ContentFingerprint string
	ExtractedText      string
	TextFingerprint    string
	TranslatedText     string
	IsExternalStorage  bool
	Metadata           string
	IsResolved         bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Envelope reconstructs the in-flight message the stuck stage should
// re-process.
func (j *RetryJob) Envelope() *envelope.Envelope {
	env := &envelope.Envelope{
		ContentRef:         j.ContentRef,
		RawBytes:           j.RawBytes,
		ContentFingerprint: j.ContentFingerprint,
		ExtractedText:      j.ExtractedText,
		TextFingerprint:    j.TextFingerprint,
		TranslatedText:     j.TranslatedText,
		JobID:              j.JobID.String(),
		IsExternalStorage:  j.IsExternalStorage,
	}
	switch j.Step {
	case 1:
		env.Type = envelope.TypeFileUploaded
	case 2:
		env.Type = envelope.TypeTextExtracted
	default:
		env.Type = envelope.TypeTextTranslated
	}
	return env
}

// FailureDetail is the structured metadata stored with each failure.
type FailureDetail struct {
	Message  string `json:"message"`
	Trace    string `json:"trace"`
	FailedAt string `json:"failed_at"`
}

type RetryJobRepository interface {
	// RecordFailure upserts the unresolved row for the envelope's job.
	// Idempotent under redelivery; step only ever moves forward.
	RecordFailure(ctx context.Context, env *envelope.Envelope, step int, cause error) error
	// Resolve flips is_resolved false->true for the job's unresolved row,
	// if any. Safe to call when no such row exists.
	Resolve(ctx context.Context, jobID string) error
	ListUnresolved(ctx context.Context) ([]RetryJob, error)
	// GetForStep loads unresolved rows from a recovery batch that belong
	// to the given step.
	GetForStep(ctx context.Context, ids []int64, step int) ([]RetryJob, error)
	ListAll(ctx context.Context) ([]RetryJob, error)
}

type retryJobRepo struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewRetryJobRepository(pool *pgxpool.Pool, log *slog.Logger) RetryJobRepository {
	if log == nil {
		log = slog.Default()
	}
	return &retryJobRepo{pool: pool, log: log}
}

// Snapshot columns are nullable in the table; coalesce keeps the scans
// simple.
const retryJobColumns = `id, job_id, step,
	COALESCE(content_ref, ''), raw_bytes, COALESCE(content_fingerprint, ''),
	COALESCE(extracted_text, ''), COALESCE(text_fingerprint, ''),
	COALESCE(translated_text, ''), is_external_storage,
	COALESCE(metadata, ''), is_resolved, created_at, updated_at`

func (r *retryJobRepo) RecordFailure(ctx context.Context, env *envelope.Envelope, step int, cause error) error {
	jobID, err := uuid.Parse(env.JobID)
	if err != nil {
		return fmt.Errorf("record failure: bad job id %q: %w", env.JobID, err)
	}
	meta, err := json.Marshal(FailureDetail{
		Message:  cause.Error(),
		Trace:    fmt.Sprintf("%+v", cause),
		FailedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("record failure: marshal metadata: %w", err)
	}

	// Live executors and sweep-driven replays can race on the same job; the
	// row lock makes the loser a no-op instead of corrupting state.
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("record failure: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var rowID int64
	err = tx.QueryRow(ctx,
		`SELECT id FROM retry_jobs WHERE job_id = $1 AND is_resolved = false FOR UPDATE`,
		jobID,
	).Scan(&rowID)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		_, err = tx.Exec(ctx,
			`INSERT INTO retry_jobs
               (job_id, step, content_ref, raw_bytes, content_fingerprint,
                extracted_text, text_fingerprint, translated_text,
                is_external_storage, metadata)
             VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			jobID, step, env.ContentRef, env.RawBytes, env.ContentFingerprint,
			env.ExtractedText, env.TextFingerprint, env.TranslatedText,
			env.IsExternalStorage, string(meta),
		)
		if err != nil {
			return fmt.Errorf("record failure: insert: %w", err)
		}
	case err != nil:
		return fmt.Errorf("record failure: lock row: %w", err)
	default:
		_, err = tx.Exec(ctx,
			`UPDATE retry_jobs
             SET step = GREATEST(step, $2),
                 content_ref = $3, raw_bytes = $4, content_fingerprint = $5,
                 extracted_text = $6, text_fingerprint = $7, translated_text = $8,
                 is_external_storage = $9, metadata = $10, updated_at = now()
             WHERE id = $1`,
			rowID, step, env.ContentRef, env.RawBytes, env.ContentFingerprint,
			env.ExtractedText, env.TextFingerprint, env.TranslatedText,
			env.IsExternalStorage, string(meta),
		)
		if err != nil {
			return fmt.Errorf("record failure: update: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("record failure: commit: %w", err)
	}
	r.log.Warn("retry job recorded", "job_id", jobID, "step", step, "error", cause.Error())
	return nil
}

func (r *retryJobRepo) Resolve(ctx context.Context, jobID string) error {
	id, err := uuid.Parse(jobID)
	if err != nil {
		return fmt.Errorf("resolve: bad job id %q: %w", jobID, err)
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE retry_jobs SET is_resolved = true, updated_at = now()
         WHERE job_id = $1 AND is_resolved = false`,
		id,
	)
	if err != nil {
		return fmt.Errorf("resolve job %s: %w", jobID, err)
	}
	if tag.RowsAffected() > 0 {
		r.log.Info("retry job resolved", "job_id", jobID)
	}
	return nil
}

func (r *retryJobRepo) ListUnresolved(ctx context.Context) ([]RetryJob, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+retryJobColumns+` FROM retry_jobs WHERE is_resolved = false ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list unresolved: %w", err)
	}
	defer rows.Close()
	return scanRetryJobs(rows)
}

func (r *retryJobRepo) GetForStep(ctx context.Context, ids []int64, step int) ([]RetryJob, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+retryJobColumns+` FROM retry_jobs
         WHERE id = ANY($1) AND step = $2 AND is_resolved = false ORDER BY id`,
		ids, step,
	)
	if err != nil {
		return nil, fmt.Errorf("get for step %d: %w", step, err)
	}
	defer rows.Close()
	return scanRetryJobs(rows)
}

func (r *retryJobRepo) ListAll(ctx context.Context) ([]RetryJob, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+retryJobColumns+` FROM retry_jobs ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list all: %w", err)
	}
	defer rows.Close()
	return scanRetryJobs(rows)
}

func scanRetryJobs(rows pgx.Rows) ([]RetryJob, error) {
	var jobs []RetryJob
	for rows.Next() {
		var j RetryJob
		if err := rows.Scan(
			&j.ID, &j.JobID, &j.Step, &j.ContentRef, &j.RawBytes,
			&j.ContentFingerprint, &j.ExtractedText, &j.TextFingerprint,
			&j.TranslatedText, &j.IsExternalStorage, &j.Metadata, &j.IsResolved,
			&j.CreatedAt, &j.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan retry job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate retry jobs: %w", err)
	}
	return jobs, nil
}
