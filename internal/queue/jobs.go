package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ExecTimeout is the hard wall-clock limit for a single job. A job that has
// been processing longer than this is forcibly failed by the reaper.
const ExecTimeout = time.Hour

// DefaultLease is how long a claim stays valid without a lease extension.
// A crashed worker's job becomes reclaimable once its lease expires.
const DefaultLease = 2 * time.Minute

// Queue-native job states. These are internal; clients see the Status enum
// produced by the resolver.
const (
	stateQueued     = "queued"
	stateProcessing = "processing"
	stateCompleted  = "completed"
	stateFailed     = "failed"
)

// ErrNotFound is returned when no job record exists for a reference ID.
var ErrNotFound = errors.New("job not found")

// Job is one transcription job record.
type Job struct {
	ReferenceID           string
	MediaType             string
	IncludeWordTimestamps bool
	DiarizeSpeakers       bool
	State                 string
	ErrorDetail           *string
	Attempts              int
	MaxAttempts           int
	ClaimedBy             *string
	CreatedAt             time.Time
	StartedAt             *time.Time
	FinishedAt            *time.Time
}

const jobColumns = `reference_id, media_type, include_word_timestamps, diarize_speakers,
	state, error_detail, attempts, max_attempts, claimed_by, created_at, started_at, finished_at`

func scanJob(row pgx.Row) (*Job, error) {
	var j Job
	err := row.Scan(&j.ReferenceID, &j.MediaType, &j.IncludeWordTimestamps, &j.DiarizeSpeakers,
		&j.State, &j.ErrorDetail, &j.Attempts, &j.MaxAttempts, &j.ClaimedBy,
		&j.CreatedAt, &j.StartedAt, &j.FinishedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// Enqueue inserts a new QUEUED job keyed by reference ID. Must only be
// called after the upload has been fully persisted.
func (db *DB) Enqueue(ctx context.Context, referenceID, mediaType string, wordTimestamps, diarize bool) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO jobs (reference_id, media_type, include_word_timestamps, diarize_speakers)
		VALUES ($1, $2, $3, $4)
	`, referenceID, mediaType, wordTimestamps, diarize)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", referenceID, err)
	}
	db.log.Debug().Str("reference_id", referenceID).Str("media_type", mediaType).Msg("job enqueued")
	return nil
}

// Claim atomically moves the oldest QUEUED job to PROCESSING on behalf of
// workerID and sets its lease. Returns (nil, nil) when the queue is empty.
// SKIP LOCKED guarantees at most one active claim per job.
func (db *DB) Claim(ctx context.Context, workerID string) (*Job, error) {
	row := db.Pool.QueryRow(ctx, `
		UPDATE jobs SET
			state = 'processing',
			claimed_by = $1,
			attempts = attempts + 1,
			started_at = now(),
			lease_expires_at = now() + make_interval(secs => $2)
		WHERE reference_id = (
			SELECT reference_id FROM jobs
			WHERE state = 'queued'
			ORDER BY created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING `+jobColumns,
		workerID, DefaultLease.Seconds())

	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim: %w", err)
	}
	return j, nil
}

// ExtendLease renews the claim on an in-flight job. Workers call this
// periodically so slow jobs are not reaped as lost.
func (db *DB) ExtendLease(ctx context.Context, referenceID string) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE jobs SET lease_expires_at = now() + make_interval(secs => $2)
		WHERE reference_id = $1 AND state = 'processing'
	`, referenceID, DefaultLease.Seconds())
	if err != nil {
		return fmt.Errorf("extend lease %s: %w", referenceID, err)
	}
	return nil
}

// Complete marks a job COMPLETED. Terminal states are immutable: if the job
// already reached COMPLETED or FAILED this is a no-op.
func (db *DB) Complete(ctx context.Context, referenceID string) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE jobs SET
			state = 'completed',
			error_detail = NULL,
			claimed_by = NULL,
			lease_expires_at = NULL,
			finished_at = now()
		WHERE reference_id = $1 AND state NOT IN ('completed', 'failed')
	`, referenceID)
	if err != nil {
		return fmt.Errorf("complete %s: %w", referenceID, err)
	}
	return nil
}

// Fail marks a job FAILED, capturing the diagnostic verbatim. Terminal
// states are immutable: a job that already completed or failed stays put.
func (db *DB) Fail(ctx context.Context, referenceID, detail string) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE jobs SET
			state = 'failed',
			error_detail = $2,
			claimed_by = NULL,
			lease_expires_at = NULL,
			finished_at = now()
		WHERE reference_id = $1 AND state NOT IN ('completed', 'failed')
	`, referenceID, detail)
	if err != nil {
		return fmt.Errorf("fail %s: %w", referenceID, err)
	}
	return nil
}

// ReapExpired enforces the delivery and timeout guarantees:
//
//   - PROCESSING jobs older than ExecTimeout are failed with a timeout
//     diagnostic, regardless of lease state.
//   - PROCESSING jobs whose lease has lapsed (worker crashed or lost) are
//     requeued while attempts remain, otherwise failed.
//
// Returns the number of jobs requeued and failed.
func (db *DB) ReapExpired(ctx context.Context) (requeued, failed int, err error) {
	timeoutMsg := fmt.Sprintf("job exceeded the execution timeout of %s", ExecTimeout)
	tag, err := db.Pool.Exec(ctx, `
		UPDATE jobs SET
			state = 'failed',
			error_detail = $1,
			claimed_by = NULL,
			lease_expires_at = NULL,
			finished_at = now()
		WHERE state = 'processing' AND started_at < now() - make_interval(secs => $2)
	`, timeoutMsg, ExecTimeout.Seconds())
	if err != nil {
		return 0, 0, fmt.Errorf("reap timed out: %w", err)
	}
	failed += int(tag.RowsAffected())

	tag, err = db.Pool.Exec(ctx, `
		UPDATE jobs SET
			state = 'queued',
			claimed_by = NULL,
			lease_expires_at = NULL,
			started_at = NULL
		WHERE state = 'processing' AND lease_expires_at < now() AND attempts < max_attempts
	`)
	if err != nil {
		return requeued, failed, fmt.Errorf("reap requeue: %w", err)
	}
	requeued = int(tag.RowsAffected())

	tag, err = db.Pool.Exec(ctx, `
		UPDATE jobs SET
			state = 'failed',
			error_detail = 'worker lost and delivery attempts exhausted',
			claimed_by = NULL,
			lease_expires_at = NULL,
			finished_at = now()
		WHERE state = 'processing' AND lease_expires_at < now() AND attempts >= max_attempts
	`)
	if err != nil {
		return requeued, failed, fmt.Errorf("reap exhausted: %w", err)
	}
	failed += int(tag.RowsAffected())

	if requeued > 0 || failed > 0 {
		db.log.Info().Int("requeued", requeued).Int("failed", failed).Msg("reaped expired jobs")
	}
	return requeued, failed, nil
}

// Get fetches one job record. Returns ErrNotFound for unknown reference IDs.
func (db *DB) Get(ctx context.Context, referenceID string) (*Job, error) {
	row := db.Pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE reference_id = $1`, referenceID)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", referenceID, err)
	}
	return j, nil
}

// GetMany fetches job records for a set of reference IDs. IDs with no record
// are simply absent from the result map.
func (db *DB) GetMany(ctx context.Context, referenceIDs []string) (map[string]*Job, error) {
	if len(referenceIDs) == 0 {
		return map[string]*Job{}, nil
	}

	rows, err := db.Pool.Query(ctx, `SELECT `+jobColumns+` FROM jobs WHERE reference_id = ANY($1)`, referenceIDs)
	if err != nil {
		return nil, fmt.Errorf("get many: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*Job, len(referenceIDs))
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out[j.ReferenceID] = j
	}
	return out, rows.Err()
}
