package queue

import (
	"context"
	"fmt"
	"time"
)

// WorkerStaleAfter is how long a worker may go without a heartbeat before
// the health endpoint stops counting it.
const WorkerStaleAfter = 30 * time.Second

// RegisterWorker upserts this worker into the registry. Re-registering an
// existing ID resets its start time and heartbeat.
func (db *DB) RegisterWorker(ctx context.Context, workerID, hostname string) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO workers (worker_id, hostname)
		VALUES ($1, $2)
		ON CONFLICT (worker_id) DO UPDATE
		SET hostname = EXCLUDED.hostname, started_at = now(), last_heartbeat = now()
	`, workerID, hostname)
	if err != nil {
		return fmt.Errorf("register worker %s: %w", workerID, err)
	}
	db.log.Info().Str("worker_id", workerID).Str("hostname", hostname).Msg("worker registered")
	return nil
}

// Heartbeat refreshes a worker's liveness timestamp.
func (db *DB) Heartbeat(ctx context.Context, workerID string) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE workers SET last_heartbeat = now() WHERE worker_id = $1
	`, workerID)
	if err != nil {
		return fmt.Errorf("heartbeat %s: %w", workerID, err)
	}
	return nil
}

// DeregisterWorker removes a worker from the registry on clean shutdown.
func (db *DB) DeregisterWorker(ctx context.Context, workerID string) error {
	_, err := db.Pool.Exec(ctx, `DELETE FROM workers WHERE worker_id = $1`, workerID)
	if err != nil {
		return fmt.Errorf("deregister worker %s: %w", workerID, err)
	}
	return nil
}

// AnyWorkerAlive reports whether at least one registered worker has a fresh
// heartbeat. Backs the health endpoint's worker check.
func (db *DB) AnyWorkerAlive(ctx context.Context) (bool, error) {
	var alive bool
	err := db.Pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM workers
			WHERE last_heartbeat > now() - make_interval(secs => $1)
		)
	`, WorkerStaleAfter.Seconds()).Scan(&alive)
	if err != nil {
		return false, fmt.Errorf("worker liveness: %w", err)
	}
	return alive, nil
}
