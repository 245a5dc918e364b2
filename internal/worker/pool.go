// Package worker runs the claim loop: a pool of goroutines pulls jobs from
// the durable queue and feeds them through the media pipeline, one job at a
// time each.
package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ashdown/scribed/internal/metrics"
	"github.com/ashdown/scribed/internal/queue"
)

// JobStore is the slice of the queue backend the pool needs.
type JobStore interface {
	Claim(ctx context.Context, workerID string) (*queue.Job, error)
	Complete(ctx context.Context, referenceID string) error
	Fail(ctx context.Context, referenceID, detail string) error
	ExtendLease(ctx context.Context, referenceID string) error
	ReapExpired(ctx context.Context) (requeued, failed int, err error)
	RegisterWorker(ctx context.Context, workerID, hostname string) error
	Heartbeat(ctx context.Context, workerID string) error
	DeregisterWorker(ctx context.Context, workerID string) error
}

// Runner executes one job. Implemented by the media pipeline.
type Runner interface {
	Run(ctx context.Context, job *queue.Job) error
}

// EventPublishFunc is an optional callback for job lifecycle events.
type EventPublishFunc func(event, referenceID string, payload map[string]any)

// Options configures the worker pool.
type Options struct {
	Store        JobStore
	Pipeline     Runner
	WorkerID     string
	Hostname     string
	Workers      int
	PollInterval time.Duration
	PublishEvent EventPublishFunc
	Log          zerolog.Logger
}

// Pool manages the claim/process loop for one worker process.
type Pool struct {
	opts   Options
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	completed atomic.Int64
	failed    atomic.Int64
}

const (
	heartbeatInterval = 10 * time.Second
	reapInterval      = 30 * time.Second
	leaseInterval     = queue.DefaultLease / 3
)

// New creates a worker pool. Call Start to begin claiming jobs.
func New(opts Options) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		opts:   opts,
		log:    opts.Log,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start registers the worker and launches the claim, heartbeat, and reaper
// goroutines. The inference capabilities inside the pipeline must already be
// initialized: no job is claimed before Start.
func (p *Pool) Start() error {
	if err := p.opts.Store.RegisterWorker(p.ctx, p.opts.WorkerID, p.opts.Hostname); err != nil {
		return fmt.Errorf("register worker: %w", err)
	}

	for i := 0; i < p.opts.Workers; i++ {
		p.wg.Add(1)
		go p.claimLoop(i)
	}
	p.wg.Add(2)
	go p.heartbeatLoop()
	go p.reapLoop()

	p.log.Info().
		Str("worker_id", p.opts.WorkerID).
		Int("workers", p.opts.Workers).
		Dur("poll_interval", p.opts.PollInterval).
		Msg("worker pool started")
	return nil
}

// Stop signals all loops to finish and waits for in-flight jobs to drain.
func (p *Pool) Stop() {
	p.cancel()
	p.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.opts.Store.DeregisterWorker(ctx, p.opts.WorkerID); err != nil {
		p.log.Warn().Err(err).Msg("worker deregistration failed")
	}

	p.log.Info().
		Int64("completed", p.completed.Load()).
		Int64("failed", p.failed.Load()).
		Msg("worker pool stopped")
}

func (p *Pool) claimLoop(id int) {
	defer p.wg.Done()
	log := p.log.With().Int("slot", id).Logger()

	for {
		job, err := p.opts.Store.Claim(p.ctx, p.opts.WorkerID)
		if err != nil {
			if p.ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("claim failed")
			if !p.sleep(p.opts.PollInterval) {
				return
			}
			continue
		}
		if job == nil {
			if !p.sleep(p.opts.PollInterval) {
				return
			}
			continue
		}

		p.process(log, job)

		if p.ctx.Err() != nil {
			return
		}
	}
}

// process runs one job under the hard execution timeout, keeping the lease
// fresh while the pipeline works. Pipeline panics are caught and recorded as
// job failures with the stack as the diagnostic.
func (p *Pool) process(log zerolog.Logger, job *queue.Job) {
	log = log.With().Str("reference_id", job.ReferenceID).Logger()
	log.Info().Int("attempt", job.Attempts).Msg("processing job")

	// Not derived from the pool context: shutdown drains in-flight jobs
	// instead of aborting them. The execution timeout still bounds the run.
	ctx, cancel := context.WithTimeout(context.Background(), queue.ExecTimeout)
	defer cancel()

	leaseDone := make(chan struct{})
	go p.keepLease(ctx, job.ReferenceID, leaseDone)

	err := p.runGuarded(ctx, job)
	cancel()
	<-leaseDone

	// Terminal updates use a fresh context so a shutdown mid-job still
	// records the outcome.
	finishCtx, finishCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer finishCancel()

	if err != nil {
		p.failed.Add(1)
		metrics.JobsProcessedTotal.WithLabelValues("failed").Inc()
		log.Warn().Err(err).Msg("job failed")
		if ferr := p.opts.Store.Fail(finishCtx, job.ReferenceID, err.Error()); ferr != nil {
			log.Error().Err(ferr).Msg("recording job failure failed")
		}
		p.publish("failed", job.ReferenceID, map[string]any{"error": err.Error()})
		return
	}

	p.completed.Add(1)
	metrics.JobsProcessedTotal.WithLabelValues("completed").Inc()
	if cerr := p.opts.Store.Complete(finishCtx, job.ReferenceID); cerr != nil {
		log.Error().Err(cerr).Msg("recording job completion failed")
	}
	p.publish("completed", job.ReferenceID, nil)
	log.Info().Msg("job completed")
}

func (p *Pool) runGuarded(ctx context.Context, job *queue.Job) (err error) {
	defer func() {
		if rv := recover(); rv != nil {
			err = fmt.Errorf("panic: %v\n%s", rv, debug.Stack())
		}
	}()
	return p.opts.Pipeline.Run(ctx, job)
}

func (p *Pool) keepLease(ctx context.Context, referenceID string, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(leaseInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.opts.Store.ExtendLease(ctx, referenceID); err != nil && ctx.Err() == nil {
				p.log.Warn().Err(err).Str("reference_id", referenceID).Msg("lease extension failed")
			}
		}
	}
}

func (p *Pool) heartbeatLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			if err := p.opts.Store.Heartbeat(p.ctx, p.opts.WorkerID); err != nil && p.ctx.Err() == nil {
				p.log.Warn().Err(err).Msg("heartbeat failed")
			}
		}
	}
}

func (p *Pool) reapLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := p.opts.Store.ReapExpired(p.ctx); err != nil && p.ctx.Err() == nil {
				p.log.Warn().Err(err).Msg("reap failed")
			}
		}
	}
}

func (p *Pool) publish(event, referenceID string, payload map[string]any) {
	if p.opts.PublishEvent != nil {
		p.opts.PublishEvent(event, referenceID, payload)
	}
}

func (p *Pool) sleep(d time.Duration) bool {
	select {
	case <-p.ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
