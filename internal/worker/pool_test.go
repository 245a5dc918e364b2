package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ashdown/scribed/internal/queue"
)

// fakeStore is an in-memory JobStore.
type fakeStore struct {
	mu         sync.Mutex
	pending    []*queue.Job
	completed  []string
	failed     map[string]string
	registered bool
	heartbeats int
	reaps      int
}

func newFakeStore(jobs ...*queue.Job) *fakeStore {
	return &fakeStore{pending: jobs, failed: map[string]string{}}
}

func (s *fakeStore) Claim(ctx context.Context, workerID string) (*queue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil, nil
	}
	j := s.pending[0]
	s.pending = s.pending[1:]
	j.Attempts++
	return j, nil
}

func (s *fakeStore) Complete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, id)
	return nil
}

func (s *fakeStore) Fail(ctx context.Context, id, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed[id] = detail
	return nil
}

func (s *fakeStore) ExtendLease(ctx context.Context, id string) error { return nil }

func (s *fakeStore) ReapExpired(ctx context.Context) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reaps++
	return 0, 0, nil
}

func (s *fakeStore) RegisterWorker(ctx context.Context, id, host string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registered = true
	return nil
}

func (s *fakeStore) Heartbeat(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heartbeats++
	return nil
}

func (s *fakeStore) DeregisterWorker(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registered = false
	return nil
}

func (s *fakeStore) snapshot() (completed []string, failed map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	completed = append([]string(nil), s.completed...)
	failed = make(map[string]string, len(s.failed))
	for k, v := range s.failed {
		failed[k] = v
	}
	return
}

// runnerFunc adapts a function to Runner.
type runnerFunc func(ctx context.Context, job *queue.Job) error

func (f runnerFunc) Run(ctx context.Context, job *queue.Job) error { return f(ctx, job) }

func newTestPool(store JobStore, run Runner) *Pool {
	return New(Options{
		Store:        store,
		Pipeline:     run,
		WorkerID:     "test-worker",
		Hostname:     "testhost",
		Workers:      2,
		PollInterval: 10 * time.Millisecond,
		Log:          zerolog.Nop(),
	})
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestPoolProcessesJobs(t *testing.T) {
	store := newFakeStore(
		&queue.Job{ReferenceID: "a"},
		&queue.Job{ReferenceID: "b"},
	)
	pool := newTestPool(store, runnerFunc(func(ctx context.Context, job *queue.Job) error {
		return nil
	}))

	if err := pool.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		done, _ := store.snapshot()
		return len(done) == 2
	})
	pool.Stop()

	done, failed := store.snapshot()
	if len(done) != 2 || len(failed) != 0 {
		t.Errorf("completed=%v failed=%v, want both jobs completed", done, failed)
	}
	if store.registered {
		t.Error("worker still registered after Stop")
	}
}

func TestPoolRecordsFailures(t *testing.T) {
	store := newFakeStore(&queue.Job{ReferenceID: "bad"})
	pool := newTestPool(store, runnerFunc(func(ctx context.Context, job *queue.Job) error {
		return errors.New("ffmpeg audio extraction failed: exit status 1")
	}))

	pool.Start()
	waitFor(t, 2*time.Second, func() bool {
		_, failed := store.snapshot()
		return len(failed) == 1
	})
	pool.Stop()

	_, failed := store.snapshot()
	if got := failed["bad"]; got != "ffmpeg audio extraction failed: exit status 1" {
		t.Errorf("failure detail = %q, want the pipeline error verbatim", got)
	}
}

func TestPoolRecoversPanics(t *testing.T) {
	store := newFakeStore(&queue.Job{ReferenceID: "panicky"})
	pool := newTestPool(store, runnerFunc(func(ctx context.Context, job *queue.Job) error {
		panic("model state corrupted")
	}))

	pool.Start()
	waitFor(t, 2*time.Second, func() bool {
		_, failed := store.snapshot()
		return len(failed) == 1
	})
	pool.Stop()

	_, failed := store.snapshot()
	detail := failed["panicky"]
	if !strings.Contains(detail, "model state corrupted") {
		t.Errorf("failure detail = %q, want the panic value", detail)
	}
	if !strings.Contains(detail, "goroutine") {
		t.Errorf("failure detail lacks a stack trace: %q", detail)
	}
}

func TestPoolPublishesEvents(t *testing.T) {
	store := newFakeStore(&queue.Job{ReferenceID: "evt"})

	var mu sync.Mutex
	var events []string
	pool := New(Options{
		Store:        store,
		Pipeline:     runnerFunc(func(ctx context.Context, job *queue.Job) error { return nil }),
		WorkerID:     "test-worker",
		Workers:      1,
		PollInterval: 10 * time.Millisecond,
		PublishEvent: func(event, referenceID string, payload map[string]any) {
			mu.Lock()
			events = append(events, event+":"+referenceID)
			mu.Unlock()
		},
		Log: zerolog.Nop(),
	})

	pool.Start()
	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 1
	})
	pool.Stop()

	mu.Lock()
	defer mu.Unlock()
	if events[0] != "completed:evt" {
		t.Errorf("event = %q, want completed:evt", events[0])
	}
}

func TestPoolStopDrainsInFlightJob(t *testing.T) {
	store := newFakeStore(&queue.Job{ReferenceID: "inflight"})

	started := make(chan struct{})
	release := make(chan struct{})
	var ctxErr error
	pool := newTestPool(store, runnerFunc(func(ctx context.Context, job *queue.Job) error {
		close(started)
		<-release
		ctxErr = ctx.Err()
		return nil
	}))

	pool.Start()
	<-started

	stopped := make(chan struct{})
	go func() {
		pool.Stop()
		close(stopped)
	}()

	// Give Stop time to cancel the pool context while the job is running,
	// then let the job finish.
	time.Sleep(50 * time.Millisecond)
	close(release)

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop")
	}

	if ctxErr != nil {
		t.Errorf("job context error during shutdown = %v, want nil", ctxErr)
	}
	done, failed := store.snapshot()
	if len(failed) != 0 {
		t.Errorf("shutdown failed the in-flight job: %v", failed)
	}
	if len(done) != 1 || done[0] != "inflight" {
		t.Errorf("completed = %v, want the in-flight job drained to completion", done)
	}
}

func TestPoolStopsOnContextCancel(t *testing.T) {
	store := newFakeStore()
	pool := newTestPool(store, runnerFunc(func(ctx context.Context, job *queue.Job) error {
		return nil
	}))

	pool.Start()
	stopped := make(chan struct{})
	go func() {
		pool.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop")
	}
}
