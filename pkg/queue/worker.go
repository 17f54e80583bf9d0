package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// claimTimeout bounds each blocking claim so the worker loop can observe
// stopCh/ctx.Done promptly even when the queue is empty.
const claimTimeout = 2 * time.Second

// Worker is a single queue worker: it claims jobs from one Broker and
// invokes a Handler for each, acking on success and retrying (or
// dead-lettering) on failure.
type Worker struct {
	id      string
	broker  *Broker
	handler Handler
	pool    jobRegistry

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu            sync.RWMutex
	status        WorkerStatus
	currentJobID  string
	jobsProcessed int
	lastActivity  time.Time
}

// jobRegistry is the subset of WorkerPool used by Worker for job
// cancellation registration, mirroring the teacher's SessionRegistry split.
type jobRegistry interface {
	RegisterJob(jobID string, cancel context.CancelFunc)
	UnregisterJob(jobID string)
}

// NewWorker creates a queue worker for the given broker and handler.
func NewWorker(id string, broker *Broker, handler Handler, pool jobRegistry) *Worker {
	return &Worker{
		id:           id,
		broker:       broker,
		handler:      handler,
		pool:         pool,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker's claim loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for its current job to finish.
// Safe to call multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health snapshot.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:            w.id,
		Status:        string(w.status),
		CurrentJobID:  w.currentJobID,
		JobsProcessed: w.jobsProcessed,
		LastActivity:  w.lastActivity,
	}
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()
	log := slog.With("worker_id", w.id, "queue", w.broker.Name())
	log.Info("worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("worker shutting down")
			return
		case <-ctx.Done():
			log.Info("context cancelled, worker shutting down")
			return
		default:
		}

		job, err := w.broker.Claim(ctx, claimTimeout)
		if err != nil {
			if errors.Is(err, ErrNoJobsAvailable) {
				continue
			}
			log.Error("claim failed", "error", err)
			w.sleep(time.Second)
			continue
		}

		w.process(ctx, job)
	}
}

func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

func (w *Worker) process(ctx context.Context, job *Job) {
	log := slog.With("worker_id", w.id, "queue", job.Queue, "job_id", job.ID, "attempt", job.Attempt)

	w.setStatus(WorkerStatusWorking, job.ID)
	defer w.setStatus(WorkerStatusIdle, "")

	jobCtx, cancel := context.WithCancel(ctx)
	w.pool.RegisterJob(job.ID, cancel)
	defer w.pool.UnregisterJob(job.ID)
	defer cancel()

	err := w.handler(jobCtx, job)
	if err == nil {
		if ackErr := w.broker.Ack(ctx, job); ackErr != nil {
			log.Error("ack failed", "error", ackErr)
		}
		w.mu.Lock()
		w.jobsProcessed++
		w.mu.Unlock()
		return
	}

	log.Warn("handler failed, retrying", "error", err)
	if retryErr := w.broker.Retry(ctx, job, err); retryErr != nil {
		log.Error("retry bookkeeping failed", "error", retryErr)
	}
}

func (w *Worker) setStatus(status WorkerStatus, jobID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentJobID = jobID
	w.lastActivity = time.Now()
}
