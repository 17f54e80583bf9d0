package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// promoteInterval bounds how stale a delayed job can become before it is
// promoted to ready: delayed jobs (approval timeouts, countdown refreshes)
// tolerate a few hundred milliseconds of slack.
const promoteInterval = 250 * time.Millisecond

// promoteBatch caps how many due jobs move from delayed to ready per tick,
// bounding the worst case of one scan when a large backlog comes due at once.
const promoteBatch = 500

// WorkerPool runs a fixed number of Worker goroutines against one Broker,
// plus a background promoter that moves due delayed jobs onto the ready
// list. Shape mirrors the teacher's queue.WorkerPool (podID-scoped workers,
// stopCh/sync.Once/WaitGroup graceful shutdown, a cancel-function registry
// for in-flight work) adapted from Postgres session polling onto Redis.
type WorkerPool struct {
	podID   string
	broker  *Broker
	workerN int
	handler Handler
	workers []*Worker

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	activeJobs map[string]context.CancelFunc
	mu         sync.RWMutex
	started    bool
}

// NewWorkerPool creates a pool of workerN workers draining broker.
func NewWorkerPool(podID string, broker *Broker, workerN int, handler Handler) *WorkerPool {
	return &WorkerPool{
		podID:      podID,
		broker:     broker,
		workerN:    workerN,
		handler:    handler,
		workers:    make([]*Worker, 0, workerN),
		stopCh:     make(chan struct{}),
		activeJobs: make(map[string]context.CancelFunc),
	}
}

// Start spawns worker goroutines and the delayed-job promoter. Safe to call
// once; subsequent calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) {
	if p.started {
		slog.Warn("worker pool already started, ignoring duplicate Start", "pod_id", p.podID, "queue", p.broker.Name())
		return
	}
	p.started = true

	slog.Info("starting worker pool", "pod_id", p.podID, "queue", p.broker.Name(), "worker_count", p.workerN)

	for i := 0; i < p.workerN; i++ {
		workerID := fmt.Sprintf("%s-%s-worker-%d", p.podID, p.broker.Name(), i)
		worker := NewWorker(workerID, p.broker, p.handler, p)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runPromoter(ctx)
	}()
}

// Stop signals all workers and the promoter to stop, and waits for the
// current job on each worker to finish (graceful shutdown).
func (p *WorkerPool) Stop() {
	slog.Info("stopping worker pool", "pod_id", p.podID, "queue", p.broker.Name())

	for _, w := range p.workers {
		w.Stop()
	}
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()

	slog.Info("worker pool stopped", "pod_id", p.podID, "queue", p.broker.Name())
}

func (p *WorkerPool) runPromoter(ctx context.Context) {
	ticker := time.NewTicker(promoteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.broker.PromoteDue(ctx, promoteBatch); err != nil {
				slog.Error("promote due jobs failed", "queue", p.broker.Name(), "error", err)
			}
		}
	}
}

// RegisterJob stores a cancel function for a job currently being worked, so
// CancelJob can stop it (e.g. a superseded approval-countdown job).
func (p *WorkerPool) RegisterJob(jobID string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeJobs[jobID] = cancel
}

// UnregisterJob removes the cancel function once a job finishes.
func (p *WorkerPool) UnregisterJob(jobID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.activeJobs, jobID)
}

// CancelJob cancels a currently-processing job's context if it is being
// worked on this pod. Returns true if found.
func (p *WorkerPool) CancelJob(jobID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if cancel, ok := p.activeJobs[jobID]; ok {
		cancel()
		return true
	}
	return false
}

// Health reports pool and per-worker status plus queue depths.
func (p *WorkerPool) Health(ctx context.Context) *PoolHealth {
	ready, delayed, dead, err := p.broker.Depths(ctx)
	if err != nil {
		slog.Error("failed to query queue depths for health check", "queue", p.broker.Name(), "error", err)
	}

	stats := make([]WorkerHealth, len(p.workers))
	active := 0
	for i, w := range p.workers {
		h := w.Health()
		stats[i] = h
		if h.Status == string(WorkerStatusWorking) {
			active++
		}
	}

	return &PoolHealth{
		IsHealthy:     len(p.workers) > 0 && err == nil,
		Queue:         p.broker.Name(),
		ActiveWorkers: active,
		TotalWorkers:  len(p.workers),
		ReadyDepth:    ready,
		DelayedDepth:  delayed,
		DeadDepth:     dead,
		WorkerStats:   stats,
	}
}

// NewRedisClient builds a go-redis client from a connection address, used by
// callers wiring up a pool's backing Broker.
func NewRedisClient(addr string) redis.UniversalClient {
	return redis.NewClient(&redis.Options{Addr: addr})
}
