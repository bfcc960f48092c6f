// Package async serializes scan-run requests coming from several producers
// (the directory watcher, HTTP handlers, the batch CLI) onto one worker.
package async

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/joseph-ayodele/homework-scanner/internal/scan"
)

// Job asks for one scan run. Jobs submitted while another is waiting are
// coalesced into it, since a single run picks up every pending item anyway.
type Job struct {
	Reason      string
	SubmittedAt time.Time
	TraceID     string
}

// Runner is satisfied by *scan.Scanner.
type Runner interface {
	Run(ctx context.Context) (scan.Summary, error)
}

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Shutdown(ctx context.Context)
}

// ResultFunc receives the outcome of every executed job.
type ResultFunc func(job Job, sum scan.Summary, err error)

var ErrQueueClosed = errors.New("scan queue is shutting down")

// RunQueue executes scan runs one at a time in a background worker.
type RunQueue struct {
	runner   Runner
	logger   *slog.Logger
	timeout  time.Duration
	busyWait time.Duration
	onResult ResultFunc

	ch   chan Job
	wg   sync.WaitGroup
	once sync.Once

	// stop is closed by Shutdown so a worker waiting out a busy scanner gives up.
	stop chan struct{}
	// base parents every run; cancelled when Shutdown's context expires.
	base   context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	closed    bool
	coalesced int
}

var _ Queue = (*RunQueue)(nil)

type Option func(*RunQueue)

// WithRunTimeout bounds a single run. Zero means no limit.
func WithRunTimeout(d time.Duration) Option {
	return func(q *RunQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

// WithBusyWait sets how long the worker waits before retrying a job that hit
// a run started elsewhere.
func WithBusyWait(d time.Duration) Option {
	return func(q *RunQueue) {
		if d > 0 {
			q.busyWait = d
		}
	}
}

func WithResultFunc(f ResultFunc) Option {
	return func(q *RunQueue) { q.onResult = f }
}

func NewRunQueue(runner Runner, logger *slog.Logger, opts ...Option) *RunQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &RunQueue{
		runner:   runner,
		logger:   logger,
		busyWait: 2 * time.Second,
		ch:       make(chan Job, 1),
		stop:     make(chan struct{}),
	}
	q.base, q.cancel = context.WithCancel(context.Background())
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *RunQueue) start() {
	q.once.Do(func() {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			q.logger.Info("scan.queue.worker_started")
			for job := range q.ch {
				q.execute(job)
			}
			q.logger.Info("scan.queue.worker_stopped")
		}()
	})
}

func (q *RunQueue) execute(job Job) {
	logger := q.logger.With("reason", job.Reason, "trace_id", job.TraceID)
	for {
		ctx, cancel := q.runContext()
		sum, err := q.runner.Run(ctx)
		cancel()

		if errors.Is(err, scan.ErrRunInProgress) {
			logger.Debug("scan.queue.busy", "wait_ms", q.busyWait.Milliseconds())
			select {
			case <-q.stop:
				return
			case <-time.After(q.busyWait):
				continue
			}
		}

		switch {
		case errors.Is(err, scan.ErrNothingToDo):
			logger.Debug("scan.queue.nothing_to_do")
		case err != nil:
			logger.Error("scan.queue.run_failed", "error", err)
		default:
			logger.Info("scan.queue.run_done",
				"run_id", sum.RunID,
				"succeeded", sum.Succeeded,
				"failed", sum.Failed,
				"queued_ms", time.Since(job.SubmittedAt).Milliseconds(),
			)
		}
		if q.onResult != nil {
			q.onResult(job, sum, err)
		}
		return
	}
}

func (q *RunQueue) runContext() (context.Context, context.CancelFunc) {
	if q.timeout > 0 {
		return context.WithTimeout(q.base, q.timeout)
	}
	return context.WithCancel(q.base)
}

// Enqueue requests a run. It never blocks: when a run is already waiting the
// job is merged into it.
func (q *RunQueue) Enqueue(_ context.Context, job Job) error {
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.logger.Warn("scan.queue.enqueue_rejected", "reason", job.Reason)
		return ErrQueueClosed
	}
	select {
	case q.ch <- job:
		q.logger.Debug("scan.queue.enqueued", "reason", job.Reason)
	default:
		q.coalesced++
		q.logger.Debug("scan.queue.coalesced", "reason", job.Reason, "coalesced", q.coalesced)
	}
	return nil
}

// Coalesced returns how many jobs were merged into an already waiting one.
func (q *RunQueue) Coalesced() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.coalesced
}

// Shutdown stops accepting jobs and waits for the queued run to finish. When
// ctx expires first the run is cancelled and Shutdown waits for the worker to exit.
func (q *RunQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	close(q.stop)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("scan.queue.shutdown_interrupted", "error", ctx.Err())
		q.cancel()
		<-done
	case <-done:
		q.logger.Info("scan.queue.drained")
	}
	q.cancel()
}
