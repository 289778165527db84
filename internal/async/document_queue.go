package async

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/convert"
	"github.com/joseph-ayodele/docextract/internal/ingest"
	"github.com/joseph-ayodele/docextract/internal/pipeline"
	"github.com/joseph-ayodele/docextract/internal/stream"
)

// Submitter starts a run; *pipeline.Service satisfies it.
type Submitter interface {
	SubmitRun(ctx context.Context, req pipeline.SubmitRequest) (*pipeline.RunHandle, error)
}

// EventHook observes every event of the run started for a job.
type EventHook func(job Job, ev stream.Event)

// DocumentQueue submits each job as a single-file run and drains its events.
type DocumentQueue struct {
	submitter Submitter
	template  pipeline.SubmitRequest
	logger    *slog.Logger
	workers   int
	timeout   time.Duration
	onEvent   EventHook

	ch   chan Job
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.Mutex
	closed bool
}

type Option func(*DocumentQueue)

func WithWorkers(n int) Option {
	return func(q *DocumentQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}
func WithQueueSize(n int) Option {
	return func(q *DocumentQueue) {
		if n > 0 {
			q.ch = make(chan Job, n)
		}
	}
}
func WithProcessTimeout(d time.Duration) Option {
	return func(q *DocumentQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}
func WithEventHook(h EventHook) Option {
	return func(q *DocumentQueue) { q.onEvent = h }
}

// NewDocumentQueue starts the workers. template carries the schema key,
// instructions and model applied to every job; its Files are ignored.
func NewDocumentQueue(submitter Submitter, template pipeline.SubmitRequest, logger *slog.Logger, opts ...Option) *DocumentQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &DocumentQueue{
		submitter: submitter,
		template:  template,
		logger:    logger,
		workers:   2,
		timeout:   5 * time.Minute,
		ch:        make(chan Job, 256),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *DocumentQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Debug("worker started", "worker_id", workerID)

				for job := range q.ch {
					ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
					err := q.process(ctx, job)
					cancel()

					if err != nil {
						q.logger.Error("queue.job.failed", "worker_id", workerID, "path", job.Path, "error", err)
					}
				}

				q.logger.Debug("worker stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *DocumentQueue) process(ctx context.Context, job Job) error {
	doc, err := ingest.ReadDocument(job.Path)
	if err != nil {
		return err
	}
	req := q.template
	req.Files = []convert.Document{doc}

	h, err := q.submitter.SubmitRun(ctx, req)
	if err != nil {
		return err
	}
	q.logger.Info("queue.job.submitted", "path", job.Path, "run_id", h.Run.ID, "session_id", h.SessionID,
		"waited_ms", time.Since(job.SubmittedAt).Milliseconds())

	for ev := range h.Run.Events() {
		if q.onEvent != nil {
			q.onEvent(job, ev)
		}
		switch p := ev.Payload.(type) {
		case stream.ResultPayload:
			if p.Status == constants.ResultStatusSuccess {
				q.logger.Info("queue.job.result", "path", job.Path, "cache_hit", p.CacheHit, "processing_ms", p.ProcessingMS)
			} else {
				q.logger.Warn("queue.job.result", "path", job.Path, "status", p.Status, "error", p.Error)
			}
		case stream.ErrorPayload:
			q.logger.Error("queue.job.run_error", "path", job.Path, "code", p.Code, "message", p.Message)
		}
	}
	return nil
}

func (q *DocumentQueue) Enqueue(ctx context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.logger.Warn("cannot enqueue: queue is shutting down", "path", job.Path)
		return ErrQueueClosed
	}
	select {
	case q.ch <- job:
		q.logger.Debug("queued document", "path", job.Path)
		return nil
	default:
	}
	q.logger.Warn("queue full, applying backpressure", "path", job.Path)
	select {
	case q.ch <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *DocumentQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted by context")
	case <-done:
		q.logger.Info("queue drained, shutdown complete")
	}
}
