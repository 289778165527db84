package batch

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
	"github.com/joseph-ayodele/docextract/internal/stream"
)

const hookTimeout = 10 * time.Second

// Summary is the final accounting of a run.
type Summary struct {
	RunID      string        `json:"run_id"`
	Total      int           `json:"total"`
	Successful int           `json:"successful"`
	Failed     int           `json:"failed"`
	Cancelled  bool          `json:"cancelled"`
	Err        error         `json:"-"`
	Duration   time.Duration `json:"duration"`
}

// ResultHook observes every delivered result before its event is emitted.
type ResultHook func(ctx context.Context, res Result)

// DoneHook observes the end of a run, including cancellation and aborts.
type DoneHook func(ctx context.Context, sum Summary)

type completedPhase struct {
	name     string
	duration time.Duration
}

type runConfig struct {
	id            string
	sessionID     string
	versionID     string
	versionNumber int
	preResolved   []Result
	phases        []completedPhase
	onResult      ResultHook
	onDone        DoneHook
}

type RunOption func(*runConfig)

func WithRunID(id string) RunOption {
	return func(c *runConfig) {
		if id != "" {
			c.id = id
		}
	}
}

// WithMetadata tags init events with the session version the run populates.
func WithMetadata(sessionID, versionID string, number int) RunOption {
	return func(c *runConfig) {
		c.sessionID, c.versionID, c.versionNumber = sessionID, versionID, number
	}
}

// WithPreResolved adds items whose outcome is already known, such as files
// that failed upstream conversion. They count toward the run totals.
func WithPreResolved(results ...Result) RunOption {
	return func(c *runConfig) {
		c.preResolved = append(c.preResolved, results...)
	}
}

// WithPhase reports a phase that finished before submission.
func WithPhase(name string, d time.Duration) RunOption {
	return func(c *runConfig) {
		c.phases = append(c.phases, completedPhase{name: name, duration: d})
	}
}

func WithResultHook(h ResultHook) RunOption {
	return func(c *runConfig) { c.onResult = h }
}

func WithDoneHook(h DoneHook) RunOption {
	return func(c *runConfig) { c.onDone = h }
}

// delivery is one step of the run's ordered delivery queue: a result, or the
// final summary that runs the done hook and stops the queue.
type delivery struct {
	res Result
	sum *Summary
}

// Run tracks one submission from init to its terminal event. Results are
// recorded on a per-run delivery goroutine so hooks never hold a worker.
type Run struct {
	ID string

	cfg     runConfig
	emitter *stream.Emitter
	logger  *slog.Logger
	total   int
	started time.Time

	mu         sync.Mutex
	completed  int
	successful int
	failed     int
	finished   bool
	cancelled  bool
	err        error
	done       chan struct{}
	stopAfter  func() bool

	dmu     sync.Mutex
	queue   []delivery
	drained bool
	wake    chan struct{}
}

func newRun(cfg runConfig, total, buffer int, logger *slog.Logger) *Run {
	if cfg.id == "" {
		cfg.id = uuid.NewString()
	}
	return &Run{
		ID:      cfg.id,
		cfg:     cfg,
		emitter: stream.NewEmitter(cfg.id, buffer, logger),
		logger:  logger.With("run_id", cfg.id),
		total:   total,
		started: time.Now(),
		done:    make(chan struct{}),
		wake:    make(chan struct{}, 1),
	}
}

// Events is the run's event stream. It is closed after the terminal event or
// on cancellation.
func (r *Run) Events() <-chan stream.Event { return r.emitter.Events() }

// Done is closed when the run reaches a terminal state.
func (r *Run) Done() <-chan struct{} { return r.done }

// Dropped counts partial events discarded under backpressure.
func (r *Run) Dropped() int64 { return r.emitter.Dropped() }

func (r *Run) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summaryLocked()
}

// Err returns the fatal error that aborted the run, if any.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Cancel stops the stream and marks the run cancelled. Batches already
// dispatched finish in the background and their results are discarded.
func (r *Run) Cancel() bool {
	r.mu.Lock()
	if r.finished {
		r.mu.Unlock()
		return false
	}
	r.finished = true
	r.cancelled = true
	r.err = common.ErrRunCancelled
	sum := r.summaryLocked()
	close(r.done)
	r.mu.Unlock()

	r.emitter.Cancel()
	r.logger.Info("run.cancelled", "completed", sum.Successful+sum.Failed, "total", sum.Total)
	r.post(delivery{sum: &sum})
	return true
}

func (r *Run) start(pc entity.ProcessingContext) {
	r.emitter.Emit(constants.EventInit, stream.InitPayload{
		Total:         r.total,
		Context:       pc.Summary(),
		SessionID:     r.cfg.sessionID,
		VersionID:     r.cfg.versionID,
		VersionNumber: r.cfg.versionNumber,
	})
	for _, p := range r.cfg.phases {
		r.emitter.Emit(constants.EventPhase, stream.PhasePayload{
			Phase:      p.name,
			Status:     constants.PhaseCompleted,
			DurationMS: p.duration.Milliseconds(),
		})
	}
	r.emitter.Emit(constants.EventPhase, stream.PhasePayload{Phase: constants.PhaseAnalysis, Status: constants.PhaseStarted})
	go r.deliveries()
}

func (r *Run) isFinished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished
}

func (r *Run) partial(it *Item, fields json.RawMessage) {
	if r.isFinished() {
		return
	}
	r.emitter.Emit(constants.EventPartial, stream.PartialPayload{FileID: it.ID, Filename: it.Filename, Fields: fields})
}

// deliver queues the terminal outcome of one item. It never blocks: the
// result hook and the result event run on the run's delivery goroutine.
func (r *Run) deliver(res Result) {
	r.post(delivery{res: res})
}

func (r *Run) post(d delivery) {
	r.dmu.Lock()
	if r.drained {
		r.dmu.Unlock()
		return
	}
	r.queue = append(r.queue, d)
	r.dmu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// deliveries records queued results in arrival order until the final
// summary, which runs after any hook still in progress.
func (r *Run) deliveries() {
	for {
		r.dmu.Lock()
		if len(r.queue) == 0 {
			r.dmu.Unlock()
			<-r.wake
			continue
		}
		d := r.queue[0]
		r.queue[0] = delivery{}
		r.queue = r.queue[1:]
		if d.sum != nil {
			r.drained = true
			r.queue = nil
		}
		r.dmu.Unlock()

		if d.sum != nil {
			r.afterFinish(*d.sum)
			return
		}
		r.record(d.res)
	}
}

// record persists and emits one result. Results arriving after the run
// finished are discarded.
func (r *Run) record(res Result) {
	if r.isFinished() {
		return
	}
	if r.cfg.onResult != nil {
		ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
		r.cfg.onResult(ctx, res)
		cancel()
	}

	to := StateCompleted
	if res.Err != nil {
		to = StateFailed
	}

	r.mu.Lock()
	if r.finished {
		r.mu.Unlock()
		return
	}
	if !res.Item.finish(to) {
		r.mu.Unlock()
		r.logger.Error("run.result.duplicate", "file_id", res.Item.ID)
		return
	}
	r.completed++
	payload := stream.ResultPayload{
		FileID:       res.Item.ID,
		Filename:     res.Item.Filename,
		Model:        res.Model,
		CacheHit:     res.CacheHit,
		ProcessingMS: res.Duration.Milliseconds(),
	}
	if res.Err == nil {
		r.successful++
		payload.Status = constants.ResultStatusSuccess
		payload.Data = res.Data
	} else {
		r.failed++
		payload.Status = constants.ResultStatusError
		payload.Error = res.Err.Error()
		payload.ErrorCode = common.ErrorCode(res.Err)
	}
	r.emitter.Emit(constants.EventResult, payload)
	r.emitter.Emit(constants.EventProgress, stream.ProgressPayload{Current: r.completed, Total: r.total})

	var sum *Summary
	if r.completed >= r.total {
		s := r.finishLocked(nil)
		sum = &s
	}
	r.mu.Unlock()

	if sum != nil {
		r.post(delivery{sum: sum})
	}
}

// abort terminates the run with a fatal error event.
func (r *Run) abort(err error) {
	r.mu.Lock()
	if r.finished {
		r.mu.Unlock()
		return
	}
	sum := r.finishLocked(err)
	r.mu.Unlock()

	r.logger.Error("run.aborted", "error", err)
	r.post(delivery{sum: &sum})
}

func (r *Run) finishLocked(fatal error) Summary {
	r.finished = true
	r.err = fatal
	elapsed := time.Since(r.started)

	r.emitter.Emit(constants.EventPhase, stream.PhasePayload{
		Phase:      constants.PhaseAnalysis,
		Status:     constants.PhaseCompleted,
		DurationMS: elapsed.Milliseconds(),
	})
	if fatal != nil {
		r.emitter.Emit(constants.EventError, stream.ErrorPayload{Code: common.ErrorCode(fatal), Message: fatal.Error()})
	} else {
		r.emitter.Emit(constants.EventComplete, stream.CompletePayload{
			Total:      r.total,
			Successful: r.successful,
			Failed:     r.failed,
			DurationMS: elapsed.Milliseconds(),
		})
	}
	r.emitter.Close()
	close(r.done)
	return r.summaryLocked()
}

func (r *Run) summaryLocked() Summary {
	return Summary{
		RunID:      r.ID,
		Total:      r.total,
		Successful: r.successful,
		Failed:     r.failed,
		Cancelled:  r.cancelled,
		Err:        r.err,
		Duration:   time.Since(r.started),
	}
}

func (r *Run) setStop(stop func() bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopAfter = stop
}

func (r *Run) afterFinish(sum Summary) {
	r.mu.Lock()
	stop := r.stopAfter
	r.mu.Unlock()
	if stop != nil {
		stop()
	}
	if !sum.Cancelled && sum.Err == nil {
		r.logger.Info("run.completed", "total", sum.Total, "successful", sum.Successful, "failed", sum.Failed,
			"elapsed_ms", sum.Duration.Milliseconds())
	}
	if r.cfg.onDone != nil {
		ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
		defer cancel()
		r.cfg.onDone(ctx, sum)
	}
}
