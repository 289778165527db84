package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/joseph-ayodele/docextract/internal/cache"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
	"github.com/joseph-ayodele/docextract/internal/llm"
)

// Scheduler groups queued items into context-homogeneous batches and
// dispatches them to a pool of workers. One loop goroutine owns the pending
// queues; workers only ever see whole batches.
type Scheduler struct {
	extractor llm.BatchExtractor
	cache     *cache.ResultCache
	logger    *slog.Logger
	sizer     *Sizer

	workers         int
	queueSize       int
	minBatch        int
	maxBatch        int
	initialBatch    int
	alpha           float64
	fast            time.Duration
	slow            time.Duration
	flushInterval   time.Duration
	maxRetries      int
	backoff         time.Duration
	maxBackoff      time.Duration
	dispatchTimeout time.Duration
	limiter         *rate.Limiter
	eventBuffer     int
	cacheTTL        time.Duration

	intake   chan *Item
	ready    chan *Batch
	base     context.Context
	stop     context.CancelFunc
	loopDone chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
	inflight atomic.Int64

	mu     sync.Mutex
	closed bool
}

type Option func(*Scheduler)

func WithWorkers(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// WithBatchSizes sets the sizer bounds and starting size.
func WithBatchSizes(min, max, initial int) Option {
	return func(s *Scheduler) {
		s.minBatch, s.maxBatch, s.initialBatch = min, max, initial
	}
}

func WithFlushInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.flushInterval = d
		}
	}
}

// WithLatencyThresholds sets the per-item latency bounds that grow or shrink
// the batch size, and the EWMA smoothing factor.
func WithLatencyThresholds(fast, slow time.Duration, alpha float64) Option {
	return func(s *Scheduler) {
		s.fast, s.slow, s.alpha = fast, slow, alpha
	}
}

// WithRetry configures transport retries. backoff doubles per attempt up to max.
func WithRetry(maxRetries int, backoff, max time.Duration) Option {
	return func(s *Scheduler) {
		if maxRetries >= 0 {
			s.maxRetries = maxRetries
		}
		if backoff > 0 {
			s.backoff = backoff
		}
		if max > 0 {
			s.maxBackoff = max
		}
	}
}

func WithDispatchTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.dispatchTimeout = d
		}
	}
}

// WithRateLimit caps batch dispatches per second. Zero disables the limiter.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(s *Scheduler) {
		if perSecond <= 0 {
			s.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func WithEventBuffer(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.eventBuffer = n
		}
	}
}

func WithCacheTTL(d time.Duration) Option {
	return func(s *Scheduler) { s.cacheTTL = d }
}

// NewScheduler starts the batching loop and workers. resultCache may be nil.
func NewScheduler(extractor llm.BatchExtractor, resultCache *cache.ResultCache, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		extractor:       extractor,
		cache:           resultCache,
		logger:          logger,
		workers:         5,
		queueSize:       1024,
		minBatch:        1,
		maxBatch:        8,
		initialBatch:    4,
		alpha:           0.3,
		fast:            2 * time.Second,
		slow:            8 * time.Second,
		flushInterval:   200 * time.Millisecond,
		maxRetries:      2,
		backoff:         500 * time.Millisecond,
		maxBackoff:      5 * time.Second,
		dispatchTimeout: 2 * time.Minute,
		eventBuffer:     64,
		cacheTTL:        24 * time.Hour,
	}
	for _, o := range opts {
		o(s)
	}
	s.sizer = NewSizer(s.minBatch, s.maxBatch, s.initialBatch, s.alpha, s.fast, s.slow)
	s.intake = make(chan *Item, s.queueSize)
	s.ready = make(chan *Batch)
	s.loopDone = make(chan struct{})
	s.base, s.stop = context.WithCancel(context.Background())
	s.start()
	return s
}

// NewFromConfig builds a scheduler from the environment-driven config.
func NewFromConfig(cfg common.SchedulerConfig, extractor llm.BatchExtractor, resultCache *cache.ResultCache, cacheTTL time.Duration, logger *slog.Logger) *Scheduler {
	return NewScheduler(extractor, resultCache, logger,
		WithWorkers(cfg.Workers),
		WithQueueSize(cfg.QueueSize),
		WithBatchSizes(cfg.MinBatchSize, cfg.MaxBatchSize, cfg.InitialBatchSize),
		WithFlushInterval(cfg.FlushInterval),
		WithLatencyThresholds(cfg.FastThreshold, cfg.SlowThreshold, cfg.EWMAAlpha),
		WithRetry(cfg.MaxRetries, cfg.RetryBackoff, cfg.MaxBackoff),
		WithDispatchTimeout(cfg.DispatchTimeout),
		WithRateLimit(cfg.RateLimit, cfg.RateBurst),
		WithEventBuffer(cfg.EventBuffer),
		WithCacheTTL(cacheTTL),
	)
}

func (s *Scheduler) start() {
	s.once.Do(func() {
		go s.loop()
		for i := 0; i < s.workers; i++ {
			s.wg.Add(1)
			go s.worker(i + 1)
		}
	})
}

// Stats is a point-in-time view of scheduler load.
type Stats struct {
	BatchSize      int           `json:"batch_size"`
	MinBatch       int           `json:"min_batch"`
	MaxBatch       int           `json:"max_batch"`
	AvgItemLatency time.Duration `json:"avg_item_latency"`
	Queued         int           `json:"queued"`
	InFlight       int64         `json:"in_flight_batches"`
}

func (s *Scheduler) Stats() Stats {
	lo, hi := s.sizer.Bounds()
	return Stats{
		BatchSize:      s.sizer.Current(),
		MinBatch:       lo,
		MaxBatch:       hi,
		AvgItemLatency: s.sizer.Average(),
		Queued:         len(s.intake),
		InFlight:       s.inflight.Load(),
	}
}

func (s *Scheduler) Sizer() *Sizer { return s.sizer }

// Submit registers a run for items and returns immediately; progress is
// reported on the run's event stream. Cancelling ctx cancels the run.
func (s *Scheduler) Submit(ctx context.Context, items []*Item, opts ...RunOption) (*Run, error) {
	var cfg runConfig
	for _, o := range opts {
		o(&cfg)
	}

	total := len(items) + len(cfg.preResolved)
	if total == 0 {
		return nil, common.NewAppError("EMPTY_RUN", "run has no items", common.ErrInvalidInput)
	}
	seen := make(map[string]struct{}, total)
	check := func(it *Item) error {
		if it == nil {
			return common.NewAppError("NIL_ITEM", "run contains a nil item", common.ErrInvalidInput)
		}
		if it.pc.IsZero() {
			return fmt.Errorf("%w: item %s has no processing context", common.ErrInvalidContext, it.ID)
		}
		if it.run != nil {
			return common.NewAppError("ITEM_REUSED", fmt.Sprintf("item %s already belongs to a run", it.ID), common.ErrInvalidInput)
		}
		if _, dup := seen[it.ID]; dup {
			return common.NewAppError("DUPLICATE_ITEM", fmt.Sprintf("duplicate item id %s", it.ID), common.ErrInvalidInput)
		}
		seen[it.ID] = struct{}{}
		return nil
	}
	for _, it := range items {
		if err := check(it); err != nil {
			return nil, err
		}
	}
	for _, res := range cfg.preResolved {
		if err := check(res.Item); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, common.ErrSchedulerClosed
	}

	run := newRun(cfg, total, s.eventBuffer, s.logger)
	var lead entity.ProcessingContext
	if len(items) > 0 {
		lead = items[0].pc
	} else {
		lead = cfg.preResolved[0].Item.pc
	}
	for _, it := range items {
		it.run = run
	}
	for _, res := range cfg.preResolved {
		res.Item.run = run
	}

	s.logger.Info("run.submitted", "run_id", run.ID, "items", len(items), "pre_resolved", len(cfg.preResolved),
		"context", lead.String())
	run.start(lead)
	if ctx != nil {
		run.setStop(context.AfterFunc(ctx, func() { run.Cancel() }))
	}

	for _, res := range cfg.preResolved {
		run.emitter.MarkDispatched(res.Item.ID)
		run.deliver(res)
	}
	for _, it := range items {
		s.admit(it)
	}
	return run, nil
}

// admit resolves it from the cache or enqueues it for extraction.
func (s *Scheduler) admit(it *Item) {
	if it.run.isFinished() {
		s.abandon(it)
		return
	}
	if s.cache != nil {
		cl := s.cache.Claim(s.base, it.fingerprint)
		switch {
		case cl.Entry != nil:
			it.run.emitter.MarkDispatched(it.ID)
			it.run.deliver(Result{Item: it, Data: cl.Entry.Payload, Model: cl.Entry.Model, CacheHit: true})
			return
		case cl.Wait != nil:
			go s.await(it, cl.Wait)
			return
		default:
			it.owner = true
		}
	}
	s.enqueue(it)
}

// await parks it until the in-flight owner of the same fingerprint finishes.
func (s *Scheduler) await(it *Item, wait <-chan struct{}) {
	select {
	case <-wait:
		s.admit(it)
	case <-it.run.Done():
		s.abandon(it)
	case <-s.base.Done():
		it.run.emitter.MarkDispatched(it.ID)
		it.run.deliver(Result{Item: it, Err: common.ErrSchedulerClosed})
	}
}

func (s *Scheduler) enqueue(it *Item) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		res := Result{Item: it, Err: common.ErrSchedulerClosed}
		s.settleCache(it, res)
		it.run.emitter.MarkDispatched(it.ID)
		it.run.deliver(res)
		return
	}
	defer s.mu.Unlock()
	it.queuedAt = time.Now()
	select {
	case s.intake <- it:
	default:
		s.logger.Warn("scheduler.queue_full", "file_id", it.ID, "run_id", it.run.ID)
		s.intake <- it
	}
}

// abandon drops an item whose run has already finished.
func (s *Scheduler) abandon(it *Item) {
	if it.owner && s.cache != nil {
		s.cache.Release(it.fingerprint)
		it.owner = false
	}
	it.finish(StateFailed)
}

func (s *Scheduler) loop() {
	defer close(s.loopDone)
	defer close(s.ready)

	pending := make(map[entity.ProcessingContext][]*Item)
	var order []entity.ProcessingContext
	var ready []*Batch

	cut := func(pc entity.ProcessingContext, force bool) {
		for {
			q := s.live(pending[pc])
			size := s.sizer.Current()
			if len(q) == 0 || (!force && len(q) < size) {
				if len(q) == 0 {
					delete(pending, pc)
					order = removeContext(order, pc)
				} else {
					pending[pc] = q
				}
				return
			}
			n := min(size, len(q))
			b := &Batch{ID: uuid.NewString(), Context: pc, Items: append([]*Item(nil), q[:n]...), CreatedAt: time.Now()}
			for _, it := range b.Items {
				it.transition(StateQueued, StateBatched)
			}
			ready = append(ready, b)
			pending[pc] = q[n:]
			force = false
		}
	}

	tick := time.NewTicker(s.flushInterval)
	defer tick.Stop()
	intake := s.intake

	for {
		if intake == nil && len(order) == 0 && len(ready) == 0 {
			return
		}
		var out chan<- *Batch
		var next *Batch
		if len(ready) > 0 {
			out, next = s.ready, ready[0]
		}

		select {
		case it, ok := <-intake:
			if !ok {
				intake = nil
				for len(order) > 0 {
					pc := order[0]
					for len(pending[pc]) > 0 {
						cut(pc, true)
					}
					delete(pending, pc)
					order = removeContext(order, pc)
				}
				continue
			}
			if _, ok := pending[it.pc]; !ok {
				order = append(order, it.pc)
			}
			pending[it.pc] = append(pending[it.pc], it)
			cut(it.pc, false)

		case out <- next:
			ready[0] = nil
			ready = ready[1:]

		case now := <-tick.C:
			for _, pc := range append([]entity.ProcessingContext(nil), order...) {
				q := pending[pc]
				if len(q) > 0 && now.Sub(q[0].queuedAt) >= s.flushInterval {
					cut(pc, true)
				}
			}
		}
	}
}

// live filters out items whose run already finished.
func (s *Scheduler) live(q []*Item) []*Item {
	out := q[:0]
	for _, it := range q {
		if it.run.isFinished() {
			s.abandon(it)
			continue
		}
		out = append(out, it)
	}
	for i := len(out); i < len(q); i++ {
		q[i] = nil
	}
	return out
}

func removeContext(order []entity.ProcessingContext, pc entity.ProcessingContext) []entity.ProcessingContext {
	for i, c := range order {
		if c == pc {
			return append(order[:i], order[i+1:]...)
		}
	}
	return order
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()
	s.logger.Debug("scheduler.worker.started", "worker_id", id)
	for b := range s.ready {
		s.inflight.Add(1)
		s.dispatch(id, b)
		s.inflight.Add(-1)
	}
	s.logger.Debug("scheduler.worker.stopped", "worker_id", id)
}

func (s *Scheduler) dispatch(workerID int, b *Batch) {
	b.Items = s.live(b.Items)
	if len(b.Items) == 0 {
		return
	}

	reqs := make([]llm.Request, len(b.Items))
	for i, it := range b.Items {
		it.transition(StateBatched, StateDispatched)
		it.run.emitter.MarkDispatched(it.ID)
		reqs[i] = llm.Request{ID: it.ID, Filename: it.Filename, Content: it.Content}
	}
	log := s.logger.With("batch_id", b.ID, "worker_id", workerID, "context", b.Context.String(), "size", len(b.Items))

	if s.limiter != nil {
		if err := s.limiter.Wait(s.base); err != nil {
			s.failBatch(b, fmt.Errorf("%w: %w", common.ErrSchedulerClosed, err))
			return
		}
	}

	var (
		outcomes []llm.Outcome
		err      error
		latency  time.Duration
		attempts int
	)
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 && !s.sleep(s.backoffFor(attempt)) {
			err = fmt.Errorf("%w: %w", common.ErrSchedulerClosed, err)
			break
		}
		attempts++
		start := time.Now()
		outcomes, err = s.call(b, reqs)
		latency = time.Since(start)
		if err == nil && len(outcomes) != len(reqs) {
			err = fmt.Errorf("%w: %d outcomes for %d items", common.ErrExtractionTransport, len(outcomes), len(reqs))
		}
		if err == nil {
			break
		}
		if common.IsFatal(err) {
			log.Error("scheduler.batch.fatal", "error", err)
			s.abortBatch(b, err)
			return
		}
		log.Warn("scheduler.batch.retry", "attempt", attempts, "max_retries", s.maxRetries, "error", err)
	}
	if err != nil {
		if !errors.Is(err, common.ErrSchedulerClosed) {
			err = fmt.Errorf("%w after %d attempts: %w", common.ErrExtractionFailure, attempts, err)
			if attempts > 0 {
				s.sizer.Penalize(latency, len(b.Items))
			}
		}
		log.Error("scheduler.batch.failed", "attempts", attempts, "error", err, "next_size", s.sizer.Current())
		s.failBatch(b, err)
		return
	}

	size := s.sizer.Observe(latency, len(b.Items))
	log.Info("scheduler.batch.ok", "attempts", attempts, "elapsed_ms", latency.Milliseconds(), "next_size", size)

	for i, it := range b.Items {
		o := outcomes[i]
		model := o.Model
		if model == "" {
			model = b.Context.ModelID()
		}
		res := Result{Item: it, Data: o.Data, Model: model, Duration: latency, Err: o.Err}
		s.settleCache(it, res)
		it.run.deliver(res)
	}
}

// call runs one attempt under the scheduler's own deadline, never a caller's.
func (s *Scheduler) call(b *Batch, reqs []llm.Request) ([]llm.Outcome, error) {
	ctx, cancel := context.WithTimeout(s.base, s.dispatchTimeout)
	defer cancel()
	if p, ok := s.extractor.(llm.PartialExtractor); ok {
		return p.ExtractBatchPartial(ctx, b.Context, reqs, func(index int, fields json.RawMessage) {
			if index >= 0 && index < len(b.Items) {
				it := b.Items[index]
				it.run.partial(it, fields)
			}
		})
	}
	return s.extractor.ExtractBatch(ctx, b.Context, reqs)
}

func (s *Scheduler) backoffFor(attempt int) time.Duration {
	d := s.backoff
	for i := 1; i < attempt && d < s.maxBackoff; i++ {
		d *= 2
	}
	return min(d, s.maxBackoff)
}

func (s *Scheduler) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-s.base.Done():
		return false
	}
}

// failBatch delivers the same error to every item of b.
func (s *Scheduler) failBatch(b *Batch, err error) {
	for _, it := range b.Items {
		res := Result{Item: it, Model: b.Context.ModelID(), Err: err}
		s.settleCache(it, res)
		it.run.deliver(res)
	}
}

// abortBatch terminates every run that had items in b.
func (s *Scheduler) abortBatch(b *Batch, err error) {
	runs := make(map[*Run]struct{})
	for _, it := range b.Items {
		s.settleCache(it, Result{Item: it, Err: err})
		it.finish(StateFailed)
		runs[it.run] = struct{}{}
	}
	for r := range runs {
		r.abort(err)
	}
}

func (s *Scheduler) settleCache(it *Item, res Result) {
	if s.cache == nil || !it.owner {
		return
	}
	it.owner = false
	if res.Err != nil {
		s.cache.Release(it.fingerprint)
		return
	}
	s.cache.Complete(it.fingerprint, res.Data, res.Model, s.cacheTTL)
}

// Shutdown stops intake, flushes pending items into final batches and waits
// for workers to finish. If ctx expires first, in-flight calls are cancelled.
func (s *Scheduler) Shutdown(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.intake)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		<-s.loopDone
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("scheduler.drained")
	case <-ctx.Done():
		s.logger.Warn("scheduler.shutdown.timeout", "error", ctx.Err())
		s.stop()
		<-done
	}
	s.stop()
}
