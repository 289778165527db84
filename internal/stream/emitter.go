package stream

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joseph-ayodele/docextract/constants"
)

// Emitter turns run activity into an ordered event channel. Emit never blocks:
// events queue in an internal backlog that a pump goroutine drains into the
// bounded output channel. When the consumer falls behind by a full buffer,
// partial events are dropped; every other event is kept.
type Emitter struct {
	runID  string
	out    chan Event
	logger *slog.Logger

	mu         sync.Mutex
	backlog    []Event
	seq        int64
	closed     bool
	dispatched map[string]struct{}
	resulted   map[string]struct{}

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	dropped  atomic.Int64
	now      func() time.Time
}

func NewEmitter(runID string, buffer int, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer <= 0 {
		buffer = 64
	}
	e := &Emitter{
		runID:      runID,
		out:        make(chan Event, buffer),
		logger:     logger,
		dispatched: make(map[string]struct{}),
		resulted:   make(map[string]struct{}),
		wake:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		now:        time.Now,
	}
	go e.pump()
	return e
}

// Events is closed after the terminal event has been delivered or after Cancel.
func (e *Emitter) Events() <-chan Event {
	return e.out
}

// MarkDispatched records that fileID was handed to something that will
// resolve it: the extraction service, the cache or the conversion stage.
// Results for files that were never marked are refused.
func (e *Emitter) MarkDispatched(fileID string) {
	e.mu.Lock()
	e.dispatched[fileID] = struct{}{}
	e.mu.Unlock()
}

// Emit appends an event and reports whether it was accepted.
func (e *Emitter) Emit(typ constants.EventType, payload any) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}

	switch p := payload.(type) {
	case ResultPayload:
		if _, ok := e.dispatched[p.FileID]; !ok {
			e.logger.Error("stream.result.before_dispatch", "run_id", e.runID, "file_id", p.FileID)
			return false
		}
		if _, dup := e.resulted[p.FileID]; dup {
			e.logger.Error("stream.result.duplicate", "run_id", e.runID, "file_id", p.FileID)
			return false
		}
		e.resulted[p.FileID] = struct{}{}
	case PartialPayload:
		if len(e.backlog)+len(e.out) >= cap(e.out) {
			e.dropped.Add(1)
			e.logger.Debug("stream.partial.dropped", "run_id", e.runID, "file_id", p.FileID)
			return false
		}
	}

	e.seq++
	e.backlog = append(e.backlog, Event{
		Seq:       e.seq,
		Type:      typ,
		RunID:     e.runID,
		Timestamp: e.now().UTC(),
		Payload:   payload,
	})
	if typ.Terminal() {
		e.closed = true
	}
	e.signal()
	return true
}

// Close stops accepting events; the backlog still drains to the consumer.
func (e *Emitter) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.signal()
}

// Cancel discards the backlog and closes the output channel promptly.
func (e *Emitter) Cancel() {
	e.mu.Lock()
	e.closed = true
	e.backlog = nil
	e.mu.Unlock()
	e.stopOnce.Do(func() { close(e.stop) })
}

// Done is closed once the output channel has been closed.
func (e *Emitter) Done() <-chan struct{} {
	return e.done
}

// Dropped counts partial events discarded under backpressure.
func (e *Emitter) Dropped() int64 {
	return e.dropped.Load()
}

func (e *Emitter) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Emitter) pump() {
	defer close(e.done)
	defer close(e.out)
	for {
		e.mu.Lock()
		if len(e.backlog) == 0 {
			closed := e.closed
			e.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-e.wake:
			case <-e.stop:
				return
			}
			continue
		}
		ev := e.backlog[0]
		e.backlog[0] = Event{}
		e.backlog = e.backlog[1:]
		e.mu.Unlock()

		select {
		case e.out <- ev:
		case <-e.stop:
			return
		}
	}
}
