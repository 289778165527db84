package batch

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docextract/internal/cache"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
)

// ItemState is the per-item lifecycle: queued → batched → dispatched → completed | failed.
type ItemState int32

const (
	StateQueued ItemState = iota
	StateBatched
	StateDispatched
	StateCompleted
	StateFailed
)

func (s ItemState) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateBatched:
		return "batched"
	case StateDispatched:
		return "dispatched"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("ItemState(%d)", int32(s))
	}
}

func (s ItemState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Item is one file's pending extraction. Its processing context is fixed at
// construction and cannot be reassigned.
type Item struct {
	ID         string
	Filename   string
	Content    string
	EnqueuedAt time.Time

	pc          entity.ProcessingContext
	fingerprint string
	state       atomic.Int32
	owner       bool // holds the cache claim for fingerprint
	queuedAt    time.Time
	run         *Run
}

// NewItem builds an item bound to pc. A zero context is rejected.
func NewItem(id, filename, content string, pc entity.ProcessingContext) (*Item, error) {
	if pc.IsZero() {
		return nil, fmt.Errorf("%w: item %q has no processing context", common.ErrInvalidContext, filename)
	}
	if strings.TrimSpace(id) == "" {
		id = uuid.NewString()
	}
	return &Item{
		ID:          id,
		Filename:    filename,
		Content:     content,
		EnqueuedAt:  time.Now(),
		pc:          pc,
		fingerprint: cache.Fingerprint(content, pc),
	}, nil
}

func (i *Item) Context() entity.ProcessingContext { return i.pc }
func (i *Item) Fingerprint() string               { return i.fingerprint }
func (i *Item) State() ItemState                  { return ItemState(i.state.Load()) }

func (i *Item) transition(from, to ItemState) bool {
	return i.state.CompareAndSwap(int32(from), int32(to))
}

// finish moves the item to a terminal state from any non-terminal one.
func (i *Item) finish(to ItemState) bool {
	for {
		cur := ItemState(i.state.Load())
		if cur.Terminal() {
			return false
		}
		if i.state.CompareAndSwap(int32(cur), int32(to)) {
			return true
		}
	}
}

// Batch is a non-empty set of items sharing one context.
type Batch struct {
	ID        string
	Context   entity.ProcessingContext
	Items     []*Item
	CreatedAt time.Time
}

// Result is the terminal outcome for one item.
type Result struct {
	Item     *Item
	Data     json.RawMessage
	Model    string
	CacheHit bool
	Duration time.Duration
	Err      error
}

func (r Result) OK() bool { return r.Err == nil }
