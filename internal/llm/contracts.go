package llm

import (
	"context"
	"encoding/json"

	"github.com/joseph-ayodele/docextract/internal/entity"
)

// Request is one document inside a batch call.
type Request struct {
	ID       string
	Filename string
	Content  string
}

// Outcome is the per-item result of a batch call, in input order.
// Err is set for item-level failures (usually ErrExtractionSemantic).
type Outcome struct {
	Data  json.RawMessage
	Raw   []byte
	Model string
	Err   error
}

// BatchExtractor is the interface the scheduler depends on. A returned error
// fails the whole call: transport errors are retried, errors wrapping
// common.ErrInvalidContext abort the run. On success len(outcomes) == len(reqs).
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, pc entity.ProcessingContext, reqs []Request) ([]Outcome, error)
}

// PartialFunc receives early fields for reqs[index] while a call is running.
type PartialFunc func(index int, fields json.RawMessage)

// PartialExtractor is implemented by extractors that can report fields before
// the call completes.
type PartialExtractor interface {
	BatchExtractor
	ExtractBatchPartial(ctx context.Context, pc entity.ProcessingContext, reqs []Request, onPartial PartialFunc) ([]Outcome, error)
}

// ExtractorFunc adapts a function to BatchExtractor.
type ExtractorFunc func(ctx context.Context, pc entity.ProcessingContext, reqs []Request) ([]Outcome, error)

func (f ExtractorFunc) ExtractBatch(ctx context.Context, pc entity.ProcessingContext, reqs []Request) ([]Outcome, error) {
	return f(ctx, pc, reqs)
}
