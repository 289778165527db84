package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
)

// Router picks a provider per batch from the model id prefix of its context.
type Router struct {
	routes   []route
	fallback BatchExtractor
}

type route struct {
	prefix    string
	extractor BatchExtractor
}

func NewRouter(fallback BatchExtractor) *Router {
	return &Router{fallback: fallback}
}

// Route sends models starting with prefix to ext. Longer prefixes win.
func (r *Router) Route(prefix string, ext BatchExtractor) *Router {
	r.routes = append(r.routes, route{prefix: strings.ToLower(prefix), extractor: ext})
	return r
}

func (r *Router) resolve(modelID string) (BatchExtractor, error) {
	model := strings.ToLower(modelID)
	var best BatchExtractor
	bestLen := -1
	for _, rt := range r.routes {
		if strings.HasPrefix(model, rt.prefix) && len(rt.prefix) > bestLen {
			best, bestLen = rt.extractor, len(rt.prefix)
		}
	}
	if best != nil {
		return best, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("%w: no provider for model %q", common.ErrInvalidContext, modelID)
}

func (r *Router) ExtractBatch(ctx context.Context, pc entity.ProcessingContext, reqs []Request) ([]Outcome, error) {
	ext, err := r.resolve(pc.ModelID())
	if err != nil {
		return nil, err
	}
	return ext.ExtractBatch(ctx, pc, reqs)
}

// ExtractBatchPartial forwards to providers that support partial results.
func (r *Router) ExtractBatchPartial(ctx context.Context, pc entity.ProcessingContext, reqs []Request, onPartial PartialFunc) ([]Outcome, error) {
	ext, err := r.resolve(pc.ModelID())
	if err != nil {
		return nil, err
	}
	if p, ok := ext.(PartialExtractor); ok {
		return p.ExtractBatchPartial(ctx, pc, reqs, onPartial)
	}
	return ext.ExtractBatch(ctx, pc, reqs)
}
