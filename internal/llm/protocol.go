package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
)

type batchResult struct {
	Index *int            `json:"index"`
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

type batchResponse struct {
	Results []batchResult `json:"results"`
}

// Decoder turns a raw batch completion into per-item outcomes validated
// against the context's schema.
type Decoder struct {
	Registry *Registry
	Lenient  bool
	Logger   *slog.Logger
}

// Decode parses content for n requests. A response that is not a batch
// envelope is a transport-level failure; anything wrong with a single element
// becomes that item's ErrExtractionSemantic.
func (d Decoder) Decode(pc entity.ProcessingContext, content []byte, n int, model string) ([]Outcome, error) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	schema, err := d.Registry.Lookup(pc.SchemaKey())
	if err != nil {
		return nil, err
	}

	var resp batchResponse
	if err := json.Unmarshal(StripCodeFence(content), &resp); err != nil {
		return nil, fmt.Errorf("%w: decode batch envelope: %v", common.ErrExtractionTransport, err)
	}
	if n == 1 && len(resp.Results) == 0 {
		// single-document calls sometimes come back as the bare data object
		resp.Results = append(resp.Results, batchResult{Index: new(int), Data: StripCodeFence(content)})
	}

	outcomes := make([]Outcome, n)
	seen := make([]bool, n)
	for _, r := range resp.Results {
		if r.Index == nil || *r.Index < 0 || *r.Index >= n || seen[*r.Index] {
			logger.Warn("llm.extract.bad_index", "model", model, "index", r.Index)
			continue
		}
		i := *r.Index
		seen[i] = true
		out := Outcome{Raw: r.Data, Model: model}
		switch {
		case r.Error != "":
			out.Err = fmt.Errorf("%w: %s", common.ErrExtractionSemantic, r.Error)
		case len(r.Data) == 0 || string(r.Data) == "null":
			out.Err = fmt.Errorf("%w: empty data", common.ErrExtractionSemantic)
		default:
			out.Data, out.Err = d.validate(pc, schema, r.Data, logger)
		}
		outcomes[i] = out
	}
	for i := range outcomes {
		if !seen[i] {
			outcomes[i] = Outcome{Model: model, Err: fmt.Errorf("%w: no result for document %d", common.ErrExtractionSemantic, i)}
		}
	}
	return outcomes, nil
}

func (d Decoder) validate(pc entity.ProcessingContext, schema map[string]any, data json.RawMessage, logger *slog.Logger) (json.RawMessage, error) {
	err := d.Registry.Validate(pc.SchemaKey(), data)
	if err == nil {
		return data, nil
	}
	if !d.Lenient {
		return nil, fmt.Errorf("%w: %v", common.ErrExtractionSemantic, err)
	}
	cleaned, dropped, sErr := SanitizeOptionalFields(data, schema, logger)
	if sErr != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrExtractionSemantic, sErr)
	}
	if vErr := d.Registry.Validate(pc.SchemaKey(), cleaned); vErr != nil {
		logger.Warn("llm.extract.schema_validation_failed", "schema", pc.SchemaKey(), "error", vErr)
		return nil, fmt.Errorf("%w: %v", common.ErrExtractionSemantic, vErr)
	}
	logger.Info("llm.extract.lenient_sanitize_applied", "schema", pc.SchemaKey(), "dropped", len(dropped))
	return cleaned, nil
}

// CompletedResults returns the elements of a possibly truncated batch envelope
// that have been fully received so far, in arrival order.
func CompletedResults(partial []byte) []CompletedResult {
	i := bytes.Index(partial, []byte(`"results"`))
	if i < 0 {
		return nil
	}
	j := bytes.IndexByte(partial[i:], '[')
	if j < 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(partial[i+j:]))
	if _, err := dec.Token(); err != nil {
		return nil
	}
	var out []CompletedResult
	for dec.More() {
		var r batchResult
		if err := dec.Decode(&r); err != nil {
			break
		}
		if r.Index != nil && len(r.Data) > 0 {
			out = append(out, CompletedResult{Index: *r.Index, Data: r.Data})
		}
	}
	return out
}

// CompletedResult is one element reported by CompletedResults.
type CompletedResult struct {
	Index int
	Data  json.RawMessage
}
