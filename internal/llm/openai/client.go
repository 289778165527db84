package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
	"github.com/joseph-ayodele/docextract/internal/llm"
)

var _ llm.BatchExtractor = (*Client)(nil)

// ExtractBatch implements llm.BatchExtractor with one chat/completions call
// per batch using a JSON object response format.
func (c *Client) ExtractBatch(ctx context.Context, pc entity.ProcessingContext, reqs []llm.Request) ([]llm.Outcome, error) {
	rid := uuid.New().String()
	start := time.Now()
	model := pc.ModelID()

	c.log.Info("llm.extract.start",
		"req_id", rid,
		"model", model,
		"schema", pc.SchemaKey(),
		"items", len(reqs),
		"has_instructions", pc.Instructions() != "",
	)

	schema, err := c.decoder.Registry.Lookup(pc.SchemaKey())
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"model":           model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": llm.BuildSystemPrompt(pc, schema)},
			{"role": "user", "content": llm.BuildBatchPrompt(reqs)},
		},
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}
	raw, httpErr := llm.SendJSON(ctx, c.httpClient, endpoint, body, headers, c.log)
	if httpErr != nil {
		c.log.Error("llm.extract.http_error",
			"req_id", rid, "model", model, "error", httpErr,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, classify(httpErr)
	}

	var cc struct {
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		c.log.Error("llm.extract.decode_error",
			"req_id", rid, "error", err, "raw_bytes", len(raw),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, fmt.Errorf("%w: decode openai response: %v", common.ErrExtractionTransport, err)
	}
	if len(cc.Choices) == 0 {
		c.log.Error("llm.extract.no_choices",
			"req_id", rid, "raw_bytes", len(raw),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, fmt.Errorf("%w: no choices in openai response", common.ErrExtractionTransport)
	}

	outcomes, err := c.decoder.Decode(pc, []byte(cc.Choices[0].Message.Content), len(reqs), model)
	if err != nil {
		c.log.Error("llm.extract.envelope_invalid",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, err
	}

	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		}
	}
	c.log.Info("llm.extract.ok",
		"req_id", rid,
		"model", model,
		"served_by", cc.Model,
		"items", len(reqs),
		"failed", failed,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return outcomes, nil
}

// classify maps HTTP failures onto the extraction error taxonomy. A rejected
// model is a malformed context; everything else may succeed on retry.
func classify(err error) error {
	var se *llm.StatusError
	if errors.As(err, &se) {
		if (se.Status == http.StatusNotFound || se.Status == http.StatusBadRequest) && strings.Contains(se.Body, "model") {
			return fmt.Errorf("%w: %v", common.ErrInvalidContext, err)
		}
	}
	return fmt.Errorf("%w: %v", common.ErrExtractionTransport, err)
}
