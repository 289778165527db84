package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
	"github.com/joseph-ayodele/docextract/internal/llm"
)

var _ llm.PartialExtractor = (*Client)(nil)

// ExtractBatchPartial streams the completion and reports each document's
// fields as soon as its element of the results array is complete. The final
// outcomes are validated exactly like ExtractBatch.
func (c *Client) ExtractBatchPartial(ctx context.Context, pc entity.ProcessingContext, reqs []llm.Request, onPartial llm.PartialFunc) ([]llm.Outcome, error) {
	rid := uuid.New().String()
	start := time.Now()
	model := pc.ModelID()

	schema, err := c.decoder.Registry.Lookup(pc.SchemaKey())
	if err != nil {
		return nil, err
	}
	body := map[string]any{
		"model":           model,
		"temperature":     c.cfg.Temperature,
		"stream":          true,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": llm.BuildSystemPrompt(pc, schema)},
			{"role": "user", "content": llm.BuildBatchPrompt(reqs)},
		},
	}
	c.log.Info("llm.extract.stream_start", "req_id", rid, "model", model, "items", len(reqs))

	resp, err := c.openStream(ctx, body)
	if err != nil {
		c.log.Error("llm.extract.http_error", "req_id", rid, "model", model, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return nil, classify(err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			c.log.Warn("openai stream body close error", "error", err)
		}
	}(resp.Body)

	var content bytes.Buffer
	reported := 0
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}
		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(data), &chunk); err != nil || len(chunk.Choices) == 0 {
			continue
		}
		content.WriteString(chunk.Choices[0].Delta.Content)

		if onPartial != nil {
			done := llm.CompletedResults(content.Bytes())
			for ; reported < len(done); reported++ {
				if idx := done[reported].Index; idx >= 0 && idx < len(reqs) {
					onPartial(idx, done[reported].Data)
				}
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: read openai stream: %v", common.ErrExtractionTransport, err)
	}

	outcomes, err := c.decoder.Decode(pc, content.Bytes(), len(reqs), model)
	if err != nil {
		return nil, err
	}
	c.log.Info("llm.extract.ok", "req_id", rid, "model", model, "items", len(reqs), "partials", reported,
		"elapsed_ms", time.Since(start).Milliseconds())
	return outcomes, nil
}

func (c *Client) openStream(ctx context.Context, body map[string]any) (*http.Response, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai http error: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		buf := new(bytes.Buffer)
		_, _ = buf.ReadFrom(resp.Body)
		_ = resp.Body.Close()
		return nil, &llm.StatusError{Status: resp.StatusCode, Body: buf.String()}
	}
	return resp, nil
}
