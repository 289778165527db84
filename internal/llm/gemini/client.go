// Package gemini implements llm.BatchExtractor on the Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
	"github.com/joseph-ayodele/docextract/internal/llm"
)

type Config struct {
	APIKey          string // if empty, falls back to env GEMINI_API_KEY
	Temperature     float32
	Timeout         time.Duration
	LenientOptional bool
}

type Client struct {
	client  *genai.Client
	cfg     Config
	decoder llm.Decoder
	log     *slog.Logger
}

var _ llm.BatchExtractor = (*Client)(nil)

// NewClient authenticates with the API key. Extra options are appended after
// it, e.g. a custom HTTP client.
func NewClient(ctx context.Context, cfg Config, registry *llm.Registry, logger *slog.Logger, opts ...option.ClientOption) (*Client, error) {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, common.NewAppError("CONFIG_ERROR", "GEMINI_API_KEY is required", common.ErrInvalidInput)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = llm.NewRegistry()
	}
	client, err := genai.NewClient(ctx, append([]option.ClientOption{option.WithAPIKey(cfg.APIKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &Client{
		client:  client,
		cfg:     cfg,
		decoder: llm.Decoder{Registry: registry, Lenient: cfg.LenientOptional, Logger: logger},
		log:     logger,
	}, nil
}

// ExtractBatch builds a model handle from the batch's own context on every
// call, so concurrent batches for different models never share settings.
func (c *Client) ExtractBatch(ctx context.Context, pc entity.ProcessingContext, reqs []llm.Request) ([]llm.Outcome, error) {
	rid := uuid.New().String()
	start := time.Now()

	schema, err := c.decoder.Registry.Lookup(pc.SchemaKey())
	if err != nil {
		return nil, err
	}

	model := c.client.GenerativeModel(pc.ModelID())
	model.SetTemperature(c.cfg.Temperature)
	model.ResponseMIMEType = "application/json"
	model.SystemInstruction = genai.NewUserContent(genai.Text(llm.BuildSystemPrompt(pc, schema)))

	c.log.Info("llm.gemini.start", "req_id", rid, "model", pc.ModelID(), "schema", pc.SchemaKey(), "items", len(reqs))

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	resp, err := model.GenerateContent(callCtx, genai.Text(llm.BuildBatchPrompt(reqs)))
	if err != nil {
		c.log.Error("llm.gemini.request_failed", "req_id", rid, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, classify(err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		c.log.Error("llm.gemini.no_candidates", "req_id", rid, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, fmt.Errorf("%w: gemini returned no candidates", common.ErrExtractionTransport)
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}

	outcomes, err := c.decoder.Decode(pc, []byte(sb.String()), len(reqs), pc.ModelID())
	if err != nil {
		return nil, err
	}
	c.log.Info("llm.gemini.ok", "req_id", rid, "model", pc.ModelID(), "items", len(reqs), "elapsed_ms", time.Since(start).Milliseconds())
	return outcomes, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func classify(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
		return fmt.Errorf("%w: %v", common.ErrInvalidContext, err)
	}
	return fmt.Errorf("%w: %v", common.ErrExtractionTransport, err)
}
