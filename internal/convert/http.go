package convert

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/llm"
)

type convertRequest struct {
	Filename string `json:"filename"`
	Data     string `json:"data"` // base64
}

type convertResponse struct {
	Content string `json:"content"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// HTTPConverter delegates binary formats to an external conversion service.
type HTTPConverter struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

func NewHTTPConverter(cfg common.ConvertConfig, logger *slog.Logger) *HTTPConverter {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &HTTPConverter{
		url:    cfg.ServiceURL,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

func (c *HTTPConverter) Supports(doc Document) bool {
	return c.url != "" && constants.MapExtToFormat(doc.Ext()) == constants.FormatBinary
}

func (c *HTTPConverter) Convert(ctx context.Context, doc Document) (string, error) {
	start := time.Now()
	raw, err := llm.SendJSON(ctx, c.client, c.url, convertRequest{
		Filename: doc.Filename,
		Data:     base64.StdEncoding.EncodeToString(doc.Data),
	}, nil, c.logger)
	if err != nil {
		c.logger.Error("convert.http.failed", "filename", doc.Filename, "error", err)
		return "", fmt.Errorf("%w: %s: %w", common.ErrConversionFailure, doc.Filename, err)
	}

	var resp convertResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("%w: %s: decode response: %w", common.ErrConversionFailure, doc.Filename, err)
	}
	if !resp.Success {
		return "", fmt.Errorf("%w: %s: %s", common.ErrConversionFailure, doc.Filename, resp.Error)
	}
	c.logger.Info("convert.http.ok", "filename", doc.Filename, "chars", len(resp.Content),
		"elapsed_ms", time.Since(start).Milliseconds())
	return resp.Content, nil
}

// New builds the default chain: text passthrough, then the conversion service
// when one is configured.
func New(cfg common.ConvertConfig, logger *slog.Logger) Chain {
	ch := Chain{NewTextConverter(logger)}
	if cfg.ServiceURL != "" {
		ch = append(ch, NewHTTPConverter(cfg, logger))
	}
	return ch
}
