package openai

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/joseph-ayodele/docextract/internal/llm"
)

// Config for the OpenAI client.
type Config struct {
	APIKey          string        // if empty, falls back to env OPENAI_API_KEY
	BaseURL         string        // default https://api.openai.com/v1
	Temperature     float32       // 0..2
	Timeout         time.Duration // http client timeout
	LenientOptional bool
}

// Client calls chat/completions. The model of every call is taken from the
// processing context of the batch, never from the client configuration.
type Client struct {
	cfg        Config
	httpClient *http.Client
	decoder    llm.Decoder
	log        *slog.Logger
}

func NewClient(cfg Config, registry *llm.Registry, logger *slog.Logger) *Client {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
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
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		decoder:    llm.Decoder{Registry: registry, Lenient: cfg.LenientOptional, Logger: logger},
		log:        logger,
	}
}
