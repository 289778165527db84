package stream

import (
	"encoding/json"
	"time"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/entity"
)

// Event is one entry of a run stream.
type Event struct {
	Seq       int64               `json:"seq"`
	Type      constants.EventType `json:"type"`
	RunID     string              `json:"run_id"`
	Timestamp time.Time           `json:"timestamp"`
	Payload   any                 `json:"payload"`
}

type InitPayload struct {
	Total         int                   `json:"total"`
	Context       entity.ContextSummary `json:"context"`
	SessionID     string                `json:"session_id,omitempty"`
	VersionID     string                `json:"version_id,omitempty"`
	VersionNumber int                   `json:"version_number,omitempty"`
}

type PhasePayload struct {
	Phase      string `json:"phase"`
	Status     string `json:"status"`
	DurationMS int64  `json:"duration_ms,omitempty"`
}

type ProgressPayload struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

type PartialPayload struct {
	FileID   string          `json:"file_id"`
	Filename string          `json:"filename"`
	Fields   json.RawMessage `json:"fields"`
}

type ResultPayload struct {
	FileID       string                 `json:"file_id"`
	Filename     string                 `json:"filename"`
	Status       constants.ResultStatus `json:"status"`
	Data         json.RawMessage        `json:"structured_data,omitempty"`
	Error        string                 `json:"error,omitempty"`
	ErrorCode    string                 `json:"error_code,omitempty"`
	Model        string                 `json:"model,omitempty"`
	CacheHit     bool                   `json:"cache_hit"`
	ProcessingMS int64                  `json:"processing_ms"`
}

type CompletePayload struct {
	Total      int   `json:"total"`
	Successful int   `json:"successful"`
	Failed     int   `json:"failed"`
	DurationMS int64 `json:"duration_ms"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
