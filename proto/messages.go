package proto

import (
	"encoding/json"
	"time"
)

// File is one raw document of a run.
type File struct {
	Filename string `json:"filename"`
	Data     []byte `json:"data"`
}

type SubmitRunRequest struct {
	SchemaKey    string  `json:"schema_key"`
	Instructions string  `json:"instructions,omitempty"`
	ModelID      string  `json:"model_id,omitempty"`
	Files        []*File `json:"files"`
}

// ReExtractRequest leaves Instructions nil to inherit those of version 1.
type ReExtractRequest struct {
	SessionID    string   `json:"session_id"`
	ModelID      string   `json:"model_id"`
	Instructions *string  `json:"instructions,omitempty"`
	FileIDs      []string `json:"file_ids,omitempty"`
}

// RunEvent mirrors one event of a run stream. Payload is the JSON encoding
// of the typed payload named by Type.
type RunEvent struct {
	Seq       int64           `json:"seq"`
	Type      string          `json:"type"`
	RunID     string          `json:"run_id"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type ListVersionsRequest struct {
	SessionID string `json:"session_id"`
}

type Version struct {
	ID           string     `json:"id"`
	Number       int32      `json:"version_number"`
	ModelID      string     `json:"model_id"`
	Instructions string     `json:"instructions,omitempty"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

type ListVersionsResponse struct {
	SessionID string     `json:"session_id"`
	Versions  []*Version `json:"versions"`
}

// CompareRequest diffs VersionA against VersionB. FileID is optional.
type CompareRequest struct {
	SessionID string `json:"session_id"`
	VersionA  int32  `json:"version_a"`
	VersionB  int32  `json:"version_b"`
	FileID    string `json:"file_id,omitempty"`
}

type FieldDiff struct {
	Path       string   `json:"path"`
	Status     string   `json:"status"`
	Kind       string   `json:"kind,omitempty"`
	A          any      `json:"a,omitempty"`
	B          any      `json:"b,omitempty"`
	Similarity *float64 `json:"similarity,omitempty"`
}

type DiffSummary struct {
	Same       int32 `json:"same"`
	Different  int32 `json:"different"`
	Formatting int32 `json:"formatting"`
	MissingInA int32 `json:"missing_in_a"`
	MissingInB int32 `json:"missing_in_b"`
}

type FileDiff struct {
	FileID   string       `json:"file_id"`
	Filename string       `json:"filename"`
	ErrorA   string       `json:"error_a,omitempty"`
	ErrorB   string       `json:"error_b,omitempty"`
	Fields   []*FieldDiff `json:"fields"`
	Summary  *DiffSummary `json:"summary"`
}

type CompareResponse struct {
	SessionID string      `json:"session_id"`
	VersionA  int32       `json:"version_a"`
	VersionB  int32       `json:"version_b"`
	Files     []*FileDiff `json:"files"`
}

type CancelRunRequest struct {
	RunID string `json:"run_id"`
}

type CancelRunResponse struct {
	RunID     string `json:"run_id"`
	Cancelled bool   `json:"cancelled"`
}
