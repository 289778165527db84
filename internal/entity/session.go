package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docextract/constants"
)

// Session represents an extraction session for data transfer between layers.
type Session struct {
	ID           uuid.UUID               `json:"id"`
	SchemaKey    string                  `json:"schema_key"`
	Instructions string                  `json:"instructions,omitempty"`
	FileCount    int                     `json:"file_count"`
	Status       constants.SessionStatus `json:"status"`
	CreatedAt    time.Time               `json:"created_at"`
	ExpiresAt    time.Time               `json:"expires_at"`
}

// Expired reports whether new work against the session must be rejected.
func (s *Session) Expired(now time.Time) bool {
	return s.Status == constants.SessionStatusExpired || !now.Before(s.ExpiresAt)
}

// Version is one model run over a session's files.
type Version struct {
	ID           uuid.UUID               `json:"id"`
	SessionID    uuid.UUID               `json:"session_id"`
	Number       int                     `json:"version_number"`
	ModelID      string                  `json:"model_id"`
	Instructions string                  `json:"instructions,omitempty"`
	Status       constants.VersionStatus `json:"status"`
	CreatedAt    time.Time               `json:"created_at"`
	CompletedAt  *time.Time              `json:"completed_at,omitempty"`
}

// SessionFile is one file of a session together with its cached converted content.
type SessionFile struct {
	ID              uuid.UUID `json:"id"`
	SessionID       uuid.UUID `json:"session_id"`
	Filename        string    `json:"filename"`
	Content         string    `json:"-"`
	ConversionError string    `json:"conversion_error,omitempty"`
	Purged          bool      `json:"purged"`
	CreatedAt       time.Time `json:"created_at"`
}

// Converted reports whether the upstream conversion produced content.
func (f *SessionFile) Converted() bool {
	return f.ConversionError == ""
}

// FileVersionResult is one file's outcome within a version.
type FileVersionResult struct {
	ID             uuid.UUID              `json:"id"`
	FileID         uuid.UUID              `json:"file_id"`
	VersionID      uuid.UUID              `json:"version_id"`
	Filename       string                 `json:"filename"`
	Status         constants.ResultStatus `json:"status"`
	Data           json.RawMessage        `json:"structured_data,omitempty"`
	Error          string                 `json:"error,omitempty"`
	Model          string                 `json:"model,omitempty"`
	CacheHit       bool                   `json:"cache_hit"`
	ProcessingTime time.Duration          `json:"processing_time"`
	CreatedAt      time.Time              `json:"created_at"`
}
