package constants

// SessionStatus is the lifecycle status stored on extraction_sessions.
type SessionStatus string

const (
	SessionStatusActive  SessionStatus = "active"
	SessionStatusExpired SessionStatus = "expired" // set by the janitor sweep only
)

// VersionStatus is the lifecycle status stored on extraction_versions.
type VersionStatus string

const (
	VersionStatusProcessing VersionStatus = "processing"
	VersionStatusCompleted  VersionStatus = "completed"
	VersionStatusFailed     VersionStatus = "failed" // run aborted or cancelled
)

// ResultStatus is the terminal outcome of one file within a run.
type ResultStatus string

const (
	ResultStatusSuccess ResultStatus = "success"
	ResultStatusError   ResultStatus = "error"
)

// Terminal reports whether a version no longer accepts results.
func (s VersionStatus) Terminal() bool {
	return s == VersionStatusCompleted || s == VersionStatusFailed
}
