package constants

// EventType names one kind of event on a run stream. The values are part of
// the wire contract for SSE and gRPC consumers.
type EventType string

const (
	EventInit     EventType = "init"
	EventPhase    EventType = "phase"
	EventProgress EventType = "progress"
	EventPartial  EventType = "partial"
	EventResult   EventType = "result"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Terminal reports whether the event closes the stream.
func (t EventType) Terminal() bool {
	return t == EventComplete || t == EventError
}

// Phase names and phase statuses carried by phase events.
const (
	PhaseConversion = "conversion"
	PhaseAnalysis   = "analysis"

	PhaseStarted   = "started"
	PhaseCompleted = "completed"
)
