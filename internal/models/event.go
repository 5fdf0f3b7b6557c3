package models

import "time"

// EventType classifies asynchronous pipeline events
type EventType string

const (
	EventEndOfStream EventType = "end_of_stream"
	EventWarning     EventType = "warning"
	EventFatalError  EventType = "fatal_error"
)

// String returns the string representation of EventType
func (t EventType) String() string {
	return string(t)
}

// Event is surfaced to the pipeline owner. SourceIndex is -1 when the event
// is not tied to a single source.
type Event struct {
	Type        EventType `json:"type"`
	SourceIndex int       `json:"source_index"`
	Message     string    `json:"message"`
	Err         error     `json:"-"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewEvent builds an event stamped with the current time
func NewEvent(t EventType, sourceIndex int, msg string, err error) Event {
	return Event{
		Type:        t,
		SourceIndex: sourceIndex,
		Message:     msg,
		Err:         err,
		Timestamp:   time.Now(),
	}
}

// EventSink receives pipeline events. Implementations must not block.
type EventSink interface {
	Emit(Event)
}
