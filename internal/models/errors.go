package models

import "fmt"

// ConfigurationError reports invalid or missing source/detector configuration.
// It is fatal at startup.
type ConfigurationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %s: %v", e.Field, e.Reason, e.Err)
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// StreamFault reports a transport or decode failure of a single source
type StreamFault struct {
	SourceIndex int
	Address     string
	Attempt     int
	Err         error
}

func (e *StreamFault) Error() string {
	return fmt.Sprintf("stream fault on source %d (%s), attempt %d: %v", e.SourceIndex, e.Address, e.Attempt, e.Err)
}

func (e *StreamFault) Unwrap() error { return e.Err }

// AnnotationFault reports a degenerate detection geometry that was skipped
type AnnotationFault struct {
	SourceIndex int
	Seq         int64
	Rect        Rectangle
	Reason      string
}

func (e *AnnotationFault) Error() string {
	return fmt.Sprintf("annotation skipped on source %d frame %d rect (%d,%d,%d,%d): %s",
		e.SourceIndex, e.Seq, e.Rect.X1, e.Rect.Y1, e.Rect.X2, e.Rect.Y2, e.Reason)
}

// PipelineFault reports an internal processing error such as malformed batch metadata
type PipelineFault struct {
	Stage string
	Err   error
}

func (e *PipelineFault) Error() string {
	return fmt.Sprintf("pipeline fault in %s: %v", e.Stage, e.Err)
}

func (e *PipelineFault) Unwrap() error { return e.Err }
