package domain

import "fmt"

// ValidationError marks a business-rule violation. It is surfaced to the
// caller and never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// Validationf builds a ValidationError with a formatted reason.
func Validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// CorruptStreamError marks a stream that cannot be replayed; an unknown or
// undecodable event type requires operator intervention.
type CorruptStreamError struct {
	StreamID  string
	Version   int64
	EventType string
}

func (e *CorruptStreamError) Error() string {
	return fmt.Sprintf("corrupt stream %s: unreplayable event type %q at version %d", e.StreamID, e.EventType, e.Version)
}
