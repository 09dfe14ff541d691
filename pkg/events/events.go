package events

// Chat turn lifecycle events. A turn emits exactly one Start, zero or more
// Partial events while the reply streams in, and then either a Final or an
// Error event.

type EventType string

const (
	EventTypeStart             EventType = "start"
	EventTypePartialCompletion EventType = "partial"
	EventTypeFinal             EventType = "final"
	EventTypeError             EventType = "error"
)

// EventMetadata identifies the session and model a turn event belongs to.
type EventMetadata struct {
	SessionID string `json:"session_id,omitempty"`
	Model     string `json:"model,omitempty"`
}

type Event interface {
	Type() EventType
	Metadata() EventMetadata
}

type EventImpl struct {
	Type_     EventType     `json:"type"`
	Metadata_ EventMetadata `json:"meta"`
}

func (e *EventImpl) Type() EventType {
	return e.Type_
}

func (e *EventImpl) Metadata() EventMetadata {
	return e.Metadata_
}

var _ Event = (*EventImpl)(nil)

// EventStart marks the beginning of a turn, after the user message has been
// appended to the ledger.
type EventStart struct {
	EventImpl
	Prompt string `json:"prompt"`
}

func NewStartEvent(meta EventMetadata, prompt string) *EventStart {
	return &EventStart{
		EventImpl: EventImpl{Type_: EventTypeStart, Metadata_: meta},
		Prompt:    prompt,
	}
}

// EventPartialCompletion carries one streamed chunk plus the accumulated
// completion so far. Partial text never enters the ledger.
type EventPartialCompletion struct {
	EventImpl
	Delta      string `json:"delta"`
	Completion string `json:"completion"`
}

func NewPartialCompletionEvent(meta EventMetadata, delta string, completion string) *EventPartialCompletion {
	return &EventPartialCompletion{
		EventImpl:  EventImpl{Type_: EventTypePartialCompletion, Metadata_: meta},
		Delta:      delta,
		Completion: completion,
	}
}

// EventFinal carries the complete assistant reply.
type EventFinal struct {
	EventImpl
	Text string `json:"text"`
}

func NewFinalEvent(meta EventMetadata, text string) *EventFinal {
	return &EventFinal{
		EventImpl: EventImpl{Type_: EventTypeFinal, Metadata_: meta},
		Text:      text,
	}
}

// EventError marks a failed turn. The ledger has already been reverted to
// its pre-turn state by the time this is published.
type EventError struct {
	EventImpl
	ErrorString string `json:"error_string"`
}

func NewErrorEvent(meta EventMetadata, err error) *EventError {
	return &EventError{
		EventImpl:   EventImpl{Type_: EventTypeError, Metadata_: meta},
		ErrorString: err.Error(),
	}
}

var (
	_ Event = (*EventStart)(nil)
	_ Event = (*EventPartialCompletion)(nil)
	_ Event = (*EventFinal)(nil)
	_ Event = (*EventError)(nil)
)
