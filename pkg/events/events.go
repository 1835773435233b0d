package events

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
)

type EventType string

const (
	EventTypeStart             EventType = "start"
	EventTypePartialCompletion EventType = "partial"
	EventTypeFinal             EventType = "final"
	EventTypeInterrupt         EventType = "interrupt"
	EventTypeError             EventType = "error"

	// EventTypeSaved is published once a conversation was persisted.
	EventTypeSaved EventType = "saved"
)

// TopicChat is the default topic streaming events are published on.
const TopicChat = "chat"

type Event interface {
	Type() EventType
	Metadata() EventMetadata
	Payload() []byte
}

// EventMetadata identifies the message an event belongs to.
type EventMetadata struct {
	ConversationID string `json:"conversation_id,omitempty"`
	MessageID      string `json:"message_id,omitempty"`
	ParentID       string `json:"parent_id,omitempty"`
	Model          string `json:"model,omitempty"`
}

func (em EventMetadata) MarshalZerologObject(e *zerolog.Event) {
	e.Str("conversation_id", em.ConversationID)
	e.Str("message_id", em.MessageID)
	if em.ParentID != "" {
		e.Str("parent_id", em.ParentID)
	}
	if em.Model != "" {
		e.Str("model", em.Model)
	}
}

type EventImpl struct {
	Type_     EventType     `json:"type"`
	Metadata_ EventMetadata `json:"meta,omitempty"`

	// raw payload when the event was decoded by NewEventFromJson
	payload []byte
}

func (e *EventImpl) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", string(e.Type_))
	ev.Object("meta", e.Metadata_)
}

func (e *EventImpl) Type() EventType {
	return e.Type_
}

func (e *EventImpl) Metadata() EventMetadata {
	return e.Metadata_
}

func (e *EventImpl) Payload() []byte {
	return e.payload
}

var _ Event = &EventImpl{}

type EventPartialCompletionStart struct {
	EventImpl
}

func NewStartEvent(metadata EventMetadata) *EventPartialCompletionStart {
	return &EventPartialCompletionStart{
		EventImpl: EventImpl{Type_: EventTypeStart, Metadata_: metadata},
	}
}

type EventPartialCompletion struct {
	EventImpl
	Delta string `json:"delta"`
	// Completion is the full text received so far.
	Completion string `json:"completion"`
}

func NewPartialCompletionEvent(metadata EventMetadata, delta string, completion string) *EventPartialCompletion {
	return &EventPartialCompletion{
		EventImpl:  EventImpl{Type_: EventTypePartialCompletion, Metadata_: metadata},
		Delta:      delta,
		Completion: completion,
	}
}

type EventFinal struct {
	EventImpl
	Text string `json:"text"`
}

func NewFinalEvent(metadata EventMetadata, text string) *EventFinal {
	return &EventFinal{
		EventImpl: EventImpl{Type_: EventTypeFinal, Metadata_: metadata},
		Text:      text,
	}
}

// EventInterrupt is published when a stream was cancelled. Text is what had
// been received up to that point and is kept on the message.
type EventInterrupt struct {
	EventImpl
	Text string `json:"text"`
}

func NewInterruptEvent(metadata EventMetadata, text string) *EventInterrupt {
	return &EventInterrupt{
		EventImpl: EventImpl{Type_: EventTypeInterrupt, Metadata_: metadata},
		Text:      text,
	}
}

type EventError struct {
	EventImpl
	ErrorString string `json:"error_string"`
	Text        string `json:"text,omitempty"`
}

func NewErrorEvent(metadata EventMetadata, err error, text string) *EventError {
	return &EventError{
		EventImpl:   EventImpl{Type_: EventTypeError, Metadata_: metadata},
		ErrorString: err.Error(),
		Text:        text,
	}
}

type EventSaved struct {
	EventImpl
	Conversations int `json:"conversations"`
}

func NewSavedEvent(metadata EventMetadata, conversations int) *EventSaved {
	return &EventSaved{
		EventImpl:     EventImpl{Type_: EventTypeSaved, Metadata_: metadata},
		Conversations: conversations,
	}
}

var (
	_ Event = &EventPartialCompletionStart{}
	_ Event = &EventPartialCompletion{}
	_ Event = &EventFinal{}
	_ Event = &EventInterrupt{}
	_ Event = &EventError{}
	_ Event = &EventSaved{}
)

func ToTypedEvent[T any](e Event) (*T, bool) {
	var ret *T
	err := json.Unmarshal(e.Payload(), &ret)
	if err != nil || ret == nil {
		return nil, false
	}
	return ret, true
}

// NewEventFromJson decodes a serialized event into its typed struct.
func NewEventFromJson(b []byte) (Event, error) {
	var e *EventImpl
	err := json.Unmarshal(b, &e)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("empty event payload")
	}
	e.payload = b

	var ret Event
	ok := false
	switch e.Type_ {
	case EventTypeStart:
		ret, ok = typed[EventPartialCompletionStart](e)
	case EventTypePartialCompletion:
		ret, ok = typed[EventPartialCompletion](e)
	case EventTypeFinal:
		ret, ok = typed[EventFinal](e)
	case EventTypeInterrupt:
		ret, ok = typed[EventInterrupt](e)
	case EventTypeError:
		ret, ok = typed[EventError](e)
	case EventTypeSaved:
		ret, ok = typed[EventSaved](e)
	default:
		return e, nil
	}
	if !ok {
		return nil, fmt.Errorf("could not cast event to %s", e.Type_)
	}
	return ret, nil
}

type payloadSetter interface {
	setPayload(b []byte)
}

func (e *EventImpl) setPayload(b []byte) {
	e.payload = b
}

func typed[T any](e *EventImpl) (Event, bool) {
	ret, ok := ToTypedEvent[T](e)
	if !ok {
		return nil, false
	}
	ev, ok := any(ret).(Event)
	if !ok {
		return nil, false
	}
	if s, ok := ev.(payloadSetter); ok {
		s.setPayload(e.payload)
	}
	return ev, true
}
