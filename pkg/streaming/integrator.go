// Package streaming writes an in-flight model response into a conversation as
// it arrives.
//
// An Integrator pulls text chunks from a Source, keeps the accumulated text
// and overwrites the Target's content with it after every chunk. The
// Target therefore always holds the full text received so far, and whatever
// arrived before a cancellation or a transport failure stays in place.
package streaming

import (
	"context"
	"io"
	"strings"

	"github.com/go-go-golems/branchchat/pkg/events"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type State string

const (
	StateIdle      State = "idle"
	StateStreaming State = "streaming"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

// ErrStreamTransport wraps any error reported by a Source other than the end
// of the stream or a cancellation.
var ErrStreamTransport = errors.New("stream transport error")

// TransportError carries the cause of a failed stream. It matches
// ErrStreamTransport with errors.Is and unwraps to the cause.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return ErrStreamTransport.Error() + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	return target == ErrStreamTransport
}

// Source yields successive text chunks. Recv returns io.EOF once the stream
// has ended.
type Source interface {
	Recv() (string, error)
	Close()
}

// Target receives absolute content updates.
type Target interface {
	SetContent(text string) error
}

type Result struct {
	State State
	Text  string
	// Chunks is the number of chunks applied to the target.
	Chunks int
}

type Integrator struct {
	onUpdate func(text string)
	sink     events.EventSink
	metadata events.EventMetadata
}

type Option func(*Integrator)

// WithOnUpdate registers a callback invoked with the full text after every
// applied chunk.
func WithOnUpdate(f func(text string)) Option {
	return func(i *Integrator) {
		i.onUpdate = f
	}
}

// WithPublisher publishes start, partial, final, interrupt and error events
// for the stream, tagged with metadata.
func WithPublisher(sink events.EventSink, metadata events.EventMetadata) Option {
	return func(i *Integrator) {
		i.sink = sink
		i.metadata = metadata
	}
}

func NewIntegrator(options ...Option) *Integrator {
	ret := &Integrator{}
	for _, o := range options {
		o(ret)
	}
	return ret
}

func (i *Integrator) publish(e events.Event) {
	if i.sink == nil {
		return
	}
	if err := i.sink.PublishEvent(e); err != nil {
		log.Warn().Err(err).Str("event_type", string(e.Type())).Msg("failed to publish stream event")
	}
}

// Run consumes source until it ends, fails or ctx is cancelled. The source is
// always closed before Run returns.
//
// Cancellation is checked before each Recv, so a chunk already received is
// still applied. A cancelled stream is not an error: the returned Result has
// StateCancelled and the text received so far. A transport failure returns
// the Result together with an error wrapping ErrStreamTransport.
func (i *Integrator) Run(ctx context.Context, target Target, source Source) (*Result, error) {
	defer source.Close()

	var sb strings.Builder
	result := &Result{State: StateStreaming}
	i.publish(events.NewStartEvent(i.metadata))

	for {
		if ctx.Err() != nil {
			return i.cancelled(result, sb.String()), nil
		}

		chunk, err := source.Recv()
		if errors.Is(err, io.EOF) {
			result.State = StateCompleted
			result.Text = sb.String()
			log.Debug().Int("chunks", result.Chunks).Int("length", len(result.Text)).Msg("stream completed")
			i.publish(events.NewFinalEvent(i.metadata, result.Text))
			return result, nil
		}
		if err != nil {
			if errors.Is(err, context.Canceled) || (ctx.Err() != nil && errors.Is(err, ctx.Err())) {
				return i.cancelled(result, sb.String()), nil
			}
			result.State = StateFailed
			result.Text = sb.String()
			log.Warn().Err(err).Int("chunks", result.Chunks).Msg("stream failed")
			i.publish(events.NewErrorEvent(i.metadata, err, result.Text))
			return result, &TransportError{Err: err}
		}

		prev := sb.String()
		sb.WriteString(chunk)
		text := sb.String()
		if err := target.SetContent(text); err != nil {
			result.State = StateFailed
			result.Text = prev
			i.publish(events.NewErrorEvent(i.metadata, err, prev))
			return result, errors.Wrap(err, "could not update stream target")
		}
		result.Chunks++
		log.Trace().Int("chunk", result.Chunks).Str("delta", chunk).Msg("applied stream chunk")

		if i.onUpdate != nil {
			i.onUpdate(text)
		}
		i.publish(events.NewPartialCompletionEvent(i.metadata, chunk, text))
	}
}

func (i *Integrator) cancelled(result *Result, text string) *Result {
	result.State = StateCancelled
	result.Text = text
	log.Debug().Int("chunks", result.Chunks).Msg("stream cancelled")
	i.publish(events.NewInterruptEvent(i.metadata, text))
	return result
}
