// Package transport defines how a fitted conversation is sent to a language
// model. Implementations live in subpackages.
package transport

import (
	"context"

	"github.com/go-go-golems/branchchat/pkg/conversation"
	"github.com/go-go-golems/branchchat/pkg/streaming"
)

// Request is everything a model call needs. Messages is already fitted into
// the model's context window and does not include SystemPrompt.
type Request struct {
	Model        string
	SystemPrompt string
	Messages     []conversation.Message
	Temperature  float64
	MaxTokens    int
}

type Transport interface {
	// Stream starts a streaming completion. The returned source yields text
	// deltas and must be closed by the caller.
	Stream(ctx context.Context, req Request) (streaming.Source, error)
	// Complete returns the whole answer at once.
	Complete(ctx context.Context, req Request) (string, error)
}
