// Package window selects the part of a conversation that fits into a model's
// context window.
package window

import (
	"github.com/go-go-golems/branchchat/pkg/conversation"
	"github.com/go-go-golems/branchchat/pkg/tokens"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Limits is the token budget of a single request. The kept messages, the
// StartOffset (tokens spent elsewhere, e.g. the system prompt) and the
// ResponseTokenLimit reserved for the answer must fit into TotalTokenLimit.
type Limits struct {
	TotalTokenLimit    int
	ResponseTokenLimit int
	StartOffset        int
}

// Fit keeps the longest suffix of messages that fits into limits. Messages are
// taken from the most recent backwards and the scan stops at the first message
// that would exceed the budget, so the result is always contiguous and in the
// original order. An empty result means not even the last message fits.
//
// A tokenizer is acquired from f for the duration of the call and released
// before returning.
func Fit(messages []conversation.Message, f tokens.Factory, limits Limits) ([]conversation.Message, error) {
	tok, err := f.NewTokenizer()
	if err != nil {
		return nil, errors.Wrap(err, "could not acquire tokenizer")
	}
	defer tok.Release()

	tokenCount := limits.StartOffset
	start := len(messages)
	for i := len(messages) - 1; i >= 0; i-- {
		ids, err := tok.Encode(messages[i].Content)
		if err != nil {
			return nil, errors.Wrapf(err, "could not encode message %d", i)
		}
		if tokenCount+len(ids)+limits.ResponseTokenLimit > limits.TotalTokenLimit {
			break
		}
		tokenCount += len(ids)
		start = i
	}

	log.Debug().
		Int("messages", len(messages)).
		Int("kept", len(messages)-start).
		Int("token_count", tokenCount).
		Int("total_token_limit", limits.TotalTokenLimit).
		Int("response_token_limit", limits.ResponseTokenLimit).
		Msg("fitted messages into context window")

	ret := make([]conversation.Message, len(messages)-start)
	copy(ret, messages[start:])
	return ret, nil
}

// Cost returns the total token count of the messages' contents.
func Cost(messages []conversation.Message, f tokens.Factory) (int, error) {
	tok, err := f.NewTokenizer()
	if err != nil {
		return 0, errors.Wrap(err, "could not acquire tokenizer")
	}
	defer tok.Release()

	total := 0
	for i, m := range messages {
		ids, err := tok.Encode(m.Content)
		if err != nil {
			return 0, errors.Wrapf(err, "could not encode message %d", i)
		}
		total += len(ids)
	}
	return total, nil
}
