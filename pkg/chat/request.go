package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-go-golems/branchchat/pkg/conversation"
	"github.com/go-go-golems/branchchat/pkg/tokens"
	"github.com/go-go-golems/branchchat/pkg/transport"
	"github.com/go-go-golems/branchchat/pkg/window"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	defaultNameLength = 30
	// NameResponseTokenLimit is the answer budget of a naming request.
	NameResponseTokenLimit = 50
)

const namePrompt = "Provide a suitable conversation topic less than 5 words for this conversation " +
	"between a human user and an AI assistant, focus more on the user's message:\n" +
	"Conversation: %s\n\nTopic:"

// DefaultNameFor derives a conversation name from its first user message:
// the first 30 characters, followed by "..." when the message is longer.
func DefaultNameFor(text string) string {
	runes := []rune(text)
	if len(runes) > defaultNameLength {
		return string(runes[:defaultNameLength]) + "..."
	}
	return text
}

// TokenizerFactory returns the tokenizer factory used to count tokens for
// model. Factories are cached per backend and encoding.
func (o *Orchestrator) TokenizerFactory(model string) (tokens.Factory, error) {
	if o.factory != nil {
		return o.factory, nil
	}

	backend := tokens.Backend("")
	encoding := tokens.EncodingForModel(model)
	if o.settings.Tokenizer != nil {
		backend = tokens.Backend(o.settings.Tokenizer.Backend)
		if o.settings.Tokenizer.Encoding != "" {
			encoding = o.settings.Tokenizer.Encoding
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	key := string(backend) + "/" + encoding
	if f, ok := o.factories[key]; ok {
		return f, nil
	}
	f, err := tokens.NewFactory(backend, encoding)
	if err != nil {
		return nil, err
	}
	o.factories[key] = f
	return f, nil
}

func (o *Orchestrator) systemPrompt(conv *conversation.Conversation) string {
	if conv.Prompt != "" {
		return conv.Prompt
	}
	return o.settings.Chat.SystemPrompt
}

// buildRequest fits the active path, minus the assistant message being
// answered, into the model's context window. The system prompt counts
// against the budget.
func (o *Orchestrator) buildRequest(conv *conversation.Conversation, answerID conversation.NodeID) (transport.Request, error) {
	factory, err := o.TokenizerFactory(conv.Model.ID)
	if err != nil {
		return transport.Request{}, err
	}

	path := conv.Tree.ActivePath()
	messages := make([]conversation.Message, 0, len(path))
	for _, e := range path {
		if e.Node.ID == answerID {
			continue
		}
		messages = append(messages, e.Node.Message())
	}

	prompt := o.systemPrompt(conv)
	startOffset, err := tokens.Count(factory, prompt)
	if err != nil {
		return transport.Request{}, errors.Wrap(err, "could not count system prompt tokens")
	}

	maxTokens := o.settings.MaxResponseTokens()
	fitted, err := window.Fit(messages, factory, window.Limits{
		TotalTokenLimit:    conv.Model.TokenLimit,
		ResponseTokenLimit: maxTokens,
		StartOffset:        startOffset,
	})
	if err != nil {
		return transport.Request{}, err
	}
	if len(fitted) < len(messages) {
		log.Info().
			Str("conversation_id", conv.ID).
			Int("dropped", len(messages)-len(fitted)).
			Msg("dropped oldest messages to fit the context window")
	}

	return transport.Request{
		Model:        conv.Model.ID,
		SystemPrompt: prompt,
		Messages:     fitted,
		Temperature:  conv.Temperature,
		MaxTokens:    maxTokens,
	}, nil
}

// Preview returns the request a new answer at the end of the active path
// would be built from, without calling the model.
func (o *Orchestrator) Preview(conv *conversation.Conversation) (transport.Request, error) {
	return o.buildRequest(conv, conversation.NullNode)
}

// Name asks the model for a short topic describing the user messages of the
// active path, stores it as the conversation name and saves the
// conversation.
func (o *Orchestrator) Name(ctx context.Context, conv *conversation.Conversation) (string, error) {
	if err := o.acquire(conv.ID); err != nil {
		return "", err
	}
	defer o.release(conv.ID)

	if o.transport == nil {
		return "", ErrNoTransport
	}
	factory, err := o.TokenizerFactory(conv.Model.ID)
	if err != nil {
		return "", err
	}

	fitted, err := window.Fit(conv.ActiveMessages(), factory, window.Limits{
		TotalTokenLimit:    conv.Model.TokenLimit,
		ResponseTokenLimit: NameResponseTokenLimit,
	})
	if err != nil {
		return "", err
	}

	lines := []string{}
	for _, m := range fitted {
		if m.Role == conversation.RoleUser {
			lines = append(lines, "User: "+m.Content)
		}
	}
	if len(lines) == 0 {
		return "", ErrNoUserMessage
	}

	answer, err := o.transport.Complete(ctx, transport.Request{
		Model: conv.Model.ID,
		Messages: []conversation.Message{{
			Role:    conversation.RoleUser,
			Content: fmt.Sprintf(namePrompt, strings.Join(lines, "\n")),
		}},
		Temperature: 0,
		MaxTokens:   NameResponseTokenLimit,
	})
	if err != nil {
		return "", errors.Wrap(err, "could not name conversation")
	}

	name := strings.TrimRight(strings.TrimSpace(answer), ".")
	if name == "" {
		return "", errors.New("model returned an empty name")
	}
	conv.Name = name

	if err := o.persist(ctx, conv); err != nil {
		return name, err
	}
	return name, nil
}
