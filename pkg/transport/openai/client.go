// Package openai talks to the OpenAI chat completion API (and compatible
// servers) through github.com/sashabaranov/go-openai.
package openai

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/go-go-golems/branchchat/pkg/conversation"
	"github.com/go-go-golems/branchchat/pkg/settings"
	"github.com/go-go-golems/branchchat/pkg/streaming"
	"github.com/go-go-golems/branchchat/pkg/transport"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"
)

var ErrEmptyResponse = errors.New("empty response from model")

type Client struct {
	client *go_openai.Client
}

type ClientOption func(*go_openai.ClientConfig)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(config *go_openai.ClientConfig) {
		config.HTTPClient = c
	}
}

// NewClient builds a client from the client settings. The api key is
// required, the base url defaults to the public OpenAI endpoint.
func NewClient(s *settings.ClientSettings, options ...ClientOption) (*Client, error) {
	if s == nil || s.APIKey == "" {
		return nil, settings.ErrMissingAPIKey
	}
	config := go_openai.DefaultConfig(s.APIKey)
	if s.BaseURL != "" {
		config.BaseURL = strings.TrimSuffix(s.BaseURL, "/")
	}
	if s.Organization != "" {
		config.OrgID = s.Organization
	}
	if s.Timeout != nil {
		config.HTTPClient = &http.Client{Timeout: *s.Timeout}
	}
	for _, o := range options {
		o(&config)
	}

	return &Client{client: go_openai.NewClientWithConfig(config)}, nil
}

// BuildRequest turns a transport request into an OpenAI chat completion
// request. The system prompt, if any, becomes the first message.
func BuildRequest(req transport.Request, stream bool) (go_openai.ChatCompletionRequest, error) {
	if req.Model == "" {
		return go_openai.ChatCompletionRequest{}, errors.New("no model specified")
	}

	msgs := make([]go_openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, go_openai.ChatCompletionMessage{
			Role:    go_openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for i, m := range req.Messages {
		role := ""
		switch m.Role {
		case conversation.RoleUser:
			role = go_openai.ChatMessageRoleUser
		case conversation.RoleAssistant:
			role = go_openai.ChatMessageRoleAssistant
		default:
			return go_openai.ChatCompletionRequest{}, errors.Wrapf(conversation.ErrInvalidRole, "message %d: %q", i, m.Role)
		}
		msgs = append(msgs, go_openai.ChatCompletionMessage{
			Role:    role,
			Content: m.Content,
		})
	}

	return go_openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
		Stream:      stream,
	}, nil
}

func (c *Client) Stream(ctx context.Context, req transport.Request) (streaming.Source, error) {
	r, err := BuildRequest(req, true)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("model", r.Model).
		Int("messages", len(r.Messages)).
		Int("max_tokens", r.MaxTokens).
		Msg("starting chat completion stream")

	stream, err := c.client.CreateChatCompletionStream(ctx, r)
	if err != nil {
		return nil, errors.Wrap(err, "could not start chat completion stream")
	}
	return &streamSource{stream: stream}, nil
}

func (c *Client) Complete(ctx context.Context, req transport.Request) (string, error) {
	r, err := BuildRequest(req, false)
	if err != nil {
		return "", err
	}

	log.Debug().
		Str("model", r.Model).
		Int("messages", len(r.Messages)).
		Msg("sending chat completion")

	resp, err := c.client.CreateChatCompletion(ctx, r)
	if err != nil {
		return "", errors.Wrap(err, "chat completion failed")
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	log.Debug().
		Int("prompt_tokens", resp.Usage.PromptTokens).
		Int("completion_tokens", resp.Usage.CompletionTokens).
		Str("finish_reason", string(resp.Choices[0].FinishReason)).
		Msg("chat completion done")

	return resp.Choices[0].Message.Content, nil
}

var _ transport.Transport = (*Client)(nil)

// streamSource adapts a go-openai stream to streaming.Source.
type streamSource struct {
	stream *go_openai.ChatCompletionStream
}

func (s *streamSource) Recv() (string, error) {
	for {
		response, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", err
		}
		if len(response.Choices) == 0 {
			continue
		}
		delta := response.Choices[0].Delta.Content
		if delta == "" {
			// role-only and finish chunks carry no text
			continue
		}
		return delta, nil
	}
}

func (s *streamSource) Close() {
	s.stream.Close()
}
