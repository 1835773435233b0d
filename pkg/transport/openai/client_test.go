package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-go-golems/branchchat/pkg/conversation"
	"github.com/go-go-golems/branchchat/pkg/settings"
	"github.com/go-go-golems/branchchat/pkg/streaming"
	"github.com/go-go-golems/branchchat/pkg/transport"
	"github.com/pkg/errors"
	go_openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testRequest = transport.Request{
	Model:        "gpt-4",
	SystemPrompt: "be brief",
	Messages: []conversation.Message{
		{Role: conversation.RoleUser, Content: "Hi"},
		{Role: conversation.RoleAssistant, Content: "Hello"},
		{Role: conversation.RoleUser, Content: "How are you?"},
	},
	Temperature: 0.5,
	MaxTokens:   100,
}

func TestBuildRequest(t *testing.T) {
	r, err := BuildRequest(testRequest, true)
	require.NoError(t, err)

	assert.Equal(t, "gpt-4", r.Model)
	assert.True(t, r.Stream)
	assert.Equal(t, 100, r.MaxTokens)
	assert.InDelta(t, 0.5, r.Temperature, 0.0001)
	require.Len(t, r.Messages, 4)
	assert.Equal(t, go_openai.ChatMessageRoleSystem, r.Messages[0].Role)
	assert.Equal(t, "be brief", r.Messages[0].Content)
	assert.Equal(t, go_openai.ChatMessageRoleUser, r.Messages[1].Role)
	assert.Equal(t, go_openai.ChatMessageRoleAssistant, r.Messages[2].Role)
	assert.Equal(t, "How are you?", r.Messages[3].Content)
}

func TestBuildRequestWithoutSystemPrompt(t *testing.T) {
	req := testRequest
	req.SystemPrompt = ""
	r, err := BuildRequest(req, false)
	require.NoError(t, err)
	require.Len(t, r.Messages, 3)
	assert.Equal(t, go_openai.ChatMessageRoleUser, r.Messages[0].Role)
}

func TestBuildRequestRejectsBadInput(t *testing.T) {
	_, err := BuildRequest(transport.Request{}, false)
	assert.Error(t, err)

	req := transport.Request{Model: "gpt-4", Messages: []conversation.Message{{Role: "system", Content: "x"}}}
	_, err = BuildRequest(req, false)
	assert.True(t, errors.Is(err, conversation.ErrInvalidRole))
}

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient(&settings.ClientSettings{})
	assert.True(t, errors.Is(err, settings.ErrMissingAPIKey))
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	server := httptest.NewServer(h)
	t.Cleanup(server.Close)

	c, err := NewClient(&settings.ClientSettings{APIKey: "sk-test", BaseURL: server.URL + "/v1/"})
	require.NoError(t, err)
	return c
}

func streamChunk(delta string, finish string) string {
	choice := map[string]interface{}{
		"index": 0,
		"delta": map[string]string{"content": delta},
	}
	if finish != "" {
		choice["finish_reason"] = finish
	}
	b, _ := json.Marshal(map[string]interface{}{
		"id":      "chatcmpl-1",
		"object":  "chat.completion.chunk",
		"created": 1,
		"model":   "gpt-4",
		"choices": []interface{}{choice},
	})
	return fmt.Sprintf("data: %s\n\n", b)
}

func TestStream(t *testing.T) {
	var got go_openai.ChatCompletionRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, streamChunk("", ""))
		_, _ = io.WriteString(w, streamChunk("He", ""))
		_, _ = io.WriteString(w, streamChunk("llo", ""))
		_, _ = io.WriteString(w, streamChunk("", "stop"))
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	})

	src, err := c.Stream(context.Background(), testRequest)
	require.NoError(t, err)

	msgs := []conversation.Message{{Role: conversation.RoleAssistant}}
	res, err := streaming.NewIntegrator().Run(context.Background(), streaming.NewSliceTarget(&msgs), src)
	require.NoError(t, err)
	assert.Equal(t, streaming.StateCompleted, res.State)
	assert.Equal(t, 2, res.Chunks)
	assert.Equal(t, "Hello", msgs[0].Content)

	assert.True(t, got.Stream)
	assert.Len(t, got.Messages, 4)
}

func TestStreamHTTPError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	})

	_, err := c.Stream(context.Background(), testRequest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad key")
}

func TestComplete(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req go_openai.ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "gpt-4",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "Fine, thanks."}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 3, "total_tokens": 13}
		}`)
	})

	answer, err := c.Complete(context.Background(), testRequest)
	require.NoError(t, err)
	assert.Equal(t, "Fine, thanks.", answer)
}

func TestCompleteEmptyChoices(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id": "x", "choices": []}`)
	})

	_, err := c.Complete(context.Background(), testRequest)
	assert.True(t, errors.Is(err, ErrEmptyResponse))
}

func TestStreamSourceSkipsEmptyDeltas(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, strings.Repeat(streamChunk("", ""), 3))
		_, _ = io.WriteString(w, streamChunk("x", ""))
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	})

	src, err := c.Stream(context.Background(), testRequest)
	require.NoError(t, err)
	defer src.Close()

	chunk, err := src.Recv()
	require.NoError(t, err)
	assert.Equal(t, "x", chunk)

	_, err = src.Recv()
	assert.Equal(t, io.EOF, err)
}
