package events

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testMeta = EventMetadata{ConversationID: "c1", MessageID: "m1", ParentID: "p1"}

func TestNewEventFromJsonRoundTrip(t *testing.T) {
	in := []Event{
		NewStartEvent(testMeta),
		NewPartialCompletionEvent(testMeta, "lo", "Hello"),
		NewFinalEvent(testMeta, "Hello"),
		NewInterruptEvent(testMeta, "Hel"),
		NewErrorEvent(testMeta, errors.New("reset by peer"), "He"),
		NewSavedEvent(testMeta, 3),
	}
	for _, e := range in {
		t.Run(string(e.Type()), func(t *testing.T) {
			b, err := json.Marshal(e)
			require.NoError(t, err)

			out, err := NewEventFromJson(b)
			require.NoError(t, err)
			assert.Equal(t, e.Type(), out.Type())
			assert.Equal(t, testMeta, out.Metadata())
			assert.Equal(t, b, out.Payload())
			assert.IsType(t, e, out)
		})
	}
}

func TestNewEventFromJsonPartialFields(t *testing.T) {
	b, err := json.Marshal(NewPartialCompletionEvent(testMeta, "lo", "Hello"))
	require.NoError(t, err)

	e, err := NewEventFromJson(b)
	require.NoError(t, err)
	p, ok := e.(*EventPartialCompletion)
	require.True(t, ok)
	assert.Equal(t, "lo", p.Delta)
	assert.Equal(t, "Hello", p.Completion)
}

func TestNewEventFromJsonRejectsGarbage(t *testing.T) {
	_, err := NewEventFromJson([]byte("{not json"))
	assert.Error(t, err)
}

func TestPublisherManagerSequenceNumbers(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 10}, watermill.NopLogger{})
	defer func() { _ = pubSub.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msgs, err := pubSub.Subscribe(ctx, TopicChat)
	require.NoError(t, err)

	m := NewPublisherManager()
	m.SubscribePublisher(TopicChat, pubSub)
	require.NoError(t, m.PublishEvent(NewStartEvent(testMeta)))
	require.NoError(t, m.PublishEvent(NewFinalEvent(testMeta, "done")))

	// gochannel delivers asynchronously, so order by sequence number
	got := map[string]EventType{}
	for len(got) < 2 {
		select {
		case msg := <-msgs:
			msg.Ack()
			e, err := NewEventFromJson(msg.Payload)
			require.NoError(t, err)
			got[msg.Metadata.Get("sequence_number")] = e.Type()
		case <-ctx.Done():
			t.Fatal("timed out waiting for event")
		}
	}
	assert.Equal(t, map[string]EventType{"0": EventTypeStart, "1": EventTypeFinal}, got)
}

func publishTo(t *testing.T, h func(*message.Message) error, e Event) {
	b, err := json.Marshal(e)
	require.NoError(t, err)
	require.NoError(t, h(message.NewMessage(watermill.NewUUID(), b)))
}

func TestStepPrinterFunc(t *testing.T) {
	buf := &bytes.Buffer{}
	h := StepPrinterFunc("assistant", buf)

	publishTo(t, h, NewStartEvent(testMeta))
	publishTo(t, h, NewPartialCompletionEvent(testMeta, "Hel", "Hel"))
	publishTo(t, h, NewPartialCompletionEvent(testMeta, "lo", "Hello"))
	publishTo(t, h, NewFinalEvent(testMeta, "Hello"))
	assert.Equal(t, "\nassistant: \nHello\n", buf.String())

	buf.Reset()
	publishTo(t, h, NewFinalEvent(testMeta, "Whole answer"))
	assert.Equal(t, "Whole answer\n", buf.String())

	buf.Reset()
	publishTo(t, h, NewErrorEvent(testMeta, errors.New("reset"), "He"))
	assert.Equal(t, "\n[error] reset\n", buf.String())

	buf.Reset()
	publishTo(t, h, NewInterruptEvent(testMeta, ""))
	assert.Equal(t, "[interrupted]\n", buf.String())
}

func TestEventRouterPrintsPublishedEvents(t *testing.T) {
	router, err := NewEventRouter()
	require.NoError(t, err)

	buf := &bytes.Buffer{}
	router.AddHandler("printer", TopicChat, StepPrinterFunc("", buf))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- router.Run(ctx)
	}()
	<-router.Running()

	m := NewPublisherManager()
	m.SubscribePublisher(TopicChat, router.Publisher)
	require.NoError(t, m.PublishEvent(NewPartialCompletionEvent(testMeta, "Hi", "Hi")))
	require.NoError(t, m.PublishEvent(NewFinalEvent(testMeta, "Hi")))

	require.NoError(t, router.Close())
	require.NoError(t, <-done)
	assert.Equal(t, "Hi\n", buf.String())
}
