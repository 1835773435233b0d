// Package chat drives a conversation: it turns user intents (send, edit,
// regenerate, select a branch, name) into version tree updates, model calls
// and persisted snapshots.
package chat

import (
	"context"
	"sync"

	"github.com/go-go-golems/branchchat/pkg/conversation"
	"github.com/go-go-golems/branchchat/pkg/events"
	"github.com/go-go-golems/branchchat/pkg/settings"
	"github.com/go-go-golems/branchchat/pkg/store"
	"github.com/go-go-golems/branchchat/pkg/streaming"
	"github.com/go-go-golems/branchchat/pkg/tokens"
	"github.com/go-go-golems/branchchat/pkg/transport"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrBusy is returned when another operation is already in flight on the
	// same conversation.
	ErrBusy = errors.New("conversation is busy")
	// ErrContextEmpty is returned when not even the last message fits into
	// the model's context window. The assistant placeholder stays empty.
	ErrContextEmpty = errors.New("no message fits into the context window")
	ErrNoUserMessage = errors.New("conversation has no user message")
	ErrNoTransport   = errors.New("no transport configured")
)

// Result describes the assistant message produced by an operation.
type Result struct {
	Conversation *conversation.Conversation
	MessageID    conversation.NodeID
	State        streaming.State
	Text         string
}

type Orchestrator struct {
	transport transport.Transport
	store     *store.Store
	factory   tokens.Factory
	sink      events.EventSink
	settings  *settings.Settings
	onUpdate  func(conv *conversation.Conversation, id conversation.NodeID, text string)

	mu        sync.Mutex
	busy      map[string]struct{}
	factories map[string]tokens.Factory
}

type Option func(*Orchestrator)

func WithTransport(t transport.Transport) Option {
	return func(o *Orchestrator) {
		o.transport = t
	}
}

func WithStore(s *store.Store) Option {
	return func(o *Orchestrator) {
		o.store = s
	}
}

// WithTokenizerFactory fixes the tokenizer used for every model. Without it
// the factory is derived from the tokenizer settings and the model name.
func WithTokenizerFactory(f tokens.Factory) Option {
	return func(o *Orchestrator) {
		o.factory = f
	}
}

func WithEventSink(sink events.EventSink) Option {
	return func(o *Orchestrator) {
		o.sink = sink
	}
}

func WithSettings(s *settings.Settings) Option {
	return func(o *Orchestrator) {
		o.settings = s
	}
}

// WithOnUpdate is called with the full text of the assistant message after
// every streamed chunk.
func WithOnUpdate(f func(conv *conversation.Conversation, id conversation.NodeID, text string)) Option {
	return func(o *Orchestrator) {
		o.onUpdate = f
	}
}

func NewOrchestrator(options ...Option) (*Orchestrator, error) {
	ret := &Orchestrator{
		busy:      map[string]struct{}{},
		factories: map[string]tokens.Factory{},
	}
	for _, opt := range options {
		opt(ret)
	}
	if ret.sink == nil {
		ret.sink = events.NullSink{}
	}
	if ret.settings == nil {
		s, err := settings.NewSettings()
		if err != nil {
			return nil, err
		}
		ret.settings = s
	}
	return ret, nil
}

// NewConversation creates an empty conversation using the configured model,
// system prompt and temperature.
func (o *Orchestrator) NewConversation(ctx context.Context, options ...conversation.ConversationOption) (*conversation.Conversation, error) {
	model, ok := settings.LookupModel(o.settings.Chat.Model)
	if !ok {
		return nil, errors.Wrapf(settings.ErrUnknownModel, "%s", o.settings.Chat.Model)
	}
	opts := append([]conversation.ConversationOption{
		conversation.WithModel(model),
		conversation.WithPrompt(o.settings.Chat.SystemPrompt),
		conversation.WithTemperature(o.settings.Temperature()),
	}, options...)
	conv := conversation.NewConversation(opts...)

	if err := o.persist(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

func (o *Orchestrator) acquire(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.busy[id]; ok {
		return errors.Wrapf(ErrBusy, "conversation %s", id)
	}
	o.busy[id] = struct{}{}
	return nil
}

func (o *Orchestrator) release(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.busy, id)
}

// Send appends text as a user message at the end of the active path and
// streams the answer into a new assistant message. When the active path ends
// in an unanswered user message, the same text reuses it and other text is
// added as its sibling.
func (o *Orchestrator) Send(ctx context.Context, conv *conversation.Conversation, text string) (*Result, error) {
	if err := o.acquire(conv.ID); err != nil {
		return nil, err
	}
	defer o.release(conv.ID)

	anchor := conv.Tree.LastOfActivePath()
	userID := anchor
	last, ok := conv.Tree.GetMessageByID(anchor)
	switch {
	case ok && last.Role == conversation.RoleUser && last.Content == text:
		// an unanswered user message is reused when the same text is sent again
	case ok && last.Role == conversation.RoleUser:
		// other text becomes an alternative to the unanswered message, user
		// messages never follow each other
		user, err := conv.Tree.Append(last.ParentID, conversation.RoleUser, text)
		if err != nil {
			return nil, err
		}
		userID = user.ID
	default:
		user, err := conv.Tree.Append(anchor, conversation.RoleUser, text)
		if err != nil {
			return nil, err
		}
		userID = user.ID
	}

	if conv.Name == conversation.DefaultName && conv.UserMessageCount() == 1 {
		conv.Name = DefaultNameFor(text)
	}

	return o.answer(ctx, conv, userID)
}

// Edit creates an alternative to messageID. A user message gets a new user
// sibling carrying text, which is then answered. Editing an assistant
// message regenerates it.
func (o *Orchestrator) Edit(ctx context.Context, conv *conversation.Conversation, messageID conversation.NodeID, text string) (*Result, error) {
	if err := o.acquire(conv.ID); err != nil {
		return nil, err
	}
	defer o.release(conv.ID)

	node, ok := conv.Tree.GetMessageByID(messageID)
	if !ok {
		return nil, errors.Wrapf(conversation.ErrNodeNotFound, "message %s", messageID)
	}

	if node.Role == conversation.RoleAssistant {
		if node.ParentID == conversation.NullNode {
			return nil, ErrNoUserMessage
		}
		return o.answer(ctx, conv, node.ParentID)
	}

	user, err := conv.Tree.Append(node.ParentID, conversation.RoleUser, text)
	if err != nil {
		return nil, err
	}
	return o.answer(ctx, conv, user.ID)
}

// Regenerate adds a new answer to the last user message of the active path.
// The previous answer stays available as a sibling.
func (o *Orchestrator) Regenerate(ctx context.Context, conv *conversation.Conversation) (*Result, error) {
	if err := o.acquire(conv.ID); err != nil {
		return nil, err
	}
	defer o.release(conv.ID)

	last, ok := conv.Tree.GetMessageByID(conv.Tree.LastOfActivePath())
	if !ok {
		return nil, ErrNoUserMessage
	}
	anchor := last.ID
	if last.Role == conversation.RoleAssistant {
		anchor = last.ParentID
	}
	if anchor == conversation.NullNode {
		return nil, ErrNoUserMessage
	}
	return o.answer(ctx, conv, anchor)
}

// SelectBranch makes id the active alternative among its siblings and saves
// the conversation. No model call is made.
func (o *Orchestrator) SelectBranch(ctx context.Context, conv *conversation.Conversation, id conversation.NodeID) error {
	if err := o.acquire(conv.ID); err != nil {
		return err
	}
	defer o.release(conv.ID)

	if err := conv.Tree.SelectSibling(id); err != nil {
		return err
	}
	log.Debug().Str("conversation_id", conv.ID).Str("message_id", id.String()).Msg("selected branch")
	return o.persist(ctx, conv)
}

// answer appends an empty assistant message below userID and fills it.
func (o *Orchestrator) answer(ctx context.Context, conv *conversation.Conversation, userID conversation.NodeID) (*Result, error) {
	placeholder, err := conv.Tree.Append(userID, conversation.RoleAssistant, "")
	if err != nil {
		return nil, err
	}

	res, runErr := o.run(ctx, conv, placeholder)

	// the snapshot is written whatever the outcome, also after a cancellation
	persistErr := o.persist(context.WithoutCancel(ctx), conv)
	if runErr != nil {
		if persistErr != nil {
			log.Error().Err(persistErr).Str("conversation_id", conv.ID).Msg("could not persist conversation")
		}
		return res, runErr
	}
	return res, persistErr
}

func (o *Orchestrator) run(ctx context.Context, conv *conversation.Conversation, placeholder *conversation.Node) (*Result, error) {
	ret := &Result{
		Conversation: conv,
		MessageID:    placeholder.ID,
		State:        streaming.StateIdle,
	}
	if o.transport == nil {
		return ret, ErrNoTransport
	}

	req, err := o.buildRequest(conv, placeholder.ID)
	if err != nil {
		return ret, err
	}
	if len(req.Messages) == 0 {
		log.Warn().Str("conversation_id", conv.ID).Int("token_limit", conv.Model.TokenLimit).
			Msg("context window exhausted, not calling the model")
		return ret, ErrContextEmpty
	}

	metadata := events.EventMetadata{
		ConversationID: conv.ID,
		MessageID:      placeholder.ID.String(),
		ParentID:       placeholder.ParentID.String(),
		Model:          conv.Model.ID,
	}

	if !o.settings.Chat.Stream {
		text, err := o.transport.Complete(ctx, req)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				ret.State = streaming.StateCancelled
				return ret, nil
			}
			ret.State = streaming.StateFailed
			return ret, &streaming.TransportError{Err: err}
		}
		if err := conv.Tree.SetContent(placeholder.ID, text); err != nil {
			return ret, err
		}
		ret.State = streaming.StateCompleted
		ret.Text = text
		if err := o.sink.PublishEvent(events.NewFinalEvent(metadata, text)); err != nil {
			log.Warn().Err(err).Msg("failed to publish final event")
		}
		return ret, nil
	}

	src, err := o.transport.Stream(ctx, req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			ret.State = streaming.StateCancelled
			return ret, nil
		}
		ret.State = streaming.StateFailed
		return ret, &streaming.TransportError{Err: err}
	}

	options := []streaming.Option{
		streaming.WithPublisher(o.sink, metadata),
	}
	if o.onUpdate != nil {
		options = append(options, streaming.WithOnUpdate(func(text string) {
			o.onUpdate(conv, placeholder.ID, text)
		}))
	}

	res, err := streaming.NewIntegrator(options...).Run(ctx, streaming.NewTreeTarget(conv.Tree, placeholder.ID), src)
	if res != nil {
		ret.State = res.State
		ret.Text = res.Text
	}
	log.Debug().
		Str("conversation_id", conv.ID).
		Str("message_id", placeholder.ID.String()).
		Str("state", string(ret.State)).
		Msg("answer finished")
	return ret, err
}

// persist writes the selected conversation and the updated history
// concurrently.
func (o *Orchestrator) persist(ctx context.Context, conv *conversation.Conversation) error {
	if o.store == nil {
		return nil
	}

	all, err := o.store.LoadAll(ctx)
	if err != nil {
		return errors.Wrap(err, "could not load conversation history")
	}
	all = store.Upsert(all, conv)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return o.store.Save(gctx, conv)
	})
	g.Go(func() error {
		return o.store.SaveAll(gctx, all)
	})
	if err := g.Wait(); err != nil {
		return errors.Wrapf(err, "could not persist conversation %s", conv.ID)
	}

	e := events.NewSavedEvent(events.EventMetadata{ConversationID: conv.ID}, len(all))
	if err := o.sink.PublishEvent(e); err != nil {
		log.Warn().Err(err).Msg("failed to publish saved event")
	}
	return nil
}
