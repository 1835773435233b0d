package conversation

import (
	"github.com/google/uuid"
)

const DefaultName = "New Conversation"

// Model describes the language model a conversation is bound to.
// TokenLimit is the context window size in tokens, MaxLength the maximum
// prompt length in characters accepted by the input.
type Model struct {
	ID         string `json:"id" yaml:"id"`
	Name       string `json:"name" yaml:"name"`
	MaxLength  int    `json:"maxLength" yaml:"maxLength"`
	TokenLimit int    `json:"tokenLimit" yaml:"tokenLimit"`
}

// Conversation is a named version tree together with the model parameters it
// is submitted with.
type Conversation struct {
	ID          string
	Name        string
	Model       Model
	Prompt      string
	Temperature float64
	FolderID    *string

	Tree *Tree
}

type ConversationOption func(*Conversation)

func WithName(name string) ConversationOption {
	return func(c *Conversation) {
		c.Name = name
	}
}

func WithModel(model Model) ConversationOption {
	return func(c *Conversation) {
		c.Model = model
	}
}

func WithPrompt(prompt string) ConversationOption {
	return func(c *Conversation) {
		c.Prompt = prompt
	}
}

func WithTemperature(temperature float64) ConversationOption {
	return func(c *Conversation) {
		c.Temperature = temperature
	}
}

func WithFolderID(folderID string) ConversationOption {
	return func(c *Conversation) {
		c.FolderID = &folderID
	}
}

func NewConversation(options ...ConversationOption) *Conversation {
	ret := &Conversation{
		ID:   uuid.NewString(),
		Name: DefaultName,
		Tree: NewTree(),
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// ActiveMessages returns the flat (role, content) sequence of the active path.
func (c *Conversation) ActiveMessages() []Message {
	return Messages(c.Tree.ActivePath())
}

// UserMessageCount counts user messages on the active path.
func (c *Conversation) UserMessageCount() int {
	n := 0
	for _, e := range c.Tree.ActivePath() {
		if e.Node.Role == RoleUser {
			n++
		}
	}
	return n
}
