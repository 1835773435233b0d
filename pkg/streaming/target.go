package streaming

import (
	"sync"

	"github.com/go-go-golems/branchchat/pkg/conversation"
	"github.com/pkg/errors"
)

// TreeTarget writes into a single node of a version tree.
type TreeTarget struct {
	Tree *conversation.Tree
	ID   conversation.NodeID
}

func NewTreeTarget(tree *conversation.Tree, id conversation.NodeID) *TreeTarget {
	return &TreeTarget{Tree: tree, ID: id}
}

func (t *TreeTarget) SetContent(text string) error {
	return t.Tree.SetContent(t.ID, text)
}

var _ Target = (*TreeTarget)(nil)

var ErrEmptySequence = errors.New("flat sequence has no message to stream into")

// SliceTarget writes into the last message of a flat message sequence, the
// layout of conversations saved before branching existed.
type SliceTarget struct {
	mu       sync.Mutex
	Messages *[]conversation.Message
}

func NewSliceTarget(messages *[]conversation.Message) *SliceTarget {
	return &SliceTarget{Messages: messages}
}

func (s *SliceTarget) SetContent(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Messages == nil || len(*s.Messages) == 0 {
		return ErrEmptySequence
	}
	(*s.Messages)[len(*s.Messages)-1].Content = text
	return nil
}

var _ Target = (*SliceTarget)(nil)
