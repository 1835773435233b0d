package conversation

import (
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// NodeRecord is the serialized, pointer-linked shape of a node.
type NodeRecord struct {
	ID            string `json:"id" yaml:"id"`
	Role          Role   `json:"role" yaml:"role"`
	Content       string `json:"content" yaml:"content"`
	SiblingCount  int    `json:"siblingCount" yaml:"siblingCount"`
	NextSiblingID string `json:"nextSiblingId,omitempty" yaml:"nextSiblingId,omitempty"`
	PrevSiblingID string `json:"prevSiblingId,omitempty" yaml:"prevSiblingId,omitempty"`
	Active        bool   `json:"active" yaml:"active"`
	ParentID      string `json:"parentId,omitempty" yaml:"parentId,omitempty"`
	ChildID       string `json:"childId,omitempty" yaml:"childId,omitempty"`
	CreatedAt     int64  `json:"createdAt,omitempty" yaml:"createdAt,omitempty"`
	UpdatedAt     int64  `json:"updatedAt,omitempty" yaml:"updatedAt,omitempty"`
}

// ConversationRecord is the persisted snapshot of a conversation.
//
// A record either carries a tree (MessageHeadID + AllMessages) or, for
// conversations written before branching existed, a flat Messages list.
// FromRecord accepts both and prefers the tree when both are present;
// ToRecord always writes the tree shape.
type ConversationRecord struct {
	ID            string                `json:"id" yaml:"id"`
	Name          string                `json:"name" yaml:"name"`
	MessageHeadID string                `json:"messageHeadId,omitempty" yaml:"messageHeadId,omitempty"`
	AllMessages   map[string]NodeRecord `json:"allMessages" yaml:"allMessages"`
	Messages      []Message             `json:"messages" yaml:"messages"`
	Model         Model                 `json:"model" yaml:"model"`
	Prompt        string                `json:"prompt" yaml:"prompt"`
	Temperature   float64               `json:"temperature" yaml:"temperature"`
	FolderID      *string               `json:"folderId" yaml:"folderId"`
}

// IsLegacy reports whether the record only carries the flat message list.
// A record holding a tree is never legacy, even when a flat list was left
// next to it.
func (r *ConversationRecord) IsLegacy() bool {
	return len(r.Messages) > 0 && len(r.AllMessages) == 0
}

func (c *Conversation) ToRecord() *ConversationRecord {
	ret := &ConversationRecord{
		ID:            c.ID,
		Name:          c.Name,
		MessageHeadID: c.Tree.HeadID().String(),
		AllMessages:   make(map[string]NodeRecord, c.Tree.Len()),
		Messages:      []Message{},
		Model:         c.Model,
		Prompt:        c.Prompt,
		Temperature:   c.Temperature,
	}
	if c.FolderID != nil {
		folderID := *c.FolderID
		ret.FolderID = &folderID
	}
	for id := range c.Tree.Nodes {
		linked, _ := c.Tree.Linked(id)
		ret.AllMessages[id.String()] = NodeRecord{
			ID:            id.String(),
			Role:          linked.Role,
			Content:       linked.Content,
			SiblingCount:  linked.SiblingCount,
			NextSiblingID: linked.NextSiblingID.String(),
			PrevSiblingID: linked.PrevSiblingID.String(),
			Active:        linked.Active,
			ParentID:      linked.ParentID.String(),
			ChildID:       linked.ChildID.String(),
			CreatedAt:     linked.Time.UnixMilli(),
			UpdatedAt:     linked.LastUpdate.UnixMilli(),
		}
	}
	return ret
}

// FromRecord rebuilds a conversation from its persisted snapshot. Flat legacy
// records are normalized into a single-branch tree. Tree records are checked
// against the sibling-group invariants and rejected with ErrMalformedRecord
// if they do not hold.
func FromRecord(r *ConversationRecord) (*Conversation, error) {
	if r == nil {
		return nil, errors.Wrap(ErrMalformedRecord, "record is nil")
	}
	ret := &Conversation{
		ID:          r.ID,
		Name:        r.Name,
		Model:       r.Model,
		Prompt:      r.Prompt,
		Temperature: r.Temperature,
	}
	if r.FolderID != nil {
		folderID := *r.FolderID
		ret.FolderID = &folderID
	}

	var err error
	if r.IsLegacy() {
		ret.Tree, err = treeFromFlat(r.Messages)
	} else {
		if len(r.Messages) > 0 {
			log.Debug().Str("conversation_id", r.ID).
				Msg("record has both flat and tree messages, ignoring flat messages")
		}
		ret.Tree, err = treeFromLinked(r.MessageHeadID, r.AllMessages)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "conversation %s", r.ID)
	}
	return ret, nil
}

func treeFromFlat(messages []Message) (*Tree, error) {
	tree := NewTree()
	anchor := NullNode
	for i, m := range messages {
		node, err := tree.Append(anchor, m.Role, m.Content)
		if err != nil {
			return nil, errors.Wrapf(err, "flat message %d", i)
		}
		anchor = node.ID
	}
	return tree, nil
}

func treeFromLinked(headID string, all map[string]NodeRecord) (*Tree, error) {
	tree := NewTree()
	if headID == "" {
		if len(all) > 0 {
			return nil, errors.Wrap(ErrMalformedRecord, "messages present without a head")
		}
		return tree, nil
	}

	type pendingGroup struct {
		parent NodeID
		head   string
	}
	queue := []pendingGroup{{parent: NullNode, head: headID}}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]

		g := &siblingGroup{Selected: -1}
		var counts []int
		prev := ""
		for cur := p.head; cur != ""; {
			rec, ok := all[cur]
			if !ok {
				return nil, errors.Wrapf(ErrMalformedRecord, "linked message %s missing", cur)
			}
			if rec.ID != cur {
				return nil, errors.Wrapf(ErrMalformedRecord, "message stored under %s has id %s", cur, rec.ID)
			}
			id, err := ParseNodeID(rec.ID)
			if err != nil || id == NullNode {
				return nil, errors.Wrapf(ErrMalformedRecord, "message id %q", rec.ID)
			}
			if _, dup := tree.Nodes[id]; dup {
				return nil, errors.Wrapf(ErrMalformedRecord, "message %s linked twice", cur)
			}
			if rec.PrevSiblingID != prev {
				return nil, errors.Wrapf(ErrMalformedRecord, "message %s has prevSiblingId %q, expected %q", cur, rec.PrevSiblingID, prev)
			}
			parentID, err := ParseNodeID(rec.ParentID)
			if err != nil || parentID != p.parent {
				return nil, errors.Wrapf(ErrMalformedRecord, "message %s has parentId %q, expected %q", cur, rec.ParentID, p.parent.String())
			}
			if !rec.Role.Valid() {
				return nil, errors.Wrapf(ErrMalformedRecord, "message %s has role %q", cur, rec.Role)
			}

			node := &Node{
				ID:         id,
				ParentID:   parentID,
				Role:       rec.Role,
				Content:    rec.Content,
				Time:       time.UnixMilli(rec.CreatedAt),
				LastUpdate: time.UnixMilli(rec.UpdatedAt),
			}
			tree.Nodes[id] = node
			g.Members = append(g.Members, id)
			counts = append(counts, rec.SiblingCount)
			if rec.Active {
				if g.Selected != -1 {
					return nil, errors.Wrapf(ErrMalformedRecord, "two active siblings below %q", p.parent.String())
				}
				g.Selected = len(g.Members) - 1
			}
			if rec.ChildID != "" {
				queue = append(queue, pendingGroup{parent: id, head: rec.ChildID})
			}

			prev = cur
			cur = rec.NextSiblingID
		}

		if g.Selected == -1 {
			return nil, errors.Wrapf(ErrMalformedRecord, "no active sibling below %q", p.parent.String())
		}
		for _, c := range counts {
			if c != len(g.Members) {
				return nil, errors.Wrapf(ErrMalformedRecord, "siblingCount %d in a group of %d below %q", c, len(g.Members), p.parent.String())
			}
		}
		tree.groups[p.parent] = g
	}

	if len(tree.Nodes) != len(all) {
		return nil, errors.Wrapf(ErrMalformedRecord, "%d messages are not linked into the tree", len(all)-len(tree.Nodes))
	}
	return tree, nil
}
