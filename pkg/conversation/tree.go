package conversation

import (
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// siblingGroup holds the alternative continuations below one parent, in
// creation order. Selected indexes the active member.
type siblingGroup struct {
	Members  []NodeID
	Selected int
}

func (g *siblingGroup) selectedID() NodeID {
	return g.Members[g.Selected]
}

func (g *siblingGroup) indexOf(id NodeID) int {
	for i, m := range g.Members {
		if m == id {
			return i
		}
	}
	return -1
}

// Tree stores every branch of a conversation.
//
// Nodes are grouped by parent: all children of a node form one sibling group,
// and the members of the root group have NullNode as parent. Exactly one
// member per group is selected, and following the selected member of each
// group from the root down yields the active path.
//
// Nodes are never removed. Editing or regenerating a message appends a new
// sibling and selects it, leaving the previous branch archived.
//
// A Tree is not safe for concurrent use.
type Tree struct {
	Nodes  map[NodeID]*Node
	groups map[NodeID]*siblingGroup
}

func NewTree() *Tree {
	return &Tree{
		Nodes:  make(map[NodeID]*Node),
		groups: make(map[NodeID]*siblingGroup),
	}
}

func (t *Tree) Len() int {
	return len(t.Nodes)
}

// HeadID returns the head of the root sibling group, or NullNode if the tree
// is empty.
func (t *Tree) HeadID() NodeID {
	g, ok := t.groups[NullNode]
	if !ok || len(g.Members) == 0 {
		return NullNode
	}
	return g.Members[0]
}

func (t *Tree) GetMessageByID(id NodeID) (*Node, bool) {
	ret, exists := t.Nodes[id]
	return ret, exists
}

// Append attaches a new node below anchorID and makes it the active member of
// that sibling group. Passing NullNode as anchor extends the root group.
//
// Append either fully links the new node or changes nothing.
func (t *Tree) Append(anchorID NodeID, role Role, content string, options ...NodeOption) (*Node, error) {
	if !role.Valid() {
		return nil, errors.Wrapf(ErrInvalidRole, "role %q", role)
	}
	if anchorID != NullNode {
		if _, ok := t.Nodes[anchorID]; !ok {
			return nil, errors.Wrapf(ErrAnchorNotFound, "anchor %s", anchorID)
		}
	}

	node := newNode(anchorID, role, content, options...)
	if _, exists := t.Nodes[node.ID]; exists {
		return nil, errors.Errorf("node id %s already in use", node.ID)
	}

	g, ok := t.groups[anchorID]
	if !ok {
		g = &siblingGroup{}
		t.groups[anchorID] = g
	}
	g.Members = append(g.Members, node.ID)
	g.Selected = len(g.Members) - 1
	t.Nodes[node.ID] = node

	log.Trace().
		Str("anchor_id", anchorID.String()).
		Str("node_id", node.ID.String()).
		Str("role", string(role)).
		Int("sibling_count", len(g.Members)).
		Msg("appended node")

	return node, nil
}

// SelectSibling makes id the active member of its sibling group. Only the
// selection changes: descendants of the newly selected node keep their own
// selections, so the previously viewed continuation of that branch comes back.
func (t *Tree) SelectSibling(id NodeID) error {
	node, ok := t.Nodes[id]
	if !ok {
		return errors.Wrapf(ErrNodeNotFound, "node %s", id)
	}
	g, ok := t.groups[node.ParentID]
	if !ok {
		return errors.Wrapf(ErrMalformedRecord, "node %s has no sibling group", id)
	}
	idx := g.indexOf(id)
	if idx < 0 {
		return errors.Wrapf(ErrMalformedRecord, "node %s missing from its sibling group", id)
	}
	g.Selected = idx
	return nil
}

// SetContent overwrites the content of a node. It is used by the streaming
// integrator on the in-flight assistant node.
func (t *Tree) SetContent(id NodeID, content string) error {
	node, ok := t.Nodes[id]
	if !ok {
		return errors.Wrapf(ErrNodeNotFound, "node %s", id)
	}
	node.Content = content
	node.LastUpdate = time.Now()
	return nil
}

// ActivePath walks from the root group down, following the selected member of
// each group. It never mutates the tree.
func (t *Tree) ActivePath() []PathEntry {
	var path []PathEntry
	g := t.groups[NullNode]
	for g != nil && len(g.Members) > 0 {
		id := g.selectedID()
		node, ok := t.Nodes[id]
		if !ok {
			// unreachable for trees built by Append or FromRecord
			log.Warn().Str("node_id", id.String()).Msg("active path references missing node")
			break
		}
		path = append(path, PathEntry{
			Node:         node,
			Position:     g.Selected + 1,
			SiblingCount: len(g.Members),
		})
		g = t.groups[id]
	}
	return path
}

// LastOfActivePath returns the deepest node on the active path, which is the
// default anchor for appends.
func (t *Tree) LastOfActivePath() NodeID {
	last := NullNode
	g := t.groups[NullNode]
	for g != nil && len(g.Members) > 0 {
		last = g.selectedID()
		g = t.groups[last]
	}
	return last
}

// Siblings returns the members of id's sibling group in order, id included.
func (t *Tree) Siblings(id NodeID) []NodeID {
	node, ok := t.Nodes[id]
	if !ok {
		return nil
	}
	g, ok := t.groups[node.ParentID]
	if !ok {
		return nil
	}
	return append([]NodeID(nil), g.Members...)
}

// FindChildren returns the members of the sibling group below id.
func (t *Tree) FindChildren(id NodeID) []NodeID {
	g, ok := t.groups[id]
	if !ok {
		return nil
	}
	return append([]NodeID(nil), g.Members...)
}

// GetConversationThread retrieves the linear thread from the root to id,
// regardless of which branches are active.
func (t *Tree) GetConversationThread(id NodeID) []*Node {
	var thread []*Node
	for id != NullNode {
		node, exists := t.Nodes[id]
		if !exists {
			break
		}
		thread = append([]*Node{node}, thread...)
		id = node.ParentID
	}
	return thread
}

// Linked returns the pointer-shaped view of a node.
func (t *Tree) Linked(id NodeID) (LinkedNode, bool) {
	node, ok := t.Nodes[id]
	if !ok {
		return LinkedNode{}, false
	}
	ret := LinkedNode{Node: node}
	if g, ok := t.groups[node.ParentID]; ok {
		idx := g.indexOf(id)
		ret.SiblingCount = len(g.Members)
		ret.Active = idx == g.Selected
		if idx > 0 {
			ret.PrevSiblingID = g.Members[idx-1]
		}
		if idx >= 0 && idx < len(g.Members)-1 {
			ret.NextSiblingID = g.Members[idx+1]
		}
	}
	if children, ok := t.groups[id]; ok && len(children.Members) > 0 {
		ret.ChildID = children.Members[0]
	}
	return ret, true
}

// Validate checks the structural invariants of the tree: every group member
// exists and points back at the group's parent, every parent exists, selections
// are in range, and every node belongs to exactly one group.
func (t *Tree) Validate() error {
	seen := make(map[NodeID]bool, len(t.Nodes))
	for parentID, g := range t.groups {
		if parentID != NullNode {
			if _, ok := t.Nodes[parentID]; !ok {
				return errors.Wrapf(ErrMalformedRecord, "group parent %s missing", parentID)
			}
		}
		if len(g.Members) == 0 {
			return errors.Wrapf(ErrMalformedRecord, "empty sibling group below %s", parentID)
		}
		if g.Selected < 0 || g.Selected >= len(g.Members) {
			return errors.Wrapf(ErrMalformedRecord, "selection %d out of range below %s", g.Selected, parentID)
		}
		for _, id := range g.Members {
			node, ok := t.Nodes[id]
			if !ok {
				return errors.Wrapf(ErrMalformedRecord, "group member %s missing", id)
			}
			if node.ParentID != parentID {
				return errors.Wrapf(ErrMalformedRecord, "node %s has parent %s but sits below %s", id, node.ParentID, parentID)
			}
			if seen[id] {
				return errors.Wrapf(ErrMalformedRecord, "node %s appears in two groups", id)
			}
			seen[id] = true
		}
	}
	if len(seen) != len(t.Nodes) {
		return errors.Wrapf(ErrMalformedRecord, "%d nodes are not part of any sibling group", len(t.Nodes)-len(seen))
	}

	// every node must hang off the root, which also rules out cycles
	reached := 0
	queue := []NodeID{NullNode}
	for len(queue) > 0 {
		parentID := queue[0]
		queue = queue[1:]
		g, ok := t.groups[parentID]
		if !ok {
			continue
		}
		reached += len(g.Members)
		queue = append(queue, g.Members...)
	}
	if reached != len(t.Nodes) {
		return errors.Wrapf(ErrMalformedRecord, "%d nodes are unreachable from the root", len(t.Nodes)-reached)
	}
	return nil
}
