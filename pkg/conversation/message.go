package conversation

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type NodeID uuid.UUID

func (id NodeID) MarshalJSON() ([]byte, error) {
	return json.Marshal(uuid.UUID(id))
}

func (id *NodeID) UnmarshalJSON(data []byte) error {
	var uuid uuid.UUID
	if err := json.Unmarshal(data, &uuid); err != nil {
		return err
	}
	*id = NodeID(uuid)
	return nil
}

// String returns the canonical uuid form, or the empty string for NullNode so
// that absent links serialize as absent.
func (id NodeID) String() string {
	if id == NullNode {
		return ""
	}
	return uuid.UUID(id).String()
}

func NewNodeID() NodeID {
	return NodeID(uuid.New())
}

// ParseNodeID parses a uuid string. The empty string parses to NullNode.
func ParseNodeID(s string) (NodeID, error) {
	if s == "" {
		return NullNode, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return NullNode, errors.Wrapf(err, "invalid node id %q", s)
	}
	return NodeID(id), nil
}

var NullNode NodeID = NodeID(uuid.Nil)

type Role string

const (
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
)

func (r Role) Valid() bool {
	return r == RoleAssistant || r == RoleUser
}

// Message is the flat (role, content) pair submitted to a model. It is also
// the element type of the legacy flat conversation representation.
type Message struct {
	Role    Role   `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

func (m Message) String() string {
	return fmt.Sprintf("[%s]: %s", m.Role, strings.TrimRight(m.Content, "\n"))
}

// Node is a single message stored in the version tree.
//
// Sibling links, the child pointer, the sibling count and the active flag are
// not stored on the node. They are derived from the sibling group the node
// belongs to, see Tree.Linked.
type Node struct {
	ID       NodeID
	ParentID NodeID
	Role     Role
	Content  string

	Time       time.Time
	LastUpdate time.Time
}

type NodeOption func(*Node)

func WithID(id NodeID) NodeOption {
	return func(n *Node) {
		n.ID = id
	}
}

func WithTime(t time.Time) NodeOption {
	return func(n *Node) {
		n.Time = t
		n.LastUpdate = t
	}
}

func newNode(parentID NodeID, role Role, content string, options ...NodeOption) *Node {
	now := time.Now()
	ret := &Node{
		ID:         NewNodeID(),
		ParentID:   parentID,
		Role:       role,
		Content:    content,
		Time:       now,
		LastUpdate: now,
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

func (n *Node) Message() Message {
	return Message{Role: n.Role, Content: n.Content}
}

// LinkedNode is the pointer-shaped view of a node, as seen by consumers that
// expect explicit sibling and child links.
type LinkedNode struct {
	*Node
	ChildID       NodeID
	PrevSiblingID NodeID
	NextSiblingID NodeID
	SiblingCount  int
	Active        bool
}

// PathEntry is one element of the active path, along with its 1-based
// position inside its sibling group.
type PathEntry struct {
	Node         *Node
	Position     int
	SiblingCount int
}

// Messages flattens path entries into the (role, content) sequence a model
// request is built from.
func Messages(path []PathEntry) []Message {
	ret := make([]Message, 0, len(path))
	for _, e := range path {
		ret = append(ret, e.Node.Message())
	}
	return ret
}
