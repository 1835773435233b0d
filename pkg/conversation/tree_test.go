package conversation

import (
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// requireLinkedInvariants checks the pointer-shaped view of every sibling
// group: equal sibling counts matching the group size, exactly one active
// member, consistent prev/next links and existing parents.
func requireLinkedInvariants(t *testing.T, tree *Tree) {
	t.Helper()
	require.NoError(t, tree.Validate())

	heads := []NodeID{}
	if head := tree.HeadID(); head != NullNode {
		heads = append(heads, head)
	}
	visited := 0
	for len(heads) > 0 {
		head := heads[0]
		heads = heads[1:]

		var members []LinkedNode
		prev := NullNode
		for cur := head; cur != NullNode; {
			linked, ok := tree.Linked(cur)
			require.True(t, ok)
			require.Equal(t, prev, linked.PrevSiblingID)
			members = append(members, linked)
			if linked.ChildID != NullNode {
				heads = append(heads, linked.ChildID)
			}
			prev = cur
			cur = linked.NextSiblingID
			require.Less(t, len(members), tree.Len()+1, "sibling chain does not terminate")
		}

		active := 0
		for _, m := range members {
			assert.Equal(t, len(members), m.SiblingCount)
			if m.Active {
				active++
			}
			if m.ParentID != NullNode {
				_, ok := tree.Nodes[m.ParentID]
				assert.True(t, ok)
			}
		}
		assert.Equal(t, 1, active)
		visited += len(members)
	}
	assert.Equal(t, tree.Len(), visited)
}

func pathIDs(path []PathEntry) []NodeID {
	ids := make([]NodeID, 0, len(path))
	for _, e := range path {
		ids = append(ids, e.Node.ID)
	}
	return ids
}

func TestAppendBranchesOnAnchor(t *testing.T) {
	tree := NewTree()
	a, err := tree.Append(NullNode, RoleUser, "Hi")
	require.NoError(t, err)
	b, err := tree.Append(a.ID, RoleAssistant, "Hello")
	require.NoError(t, err)

	c, err := tree.Append(a.ID, RoleUser, "Hi again")
	require.NoError(t, err)

	lb, _ := tree.Linked(b.ID)
	lc, _ := tree.Linked(c.ID)
	assert.False(t, lb.Active)
	assert.True(t, lc.Active)
	assert.Equal(t, 2, lb.SiblingCount)
	assert.Equal(t, 2, lc.SiblingCount)
	assert.Equal(t, c.ID, lb.NextSiblingID)
	assert.Equal(t, b.ID, lc.PrevSiblingID)
	assert.Equal(t, a.ID, c.ParentID)

	la, _ := tree.Linked(a.ID)
	assert.Equal(t, b.ID, la.ChildID, "child pointer keeps pointing at the group head")

	assert.Equal(t, []NodeID{a.ID, c.ID}, pathIDs(tree.ActivePath()))
	requireLinkedInvariants(t, tree)
}

func TestAppendFirstNodeSetsHead(t *testing.T) {
	tree := NewTree()
	assert.Equal(t, NullNode, tree.HeadID())
	assert.Empty(t, tree.ActivePath())
	assert.Equal(t, NullNode, tree.LastOfActivePath())

	a, err := tree.Append(NullNode, RoleUser, "first")
	require.NoError(t, err)
	assert.Equal(t, a.ID, tree.HeadID())
	assert.Equal(t, NullNode, a.ParentID)

	la, _ := tree.Linked(a.ID)
	assert.Equal(t, 1, la.SiblingCount)
	assert.True(t, la.Active)
}

func TestAppendUnknownAnchorLeavesTreeUntouched(t *testing.T) {
	tree := NewTree()
	a, err := tree.Append(NullNode, RoleUser, "Hi")
	require.NoError(t, err)
	before := tree.ToRecordForTest()

	_, err = tree.Append(NewNodeID(), RoleAssistant, "lost")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAnchorNotFound))

	_, err = tree.Append(a.ID, Role("system"), "nope")
	assert.True(t, errors.Is(err, ErrInvalidRole))

	assert.Equal(t, before, tree.ToRecordForTest())
}

func TestPositionsOnActivePath(t *testing.T) {
	tree := NewTree()
	a, _ := tree.Append(NullNode, RoleUser, "q")
	_, _ = tree.Append(a.ID, RoleAssistant, "v1")
	_, _ = tree.Append(a.ID, RoleAssistant, "v2")
	v3, _ := tree.Append(a.ID, RoleAssistant, "v3")

	path := tree.ActivePath()
	require.Len(t, path, 2)
	assert.Equal(t, 1, path[0].Position)
	assert.Equal(t, 1, path[0].SiblingCount)
	assert.Equal(t, 3, path[1].Position)
	assert.Equal(t, 3, path[1].SiblingCount)
	assert.Equal(t, v3.ID, tree.LastOfActivePath())
}

func TestActivePathIsDeterministic(t *testing.T) {
	tree := randomTree(t, rand.New(rand.NewSource(7)), 60)
	first := tree.ActivePath()
	second := tree.ActivePath()
	assert.Equal(t, pathIDs(first), pathIDs(second))
}

func TestRandomAppendsPreserveInvariantsAndHistory(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	tree := NewTree()
	contents := map[NodeID]string{}

	for i := 0; i < 200; i++ {
		anchor := NullNode
		if tree.Len() > 0 && rng.Intn(5) != 0 {
			anchor = randomNode(tree, rng)
		}
		role := RoleUser
		if rng.Intn(2) == 0 {
			role = RoleAssistant
		}
		node, err := tree.Append(anchor, role, randomText(rng))
		require.NoError(t, err)
		contents[node.ID] = node.Content

		requireLinkedInvariants(t, tree)
		for id, content := range contents {
			n, ok := tree.GetMessageByID(id)
			require.True(t, ok, "node %s disappeared", id)
			require.Equal(t, content, n.Content)
		}
	}
}

func TestSelectSiblingRestoresBranch(t *testing.T) {
	tree := NewTree()
	a, _ := tree.Append(NullNode, RoleUser, "q")
	b, _ := tree.Append(a.ID, RoleAssistant, "first answer")
	b1, _ := tree.Append(b.ID, RoleUser, "follow-up")
	c, _ := tree.Append(a.ID, RoleAssistant, "second answer")

	assert.Equal(t, []NodeID{a.ID, c.ID}, pathIDs(tree.ActivePath()))

	require.NoError(t, tree.SelectSibling(b.ID))
	assert.Equal(t, []NodeID{a.ID, b.ID, b1.ID}, pathIDs(tree.ActivePath()))
	requireLinkedInvariants(t, tree)

	err := tree.SelectSibling(NewNodeID())
	assert.True(t, errors.Is(err, ErrNodeNotFound))
}

func TestSetContent(t *testing.T) {
	tree := NewTree()
	a, _ := tree.Append(NullNode, RoleAssistant, "")
	require.NoError(t, tree.SetContent(a.ID, "Hello"))
	n, _ := tree.GetMessageByID(a.ID)
	assert.Equal(t, "Hello", n.Content)

	assert.True(t, errors.Is(tree.SetContent(NewNodeID(), "x"), ErrNodeNotFound))
}

func TestGetConversationThread(t *testing.T) {
	tree := NewTree()
	a, _ := tree.Append(NullNode, RoleUser, "q")
	b, _ := tree.Append(a.ID, RoleAssistant, "a1")
	_, _ = tree.Append(a.ID, RoleAssistant, "a2")

	thread := tree.GetConversationThread(b.ID)
	require.Len(t, thread, 2)
	assert.Equal(t, a.ID, thread[0].ID)
	assert.Equal(t, b.ID, thread[1].ID)
}

// ToRecordForTest snapshots the tree so tests can compare before/after state.
func (t *Tree) ToRecordForTest() *ConversationRecord {
	c := &Conversation{ID: "test", Tree: t}
	return c.ToRecord()
}

func randomNode(tree *Tree, rng *rand.Rand) NodeID {
	n := rng.Intn(tree.Len())
	for id := range tree.Nodes {
		if n == 0 {
			return id
		}
		n--
	}
	return NullNode
}

func randomText(rng *rand.Rand) string {
	words := []string{"alpha", "beta", "gamma", "delta", "epsilon"}
	return words[rng.Intn(len(words))]
}

func randomTree(t *testing.T, rng *rand.Rand, size int) *Tree {
	tree := NewTree()
	for i := 0; i < size; i++ {
		anchor := NullNode
		if tree.Len() > 0 {
			anchor = randomNode(tree, rng)
		}
		_, err := tree.Append(anchor, RoleUser, randomText(rng))
		require.NoError(t, err)
	}
	return tree
}
