package conversation

import (
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordRoundTripKeepsBranches(t *testing.T) {
	c := NewConversation(WithName("branches"), WithPrompt("be brief"), WithTemperature(0.5))
	a, _ := c.Tree.Append(NullNode, RoleUser, "Hi")
	b, _ := c.Tree.Append(a.ID, RoleAssistant, "Hello")
	_, _ = c.Tree.Append(b.ID, RoleUser, "How are you?")
	_, _ = c.Tree.Append(a.ID, RoleAssistant, "Hey there")

	data, err := json.Marshal(c.ToRecord())
	require.NoError(t, err)

	var rec ConversationRecord
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, a.ID.String(), rec.MessageHeadID)
	assert.Empty(t, rec.Messages)
	require.Len(t, rec.AllMessages, 4)
	assert.Equal(t, 2, rec.AllMessages[b.ID.String()].SiblingCount)
	assert.False(t, rec.AllMessages[b.ID.String()].Active)

	loaded, err := FromRecord(&rec)
	require.NoError(t, err)
	assert.Equal(t, c.Name, loaded.Name)
	assert.Equal(t, c.Prompt, loaded.Prompt)
	assert.Equal(t, pathIDs(c.Tree.ActivePath()), pathIDs(loaded.Tree.ActivePath()))
	requireLinkedInvariants(t, loaded.Tree)

	require.NoError(t, loaded.Tree.SelectSibling(b.ID))
	assert.Len(t, loaded.Tree.ActivePath(), 3)
}

func TestFromRecordNormalizesFlatMessages(t *testing.T) {
	rec := &ConversationRecord{
		ID:   "legacy",
		Name: "old",
		Messages: []Message{
			{Role: RoleUser, Content: "Hi"},
			{Role: RoleAssistant, Content: "Hello"},
			{Role: RoleUser, Content: "Bye"},
		},
	}

	c, err := FromRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, rec.Messages, c.ActiveMessages())
	requireLinkedInvariants(t, c.Tree)

	out := c.ToRecord()
	assert.Empty(t, out.Messages)
	assert.Len(t, out.AllMessages, 3)
}

func TestFromRecordPrefersTreeOverFlatMessages(t *testing.T) {
	c := NewConversation(WithName("both"))
	a, _ := c.Tree.Append(NullNode, RoleUser, "Hi")
	b, _ := c.Tree.Append(a.ID, RoleAssistant, "Hello")
	_, _ = c.Tree.Append(a.ID, RoleAssistant, "Hey there")

	rec := c.ToRecord()
	rec.Messages = []Message{{Role: RoleUser, Content: "stale"}}
	assert.False(t, rec.IsLegacy())

	loaded, err := FromRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, pathIDs(c.Tree.ActivePath()), pathIDs(loaded.Tree.ActivePath()))

	out := loaded.ToRecord()
	assert.Empty(t, out.Messages)
	require.Len(t, out.AllMessages, 3)
	assert.Equal(t, a.ID.String(), out.MessageHeadID)
	assert.Contains(t, out.AllMessages, b.ID.String())
}

func TestFromRecordEmpty(t *testing.T) {
	c, err := FromRecord(&ConversationRecord{ID: "empty"})
	require.NoError(t, err)
	assert.Equal(t, 0, c.Tree.Len())
	assert.Empty(t, c.ActiveMessages())
}

func TestFromRecordRejectsMalformed(t *testing.T) {
	valid := func() *ConversationRecord {
		c := NewConversation()
		a, _ := c.Tree.Append(NullNode, RoleUser, "Hi")
		_, _ = c.Tree.Append(a.ID, RoleAssistant, "one")
		_, _ = c.Tree.Append(a.ID, RoleAssistant, "two")
		return c.ToRecord()
	}
	firstChild := func(r *ConversationRecord) string {
		return r.AllMessages[r.MessageHeadID].ChildID
	}

	tests := []struct {
		name   string
		mutate func(r *ConversationRecord)
	}{
		{"missing head", func(r *ConversationRecord) { r.MessageHeadID = NewNodeID().String() }},
		{"no active sibling", func(r *ConversationRecord) {
			for id, m := range r.AllMessages {
				if m.ParentID != "" {
					m.Active = false
					r.AllMessages[id] = m
				}
			}
		}},
		{"two active siblings", func(r *ConversationRecord) {
			for id, m := range r.AllMessages {
				m.Active = true
				r.AllMessages[id] = m
			}
		}},
		{"wrong sibling count", func(r *ConversationRecord) {
			id := firstChild(r)
			m := r.AllMessages[id]
			m.SiblingCount = 5
			r.AllMessages[id] = m
		}},
		{"orphan node", func(r *ConversationRecord) {
			id := NewNodeID().String()
			r.AllMessages[id] = NodeRecord{ID: id, Role: RoleUser, SiblingCount: 1, Active: true}
		}},
		{"sibling cycle", func(r *ConversationRecord) {
			id := firstChild(r)
			m := r.AllMessages[id]
			next := r.AllMessages[m.NextSiblingID]
			next.NextSiblingID = id
			r.AllMessages[m.NextSiblingID] = next
		}},
		{"wrong parent", func(r *ConversationRecord) {
			id := firstChild(r)
			m := r.AllMessages[id]
			m.ParentID = NewNodeID().String()
			r.AllMessages[id] = m
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid()
			tt.mutate(r)
			_, err := FromRecord(r)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedRecord), "got %v", err)
		})
	}
}
