package cmds

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/go-go-golems/branchchat/pkg/conversation"
	"github.com/go-go-golems/branchchat/pkg/settings"
	"github.com/go-go-golems/branchchat/pkg/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withStore(t *testing.T) {
	viper.Reset()
	viper.Set("store-type", "file")
	viper.Set("store-path", t.TempDir())
	t.Cleanup(viper.Reset)
}

func execute(t *testing.T, args ...string) (string, error) {
	root := &cobra.Command{Use: "branchchat", SilenceUsage: true, SilenceErrors: true}
	AddCommands(root)
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestLoadSettingsOverrides(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.Set("model", "gpt-4")
	viper.Set("store-type", "memory")
	viper.Set("codec", "cbor")
	viper.Set("openai-api-key", "sk-test")
	viper.Set("no-stream", true)

	s, err := LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, "gpt-4", s.Chat.Model)
	assert.Equal(t, "memory", s.Store.Type)
	assert.Equal(t, "cbor", s.Store.Codec)
	assert.Equal(t, "sk-test", s.Client.APIKey)
	assert.False(t, s.Chat.Stream)
	assert.NoError(t, s.Validate())
}

func TestNewShowList(t *testing.T) {
	withStore(t)

	out, err := execute(t, "new", "--name", "first")
	require.NoError(t, err)
	firstID := strings.TrimSpace(out)

	out, err = execute(t, "new", "--name", "second", "--prompt", "be terse")
	require.NoError(t, err)
	secondID := strings.TrimSpace(out)

	out, err = execute(t, "show")
	require.NoError(t, err)
	assert.Contains(t, out, "# second ("+secondID)

	out, err = execute(t, "show", "--record")
	require.NoError(t, err)
	assert.Contains(t, out, "be terse")

	entries := listEntries(t)
	require.Len(t, entries, 2)
	assert.Equal(t, firstID, entries[0].ID)
	assert.Equal(t, "first", entries[0].Name)
	assert.False(t, entries[0].Selected)
	assert.Equal(t, secondID, entries[1].ID)
	assert.True(t, entries[1].Selected)

	_, err = execute(t, "select", "--conversation", firstID)
	require.NoError(t, err)
	entries = listEntries(t)
	assert.True(t, entries[0].Selected)
	assert.False(t, entries[1].Selected)
}

func listEntries(t *testing.T) []listEntry {
	a, err := openApp(appOptions{})
	require.NoError(t, err)
	defer a.Close()

	entries, err := listConversations(context.Background(), a.store)
	require.NoError(t, err)
	return entries
}

func TestShowWithoutConversation(t *testing.T) {
	withStore(t)
	_, err := execute(t, "show")
	assert.Error(t, err)
}

func TestSendNeedsAPIKey(t *testing.T) {
	withStore(t)
	t.Setenv("OPENAI_API_KEY", "")
	_, err := execute(t, "send", "hello")
	assert.ErrorIs(t, err, settings.ErrMissingAPIKey)
}

func TestSendUnknownConversationFailsFast(t *testing.T) {
	withStore(t)
	viper.Set("openai-api-key", "sk-test")

	start := time.Now()
	_, err := execute(t, "send", "--conversation", "nope", "hello")
	require.ErrorIs(t, err, store.ErrNotFound)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestWaitForRouter(t *testing.T) {
	running := make(chan struct{})
	runDone := make(chan struct{})
	close(runDone)
	assert.Error(t, waitForRouter(running, runDone))

	close(running)
	assert.NoError(t, waitForRouter(running, make(chan struct{})))
}

func TestWriteTokenCount(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, writeTokenCount(buf, &CountSettings{Model: "gpt-4"}, "hello world"))
	assert.Equal(t, "Model: gpt-4\nEncoding: cl100k_base\nTotal tokens: 2\n", buf.String())
}

func TestWriteFit(t *testing.T) {
	withStore(t)
	_, err := execute(t, "new", "--name", "fit")
	require.NoError(t, err)

	a, err := openApp(appOptions{})
	require.NoError(t, err)
	defer a.Close()
	conv, err := a.conversation(context.Background(), "")
	require.NoError(t, err)
	_, err = conv.Tree.Append(conversation.NullNode, conversation.RoleUser, "Hi")
	require.NoError(t, err)

	buf := &bytes.Buffer{}
	require.NoError(t, writeFit(buf, a.orchestrator, conv))
	assert.True(t, strings.HasPrefix(buf.String(), "kept 1 of 1 messages: "))
	assert.Contains(t, buf.String(), "  1 [user]: Hi\n")
}

func TestPrintActivePathShowsBranches(t *testing.T) {
	conv := conversation.NewConversation(conversation.WithName("branches"))
	a, err := conv.Tree.Append(conversation.NullNode, conversation.RoleUser, "Hi")
	require.NoError(t, err)
	_, err = conv.Tree.Append(a.ID, conversation.RoleAssistant, "Hello")
	require.NoError(t, err)
	c, err := conv.Tree.Append(a.ID, conversation.RoleAssistant, "Hey")
	require.NoError(t, err)

	buf := &bytes.Buffer{}
	require.NoError(t, printActivePath(buf, conv))
	assert.Contains(t, buf.String(), "user "+a.ID.String()+"\nHi\n")
	assert.Contains(t, buf.String(), "assistant "+c.ID.String()+" [2/2]\nHey\n")
}
