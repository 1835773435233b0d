package cmds

import (
	"context"
	"fmt"
	"io"

	"github.com/go-go-golems/branchchat/pkg/conversation"
	"github.com/go-go-golems/branchchat/pkg/store"
	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	glazedsettings "github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func printActivePath(w io.Writer, conv *conversation.Conversation) error {
	if _, err := fmt.Fprintf(w, "# %s (%s, %s)\n", conv.Name, conv.ID, conv.Model.ID); err != nil {
		return err
	}
	for _, e := range conv.Tree.ActivePath() {
		branch := ""
		if e.SiblingCount > 1 {
			branch = fmt.Sprintf(" [%d/%d]", e.Position, e.SiblingCount)
		}
		_, err := fmt.Fprintf(w, "\n%s %s%s\n%s\n", e.Node.Role, e.Node.ID, branch, e.Node.Content)
		if err != nil {
			return err
		}
	}
	return nil
}

func newShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the active path of a conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			id, _ := cmd.Flags().GetString("conversation")
			conv, err := a.conversation(cmd.Context(), id)
			if err != nil {
				return err
			}

			if record, _ := cmd.Flags().GetBool("record"); record {
				b, err := yaml.Marshal(conv.ToRecord())
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(b)
				return err
			}
			return printActivePath(cmd.OutOrStdout(), conv)
		},
	}
	addConversationFlag(cmd)
	cmd.Flags().Bool("record", false, "Print the stored record, all branches included, as YAML")
	return cmd
}

type ListCommand struct {
	*cmds.CommandDescription
}

var _ cmds.GlazeCommand = (*ListCommand)(nil)

func NewListCommand() (*ListCommand, error) {
	glazedLayer, err := glazedsettings.NewGlazedParameterLayers()
	if err != nil {
		return nil, err
	}
	return &ListCommand{
		CommandDescription: cmds.NewCommandDescription(
			"list",
			cmds.WithShort("List saved conversations"),
			cmds.WithLayersList(glazedLayer),
		),
	}, nil
}

func (c *ListCommand) RunIntoGlazeProcessor(ctx context.Context, parsedLayers *layers.ParsedLayers, gp middlewares.Processor) error {
	a, err := openApp(appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	entries, err := listConversations(ctx, a.store)
	if err != nil {
		return err
	}
	for _, e := range entries {
		row := types.NewRow(
			types.MRP("selected", e.Selected),
			types.MRP("id", e.ID),
			types.MRP("name", e.Name),
			types.MRP("model", e.Model),
			types.MRP("messages", e.Messages),
		)
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

type listEntry struct {
	Selected bool
	ID       string
	Name     string
	Model    string
	Messages int
}

func listConversations(ctx context.Context, st *store.Store) ([]listEntry, error) {
	selectedID := ""
	selected, err := st.LoadSelected(ctx)
	switch {
	case err == nil:
		selectedID = selected.ID
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	all, err := st.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	ret := make([]listEntry, 0, len(all))
	for _, c := range all {
		ret = append(ret, listEntry{
			Selected: c.ID == selectedID,
			ID:       c.ID,
			Name:     c.Name,
			Model:    c.Model.ID,
			Messages: c.Tree.Len(),
		})
	}
	return ret, nil
}

func newListCommand() *cobra.Command {
	listCmdInstance, err := NewListCommand()
	cobra.CheckErr(err)
	listCommand, err := cli.BuildCobraCommandFromGlazeCommand(listCmdInstance)
	cobra.CheckErr(err)
	return listCommand
}
