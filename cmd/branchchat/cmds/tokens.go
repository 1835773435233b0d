package cmds

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-go-golems/branchchat/pkg/chat"
	"github.com/go-go-golems/branchchat/pkg/conversation"
	"github.com/go-go-golems/branchchat/pkg/tokens"
	"github.com/go-go-golems/branchchat/pkg/window"
	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type CountSettings struct {
	Model    string   `glazed.parameter:"model"`
	Encoding string   `glazed.parameter:"encoding"`
	Backend  string   `glazed.parameter:"backend"`
	Text     []string `glazed.parameter:"text"`
}

type CountCommand struct {
	*cmds.CommandDescription
}

var _ cmds.WriterCommand = (*CountCommand)(nil)

func NewCountCommand() (*CountCommand, error) {
	return &CountCommand{
		CommandDescription: cmds.NewCommandDescription(
			"count",
			cmds.WithShort("Count the tokens of a text, read from stdin when no argument is given"),
			cmds.WithFlags(
				parameters.NewParameterDefinition(
					"model",
					parameters.ParameterTypeString,
					parameters.WithHelp("Model whose encoding is used (default from settings)"),
				),
				parameters.NewParameterDefinition(
					"encoding",
					parameters.ParameterTypeString,
					parameters.WithHelp("Encoding, overrides the one derived from the model"),
				),
				parameters.NewParameterDefinition(
					"backend",
					parameters.ParameterTypeString,
					parameters.WithHelp("Tokenizer backend (tokenizer, tiktoken)"),
				),
			),
			cmds.WithArguments(
				parameters.NewParameterDefinition(
					"text",
					parameters.ParameterTypeStringList,
					parameters.WithHelp("Text to count"),
				),
			),
		),
	}, nil
}

func (c *CountCommand) RunIntoWriter(ctx context.Context, parsedLayers *layers.ParsedLayers, w io.Writer) error {
	cs := &CountSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, cs); err != nil {
		return errors.Wrap(err, "failed to initialize settings")
	}

	s, err := LoadSettings()
	if err != nil {
		return err
	}
	if cs.Model == "" {
		cs.Model = s.Chat.Model
	}
	if cs.Backend == "" {
		cs.Backend = s.Tokenizer.Backend
	}
	if cs.Encoding == "" {
		cs.Encoding = s.Tokenizer.Encoding
	}

	input := strings.Join(cs.Text, " ")
	if len(cs.Text) == 0 {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return err
		}
		input = string(b)
	}

	return writeTokenCount(w, cs, input)
}

// writeTokenCount prints the token count of input. An empty encoding is
// derived from the model.
func writeTokenCount(w io.Writer, cs *CountSettings, input string) error {
	encoding := cs.Encoding
	if encoding == "" {
		encoding = tokens.EncodingForModel(cs.Model)
	}

	f, err := tokens.NewFactory(tokens.Backend(cs.Backend), encoding)
	if err != nil {
		return err
	}
	count, err := tokens.Count(f, input)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "Model: %s\n", cs.Model); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "Encoding: %s\n", encoding); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "Total tokens: %d\n", count)
	return err
}

type FitSettings struct {
	Conversation string `glazed.parameter:"conversation"`
}

type FitCommand struct {
	*cmds.CommandDescription
}

var _ cmds.WriterCommand = (*FitCommand)(nil)

func NewFitCommand() (*FitCommand, error) {
	return &FitCommand{
		CommandDescription: cmds.NewCommandDescription(
			"fit",
			cmds.WithShort("Show which messages of the active path fit into the context window"),
			cmds.WithFlags(conversationParameter()),
		),
	}, nil
}

func (c *FitCommand) RunIntoWriter(ctx context.Context, parsedLayers *layers.ParsedLayers, w io.Writer) error {
	fs := &FitSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, fs); err != nil {
		return errors.Wrap(err, "failed to initialize settings")
	}

	a, err := openApp(appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	conv, err := a.conversation(ctx, fs.Conversation)
	if err != nil {
		return err
	}
	return writeFit(w, a.orchestrator, conv)
}

// writeFit prints the messages the next request would carry along with
// their token cost.
func writeFit(w io.Writer, o *chat.Orchestrator, conv *conversation.Conversation) error {
	req, err := o.Preview(conv)
	if err != nil {
		return err
	}
	f, err := o.TokenizerFactory(conv.Model.ID)
	if err != nil {
		return err
	}
	cost, err := window.Cost(req.Messages, f)
	if err != nil {
		return err
	}
	promptCost, err := tokens.Count(f, req.SystemPrompt)
	if err != nil {
		return err
	}

	total := len(conv.ActiveMessages())
	_, err = fmt.Fprintf(w, "kept %d of %d messages: %d message tokens + %d prompt tokens + %d reserved for the answer, limit %d\n",
		len(req.Messages), total, cost, promptCost, req.MaxTokens, conv.Model.TokenLimit)
	if err != nil {
		return err
	}
	for i, m := range req.Messages {
		_, err := fmt.Fprintf(w, "%3d %s\n", total-len(req.Messages)+i+1, m)
		if err != nil {
			return err
		}
	}
	return nil
}

func newTokensCommand() *cobra.Command {
	tokensCmd := &cobra.Command{
		Use:   "tokens",
		Short: "Token counting helpers",
	}

	countCmdInstance, err := NewCountCommand()
	cobra.CheckErr(err)
	countCommand, err := cli.BuildCobraCommandFromWriterCommand(countCmdInstance)
	cobra.CheckErr(err)
	tokensCmd.AddCommand(countCommand)

	return tokensCmd
}

func newFitCommand() *cobra.Command {
	fitCmdInstance, err := NewFitCommand()
	cobra.CheckErr(err)
	fitCommand, err := cli.BuildCobraCommandFromWriterCommand(fitCmdInstance)
	cobra.CheckErr(err)
	return fitCommand
}
