// Package cmds holds the cobra commands of the branchchat CLI.
package cmds

import (
	"context"
	"os"

	"github.com/go-go-golems/branchchat/pkg/chat"
	"github.com/go-go-golems/branchchat/pkg/conversation"
	"github.com/go-go-golems/branchchat/pkg/events"
	"github.com/go-go-golems/branchchat/pkg/settings"
	"github.com/go-go-golems/branchchat/pkg/store"
	"github.com/go-go-golems/branchchat/pkg/transport/openai"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// AddCommands registers every branchchat command on root.
func AddCommands(root *cobra.Command) {
	root.AddCommand(
		newNewCommand(),
		newSendCommand(),
		newEditCommand(),
		newRegenerateCommand(),
		newSelectCommand(),
		newNameCommand(),
		newShowCommand(),
		newListCommand(),
		newFitCommand(),
		newTokensCommand(),
	)
}

// LoadSettings layers the config file, environment and flags over the
// built-in defaults.
func LoadSettings() (*settings.Settings, error) {
	var s *settings.Settings
	var err error

	if f := viper.ConfigFileUsed(); f != "" {
		b, err := os.ReadFile(f)
		if err != nil {
			return nil, errors.Wrapf(err, "could not read %s", f)
		}
		s, err = settings.NewSettingsFromYAML(b)
		if err != nil {
			return nil, errors.Wrapf(err, "could not load %s", f)
		}
	} else {
		s, err = settings.NewSettings()
		if err != nil {
			return nil, err
		}
	}

	if v := viper.GetString("openai-api-key"); v != "" {
		s.Client.APIKey = v
	}
	if v := viper.GetString("openai-base-url"); v != "" {
		s.Client.BaseURL = v
	}
	if v := viper.GetString("model"); v != "" {
		s.Chat.Model = v
	}
	if v := viper.GetString("store-type"); v != "" {
		s.Store.Type = v
	}
	if v := viper.GetString("store-path"); v != "" {
		s.Store.Path = v
	}
	if v := viper.GetString("codec"); v != "" {
		s.Store.Codec = v
	}
	if viper.GetBool("no-stream") {
		s.Chat.Stream = false
	}

	return s, nil
}

// app bundles what a command needs to work on conversations.
type app struct {
	settings     *settings.Settings
	store        *store.Store
	orchestrator *chat.Orchestrator
}

type appOptions struct {
	withTransport bool
	sink          events.EventSink
}

func openApp(opts appOptions) (*app, error) {
	s, err := LoadSettings()
	if err != nil {
		return nil, err
	}

	st, err := store.Open(s.Store)
	if err != nil {
		return nil, err
	}

	options := []chat.Option{
		chat.WithSettings(s),
		chat.WithStore(st),
	}
	if opts.sink != nil {
		options = append(options, chat.WithEventSink(opts.sink))
	}
	if opts.withTransport {
		if err := s.Validate(); err != nil {
			_ = st.Close()
			return nil, err
		}
		client, err := openai.NewClient(s.Client)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		options = append(options, chat.WithTransport(client))
	}

	o, err := chat.NewOrchestrator(options...)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	return &app{settings: s, store: st, orchestrator: o}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		log.Warn().Err(err).Msg("could not close store")
	}
}

// conversation returns the conversation with the given id, or the selected
// one when id is empty.
func (a *app) conversation(ctx context.Context, id string) (*conversation.Conversation, error) {
	if id != "" {
		return a.store.Find(ctx, id)
	}
	conv, err := a.store.LoadSelected(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errors.New("no conversation selected, start one with `branchchat new`")
	}
	return conv, err
}

func conversationParameter() *parameters.ParameterDefinition {
	return parameters.NewParameterDefinition(
		"conversation",
		parameters.ParameterTypeString,
		parameters.WithHelp("Conversation id (default: the selected conversation)"),
		parameters.WithShortFlag("c"),
	)
}

func addConversationFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("conversation", "c", "", "Conversation id (default: the selected conversation)")
}
