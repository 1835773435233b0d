package cmds

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/go-go-golems/branchchat/pkg/chat"
	"github.com/go-go-golems/branchchat/pkg/conversation"
	"github.com/go-go-golems/branchchat/pkg/events"
	"github.com/go-go-golems/branchchat/pkg/streaming"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

type answerFunc func(ctx context.Context, o *chat.Orchestrator, conv *conversation.Conversation) (*chat.Result, error)

// runAnswer prints the streamed answer produced by f. Ctrl-C cancels the
// stream and keeps what was received so far.
func runAnswer(cmd *cobra.Command, createIfMissing bool, f answerFunc) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	// events go nowhere until the printer router is subscribed below
	publisher := events.NewPublisherManager()
	a, err := openApp(appOptions{
		withTransport: true,
		sink:          publisher,
	})
	if err != nil {
		return err
	}
	defer a.Close()

	id, _ := cmd.Flags().GetString("conversation")
	conv, err := a.conversation(ctx, id)
	if err != nil {
		if !createIfMissing || id != "" {
			return err
		}
		conv, err = a.orchestrator.NewConversation(ctx)
		if err != nil {
			return err
		}
	}

	router, err := events.NewEventRouter(events.WithVerbose(viper.GetBool("verbose")))
	if err != nil {
		return errors.Wrap(err, "failed to create event router")
	}
	defer func() {
		_ = router.Close()
	}()
	router.AddHandler("printer", events.TopicChat, events.StepPrinterFunc("", cmd.OutOrStdout()))
	publisher.SubscribePublisher(events.TopicChat, router.Publisher)

	// the router outlives ctx so that an interrupt still gets printed
	routerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eg := errgroup.Group{}
	runDone := make(chan struct{})
	eg.Go(func() error {
		defer close(runDone)
		return router.Run(routerCtx)
	})

	var res *chat.Result
	eg.Go(func() error {
		defer cancel()
		if err := waitForRouter(router.Running(), runDone); err != nil {
			return err
		}

		var err error
		res, err = f(ctx, a.orchestrator, conv)
		return err
	})

	if err := eg.Wait(); err != nil {
		return err
	}

	if res != nil {
		log.Debug().
			Str("conversation_id", conv.ID).
			Str("message_id", res.MessageID.String()).
			Str("state", string(res.State)).
			Msg("answer done")
		if res.State == streaming.StateCancelled {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "message %s kept with the partial answer\n", res.MessageID)
		}
	}
	return nil
}

// waitForRouter blocks until the router is running or its Run has returned.
func waitForRouter(running <-chan struct{}, runDone <-chan struct{}) error {
	select {
	case <-running:
		return nil
	case <-runDone:
		return errors.New("event router stopped before running")
	}
}

func newNewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Start a new conversation and select it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			options := []conversation.ConversationOption{}
			if name, _ := cmd.Flags().GetString("name"); name != "" {
				options = append(options, conversation.WithName(name))
			}
			if cmd.Flags().Changed("prompt") {
				prompt, _ := cmd.Flags().GetString("prompt")
				options = append(options, conversation.WithPrompt(prompt))
			}
			if cmd.Flags().Changed("temperature") {
				temperature, _ := cmd.Flags().GetFloat64("temperature")
				options = append(options, conversation.WithTemperature(temperature))
			}
			if folder, _ := cmd.Flags().GetString("folder"); folder != "" {
				options = append(options, conversation.WithFolderID(folder))
			}

			conv, err := a.orchestrator.NewConversation(cmd.Context(), options...)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), conv.ID)
			return err
		},
	}
	cmd.Flags().String("name", "", "Conversation name")
	cmd.Flags().String("prompt", "", "System prompt (default from settings)")
	cmd.Flags().Float64("temperature", 0, "Sampling temperature (default from settings)")
	cmd.Flags().String("folder", "", "Folder id")
	return cmd
}

func newSendCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <text>...",
		Short: "Send a message and stream the answer",
		Long:  "Send a message at the end of the active path. Without a selected conversation a new one is started.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			return runAnswer(cmd, true, func(ctx context.Context, o *chat.Orchestrator, conv *conversation.Conversation) (*chat.Result, error) {
				return o.Send(ctx, conv, text)
			})
		},
	}
	addConversationFlag(cmd)
	return cmd
}

func newEditCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit <message-id> [text]...",
		Short: "Branch off a message",
		Long: "Editing a user message adds the new text as a sibling and answers it. " +
			"Editing an assistant message regenerates it.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := conversation.ParseNodeID(args[0])
			if err != nil {
				return err
			}
			text := strings.Join(args[1:], " ")
			return runAnswer(cmd, false, func(ctx context.Context, o *chat.Orchestrator, conv *conversation.Conversation) (*chat.Result, error) {
				node, ok := conv.Tree.GetMessageByID(id)
				if ok && node.Role == conversation.RoleUser && text == "" {
					return nil, errors.New("editing a user message needs the new text")
				}
				return o.Edit(ctx, conv, id, text)
			})
		},
	}
	addConversationFlag(cmd)
	return cmd
}

func newRegenerateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "regenerate",
		Short: "Generate another answer to the last user message",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnswer(cmd, false, func(ctx context.Context, o *chat.Orchestrator, conv *conversation.Conversation) (*chat.Result, error) {
				return o.Regenerate(ctx, conv)
			})
		},
	}
	addConversationFlag(cmd)
	return cmd
}

func newSelectCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "select [message-id]",
		Short: "Select a conversation or switch to another branch",
		Long: "With a message id, make that message the active one among its siblings. " +
			"Without, make the conversation given by --conversation the selected one.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			convID, _ := cmd.Flags().GetString("conversation")
			if len(args) == 0 && convID == "" {
				return errors.New("give a message id or --conversation")
			}
			conv, err := a.conversation(cmd.Context(), convID)
			if err != nil {
				return err
			}

			if len(args) == 0 {
				if err := a.store.Save(cmd.Context(), conv); err != nil {
					return err
				}
				return printActivePath(cmd.OutOrStdout(), conv)
			}

			id, err := conversation.ParseNodeID(args[0])
			if err != nil {
				return err
			}
			if err := a.orchestrator.SelectBranch(cmd.Context(), conv, id); err != nil {
				return err
			}
			return printActivePath(cmd.OutOrStdout(), conv)
		},
	}
	addConversationFlag(cmd)
	return cmd
}

func newNameCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "name",
		Short: "Ask the model for a short conversation name",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			a, err := openApp(appOptions{withTransport: true})
			if err != nil {
				return err
			}
			defer a.Close()

			id, _ := cmd.Flags().GetString("conversation")
			conv, err := a.conversation(ctx, id)
			if err != nil {
				return err
			}
			name, err := a.orchestrator.Name(ctx, conv)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), name)
			return err
		},
	}
	addConversationFlag(cmd)
	return cmd
}
