package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/spellbook/pkg/chat"
	"github.com/go-go-golems/spellbook/pkg/conversation"
	"github.com/go-go-golems/spellbook/pkg/events"
)

func newChatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat [prompt]",
		Short: "Send a single prompt, or start an interactive session",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			persona, _ := cmd.Flags().GetString("persona")
			echoEvents, _ := cmd.Flags().GetBool("echo-events")

			session, cleanup, err := buildSession(cmd.Context(), persona, echoEvents)
			if err != nil {
				return err
			}
			defer cleanup()

			if len(args) > 0 {
				return runOnce(cmd.Context(), session, strings.Join(args, " "))
			}
			return runRepl(cmd.Context(), session)
		},
	}
	cmd.Flags().String("persona", "", "persona to activate")
	cmd.Flags().Bool("echo-events", false, "print turn events as NDJSON to stderr")
	return cmd
}

func buildSession(ctx context.Context, persona string, echoEvents bool) (*chat.Session, func(), error) {
	client, err := newClient()
	if err != nil {
		return nil, nil, err
	}

	options := []chat.SessionOption{chat.WithDefaultModel(viper.GetString("model"))}

	personaProvider, err := newPersonaProvider()
	if err != nil {
		return nil, nil, err
	}
	if personaProvider != nil {
		options = append(options, chat.WithPersonaProvider(personaProvider))
	}

	snippetProvider, err := newSnippetProvider()
	if err != nil {
		return nil, nil, err
	}
	if snippetProvider != nil {
		options = append(options, chat.WithSnippetProvider(snippetProvider))
	}

	st, err := newStore()
	if err != nil {
		return nil, nil, err
	}
	if st != nil {
		options = append(options, chat.WithStore(st))
	}

	cleanup := func() {}
	if echoEvents {
		pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, watermill.NopLogger{})
		messages, err := pubSub.Subscribe(ctx, "chat")
		if err != nil {
			return nil, nil, err
		}

		group, _ := errgroup.WithContext(ctx)
		group.Go(func() error {
			for msg := range messages {
				fmt.Fprintln(os.Stderr, string(msg.Payload))
				msg.Ack()
			}
			return nil
		})
		cleanup = func() {
			_ = pubSub.Close()
			_ = group.Wait()
		}

		manager := events.NewPublisherManager()
		manager.SubscribePublisher("chat", pubSub)
		options = append(options, chat.WithPublisher(manager))
	}

	session, err := chat.NewSession(client, options...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	if persona != "" {
		if err := session.SetPersona(persona); err != nil {
			cleanup()
			return nil, nil, err
		}
	}

	return session, cleanup, nil
}

func runOnce(ctx context.Context, session *chat.Session, prompt string) error {
	_, err := session.Send(ctx, prompt, chat.WithChunkHandler(func(delta string) {
		fmt.Print(delta)
	}))
	if err != nil {
		return err
	}
	fmt.Println()
	return nil
}

func runRepl(ctx context.Context, session *chat.Session) error {
	fmt.Println("spellbook chat, /help for commands, /quit to leave")
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			done, err := runReplCommand(ctx, session, line)
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			}
			if done {
				return nil
			}
			continue
		}

		if err := runOnce(ctx, session, line); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}

func runReplCommand(ctx context.Context, session *chat.Session, line string) (bool, error) {
	fields := strings.Fields(line)
	command, args := fields[0], fields[1:]

	switch command {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Println(`/persona NAME      activate a persona
/snippet NAME      inject a snippet as a system message
/set KEY VALUE     set a session override
/overrides         show current overrides
/history           print the conversation
/models            list backend models
/save              persist the conversation
/load ID           load a persisted conversation
/list              list persisted conversations
/clear             clear the conversation (keeps system messages)
/new               start a fresh conversation
/quit              leave`)
		return false, nil
	case "/persona":
		if len(args) != 1 {
			return false, errors.New("usage: /persona NAME")
		}
		return false, session.SetPersona(args[0])
	case "/snippet":
		if len(args) != 1 {
			return false, errors.New("usage: /snippet NAME")
		}
		return false, session.AddSnippet(args[0], conversation.RoleSystem)
	case "/set":
		if len(args) != 2 {
			return false, errors.New("usage: /set KEY VALUE")
		}
		session.SetOverride(args[0], parseOverrideValue(args[1]))
		return false, nil
	case "/overrides":
		for key, value := range session.Overrides() {
			fmt.Printf("%s = %v\n", key, value)
		}
		return false, nil
	case "/history":
		for _, msg := range session.History() {
			fmt.Println(msg.View())
		}
		return false, nil
	case "/models":
		models, err := session.AvailableModels(ctx)
		if err != nil {
			return false, err
		}
		for _, m := range models {
			fmt.Printf("%s (%s)\n", m.ID, m.OwnedBy)
		}
		return false, nil
	case "/save":
		id, err := session.SaveConversation(ctx)
		if err != nil {
			return false, err
		}
		fmt.Printf("saved as %s\n", id)
		return false, nil
	case "/load":
		if len(args) != 1 {
			return false, errors.New("usage: /load ID")
		}
		return false, session.LoadConversation(ctx, args[0])
	case "/list":
		entries, err := session.ListConversations(ctx)
		if err != nil {
			return false, err
		}
		for _, entry := range entries {
			fmt.Printf("%s  %d messages, %d turns\n", entry.ID, entry.Metadata.MessageCount, entry.Metadata.Turns)
		}
		return false, nil
	case "/clear":
		session.ClearConversation(true)
		return false, nil
	case "/new":
		session.NewConversation()
		return false, nil
	default:
		return false, errors.Errorf("unknown command %s", command)
	}
}

func parseOverrideValue(raw string) interface{} {
	if raw == "true" {
		return true
	}
	if raw == "false" {
		return false
	}
	var f float64
	if _, err := fmt.Sscanf(raw, "%f", &f); err == nil {
		return f
	}
	return raw
}
