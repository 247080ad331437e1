package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/tangent/pkg/condense"
	"github.com/go-go-golems/tangent/pkg/conversation"
	"github.com/go-go-golems/tangent/pkg/events"
	"github.com/go-go-golems/tangent/pkg/inference"
	"github.com/go-go-golems/tangent/pkg/session"
)

func newChatCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Interactive branching chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			apiKey := viper.GetString("openai-api-key")
			if apiKey == "" {
				return errors.New("no OpenAI API key configured (--openai-api-key or TANGENT_OPENAI_API_KEY)")
			}

			var engineOptions []inference.EngineOption
			if model := viper.GetString("model"); model != "" {
				engineOptions = append(engineOptions, inference.WithModel(model))
			}
			engine := inference.NewEngine(apiKey, engineOptions...)

			publisher, _ := events.NewInProcessPublisher()
			defer func() { _ = publisher.Close() }()

			registry := conversation.NewRegistry(
				conversation.WithSlot(openSlot()),
				conversation.WithPublisher(publisher),
			)
			s := session.New(registry,
				session.WithCompleter(engine),
				session.WithBranchNamer(engine),
				session.WithConversationNamer(engine),
				session.WithCondenser(condense.NewCache(engine, condense.WithPublisher(publisher))),
			)

			return runRepl(cmd.Context(), s)
		},
	}
}

func runRepl(ctx context.Context, s *session.Session) error {
	fmt.Println("tangent — type a message, /help for commands, /quit to exit")
	printFocus(s.Registry())

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), conversation.MaxContentLength+1024)
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
			if quit := runCommand(ctx, s, line); quit {
				return nil
			}
			continue
		}

		reply, err := s.SendMessage(ctx, line)
		if err != nil {
			if conversation.IsValidationError(err) {
				fmt.Printf("invalid input: %v\n", err)
			} else {
				fmt.Println("could not get a response, try again")
			}
			continue
		}
		fmt.Printf("\n%s\n\n", reply.Content)
	}
}

// runCommand dispatches a slash command; returns true to quit the REPL.
func runCommand(ctx context.Context, s *session.Session, line string) bool {
	reg := s.Registry()
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/quit", "/exit":
		return true

	case "/help":
		fmt.Println(`commands:
  /fork <message-id> [title...]   branch off a message of the current branch
  /branches                       list active branches
  /tree                           show the branch tree
  /switch <branch-id>             focus a branch
  /close <branch-id>              close (hide) a branch
  /delete-branch <branch-id>      delete a branch and its sub-branches
  /star <message-id>              toggle a star
  /starred                        list starred messages
  /outline [refresh]              show the condensed outline
  /jump <message-id>              switch to the branch containing a message
  /new [title...]                 start a new conversation
  /conversations                  list conversations
  /quit`)

	case "/fork":
		if len(args) < 1 {
			fmt.Println("usage: /fork <message-id> [title...]")
			return false
		}
		title := strings.Join(args[1:], " ")
		b, err := s.Fork(ctx, args[0], title, "")
		if err != nil {
			fmt.Printf("fork failed: %v\n", err)
			return false
		}
		fmt.Printf("forked %q (%s)\n", b.Title, b.ID)
		printFocus(reg)

	case "/branches":
		conv := reg.Current()
		if conv == nil {
			fmt.Println("no conversation")
			return false
		}
		for _, b := range reg.ListActive(conv.ID) {
			marker := " "
			if b.ID == conv.CurrentBranch {
				marker = "*"
			}
			fmt.Printf("%s %s  %s (%d messages)\n", marker, b.ID, b.Title, len(b.Messages))
		}

	case "/tree":
		conv := reg.Current()
		if conv == nil {
			fmt.Println("no conversation")
			return false
		}
		printTree(reg.ProjectTree(conv.ID), 0)

	case "/switch":
		if len(args) != 1 {
			fmt.Println("usage: /switch <branch-id>")
			return false
		}
		conv := reg.Current()
		if conv == nil || !reg.SwitchBranch(conv.ID, args[0]) {
			fmt.Println("no such branch")
			return false
		}
		printFocus(reg)

	case "/close":
		if len(args) != 1 {
			fmt.Println("usage: /close <branch-id>")
			return false
		}
		conv := reg.Current()
		if conv == nil || !reg.CloseBranch(conv.ID, args[0]) {
			fmt.Println("cannot close that branch")
			return false
		}
		printFocus(reg)

	case "/delete-branch":
		if len(args) != 1 {
			fmt.Println("usage: /delete-branch <branch-id>")
			return false
		}
		conv := reg.Current()
		if conv == nil || !reg.DeleteBranch(conv.ID, args[0]) {
			fmt.Println("cannot delete that branch")
			return false
		}
		printFocus(reg)

	case "/star":
		if len(args) != 1 {
			fmt.Println("usage: /star <message-id>")
			return false
		}
		conv := reg.Current()
		if conv == nil {
			fmt.Println("no conversation")
			return false
		}
		starred, err := reg.ToggleStar(conv.CurrentBranch, args[0])
		if err != nil {
			fmt.Printf("star failed: %v\n", err)
			return false
		}
		fmt.Printf("starred: %v\n", starred)

	case "/starred":
		for _, sm := range reg.ListStarred() {
			fmt.Printf("%s  [%s / %s] %s\n", sm.Message.ID, sm.ConversationTitle, sm.BranchTitle, sm.Message.Content)
		}

	case "/outline":
		force := len(args) > 0 && args[0] == "refresh"
		result, err := s.Outline(ctx, force)
		if err != nil {
			fmt.Printf("outline failed: %v\n", err)
			return false
		}
		if result.ParseError {
			fmt.Printf("(degraded summary: %s)\n", result.ErrorMessage)
		}
		for _, item := range result.Items {
			fmt.Printf("- %s (%s)\n", item.Title, item.SourceMessageID)
			for _, child := range item.Children {
				fmt.Printf("  - %s (%s)\n", child.Title, child.SourceMessageID)
			}
		}

	case "/jump":
		if len(args) != 1 {
			fmt.Println("usage: /jump <message-id>")
			return false
		}
		if !reg.JumpToMessage(args[0]) {
			fmt.Println("message not found")
			return false
		}
		printFocus(reg)

	case "/new":
		title := strings.Join(args, " ")
		if title == "" {
			title = conversation.DefaultConversationTitle
		}
		if _, err := reg.NewConversation(title); err != nil {
			fmt.Printf("could not create conversation: %v\n", err)
			return false
		}
		printFocus(reg)

	case "/conversations":
		for id, conv := range reg.Conversations {
			marker := " "
			if id == reg.CurrentConversationID {
				marker = "*"
			}
			fmt.Printf("%s %s  %s\n", marker, id, conv.Title)
		}

	default:
		fmt.Printf("unknown command %s, see /help\n", cmd)
	}
	return false
}

func printFocus(reg *conversation.Registry) {
	conv := reg.Current()
	if conv == nil {
		fmt.Println("(no conversation focused, use /new)")
		return
	}
	fmt.Printf("[%s] %s\n", conv.Title, strings.Join(conv.Breadcrumbs, " > "))
}

func printTree(node *conversation.TreeNode, depth int) {
	if node == nil {
		return
	}
	marker := " "
	if node.IsFocused {
		marker = "*"
	}
	fmt.Printf("%s%s %s (%s)\n", strings.Repeat("  ", depth), marker, node.Title, node.ID)
	for _, child := range node.Children {
		printTree(child, depth+1)
	}
}
