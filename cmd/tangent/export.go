package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/tangent/pkg/conversation"
)

type exportedMessage struct {
	ID        string    `json:"id" yaml:"id"`
	Sender    string    `json:"sender" yaml:"sender"`
	Content   string    `json:"content" yaml:"content"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Starred   bool      `json:"starred,omitempty" yaml:"starred,omitempty"`
}

type exportedBranch struct {
	ID       string            `json:"id" yaml:"id"`
	Title    string            `json:"title" yaml:"title"`
	Parent   string            `json:"parent,omitempty" yaml:"parent,omitempty"`
	Messages []exportedMessage `json:"messages" yaml:"messages"`
}

type exportedConversation struct {
	ID       string           `json:"id" yaml:"id"`
	Title    string           `json:"title" yaml:"title"`
	Branches []exportedBranch `json:"branches" yaml:"branches"`
}

func newExportCommand() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the current conversation transcript to stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := conversation.NewRegistry(conversation.WithSlot(openSlot()))
			conv := registry.Current()
			if conv == nil {
				return errors.New("no conversation to export")
			}

			out := exportedConversation{ID: conv.ID, Title: conv.Title}
			for _, b := range registry.ListActive(conv.ID) {
				eb := exportedBranch{ID: b.ID, Title: b.Title, Parent: b.ParentBranchID}
				for _, m := range b.Messages {
					eb.Messages = append(eb.Messages, exportedMessage{
						ID:        m.ID,
						Sender:    string(m.Sender),
						Content:   m.Content,
						Timestamp: m.Timestamp,
						Starred:   m.Starred,
					})
				}
				out.Branches = append(out.Branches, eb)
			}

			switch format {
			case "yaml":
				return yaml.NewEncoder(os.Stdout).Encode(out)
			case "json":
				encoder := json.NewEncoder(os.Stdout)
				encoder.SetIndent("", "  ")
				return encoder.Encode(out)
			default:
				return errors.Errorf("unknown format %q (json, yaml)", format)
			}
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "output format (json, yaml)")
	return cmd
}
