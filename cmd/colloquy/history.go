package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"colloquy/internal/domain"
	"colloquy/internal/usecase/conversation"
)

// HistoryFlags select what the history command does.
type HistoryFlags struct {
	Show   string
	Delete string
}

// BindFlags registers the flags on fs.
func (f *HistoryFlags) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&f.Show, "show", "", "Print the messages of the conversation with this ID or list number")
	fs.StringVar(&f.Delete, "delete", "", "Delete the conversation with this ID or list number")
}

func newHistoryCommand(g *GlobalFlags) *cobra.Command {
	f := &HistoryFlags{}
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List, show or delete saved conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.History.Backend == "none" {
				return fmt.Errorf("history is disabled (history.backend is none)")
			}

			rt, err := initRuntime(cmd.Context(), cfg, runtimeOptions{})
			defer rt.close()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch {
			case f.Delete != "":
				id, err := lookupConversation(rt.store, f.Delete)
				if err != nil {
					return err
				}
				if err := rt.store.Delete(id); err != nil {
					return err
				}
				fmt.Fprintf(out, "Deleted %s\n", id)
				return nil
			case f.Show != "":
				id, err := lookupConversation(rt.store, f.Show)
				if err != nil {
					return err
				}
				conv, err := rt.store.Get(id)
				if err != nil {
					return err
				}
				printConversation(out, conv)
				return nil
			default:
				printConversations(out, rt.store.Conversations())
				return nil
			}
		},
	}
	f.BindFlags(cmd.Flags())
	return cmd
}

// lookupConversation accepts a conversation ID or its 1-based position in
// creation order.
func lookupConversation(store *conversation.Store, ref string) (string, error) {
	if store.Exists(ref) {
		return ref, nil
	}
	if n, err := strconv.Atoi(ref); err == nil {
		convs := store.Conversations()
		if n >= 1 && n <= len(convs) {
			return convs[n-1].ID, nil
		}
	}
	return "", domain.NewDomainError("lookupConversation", domain.ErrConversationNotFound, ref)
}

func printConversations(w io.Writer, convs []domain.ConversationSummary) {
	if len(convs) == 0 {
		fmt.Fprintln(w, "No saved conversations.")
		return
	}
	for i, c := range convs {
		fmt.Fprintf(w, "%3d  %s  %-40s %d messages\n", i+1, c.ID, c.Title, c.MessageCount)
	}
}

func printConversation(w io.Writer, conv domain.Conversation) {
	fmt.Fprintf(w, "# %s\n", conv.Title)
	for _, m := range conv.Messages {
		label := "You"
		if m.Role == domain.RoleAssistant {
			label = "Assistant"
			if m.Model != "" {
				label += " (" + m.Model + ")"
			}
		}
		fmt.Fprintf(w, "\n[%s] %s\n%s\n", m.Timestamp.Format(time.DateTime), label, m.Content)
	}
}
