package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/stellarlinkco/companion/internal/app"
)

func (c *cli) recentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recent",
		Short: "List conversations, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(func(a *app.App) error {
				chats, err := a.LoadRecentChats()
				if err != nil {
					return err
				}
				if len(chats) == 0 {
					fmt.Fprintln(c.stdout, "No conversations.")
					return nil
				}
				w := tabwriter.NewWriter(c.stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "CHARACTER\tPERSONA\tMESSAGES\tLAST USED")
				for _, rc := range chats {
					last := "-"
					if !rc.LastUsed.IsZero() {
						last = rc.LastUsed.Local().Format(time.DateTime)
					}
					fmt.Fprintf(w, "%s (%s)\t%s\t%d\t%s\n", rc.CharacterName, rc.CharacterID, rc.PersonaID, rc.MessageCount, last)
				}
				return w.Flush()
			})
		},
	}
}

func (c *cli) historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show or delete a conversation history",
	}

	showCmd := &cobra.Command{
		Use:   "show <character-id> <persona-id>",
		Short: "Print a conversation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(func(a *app.App) error {
				msgs, err := a.LoadChatHistory(args[0], args[1])
				if err != nil {
					return err
				}
				if len(msgs) == 0 {
					fmt.Fprintln(c.stdout, "No messages.")
					return nil
				}
				for _, m := range msgs {
					if m.Timestamp != "" {
						fmt.Fprintf(c.stdout, "[%s] ", m.Timestamp)
					}
					fmt.Fprintf(c.stdout, "%s: %s\n", m.Role, m.Content)
				}
				return nil
			})
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <character-id> <persona-id>",
		Short: "Delete a conversation locally",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(func(a *app.App) error {
				if err := a.DeleteChatHistory(args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(c.stdout, "Deleted history %s/%s\n", args[0], args[1])
				return nil
			})
		},
	}

	cmd.AddCommand(showCmd, deleteCmd)
	return cmd
}
