package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stellarlinkco/companion/internal/app"
	"github.com/stellarlinkco/companion/internal/gateway"
)

const defaultPersonaID = "user"

func (c *cli) chatCommands() []*cobra.Command {
	var (
		persona string
		message string
	)
	chatCmd := &cobra.Command{
		Use:   "chat <character-id>",
		Short: "Chat with a character in single message or REPL mode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runChat(cmd, args[0], persona, message)
		},
	}
	chatCmd.Flags().StringVarP(&persona, "persona", "p", defaultPersonaID, "Persona to chat as")
	chatCmd.Flags().StringVarP(&message, "message", "m", "", "Single message to send")

	var askPersona string
	askCmd := &cobra.Command{
		Use:   "ask <character-id> <question>",
		Short: "Send one question without recording history",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeLog, err := c.open()
			if err != nil {
				return err
			}
			defer closeLog()

			resp, err := a.AskQuestion(cmd.Context(), gateway.AskRequest{
				Question:    strings.Join(args[1:], " "),
				CharacterID: args[0],
				UserID:      askPersona,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(c.stdout, resp.Answer)
			return nil
		},
	}
	askCmd.Flags().StringVarP(&askPersona, "persona", "p", defaultPersonaID, "Persona asking")

	var resetPersona string
	resetCmd := &cobra.Command{
		Use:   "reset <character-id>",
		Short: "Reset a conversation on the gateway and locally",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeLog, err := c.open()
			if err != nil {
				return err
			}
			defer closeLog()

			ack, err := a.ResetConversation(cmd.Context(), args[0], resetPersona)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.stdout, ack)
			return nil
		},
	}
	resetCmd.Flags().StringVarP(&resetPersona, "persona", "p", defaultPersonaID, "Persona of the conversation")

	return []*cobra.Command{chatCmd, askCmd, resetCmd}
}

func (c *cli) runChat(cmd *cobra.Command, characterID, personaID, message string) error {
	a, closeLog, err := c.open()
	if err != nil {
		return err
	}
	defer closeLog()

	ctx := cmd.Context()

	// Single message mode
	if message != "" {
		answer, err := a.ChatWithCharacter(ctx, characterID, personaID, message)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.stdout, answer)
		return nil
	}

	ch, err := a.LoadCharacterByID(characterID)
	if err != nil {
		return err
	}

	// REPL mode
	fmt.Fprintf(c.stdout, "Chatting with %s as %s (type 'exit' to quit)\n", ch.Name, personaID)
	if ch.Greeting != "" {
		fmt.Fprintf(c.stdout, "\n%s: %s\n", ch.Name, ch.Greeting)
	}
	scanner := bufio.NewScanner(c.stdin)
	for {
		fmt.Fprint(c.stdout, "\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}

		answer, err := a.ChatWithCharacter(ctx, characterID, personaID, input)
		if err != nil {
			fmt.Fprintln(c.stderr, app.Display(err))
			continue
		}
		fmt.Fprintf(c.stdout, "%s: %s\n", ch.Name, answer)
	}
	return scanner.Err()
}
