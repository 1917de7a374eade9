package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"
	"unicode"

	"github.com/spf13/cobra"

	"github.com/stellarlinkco/companion/internal/app"
	"github.com/stellarlinkco/companion/internal/store"
)

func (c *cli) characterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "character",
		Aliases: []string{"characters"},
		Short:   "Manage characters",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List characters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(func(a *app.App) error {
				chars, err := a.LoadCharacters()
				if err != nil {
					return err
				}
				if len(chars) == 0 {
					fmt.Fprintln(c.stdout, "No characters.")
					return nil
				}
				w := tabwriter.NewWriter(c.stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tTAGLINE")
				for _, ch := range chars {
					fmt.Fprintf(w, "%s\t%s\t%s\n", ch.ID, ch.Name, ch.Tagline)
				}
				return w.Flush()
			})
		},
	}

	showCmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a character as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(func(a *app.App) error {
				ch, err := a.LoadCharacterByID(args[0])
				if err != nil {
					return err
				}
				return c.printJSON(ch)
			})
		},
	}

	var (
		file   string
		remote bool
		draft  store.Character
	)
	saveCmd := &cobra.Command{
		Use:   "save",
		Short: "Create or replace a character from flags or a JSON file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ch := draft
			if file != "" {
				if err := c.readJSONInput(file, &ch); err != nil {
					return err
				}
			}
			if strings.TrimSpace(ch.Name) == "" {
				return fmt.Errorf("character name is required")
			}
			if ch.ID == "" {
				ch.ID = newID(ch.Name, time.Now())
			}
			if ch.Img == "" {
				ch.Img = store.PlaceholderImage
			}
			if ch.Tags == nil {
				ch.Tags = map[string][]string{}
			}

			return c.withApp(func(a *app.App) error {
				if err := a.UpdateCharacter(ch); err != nil {
					return err
				}
				fmt.Fprintf(c.stdout, "Saved character %s\n", ch.ID)
				if remote {
					ack, err := a.SaveCharacter(cmd.Context(), ch)
					if err != nil {
						return err
					}
					fmt.Fprintln(c.stdout, ack)
				}
				return nil
			})
		},
	}
	saveCmd.Flags().StringVarP(&file, "file", "f", "", "JSON file with the character, '-' for stdin")
	saveCmd.Flags().BoolVar(&remote, "remote", false, "Also send the character to the gateway")
	saveCmd.Flags().StringVar(&draft.ID, "id", "", "Character id (generated from the name when empty)")
	saveCmd.Flags().StringVar(&draft.Name, "name", "", "Display name")
	saveCmd.Flags().StringVar(&draft.Tagline, "tagline", "", "Short tagline")
	saveCmd.Flags().StringVar(&draft.Description, "description", "", "Long description")
	saveCmd.Flags().StringVar(&draft.Greeting, "greeting", "", "Greeting line")
	saveCmd.Flags().StringVar(&draft.Definition, "definition", "", "Behavior definition")

	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a character with its image and histories",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(func(a *app.App) error {
				report, err := a.DeleteCharacter(args[0])
				if err != nil {
					return err
				}
				c.printReport(report)
				return nil
			})
		},
	}

	imageCmd := &cobra.Command{
		Use:   "image <id> <file>",
		Short: "Copy an image into the assets and attach it to a character",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("read image: %w", err)
			}
			return c.withApp(func(a *app.App) error {
				ch, err := a.LoadCharacterByID(args[0])
				if err != nil {
					return err
				}
				ref, err := a.CopyImageToPath(filepath.Base(args[1]), data)
				if err != nil {
					return err
				}
				ch.Img = ref
				if err := a.UpdateCharacter(*ch); err != nil {
					return err
				}
				fmt.Fprintf(c.stdout, "Image %s attached to %s\n", ref, ch.ID)
				return nil
			})
		},
	}

	cmd.AddCommand(listCmd, showCmd, saveCmd, deleteCmd, imageCmd)
	return cmd
}

func (c *cli) personaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "persona",
		Aliases: []string{"personas"},
		Short:   "Manage personas",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List personas",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(func(a *app.App) error {
				personas, err := a.LoadPersonas()
				if err != nil {
					return err
				}
				if len(personas) == 0 {
					fmt.Fprintln(c.stdout, "No personas.")
					return nil
				}
				w := tabwriter.NewWriter(c.stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME")
				for _, p := range personas {
					fmt.Fprintf(w, "%s\t%s\n", p.ID, p.DisplayName)
				}
				return w.Flush()
			})
		},
	}

	showCmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a persona as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(func(a *app.App) error {
				p, err := a.LoadPersonaByID(args[0])
				if err != nil {
					return err
				}
				return c.printJSON(p)
			})
		},
	}

	var (
		file  string
		draft store.Persona
	)
	saveCmd := &cobra.Command{
		Use:   "save",
		Short: "Create or replace a persona from flags or a JSON file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := draft
			if file != "" {
				if err := c.readJSONInput(file, &p); err != nil {
					return err
				}
			}
			if strings.TrimSpace(p.DisplayName) == "" {
				return fmt.Errorf("persona display name is required")
			}
			if p.ID == "" {
				p.ID = newID(p.DisplayName, time.Now())
			}
			if p.Img == "" {
				p.Img = store.PlaceholderImage
			}

			return c.withApp(func(a *app.App) error {
				if err := a.SavePersona(p); err != nil {
					return err
				}
				fmt.Fprintf(c.stdout, "Saved persona %s\n", p.ID)
				return nil
			})
		},
	}
	saveCmd.Flags().StringVarP(&file, "file", "f", "", "JSON file with the persona, '-' for stdin")
	saveCmd.Flags().StringVar(&draft.ID, "id", "", "Persona id (generated from the name when empty)")
	saveCmd.Flags().StringVar(&draft.DisplayName, "name", "", "Display name")
	saveCmd.Flags().StringVar(&draft.Background, "background", "", "Background")

	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a persona and its image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(func(a *app.App) error {
				report, err := a.DeletePersona(args[0])
				if err != nil {
					return err
				}
				c.printReport(report)
				return nil
			})
		},
	}

	imageCmd := &cobra.Command{
		Use:   "image <id> <file>",
		Short: "Copy an image into the assets and attach it to a persona",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("read image: %w", err)
			}
			return c.withApp(func(a *app.App) error {
				p, err := a.LoadPersonaByID(args[0])
				if err != nil {
					return err
				}
				ref, err := a.CopyImageToPersona(filepath.Base(args[1]), data)
				if err != nil {
					return err
				}
				p.Img = ref
				if err := a.UpdatePersona(*p); err != nil {
					return err
				}
				fmt.Fprintf(c.stdout, "Image %s attached to %s\n", ref, p.ID)
				return nil
			})
		},
	}

	cmd.AddCommand(listCmd, showCmd, saveCmd, deleteCmd, imageCmd)
	return cmd
}

func (c *cli) withApp(fn func(a *app.App) error) error {
	a, closeLog, err := c.open()
	if err != nil {
		return err
	}
	defer closeLog()
	return fn(a)
}

func (c *cli) readJSONInput(path string, v any) error {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(c.stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func (c *cli) printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, string(data))
	return nil
}

func (c *cli) printReport(r *store.DeleteReport) {
	fmt.Fprintf(c.stdout, "Deleted %s %s\n", r.Kind, r.ID)
	switch {
	case r.Image.Removed:
		fmt.Fprintf(c.stdout, "  image removed: %s\n", r.Image.Path)
	case r.Image.Err != nil:
		fmt.Fprintf(c.stdout, "  image kept: %v\n", r.Image.Err)
	}
	if n := r.HistoriesRemoved(); n > 0 {
		fmt.Fprintf(c.stdout, "  histories removed: %d\n", n)
	}
	if err := r.Err(); err != nil {
		fmt.Fprintf(c.stderr, "Warning: cleanup incomplete: %v\n", err)
	}
}

// newID derives "<slug>-<unix millis>". The separator is never "_", which
// delimits history keys.
func newID(name string, now time.Time) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	slug := strings.TrimRight(b.String(), "-")
	if slug == "" {
		slug = "id"
	}
	return fmt.Sprintf("%s-%d", slug, now.UnixMilli())
}
