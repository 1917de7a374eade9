package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/stellarlinkco/companion/internal/app"
	"github.com/stellarlinkco/companion/internal/config"
	"github.com/stellarlinkco/companion/internal/logger"
)

// AppFactory creates the application for a command (allows injection in tests).
type AppFactory func(cfg *config.Config, log zerolog.Logger) (*app.App, error)

// DefaultAppFactory builds the application with real collaborators.
func DefaultAppFactory(cfg *config.Config, log zerolog.Logger) (*app.App, error) {
	return app.NewWithOptions(cfg, app.Options{Logger: &log})
}

// CLIOptions for running commands with custom dependencies
type CLIOptions struct {
	AppFactory AppFactory
	Stdin      io.Reader
	Stdout     io.Writer
	Stderr     io.Writer
}

type cli struct {
	factory AppFactory
	stdin   io.Reader
	stdout  io.Writer
	stderr  io.Writer
}

func newCLI(opts CLIOptions) *cli {
	c := &cli{
		factory: opts.AppFactory,
		stdin:   opts.Stdin,
		stdout:  opts.Stdout,
		stderr:  opts.Stderr,
	}
	if c.factory == nil {
		c.factory = DefaultAppFactory
	}
	if c.stdin == nil {
		c.stdin = os.Stdin
	}
	if c.stdout == nil {
		c.stdout = os.Stdout
	}
	if c.stderr == nil {
		c.stderr = os.Stderr
	}
	return c
}

func newRootCmd(opts CLIOptions) *cobra.Command {
	c := newCLI(opts)

	rootCmd := &cobra.Command{
		Use:           "companion",
		Short:         "companion - local character chat with supervised backends",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetIn(c.stdin)
	rootCmd.SetOut(c.stdout)
	rootCmd.SetErr(c.stderr)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the inference engine and gateway, then watch their health",
		Args:  cobra.NoArgs,
		RunE:  c.runServe,
	}

	onboardCmd := &cobra.Command{
		Use:   "onboard",
		Short: "Initialize config and data directory",
		Args:  cobra.NoArgs,
		RunE:  c.runOnboard,
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show configuration and backend health",
		Args:  cobra.NoArgs,
		RunE:  c.runStatus,
	}

	rootCmd.AddCommand(serveCmd, onboardCmd, statusCmd)
	rootCmd.AddCommand(c.chatCommands()...)
	rootCmd.AddCommand(c.characterCmd(), c.personaCmd(), c.recentCmd(), c.historyCmd())
	return rootCmd
}

func main() {
	if err := newRootCmd(CLIOptions{}).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, app.Display(err))
		os.Exit(1)
	}
}

// open loads the config and builds the application. The returned closer
// flushes the log file sink.
func (c *cli) open() (*app.App, func(), error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	log, closer := logger.New(cfg.Log, logger.Options{Output: c.stderr})

	a, err := c.factory(cfg, log)
	if err != nil {
		_ = closer.Close()
		return nil, nil, err
	}
	return a, func() { _ = closer.Close() }, nil
}

func (c *cli) runServe(cmd *cobra.Command, args []string) error {
	a, closeLog, err := c.open()
	if err != nil {
		return err
	}
	defer closeLog()

	cfg := a.Config()
	fmt.Fprintf(c.stdout, "Starting services (gateway %s)...\n", cfg.Gateway.BaseURL)
	if cfg.Metrics.Addr != "" {
		fmt.Fprintf(c.stdout, "Metrics: http://%s/metrics\n", cfg.Metrics.Addr)
	}
	return a.Run(cmd.Context())
}

func (c *cli) runOnboard(cmd *cobra.Command, args []string) error {
	cfgDir := config.ConfigDir()
	cfgPath := config.ConfigPath()

	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfig(config.DefaultConfig()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(c.stdout, "Created config: %s\n", cfgPath)
	} else {
		fmt.Fprintf(c.stdout, "Config already exists: %s\n", cfgPath)
	}
	c.writeIfNotExists(filepath.Join(cfgDir, ".env"), defaultEnvFile)

	a, closeLog, err := c.open()
	if err != nil {
		return err
	}
	defer closeLog()

	fmt.Fprintf(c.stdout, "Data ready: %s\n", a.Config().DataRoot)
	fmt.Fprintln(c.stdout, "\nNext steps:")
	fmt.Fprintf(c.stdout, "  1. Edit %s to point at your backends\n", cfgPath)
	fmt.Fprintln(c.stdout, "  2. Run 'companion serve' to start them")
	fmt.Fprintln(c.stdout, "  3. Run 'companion character save --name \"Aria\"' and 'companion chat <id>'")
	return nil
}

func (c *cli) runStatus(cmd *cobra.Command, args []string) error {
	a, closeLog, err := c.open()
	if err != nil {
		fmt.Fprintf(c.stdout, "Config: error (%v)\n", err)
		return nil
	}
	defer closeLog()

	cfg := a.Config()
	fmt.Fprintf(c.stdout, "Config: %s\n", config.ConfigPath())
	fmt.Fprintf(c.stdout, "Data: %s\n", cfg.DataRoot)
	fmt.Fprintf(c.stdout, "Gateway: %s\n", cfg.Gateway.BaseURL)
	fmt.Fprintf(c.stdout, "Inference health: %s\n", cfg.Inference.HealthURL)
	fmt.Fprintf(c.stdout, "Model: %s (memory %d)\n", cfg.Chat.Model, cfg.Chat.MemoryLimit)

	if chars, err := a.LoadCharacters(); err != nil {
		fmt.Fprintf(c.stdout, "Characters: %s\n", app.Display(err))
	} else {
		fmt.Fprintf(c.stdout, "Characters: %d\n", len(chars))
	}
	if personas, err := a.LoadPersonas(); err != nil {
		fmt.Fprintf(c.stdout, "Personas: %s\n", app.Display(err))
	} else {
		fmt.Fprintf(c.stdout, "Personas: %d\n", len(personas))
	}

	fmt.Fprintln(c.stdout, a.CheckServices(cmd.Context()))
	return nil
}

func (c *cli) writeIfNotExists(path, content string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		_ = os.WriteFile(path, []byte(content), 0644)
		fmt.Fprintf(c.stdout, "  Created: %s\n", path)
	}
}

const defaultEnvFile = `# Environment overrides for companion. Variables already set in the
# shell take precedence over this file.
#
# COMPANION_GATEWAY_URL=http://localhost:8080
# COMPANION_INFERENCE_URL=http://localhost:5050/health
# COMPANION_CHAT_MODEL=dolphin-mistral
# COMPANION_LOG_LEVEL=info
# COMPANION_METRICS_ADDR=127.0.0.1:9090
`
