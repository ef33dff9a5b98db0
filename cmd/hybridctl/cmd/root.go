// Package cmd holds the hybridctl commands.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/kirillkom/hybrid-retrieval/internal/bootstrap"
	"github.com/kirillkom/hybrid-retrieval/internal/config"
	"github.com/kirillkom/hybrid-retrieval/internal/observability/logging"
)

var version = "dev"

// AppFactory builds the application for one command run. The returned cleanup is always non-nil.
type AppFactory func(ctx context.Context, cfg config.Config, logger *slog.Logger) (*bootstrap.App, func(), error)

type rootOptions struct {
	configPath string
	logLevel   string
	newApp     AppFactory
}

func defaultAppFactory(ctx context.Context, cfg config.Config, logger *slog.Logger) (*bootstrap.App, func(), error) {
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Logger: logger})
	if err != nil {
		return nil, func() {}, err
	}
	return app, func() {
		if err := app.Close(); err != nil {
			logger.Warn("close_failed", "error", err)
		}
	}, nil
}

func NewRootCmd() *cobra.Command {
	return newRootCmd(defaultAppFactory)
}

func newRootCmd(factory AppFactory) *cobra.Command {
	opts := &rootOptions{newApp: factory}

	cmd := &cobra.Command{
		Use:   "hybridctl",
		Short: "Query and maintain the hybrid retrieval index",
		Long: `hybridctl talks to the configured vector store and lexical engine directly.

Backends and models come from the same env vars and CONFIG_FILE the api and
worker binaries read.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("CONFIG_FILE"), "Path to a yaml config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level override (debug, info, warn, error)")

	cmd.AddCommand(
		newSearchCmd(opts),
		newUpsertCmd(opts),
		newDeleteCmd(opts),
		newCountCmd(opts),
		newMCPCmd(opts),
	)
	return cmd
}

func Execute() error {
	return NewRootCmd().Execute()
}

// session is what every subcommand works with.
type session struct {
	cfg    config.Config
	logger *slog.Logger
	app    *bootstrap.App
	close  func()
}

func (o *rootOptions) open(cmd *cobra.Command) (*session, error) {
	cfg, err := config.LoadFrom(o.configPath)
	if err != nil {
		return nil, err
	}
	level := cfg.LogLevel
	if o.logLevel != "" {
		level = o.logLevel
	}
	// stdout is reserved for command output and the MCP stream.
	logger := logging.NewJSONLoggerTo(cmd.ErrOrStderr(), "hybridctl", level)

	app, cleanup, err := o.newApp(cmd.Context(), cfg, logger)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	return &session{cfg: cfg, logger: logger, app: app, close: cleanup}, nil
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
