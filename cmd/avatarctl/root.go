package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/maruel/avatardb/internal/config"
	"github.com/maruel/avatardb/internal/stack"
)

type rootOptions struct {
	dataDir  string
	logLevel string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "avatarctl",
		Short:         "Maintain an avatardb deployment",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return setupLogging(cmd, opts.logLevel)
		},
	}
	root.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "./data", "Data directory holding config.yaml and .env")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	root.AddCommand(
		newInvalidateCmd(opts),
		newSweepCmd(opts),
		newSnapshotCmd(opts),
		newResolveCmd(opts),
		newRetryAssetCmd(opts),
		newPushCmd(opts),
		newTokenCmd(opts),
	)
	return root
}

func setupLogging(cmd *cobra.Command, level string) error {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("unknown log level: %q", level)
	}
	w := cmd.ErrOrStderr()
	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !isatty.IsTerminal(f.Fd())
		w = colorable.NewColorable(f)
	}
	slog.SetDefault(slog.New(tint.NewHandler(w, &tint.Options{Level: l, TimeFormat: "15:04:05.000", NoColor: noColor})))
	return nil
}

// loadEnv reads config.yaml and the secrets of the data directory.
func (o *rootOptions) loadEnv() (*config.Config, *config.Secrets, error) {
	env, err := config.LoadDotEnv(o.dataDir)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(o.dataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load %s: %w", config.FileName, err)
	}
	return cfg, config.SecretsFromEnv(env), nil
}

// open builds the stack of the data directory. The caller closes it.
func (o *rootOptions) open(cmd *cobra.Command) (*stack.Stack, error) {
	cfg, sec, err := o.loadEnv()
	if err != nil {
		return nil, err
	}
	return stack.Build(cmd.Context(), o.dataDir, cfg, sec)
}

func printJSON(cmd *cobra.Command, v any) error {
	e := json.NewEncoder(cmd.OutOrStdout())
	e.SetIndent("", "  ")
	return e.Encode(v)
}
