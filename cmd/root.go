// Package cmd holds the marketplace command line.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/meinhoongagan/service-marketplace/config"
	"github.com/meinhoongagan/service-marketplace/db"
	"github.com/meinhoongagan/service-marketplace/logger"
	"github.com/meinhoongagan/service-marketplace/models"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// RootOptions holds the global flags.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
}

// NewRootCommand creates the marketplace command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "marketplace",
		Short:         "Service marketplace API and maintenance tools",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "YAML config file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))
	cmd.AddCommand(NewReconcileCommand(opts))
	cmd.AddCommand(NewCheckCommand(opts))
	return cmd
}

// Execute runs the command line and returns its error.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

// lockNote ends the help of every command that opens the store.
const lockNote = `

File, sqlite and postgres stores are locked by the process that opens them.
The command fails at once with "store is in use by another process" while
serve or another maintenance command holds the store.`

// env is what every command needs: config, logger and the opened store.
type env struct {
	cfg    config.Config
	log    *zap.Logger
	store  *db.Store
	tables *models.Tables
}

func setup(ctx context.Context, opts *RootOptions) (*env, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if cfg.Development() {
		cfg.Logging.Development = true
	}
	log, err := logger.New(cfg.Logging, opts.Verbose)
	if err != nil {
		return nil, err
	}
	store, err := db.Open(ctx, cfg.StoreOptions(), log)
	if err != nil {
		_ = log.Sync()
		return nil, fmt.Errorf("open store: %w", err)
	}
	return &env{cfg: cfg, log: log, store: store, tables: models.NewTables(store)}, nil
}

func (e *env) close() {
	if err := e.store.Close(); err != nil {
		e.log.Warn("failed to close store", zap.Error(err))
	}
	_ = e.log.Sync()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
