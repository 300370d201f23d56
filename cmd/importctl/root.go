package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/JonMunkholm/energyimport/internal/config"
	"github.com/JonMunkholm/energyimport/internal/core"
	"github.com/JonMunkholm/energyimport/internal/database"
	"github.com/JonMunkholm/energyimport/internal/logging"
	"github.com/spf13/cobra"
)

// Exit codes of the import command.
const (
	exitRowErrors = 2 // run completed, some rows failed
	exitRunFailed = 3 // run failed or was cancelled
)

// exitError ends the process with code without printing anything more.
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

var errNoDatabase = errors.New("no database configured: set DATABASE_URL")

type rootOptions struct {
	logLevel string
	cfg      *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "importctl",
		Short:         "Import customers and supply contracts from CSV and XLSX files",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			level := cfg.Logging.Level
			if opts.logLevel != "" {
				level = opts.logLevel
			}
			// stdout carries only the report.
			logging.SetupWriter(os.Stderr, level, cfg.Logging.Format)
			opts.cfg = cfg
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error (default from LOG_LEVEL)")

	cmd.AddCommand(newImportCmd(opts))
	cmd.AddCommand(newTypesCmd())
	cmd.AddCommand(newRunsCmd(opts))
	cmd.AddCommand(newShowCmd(opts))
	return cmd
}

// openStores returns the configured stores and a release function. With
// kind "memory", or "auto" without a database, records live in memory.
func openStores(ctx context.Context, cfg *config.Config, kind string) (core.Store, core.RunStore, func(), error) {
	switch kind {
	case "memory":
		mem := core.NewMemoryStore()
		return mem, mem, func() {}, nil
	case "auto", "postgres":
		if !cfg.Database.Enabled() {
			if kind == "auto" {
				mem := core.NewMemoryStore()
				return mem, mem, func() {}, nil
			}
			return nil, nil, nil, errNoDatabase
		}
	default:
		return nil, nil, nil, fmt.Errorf("unknown --store %q: want auto, memory or postgres", kind)
	}

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(cfg.Database.URL); err != nil {
			return nil, nil, nil, err
		}
	}
	pool, err := database.Connect(ctx, cfg.Database.Pool())
	if err != nil {
		return nil, nil, nil, err
	}
	pg := core.NewPostgresStore(pool)
	return pg, pg, pool.Close, nil
}
