package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"ingest/internal/config"
	"ingest/internal/ingest"
	"ingest/internal/logging"
	"ingest/internal/parser"
	"ingest/internal/parser/json"
	"ingest/internal/storage"
)

// app holds what PersistentPreRunE resolves for the subcommands.
type app struct {
	cfgFile  string
	cfg      *config.Config
	log      *slog.Logger
	closeLog func()
}

func (a *app) close() {
	if a.closeLog != nil {
		a.closeLog()
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "ingestd",
		Short: "Ingest spreadsheets and JSON into relational tables",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}
			return a.setup(cmd)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "YAML config file")
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(
		newServeCmd(a),
		newLoadCmd(a),
		newMigrateCmd(a),
		newValidateCmd(a),
	)
	return root
}

// setup loads configuration and the logger. Every command except validate
// refuses to run on configuration errors.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.cfgFile, cmd.Root().PersistentFlags())
	if err != nil {
		return err
	}
	a.cfg = cfg

	if cmd.Name() == "validate" {
		a.log = slog.New(slog.DiscardHandler)
		return nil
	}

	issues := cfg.Validate()
	if config.HasErrors(issues) {
		for _, iss := range issues {
			fmt.Fprintln(cmd.ErrOrStderr(), iss.String())
		}
		return fmt.Errorf("configuration is invalid")
	}

	log, closeLog, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		SeqURL: cfg.Log.SeqURL,
		W:      cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	a.log, a.closeLog = log, closeLog
	for _, iss := range issues {
		a.log.Warn("config", "path", iss.Path, "issue", iss.Message)
	}
	return nil
}

// openStore connects to the configured backend, migrating first when
// store.migrate_on_start is set.
func (a *app) openStore(ctx context.Context) (storage.Store, error) {
	st, err := storage.New(ctx, a.cfg.StorageConfig())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if a.cfg.Store.MigrateOnStart {
		if err := st.Migrate(ctx); err != nil {
			st.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return st, nil
}

func (a *app) newService(st storage.Store) (*ingest.Service, error) {
	return ingest.NewService(st, ingest.Options{
		Mode:        ingest.Mode(a.cfg.Ingest.Mode),
		TablePrefix: a.cfg.Ingest.TablePrefix,
		JSONTable:   a.cfg.Ingest.JSONTable,
		SharedTable: a.cfg.Ingest.SharedTable,
		LockTables:  a.cfg.Ingest.LockTables,
		AuditLog:    a.cfg.Ingest.AuditLog,
		Logger:      a.log,
	})
}

func (a *app) parserOptions() parser.Options {
	return parser.Options{
		JSON: json.Options{
			RequiredKeys: a.cfg.Ingest.JSONRequiredKeys,
			RecordsKey:   a.cfg.Ingest.JSONRecordsKey,
		},
	}
}
