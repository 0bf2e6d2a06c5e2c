package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"ingest/internal/ingest"
	"ingest/internal/parser"
)

func newLoadCmd(a *app) *cobra.Command {
	var table string
	cmd := &cobra.Command{
		Use:   "load FILE...",
		Short: "Ingest local files and print one JSON outcome per file",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd.Context(), cmd.OutOrStdout(), table, args)
		},
	}
	cmd.Flags().StringVar(&table, "table", "", "destination table for every file (default: derived from each file name)")
	return cmd
}

// load stops at the first failing file; earlier files stay ingested.
func (a *app) load(ctx context.Context, w io.Writer, table string, files []string) error {
	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	svc, err := a.newService(st)
	if err != nil {
		return err
	}

	_, stopMetrics, err := initMetrics(ctx, a.log, a.cfg.Metrics)
	if err != nil {
		return err
	}
	defer stopMetrics()

	popts := a.parserOptions()
	popts.JSON.RequiredKeys = nil

	enc := json.NewEncoder(w)
	for _, path := range files {
		out, err := a.loadFile(ctx, svc, popts, table, path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if err := enc.Encode(out); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) loadFile(ctx context.Context, svc *ingest.Service, popts parser.Options, table, path string) (ingest.Outcome, error) {
	name := filepath.Base(path)
	if table == "" {
		t, err := svc.TableForFile(name)
		if err != nil {
			return ingest.Outcome{}, err
		}
		table = t
	}

	f, err := os.Open(path)
	if err != nil {
		return ingest.Outcome{}, err
	}
	defer f.Close()

	ds, err := parser.Load(ctx, name, f, popts)
	if err != nil {
		return ingest.Outcome{}, &ingest.ValidationError{Msg: "cannot load " + name, Cause: err}
	}
	return svc.Ingest(ctx, table, ds)
}
