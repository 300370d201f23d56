package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/JonMunkholm/energyimport/internal/core"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

type importFlags struct {
	apply           bool
	store           string
	kind            string
	skipValidation  bool
	skipAssociation bool
	batchSize       int
	threshold       float64
	mapping         string
	fileKind        string
	format          string
	quiet           bool
}

func newImportCmd(root *rootOptions) *cobra.Command {
	f := &importFlags{}
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import a CSV or XLSX file (dry run unless --apply)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), cmd, root, f, args[0])
		},
	}

	cmd.Flags().BoolVar(&f.apply, "apply", false, "Write records (default dry-run)")
	cmd.Flags().StringVar(&f.store, "store", "auto", "Record store: auto, memory or postgres")
	cmd.Flags().StringVar(&f.kind, "type", "", "Treat every row as this record type and disable auto-detection")
	cmd.Flags().BoolVar(&f.skipValidation, "skip-validation", false, "Skip field validation")
	cmd.Flags().BoolVar(&f.skipAssociation, "skip-association", false, "Skip customer lookup before commit")
	cmd.Flags().IntVar(&f.batchSize, "batch-size", 0, "Records per transaction (default from IMPORT_BATCH_SIZE)")
	cmd.Flags().Float64Var(&f.threshold, "confidence", -1, "Minimum detection confidence (default from IMPORT_CONFIDENCE_THRESHOLD)")
	cmd.Flags().StringVar(&f.mapping, "mapping", "", `Column overrides as JSON, e.g. {"Cod. Cliente":"customer_code"}`)
	cmd.Flags().StringVar(&f.fileKind, "file-kind", "", "Force csv or xlsx instead of sniffing")
	cmd.Flags().StringVar(&f.format, "format", "text", "Report format: text or json")
	cmd.Flags().BoolVarP(&f.quiet, "quiet", "q", false, "Hide the progress bar")
	return cmd
}

func (f *importFlags) options(defaults core.Options) (core.Options, error) {
	opts := defaults
	opts.DryRun = !f.apply
	opts.SkipValidation = f.skipValidation
	opts.SkipAssociation = f.skipAssociation
	if f.kind != "" {
		kind, ok := core.ParseEntityKind(f.kind)
		if !ok {
			return opts, fmt.Errorf("%w: unknown record type %q", core.ErrInvalidOptions, f.kind)
		}
		opts.FixedKind = kind
		opts.AutoDetectType = false
	}
	if f.batchSize != 0 {
		opts.BatchSize = f.batchSize
	}
	if f.threshold >= 0 {
		opts.ConfidenceThreshold = f.threshold
	}
	if f.mapping != "" {
		if err := json.Unmarshal([]byte(f.mapping), &opts.ColumnMapping); err != nil {
			return opts, fmt.Errorf("%w: --mapping must be a JSON object: %v", core.ErrInvalidOptions, err)
		}
	}
	opts.FileKind = core.FileKind(f.fileKind)
	return opts, opts.Validate()
}

func runImport(ctx context.Context, cmd *cobra.Command, root *rootOptions, f *importFlags, path string) error {
	if f.format != "text" && f.format != "json" {
		return fmt.Errorf("unknown --format %q: want text or json", f.format)
	}
	cfg := root.cfg
	opts, err := f.options(cfg.Import.DefaultOptions())
	if err != nil {
		return err
	}

	data, err := readFile(path, cfg.Import.MaxFileSize)
	if err != nil {
		return err
	}

	store, runs, release, err := openStores(ctx, cfg, f.store)
	if err != nil {
		return err
	}
	defer release()

	service := core.NewService(store, runs, cfg.Import.ServiceConfig())
	runID, err := service.Submit(ctx, filepath.Base(path), data, opts)
	if err != nil {
		return err
	}

	// Ctrl-C cancels the run; batches already started still commit.
	stop := context.AfterFunc(ctx, func() { _ = service.Cancel(runID) })
	defer stop()

	if !f.quiet {
		follow(service, runID)
	}
	run, err := service.Wait(context.WithoutCancel(ctx), runID)
	if err != nil {
		return fmt.Errorf("waiting for run %s: %w", runID, err)
	}

	out := cmd.OutOrStdout()
	if f.format == "json" {
		err = writeJSON(out, run.Result())
	} else {
		err = writeSummary(out, run)
	}
	if err != nil {
		return err
	}

	switch {
	case run.Status != core.RunCompleted:
		return &exitError{code: exitRunFailed}
	case run.ErrorRows > 0:
		return &exitError{code: exitRowErrors}
	}
	return nil
}

func readFile(path string, limit int64) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, err
	}
	return core.ReadUpload(file, limit, info.Size())
}

// follow draws a progress bar on stderr until the run finishes.
func follow(service *core.Service, runID string) {
	ch, err := service.Subscribe(runID)
	if err != nil {
		return
	}

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("reading"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("rows"),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
	sized := false
	for p := range ch {
		if !sized && p.Total > 0 {
			bar.ChangeMax(p.Total)
			sized = true
		}
		bar.Describe(string(p.Stage))
		_ = bar.Set(p.Processed)
	}
	_ = bar.Finish()
}
