package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/JonMunkholm/energyimport/internal/core"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeSummary prints a run's counters followed by its error report.
func writeSummary(w io.Writer, run *core.ImportRun) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "run\t%s\n", run.ID)
	fmt.Fprintf(tw, "file\t%s\n", run.FileName)
	fmt.Fprintf(tw, "status\t%s\n", run.Status)
	if run.Options.DryRun {
		fmt.Fprintf(tw, "mode\tdry run (nothing written)\n")
	}
	fmt.Fprintf(tw, "rows\t%d\n", run.TotalRows)
	fmt.Fprintf(tw, "inserted\t%d\n", run.InsertedRows)
	fmt.Fprintf(tw, "updated\t%d\n", run.UpdatedRows)
	fmt.Fprintf(tw, "skipped\t%d\n", run.SkippedRows)
	fmt.Fprintf(tw, "failed\t%d\n", run.ErrorRows)
	fmt.Fprintf(tw, "duration\t%.2fs\n", run.DurationSeconds)
	if err := tw.Flush(); err != nil {
		return err
	}

	report := run.ErrorReport()
	if len(report) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LINE\tSEVERITY\tCODE\tFIELD\tMESSAGE")
	for _, e := range report {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", e.SourceLine, e.Severity, e.Code, e.Field, e.Message)
	}
	return tw.Flush()
}

// writeRuns prints run history, one line per run.
func writeRuns(w io.Writer, runs []*core.ImportRun) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tSTATUS\tFILE\tROWS\tINSERTED\tUPDATED\tSKIPPED\tFAILED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
			r.ID, r.StartedAt.Format("2006-01-02 15:04:05"), r.Status, r.FileName,
			r.TotalRows, r.InsertedRows, r.UpdatedRows, r.SkippedRows, r.ErrorRows)
	}
	return tw.Flush()
}
