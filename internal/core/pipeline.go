package core

// pipeline.go runs one import from bytes to committed rows.
//
// Stages: reading -> normalizing -> detecting -> validating -> associating
// -> committing. The first three are per-row and run in parallel chunks with
// results written by index, so file order is preserved. Association is a
// barrier over the whole run. Everything a run mutates lives in its runState.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// rowChunk is the number of rows handed to one worker at a time.
const rowChunk = 256

// PipelineConfig holds the process-wide pipeline settings.
type PipelineConfig struct {
	Workers             int           // parallel row workers (default 4)
	ColumnTolerance     int           // see ReaderOptions
	MaxFutureActivation time.Duration // see Validator
}

// Pipeline wires the stages together. It holds no per-run state and is safe
// for concurrent runs.
type Pipeline struct {
	store     Store
	tracker   *Tracker
	detector  *Detector
	validator *Validator
	reader    ReaderOptions
	workers   int
}

// NewPipeline returns a pipeline writing to store and reporting to tracker.
// A nil detector selects the default rule chain.
func NewPipeline(store Store, tracker *Tracker, detector *Detector, cfg PipelineConfig) *Pipeline {
	if detector == nil {
		detector = NewDetector()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	return &Pipeline{
		store:     store,
		tracker:   tracker,
		detector:  detector,
		validator: NewValidator(cfg.MaxFutureActivation),
		reader:    ReaderOptions{ColumnTolerance: cfg.ColumnTolerance},
		workers:   workers,
	}
}

// runState is the run-scoped context passed to every stage.
type runState struct {
	id         string
	opts       Options
	tracker    *Tracker
	tracked    *trackedRun
	pendingIDs map[int]uuid.UUID // temp id -> committed id
	log        *slog.Logger

	lines []int        // source line per row
	kinds []EntityKind // detected kind per row
}

func newRunState(tracker *Tracker, tr *trackedRun, fileName string) *runState {
	return &runState{
		id:         tr.run.ID,
		opts:       tr.run.Options,
		tracker:    tracker,
		tracked:    tr,
		pendingIDs: make(map[int]uuid.UUID),
		log:        slog.With("run_id", tr.run.ID, "file", fileName),
	}
}

func (rs *runState) cancelRequested() bool {
	return rs.tracked.cancelRequested.Load()
}

func (rs *runState) setStage(stage Stage) {
	rs.tracked.setStage(stage)
	rs.log.Debug("import stage", "stage", stage)
}

func (rs *runState) finishRows(results []rowResult) {
	rs.tracked.setOutcomes(results)
}

// batchDone checkpoints the run after a committed batch.
func (rs *runState) batchDone(ctx context.Context, processed int) {
	rs.tracker.persist(ctx, rs.tracked)
	p := rs.tracked.progress()
	rs.log.Debug("batch committed",
		"committed", processed,
		"processed", p.Processed,
		"total", p.Total,
	)
}

// execute runs every stage and finishes the run. It always returns the
// final snapshot; infrastructure failures are recorded on the run.
func (p *Pipeline) execute(ctx context.Context, rs *runState, fileName string, data []byte) *ImportRun {
	rs.setStage(StageReading)
	kind := rs.opts.FileKind
	if kind == "" {
		kind = DetectFileKind(fileName, data)
	}
	rows, err := Read(data, kind, p.reader)
	if err != nil {
		return p.fail(ctx, rs, err)
	}

	norm := NewNormalizer(rows[0].Header, rs.opts.ColumnMapping)
	rs.tracked.setRows(len(rows), norm.Report())
	rs.lines = make([]int, len(rows))
	for i, r := range rows {
		rs.lines[i] = r.Line
	}
	rs.kinds = make([]EntityKind, len(rows))
	rs.log.Info("import file read", "rows", len(rows), "file_kind", kind)

	records := make([]*NormalizedRecord, len(rows))
	rs.setStage(StageNormalizing)
	if err := p.parallel(ctx, len(rows), func(i int) {
		rec := norm.Normalize(rows[i])
		records[i] = &rec
	}); err != nil {
		return p.cancel(ctx, rs, err)
	}

	rs.setStage(StageDetecting)
	if err := p.parallel(ctx, len(rows), func(i int) {
		p.classify(rs.opts, records[i])
		rs.kinds[i] = records[i].Kind
	}); err != nil {
		return p.cancel(ctx, rs, err)
	}

	// Unclassifiable rows leave the pipeline here.
	var early []rowResult
	active := make([]*NormalizedRecord, len(rows))
	for i, rec := range records {
		if rec.Kind == KindUnknown || (rs.opts.AutoDetectType && rec.Confidence < rs.opts.ConfidenceThreshold) {
			early = append(early, rowResult{row: i, outcome: RowOutcome{
				SourceLine: rec.SourceLine,
				Kind:       rec.Kind,
				Status:     StatusSkipped,
				Warnings:   []Issue{lowConfidence(rec)},
			}})
			continue
		}
		active[i] = rec
	}

	rs.setStage(StageValidating)
	outcomes := make([]ValidationOutcome, len(rows))
	if err := p.parallel(ctx, len(rows), func(i int) {
		rec := active[i]
		if rec == nil {
			return
		}
		if rs.opts.SkipValidation {
			outcomes[i] = ValidationOutcome{SourceLine: rec.SourceLine, Kind: rec.Kind}
			return
		}
		outcomes[i] = p.validator.Validate(rec)
	}); err != nil {
		return p.cancel(ctx, rs, err)
	}
	if !rs.opts.SkipValidation {
		FlagDuplicates(active, outcomes)
	}

	var inputs []Resolved
	warnings := make(map[int][]Issue)
	for i, rec := range active {
		if rec == nil {
			continue
		}
		if outcomes[i].HasErrors() {
			early = append(early, rowResult{row: i, outcome: RowOutcome{
				SourceLine: rec.SourceLine,
				Kind:       rec.Kind,
				Status:     StatusFailed,
				Errors:     outcomes[i].Errors,
				Warnings:   outcomes[i].Warnings,
			}})
			continue
		}
		warnings[i] = outcomes[i].Warnings
		inputs = append(inputs, Resolved{Row: i, Record: rec, Warnings: outcomes[i].Warnings})
	}
	rs.finishRows(early)

	if err := ctx.Err(); err != nil || rs.cancelRequested() {
		return p.cancel(ctx, rs, ErrCancelled)
	}

	rs.setStage(StageAssociating)
	assoc, err := NewAssociator(p.store).Associate(ctx, inputs, rs.opts.SkipAssociation)
	if err != nil {
		if ctx.Err() != nil {
			return p.cancel(ctx, rs, err)
		}
		return p.fail(ctx, rs, fmt.Errorf("associate: %w", err))
	}
	rejected := make([]rowResult, 0, len(assoc.Rejected))
	for _, rej := range assoc.Rejected {
		rejected = append(rejected, rowResult{row: rej.Row, outcome: rejectedOutcome(records[rej.Row], warnings[rej.Row], rej)})
	}
	rs.finishRows(rejected)

	rs.setStage(StageCommitting)
	err = NewCommitter(p.store, rs.opts.BatchSize, rs.opts.DryRun).Commit(ctx, rs, assoc.Resolved)
	switch {
	case errors.Is(err, ErrCancelled):
		return p.cancel(ctx, rs, err)
	case err != nil:
		return p.fail(ctx, rs, fmt.Errorf("commit: %w", err))
	}
	return p.complete(ctx, rs)
}

// classify sets Kind, Confidence and DetectedBy on rec.
func (p *Pipeline) classify(opts Options, rec *NormalizedRecord) {
	if !opts.AutoDetectType {
		rec.Kind, rec.Confidence, rec.DetectedBy = opts.FixedKind, ConfidenceExplicit, "fixed"
		return
	}
	rec.Kind, rec.Confidence, rec.DetectedBy = p.detector.Detect(rec)
}

// parallel calls fn for every index in [0, n) across the worker pool.
// It stops early when ctx is done.
func (p *Pipeline) parallel(ctx context.Context, n int, fn func(i int)) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for start := 0; start < n; start += rowChunk {
		end := min(start+rowChunk, n)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for i := start; i < end; i++ {
				fn(i)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (p *Pipeline) complete(ctx context.Context, rs *runState) *ImportRun {
	run := p.tracker.finish(ctx, rs.tracked, RunCompleted, nil)
	if run.ProcessedRows != run.TotalRows ||
		run.ProcessedRows != run.InsertedRows+run.UpdatedRows+run.SkippedRows+run.ErrorRows {
		rs.log.Error("import counters do not add up",
			"total", run.TotalRows,
			"processed", run.ProcessedRows,
			"inserted", run.InsertedRows,
			"updated", run.UpdatedRows,
			"skipped", run.SkippedRows,
			"failed", run.ErrorRows,
		)
	}
	rs.log.Info("import completed",
		"dry_run", rs.opts.DryRun,
		"total", run.TotalRows,
		"inserted", run.InsertedRows,
		"updated", run.UpdatedRows,
		"skipped", run.SkippedRows,
		"failed", run.ErrorRows,
		"duration_ms", int64(run.DurationSeconds*1000),
	)
	recordRunMetrics(run)
	return run
}

// cancel reports every unfinished row skipped and finishes the run cancelled.
func (p *Pipeline) cancel(ctx context.Context, rs *runState, cause error) *ImportRun {
	rs.tracked.skipUnfinished(rs.lines, rs.kinds,
		warning(CodeRunCancelled, "", "run cancelled before this record was committed"))
	run := p.tracker.finish(ctx, rs.tracked, RunCancelled, nil)
	rs.log.Info("import cancelled",
		"cause", cause,
		"processed", run.ProcessedRows,
		"total", run.TotalRows,
	)
	recordRunMetrics(run)
	return run
}

// fail finishes the run failed with a file-level error. Rows without an
// outcome stay unprocessed.
func (p *Pipeline) fail(ctx context.Context, rs *runState, err error) *ImportRun {
	run := p.tracker.finish(ctx, rs.tracked, RunFailed, failureEntry(err))
	rs.log.Error("import failed", "error", err, "processed", run.ProcessedRows)
	recordRunMetrics(run)
	return run
}

func failureEntry(err error) *ReportEntry {
	var mie *MalformedInputError
	if errors.As(err, &mie) {
		return &ReportEntry{
			SourceLine: mie.Line,
			Code:       CodeMalformedInput,
			Message:    mie.Error(),
			Severity:   SeverityError,
		}
	}
	var ce *ConstraintError
	if errors.As(err, &ce) {
		return &ReportEntry{Code: CodeConstraint, Message: err.Error(), Severity: SeverityError}
	}
	return &ReportEntry{Code: CodeInternal, Message: err.Error(), Severity: SeverityError}
}

func lowConfidence(rec *NormalizedRecord) Issue {
	if rec.Kind == KindUnknown {
		return warning(CodeLowConfidence, "", "record type could not be determined")
	}
	return warning(CodeLowConfidence, "", "classified as %s with confidence %.2f by %s, below threshold",
		rec.Kind, rec.Confidence, rec.DetectedBy)
}

// rejectedOutcome builds the outcome of a row the associator refused.
func rejectedOutcome(rec *NormalizedRecord, warnings []Issue, rej Rejection) RowOutcome {
	out := RowOutcome{
		SourceLine: rec.SourceLine,
		Kind:       rec.Kind,
		Status:     rej.Status,
		Warnings:   append([]Issue(nil), warnings...),
	}
	if rej.Issue.Severity == SeverityWarning {
		out.Warnings = append(out.Warnings, rej.Issue)
	} else {
		out.Errors = []Issue{rej.Issue}
	}
	return out
}
