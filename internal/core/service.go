package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// DefaultImportTimeout is the maximum duration of one run.
const DefaultImportTimeout = 30 * time.Minute

// DefaultMaxFileSize is the largest accepted upload (50MB).
const DefaultMaxFileSize int64 = 50 * 1024 * 1024

// ServiceConfig holds the service settings. Zero values select defaults.
type ServiceConfig struct {
	MaxFileSize         int64
	MaxConcurrent       int
	MaxWaitTime         time.Duration
	Timeout             time.Duration
	Workers             int
	ColumnTolerance     int
	RetentionWindow     time.Duration
	MaxFutureActivation time.Duration
	Detector            *Detector // nil selects the default rule chain
}

// Service is the entry point for imports. It is safe for concurrent use:
// each run has its own runState and independent runs share only the store.
type Service struct {
	store    Store
	runs     RunStore
	limiter  *ImportLimiter
	tracker  *Tracker
	pipeline *Pipeline

	maxFileSize int64
	timeout     time.Duration
}

// NewService creates a Service writing records to store and runs to runs.
func NewService(store Store, runs RunStore, cfg ServiceConfig) *Service {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultImportTimeout
	}
	tracker := NewTracker(runs, cfg.RetentionWindow)
	return &Service{
		store:   store,
		runs:    runs,
		limiter: NewImportLimiter(cfg.MaxConcurrent, cfg.MaxWaitTime),
		tracker: tracker,
		pipeline: NewPipeline(store, tracker, cfg.Detector, PipelineConfig{
			Workers:             cfg.Workers,
			ColumnTolerance:     cfg.ColumnTolerance,
			MaxFutureActivation: cfg.MaxFutureActivation,
		}),
		maxFileSize: cfg.MaxFileSize,
		timeout:     cfg.Timeout,
	}
}

// Submit starts an asynchronous import and returns its run id immediately.
// Use Subscribe or Progress to follow it and Result once it has finished.
//
// Returns ErrTooManyImports if no slot becomes available within the
// limiter's wait time.
func (s *Service) Submit(ctx context.Context, fileName string, data []byte, opts Options) (string, error) {
	if err := s.admit(data, opts); err != nil {
		return "", err
	}
	if err := s.limiter.Acquire(ctx); err != nil {
		return "", err
	}

	id := uuid.New().String()
	runCtx, cancel := context.WithTimeout(context.Background(), s.timeout)
	tr := s.tracker.start(ctx, id, fileName, opts, cancel)

	// Process in background with panic recovery to ensure limiter release
	go func() {
		defer s.limiter.Release()
		defer cancel()
		defer s.recoverRun(runCtx, tr)
		s.pipeline.execute(runCtx, newRunState(s.tracker, tr, fileName), fileName, data)
	}()

	return id, nil
}

// Run imports synchronously and returns the finished run. Cancelling ctx
// cancels the run at the next batch boundary.
func (s *Service) Run(ctx context.Context, fileName string, data []byte, opts Options) (*ImportRun, error) {
	if err := s.admit(data, opts); err != nil {
		return nil, err
	}
	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()

	id := uuid.New().String()
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	tr := s.tracker.start(ctx, id, fileName, opts, cancel)

	var run *ImportRun
	func() {
		defer s.recoverRun(runCtx, tr)
		run = s.pipeline.execute(runCtx, newRunState(s.tracker, tr, fileName), fileName, data)
	}()
	if run == nil {
		run = tr.snapshot()
	}
	return run, nil
}

func (s *Service) admit(data []byte, opts Options) error {
	if int64(len(data)) > s.maxFileSize {
		return fmt.Errorf("%w: %d bytes exceeds the %d byte limit", ErrFileTooLarge, len(data), s.maxFileSize)
	}
	return opts.Validate()
}

// recoverRun turns a panic in a run into a failed run.
func (s *Service) recoverRun(ctx context.Context, tr *trackedRun) {
	r := recover()
	if r == nil {
		return
	}
	slog.Error("panic in import",
		"run_id", tr.run.ID,
		"panic", r,
	)
	run := s.tracker.finish(ctx, tr, RunFailed, &ReportEntry{
		Code:     CodeInternal,
		Message:  fmt.Sprintf("internal error: %v", r),
		Severity: SeverityError,
	})
	recordRunMetrics(run)
}

// Status returns the run's status.
func (s *Service) Status(ctx context.Context, runID string) (RunStatus, error) {
	run, err := s.tracker.Snapshot(ctx, runID)
	if err != nil {
		return "", err
	}
	return run.Status, nil
}

// Progress returns the run's current counters.
func (s *Service) Progress(ctx context.Context, runID string) (Progress, error) {
	return s.tracker.Progress(ctx, runID)
}

// Result returns the finished run, or ErrRunInProgress while it is running.
func (s *Service) Result(ctx context.Context, runID string) (*ImportRun, error) {
	run, err := s.tracker.Snapshot(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !run.Status.Finished() {
		return nil, fmt.Errorf("run %s: %w", runID, ErrRunInProgress)
	}
	return run, nil
}

// Snapshot returns the run as it is now, finished or not.
func (s *Service) Snapshot(ctx context.Context, runID string) (*ImportRun, error) {
	return s.tracker.Snapshot(ctx, runID)
}

// Wait blocks until the run finishes or ctx is done.
func (s *Service) Wait(ctx context.Context, runID string) (*ImportRun, error) {
	return s.tracker.Wait(ctx, runID)
}

// Subscribe returns a channel that receives progress updates.
// The channel is closed when the run finishes.
func (s *Service) Subscribe(runID string) (<-chan Progress, error) {
	return s.tracker.Subscribe(runID)
}

// Cancel asks a run to stop. Batches already started still commit; the
// remaining rows are reported skipped.
func (s *Service) Cancel(runID string) error {
	return s.tracker.Cancel(runID)
}

// ErrorReport returns the run's flat list of errors and warnings.
func (s *Service) ErrorReport(ctx context.Context, runID string) ([]ReportEntry, error) {
	run, err := s.Result(ctx, runID)
	if err != nil {
		return nil, err
	}
	return run.ErrorReport(), nil
}

// History lists persisted runs, newest first, without row outcomes.
func (s *Service) History(ctx context.Context, limit int) ([]*ImportRun, error) {
	if s.runs == nil {
		return nil, nil
	}
	return s.runs.ListRuns(ctx, limit)
}

// SupportedTypes describes every record kind and its canonical fields.
func (s *Service) SupportedTypes() []SupportedType {
	return SupportedTypes()
}

// RecoverInterruptedRuns marks runs left running by a previous process as
// interrupted. Call once at startup, before accepting imports.
func (s *Service) RecoverInterruptedRuns(ctx context.Context) (int64, error) {
	if s.runs == nil {
		return 0, nil
	}
	n, err := s.runs.MarkInterrupted(ctx)
	if err != nil {
		return 0, fmt.Errorf("mark interrupted runs: %w", err)
	}
	if n > 0 {
		slog.Warn("marked interrupted import runs", "count", n)
	}
	return n, nil
}

// LimiterStatus returns the current state of the import limiter.
func (s *Service) LimiterStatus() ImportLimiterStatus {
	return s.limiter.Status()
}

// WaitForImports blocks until every running import has released its slot
// or ctx is done. Used for graceful shutdown.
func (s *Service) WaitForImports(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// CancelAll cancels every run still in progress.
func (s *Service) CancelAll() int {
	ids := s.tracker.Active()
	for _, id := range ids {
		_ = s.tracker.Cancel(id)
	}
	return len(ids)
}
