package core

// tracker.go owns the ImportRun of every run in this process.
//
// Each run is tracked under its own mutex; readers always receive copies.
// Progress listeners get non-blocking sends on buffered channels (a slow
// listener misses intermediate updates, never the close). Finished runs stay
// in memory for the retention window, then reads fall through to the RunStore.

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultRetentionWindow is how long finished runs stay in memory.
const DefaultRetentionWindow = time.Hour

// Tracker is the process-wide registry of runs, keyed by run id.
type Tracker struct {
	store     RunStore // optional
	retention time.Duration

	mu   sync.RWMutex
	runs map[string]*trackedRun
}

// NewTracker returns a tracker persisting to store (may be nil).
func NewTracker(store RunStore, retention time.Duration) *Tracker {
	if retention <= 0 {
		retention = DefaultRetentionWindow
	}
	return &Tracker{
		store:     store,
		retention: retention,
		runs:      make(map[string]*trackedRun),
	}
}

type trackedRun struct {
	mu        sync.Mutex
	run       ImportRun
	cancel    context.CancelFunc
	listeners []chan Progress

	cancelRequested atomic.Bool
	done            chan struct{}
}

// start registers a new run and persists its initial state.
func (t *Tracker) start(ctx context.Context, id, fileName string, opts Options, cancel context.CancelFunc) *trackedRun {
	tr := &trackedRun{
		run: ImportRun{
			ID:        id,
			FileName:  fileName,
			ClientIP:  ClientIPFromContext(ctx),
			UserAgent: UserAgentFromContext(ctx),
			Status:    RunRunning,
			Stage:     StageQueued,
			Options:   opts,
			StartedAt: time.Now().UTC(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	t.mu.Lock()
	t.runs[id] = tr
	t.mu.Unlock()

	t.persist(ctx, tr)
	return tr
}

func (t *Tracker) lookup(id string) (*trackedRun, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tr, ok := t.runs[id]
	return tr, ok
}

// persist checkpoints the run to the RunStore. Failures are logged: the
// in-memory run stays authoritative while the process lives.
func (t *Tracker) persist(ctx context.Context, tr *trackedRun) {
	if t.store == nil {
		return
	}
	snap := tr.snapshot()
	if err := t.store.SaveRun(context.WithoutCancel(ctx), snap); err != nil {
		slog.Warn("failed to persist import run",
			"run_id", snap.ID,
			"stage", snap.Stage,
			"error", err,
		)
	}
}

// finish freezes the run, persists it and schedules eviction.
func (t *Tracker) finish(ctx context.Context, tr *trackedRun, status RunStatus, failure *ReportEntry) *ImportRun {
	tr.mu.Lock()
	if tr.run.Status.Finished() {
		tr.mu.Unlock()
		return tr.snapshot()
	}
	now := time.Now().UTC()
	tr.run.Status = status
	tr.run.Failure = failure
	tr.run.FinishedAt = &now
	tr.run.DurationSeconds = now.Sub(tr.run.StartedAt).Seconds()
	switch status {
	case RunCompleted:
		tr.run.Stage = StageComplete
	case RunCancelled:
		tr.run.Stage = StageCancelled
	default:
		tr.run.Stage = StageFailed
	}
	tr.mu.Unlock()

	tr.notify()
	t.persist(ctx, tr)
	tr.closeListeners()
	close(tr.done)

	id := tr.run.ID
	time.AfterFunc(t.retention, func() {
		t.mu.Lock()
		delete(t.runs, id)
		t.mu.Unlock()
	})
	return tr.snapshot()
}

// Snapshot returns a copy of the run, from memory or the RunStore.
func (t *Tracker) Snapshot(ctx context.Context, id string) (*ImportRun, error) {
	if tr, ok := t.lookup(id); ok {
		return tr.snapshot(), nil
	}
	if t.store == nil {
		return nil, ErrRunNotFound
	}
	return t.store.GetRun(ctx, id)
}

// Progress returns the current progress of a run.
func (t *Tracker) Progress(ctx context.Context, id string) (Progress, error) {
	if tr, ok := t.lookup(id); ok {
		return tr.progress(), nil
	}
	run, err := t.Snapshot(ctx, id)
	if err != nil {
		return Progress{}, err
	}
	return run.Progress(), nil
}

// Wait blocks until the run finishes or ctx is done, then returns its result.
func (t *Tracker) Wait(ctx context.Context, id string) (*ImportRun, error) {
	tr, ok := t.lookup(id)
	if !ok {
		return t.Snapshot(ctx, id)
	}
	select {
	case <-tr.done:
		return tr.snapshot(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Subscribe returns a channel of progress updates, closed when the run ends.
// The current progress is sent immediately.
func (t *Tracker) Subscribe(id string) (<-chan Progress, error) {
	tr, ok := t.lookup(id)
	if !ok {
		return nil, ErrRunNotFound
	}

	ch := make(chan Progress, 10)

	tr.mu.Lock()
	defer tr.mu.Unlock()
	select {
	case ch <- tr.run.Progress():
	default:
	}
	if tr.run.Status.Finished() {
		close(ch)
		return ch, nil
	}
	tr.listeners = append(tr.listeners, ch)
	return ch, nil
}

// Cancel asks a running import to stop at the next batch boundary.
func (t *Tracker) Cancel(id string) error {
	tr, ok := t.lookup(id)
	if !ok {
		return ErrRunNotFound
	}
	tr.cancelRequested.Store(true)
	if tr.cancel != nil {
		tr.cancel()
	}
	return nil
}

// Active returns the ids of runs still in progress.
func (t *Tracker) Active() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var ids []string
	for id, tr := range t.runs {
		select {
		case <-tr.done:
		default:
			ids = append(ids, id)
		}
	}
	return ids
}

// ----------------------------------------------------------------------------
// trackedRun
// ----------------------------------------------------------------------------

func (tr *trackedRun) snapshot() *ImportRun {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	c := tr.run.Clone()
	// Unprocessed slots have no status; they are not outcomes yet.
	kept := c.Outcomes[:0]
	for _, o := range c.Outcomes {
		if o.Status != "" {
			kept = append(kept, o)
		}
	}
	c.Outcomes = kept
	return c
}

func (tr *trackedRun) progress() Progress {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.run.Progress()
}

func (tr *trackedRun) setStage(stage Stage) {
	tr.mu.Lock()
	tr.run.Stage = stage
	tr.mu.Unlock()
	tr.notify()
}

// setRows sizes the outcome list once the file has been read.
func (tr *trackedRun) setRows(total int, mapping *MappingReport) {
	tr.mu.Lock()
	tr.run.TotalRows = total
	tr.run.Outcomes = make([]RowOutcome, total)
	tr.run.Mapping = mapping
	tr.mu.Unlock()
	tr.notify()
}

// setOutcomes records final row outcomes and updates the counters.
func (tr *trackedRun) setOutcomes(results []rowResult) {
	tr.mu.Lock()
	for _, r := range results {
		if r.row < 0 || r.row >= len(tr.run.Outcomes) {
			continue
		}
		if prev := tr.run.Outcomes[r.row].Status; prev != "" {
			tr.run.count(prev, -1)
		}
		tr.run.Outcomes[r.row] = r.outcome
		tr.run.count(r.outcome.Status, 1)
	}
	tr.mu.Unlock()
	tr.notify()
}

// skipUnfinished reports every row without an outcome as skipped with w.
// lines and kinds are indexed by row; kinds may be shorter than lines.
func (tr *trackedRun) skipUnfinished(lines []int, kinds []EntityKind, w Issue) {
	tr.mu.Lock()
	for i := range tr.run.Outcomes {
		if tr.run.Outcomes[i].Status != "" || i >= len(lines) {
			continue
		}
		kind := KindUnknown
		if i < len(kinds) && kinds[i] != "" {
			kind = kinds[i]
		}
		tr.run.Outcomes[i] = RowOutcome{
			SourceLine: lines[i],
			Kind:       kind,
			Status:     StatusSkipped,
			Warnings:   []Issue{w},
		}
		tr.run.count(StatusSkipped, 1)
	}
	tr.mu.Unlock()
	tr.notify()
}

// count adjusts the counter of status by delta.
func (r *ImportRun) count(status RowStatus, delta int) {
	r.ProcessedRows += delta
	switch status {
	case StatusInserted:
		r.InsertedRows += delta
	case StatusUpdated:
		r.UpdatedRows += delta
	case StatusSkipped:
		r.SkippedRows += delta
	case StatusFailed:
		r.ErrorRows += delta
	}
}

func (tr *trackedRun) notify() {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	p := tr.run.Progress()
	for _, ch := range tr.listeners {
		select {
		case ch <- p:
		default:
			// Listener is slow, skip this update
		}
	}
}

func (tr *trackedRun) closeListeners() {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	for _, ch := range tr.listeners {
		close(ch)
	}
	tr.listeners = nil
}
