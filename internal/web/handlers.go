package web

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/energyimport/internal/core"
	"github.com/JonMunkholm/energyimport/internal/logging"
	"github.com/go-chi/chi/v5"
)

// multipartMemory is how much of a multipart body is held in memory before
// parts spill to temporary files.
const multipartMemory = 32 << 20

// submitResponse is returned when a run has been accepted.
type submitResponse struct {
	RunID       string         `json:"run_id"`
	Status      core.RunStatus `json:"status"`
	StatusURL   string         `json:"status_url"`
	ProgressURL string         `json:"progress_url"`
	ResultURL   string         `json:"result_url"`
}

// handleSubmit accepts a multipart upload ("file" plus option fields) and
// starts an asynchronous run. With ?wait=true the handler waits for the run
// to finish, up to the request timeout, and returns the result.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	maxSize := s.cfg.Import.MaxFileSize
	// Room for the other form fields on top of the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+1<<20)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			respondError(w, r, fmt.Errorf("%w: request body exceeds %d bytes", core.ErrFileTooLarge, mbe.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, "expected a multipart form with a file field", "FILE003")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file provided", "FILE003")
		return
	}
	defer file.Close()

	data, err := core.ReadUpload(file, maxSize, header.Size)
	if err != nil {
		respondError(w, r, err)
		return
	}

	opts, err := parseOptions(r, s.defaults)
	if err != nil {
		respondError(w, r, err)
		return
	}

	ctx := core.ContextWithClientIP(r.Context(), clientIP(r))
	ctx = core.ContextWithUserAgent(ctx, r.UserAgent())
	runID, err := s.service.Submit(ctx, header.Filename, data, opts)
	if err != nil {
		respondError(w, r, err)
		return
	}
	logging.WithFields(r.Context(), "run_id", runID, "file", header.Filename).Info("import submitted",
		"bytes", len(data),
		"dry_run", opts.DryRun,
	)

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		run, err := s.service.Wait(r.Context(), runID)
		if err == nil {
			writeJSON(w, http.StatusOK, run.Result())
			return
		}
		// Timed out waiting; fall through and hand back the run id.
	}

	base := "/api/imports/" + runID
	writeJSON(w, http.StatusAccepted, submitResponse{
		RunID:       runID,
		Status:      core.RunRunning,
		StatusURL:   base,
		ProgressURL: base + "/progress",
		ResultURL:   base + "/result",
	})
}

// handleListImports returns persisted runs, newest first, without outcomes.
func (s *Server) handleListImports(w http.ResponseWriter, r *http.Request) {
	runs, err := s.service.History(r.Context(), parseIntParam(r, "limit", 50))
	if err != nil {
		respondError(w, r, err)
		return
	}
	if runs == nil {
		runs = []*core.ImportRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// handleGetImport returns the run as it is now, running or finished.
func (s *Server) handleGetImport(w http.ResponseWriter, r *http.Request) {
	run, err := s.service.Snapshot(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// handleResult returns the final run with its error report, or 409 while
// it is still running.
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	run, err := s.service.Result(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run.Result())
}

// handleErrorReport returns the run's errors and warnings as JSON, or as a
// CSV download with ?format=csv.
func (s *Server) handleErrorReport(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	report, err := s.service.ErrorReport(r.Context(), runID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	if !strings.EqualFold(r.URL.Query().Get("format"), "csv") {
		if report == nil {
			report = []core.ReportEntry{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"run_id": runID, "entries": report})
		return
	}

	timestamp := time.Now().Format("20060102_150405")
	filename := fmt.Sprintf("import_errors_%s.csv", timestamp)
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))

	csvWriter := csv.NewWriter(w)
	csvWriter.Write([]string{"source_line", "severity", "code", "field", "message"})
	for _, e := range report {
		csvWriter.Write([]string{
			strconv.Itoa(e.SourceLine),
			string(e.Severity),
			string(e.Code),
			string(e.Field),
			e.Message,
		})
	}
	csvWriter.Flush()
}

// handleCancel asks a running import to stop.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if err := s.service.Cancel(runID); err != nil {
		respondError(w, r, err)
		return
	}
	logging.WithFields(r.Context(), "run_id", runID).Info("import cancel requested")
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID, "status": "cancelling"})
}

// handleProgress streams run progress via Server-Sent Events.
// Supports resumption via the Last-Event-ID header or lastEventId query
// parameter; the event id is the progress percentage.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	lastEventIDStr := r.Header.Get("Last-Event-ID")
	if lastEventIDStr == "" {
		lastEventIDStr = r.URL.Query().Get("lastEventId")
	}
	lastEventID := -1
	if lastEventIDStr != "" {
		if n, err := strconv.Atoi(lastEventIDStr); err == nil {
			lastEventID = n
		}
	}

	progressCh, err := s.service.Subscribe(runID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	// The controller reaches the Flusher through wrapping middleware.
	rc := http.NewResponseController(w)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		logging.FromContext(r.Context()).Warn("progress stream not flushable", "error", err)
		return
	}

	for {
		select {
		case progress, ok := <-progressCh:
			if !ok {
				// Channel closed - run finished
				final, err := s.service.Snapshot(r.Context(), runID)
				if err != nil {
					fmt.Fprintf(w, "event: complete\ndata: {}\n\n")
				} else {
					data, _ := json.Marshal(final.Progress())
					fmt.Fprintf(w, "event: complete\ndata: %s\n\n", data)
				}
				rc.Flush()
				return
			}

			// Skip events older than what the client already has.
			percent := progress.Percent()
			if percent < lastEventID {
				continue
			}

			data, _ := json.Marshal(progress)
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", percent, data)
			rc.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// handleListTypes describes every record kind and its canonical fields.
func (s *Server) handleListTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"types": s.service.SupportedTypes()})
}

// handleHealth reports liveness and limiter usage.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"imports": s.service.LimiterStatus(),
	})
}
