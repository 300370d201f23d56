package web

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/energyimport/internal/config"
	"github.com/JonMunkholm/energyimport/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	mixedFile = "record_type;fiscal_code;first_name;last_name;email;pod;activation_date\n" +
		"private;RSSMRA80A01H501Z;Mario;Rossi;mario.rossi@example.it;;\n" +
		"electricity;RSSMRA80A01H501Z;;;;IT001E12345678;2024-01-15\n"

	badFile = "fiscal_code;first_name;last_name;email\n" +
		"RSSMRA80;Mario;Rossi;mario@example.it\n"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{RequestTimeout: 10 * time.Second},
		Import: config.ImportConfig{
			MaxFileSize:         4096,
			BatchSize:           100,
			ConfidenceThreshold: core.DefaultConfThreshold,
		},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *core.MemoryStore) {
	t.Helper()
	store := core.NewMemoryStore()
	svc := core.NewService(store, store, cfg.Import.ServiceConfig())
	srv := NewServer(svc, cfg)
	t.Cleanup(func() { srv.Shutdown(t.Context()) })
	return srv, store
}

// uploadRequest builds a multipart POST to /api/imports.
func uploadRequest(t *testing.T, query, fileName, content string, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if fileName != "" {
		part, err := mw.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/imports"+query, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// submitAndWait uploads content and returns the finished run.
func submitAndWait(t *testing.T, srv *Server, content string) *core.ImportRun {
	t.Helper()
	rec := serve(srv, uploadRequest(t, "?wait=true", "upload.csv", content, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	run := decode[core.ImportRun](t, rec)
	return &run
}

// ============================================================================
// Health and metadata
// ============================================================================

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())
	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Contains(t, body, "imports")
}

func TestCORS(t *testing.T) {
	cfg := testConfig()
	cfg.Security.CORSOrigins = []string{"https://ops.example.com"}
	srv, _ := newTestServer(t, cfg)

	tests := []struct {
		name   string
		origin string
		want   string
	}{
		{"allowed origin", "https://ops.example.com", "https://ops.example.com"},
		{"other origin", "https://evil.example.com", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/types", nil)
			req.Header.Set("Origin", tt.origin)
			rec := serve(srv, req)

			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.want, rec.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())
	submitAndWait(t, srv, mixedFile)

	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "energyimport_")
}

func TestListTypes(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())
	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/api/types", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct {
		Types []core.SupportedType `json:"types"`
	}](t, rec)
	assert.Len(t, body.Types, 4)
}

// ============================================================================
// Submission
// ============================================================================

func TestSubmit_Wait(t *testing.T) {
	srv, store := newTestServer(t, testConfig())
	run := submitAndWait(t, srv, mixedFile)

	assert.Equal(t, core.RunCompleted, run.Status)
	assert.Equal(t, 2, run.InsertedRows)
	assert.Len(t, store.Contracts(), 1)
	assert.Equal(t, "192.0.2.1", run.ClientIP, "submitter recorded on the run")
}

func TestSubmit_Async(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())
	rec := serve(srv, uploadRequest(t, "", "upload.csv", mixedFile, nil))

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	resp := decode[submitResponse](t, rec)
	require.NotEmpty(t, resp.RunID)
	assert.Equal(t, "/api/imports/"+resp.RunID+"/progress", resp.ProgressURL)

	require.Eventually(t, func() bool {
		rec := serve(srv, httptest.NewRequest(http.MethodGet, resp.ResultURL, nil))
		return rec.Code == http.StatusOK
	}, 5*time.Second, 10*time.Millisecond)

	rec = serve(srv, httptest.NewRequest(http.MethodGet, resp.StatusURL, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, core.RunCompleted, decode[core.ImportRun](t, rec).Status)
}

func TestSubmit_DryRunOption(t *testing.T) {
	srv, store := newTestServer(t, testConfig())
	rec := serve(srv, uploadRequest(t, "?wait=true", "upload.csv", mixedFile, map[string]string{"dry_run": "true"}))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	run := decode[core.ImportRun](t, rec)
	assert.True(t, run.Options.DryRun)
	assert.Equal(t, 2, run.InsertedRows)
	assert.Empty(t, store.Customers())
}

func TestSubmit_Errors(t *testing.T) {
	tests := []struct {
		name       string
		req        func(t *testing.T) *http.Request
		wantStatus int
		wantCode   string
	}{
		{
			name: "not multipart",
			req: func(t *testing.T) *http.Request {
				return httptest.NewRequest(http.MethodPost, "/api/imports", strings.NewReader("x"))
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "FILE003",
		},
		{
			name: "missing file",
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "", "", "", map[string]string{"dry_run": "true"})
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "FILE003",
		},
		{
			name: "batch size zero",
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "", "upload.csv", mixedFile, map[string]string{"batch_size": "0"})
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "VAL001",
		},
		{
			name: "unknown record type",
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "", "upload.csv", mixedFile, map[string]string{"type": "water"})
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "VAL001",
		},
		{
			name: "bad column mapping",
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "", "upload.csv", mixedFile, map[string]string{"column_mapping": "{"})
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "VAL001",
		},
		{
			name: "file too large",
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "", "upload.csv", strings.Repeat("a;b\n", 2000), nil)
			},
			wantStatus: http.StatusRequestEntityTooLarge,
			wantCode:   "FILE001",
		},
	}

	srv, _ := newTestServer(t, testConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(srv, tt.req(t))
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantCode, decode[ErrorResponse](t, rec).Code)
		})
	}
}

func TestSubmit_RateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 100, SubmitLimit: 1}
	srv, _ := newTestServer(t, cfg)

	first := serve(srv, uploadRequest(t, "?wait=true", "upload.csv", mixedFile, nil))
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", first.Header().Get("X-RateLimit-Remaining"))

	second := serve(srv, uploadRequest(t, "", "upload.csv", mixedFile, nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "60", second.Header().Get("Retry-After"))

	// Other routes keep their own budget.
	assert.Equal(t, http.StatusOK, serve(srv, httptest.NewRequest(http.MethodGet, "/api/types", nil)).Code)
}

func TestAPIKeyAuth(t *testing.T) {
	cfg := testConfig()
	cfg.Security = config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"s3cret"}}
	srv, _ := newTestServer(t, cfg)

	assert.Equal(t, http.StatusUnauthorized, serve(srv, httptest.NewRequest(http.MethodGet, "/api/types", nil)).Code)

	req := httptest.NewRequest(http.MethodGet, "/api/types", nil)
	req.Header.Set("X-API-Key", "wrong")
	assert.Equal(t, http.StatusForbidden, serve(srv, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/types", nil)
	req.Header.Set("X-API-Key", "s3cret")
	assert.Equal(t, http.StatusOK, serve(srv, req).Code)

	assert.Equal(t, http.StatusOK, serve(srv, httptest.NewRequest(http.MethodGet, "/healthz", nil)).Code)
}

// ============================================================================
// Run inspection
// ============================================================================

func TestUnknownRun(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	for _, path := range []string{
		"/api/imports/nope",
		"/api/imports/nope/result",
		"/api/imports/nope/errors",
		"/api/imports/nope/progress",
	} {
		rec := serve(srv, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.Equal(t, "IMP003", decode[ErrorResponse](t, rec).Code, path)
	}

	rec := serve(srv, httptest.NewRequest(http.MethodPost, "/api/imports/nope/cancel", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListImports(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())
	run := submitAndWait(t, srv, mixedFile)

	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/api/imports?limit=10", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct {
		Runs []core.ImportRun `json:"runs"`
	}](t, rec)
	require.Len(t, body.Runs, 1)
	assert.Equal(t, run.ID, body.Runs[0].ID)
	assert.Empty(t, body.Runs[0].Outcomes)
}

func TestResult_CarriesErrorReport(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		wantEntries bool
	}{
		{"row errors", badFile, true},
		{"no row errors", mixedFile, false},
	}

	srv, _ := newTestServer(t, testConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := submitAndWait(t, srv, tt.content)

			rec := serve(srv, httptest.NewRequest(http.MethodGet, "/api/imports/"+run.ID+"/result", nil))
			require.Equal(t, http.StatusOK, rec.Code)

			raw := decode[map[string]any](t, rec)
			require.Contains(t, raw, "error_report", "the report is present even when empty")

			result := decode[core.RunResult](t, rec)
			assert.Equal(t, run.ID, result.ID)
			assert.Len(t, result.ErrorReport, len(run.ErrorReport()))
			if !tt.wantEntries {
				assert.Zero(t, result.ErrorRows)
				return
			}
			require.NotEmpty(t, result.ErrorReport)
			assert.Equal(t, 2, result.ErrorReport[0].SourceLine)
			assert.Equal(t, core.FieldFiscalCode, result.ErrorReport[0].Field)
		})
	}
}

func TestErrorReport(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())
	run := submitAndWait(t, srv, badFile)
	require.Equal(t, 1, run.ErrorRows)

	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/api/imports/"+run.ID+"/errors", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[struct {
		RunID   string             `json:"run_id"`
		Entries []core.ReportEntry `json:"entries"`
	}](t, rec)
	assert.Equal(t, run.ID, body.RunID)
	require.NotEmpty(t, body.Entries)
	assert.Equal(t, 2, body.Entries[0].SourceLine)

	rec = serve(srv, httptest.NewRequest(http.MethodGet, "/api/imports/"+run.ID+"/errors?format=csv", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "import_errors_")

	records, err := csv.NewReader(rec.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, len(body.Entries)+1)
	assert.Equal(t, []string{"source_line", "severity", "code", "field", "message"}, records[0])
	assert.Equal(t, "2", records[1][0])
	assert.Equal(t, "fiscal_code", records[1][3])
}

func TestProgressStream_FinishedRun(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())
	run := submitAndWait(t, srv, mixedFile)

	rec := serve(srv, httptest.NewRequest(http.MethodGet, "/api/imports/"+run.ID+"/progress", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "event: progress")
	assert.Contains(t, body, "event: complete")
	assert.Less(t, strings.Index(body, "event: progress"), strings.Index(body, "event: complete"))
	assert.Contains(t, body, `"stage":"complete"`)
}

func TestCancel_FinishedRun(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())
	run := submitAndWait(t, srv, mixedFile)

	rec := serve(srv, httptest.NewRequest(http.MethodPost, "/api/imports/"+run.ID+"/cancel", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = serve(srv, httptest.NewRequest(http.MethodGet, "/api/imports/"+run.ID+"/result", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, core.RunCompleted, decode[core.ImportRun](t, rec).Status, "a finished run stays finished")
}
