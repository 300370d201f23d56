package web

// handlers_common.go contains helpers shared across handlers.

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/JonMunkholm/energyimport/internal/core"
)

// parseIntParam parses a positive integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}

// clientIP returns the request's client address without the port.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// writeJSON encodes v as JSON and writes it to w with the given status.
// Logs encoding errors since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("json encode error", "error", err)
	}
}

// parseOptions builds run options from form values (multipart body or
// query string), starting from defaults. Unset values keep the default.
//
// Recognized fields: dry_run, auto_detect_type, type, skip_validation,
// skip_association, batch_size, confidence_threshold, file_kind and
// column_mapping (a JSON object of source header to canonical field).
func parseOptions(r *http.Request, defaults core.Options) (core.Options, error) {
	opts := defaults

	bools := []struct {
		name string
		dst  *bool
	}{
		{"dry_run", &opts.DryRun},
		{"auto_detect_type", &opts.AutoDetectType},
		{"skip_validation", &opts.SkipValidation},
		{"skip_association", &opts.SkipAssociation},
	}
	for _, b := range bools {
		v := r.FormValue(b.name)
		if v == "" {
			continue
		}
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return opts, fmt.Errorf("%w: %s must be a boolean, got %q", core.ErrInvalidOptions, b.name, v)
		}
		*b.dst = parsed
	}

	// A fixed type turns auto-detection off unless the caller asked for both.
	if v := r.FormValue("type"); v != "" {
		kind, ok := core.ParseEntityKind(v)
		if !ok {
			return opts, fmt.Errorf("%w: unknown record type %q", core.ErrInvalidOptions, v)
		}
		opts.FixedKind = kind
		if r.FormValue("auto_detect_type") == "" {
			opts.AutoDetectType = false
		}
	}

	if v := r.FormValue("batch_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, fmt.Errorf("%w: batch_size must be an integer, got %q", core.ErrInvalidOptions, v)
		}
		opts.BatchSize = n
	}
	if v := r.FormValue("confidence_threshold"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return opts, fmt.Errorf("%w: confidence_threshold must be a number, got %q", core.ErrInvalidOptions, v)
		}
		opts.ConfidenceThreshold = f
	}
	if v := r.FormValue("file_kind"); v != "" {
		opts.FileKind = core.FileKind(v)
	}
	if v := r.FormValue("column_mapping"); v != "" {
		var mapping map[string]core.Field
		if err := json.Unmarshal([]byte(v), &mapping); err != nil {
			return opts, fmt.Errorf("%w: column_mapping must be a JSON object: %v", core.ErrInvalidOptions, err)
		}
		opts.ColumnMapping = mapping
	}

	return opts, opts.Validate()
}
