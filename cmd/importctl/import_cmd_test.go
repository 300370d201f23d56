package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/JonMunkholm/energyimport/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImportFlags_Options(t *testing.T) {
	tests := []struct {
		name    string
		flags   importFlags
		check   func(t *testing.T, o core.Options)
		wantErr bool
	}{
		{
			name:  "dry run by default",
			flags: importFlags{threshold: -1},
			check: func(t *testing.T, o core.Options) {
				assert.True(t, o.DryRun)
				assert.True(t, o.AutoDetectType)
			},
		},
		{
			name:  "apply with fixed type",
			flags: importFlags{apply: true, kind: "gas", threshold: -1},
			check: func(t *testing.T, o core.Options) {
				assert.False(t, o.DryRun)
				assert.False(t, o.AutoDetectType)
				assert.Equal(t, core.KindGasContract, o.FixedKind)
			},
		},
		{
			name:  "mapping and threshold",
			flags: importFlags{mapping: `{"Cod. Cliente":"customer_code"}`, threshold: 0.5, batchSize: 10},
			check: func(t *testing.T, o core.Options) {
				assert.Equal(t, core.FieldCustomerCode, o.ColumnMapping["Cod. Cliente"])
				assert.InDelta(t, 0.5, o.ConfidenceThreshold, 1e-9)
				assert.Equal(t, 10, o.BatchSize)
			},
		},
		{name: "unknown type", flags: importFlags{kind: "water", threshold: -1}, wantErr: true},
		{name: "bad mapping", flags: importFlags{mapping: "[", threshold: -1}, wantErr: true},
		{name: "threshold out of range", flags: importFlags{threshold: 2}, wantErr: true},
		{name: "bad file kind", flags: importFlags{fileKind: "ods", threshold: -1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := tt.flags.options(core.DefaultOptions())
			if tt.wantErr {
				assert.ErrorIs(t, err, core.ErrInvalidOptions)
				return
			}
			require.NoError(t, err)
			tt.check(t, opts)
		})
	}
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_URL", "")
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestImportCmd_MemoryStore(t *testing.T) {
	path := writeTemp(t, "clienti.csv",
		"record_type;fiscal_code;first_name;last_name;email;pod;activation_date\n"+
			"private;RSSMRA80A01H501Z;Mario;Rossi;mario@example.it;;\n"+
			"electricity;RSSMRA80A01H501Z;;;;IT001E12345678;2024-01-15\n")

	out, err := execute(t, "import", "--store", "memory", "--apply", "--quiet", "--format", "json", path)
	require.NoError(t, err, out)

	var run core.ImportRun
	require.NoError(t, json.Unmarshal([]byte(out), &run))
	assert.Equal(t, "clienti.csv", run.FileName)
	assert.Equal(t, core.RunCompleted, run.Status)
	assert.Equal(t, 2, run.InsertedRows)
	assert.False(t, run.Options.DryRun)

	var result core.RunResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.NotNil(t, result.ErrorReport)
	assert.Len(t, result.ErrorReport, len(run.ErrorReport()))
}

func TestImportCmd_RowErrorsExitCode(t *testing.T) {
	path := writeTemp(t, "bad.csv",
		"fiscal_code;first_name;last_name;email\n"+
			"RSSMRA80;Mario;Rossi;mario@example.it\n")

	out, err := execute(t, "import", "--store", "memory", "--quiet", path)
	var ee *exitError
	require.True(t, errors.As(err, &ee), "got %v", err)
	assert.Equal(t, exitRowErrors, ee.code)
	assert.Contains(t, out, "dry run")
	assert.Contains(t, out, "FieldValidationError")
}

func TestRunsCmd_RequiresDatabase(t *testing.T) {
	_, err := execute(t, "runs")
	assert.ErrorIs(t, err, errNoDatabase)
}

func TestTypesCmd(t *testing.T) {
	out, err := execute(t, "types", "--json")
	require.NoError(t, err)

	var types []core.SupportedType
	require.NoError(t, json.Unmarshal([]byte(out), &types))
	assert.Len(t, types, 4)
}
