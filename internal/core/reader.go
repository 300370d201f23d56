package core

// reader.go turns a raw file buffer into RawRows.
//
// CSV input is decoded to UTF-8 first (UTF-8/UTF-16 byte-order marks,
// Windows-1252 fallback for legacy exports), then parsed with encoding/csv
// using either the delimiter named by a leading "sep=" directive or the one
// sniffed from the header line. XLSX input is read from the first sheet.

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// FileKind is the container format of an uploaded file.
type FileKind string

const (
	FileCSV  FileKind = "csv"
	FileXLSX FileKind = "xlsx"
)

// DefaultColumnTolerance is how many cells a CSV row may be short or long
// relative to the header before the file is rejected.
const DefaultColumnTolerance = 3

// ReaderOptions tunes the reader. A negative ColumnTolerance disables the check.
type ReaderOptions struct {
	ColumnTolerance int
}

// DetectFileKind infers the file kind from its name, then from its content.
// Any zip container is treated as a workbook; excelize rejects the rest.
func DetectFileKind(fileName string, data []byte) FileKind {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".xlsx", ".xlsm":
		return FileXLSX
	case ".csv", ".txt", ".tsv":
		return FileCSV
	}
	for m := mimetype.Detect(data); m != nil; m = m.Parent() {
		if m.Is("application/zip") {
			return FileXLSX
		}
	}
	return FileCSV
}

// Read parses data into rows. The header is not returned as a row; every
// RawRow carries it. Returns *MalformedInputError when the file cannot be
// treated as a table.
func Read(data []byte, kind FileKind, opts ReaderOptions) ([]RawRow, error) {
	var (
		records [][]string
		lines   []int
		err     error
	)
	switch kind {
	case FileXLSX:
		records, lines, err = readXLSX(data)
	case FileCSV, "":
		records, lines, err = readCSV(data)
	default:
		return nil, malformed(0, "unsupported file kind %q", kind)
	}
	if err != nil {
		return nil, err
	}

	// Drop blank lines, then require a header and at least one data row.
	var kept [][]string
	var keptLines []int
	for i, rec := range records {
		if isBlankRecord(rec) {
			continue
		}
		kept = append(kept, rec)
		keptLines = append(keptLines, lines[i])
	}
	if len(kept) < 2 {
		return nil, malformed(0, "expected a header and at least one data row, found %d non-empty line(s)", len(kept))
	}

	header := cleanHeader(kept[0])
	width := len(header)
	strict := kind != FileXLSX && opts.ColumnTolerance >= 0

	rows := make([]RawRow, 0, len(kept)-1)
	for i, rec := range kept[1:] {
		line := keptLines[i+1]
		cells := make([]string, len(rec))
		for j, c := range rec {
			cells[j] = CleanCell(c)
		}

		// Long rows: trailing empty cells are noise.
		for len(cells) > width && cells[len(cells)-1] == "" {
			cells = cells[:len(cells)-1]
		}

		rowHeader := header
		switch {
		case len(cells) < width:
			if deficit := width - len(cells); strict && deficit > opts.ColumnTolerance {
				return nil, malformed(line, "row has %d columns, header has %d", len(cells), width)
			}
			cells = append(cells, make([]string, width-len(cells))...)
		case len(cells) > width:
			if overflow := len(cells) - width; strict && overflow > opts.ColumnTolerance {
				return nil, malformed(line, "row has %d columns, header has %d", len(cells), width)
			}
			rowHeader = make([]string, len(cells))
			copy(rowHeader, header)
			for j := width; j < len(cells); j++ {
				rowHeader[j] = fmt.Sprintf("column_%d", j+1)
			}
		}

		rows = append(rows, RawRow{Line: line, Header: rowHeader, Cells: cells})
	}
	return rows, nil
}

func isBlankRecord(rec []string) bool {
	for _, c := range rec {
		if CleanCell(c) != "" {
			return false
		}
	}
	return true
}

// cleanHeader names empty header cells and disambiguates duplicates.
func cleanHeader(raw []string) []string {
	// Trailing empty header cells carry no column.
	end := len(raw)
	for end > 0 && CleanCell(raw[end-1]) == "" {
		end--
	}

	header := make([]string, end)
	seen := make(map[string]int, end)
	for i := 0; i < end; i++ {
		h := CleanCell(raw[i])
		if h == "" {
			h = fmt.Sprintf("column_%d", i+1)
		}
		seen[h]++
		if n := seen[h]; n > 1 {
			h = fmt.Sprintf("%s_%d", h, n)
		}
		header[i] = h
	}
	return header
}

// ----------------------------------------------------------------------------
// CSV
// ----------------------------------------------------------------------------

func readCSV(data []byte) ([][]string, []int, error) {
	text, err := decodeText(data)
	if err != nil {
		return nil, nil, &MalformedInputError{Reason: "encoding error", Err: err}
	}

	lineOffset := 0
	delim, rest, ok := sepDirective(text)
	if ok {
		text = rest
		lineOffset = 1
	} else {
		delim = sniffDelimiter(text)
	}

	r := csv.NewReader(strings.NewReader(text))
	r.Comma = delim
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	var records [][]string
	var lines []int
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				return nil, nil, &MalformedInputError{Line: pe.StartLine + lineOffset, Reason: pe.Err.Error(), Err: err}
			}
			return nil, nil, &MalformedInputError{Reason: "invalid csv", Err: err}
		}
		line, _ := r.FieldPos(0)
		records = append(records, rec)
		lines = append(lines, line+lineOffset)
	}
	return records, lines, nil
}

// decodeText returns data as UTF-8. A byte-order mark selects UTF-8 or
// UTF-16; otherwise invalid UTF-8 is decoded as Windows-1252.
func decodeText(data []byte) (string, error) {
	var fallback transform.Transformer = transform.Nop
	if !utf8.Valid(data) {
		fallback = charmap.Windows1252.NewDecoder()
	}
	out, _, err := transform.Bytes(unicode.BOMOverride(fallback), data)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// sepDirective recognizes an Excel "sep=<c>" first line.
func sepDirective(text string) (rune, string, bool) {
	first, rest, found := strings.Cut(text, "\n")
	if !found {
		return 0, "", false
	}
	first = strings.TrimRight(first, "\r")
	if !strings.HasPrefix(strings.ToLower(first), "sep=") {
		return 0, "", false
	}
	switch v := first[len("sep="):]; v {
	case ",":
		return ',', rest, true
	case ";":
		return ';', rest, true
	case "\t", `\t`:
		return '\t', rest, true
	}
	return 0, "", false
}

var candidateDelimiters = []rune{',', ';', '\t', '|'}

// sniffDelimiter picks the candidate occurring most often, outside quotes,
// on the first non-blank line. Ties go to the earlier candidate.
func sniffDelimiter(text string) rune {
	var header string
	for _, l := range strings.Split(text, "\n") {
		if strings.TrimSpace(l) != "" {
			header = l
			break
		}
	}

	counts := make(map[rune]int, len(candidateDelimiters))
	inQuotes := false
	for _, r := range header {
		if r == '"' {
			inQuotes = !inQuotes
			continue
		}
		if !inQuotes {
			counts[r]++
		}
	}

	best, bestCount := ',', 0
	for _, d := range candidateDelimiters {
		if counts[d] > bestCount {
			best, bestCount = d, counts[d]
		}
	}
	return best
}

// ----------------------------------------------------------------------------
// XLSX
// ----------------------------------------------------------------------------

func readXLSX(data []byte) ([][]string, []int, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, nil, &MalformedInputError{Reason: "not a readable workbook", Err: err}
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, malformed(0, "workbook has no sheets")
	}

	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, nil, &MalformedInputError{Reason: "cannot read sheet " + sheets[0], Err: err}
	}

	lines := make([]int, len(rows))
	for i := range rows {
		lines[i] = i + 1
	}
	return rows, lines, nil
}
