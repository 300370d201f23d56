package core

import (
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// MappingOrigin explains how a source column got its canonical field.
type MappingOrigin string

const (
	OriginAlias     MappingOrigin = "alias"
	OriginOverride  MappingOrigin = "override"
	OriginUnmapped  MappingOrigin = "unmapped"
	OriginDuplicate MappingOrigin = "duplicate" // another column already maps to the field
)

// ColumnMapping is one row of the MappingReport.
type ColumnMapping struct {
	Source      string        `json:"source"`
	Field       Field         `json:"field,omitempty"`
	Origin      MappingOrigin `json:"origin"`
	Suggestions []Field       `json:"suggestions,omitempty"`
}

// MappingReport records the header-to-field mapping a run used.
type MappingReport struct {
	Columns []ColumnMapping `json:"columns"`
}

// Mapped returns the source -> field pairs that were applied.
func (m *MappingReport) Mapped() map[string]Field {
	out := make(map[string]Field)
	for _, c := range m.Columns {
		if c.Origin == OriginAlias || c.Origin == OriginOverride {
			out[c.Source] = c.Field
		}
	}
	return out
}

// Normalizer maps source columns onto canonical fields and coerces values.
// It is built once per file and is safe for concurrent use.
type Normalizer struct {
	columns map[string]Field // source header -> field; absent means unmapped
	order   map[Field][]string
	report  MappingReport
}

// NewNormalizer resolves every header against the overrides, then the alias
// table. Overrides are keyed by source header (exact or folded) and may map
// a column to "" to force it into the extras bag.
func NewNormalizer(header []string, overrides map[string]Field) *Normalizer {
	foldedOverrides := make(map[string]Field, len(overrides))
	for src, f := range overrides {
		foldedOverrides[FoldHeader(src)] = f
	}

	n := &Normalizer{
		columns: make(map[string]Field, len(header)),
		order:   make(map[Field][]string),
	}
	for _, h := range header {
		cm := ColumnMapping{Source: h, Origin: OriginUnmapped}

		if f, ok := overrides[h]; ok {
			cm.Field, cm.Origin = f, OriginOverride
		} else if f, ok := foldedOverrides[FoldHeader(h)]; ok {
			cm.Field, cm.Origin = f, OriginOverride
		} else if f, ok := LookupAlias(h); ok {
			cm.Field, cm.Origin = f, OriginAlias
		}

		if cm.Field == "" {
			cm.Origin = OriginUnmapped
			cm.Suggestions = suggestFields(h)
		} else {
			if len(n.order[cm.Field]) > 0 {
				cm.Origin = OriginDuplicate
			}
			n.columns[h] = cm.Field
			n.order[cm.Field] = append(n.order[cm.Field], h)
		}
		n.report.Columns = append(n.report.Columns, cm)
	}
	return n
}

// Report returns the mapping applied to the header.
func (n *Normalizer) Report() *MappingReport {
	r := MappingReport{Columns: make([]ColumnMapping, len(n.report.Columns))}
	copy(r.Columns, n.report.Columns)
	return &r
}

// Normalize converts a row. It never fails: values that cannot be coerced
// keep their raw text with Coerced=false for the Validator to report.
// When several columns map to one field, the first non-empty one wins and
// the others are kept as extras.
func (n *Normalizer) Normalize(row RawRow) NormalizedRecord {
	rec := NormalizedRecord{
		Kind:       KindUnknown,
		SourceLine: row.Line,
		Fields:     make(map[Field]Value),
		Extras:     make(map[string]string),
	}

	for i, h := range row.Header {
		raw := row.Cells[i]
		if raw == "" {
			continue
		}
		f, mapped := n.columns[h]
		if !mapped {
			rec.Extras[h] = raw
			continue
		}
		if _, taken := rec.Fields[f]; taken {
			rec.Extras[h] = raw
			continue
		}
		rec.Fields[f] = coerce(f, raw)
	}
	return rec
}

// coerce converts raw text according to the field's catalog entry.
func coerce(f Field, raw string) Value {
	v := Value{Raw: raw, Text: raw, Coerced: true}
	spec, ok := fieldCatalog[f]
	if !ok {
		return v
	}

	switch spec.Type {
	case FieldText:
		if spec.Normalizer != nil {
			if s := spec.Normalizer(raw); s != "" {
				v.Text = s
			}
		}
	case FieldEnum:
		canon, ok := spec.EnumValues[FoldHeader(raw)]
		if ok {
			v.Text = canon
		}
		v.Coerced = ok
	case FieldDate:
		v.Date, v.Coerced = ParseDate(raw)
	case FieldDecimal:
		v.Decimal, v.Coerced = ParseDecimal(raw)
	case FieldBool:
		v.Bool, v.Coerced = ParseBool(raw)
	}
	return v
}

// suggestionTargets pairs every folded spelling with its field.
var suggestionTargets, suggestionFields = func() ([]string, []Field) {
	var targets []string
	var fields []Field
	for folded, f := range aliasIndex {
		targets = append(targets, folded)
		fields = append(fields, f)
	}
	return targets, fields
}()

// suggestFields ranks canonical fields whose spellings fuzzy-match header.
func suggestFields(header string) []Field {
	folded := FoldHeader(header)
	if len(folded) < 2 {
		return nil
	}

	best := make(map[Field]int)
	consider := func(f Field, dist int) {
		if d, ok := best[f]; !ok || dist < d {
			best[f] = dist
		}
	}

	ranks := fuzzy.RankFindNormalizedFold(folded, suggestionTargets)
	for _, r := range ranks {
		consider(suggestionFields[r.OriginalIndex], r.Distance)
	}
	// Also the other way round: a short alias hidden inside a long header.
	for i, t := range suggestionTargets {
		if len(t) >= 3 && strings.Contains(folded, t) {
			consider(suggestionFields[i], len(folded)-len(t))
		}
	}

	out := make([]Field, 0, len(best))
	for f := range best {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if best[out[i]] != best[out[j]] {
			return best[out[i]] < best[out[j]]
		}
		return out[i] < out[j]
	})
	if len(out) > 3 {
		out = out[:3]
	}
	return out
}
