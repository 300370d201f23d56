package core

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

// ----------------------------------------------------------------------------
// ParseDecimal Tests
// ----------------------------------------------------------------------------

func TestParseDecimal(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantValid bool
		wantValue string
	}{
		// Valid: plain numbers
		{name: "integer", input: "123", wantValid: true, wantValue: "123"},
		{name: "negative", input: "-456", wantValid: true, wantValue: "-456"},
		{name: "dot decimal", input: "123.45", wantValid: true, wantValue: "123.45"},
		{name: "comma decimal", input: "123,45", wantValid: true, wantValue: "123.45"},
		{name: "leading zero dot", input: "0.125", wantValid: true, wantValue: "0.125"},

		// Valid: thousands separators
		{name: "italian thousands and decimals", input: "1.234,56", wantValid: true, wantValue: "1234.56"},
		{name: "english thousands and decimals", input: "1,234.56", wantValid: true, wantValue: "1234.56"},
		{name: "single dot three digits is thousands", input: "1.234", wantValid: true, wantValue: "1234"},
		{name: "single comma three digits is decimal", input: "1,234", wantValid: true, wantValue: "1.234"},
		{name: "repeated dots", input: "1.234.567", wantValid: true, wantValue: "1234567"},
		{name: "repeated commas", input: "1,234,567", wantValid: true, wantValue: "1234567"},

		// Valid: decorations
		{name: "euro sign", input: "€ 1.500,00", wantValid: true, wantValue: "1500"},
		{name: "kwh unit", input: "2700 kWh", wantValid: true, wantValue: "2700"},
		{name: "smc unit", input: "1200smc", wantValid: true, wantValue: "1200"},
		{name: "kw unit", input: "3,3 kW", wantValid: true, wantValue: "3.3"},
		{name: "accounting negative", input: "(12,50)", wantValid: true, wantValue: "-12.5"},
		{name: "non-breaking space", input: "1\u00a0234,5", wantValid: true, wantValue: "1234.5"},

		// Invalid
		{name: "empty", input: "", wantValid: false},
		{name: "whitespace", input: "   ", wantValid: false},
		{name: "letters", input: "abc", wantValid: false},
		{name: "mixed garbage", input: "12a3", wantValid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseDecimal(tt.input)
			assert.Equal(t, tt.wantValid, ok)
			if tt.wantValid {
				assert.True(t, decimal.RequireFromString(tt.wantValue).Equal(got),
					"ParseDecimal(%q) = %s, want %s", tt.input, got, tt.wantValue)
			}
		})
	}
}

// ----------------------------------------------------------------------------
// ParseDate Tests
// ----------------------------------------------------------------------------

func TestParseDate(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantValid bool
		want      string // YYYY-MM-DD
	}{
		{name: "iso", input: "2024-01-15", wantValid: true, want: "2024-01-15"},
		{name: "iso with time", input: "2024-01-15T10:30:00", wantValid: true, want: "2024-01-15"},
		{name: "day first slash", input: "15/01/2024", wantValid: true, want: "2024-01-15"},
		{name: "day first single digits", input: "5/1/2024", wantValid: true, want: "2024-01-05"},
		{name: "day first dash", input: "15-01-2024", wantValid: true, want: "2024-01-15"},
		{name: "day first dot", input: "15.01.2024", wantValid: true, want: "2024-01-15"},
		{name: "slash with time", input: "15/01/2024 08:00", wantValid: true, want: "2024-01-15"},
		{name: "compact", input: "20240115", wantValid: true, want: "2024-01-15"},
		{name: "text month", input: "15 Jan 2024", wantValid: true, want: "2024-01-15"},
		{name: "excel serial", input: "45306", wantValid: true, want: "2024-01-15"},
		{name: "two digit year", input: "15/01/24", wantValid: true, want: "2024-01-15"},
		{name: "two digit year last century", input: "01/03/80", wantValid: true, want: "1980-03-01"},

		{name: "empty", input: "", wantValid: false},
		{name: "garbage", input: "not a date", wantValid: false},
		{name: "impossible day", input: "32/01/2024", wantValid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseDate(tt.input)
			assert.Equal(t, tt.wantValid, ok)
			if tt.wantValid {
				assert.Equal(t, tt.want, got.Format(time.DateOnly))
				assert.Equal(t, time.UTC, got.Location())
			}
		})
	}
}

// ----------------------------------------------------------------------------
// ParseBool Tests
// ----------------------------------------------------------------------------

func TestParseBool(t *testing.T) {
	tests := []struct {
		input     string
		want      bool
		wantValid bool
	}{
		{"si", true, true},
		{"Sì", true, true},
		{"YES", true, true},
		{"1", true, true},
		{"x", true, true},
		{"vero", true, true},
		{"no", false, true},
		{"N", false, true},
		{"0", false, true},
		{"falso", false, true},
		{"", false, false},
		{"forse", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseBool(tt.input)
			assert.Equal(t, tt.wantValid, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

// ----------------------------------------------------------------------------
// CleanCell Tests
// ----------------------------------------------------------------------------

func TestCleanCell(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "plain", input: "Rossi", want: "Rossi"},
		{name: "whitespace", input: "  Rossi  ", want: "Rossi"},
		{name: "non-breaking space", input: "\u00a0Rossi\u00a0", want: "Rossi"},
		{name: "excel text formula", input: `="00123"`, want: "00123"},
		{name: "excel formula prefix", input: "=123", want: "123"},
		{name: "lone equals", input: "=", want: "="},
		{name: "quoted", input: `"IT001E12345678"`, want: "IT001E12345678"},
		{name: "single quoted", input: "'01234567897", want: "01234567897"},
		{name: "empty", input: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanCell(tt.input))
		})
	}
}

// ----------------------------------------------------------------------------
// pgtype conversions
// ----------------------------------------------------------------------------

func TestToPgText(t *testing.T) {
	assert.Equal(t, pgtype.Text{String: "Rossi", Valid: true}, ToPgText(" Rossi "))
	assert.False(t, ToPgText("").Valid)
	assert.False(t, ToPgText("   ").Valid)
}

func TestPgNumericRoundTrip(t *testing.T) {
	for _, s := range []string{"0", "1234.56", "-0.001", "2700"} {
		t.Run(s, func(t *testing.T) {
			in := decimal.NullDecimal{Decimal: decimal.RequireFromString(s), Valid: true}
			out := FromPgNumeric(ToPgNumeric(in))
			assert.True(t, out.Valid)
			assert.True(t, in.Decimal.Equal(out.Decimal), "got %s, want %s", out.Decimal, s)
		})
	}

	assert.False(t, ToPgNumeric(decimal.NullDecimal{}).Valid)
	assert.False(t, FromPgNumeric(pgtype.Numeric{}).Valid)
	assert.False(t, FromPgNumeric(pgtype.Numeric{NaN: true, Valid: true}).Valid)
}

func TestPgDateAndBool(t *testing.T) {
	d := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	pd := ToPgDate(&d)
	assert.True(t, pd.Valid)
	assert.Equal(t, d, *FromPgDate(pd))
	assert.False(t, ToPgDate(nil).Valid)
	assert.False(t, ToPgDate(&time.Time{}).Valid)
	assert.Nil(t, FromPgDate(pgtype.Date{}))

	yes := true
	assert.Equal(t, pgtype.Bool{Bool: true, Valid: true}, ToPgBool(&yes))
	assert.False(t, ToPgBool(nil).Valid)
	assert.Equal(t, &yes, FromPgBool(ToPgBool(&yes)))
	assert.Nil(t, FromPgBool(pgtype.Bool{}))
}

func TestPgUUID(t *testing.T) {
	id := uuid.New()
	assert.Equal(t, id, FromPgUUID(ToPgUUID(id)))
	assert.False(t, ToPgUUID(uuid.Nil).Valid)
	assert.Equal(t, uuid.Nil, FromPgUUID(pgtype.UUID{}))
}
