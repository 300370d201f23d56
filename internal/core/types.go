// Package core provides the business logic for supplier spreadsheet imports.
// This package has no transport dependencies and can be used by any frontend.
package core

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EntityKind classifies what a spreadsheet row describes.
type EntityKind string

const (
	KindUnknown             EntityKind = "unknown"
	KindPrivateCustomer     EntityKind = "private_customer"
	KindCompanyCustomer     EntityKind = "company_customer"
	KindElectricityContract EntityKind = "electricity_contract"
	KindGasContract         EntityKind = "gas_contract"
)

// IsCustomer reports whether k is one of the customer kinds.
func (k EntityKind) IsCustomer() bool {
	return k == KindPrivateCustomer || k == KindCompanyCustomer
}

// IsContract reports whether k is one of the contract kinds.
func (k EntityKind) IsContract() bool {
	return k == KindElectricityContract || k == KindGasContract
}

// Valid reports whether k is a known, committable kind.
func (k EntityKind) Valid() bool {
	return k.IsCustomer() || k.IsContract()
}

// Field is a canonical field name. Supplier headers are mapped onto these.
type Field string

const (
	FieldRecordType        Field = "record_type"
	FieldCustomerType      Field = "customer_type"
	FieldFiscalCode        Field = "fiscal_code"
	FieldVATNumber         Field = "vat_number"
	FieldEmail             Field = "email"
	FieldCustomerCode      Field = "customer_code"
	FieldFirstName         Field = "first_name"
	FieldLastName          Field = "last_name"
	FieldBirthDate         Field = "birth_date"
	FieldCompanyName       Field = "company_name"
	FieldPhone             Field = "phone"
	FieldAddress           Field = "address"
	FieldCity              Field = "city"
	FieldProvince          Field = "province"
	FieldPostalCode        Field = "postal_code"
	FieldPrivacyConsent    Field = "privacy_consent"
	FieldPOD               Field = "pod"
	FieldPDR               Field = "pdr"
	FieldActivationDate    Field = "activation_date"
	FieldEndDate           Field = "end_date"
	FieldSupplier          Field = "supplier"
	FieldOfferName         Field = "offer_name"
	FieldAnnualConsumption Field = "annual_consumption"
	FieldContractedPower   Field = "contracted_power"
	FieldSupplyUse         Field = "supply_use"
	FieldGreenEnergy       Field = "green_energy"
)

// FieldType represents the expected data type for a canonical field.
type FieldType int

const (
	FieldText FieldType = iota
	FieldEnum
	FieldDate
	FieldDecimal
	FieldBool
)

// String returns the lowercase type name used in the supported-types listing.
func (t FieldType) String() string {
	switch t {
	case FieldEnum:
		return "enum"
	case FieldDate:
		return "date"
	case FieldDecimal:
		return "decimal"
	case FieldBool:
		return "bool"
	default:
		return "text"
	}
}

// FieldSpec describes how a canonical field is coerced.
type FieldSpec struct {
	Name       Field
	Type       FieldType
	EnumValues map[string]string   // folded spelling -> canonical value (FieldEnum only)
	Normalizer func(string) string // Optional transformation applied to text values
}

// RawRow is one non-blank line of the source file.
// Header and Cells have the same length.
type RawRow struct {
	Line   int
	Header []string
	Cells  []string
}

// Get returns the cell under column, or "" if the column does not exist.
func (r RawRow) Get(column string) string {
	for i, h := range r.Header {
		if h == column {
			return r.Cells[i]
		}
	}
	return ""
}

// Map returns the row as a column -> value map.
func (r RawRow) Map() map[string]string {
	m := make(map[string]string, len(r.Header))
	for i, h := range r.Header {
		m[h] = r.Cells[i]
	}
	return m
}

// Value is a coerced cell. Raw always keeps the original text.
type Value struct {
	Raw     string
	Text    string
	Date    time.Time
	Decimal decimal.Decimal
	Bool    bool
	Coerced bool // false when Raw could not be converted to the field's type
}

// NormalizedRecord is a row expressed in canonical fields.
type NormalizedRecord struct {
	Kind       EntityKind
	SourceLine int
	Fields     map[Field]Value
	Extras     map[string]string
	Confidence float64
	DetectedBy string
}

// Has reports whether the record carries a non-empty value for f.
func (r *NormalizedRecord) Has(f Field) bool {
	_, ok := r.Fields[f]
	return ok
}

// Text returns the normalized text of f, or "" when absent.
func (r *NormalizedRecord) Text(f Field) string {
	return r.Fields[f].Text
}

// Severity separates blocking issues from informational ones.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is a structured error or warning attached to one source line.
type Issue struct {
	Code     IssueCode `json:"code"`
	Field    Field     `json:"field,omitempty"`
	Message  string    `json:"message"`
	Severity Severity  `json:"severity"`
}

// ValidationOutcome collects the issues found for one record.
type ValidationOutcome struct {
	SourceLine int
	Kind       EntityKind
	Errors     []Issue
	Warnings   []Issue
}

// HasErrors reports whether the record must not be committed.
func (o ValidationOutcome) HasErrors() bool {
	return len(o.Errors) > 0
}

// EntityState distinguishes persisted entities from ones staged in this run.
type EntityState int

const (
	StatePending EntityState = iota
	StateExisting
)

// ResolvedEntity is the target of a record: an existing row or a pending one.
type ResolvedEntity struct {
	State  EntityState
	ID     uuid.UUID // set when State is StateExisting
	TempID int       // set when State is StatePending
}

// Existing returns a resolved entity pointing at a persisted id.
func Existing(id uuid.UUID) ResolvedEntity {
	return ResolvedEntity{State: StateExisting, ID: id}
}

// Pending returns a resolved entity that will be created by this run.
func Pending(tempID int) ResolvedEntity {
	return ResolvedEntity{State: StatePending, TempID: tempID}
}

// AssociationKey is one natural key of an entity.
// Kind is empty for keys shared by all customer kinds (fiscal_code,
// customer_code).
type AssociationKey struct {
	Kind  EntityKind
	Field Field
	Value string
}

// CustomerRef carries the identifying fields of a contract's owner.
// Used when association is skipped and the owner is resolved at commit time.
type CustomerRef struct {
	CustomerCode string
	FiscalCode   string
	VATNumber    string
	Email        string
}

// IsZero reports whether no identifying field is set.
func (r CustomerRef) IsZero() bool {
	return r == CustomerRef{}
}

// Resolved pairs a record with the entity it will be written to.
type Resolved struct {
	Row         int // index into the run's rows
	Record      *NormalizedRecord
	Warnings    []Issue
	Entity      ResolvedEntity
	Customer    *ResolvedEntity // owning customer, contracts only
	CustomerRef CustomerRef     // used instead of Customer when association is skipped
}

// RowStatus is the final outcome of one row.
type RowStatus string

const (
	StatusInserted RowStatus = "inserted"
	StatusUpdated  RowStatus = "updated"
	StatusSkipped  RowStatus = "skipped"
	StatusFailed   RowStatus = "failed"
)

// RowOutcome records what happened to one source row.
type RowOutcome struct {
	SourceLine int        `json:"source_line"`
	Kind       EntityKind `json:"kind"`
	Status     RowStatus  `json:"status"`
	EntityID   string     `json:"entity_id,omitempty"`
	Errors     []Issue    `json:"errors,omitempty"`
	Warnings   []Issue    `json:"warnings,omitempty"`
}

// RunStatus is the lifecycle state of an import run.
type RunStatus string

const (
	RunRunning     RunStatus = "running"
	RunCompleted   RunStatus = "completed"
	RunFailed      RunStatus = "failed"
	RunCancelled   RunStatus = "cancelled"
	RunInterrupted RunStatus = "interrupted"
)

// Finished reports whether the run reached a terminal state.
func (s RunStatus) Finished() bool {
	return s != RunRunning
}

// Stage indicates the current stage of import processing.
type Stage string

const (
	StageQueued      Stage = "queued"
	StageReading     Stage = "reading"
	StageNormalizing Stage = "normalizing"
	StageDetecting   Stage = "detecting"
	StageValidating  Stage = "validating"
	StageAssociating Stage = "associating"
	StageCommitting  Stage = "committing"
	StageComplete    Stage = "complete"
	StageFailed      Stage = "failed"
	StageCancelled   Stage = "cancelled"
)

// Progress is a point-in-time view of a running import.
type Progress struct {
	RunID     string `json:"run_id"`
	FileName  string `json:"file_name"`
	Stage     Stage  `json:"stage"`
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
	Inserted  int    `json:"inserted"`
	Updated   int    `json:"updated"`
	Skipped   int    `json:"skipped"`
	Failed    int    `json:"failed"`
	Error     string `json:"error,omitempty"` // Non-empty if Stage is StageFailed
}

// Percent returns the progress as a percentage (0-100).
func (p Progress) Percent() int {
	if p.Total > 0 {
		return (p.Processed * 100) / p.Total
	}
	return 0
}

// ImportRun is the audit record of one pipeline execution.
type ImportRun struct {
	ID              string         `json:"run_id"`
	FileName        string         `json:"file_name"`
	ClientIP        string         `json:"client_ip,omitempty"`
	UserAgent       string         `json:"user_agent,omitempty"`
	Status          RunStatus      `json:"status"`
	Stage           Stage          `json:"stage"`
	Options         Options        `json:"options"`
	TotalRows       int            `json:"total_rows"`
	ProcessedRows   int            `json:"processed_rows"`
	InsertedRows    int            `json:"inserted_rows"`
	UpdatedRows     int            `json:"updated_rows"`
	SkippedRows     int            `json:"skipped_rows"`
	ErrorRows       int            `json:"error_rows"`
	Outcomes        []RowOutcome   `json:"outcomes"`
	Mapping         *MappingReport `json:"mapping,omitempty"`
	Failure         *ReportEntry   `json:"failure,omitempty"` // file-level error, if any
	StartedAt       time.Time      `json:"started_at"`
	FinishedAt      *time.Time     `json:"finished_at,omitempty"`
	DurationSeconds float64        `json:"duration_seconds"`
}

// ReportEntry is one line of the flat error report.
type ReportEntry struct {
	SourceLine int       `json:"source_line"`
	Code       IssueCode `json:"code"`
	Field      Field     `json:"field,omitempty"`
	Message    string    `json:"message"`
	Severity   Severity  `json:"severity"`
}

// RunResult is the finished run together with its flattened error report.
// The report is derived, so it is never persisted with the run.
type RunResult struct {
	*ImportRun
	ErrorReport []ReportEntry `json:"error_report"`
}

// Result returns the run with its error report. The report is never nil.
func (r *ImportRun) Result() RunResult {
	report := r.ErrorReport()
	if report == nil {
		report = []ReportEntry{}
	}
	return RunResult{ImportRun: r, ErrorReport: report}
}

// ErrorReport flattens the run's issues into display order:
// the file-level failure first, then rows by line with errors before warnings.
func (r *ImportRun) ErrorReport() []ReportEntry {
	var out []ReportEntry
	if r.Failure != nil {
		out = append(out, *r.Failure)
	}
	for _, o := range r.Outcomes {
		for _, list := range [][]Issue{o.Errors, o.Warnings} {
			for _, is := range list {
				out = append(out, ReportEntry{
					SourceLine: o.SourceLine,
					Code:       is.Code,
					Field:      is.Field,
					Message:    is.Message,
					Severity:   is.Severity,
				})
			}
		}
	}
	return out
}

// Progress returns the run's counters as a Progress value.
func (r *ImportRun) Progress() Progress {
	p := Progress{
		RunID:     r.ID,
		FileName:  r.FileName,
		Stage:     r.Stage,
		Processed: r.ProcessedRows,
		Total:     r.TotalRows,
		Inserted:  r.InsertedRows,
		Updated:   r.UpdatedRows,
		Skipped:   r.SkippedRows,
		Failed:    r.ErrorRows,
	}
	if r.Failure != nil {
		p.Error = r.Failure.Message
	}
	return p
}

// Clone returns a deep copy safe to hand to callers.
func (r *ImportRun) Clone() *ImportRun {
	c := *r
	if r.Outcomes != nil {
		c.Outcomes = make([]RowOutcome, len(r.Outcomes))
		for i, o := range r.Outcomes {
			o.Errors = append([]Issue(nil), o.Errors...)
			o.Warnings = append([]Issue(nil), o.Warnings...)
			c.Outcomes[i] = o
		}
	}
	if r.Mapping != nil {
		m := *r.Mapping
		m.Columns = append([]ColumnMapping(nil), r.Mapping.Columns...)
		c.Mapping = &m
	}
	if r.Failure != nil {
		f := *r.Failure
		c.Failure = &f
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		c.FinishedAt = &t
	}
	if r.Options.ColumnMapping != nil {
		c.Options.ColumnMapping = make(map[string]Field, len(r.Options.ColumnMapping))
		for k, v := range r.Options.ColumnMapping {
			c.Options.ColumnMapping[k] = v
		}
	}
	return &c
}

// String renders the set fields, for messages.
func (r CustomerRef) String() string {
	var parts []string
	for _, kv := range [][2]string{
		{string(FieldCustomerCode), r.CustomerCode},
		{string(FieldFiscalCode), r.FiscalCode},
		{string(FieldVATNumber), r.VATNumber},
		{string(FieldEmail), r.Email},
	} {
		if kv[1] != "" {
			parts = append(parts, kv[0]+"="+kv[1])
		}
	}
	return strings.Join(parts, " ")
}
