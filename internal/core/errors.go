// Package core provides the business logic for supplier spreadsheet imports.
//
// # Error Codes Reference
//
// Infrastructure failures are mapped to user-facing messages with codes for
// support reference. Row-level problems are not errors in this sense: they
// are Issues attached to the row outcome (see IssueCode).
//
//	DB001   - Constraint: the database rejected a record
//	          Patterns: "constraint", "duplicate key", "violates"
//	DB004   - Connection: unable to reach the database
//	          Patterns: "connection refused", "connection reset", "no database"
//	FILE001 - File too large
//	          Patterns: "file too large"
//	FILE002 - Malformed file: not readable as CSV/XLSX
//	          Patterns: "malformed input"
//	IMP001  - Import cancelled
//	          Patterns: "import cancelled", "context canceled"
//	IMP002  - Busy: too many concurrent imports
//	          Patterns: "too many imports"
//	IMP003  - Not found: unknown or expired run id
//	          Patterns: "import run not found"
//	IMP004  - Still running: the result is not available yet
//	          Patterns: "still in progress"
//	VAL001  - Invalid options
//	          Patterns: "invalid import options"
//	ERR000  - Fallback, check the logs for the technical error
//
// Patterns are matched case-insensitively with strings.Contains; the first
// match wins, so specific patterns come before general ones.
package core

import (
	"errors"
	"fmt"
	"strings"
)

// IssueCode identifies the kind of a row-level error or warning.
type IssueCode string

const (
	CodeMalformedInput  IssueCode = "MalformedInputError"
	CodeLowConfidence   IssueCode = "LowConfidenceClassification"
	CodeFieldValidation IssueCode = "FieldValidationError"
	CodeConflictingID   IssueCode = "ConflictingIdentity"
	CodeOrphanContract  IssueCode = "OrphanContract"
	CodeConstraint      IssueCode = "ConstraintViolation"
	CodeInternal        IssueCode = "InternalError"

	// Warnings
	CodeRunCancelled      IssueCode = "RunCancelled"
	CodeDuplicateInFile   IssueCode = "DuplicateInFile"
	CodeMissingOptional   IssueCode = "MissingOptionalField"
	CodeDateOutOfRange    IssueCode = "DateOutOfRange"
	CodeVATChecksum       IssueCode = "VatChecksumMismatch"
	CodeMissingCustomerID IssueCode = "MissingCustomerReference"
)

// Sentinel errors returned by the Service.
var (
	ErrRunNotFound    = errors.New("import run not found")
	ErrTooManyImports = errors.New("too many imports in progress")
	ErrInvalidOptions = errors.New("invalid import options")
	ErrRunInProgress  = errors.New("import run still in progress")
	ErrCancelled      = errors.New("import cancelled")
	ErrFileTooLarge   = errors.New("file too large")
)

// MalformedInputError means the file itself could not be read as a table.
// The whole run fails and no row is processed.
type MalformedInputError struct {
	Line   int // 0 when the problem is not tied to a line
	Reason string
	Err    error
}

func (e *MalformedInputError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("malformed input at line %d: %s", e.Line, e.Reason)
	}
	return "malformed input: " + e.Reason
}

func (e *MalformedInputError) Unwrap() error {
	return e.Err
}

func malformed(line int, format string, args ...any) *MalformedInputError {
	return &MalformedInputError{Line: line, Reason: fmt.Sprintf(format, args...)}
}

// ConstraintError is a storage-level rejection of a single record.
type ConstraintError struct {
	Constraint string // constraint or index name, if known
	Key        string // offending natural key, if known
	Err        error
}

func (e *ConstraintError) Error() string {
	msg := "constraint violation"
	if e.Constraint != "" {
		msg += " (" + e.Constraint + ")"
	}
	if e.Key != "" {
		msg += " on " + e.Key
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConstraintError) Unwrap() error {
	return e.Err
}

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var (
	msgConstraint = UserMessage{
		Message: "The database rejected a record",
		Action:  "Download the error report to review the affected rows",
		Code:    "DB001",
	}
	msgConnection = UserMessage{
		Message: "Unable to connect to database",
		Action:  "Please try again in a few moments",
		Code:    "DB004",
	}
	msgCancelled = UserMessage{
		Message: "Import was cancelled",
		Action:  "Start a new import when ready",
		Code:    "IMP001",
	}
)

// errorPatterns maps technical error patterns (case-insensitive) to user messages.
var errorPatterns = []errorPattern{
	// =========================================================================
	// Database (DB001-DB004)
	// =========================================================================
	{pattern: "constraint violation", msg: msgConstraint},
	{pattern: "duplicate key", msg: msgConstraint},
	{pattern: "violates", msg: msgConstraint},
	{pattern: "connection refused", msg: msgConnection},
	{pattern: "connection reset", msg: msgConnection},
	{pattern: "no database", msg: msgConnection},

	// =========================================================================
	// File (FILE001-FILE002)
	// =========================================================================
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds maximum size limit",
			Action:  "Split the file into smaller chunks",
			Code:    "FILE001",
		},
	},
	{
		pattern: "malformed input",
		msg: UserMessage{
			Message: "File could not be read as a table",
			Action:  "Save the file as CSV (UTF-8) or XLSX with a header row",
			Code:    "FILE002",
		},
	},

	// =========================================================================
	// Import lifecycle (IMP001-IMP003)
	// =========================================================================
	{pattern: "import cancelled", msg: msgCancelled},
	{pattern: "context canceled", msg: msgCancelled},
	{
		pattern: "too many imports",
		msg: UserMessage{
			Message: "System is busy processing other imports",
			Action:  "Please wait a moment and try again",
			Code:    "IMP002",
		},
	},
	{
		pattern: "import run not found",
		msg: UserMessage{
			Message: "Import run not found",
			Action:  "The run may have expired. Check the run history",
			Code:    "IMP003",
		},
	},
	{
		pattern: "still in progress",
		msg: UserMessage{
			Message: "Import is still running",
			Action:  "Follow the progress stream or retry when the run has finished",
			Code:    "IMP004",
		},
	},

	// =========================================================================
	// Validation (VAL001)
	// =========================================================================
	{
		pattern: "invalid import options",
		msg: UserMessage{
			Message: "Import options are invalid",
			Action:  "Check batch size, confidence threshold and record type",
			Code:    "VAL001",
		},
	},
}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// Typed errors are matched first, then the pattern table.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var ce *ConstraintError
	if errors.As(err, &ce) {
		return msgConstraint
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific (non-ERR000) message.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

func issue(code IssueCode, field Field, format string, args ...any) Issue {
	return Issue{Code: code, Field: field, Message: fmt.Sprintf(format, args...), Severity: SeverityError}
}

func warning(code IssueCode, field Field, format string, args ...any) Issue {
	return Issue{Code: code, Field: field, Message: fmt.Sprintf(format, args...), Severity: SeverityWarning}
}
