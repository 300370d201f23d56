package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fixedValidator(now time.Time) *Validator {
	v := NewValidator(0)
	v.now = func() time.Time { return now }
	return v
}

func issueCodes(issues []Issue) []IssueCode {
	out := make([]IssueCode, 0, len(issues))
	for _, is := range issues {
		out = append(out, is.Code)
	}
	return out
}

func issueFields(issues []Issue) []Field {
	out := make([]Field, 0, len(issues))
	for _, is := range issues {
		out = append(out, is.Field)
	}
	return out
}

func TestValidator_Validate(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name          string
		kind          EntityKind
		fields        map[Field]string
		wantErrFields []Field
		wantWarnings  []IssueCode
	}{
		// Private customers
		{
			name: "valid private customer",
			kind: KindPrivateCustomer,
			fields: map[Field]string{
				FieldFiscalCode: "RSSMRA80A01H501Z", FieldFirstName: "Mario", FieldLastName: "Rossi",
				FieldEmail: "mario@example.it",
			},
		},
		{
			name:         "private customer without email",
			kind:         KindPrivateCustomer,
			fields:       map[Field]string{FieldFiscalCode: "RSSMRA80A01H501Z", FieldFirstName: "Mario", FieldLastName: "Rossi"},
			wantWarnings: []IssueCode{CodeMissingOptional},
		},
		{
			name:          "private customer missing names",
			kind:          KindPrivateCustomer,
			fields:        map[Field]string{FieldFiscalCode: "RSSMRA80A01H501Z", FieldEmail: "m@example.it"},
			wantErrFields: []Field{FieldFirstName, FieldLastName},
		},
		{
			name: "malformed fiscal code",
			kind: KindPrivateCustomer,
			fields: map[Field]string{
				FieldFiscalCode: "RSSMRA80", FieldFirstName: "Mario", FieldLastName: "Rossi", FieldEmail: "m@example.it",
			},
			wantErrFields: []Field{FieldFiscalCode},
		},
		{
			name: "malformed email",
			kind: KindPrivateCustomer,
			fields: map[Field]string{
				FieldFiscalCode: "RSSMRA80A01H501Z", FieldFirstName: "Mario", FieldLastName: "Rossi", FieldEmail: "mario@",
			},
			wantErrFields: []Field{FieldEmail},
		},
		{
			name: "future birth date",
			kind: KindPrivateCustomer,
			fields: map[Field]string{
				FieldFiscalCode: "RSSMRA80A01H501Z", FieldFirstName: "Mario", FieldLastName: "Rossi",
				FieldEmail: "m@example.it", FieldBirthDate: "01/01/2030",
			},
			wantWarnings: []IssueCode{CodeDateOutOfRange},
		},
		{
			name: "uncoercible birth date",
			kind: KindPrivateCustomer,
			fields: map[Field]string{
				FieldFiscalCode: "RSSMRA80A01H501Z", FieldFirstName: "Mario", FieldLastName: "Rossi",
				FieldEmail: "m@example.it", FieldBirthDate: "ieri",
			},
			wantErrFields: []Field{FieldBirthDate},
		},

		// Company customers
		{
			name:   "valid company",
			kind:   KindCompanyCustomer,
			fields: map[Field]string{FieldVATNumber: "IT01234567897", FieldCompanyName: "Acme Srl", FieldEmail: "info@acme.it"},
		},
		{
			name:         "vat checksum mismatch is a warning",
			kind:         KindCompanyCustomer,
			fields:       map[Field]string{FieldVATNumber: "01234567890", FieldCompanyName: "Acme Srl", FieldEmail: "info@acme.it"},
			wantWarnings: []IssueCode{CodeVATChecksum},
		},
		{
			name:          "malformed vat",
			kind:          KindCompanyCustomer,
			fields:        map[Field]string{FieldVATNumber: "123", FieldCompanyName: "Acme Srl", FieldEmail: "info@acme.it"},
			wantErrFields: []Field{FieldVATNumber},
		},
		{
			name: "company fiscal code in vat form",
			kind: KindCompanyCustomer,
			fields: map[Field]string{
				FieldVATNumber: "01234567897", FieldCompanyName: "Acme Srl", FieldEmail: "info@acme.it",
				FieldFiscalCode: "01234567897",
			},
		},
		{
			name:          "company missing name",
			kind:          KindCompanyCustomer,
			fields:        map[Field]string{FieldVATNumber: "01234567897", FieldEmail: "info@acme.it"},
			wantErrFields: []Field{FieldCompanyName},
		},

		// Contracts
		{
			name: "valid electricity contract",
			kind: KindElectricityContract,
			fields: map[Field]string{
				FieldPOD: "IT001E12345678", FieldFiscalCode: "RSSMRA80A01H501Z",
				FieldActivationDate: "2024-01-15", FieldContractedPower: "3,3",
			},
		},
		{
			name:         "contract without activation date",
			kind:         KindGasContract,
			fields:       map[Field]string{FieldPDR: "01234567890123", FieldCustomerCode: "C-1"},
			wantWarnings: []IssueCode{CodeMissingOptional},
		},
		{
			name:         "contract without customer reference",
			kind:         KindElectricityContract,
			fields:       map[Field]string{FieldPOD: "IT001E12345678", FieldActivationDate: "2024-01-15"},
			wantWarnings: []IssueCode{CodeMissingCustomerID},
		},
		{
			name:          "malformed pod",
			kind:          KindElectricityContract,
			fields:        map[Field]string{FieldPOD: "IT00112345678", FieldEmail: "a@b.it", FieldActivationDate: "2024-01-15"},
			wantErrFields: []Field{FieldPOD},
		},
		{
			name:          "malformed pdr",
			kind:          KindGasContract,
			fields:        map[Field]string{FieldPDR: "0123", FieldEmail: "a@b.it", FieldActivationDate: "2024-01-15"},
			wantErrFields: []Field{FieldPDR},
		},
		{
			name:          "activation too far in the future",
			kind:          KindElectricityContract,
			fields:        map[Field]string{FieldPOD: "IT001E12345678", FieldEmail: "a@b.it", FieldActivationDate: "2030-01-01"},
			wantErrFields: []Field{FieldActivationDate},
		},
		{
			name:         "implausibly old activation",
			kind:         KindElectricityContract,
			fields:       map[Field]string{FieldPOD: "IT001E12345678", FieldEmail: "a@b.it", FieldActivationDate: "1900-01-01"},
			wantWarnings: []IssueCode{CodeDateOutOfRange},
		},
		{
			name: "end before activation",
			kind: KindGasContract,
			fields: map[Field]string{
				FieldPDR: "01234567890123", FieldEmail: "a@b.it",
				FieldActivationDate: "2024-01-15", FieldEndDate: "2023-01-15",
			},
			wantErrFields: []Field{FieldEndDate},
		},
		{
			name: "malformed link fiscal code",
			kind: KindElectricityContract,
			fields: map[Field]string{
				FieldPOD: "IT001E12345678", FieldFiscalCode: "NOPE", FieldActivationDate: "2024-01-15",
			},
			wantErrFields: []Field{FieldFiscalCode},
		},
		{
			name: "uncoercible consumption",
			kind: KindGasContract,
			fields: map[Field]string{
				FieldPDR: "01234567890123", FieldEmail: "a@b.it", FieldActivationDate: "2024-01-15",
				FieldAnnualConsumption: "molto",
			},
			wantErrFields: []Field{FieldAnnualConsumption},
		},
	}

	v := fixedValidator(now)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := v.Validate(record(tt.kind, 5, tt.fields))
			assert.Equal(t, 5, out.SourceLine)
			assert.Equal(t, tt.kind, out.Kind)

			if len(tt.wantErrFields) == 0 {
				assert.Empty(t, out.Errors)
				assert.False(t, out.HasErrors())
			} else {
				assert.ElementsMatch(t, tt.wantErrFields, issueFields(out.Errors))
				for _, e := range out.Errors {
					assert.Equal(t, CodeFieldValidation, e.Code)
					assert.Equal(t, SeverityError, e.Severity)
				}
			}
			assert.ElementsMatch(t, tt.wantWarnings, issueCodes(out.Warnings))
			for _, w := range out.Warnings {
				assert.Equal(t, SeverityWarning, w.Severity)
			}
		})
	}
}

func TestValidator_UnknownKind(t *testing.T) {
	out := NewValidator(0).Validate(record(KindUnknown, 2, nil))
	assert.True(t, out.HasErrors())
}

func TestFlagDuplicates(t *testing.T) {
	records := []*NormalizedRecord{
		record(KindPrivateCustomer, 2, map[Field]string{FieldFiscalCode: "RSSMRA80A01H501Z"}),
		record(KindElectricityContract, 3, map[Field]string{FieldPOD: "IT001E12345678"}),
		nil,
		record(KindPrivateCustomer, 5, map[Field]string{FieldFiscalCode: "RSSMRA80A01H501Z"}),
		record(KindElectricityContract, 6, map[Field]string{FieldPOD: "IT001E12345678"}),
		record(KindPrivateCustomer, 7, map[Field]string{FieldFiscalCode: "RSSMRA80A01H501Z"}),
	}
	outcomes := make([]ValidationOutcome, len(records))
	// A row with errors neither counts as a first occurrence nor gets flagged.
	outcomes[5].Errors = []Issue{issue(CodeFieldValidation, FieldFirstName, "required field is empty")}

	FlagDuplicates(records, outcomes)

	assert.Empty(t, outcomes[0].Warnings)
	assert.Empty(t, outcomes[1].Warnings)
	assert.Equal(t, []IssueCode{CodeDuplicateInFile}, issueCodes(outcomes[3].Warnings))
	assert.Contains(t, outcomes[3].Warnings[0].Message, "line 2")
	assert.Equal(t, []IssueCode{CodeDuplicateInFile}, issueCodes(outcomes[4].Warnings))
	assert.Empty(t, outcomes[5].Warnings)
}

func TestNaturalKey(t *testing.T) {
	key, ok := NaturalKey(record(KindCompanyCustomer, 2, map[Field]string{FieldVATNumber: "01234567897"}))
	assert.True(t, ok)
	assert.Equal(t, AssociationKey{Kind: KindCompanyCustomer, Field: FieldVATNumber, Value: "01234567897"}, key)

	_, ok = NaturalKey(record(KindPrivateCustomer, 2, map[Field]string{FieldEmail: "a@b.it"}))
	assert.False(t, ok)
}
