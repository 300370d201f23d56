package core

// validate.go applies the per-kind rule sets to a normalized record.
//
// Validation happens at two levels:
//  1. Record validation: required fields, identifier shapes, typed values
//  2. File validation: FlagDuplicates marks repeated natural keys
//
// Errors block the commit of that record only; warnings never block.

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// DefaultMaxFutureActivation bounds how far ahead an activation date may be.
const DefaultMaxFutureActivation = 2 * 365 * 24 * time.Hour

// earliestPlausible is the lower bound below which dates are only warned about.
var earliestPlausible = time.Date(1950, 1, 1, 0, 0, 0, 0, time.UTC)

// Validator checks records against their kind's rules. Safe for concurrent use.
type Validator struct {
	now       func() time.Time
	maxFuture time.Duration
	validate  *validator.Validate
}

// NewValidator returns a validator. maxFuture <= 0 selects the default.
func NewValidator(maxFuture time.Duration) *Validator {
	if maxFuture <= 0 {
		maxFuture = DefaultMaxFutureActivation
	}
	return &Validator{
		now:       time.Now,
		maxFuture: maxFuture,
		validate:  validator.New(),
	}
}

// Validate returns every error and warning for rec, in field order.
func (v *Validator) Validate(rec *NormalizedRecord) ValidationOutcome {
	out := ValidationOutcome{SourceLine: rec.SourceLine, Kind: rec.Kind}

	def, ok := Get(rec.Kind)
	if !ok {
		out.Errors = append(out.Errors, issue(CodeFieldValidation, "", "unknown record kind %q", rec.Kind))
		return out
	}

	for _, kf := range def.Fields {
		val, present := rec.Fields[kf.Field]
		if !present {
			if kf.Required {
				out.Errors = append(out.Errors, issue(CodeFieldValidation, kf.Field, "required field is empty"))
			}
			continue
		}
		if !val.Coerced {
			spec := fieldCatalog[kf.Field]
			out.Errors = append(out.Errors, issue(CodeFieldValidation, kf.Field, "invalid %s %q", spec.Type, val.Raw))
		}
	}

	switch {
	case rec.Kind == KindPrivateCustomer:
		v.checkPrivate(rec, &out)
	case rec.Kind == KindCompanyCustomer:
		v.checkCompany(rec, &out)
	case rec.Kind.IsContract():
		v.checkContract(rec, &out)
	}
	return out
}

func (v *Validator) checkPrivate(rec *NormalizedRecord, out *ValidationOutcome) {
	if fc, ok := rec.Fields[FieldFiscalCode]; ok && !IsFiscalCode(fc.Text) {
		out.Errors = append(out.Errors, issue(CodeFieldValidation, FieldFiscalCode, "malformed fiscal code %q", fc.Raw))
	}
	v.checkEmail(rec, out, true)
	if bd, ok := rec.Fields[FieldBirthDate]; ok && bd.Coerced {
		if bd.Date.After(v.now()) || bd.Date.Year() < 1900 {
			out.Warnings = append(out.Warnings, warning(CodeDateOutOfRange, FieldBirthDate, "implausible birth date %s", bd.Date.Format(time.DateOnly)))
		}
	}
}

func (v *Validator) checkCompany(rec *NormalizedRecord, out *ValidationOutcome) {
	if vat, ok := rec.Fields[FieldVATNumber]; ok {
		switch {
		case !IsVATNumber(vat.Text):
			out.Errors = append(out.Errors, issue(CodeFieldValidation, FieldVATNumber, "malformed VAT number %q", vat.Raw))
		case !vatChecksumOK(vat.Text):
			out.Warnings = append(out.Warnings, warning(CodeVATChecksum, FieldVATNumber, "VAT number %s fails the check digit", vat.Text))
		}
	}
	// A company fiscal code is either personal-shaped or the 11-digit VAT form.
	if fc, ok := rec.Fields[FieldFiscalCode]; ok && !IsFiscalCode(fc.Text) && !IsVATNumber(fc.Text) {
		out.Errors = append(out.Errors, issue(CodeFieldValidation, FieldFiscalCode, "malformed fiscal code %q", fc.Raw))
	}
	v.checkEmail(rec, out, true)
}

func (v *Validator) checkContract(rec *NormalizedRecord, out *ValidationOutcome) {
	spf := supplyPointField(rec.Kind)
	if sp, ok := rec.Fields[spf]; ok {
		valid := IsPOD(sp.Text)
		name := "POD"
		if spf == FieldPDR {
			valid, name = IsPDR(sp.Text), "PDR"
		}
		if !valid {
			out.Errors = append(out.Errors, issue(CodeFieldValidation, spf, "malformed %s %q", name, sp.Raw))
		}
	}

	act, hasAct := rec.Fields[FieldActivationDate]
	switch {
	case !hasAct:
		out.Warnings = append(out.Warnings, warning(CodeMissingOptional, FieldActivationDate, "activation date is missing"))
	case act.Coerced && act.Date.After(v.now().Add(v.maxFuture)):
		out.Errors = append(out.Errors, issue(CodeFieldValidation, FieldActivationDate, "activation date %s is too far in the future", act.Date.Format(time.DateOnly)))
	case act.Coerced && act.Date.Before(earliestPlausible):
		out.Warnings = append(out.Warnings, warning(CodeDateOutOfRange, FieldActivationDate, "activation date %s is implausibly old", act.Date.Format(time.DateOnly)))
	}
	if end, ok := rec.Fields[FieldEndDate]; ok && end.Coerced && hasAct && act.Coerced && end.Date.Before(act.Date) {
		out.Errors = append(out.Errors, issue(CodeFieldValidation, FieldEndDate, "end date %s precedes activation date", end.Date.Format(time.DateOnly)))
	}

	linked := false
	for _, f := range contractLinkFields {
		val, ok := rec.Fields[f]
		if !ok {
			continue
		}
		linked = true
		switch f {
		case FieldFiscalCode:
			if !IsFiscalCode(val.Text) && !IsVATNumber(val.Text) {
				out.Errors = append(out.Errors, issue(CodeFieldValidation, f, "malformed fiscal code %q", val.Raw))
			}
		case FieldVATNumber:
			if !IsVATNumber(val.Text) {
				out.Errors = append(out.Errors, issue(CodeFieldValidation, f, "malformed VAT number %q", val.Raw))
			}
		}
	}
	v.checkEmail(rec, out, false)
	if !linked {
		out.Warnings = append(out.Warnings, warning(CodeMissingCustomerID, "", "no customer-identifying field (customer code, fiscal code, VAT number or email)"))
	}
}

// checkEmail validates a present email; warnIfMissing adds a missing-field warning.
func (v *Validator) checkEmail(rec *NormalizedRecord, out *ValidationOutcome, warnIfMissing bool) {
	email, ok := rec.Fields[FieldEmail]
	if !ok {
		if warnIfMissing {
			out.Warnings = append(out.Warnings, warning(CodeMissingOptional, FieldEmail, "email is missing"))
		}
		return
	}
	if err := v.validate.Var(email.Text, "email"); err != nil {
		out.Errors = append(out.Errors, issue(CodeFieldValidation, FieldEmail, "malformed email %q", email.Raw))
	}
}

// NaturalKey returns the primary natural key of a record, if it has one.
func NaturalKey(rec *NormalizedRecord) (AssociationKey, bool) {
	var f Field
	switch {
	case rec.Kind == KindPrivateCustomer:
		f = FieldFiscalCode
	case rec.Kind == KindCompanyCustomer:
		f = FieldVATNumber
	case rec.Kind.IsContract():
		f = supplyPointField(rec.Kind)
	default:
		return AssociationKey{}, false
	}
	val := rec.Text(f)
	if val == "" {
		return AssociationKey{}, false
	}
	return AssociationKey{Kind: rec.Kind, Field: f, Value: val}, true
}

// FlagDuplicates adds a DuplicateInFile warning to every valid record whose
// natural key already appeared on an earlier line. records and outcomes are
// parallel slices; nil records are ignored.
func FlagDuplicates(records []*NormalizedRecord, outcomes []ValidationOutcome) {
	first := make(map[AssociationKey]int)
	for i, rec := range records {
		if rec == nil || outcomes[i].HasErrors() {
			continue
		}
		key, ok := NaturalKey(rec)
		if !ok {
			continue
		}
		if line, seen := first[key]; seen {
			outcomes[i].Warnings = append(outcomes[i].Warnings,
				warning(CodeDuplicateInFile, key.Field, "%s %s already appears on line %d", key.Field, key.Value, line))
			continue
		}
		first[key] = rec.SourceLine
	}
}
