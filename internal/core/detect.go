package core

// Confidence levels assigned by the default rules.
const (
	ConfidenceExplicit   = 1.0
	ConfidenceShape      = 0.7
	ConfidencePresence   = 0.5
	ConfidenceContact    = 0.3
	DefaultConfThreshold = 0.3
)

// DetectionRule is one step of the detector chain. Match returns ok=false
// when the rule has no opinion about the record.
type DetectionRule struct {
	Name  string
	Match func(rec *NormalizedRecord) (kind EntityKind, confidence float64, ok bool)
}

// Detector classifies records by running its rules in order; the first
// rule that matches decides.
type Detector struct {
	rules []DetectionRule
}

// NewDetector returns a detector with the default rule chain.
func NewDetector() *Detector {
	return &Detector{rules: DefaultRules()}
}

// AppendRule adds a rule after the existing ones.
func (d *Detector) AppendRule(r DetectionRule) {
	d.rules = append(d.rules, r)
}

// Rules returns the rule names in evaluation order.
func (d *Detector) Rules() []string {
	names := make([]string, len(d.rules))
	for i, r := range d.rules {
		names[i] = r.Name
	}
	return names
}

// Detect returns the kind, confidence and deciding rule for rec.
// No match yields KindUnknown with confidence 0.
func (d *Detector) Detect(rec *NormalizedRecord) (EntityKind, float64, string) {
	for _, r := range d.rules {
		if kind, conf, ok := r.Match(rec); ok {
			return kind, conf, r.Name
		}
	}
	return KindUnknown, 0, ""
}

// DefaultRules is the built-in evidence chain, highest priority first.
func DefaultRules() []DetectionRule {
	return []DetectionRule{
		{Name: "explicit_type", Match: matchExplicitType},
		{Name: "pod_shape", Match: matchShape(FieldPOD, IsPOD, KindElectricityContract)},
		{Name: "pdr_shape", Match: matchShape(FieldPDR, IsPDR, KindGasContract)},
		{Name: "pod_present", Match: matchPresent(FieldPOD, KindElectricityContract)},
		{Name: "pdr_present", Match: matchPresent(FieldPDR, KindGasContract)},
		{Name: "vat_shape", Match: matchCustomerShape(FieldVATNumber, IsVATNumber, KindCompanyCustomer, ConfidenceShape)},
		{Name: "fiscal_code_shape", Match: matchCustomerShape(FieldFiscalCode, IsFiscalCode, KindPrivateCustomer, ConfidenceShape)},
		{Name: "fiscal_code_present", Match: matchCustomerShape(FieldFiscalCode, nonEmpty, KindPrivateCustomer, ConfidencePresence)},
		{Name: "vat_present", Match: matchCustomerShape(FieldVATNumber, nonEmpty, KindCompanyCustomer, ConfidencePresence)},
		{Name: "contact_only", Match: matchContactOnly},
	}
}

// matchExplicitType reads the record type column, then the customer type
// column for rows that carry no supply point.
func matchExplicitType(rec *NormalizedRecord) (EntityKind, float64, bool) {
	if v, ok := rec.Fields[FieldRecordType]; ok {
		if k, ok := recordTypeVocab[FoldHeader(v.Text)]; ok {
			return k, ConfidenceExplicit, true
		}
	}
	if hasSupplyPoint(rec) {
		return "", 0, false
	}
	if v, ok := rec.Fields[FieldCustomerType]; ok && v.Coerced {
		switch v.Text {
		case "private":
			return KindPrivateCustomer, ConfidenceExplicit, true
		case "company":
			return KindCompanyCustomer, ConfidenceExplicit, true
		}
	}
	return "", 0, false
}

func matchShape(f Field, shape func(string) bool, kind EntityKind) func(*NormalizedRecord) (EntityKind, float64, bool) {
	return func(rec *NormalizedRecord) (EntityKind, float64, bool) {
		if v, ok := rec.Fields[f]; ok && shape(v.Text) {
			return kind, ConfidenceShape, true
		}
		return "", 0, false
	}
}

// matchPresent classifies a row whose supply point column is filled but
// malformed; the Validator then reports the bad identifier.
func matchPresent(f Field, kind EntityKind) func(*NormalizedRecord) (EntityKind, float64, bool) {
	return func(rec *NormalizedRecord) (EntityKind, float64, bool) {
		if rec.Has(f) {
			return kind, ConfidencePresence, true
		}
		return "", 0, false
	}
}

// matchCustomerShape only fires on rows without a supply point. The
// presence variants let a malformed identifier reach the Validator, which
// reports it, instead of the row being skipped as unclassifiable.
func matchCustomerShape(f Field, shape func(string) bool, kind EntityKind, conf float64) func(*NormalizedRecord) (EntityKind, float64, bool) {
	return func(rec *NormalizedRecord) (EntityKind, float64, bool) {
		if hasSupplyPoint(rec) {
			return "", 0, false
		}
		if v, ok := rec.Fields[f]; ok && shape(v.Text) {
			return kind, conf, true
		}
		return "", 0, false
	}
}

func matchContactOnly(rec *NormalizedRecord) (EntityKind, float64, bool) {
	if hasSupplyPoint(rec) {
		return "", 0, false
	}
	if rec.Has(FieldEmail) || rec.Has(FieldPhone) {
		return KindPrivateCustomer, ConfidenceContact, true
	}
	return "", 0, false
}

func nonEmpty(s string) bool { return s != "" }

func hasSupplyPoint(rec *NormalizedRecord) bool {
	return rec.Has(FieldPOD) || rec.Has(FieldPDR)
}
