package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetector_Detect(t *testing.T) {
	tests := []struct {
		name     string
		fields   map[Field]string
		wantKind EntityKind
		wantConf float64
		wantRule string
	}{
		{
			name:     "explicit record type wins over shapes",
			fields:   map[Field]string{FieldRecordType: "Gas", FieldPOD: "IT001E12345678"},
			wantKind: KindGasContract, wantConf: ConfidenceExplicit, wantRule: "explicit_type",
		},
		{
			name:     "italian record type",
			fields:   map[Field]string{FieldRecordType: "Persona Fisica"},
			wantKind: KindPrivateCustomer, wantConf: ConfidenceExplicit, wantRule: "explicit_type",
		},
		{
			name:     "customer type column",
			fields:   map[Field]string{FieldCustomerType: "azienda", FieldVATNumber: "01234567897"},
			wantKind: KindCompanyCustomer, wantConf: ConfidenceExplicit, wantRule: "explicit_type",
		},
		{
			name:     "customer type ignored on contract rows",
			fields:   map[Field]string{FieldCustomerType: "azienda", FieldPOD: "IT001E12345678"},
			wantKind: KindElectricityContract, wantConf: ConfidenceShape, wantRule: "pod_shape",
		},
		{
			name:     "unknown record type falls through",
			fields:   map[Field]string{FieldRecordType: "boh", FieldPDR: "01234567890123"},
			wantKind: KindGasContract, wantConf: ConfidenceShape, wantRule: "pdr_shape",
		},
		{
			name:     "pod and pdr both present is electricity",
			fields:   map[Field]string{FieldPOD: "IT001E12345678", FieldPDR: "01234567890123"},
			wantKind: KindElectricityContract, wantConf: ConfidenceShape, wantRule: "pod_shape",
		},
		{
			name:     "malformed pod",
			fields:   map[Field]string{FieldPOD: "IT-BROKEN"},
			wantKind: KindElectricityContract, wantConf: ConfidencePresence, wantRule: "pod_present",
		},
		{
			name:     "malformed pdr",
			fields:   map[Field]string{FieldPDR: "123"},
			wantKind: KindGasContract, wantConf: ConfidencePresence, wantRule: "pdr_present",
		},
		{
			name:     "vat number shape",
			fields:   map[Field]string{FieldVATNumber: "01234567897", FieldCompanyName: "Acme"},
			wantKind: KindCompanyCustomer, wantConf: ConfidenceShape, wantRule: "vat_shape",
		},
		{
			name:     "fiscal code shape",
			fields:   map[Field]string{FieldFiscalCode: "RSSMRA80A01H501Z"},
			wantKind: KindPrivateCustomer, wantConf: ConfidenceShape, wantRule: "fiscal_code_shape",
		},
		{
			name:     "malformed fiscal code",
			fields:   map[Field]string{FieldFiscalCode: "XYZ"},
			wantKind: KindPrivateCustomer, wantConf: ConfidencePresence, wantRule: "fiscal_code_present",
		},
		{
			name:     "malformed vat number",
			fields:   map[Field]string{FieldVATNumber: "12AB"},
			wantKind: KindCompanyCustomer, wantConf: ConfidencePresence, wantRule: "vat_present",
		},
		{
			name:     "contact only",
			fields:   map[Field]string{FieldEmail: "someone@example.it"},
			wantKind: KindPrivateCustomer, wantConf: ConfidenceContact, wantRule: "contact_only",
		},
		{
			name:     "nothing to go on",
			fields:   map[Field]string{FieldCity: "Roma"},
			wantKind: KindUnknown, wantConf: 0, wantRule: "",
		},
	}

	d := NewDetector()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, conf, rule := d.Detect(record(KindUnknown, 2, tt.fields))
			assert.Equal(t, tt.wantKind, kind)
			assert.InDelta(t, tt.wantConf, conf, 1e-9)
			assert.Equal(t, tt.wantRule, rule)
		})
	}
}

func TestDetector_AppendRule(t *testing.T) {
	d := NewDetector()
	d.AppendRule(DetectionRule{
		Name: "city_is_private",
		Match: func(rec *NormalizedRecord) (EntityKind, float64, bool) {
			return KindPrivateCustomer, 0.1, rec.Has(FieldCity)
		},
	})

	names := d.Rules()
	assert.Equal(t, "explicit_type", names[0])
	assert.Equal(t, "city_is_private", names[len(names)-1])

	kind, conf, rule := d.Detect(record(KindUnknown, 2, map[Field]string{FieldCity: "Roma"}))
	assert.Equal(t, KindPrivateCustomer, kind)
	assert.InDelta(t, 0.1, conf, 1e-9)
	assert.Equal(t, "city_is_private", rule)
}
