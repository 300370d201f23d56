package core

// fieldCatalog defines how every canonical field is coerced.
// Fields absent from an enum vocabulary keep Coerced=false.
var fieldCatalog = map[Field]FieldSpec{
	FieldRecordType:        {Name: FieldRecordType, Type: FieldText},
	FieldCustomerType:      {Name: FieldCustomerType, Type: FieldEnum, EnumValues: customerTypeVocab},
	FieldFiscalCode:        {Name: FieldFiscalCode, Type: FieldText, Normalizer: NormalizeFiscalCode},
	FieldVATNumber:         {Name: FieldVATNumber, Type: FieldText, Normalizer: NormalizeVAT},
	FieldEmail:             {Name: FieldEmail, Type: FieldText, Normalizer: NormalizeEmail},
	FieldCustomerCode:      {Name: FieldCustomerCode, Type: FieldText, Normalizer: NormalizeCustomerCode},
	FieldFirstName:         {Name: FieldFirstName, Type: FieldText},
	FieldLastName:          {Name: FieldLastName, Type: FieldText},
	FieldBirthDate:         {Name: FieldBirthDate, Type: FieldDate},
	FieldCompanyName:       {Name: FieldCompanyName, Type: FieldText},
	FieldPhone:             {Name: FieldPhone, Type: FieldText, Normalizer: NormalizePhone},
	FieldAddress:           {Name: FieldAddress, Type: FieldText},
	FieldCity:              {Name: FieldCity, Type: FieldText},
	FieldProvince:          {Name: FieldProvince, Type: FieldText, Normalizer: NormalizeProvince},
	FieldPostalCode:        {Name: FieldPostalCode, Type: FieldText},
	FieldPrivacyConsent:    {Name: FieldPrivacyConsent, Type: FieldBool},
	FieldPOD:               {Name: FieldPOD, Type: FieldText, Normalizer: NormalizeSupplyPoint},
	FieldPDR:               {Name: FieldPDR, Type: FieldText, Normalizer: NormalizeSupplyPoint},
	FieldActivationDate:    {Name: FieldActivationDate, Type: FieldDate},
	FieldEndDate:           {Name: FieldEndDate, Type: FieldDate},
	FieldSupplier:          {Name: FieldSupplier, Type: FieldText},
	FieldOfferName:         {Name: FieldOfferName, Type: FieldText},
	FieldAnnualConsumption: {Name: FieldAnnualConsumption, Type: FieldDecimal},
	FieldContractedPower:   {Name: FieldContractedPower, Type: FieldDecimal},
	FieldSupplyUse:         {Name: FieldSupplyUse, Type: FieldEnum, EnumValues: supplyUseVocab},
	FieldGreenEnergy:       {Name: FieldGreenEnergy, Type: FieldBool},
}

// Enum vocabularies, keyed by folded spelling.
var (
	recordTypeVocab = map[string]EntityKind{
		"private": KindPrivateCustomer, "privato": KindPrivateCustomer, "privati": KindPrivateCustomer,
		"persona": KindPrivateCustomer, "personafisica": KindPrivateCustomer, "individual": KindPrivateCustomer,
		"consumer": KindPrivateCustomer, "residential": KindPrivateCustomer, "domestico": KindPrivateCustomer,
		"privatecustomer": KindPrivateCustomer, "clienteprivato": KindPrivateCustomer,

		"company": KindCompanyCustomer, "azienda": KindCompanyCustomer, "business": KindCompanyCustomer,
		"impresa": KindCompanyCustomer, "societa": KindCompanyCustomer, "personagiuridica": KindCompanyCustomer,
		"companycustomer": KindCompanyCustomer, "clientebusiness": KindCompanyCustomer, "pmi": KindCompanyCustomer,

		"electricity": KindElectricityContract, "luce": KindElectricityContract, "energia": KindElectricityContract,
		"energiaelettrica": KindElectricityContract, "power": KindElectricityContract, "ee": KindElectricityContract,
		"electricitycontract": KindElectricityContract, "contrattoluce": KindElectricityContract, "pod": KindElectricityContract,

		"gas": KindGasContract, "gasnaturale": KindGasContract, "metano": KindGasContract,
		"gascontract": KindGasContract, "contrattogas": KindGasContract, "pdr": KindGasContract,
	}

	customerTypeVocab = map[string]string{
		"private": "private", "privato": "private", "persona": "private", "personafisica": "private",
		"residential": "private", "domestico": "private", "individual": "private", "consumer": "private",
		"company": "company", "azienda": "company", "business": "company", "impresa": "company",
		"societa": "company", "personagiuridica": "company", "pmi": "company",
	}

	supplyUseVocab = map[string]string{
		"domestico": "domestic", "domestic": "domestic", "residenziale": "domestic", "residential": "domestic",
		"domesticoresidente": "domestic", "domesticononresidente": "domestic_non_resident",
		"nonresidente": "domestic_non_resident", "nonresident": "domestic_non_resident",
		"altriusi": "business", "business": "business", "nondomestico": "business", "commerciale": "business",
		"condominio": "condominium", "condominium": "condominium",
		"pubblico": "public", "public": "public", "illuminazionepubblica": "public",
	}
)

// Customer-identifying fields of a contract row, in resolution order.
var contractLinkFields = []Field{FieldCustomerCode, FieldFiscalCode, FieldVATNumber, FieldEmail}

func contractFields(supplyPoint Field, withPower bool) []KindField {
	fields := []KindField{
		{Field: supplyPoint, Required: true},
		{Field: FieldRecordType},
		{Field: FieldActivationDate},
		{Field: FieldEndDate},
		{Field: FieldSupplier},
		{Field: FieldOfferName},
		{Field: FieldAnnualConsumption},
	}
	if withPower {
		fields = append(fields, KindField{Field: FieldContractedPower})
	}
	fields = append(fields,
		KindField{Field: FieldSupplyUse},
		KindField{Field: FieldGreenEnergy},
	)
	for _, f := range contractLinkFields {
		fields = append(fields, KindField{Field: f, Link: true})
	}
	return fields
}

var contactFields = []KindField{
	{Field: FieldEmail},
	{Field: FieldCustomerCode},
	{Field: FieldPhone},
	{Field: FieldAddress},
	{Field: FieldCity},
	{Field: FieldProvince},
	{Field: FieldPostalCode},
	{Field: FieldPrivacyConsent},
	{Field: FieldRecordType},
	{Field: FieldCustomerType},
}

func init() {
	Register(KindDefinition{
		Kind:  KindPrivateCustomer,
		Label: "Private customer",
		Fields: append([]KindField{
			{Field: FieldFiscalCode, Required: true},
			{Field: FieldFirstName, Required: true},
			{Field: FieldLastName, Required: true},
			{Field: FieldBirthDate},
		}, contactFields...),
	})
	Register(KindDefinition{
		Kind:  KindCompanyCustomer,
		Label: "Company customer",
		Fields: append([]KindField{
			{Field: FieldVATNumber, Required: true},
			{Field: FieldCompanyName, Required: true},
			{Field: FieldFiscalCode},
		}, contactFields...),
	})
	Register(KindDefinition{
		Kind:   KindElectricityContract,
		Label:  "Electricity contract",
		Fields: contractFields(FieldPOD, true),
	})
	Register(KindDefinition{
		Kind:   KindGasContract,
		Label:  "Gas contract",
		Fields: contractFields(FieldPDR, false),
	})
}

// supplyPointField returns the field holding the contract's natural key.
func supplyPointField(kind EntityKind) Field {
	if kind == KindGasContract {
		return FieldPDR
	}
	return FieldPOD
}
