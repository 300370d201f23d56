package core

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// FieldAliases lists the header spellings recognized for each canonical field.
// Spellings are compared after FoldHeader, so case, accents, spaces,
// underscores and punctuation do not matter. The canonical name itself is
// always recognized.
//
// A bare "name"/"nome" header is deliberately absent: it is ambiguous between
// a person's first name and a company name.
var FieldAliases = map[Field][]string{
	FieldRecordType: {
		"tipo record", "tipo riga", "tipologia record", "record type", "row type",
		"entity", "entity type", "tipo entita", "categoria", "category",
	},
	FieldCustomerType: {
		"tipo cliente", "tipologia cliente", "customer type", "client type", "natura giuridica",
	},
	FieldFiscalCode: {
		"codice fiscale", "cod fiscale", "cod fisc", "cf", "c f", "codfisc",
		"fiscal code", "tax code", "tax id", "codice fiscale cliente", "cf cliente",
	},
	FieldVATNumber: {
		"partita iva", "p iva", "piva", "p iva cliente", "part iva", "partitaiva",
		"vat", "vat number", "vat no", "vat id", "vat code", "codice iva",
		"numero partita iva", "p iva azienda",
	},
	FieldEmail: {
		"e-mail", "mail", "indirizzo email", "email cliente", "posta elettronica",
		"email address", "pec",
	},
	FieldCustomerCode: {
		"codice cliente", "cod cliente", "id cliente", "customer code", "customer id",
		"client id", "client code", "account number", "numero cliente",
	},
	FieldFirstName: {
		"nome", "nome cliente", "first name", "firstname", "given name", "forename",
	},
	FieldLastName: {
		"cognome", "cognome cliente", "last name", "lastname", "surname", "family name",
	},
	FieldBirthDate: {
		"data di nascita", "data nascita", "nato il", "birth date", "date of birth", "dob", "birthdate",
	},
	FieldCompanyName: {
		"ragione sociale", "denominazione", "azienda", "societa", "nome azienda",
		"company", "company name", "business name", "legal name",
	},
	FieldPhone: {
		"telefono", "tel", "cellulare", "cell", "recapito telefonico", "numero telefono",
		"phone", "phone number", "mobile", "telephone",
	},
	FieldAddress: {
		"indirizzo", "via", "indirizzo fornitura", "indirizzo residenza", "address", "street", "street address",
	},
	FieldCity: {
		"citta", "comune", "localita", "city", "town", "municipality",
	},
	FieldProvince: {
		"provincia", "prov", "sigla provincia", "province", "state",
	},
	FieldPostalCode: {
		"cap", "codice postale", "postal code", "zip", "zip code", "postcode",
	},
	FieldPrivacyConsent: {
		"consenso privacy", "privacy", "consenso marketing", "privacy consent", "gdpr consent",
	},
	FieldPOD: {
		"codice pod", "pod code", "punto di prelievo", "point of delivery", "pod luce",
	},
	FieldPDR: {
		"codice pdr", "pdr code", "punto di riconsegna", "point of redelivery", "pdr gas",
	},
	FieldActivationDate: {
		"data attivazione", "data inizio", "data inizio fornitura", "decorrenza",
		"data decorrenza", "activation date", "start date", "supply start",
	},
	FieldEndDate: {
		"data fine", "data cessazione", "data fine fornitura", "scadenza", "end date", "termination date",
	},
	FieldSupplier: {
		"fornitore", "venditore", "societa di vendita", "supplier", "vendor", "provider",
	},
	FieldOfferName: {
		"offerta", "nome offerta", "codice offerta", "listino", "tariffa", "offer", "offer name", "tariff", "plan",
	},
	FieldAnnualConsumption: {
		"consumo annuo", "consumo annuale", "consumo", "kwh annui", "smc annui",
		"annual consumption", "yearly consumption", "consumption",
	},
	FieldContractedPower: {
		"potenza", "potenza impegnata", "potenza contrattuale", "kw", "contracted power", "power",
	},
	FieldSupplyUse: {
		"uso", "tipo uso", "destinazione uso", "uso fornitura", "supply use", "usage type", "use",
	},
	FieldGreenEnergy: {
		"energia verde", "green", "opzione verde", "green energy", "green option",
	},
}

// aliasIndex maps folded spellings to their canonical field.
var aliasIndex = mustBuildAliasIndex(FieldAliases)

func mustBuildAliasIndex(aliases map[Field][]string) map[string]Field {
	idx, err := buildAliasIndex(aliases)
	if err != nil {
		panic(err)
	}
	return idx
}

// buildAliasIndex folds every spelling and rejects a spelling claimed by two fields.
func buildAliasIndex(aliases map[Field][]string) (map[string]Field, error) {
	idx := make(map[string]Field)
	add := func(spelling string, f Field) error {
		key := FoldHeader(spelling)
		if key == "" {
			return nil
		}
		if prev, ok := idx[key]; ok && prev != f {
			return fmt.Errorf("alias %q maps to both %s and %s", spelling, prev, f)
		}
		idx[key] = f
		return nil
	}
	for f, spellings := range aliases {
		if err := add(string(f), f); err != nil {
			return nil, err
		}
		for _, s := range spellings {
			if err := add(s, f); err != nil {
				return nil, err
			}
		}
	}
	return idx, nil
}

// LookupAlias returns the canonical field for a source header.
func LookupAlias(header string) (Field, bool) {
	f, ok := aliasIndex[FoldHeader(header)]
	return f, ok
}

// FoldHeader reduces a header to its comparison form: accents removed,
// lower-cased, and only letters and digits kept.
func FoldHeader(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	var b strings.Builder
	for _, r := range strings.ToLower(folded) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
