package core

import (
	"regexp"
	"strings"
	"unicode"
)

// Identifier shapes of the Italian energy market.
var (
	// Codice fiscale. Digit positions accept the omocodia substitution letters.
	fiscalCodeRegex = regexp.MustCompile(`^[A-Z]{6}[0-9LMNPQRSTUV]{2}[ABCDEHLMPRST][0-9LMNPQRSTUV]{2}[A-Z][0-9LMNPQRSTUV]{3}[A-Z]$`)
	vatNumberRegex  = regexp.MustCompile(`^\d{11}$`)
	podRegex        = regexp.MustCompile(`^IT\d{3}E\d{8}[0-9A-Z]?$`)
	pdrRegex        = regexp.MustCompile(`^\d{14}$`)
	postalCodeRegex = regexp.MustCompile(`^\d{5}$`)
	provinceRegex   = regexp.MustCompile(`^[A-Z]{2}$`)
)

// IsFiscalCode reports whether s has the shape of a personal fiscal code.
func IsFiscalCode(s string) bool { return fiscalCodeRegex.MatchString(s) }

// IsVATNumber reports whether s has the shape of a VAT number (partita IVA).
func IsVATNumber(s string) bool { return vatNumberRegex.MatchString(s) }

// IsPOD reports whether s has the shape of an electricity point of delivery.
func IsPOD(s string) bool { return podRegex.MatchString(s) }

// IsPDR reports whether s has the shape of a gas redelivery point.
func IsPDR(s string) bool { return pdrRegex.MatchString(s) }

// NormalizeFiscalCode upper-cases and removes all whitespace.
func NormalizeFiscalCode(s string) string {
	return strings.ToUpper(removeSpace(s))
}

// NormalizeVAT strips the IT country prefix and common separators.
func NormalizeVAT(s string) string {
	s = strings.ToUpper(removeSpace(s))
	s = strings.TrimPrefix(s, "IT")
	s = strings.NewReplacer(".", "", "-", "", "/", "").Replace(s)
	return s
}

// NormalizeSupplyPoint upper-cases a POD or PDR and removes whitespace.
func NormalizeSupplyPoint(s string) string {
	return strings.ToUpper(removeSpace(s))
}

// NormalizeEmail trims and lower-cases an address. Validation happens later.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizePhone keeps a leading + and the digits.
func NormalizePhone(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	for i, r := range s {
		switch {
		case r == '+' && i == 0:
			b.WriteRune(r)
		case unicode.IsDigit(r):
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeProvince upper-cases a province abbreviation, dropping "(...)" wrappers.
func NormalizeProvince(s string) string {
	s = strings.Trim(strings.TrimSpace(s), "()")
	return strings.ToUpper(strings.TrimSpace(s))
}

// NormalizeCustomerCode trims and upper-cases a supplier customer code.
func NormalizeCustomerCode(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func removeSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// vatChecksumOK checks the control digit of an 11-digit VAT number
// (Luhn variant: odd positions summed, even positions doubled minus 9).
func vatChecksumOK(vat string) bool {
	if !IsVATNumber(vat) {
		return false
	}
	sum := 0
	for i := 0; i < 10; i++ {
		d := int(vat[i] - '0')
		if i%2 == 1 {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
	}
	check := (10 - sum%10) % 10
	return check == int(vat[10]-'0')
}
