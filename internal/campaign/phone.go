package campaign

import "strings"

// Placeholder values that spreadsheet exports use for businesses with
// no reachable phone. Matching is substring-based, like the data is.
var closedPlaceholders = []string{"cerrado", "cierra pronto"}

// SanitizePhone reduces a raw phone cell to a plausible digit string.
// It returns ok=false for empty cells, placeholder values and anything
// shorter than 7 digits.
func SanitizePhone(raw string) (string, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" || s == "nan" {
		return "", false
	}
	for _, p := range closedPlaceholders {
		if strings.Contains(s, p) {
			return "", false
		}
	}
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) < 7 {
		return "", false
	}
	return digits, true
}

// RecipientKey derives the dedup/lookup identity: the sanitized digits
// prefixed with the country code when not already present.
func RecipientKey(countryCode, digits string) string {
	if !strings.HasPrefix(digits, countryCode) {
		return countryCode + digits
	}
	return digits
}

// FormatE164 renders a RecipientKey for display and reports.
func FormatE164(countryCode, digits string) string {
	return "+" + RecipientKey(countryCode, digits)
}

// DigitsOnly strips everything but digits; used to normalize a
// configured country code.
func DigitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
