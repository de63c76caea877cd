// Package normalizers provides field normalization for blocking and matching
package normalizers

import (
	"strings"
	"unicode"
)

// Normalizer is a function that normalizes a string value. Normalizers are
// pure and never fail: unparsable input normalizes to the empty string so
// blocking and comparison can treat it as missing data.
type Normalizer func(string) string

// registry holds all registered normalizers
var registry = make(map[string]Normalizer)

func init() {
	Register("lowercase", Lowercase)
	Register("trim", Trim)
	Register("nphone", NormalizePhone)
	Register("nemail", NormalizeEmail)
	Register("nname", NormalizeName)
	Register("nstate", NormalizeState)
	Register("nbranch", NormalizeBranch)
	Register("digits_only", DigitsOnly)
}

// Register adds a normalizer to the registry
func Register(name string, fn Normalizer) {
	registry[name] = fn
}

// Apply applies a named normalizer to a value
func Apply(value, normalizer string) string {
	fn, ok := registry[normalizer]
	if !ok {
		return value
	}
	return fn(value)
}

// Lowercase converts string to lowercase
func Lowercase(s string) string {
	return strings.ToLower(s)
}

// Trim removes leading and trailing whitespace
func Trim(s string) string {
	return strings.TrimSpace(s)
}

// DigitsOnly keeps only digit characters
func DigitsOnly(s string) string {
	var result strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// NormalizePhone reduces a phone number to its canonical digit sequence.
// Historical records were captured without a country code, so an 11-digit
// number with a leading 1 is folded down to its 10-digit form. Anything
// shorter than 10 digits is not a dialable number and normalizes to empty.
func NormalizePhone(s string) string {
	digits := DigitsOnly(s)
	if len(digits) == 11 && digits[0] == '1' {
		digits = digits[1:]
	}
	if len(digits) < 10 {
		return ""
	}
	return digits
}

// emailDomainTypos maps the common misspellings seen in the lead sources to
// their intended domains.
var emailDomainTypos = map[string]string{
	"gmial.com":   "gmail.com",
	"gmal.com":    "gmail.com",
	"gamil.com":   "gmail.com",
	"gmail.con":   "gmail.com",
	"yaho.com":    "yahoo.com",
	"yahooo.com":  "yahoo.com",
	"hotmial.com": "hotmail.com",
	"hotmal.com":  "hotmail.com",
	"outlok.com":  "outlook.com",
}

// NormalizeEmail normalizes an email address (lowercase, trim, fix common
// domain typos). A value without an @ is not an address and normalizes to
// empty.
func NormalizeEmail(s string) string {
	email := strings.ToLower(strings.TrimSpace(s))
	email = strings.Trim(email, "\"'<>")
	at := strings.LastIndex(email, "@")
	if at <= 0 || at >= len(email)-1 {
		return ""
	}
	domain := email[at+1:]
	if fixed, ok := emailDomainTypos[domain]; ok {
		email = email[:at+1] + fixed
	}
	return email
}

// NormalizeName normalizes a person's name for matching
// - Lowercase
// - Remove extra whitespace
// - Remove common suffixes (Jr., Sr., III, etc.)
// - Remove punctuation
func NormalizeName(s string) string {
	s = strings.ToLower(s)

	suffixes := []string{" jr.", " jr", " sr.", " sr", " iii", " ii", " iv"}
	for _, suffix := range suffixes {
		if strings.HasSuffix(s, suffix) {
			s = s[:len(s)-len(suffix)]
		}
	}

	var result strings.Builder
	prevSpace := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			result.WriteRune(r)
			prevSpace = false
		} else if unicode.IsSpace(r) {
			if !prevSpace {
				result.WriteRune(' ')
				prevSpace = true
			}
		}
	}

	return strings.TrimSpace(result.String())
}

// stateNames expands US state abbreviations to full lowercase names.
var stateNames = map[string]string{
	"al": "alabama", "ak": "alaska", "az": "arizona", "ar": "arkansas",
	"ca": "california", "co": "colorado", "ct": "connecticut", "de": "delaware",
	"fl": "florida", "ga": "georgia", "hi": "hawaii", "id": "idaho",
	"il": "illinois", "in": "indiana", "ia": "iowa", "ks": "kansas",
	"ky": "kentucky", "la": "louisiana", "me": "maine", "md": "maryland",
	"ma": "massachusetts", "mi": "michigan", "mn": "minnesota", "ms": "mississippi",
	"mo": "missouri", "mt": "montana", "ne": "nebraska", "nv": "nevada",
	"nh": "new hampshire", "nj": "new jersey", "nm": "new mexico", "ny": "new york",
	"nc": "north carolina", "nd": "north dakota", "oh": "ohio", "ok": "oklahoma",
	"or": "oregon", "pa": "pennsylvania", "ri": "rhode island", "sc": "south carolina",
	"sd": "south dakota", "tn": "tennessee", "tx": "texas", "ut": "utah",
	"vt": "vermont", "va": "virginia", "wa": "washington", "wv": "west virginia",
	"wi": "wisconsin", "wy": "wyoming", "dc": "district of columbia",
}

// NormalizeState expands a two-letter state abbreviation to its full
// lowercase name. Full names pass through lowercased.
func NormalizeState(s string) string {
	v := strings.ToLower(strings.TrimSpace(s))
	if v == "" {
		return ""
	}
	if full, ok := stateNames[v]; ok {
		return full
	}
	return v
}

// NormalizeBranch strips emoji and decoration from branch/provider labels,
// which arrive styled differently per source system.
func NormalizeBranch(s string) string {
	var result strings.Builder
	prevSpace := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '&' || r == '-' {
			result.WriteRune(r)
			prevSpace = false
		} else if unicode.IsSpace(r) {
			if !prevSpace && result.Len() > 0 {
				result.WriteRune(' ')
				prevSpace = true
			}
		}
	}
	return strings.TrimSpace(strings.ToLower(result.String()))
}
