package sqlsafe

import (
	"regexp"
	"strings"

	libinjection "github.com/corazawaf/libinjection-go"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Rejection records a value refused by ScreenFilters.
type Rejection struct {
	Field       string
	Value       string
	Fingerprint string
}

// IsInjection reports whether libinjection flags value as a SQL injection.
func IsInjection(value string) (bool, string) {
	isSQLi, fingerprint := libinjection.IsSQLi(value)
	return isSQLi, string(fingerprint)
}

// ScreenFilters returns the filters whose values are safe to template into a
// predicate, and the ones that were dropped.
func ScreenFilters(filters map[string]string) (map[string]string, []Rejection) {
	kept := make(map[string]string, len(filters))
	var rejected []Rejection
	for field, value := range filters {
		if isSQLi, fp := IsInjection(value); isSQLi {
			rejected = append(rejected, Rejection{Field: field, Value: value, Fingerprint: fp})
			continue
		}
		kept[field] = value
	}
	return kept, rejected
}

// ValidIdentifier reports whether s can be used unquoted as a column name.
func ValidIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}

// QuoteLiteral renders s as a single-quoted SQL string literal.
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
