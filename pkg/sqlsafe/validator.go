// Package sqlsafe guards the SQL that leaves this process: generated
// statements are checked before execution and user-supplied literals are
// screened before they are templated into filters.
package sqlsafe

import (
	"errors"
	"regexp"
	"strings"
)

var (
	ErrEmptyStatement     = errors.New("empty SQL statement")
	ErrMultipleStatements = errors.New("multiple SQL statements not allowed")
	ErrNotReadOnly        = errors.New("only SELECT or WITH statements may be executed")
)

var writeKeywords = regexp.MustCompile(`(?i)\b(insert|update|delete|merge|drop|alter|truncate|create|grant|revoke)\b`)

// Normalize trims whitespace and a single trailing semicolon, and rejects
// anything that is not exactly one statement.
func Normalize(query string) (string, error) {
	query = strings.TrimSpace(query)
	query = strings.TrimSpace(strings.TrimSuffix(query, ";"))
	if query == "" {
		return "", ErrEmptyStatement
	}
	if hasSemicolonOutsideStrings(query) {
		return "", ErrMultipleStatements
	}
	return query, nil
}

// ValidateReadOnly normalizes a generated query and requires it to be a
// read-only SELECT/WITH with no data-modifying keywords outside literals.
func ValidateReadOnly(query string) (string, error) {
	normalized, err := Normalize(query)
	if err != nil {
		return "", err
	}
	lead := strings.ToUpper(firstWord(normalized))
	if lead != "SELECT" && lead != "WITH" {
		return "", ErrNotReadOnly
	}
	if writeKeywords.MatchString(stripLiterals(normalized)) {
		return "", ErrNotReadOnly
	}
	return normalized, nil
}

func firstWord(s string) string {
	s = strings.TrimLeft(s, "( \t\n\r")
	if i := strings.IndexAny(s, " \t\n\r("); i >= 0 {
		return s[:i]
	}
	return s
}

// stripLiterals blanks out quoted strings so keyword checks ignore them.
func stripLiterals(query string) string {
	var b strings.Builder
	var quote rune
	for _, c := range query {
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		default:
			b.WriteRune(c)
		}
	}
	return b.String()
}

func hasSemicolonOutsideStrings(query string) bool {
	var quote, prev rune
	for _, c := range query {
		switch {
		case quote != 0:
			if c == quote && prev != '\\' {
				quote = 0
			}
		case c == ';':
			return true
		case c == '\'' || c == '"' || c == '`':
			quote = c
		}
		prev = c
	}
	return false
}
