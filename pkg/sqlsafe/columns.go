package sqlsafe

import (
	"regexp"
	"strings"
)

// SelectColumn is one item of a SELECT list.
type SelectColumn struct {
	Name string
	Expr string
	// Aggregate is the upper-cased aggregate function, when the item is one.
	Aggregate string
}

var (
	aliasPattern     = regexp.MustCompile(`(?i)\s+as\s+` + "`?" + `(\w+)` + "`?" + `\s*$`)
	aggregatePattern = regexp.MustCompile(`(?i)^(sum|count|avg|min|max|approx_count_distinct)\s*\(`)
	funcNamePattern  = regexp.MustCompile(`^(\w+)\s*\(`)
	nonWord          = regexp.MustCompile(`[^\w]`)
)

// ParseSelectColumns extracts the outer SELECT list of a query. It is a
// lightweight scanner for dialects the full parser rejects; SELECT * and
// non-SELECT input return nil.
func ParseSelectColumns(query string) []SelectColumn {
	lower := strings.ToLower(query)
	start := strings.Index(lower, "select")
	if start < 0 {
		return nil
	}
	body := query[start+len("select"):]
	end := topLevelKeyword(strings.ToLower(body), " from ")
	if end >= 0 {
		body = body[:end]
	}
	body = strings.TrimSpace(body)
	if strings.HasPrefix(body, "*") {
		return nil
	}

	var out []SelectColumn
	for _, item := range splitTopLevel(body) {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, parseSelectItem(item))
	}
	return out
}

func parseSelectItem(expr string) SelectColumn {
	col := SelectColumn{Expr: expr}
	bare := expr
	if m := aliasPattern.FindStringSubmatchIndex(expr); m != nil {
		col.Name = strings.ToLower(expr[m[2]:m[3]])
		bare = strings.TrimSpace(expr[:m[0]])
	}
	if m := aggregatePattern.FindStringSubmatch(bare); m != nil {
		col.Aggregate = strings.ToUpper(m[1])
	}
	if col.Name == "" {
		col.Name = columnName(bare)
	}
	return col
}

func columnName(expr string) string {
	if m := funcNamePattern.FindStringSubmatch(expr); m != nil {
		return strings.ToLower(m[1])
	}
	if i := strings.LastIndex(expr, "."); i >= 0 {
		expr = expr[i+1:]
	}
	return strings.ToLower(nonWord.ReplaceAllString(expr, ""))
}

// splitTopLevel splits on commas outside parentheses.
func splitTopLevel(s string) []string {
	var parts []string
	depth, last := 0, 0
	for i, c := range s {
		switch c {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[last:i])
				last = i + 1
			}
		}
	}
	return append(parts, s[last:])
}

// topLevelKeyword finds kw in lower outside parentheses, or -1.
func topLevelKeyword(lower, kw string) int {
	depth := 0
	for i, c := range lower {
		switch c {
		case '(':
			depth++
		case ')':
			depth--
		default:
			if depth == 0 && strings.HasPrefix(lower[i:], kw) {
				return i
			}
		}
	}
	return -1
}
