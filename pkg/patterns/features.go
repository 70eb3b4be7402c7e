package patterns

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"

	"github.com/xwb1989/sqlparser"

	"github.com/ekaya-inc/ekaya-finsight/pkg/sqlsafe"
)

var (
	stringLiteral  = regexp.MustCompile(`'(?:[^']|'')*'`)
	numberLiteral  = regexp.MustCompile(`\b\d+(?:\.\d+)?\b`)
	whitespace     = regexp.MustCompile(`\s+`)
	timeFunction   = regexp.MustCompile(`(?i)\b(date_trunc|extract|timestamp_trunc|format_date)\s*\(`)
	joinKeyword    = regexp.MustCompile(`(?i)\bjoin\b`)
	tableRef       = regexp.MustCompile("(?i)\\b(?:from|join)\\s+(`[^`]+`|[\\w.\\-]+)")
	groupByClause  = regexp.MustCompile(`(?is)\bgroup\s+by\s+(.+?)(?:\border\s+by\b|\bhaving\b|\blimit\b|\bqualify\b|$)`)
	whereClause    = regexp.MustCompile(`(?is)\bwhere\s+(.+?)(?:\bgroup\s+by\b|\border\s+by\b|\bhaving\b|\blimit\b|$)`)
	filterColumn   = regexp.MustCompile(`(?i)\b([A-Za-z_]\w*)\s*(?:=|>=|<=|<>|!=|<|>|\bin\b|\blike\b|\bbetween\b|\bis\b)`)
	trailingAlias  = regexp.MustCompile("(?i)\\s+as\\s+`?\\w+`?\\s*$")
	dateTruncFirst = regexp.MustCompile(`(?i)date_trunc\s*\(\s*` + "`?" + `(\w+)`)
)

// Features is the structural fingerprint of one query.
type Features struct {
	Tables       []string
	Columns      []string
	Aggregations []string
	Filters      []string
	GroupBy      []string
	// Measures are the aggregated SELECT items as written, aliases kept.
	Measures    []string
	HasJoin     bool
	HasTimeFunc bool
	TimeColumn  string
}

// NormalizeSQL replaces literals with placeholders, collapses whitespace and
// upper-cases the result so textual variants of one query compare equal.
func NormalizeSQL(query string) string {
	s := stringLiteral.ReplaceAllString(query, "?")
	s = numberLiteral.ReplaceAllString(s, "?")
	s = whitespace.ReplaceAllString(strings.TrimSpace(s), " ")
	s = strings.TrimSuffix(s, ";")
	return strings.ToUpper(strings.TrimSpace(s))
}

// ExtractFeatures parses query into its tables, columns, aggregations,
// filters and grouping. BigQuery-only syntax the parser rejects falls back
// to a pattern scan.
func ExtractFeatures(query string) Features {
	f, ok := parseFeatures(query)
	if !ok {
		f = scanFeatures(query)
	}
	f.HasJoin = f.HasJoin || joinKeyword.MatchString(query)
	f.HasTimeFunc = timeFunction.MatchString(query)
	if m := dateTruncFirst.FindStringSubmatch(query); m != nil {
		f.TimeColumn = m[1]
	}
	for _, item := range sqlsafe.ParseSelectColumns(query) {
		if item.Aggregate != "" {
			f.Measures = append(f.Measures, item.Expr)
		}
	}

	f.Tables = uniqueSorted(f.Tables)
	f.Columns = uniqueSorted(f.Columns)
	f.Aggregations = uniqueSorted(f.Aggregations)
	f.Filters = uniqueSorted(f.Filters)
	f.GroupBy = uniqueSorted(f.GroupBy)
	return f
}

func parseFeatures(query string) (Features, bool) {
	stmt, err := sqlparser.Parse(strings.TrimSuffix(strings.TrimSpace(query), ";"))
	if err != nil {
		return Features{}, false
	}
	sel, ok := stmt.(*sqlparser.Select)
	if !ok {
		return Features{}, false
	}

	var f Features
	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		switch n := node.(type) {
		case *sqlparser.AliasedTableExpr:
			if tn, ok := n.Expr.(sqlparser.TableName); ok {
				f.Tables = append(f.Tables, tableName(tn))
			}
		case *sqlparser.JoinTableExpr:
			f.HasJoin = true
		case *sqlparser.ColName:
			f.Columns = append(f.Columns, n.Name.String())
		case *sqlparser.FuncExpr:
			if n.IsAggregate() {
				f.Aggregations = append(f.Aggregations, aggregationKey(n))
			}
		}
		return true, nil
	}, sel)

	for _, expr := range sel.GroupBy {
		if col, ok := expr.(*sqlparser.ColName); ok {
			f.GroupBy = append(f.GroupBy, col.Name.String())
			continue
		}
		f.GroupBy = append(f.GroupBy, sqlparser.String(expr))
	}

	if sel.Where != nil {
		_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
			if col, ok := node.(*sqlparser.ColName); ok {
				f.Filters = append(f.Filters, col.Name.String())
			}
			return true, nil
		}, sel.Where.Expr)
	}
	return f, true
}

func tableName(tn sqlparser.TableName) string {
	if tn.Qualifier.IsEmpty() {
		return tn.Name.String()
	}
	return tn.Qualifier.String() + "." + tn.Name.String()
}

func aggregationKey(fn *sqlparser.FuncExpr) string {
	return strings.ToUpper(fn.Name.String()) + "(" + sqlparser.String(fn.Exprs) + ")"
}

func scanFeatures(query string) Features {
	var f Features
	for _, m := range tableRef.FindAllStringSubmatch(query, -1) {
		f.Tables = append(f.Tables, strings.Trim(m[1], "`"))
	}
	for _, item := range sqlsafe.ParseSelectColumns(query) {
		if item.Aggregate != "" {
			bare := trailingAlias.ReplaceAllString(item.Expr, "")
			open := strings.Index(bare, "(")
			f.Aggregations = append(f.Aggregations, item.Aggregate+bare[open:])
			continue
		}
		f.Columns = append(f.Columns, item.Name)
	}
	if m := groupByClause.FindStringSubmatch(query); m != nil {
		for _, g := range strings.Split(m[1], ",") {
			if g = strings.TrimSpace(g); g != "" {
				f.GroupBy = append(f.GroupBy, g)
			}
		}
	}
	if m := whereClause.FindStringSubmatch(query); m != nil {
		clause := stringLiteral.ReplaceAllString(m[1], "?")
		for _, c := range filterColumn.FindAllStringSubmatch(clause, -1) {
			switch strings.ToUpper(c[1]) {
			case "AND", "OR", "NOT", "DATE", "TIMESTAMP":
				continue
			}
			f.Filters = append(f.Filters, c[1])
		}
	}
	f.Columns = append(f.Columns, f.GroupBy...)
	f.Columns = append(f.Columns, f.Filters...)
	return f
}

// canonicalKey identifies a pattern; literal values never reach it.
func (f Features) canonicalKey() string {
	return strings.Join([]string{
		strings.Join(f.Tables, ","),
		strings.Join(f.Aggregations, ","),
		strings.Join(f.GroupBy, ","),
		strings.Join(f.Filters, ","),
		boolKey(f.HasJoin),
		boolKey(f.HasTimeFunc),
	}, "|")
}

// patternID hashes the canonical key into a stable identifier.
func patternID(key string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(key)))
	return hex.EncodeToString(sum[:])[:16]
}

func boolKey(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func uniqueSorted(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// selectTimeAliases names the SELECT items built from a time function.
func selectTimeAliases(query string) []string {
	var out []string
	for _, item := range sqlsafe.ParseSelectColumns(query) {
		if timeFunction.MatchString(item.Expr) {
			out = append(out, item.Name)
		}
	}
	return out
}
