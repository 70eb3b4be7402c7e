package semantic

import (
	"regexp"
	"sort"
	"strings"

	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-finsight/pkg/models"
	"github.com/ekaya-inc/ekaya-finsight/pkg/sqlsafe"
)

// dimensionAliases maps a singular word to its canonical dimension.
var dimensionAliases = map[string]string{
	"region":      "region",
	"territory":   "region",
	"area":        "region",
	"product":     "product",
	"sku":         "product",
	"material":    "product",
	"brand":       "product",
	"customer":    "customer",
	"client":      "customer",
	"department":  "department",
	"dept":        "department",
	"cost center": "department",
	"project":     "project",
	"vendor":      "vendor",
	"supplier":    "vendor",
	"component":   "bucket",
	"bucket":      "bucket",
	"category":    "bucket",
	"account":     "gl_account",
	"day":         "day",
	"week":        "week",
	"month":       "month",
	"quarter":     "quarter",
	"year":        "year",
}

var groupingPattern = regexp.MustCompile(`\b(?:by|per|each|across)\s+(cost centers?|[a-z_]+)`)

// ExtractDimensions returns canonical grouping dimensions in order of appearance.
func (p *Parser) ExtractDimensions(query string) []string {
	q := normalize(query)
	seen := make(map[string]bool)
	out := []string{}
	for _, m := range groupingPattern.FindAllStringSubmatch(q, -1) {
		word := inflection.Singular(m[1])
		dim, ok := dimensionAliases[word]
		if !ok || seen[dim] {
			continue
		}
		seen[dim] = true
		out = append(out, dim)
	}
	return out
}

var comparisonPatterns = []struct {
	pattern *regexp.Regexp
	typ     models.ComparisonType
}{
	{regexp.MustCompile(`\b(vs\.?|versus|compared (to|with)|against)\s+(the\s+)?budget\b|\bbudget\b`), models.ComparisonVsBudget},
	{regexp.MustCompile(`\bforecast\b`), models.ComparisonVsForecast},
	{regexp.MustCompile(`\b(vs\.?|versus|compared (to|with)|against)\s+(the\s+)?(last|previous|prior) year\b|\byear over year\b|\byoy\b`), models.ComparisonVsLastYear},
	{regexp.MustCompile(`\b(vs\.?|versus|compared (to|with)|against)\s+(the\s+)?(last|previous|prior) month\b|\bmonth over month\b|\bmom\b`), models.ComparisonVsLastMonth},
}

func (p *Parser) ExtractComparison(query string) models.ComparisonType {
	q := strings.ToLower(query)
	for _, cp := range comparisonPatterns {
		if cp.pattern.MatchString(q) {
			return cp.typ
		}
	}
	return ""
}

// regionTokens are recognised without a quoted value. Multi-word names come first.
var regionTokens = []string{
	"north america", "south america", "northeast", "northwest", "southeast", "southwest",
	"midwest", "north", "south", "east", "west", "central", "emea", "apac", "latam", "europe",
}

var filterNouns = map[string]string{
	"region": "region", "regions": "region",
	"product": "product", "products": "product",
	"customer": "customer", "customers": "customer",
}

// ExtractFilters finds known region names and quoted values attached to the
// nearest preceding region/product/customer noun. Values that look like SQL
// injection are dropped.
func (p *Parser) ExtractFilters(query string) map[string]string {
	filters := make(map[string]string)

	unquoted := quotedPattern.ReplaceAllString(query, " ")
	q := normalize(unquoted)
	for _, token := range regionTokens {
		if phraseIndex(q, token) >= 0 {
			filters["region"] = titleCase(token)
			break
		}
	}

	lower := strings.ToLower(query)
	for _, idx := range quotedPattern.FindAllStringSubmatchIndex(query, -1) {
		value := ""
		if idx[2] >= 0 {
			value = query[idx[2]:idx[3]]
		} else {
			value = query[idx[4]:idx[5]]
		}
		if field := nearestNoun(lower[:idx[0]]); field != "" {
			filters[field] = strings.TrimSpace(value)
		}
	}

	kept, rejected := sqlsafe.ScreenFilters(filters)
	for _, r := range rejected {
		p.logger.Warn("Dropped filter value flagged as SQL injection",
			zap.String("field", r.Field), zap.String("fingerprint", r.Fingerprint))
	}
	return kept
}

func nearestNoun(prefix string) string {
	words := strings.Fields(normalize(prefix))
	for i := len(words) - 1; i >= 0; i-- {
		if field, ok := filterNouns[words[i]]; ok {
			return field
		}
	}
	return ""
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		if w == "emea" || w == "apac" || w == "latam" {
			words[i] = strings.ToUpper(w)
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

var searchStopWords = map[string]bool{
	"show": true, "me": true, "for": true, "gl": true, "account": true, "accounts": true,
	"the": true, "a": true, "an": true, "of": true, "in": true, "on": true, "by": true,
	"and": true, "or": true, "what": true, "is": true, "are": true, "was": true, "were": true,
	"to": true, "from": true, "with": true, "all": true, "give": true, "list": true,
	"get": true, "find": true, "display": true, "number": true, "no": true, "our": true, "my": true,
}

// ExtractGLSearchTerms returns account numbers first, then remaining content words.
func (p *Parser) ExtractGLSearchTerms(query string) []string {
	numbers := glNumbers(query)
	isNumber := make(map[string]bool, len(numbers))
	out := append([]string{}, numbers...)
	for _, n := range numbers {
		isNumber[n] = true
	}
	seen := make(map[string]bool)
	for _, w := range strings.Fields(normalize(query)) {
		if isNumber[w] || searchStopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
