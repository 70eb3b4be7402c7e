package gladvisor

import (
	"regexp"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Concept names.
const (
	ConceptGrossMargin     = "gross_margin"
	ConceptOperatingIncome = "operating_income"
	ConceptEBITDA          = "ebitda"
	ConceptNetIncome       = "net_income"
	ConceptRevenue         = "revenue"
	ConceptCOGS            = "cogs"
	ConceptOpex            = "opex"
	ConceptWorkingCapital  = "working_capital"
	ConceptCashFlow        = "cash_flow"
)

// Term is one signed bucket pattern. A pattern ending in "*" matches every
// bucket code with that prefix.
type Term struct {
	Pattern string
	Sign    int
}

// Matches reports whether bucket satisfies the pattern.
func (t Term) Matches(bucket string) bool {
	return matchBucket(t.Pattern, bucket)
}

// Formula is a sign-aware sum over bucket codes.
type Formula struct {
	Terms []Term
}

// Calculate applies the formula to per-bucket totals. A bucket matched by
// several terms contributes once per term, which is how EBITDA adds back
// depreciation already subtracted under GNA_* and COGS_*.
func (f Formula) Calculate(bucketTotals map[string]float64) float64 {
	buckets := make([]string, 0, len(bucketTotals))
	for b := range bucketTotals {
		buckets = append(buckets, b)
	}
	sort.Strings(buckets)

	total := decimal.Zero
	for _, t := range f.Terms {
		for _, b := range buckets {
			if !t.Matches(b) {
				continue
			}
			v := decimal.NewFromFloat(bucketTotals[b])
			if t.Sign < 0 {
				total = total.Sub(v)
			} else {
				total = total.Add(v)
			}
		}
	}
	f64, _ := total.Float64()
	return f64
}

func plus(patterns ...string) []Term {
	out := make([]Term, len(patterns))
	for i, p := range patterns {
		out[i] = Term{Pattern: p, Sign: 1}
	}
	return out
}

func minus(patterns ...string) []Term {
	out := make([]Term, len(patterns))
	for i, p := range patterns {
		out[i] = Term{Pattern: p, Sign: -1}
	}
	return out
}

func join(parts ...[]Term) []Term {
	var out []Term
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Concept is a financial idea a question can name.
type Concept struct {
	Name     string
	Patterns []*regexp.Regexp
	// RequiredBuckets must exist in the tenant mapping to answer the concept.
	RequiredBuckets []string
	// ComponentBuckets replace RequiredBuckets when a breakdown is requested.
	ComponentBuckets []string
	Formula          Formula
	// Reserved concepts are recognised but need data a GL extract does not carry.
	Reserved bool
}

var (
	grossMarginTerms     = join(plus("REV"), minus("SALE_DS", "COGS_*"))
	operatingIncomeTerms = join(grossMarginTerms, minus("GNA_*", "SEL_*", "R_D"))
)

func rx(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(`(?i)` + e)
	}
	return out
}

// concepts is ordered most specific first; the first identified concept is primary.
var concepts = []Concept{
	{
		Name:             ConceptEBITDA,
		Patterns:         rx(`\bebitda\b`),
		RequiredBuckets:  []string{"REV", "SALE_DS", "COGS_*", "GNA_*", "SEL_*", "R_D", "GNA_DA", "COGS_DP"},
		ComponentBuckets: []string{"REV", "SALE_DS", "COGS_*", "GNA_*", "SEL_*", "R_D"},
		Formula:          Formula{Terms: join(operatingIncomeTerms, plus("GNA_DA", "COGS_DP"))},
	},
	{
		Name:             ConceptNetIncome,
		Patterns:         rx(`\bnet (income|profit|earnings)\b`, `\bbottom line\b`),
		RequiredBuckets:  []string{"REV", "SALE_DS", "COGS_*", "GNA_*", "SEL_*", "R_D", "FIN_INC", "FIN_EXP", "OOI", "OOE", "TAX_INC"},
		ComponentBuckets: []string{"REV", "SALE_DS", "COGS_*", "GNA_*", "SEL_*", "R_D", "FIN_INC", "FIN_EXP", "OOI", "OOE", "TAX_INC"},
		Formula:          Formula{Terms: join(operatingIncomeTerms, plus("FIN_INC"), minus("FIN_EXP"), plus("OOI"), minus("OOE", "TAX_INC"))},
	},
	{
		Name:             ConceptOperatingIncome,
		Patterns:         rx(`\boperating (income|profit|earnings)\b`, `\bebit\b`),
		RequiredBuckets:  []string{"REV", "SALE_DS", "COGS_*", "GNA_*", "SEL_*", "R_D"},
		ComponentBuckets: []string{"REV", "SALE_DS", "COGS_*", "GNA_*", "SEL_*", "R_D"},
		Formula:          Formula{Terms: operatingIncomeTerms},
	},
	{
		Name:             ConceptGrossMargin,
		Patterns:         rx(`\bgross (margin|profit)\b`, `\bgm\b`),
		RequiredBuckets:  []string{"REV", "SALE_DS", "COGS_*"},
		ComponentBuckets: []string{"REV", "SALE_DS", "COGS_*"},
		Formula:          Formula{Terms: grossMarginTerms},
	},
	{
		Name:             ConceptOpex,
		Patterns:         rx(`\bopex\b`, `\boperating (expenses|costs)\b`),
		RequiredBuckets:  []string{"GNA_*", "SEL_*", "R_D"},
		ComponentBuckets: []string{"GNA_*", "SEL_*", "R_D"},
		Formula:          Formula{Terms: plus("GNA_*", "SEL_*", "R_D")},
	},
	{
		Name:             ConceptCOGS,
		Patterns:         rx(`\bcogs\b`, `\bcost of (goods( sold)?|sales)\b`),
		RequiredBuckets:  []string{"COGS_*"},
		ComponentBuckets: []string{"COGS_*"},
		Formula:          Formula{Terms: plus("COGS_*")},
	},
	{
		Name:             ConceptRevenue,
		Patterns:         rx(`\brevenues?\b`, `\b(net|gross) sales\b`, `\btop line\b`),
		RequiredBuckets:  []string{"REV", "SALE_DS"},
		ComponentBuckets: []string{"REV", "SALE_DS"},
		Formula:          Formula{Terms: join(plus("REV"), minus("SALE_DS"))},
	},
	{
		Name:     ConceptWorkingCapital,
		Patterns: rx(`\bworking capital\b`),
		Reserved: true,
	},
	{
		Name:     ConceptCashFlow,
		Patterns: rx(`\bcash ?flows?\b`),
		Reserved: true,
	},
}

// LookupConcept returns a concept by name.
func LookupConcept(name string) (Concept, bool) {
	for _, c := range concepts {
		if c.Name == name {
			return c, true
		}
	}
	return Concept{}, false
}

func matchBucket(pattern, bucket string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(bucket, prefix)
	}
	return pattern == bucket
}

// resolvePatterns expands wildcards against the tenant's bucket list,
// preserving pattern order and dropping duplicates.
func resolvePatterns(patterns, tenantBuckets []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range patterns {
		for _, b := range tenantBuckets {
			if matchBucket(p, b) && !seen[b] {
				seen[b] = true
				out = append(out, b)
			}
		}
	}
	return out
}
