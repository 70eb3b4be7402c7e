// Package gladvisor maps a financial question onto the tenant's GL buckets
// and accounts: which concepts it names, which buckets must exist, and how
// to filter the ledger for it.
package gladvisor

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-finsight/pkg/hierarchy"
	"github.com/ekaya-inc/ekaya-finsight/pkg/models"
	"github.com/ekaya-inc/ekaya-finsight/pkg/registry"
	"github.com/ekaya-inc/ekaya-finsight/pkg/semantic"
	"github.com/ekaya-inc/ekaya-finsight/pkg/sqlsafe"
)

// MaxSuggestions caps suggestions per invalid account.
const MaxSuggestions = 5

const (
	QuestionTimePeriod = "What time period?"
	QuestionDimension  = "Group by any dimension?"
	QuestionMetric     = "Which financial metric or GL account should I use?"
)

var (
	eightDigitAccount = regexp.MustCompile(`\b\d{8}\b`)
	shortAccount      = regexp.MustCompile(`\b\d{4,6}\b`)
	calendarYear      = regexp.MustCompile(`^(19|20)\d{2}$`)
)

// Advisor is safe for concurrent use once constructed.
type Advisor struct {
	registry  *registry.Registry
	loader    hierarchy.ConfigLoader
	datasetID string
	parser    *semantic.Parser
	columns   hierarchy.Columns
	logger    *zap.Logger
}

func NewAdvisor(reg *registry.Registry, loader hierarchy.ConfigLoader, datasetID string, parser *semantic.Parser, columns hierarchy.Columns, logger *zap.Logger) *Advisor {
	if reg == nil {
		reg = registry.New(logger)
	}
	if parser == nil {
		parser = semantic.NewParser(nil, semantic.Options{}, logger)
	}
	return &Advisor{
		registry:  reg,
		loader:    loader,
		datasetID: datasetID,
		parser:    parser,
		columns:   columns,
		logger:    logger.Named("gladvisor"),
	}
}

// ensureMapping registers the tenant mapping on first use.
func (a *Advisor) ensureMapping(ctx context.Context, clientID string) bool {
	if a.registry.HasMappings(clientID) {
		return true
	}
	if a.loader == nil {
		return false
	}
	cfg, err := a.loader.Load(ctx, clientID, a.datasetID)
	if err != nil || cfg == nil || len(cfg.GLAccounts) == 0 {
		a.logger.Warn("GL mapping unavailable", zap.String("client_id", clientID), zap.Error(err))
		return false
	}
	a.registry.RegisterConfiguration(cfg)
	return true
}

func (a *Advisor) tenantBuckets(clientID string) []string {
	all := a.registry.GetAllBuckets(clientID)
	out := make([]string, 0, len(all))
	for id := range all {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Analyze builds the GL context for query. Problems are reported through
// the clarification fields rather than as errors.
func (a *Advisor) Analyze(ctx context.Context, query, clientID string) *models.GLQueryContext {
	glc := &models.GLQueryContext{
		Query:                  query,
		ClientID:               clientID,
		IdentifiedConcepts:     []string{},
		RequiredBuckets:        []string{},
		GLAccounts:             []string{},
		Dimensions:             []string{},
		ClarificationQuestions: []string{},
	}
	if !a.ensureMapping(ctx, clientID) {
		glc.ClarificationNeeded = true
		glc.ClarificationQuestions = append(glc.ClarificationQuestions,
			fmt.Sprintf("GL mapping not found for client %s. Please upload the GL account mapping.", clientID))
		return glc
	}

	glc.IdentifiedConcepts = identifyConcepts(query)
	glc.GLAccounts = a.extractAccounts(query, clientID)
	glc.TimePeriod = a.parser.ExtractTimePeriod(query)
	glc.Dimensions = a.parser.ExtractDimensions(query)
	glc.IsBreakdown = semantic.IsBreakdown(query)

	tenant := a.tenantBuckets(clientID)
	var reserved []string
	seen := make(map[string]bool)
	for _, name := range glc.IdentifiedConcepts {
		c, _ := LookupConcept(name)
		if c.Reserved {
			reserved = append(reserved, name)
			continue
		}
		buckets := c.RequiredBuckets
		if glc.IsBreakdown {
			buckets = resolvePatterns(c.ComponentBuckets, tenant)
		}
		for _, b := range buckets {
			if !seen[b] {
				seen[b] = true
				glc.RequiredBuckets = append(glc.RequiredBuckets, b)
			}
		}
	}

	if calc, ok := a.SuggestedCalculation(glc); ok {
		glc.SuggestedCalculation = calc
	}

	switch {
	case len(glc.IdentifiedConcepts) == 0 && len(glc.GLAccounts) == 0:
		glc.ClarificationNeeded = true
		glc.ClarificationQuestions = append(glc.ClarificationQuestions, QuestionMetric)
	case len(reserved) == len(glc.IdentifiedConcepts) && len(glc.GLAccounts) == 0:
		glc.ClarificationNeeded = true
		for _, r := range reserved {
			glc.ClarificationQuestions = append(glc.ClarificationQuestions,
				fmt.Sprintf("%s needs balance sheet data, which the GL mapping does not include. Should I use an income statement metric instead?",
					strings.ReplaceAll(r, "_", " ")))
		}
	}
	if glc.TimePeriod == nil {
		glc.ClarificationQuestions = append(glc.ClarificationQuestions, QuestionTimePeriod)
	}
	if len(glc.Dimensions) == 0 && len(glc.GLAccounts) == 0 && !glc.IsBreakdown {
		glc.ClarificationQuestions = append(glc.ClarificationQuestions, QuestionDimension)
	}

	a.logger.Debug("Analyzed financial question",
		zap.String("client_id", clientID),
		zap.Strings("concepts", glc.IdentifiedConcepts),
		zap.Strings("buckets", glc.RequiredBuckets),
		zap.Bool("clarification_needed", glc.ClarificationNeeded))
	return glc
}

func identifyConcepts(query string) []string {
	out := []string{}
	for _, c := range concepts {
		for _, p := range c.Patterns {
			if p.MatchString(query) {
				out = append(out, c.Name)
				break
			}
		}
	}
	return out
}

// extractAccounts uses the tenant's account width: 8-digit numbers for
// tenants with 8-digit charts, 4-6 digit numbers otherwise.
func (a *Advisor) extractAccounts(query, clientID string) []string {
	pattern := shortAccount
	if a.usesEightDigitAccounts(clientID) {
		pattern = eightDigitAccount
	}
	out := []string{}
	seen := make(map[string]bool)
	for _, m := range pattern.FindAllString(query, -1) {
		if calendarYear.MatchString(m) || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

func (a *Advisor) usesEightDigitAccounts(clientID string) bool {
	for _, b := range a.tenantBuckets(clientID) {
		if accts := a.registry.GetGLAccountsForBucket(clientID, b); len(accts) > 0 {
			return len(accts[0]) == 8
		}
	}
	return false
}

// SuggestedCalculation renders the primary concept's formula as SQL, with
// wildcards resolved against the tenant's concrete buckets.
func (a *Advisor) SuggestedCalculation(glc *models.GLQueryContext) (string, bool) {
	var primary *Concept
	for _, name := range glc.IdentifiedConcepts {
		if c, ok := LookupConcept(name); ok && !c.Reserved {
			primary = &c
			break
		}
	}
	if primary == nil {
		return "", false
	}

	tenant := a.tenantBuckets(glc.ClientID)
	var parts []string
	for i, t := range primary.Formula.Terms {
		buckets := resolvePatterns([]string{t.Pattern}, tenant)
		if len(buckets) == 0 {
			continue
		}
		var cond string
		if len(buckets) == 1 {
			cond = fmt.Sprintf("%s = %s", a.columns.Bucket, sqlsafe.QuoteLiteral(buckets[0]))
		} else {
			quoted := make([]string, len(buckets))
			for j, b := range buckets {
				quoted[j] = sqlsafe.QuoteLiteral(b)
			}
			cond = fmt.Sprintf("%s IN (%s)", a.columns.Bucket, strings.Join(quoted, ", "))
		}
		sum := fmt.Sprintf("SUM(CASE WHEN %s THEN %s ELSE 0 END)", cond, a.columns.Amount)
		switch {
		case t.Sign < 0:
			parts = append(parts, "- "+sum)
		case i == 0 || len(parts) == 0:
			parts = append(parts, sum)
		default:
			parts = append(parts, "+ "+sum)
		}
	}
	if len(parts) == 0 {
		return "", false
	}
	return fmt.Sprintf("%s AS %s", strings.Join(parts, " "), primary.Name), true
}

// ValidateFinancialQuery checks the context against the tenant mapping.
func (a *Advisor) ValidateFinancialQuery(glc *models.GLQueryContext) models.GLValidation {
	v := models.GLValidation{
		MissingBuckets:  []string{},
		InvalidAccounts: []string{},
		Suggestions:     make(map[string][]string),
	}
	tenant := a.tenantBuckets(glc.ClientID)
	for _, b := range glc.RequiredBuckets {
		if len(resolvePatterns([]string{b}, tenant)) == 0 {
			v.MissingBuckets = append(v.MissingBuckets, b)
		}
	}
	for _, acct := range glc.GLAccounts {
		if _, ok := a.registry.GetGLAccount(glc.ClientID, acct); ok {
			continue
		}
		v.InvalidAccounts = append(v.InvalidAccounts, acct)
		if s := a.similarAccounts(glc.ClientID, acct); len(s) > 0 {
			v.Suggestions[acct] = s
		}
	}
	v.Valid = len(v.MissingBuckets) == 0 && len(v.InvalidAccounts) == 0
	return v
}

// similarAccounts returns accounts sharing the longest available prefix of
// at least three digits.
func (a *Advisor) similarAccounts(clientID, account string) []string {
	for n := len(account) - 1; n >= 3; n-- {
		matches := a.registry.GetAccountsWithPrefix(clientID, account[:n])
		if len(matches) > 0 {
			if len(matches) > MaxSuggestions {
				matches = matches[:MaxSuggestions]
			}
			return matches
		}
	}
	return nil
}

// BuildGLFilter composes the WHERE predicate selecting the context's
// buckets and accounts. Wildcards become LIKE prefixes.
func (a *Advisor) BuildGLFilter(glc *models.GLQueryContext) string {
	var exact, likes []string
	for _, b := range glc.RequiredBuckets {
		if prefix, ok := strings.CutSuffix(b, "*"); ok {
			likes = append(likes, fmt.Sprintf("%s LIKE %s", a.columns.Bucket, sqlsafe.QuoteLiteral(prefix+"%")))
			continue
		}
		exact = append(exact, sqlsafe.QuoteLiteral(b))
	}

	var bucketParts []string
	if len(exact) > 0 {
		bucketParts = append(bucketParts, fmt.Sprintf("%s IN (%s)", a.columns.Bucket, strings.Join(exact, ", ")))
	}
	bucketParts = append(bucketParts, likes...)

	var clauses []string
	if len(bucketParts) > 0 {
		clauses = append(clauses, "("+strings.Join(bucketParts, " OR ")+")")
	}
	if len(glc.GLAccounts) > 0 {
		quoted := make([]string, len(glc.GLAccounts))
		for i, acct := range glc.GLAccounts {
			quoted[i] = sqlsafe.QuoteLiteral(acct)
		}
		clauses = append(clauses, fmt.Sprintf("%s IN (%s)", a.columns.Account, strings.Join(quoted, ", ")))
	}
	return strings.Join(clauses, " AND ")
}
