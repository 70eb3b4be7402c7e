// Package hierarchy models the three-tier financial hierarchy: L1 metrics
// computed from L2 buckets, which group L3 GL accounts. A Hierarchy is built
// once (statically or per tenant) and is read-only afterwards.
package hierarchy

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-finsight/pkg/models"
	"github.com/ekaya-inc/ekaya-finsight/pkg/registry"
)

// Columns names the GL fact table columns formulas are written against.
type Columns struct {
	Account string
	Bucket  string
	Time    string
	Revenue string
	Amount  string
}

// Options controls SQL generation.
type Options struct {
	Columns Columns
	// Table is the fully qualified fact table reference.
	Table   string
	Dialect string
}

// DefaultOptions matches the default tenant's GL extract.
func DefaultOptions() Options {
	return Options{
		Columns: Columns{
			Account: "GL_Account",
			Bucket:  "bucket_code",
			Time:    "Posting_Date",
			Revenue: "Gross_Revenue",
			Amount:  "GL_Amount_in_CC",
		},
		Table:   "gl_transactions",
		Dialect: models.DialectBigQuery,
	}
}

// Hierarchy is the metric/bucket/account tree for one tenant.
type Hierarchy struct {
	clientID string
	opts     Options
	registry *registry.Registry
	logger   *zap.Logger

	metrics     map[string]*models.L1Metric
	metricOrder []string
	buckets     map[string]*models.L2Bucket
	bucketOrder []string
	components  map[string]string
	// overridden holds component SQL supplied by an overrides file.
	overridden map[string]string
}

// NewStatic builds the default hierarchy. Buckets resolve accounts by their
// default GL ranges.
func NewStatic(opts Options, logger *zap.Logger) *Hierarchy {
	h := &Hierarchy{
		opts:    opts,
		logger:  logger.Named("hierarchy"),
		metrics: make(map[string]*models.L1Metric),
		buckets: make(map[string]*models.L2Bucket),
	}
	for _, m := range defaultMetrics() {
		h.metrics[m.Code] = m
		h.metricOrder = append(h.metricOrder, m.Code)
	}
	sort.SliceStable(h.metricOrder, func(i, j int) bool {
		return h.metrics[h.metricOrder[i]].CalculationOrder < h.metrics[h.metricOrder[j]].CalculationOrder
	})
	for _, b := range defaultBuckets() {
		h.buckets[b.Code] = b
		h.bucketOrder = append(h.bucketOrder, b.Code)
	}
	h.regenerateFormulas()
	return h
}

// ClientID is empty for the static hierarchy.
func (h *Hierarchy) ClientID() string { return h.clientID }

// Options returns the SQL options in effect.
func (h *Hierarchy) Options() Options { return h.opts }

// Metrics returns L1 metrics in calculation order.
func (h *Hierarchy) Metrics() []*models.L1Metric {
	out := make([]*models.L1Metric, 0, len(h.metricOrder))
	for _, code := range h.metricOrder {
		out = append(out, h.metrics[code])
	}
	return out
}

// Buckets returns L2 buckets in declaration order.
func (h *Hierarchy) Buckets() []*models.L2Bucket {
	out := make([]*models.L2Bucket, 0, len(h.bucketOrder))
	for _, code := range h.bucketOrder {
		out = append(out, h.buckets[code])
	}
	return out
}

func (h *Hierarchy) Metric(code string) (*models.L1Metric, bool) {
	m, ok := h.metrics[strings.ToUpper(code)]
	return m, ok
}

func (h *Hierarchy) Bucket(code string) (*models.L2Bucket, bool) {
	b, ok := h.buckets[strings.ToUpper(code)]
	return b, ok
}

// GetMetricByName matches code, name or keyword case-insensitively.
func (h *Hierarchy) GetMetricByName(name string) (*models.L1Metric, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	for _, code := range h.metricOrder {
		m := h.metrics[code]
		if strings.ToLower(m.Code) == n || strings.ToLower(m.Name) == n {
			return m, true
		}
		for _, kw := range m.Keywords {
			if kw == n {
				return m, true
			}
		}
	}
	return nil, false
}

// GetBucketByName matches code or name case-insensitively.
func (h *Hierarchy) GetBucketByName(name string) (*models.L2Bucket, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	for _, code := range h.bucketOrder {
		b := h.buckets[code]
		if strings.ToLower(b.Code) == n || strings.ToLower(b.Name) == n {
			return b, true
		}
	}
	return nil, false
}

// GetGLAccountsForBucket returns the bucket's concrete accounts, sorted.
func (h *Hierarchy) GetGLAccountsForBucket(code string) []string {
	b, ok := h.Bucket(code)
	if !ok {
		return nil
	}
	out := append([]string(nil), b.GLAccounts...)
	sort.Strings(out)
	return out
}

// GetGLAccountsForMetric unions the accounts of the metric's buckets and of
// every metric it depends on.
func (h *Hierarchy) GetGLAccountsForMetric(code string) []string {
	m, ok := h.Metric(code)
	if !ok {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	collect := func(metric *models.L1Metric) {
		for _, bc := range metric.SubBuckets {
			for _, acct := range h.GetGLAccountsForBucket(bc) {
				if !seen[acct] {
					seen[acct] = true
					out = append(out, acct)
				}
			}
		}
	}
	for _, dep := range h.GetMetricDependencies(m.Code) {
		collect(h.metrics[dep])
	}
	collect(m)
	sort.Strings(out)
	return out
}

// GetMetricDependencies returns every metric with a lower calculation order, in order.
func (h *Hierarchy) GetMetricDependencies(code string) []string {
	m, ok := h.Metric(code)
	if !ok {
		return nil
	}
	var deps []string
	for _, c := range h.metricOrder {
		if h.metrics[c].CalculationOrder < m.CalculationOrder {
			deps = append(deps, c)
		}
	}
	return deps
}

// SearchGLAccounts searches the tenant's GL mapping. The static hierarchy has
// no account descriptions and returns nil.
func (h *Hierarchy) SearchGLAccounts(term string) []*models.GLAccountMapping {
	if h.registry == nil || h.clientID == "" {
		return nil
	}
	return h.registry.SearchGLAccounts(h.clientID, term)
}

// bucketForAccount returns the first bucket (in declaration order) holding account.
func (h *Hierarchy) bucketForAccount(account string) *models.L2Bucket {
	for _, code := range h.bucketOrder {
		b := h.buckets[code]
		for _, a := range b.GLAccounts {
			if a == account {
				return b
			}
		}
	}
	for _, code := range h.bucketOrder {
		b := h.buckets[code]
		if len(b.GLAccounts) > 0 {
			continue
		}
		for _, rg := range b.GLAccountRanges {
			if rg.Contains(account) {
				return b
			}
		}
	}
	return nil
}

// GetHierarchyPath locates an account in the tree. Unknown levels are left empty.
func (h *Hierarchy) GetHierarchyPath(account string) models.HierarchyPath {
	path := models.HierarchyPath{GLAccount: account}
	if h.registry != nil && h.clientID != "" {
		if m, ok := h.registry.GetGLAccount(h.clientID, account); ok {
			path.GLDescription = m.Description
		}
	}
	b := h.bucketForAccount(account)
	if b == nil {
		return path
	}
	path.L2Bucket = b.Code
	path.L2Name = b.Name
	if m, ok := h.metrics[b.ParentMetric]; ok {
		path.L1Metric = m.Code
		path.L1Name = m.Name
	}
	return path
}

// Describe renders a short text summary for prompts.
func (h *Hierarchy) Describe(code string) (string, error) {
	m, ok := h.Metric(code)
	if !ok {
		return "", fmt.Errorf("unknown metric %q", code)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s): %s\n", m.Name, m.Code, m.FormulaText)
	for _, bc := range m.SubBuckets {
		if bucket, ok := h.buckets[bc]; ok {
			fmt.Fprintf(&b, "  - %s (%s): %d accounts\n", bucket.Name, bucket.Code, len(bucket.GLAccounts))
		}
	}
	return b.String(), nil
}
